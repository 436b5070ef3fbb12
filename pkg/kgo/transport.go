package kgo

import (
	"context"
	"crypto/tls"
	"net"

	"golang.org/x/net/proxy"
)

// DialFn dials one broker address, matching net.Dialer.DialContext's shape
// so a caller can drop in a *net.Dialer, a tls.Dialer, or a
// SOCKS5-proxying dialer (spec.md §4.2: "plain TCP, TLS-wrapped TCP, TCP
// via SOCKS5 ... a common connect-with-timeout"). The type is declared
// in config.go; it is the seam every concrete transport below composes
// with.

// TLSDialer wraps a base DialFn with a TLS handshake, mirroring the
// teacher's cfg.dialFn being swappable for a tls.Dialer.DialContext.
func TLSDialer(base DialFn, cfg *tls.Config) DialFn {
	if base == nil {
		base = (&net.Dialer{}).DialContext
	}
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := base(ctx, network, addr)
		if err != nil {
			return nil, err
		}
		tlsConn := tls.Client(conn, cfg)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, err
		}
		return tlsConn, nil
	}
}

// SOCKS5Proxy wraps a base DialFn so every broker connection is tunneled
// through a SOCKS5 proxy at proxyAddr, per spec.md §4.2's explicit mention
// of SOCKS5 transport and SPEC_FULL.md §12's transport.rs grounding. The
// underlying golang.org/x/net/proxy dialer has no context-aware Dial, so
// the handshake runs on a goroutine and respects ctx cancellation the same
// way brokerCxn.writeConn/readConn race a goroutine against ctx.Done().
func SOCKS5Proxy(proxyAddr string, auth *proxy.Auth, base DialFn) DialFn {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		var forward dialerFromDialFn
		if base != nil {
			forward = dialerFromDialFn{ctx: ctx, fn: base}
		}
		d, err := proxy.SOCKS5(network, proxyAddr, auth, forward)
		if err != nil {
			return nil, err
		}

		type result struct {
			conn net.Conn
			err  error
		}
		done := make(chan result, 1)
		go func() {
			conn, err := d.Dial(network, addr)
			done <- result{conn, err}
		}()

		select {
		case r := <-done:
			return r.conn, r.err
		case <-ctx.Done():
			// The SOCKS5 dial has no cancellation hook; we let it run to
			// completion in the background and close the connection if it
			// eventually succeeds, same spirit as the messenger's
			// deadline-based cancellation of in-flight reads/writes.
			go func() {
				if r := <-done; r.conn != nil {
					r.conn.Close()
				}
			}()
			return nil, ctx.Err()
		}
	}
}

// dialerFromDialFn adapts a context-aware DialFn to proxy.Dialer's
// synchronous Dial, binding the context of the dial call that created it.
type dialerFromDialFn struct {
	ctx context.Context
	fn  DialFn
}

func (d dialerFromDialFn) Dial(network, addr string) (net.Conn, error) {
	if d.fn == nil {
		return net.Dial(network, addr)
	}
	return d.fn(d.ctx, network, addr)
}
