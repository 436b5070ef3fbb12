package kgo

import (
	"context"
	"errors"
	"time"

	"github.com/twmb/kgocore/pkg/kerr"
)

// Throttle is the broker-authoritative pause duration carried through the
// retry path as a typed duration rather than a bare int32 millis, per
// SPEC_FULL.md §12 (grounded on original_source/src/throttle.rs).
type Throttle time.Duration

// Duration returns t as a time.Duration.
func (t Throttle) Duration() time.Duration { return time.Duration(t) }

// Attempt is the result of one try of a retryable operation, fed to Retry.
// Generation is the cache generation this attempt observed, used to scope
// an invalidation to the cache state that produced the failure (spec.md
// §3's generation invariant: "a concurrent invalidation for an older
// generation is a no-op").
type Attempt[T any] struct {
	Value      T
	Generation int64
	Throttle   Throttle
	Err        error
}

// isConnectionBroken reports whether err means the messenger/connection is
// unusable and must be redialed, per spec.md §7's "Connection" and
// "Messenger poisoned" error kinds.
func isConnectionBroken(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrConnDead) || errors.Is(err, ErrBrokerDead) || errors.Is(err, ErrNoDial) || errors.Is(err, ErrCorrelationIDMismatch) {
		return true
	}
	var large *ErrLargeRespSize
	var unknown *ErrUnknownBroker
	return errors.As(err, &large) || errors.As(err, &unknown)
}

// isRedirect reports whether err is a broker error meaning "you asked the
// wrong broker," per spec.md §7's "Recoverable via redirect" kind. This
// also covers the partition client's leader-lookup triggers from spec.md
// §4.7 (NotLeaderOrFollower, LeaderNotAvailable, UnknownTopicOrPartition,
// FencedLeaderEpoch): all of them are handled identically — invalidate the
// relevant cache entry, refresh, and retry.
func isRedirect(err error) bool {
	var e *kerr.Error
	if !errors.As(err, &e) {
		return false
	}
	switch e {
	case kerr.NotController,
		kerr.NotCoordinator,
		kerr.NotLeaderOrFollower,
		kerr.CoordinatorNotAvailable,
		kerr.LeaderNotAvailable,
		kerr.UnknownTopicOrPartition,
		kerr.FencedLeaderEpoch:
		return true
	}
	return false
}

// RetryPolicy bounds a retry controller's exponential backoff and
// iteration count, per spec.md §4.5.
type RetryPolicy struct {
	BackoffMin time.Duration
	BackoffMax time.Duration
	MaxTries   int
}

func (cl *Client) retryPolicy() RetryPolicy {
	return RetryPolicy{
		BackoffMin: cl.cfg.retryBackoffMin,
		BackoffMax: cl.cfg.retryBackoffMax,
		MaxTries:   cl.cfg.retryMaxTries,
	}
}

// Retry drives try until it succeeds, is classified fatal, or the policy's
// iteration budget is exhausted, per spec.md §4.5's retry/throttle
// controller:
//
//   - Success -> return the value.
//   - connection-broken or redirect -> invalidate(reason, generation),
//     sleep on exponential backoff, retry.
//   - Throttle -> sleep the exact duration, retry without counting
//     against the backoff budget (the broker is authoritative on
//     duration, not the client's backoff curve).
//   - anything else -> fatal, returned immediately, cache untouched.
func Retry[T any](ctx context.Context, policy RetryPolicy, invalidate func(reason string, generation int64), try func(ctx context.Context) Attempt[T]) (T, error) {
	var zero T
	backoff := policy.BackoffMin
	if backoff <= 0 {
		backoff = 100 * time.Millisecond
	}
	tries := 0
	for {
		a := try(ctx)

		if a.Throttle > 0 {
			if !sleepCtx(ctx, a.Throttle.Duration()) {
				return zero, ctx.Err()
			}
			continue
		}

		if a.Err == nil {
			return a.Value, nil
		}

		var reason string
		switch {
		case isConnectionBroken(a.Err):
			reason = "connection broken"
		case isRedirect(a.Err):
			reason = "redirect"
		default:
			return zero, a.Err
		}

		invalidate(reason, a.Generation)

		tries++
		if policy.MaxTries > 0 && tries >= policy.MaxTries {
			return zero, &ErrRetriesExhausted{Tries: tries, Last: a.Err}
		}
		if !sleepCtx(ctx, backoff) {
			return zero, ctx.Err()
		}
		backoff *= 2
		if policy.BackoffMax > 0 && backoff > policy.BackoffMax {
			backoff = policy.BackoffMax
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
