package kmsg

// versioned is embedded by every request/response type in this package to
// provide the common version-pinning bookkeeping described in spec.md §3
// (each message type "implements versioned write"/"versioned read" plus
// static metadata).
type versioned struct{ version int16 }

func (v *versioned) GetVersion() int16  { return v.version }
func (v *versioned) SetVersion(n int16) { v.version = n }
