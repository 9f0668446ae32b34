package ratelimit

// DefaultMaxSignalPayload is the maximum serialized size, in bytes, of a
// single relayed SignalEnvelope (spec §3).
const DefaultMaxSignalPayload = 65536

// PayloadGuard rejects any serialized envelope larger than Max bytes.
type PayloadGuard struct {
	Max int
}

// NewPayloadGuard creates a guard with the given maximum payload size.
func NewPayloadGuard(max int) PayloadGuard {
	return PayloadGuard{Max: max}
}

// Allow reports whether a serialized envelope of size n bytes passes the guard.
func (g PayloadGuard) Allow(n int) bool {
	return n <= g.Max
}
