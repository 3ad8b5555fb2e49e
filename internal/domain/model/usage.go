package model

// CounterScope distinguishes the device-scoped guest counter from the
// per-identity free-tier counter.
type CounterScope string

const (
	ScopeAnonymous CounterScope = "anonymous"
	ScopeIdentity  CounterScope = "identity"
)

// UsageCounter is entitlement bookkeeping for one scope. Count only ever
// grows; resets come from external events (guest sign-out), never from the
// gate itself.
type UsageCounter struct {
	Scope CounterScope `json:"scope"`
	Key   string       `json:"key"`
	Count int          `json:"count"`
	Limit int          `json:"limit"`
}

func (c UsageCounter) Exhausted() bool { return c.Count >= c.Limit }
