package relay

import "time"

// Budget bounds how far an envelope may travel (spec §3 Relay Envelope).
type Budget struct {
	MaxHops             int
	TTLUnixMs           int64
	CallBudgetRemaining int
}

// DefaultBudget mirrors the defaults applied when a publisher doesn't
// specify one.
func DefaultBudget() Budget {
	return Budget{
		MaxHops:             8,
		TTLUnixMs:           time.Now().Add(5 * time.Minute).UnixMilli(),
		CallBudgetRemaining: 32,
	}
}

// expired reports whether the budget can no longer be delivered against.
func (b Budget) expired(now time.Time) (bool, string) {
	if now.UnixMilli() > b.TTLUnixMs {
		return true, "ttl_expired"
	}
	if b.MaxHops <= 0 {
		return true, "hops_exhausted"
	}
	if b.CallBudgetRemaining < 0 {
		return true, "call_budget_exhausted"
	}
	return false, ""
}

// decremented returns the budget as seen by the next hop.
func (b Budget) decremented() Budget {
	b.MaxHops--
	b.CallBudgetRemaining--
	return b
}

// withDefaults fills TTLUnixMs/CallBudgetRemaining from DefaultBudget when
// the caller left them unset, so a partial Budget (e.g. just MaxHops) still
// gets the spec's "effective budget with defaults" instead of an instant
// ttl_expired/call_budget_exhausted dead-letter (spec §4.6.2 step 2).
// MaxHops is never defaulted: 0 is a meaningful caller value (an
// already-exhausted budget), not "unset".
func (b Budget) withDefaults() Budget {
	d := DefaultBudget()
	if b.TTLUnixMs <= 0 {
		b.TTLUnixMs = d.TTLUnixMs
	}
	if b.CallBudgetRemaining <= 0 {
		b.CallBudgetRemaining = d.CallBudgetRemaining
	}
	return b
}

// Envelope is the unit of delivery on the Relay bus (spec §3 Relay Envelope).
type Envelope struct {
	MessageID   string
	Subject     string
	From        string
	ReplyTo     string
	Payload     any
	TraceID     string
	ParentID    string
	CreatedAt   time.Time
	Budget      Budget
}
