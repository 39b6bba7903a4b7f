package domain

import "time"

// DialogState is the conversation state tag. Start is initial; Ready
// and FullUnlocked are steady states revisited each session.
type DialogState string

const (
	StateStart             DialogState = "start"
	StateAwaitingBirthDate DialogState = "awaiting_birth_date"
	StateAwaitingDetails   DialogState = "awaiting_details"
	StateReady             DialogState = "ready"
	StateUpsellOffered     DialogState = "upsell_offered"
	StateAwaitingPayment   DialogState = "awaiting_payment"
	StateFullUnlocked      DialogState = "full_unlocked"
	// Sub-views reachable from Ready/FullUnlocked.
	StateEmergency DialogState = "emergency"
	StateSettings  DialogState = "settings"
)

// Session is the per-user conversation record. One active session per
// chat, overwritten on each transition; ephemeral, it can be
// reconstructed from the profile if lost.
type Session struct {
	ChatID int64
	State  DialogState
	// PendingBirthDate buffers the validated date between the birth-date
	// and details steps, before the profile is written.
	PendingBirthDate string
	LastTransition   time.Time // UTC
}

// SteadyState reports whether s is a state the forecast surface serves from.
func (s DialogState) SteadyState() bool {
	return s == StateReady || s == StateUpsellOffered ||
		s == StateAwaitingPayment || s == StateFullUnlocked
}
