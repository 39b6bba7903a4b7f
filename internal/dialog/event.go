// Package dialog is the per-user conversation controller: a pure
// transition function over (session, event, profile) that emits typed
// actions for the transport layer to execute. Nothing here reads the
// clock or touches storage, which keeps every flow deterministic under
// test.
package dialog

import "github.com/ykvlv/astro-forecast-bot/internal/domain"

// EventType classifies inbound events. Commands and callbacks are
// normalized by the transport before they reach the machine.
type EventType string

const (
	// EvText is free-form user text.
	EvText EventType = "text"
	// Commands.
	EvStart    EventType = "start"
	EvForecast EventType = "forecast"
	EvFull     EventType = "full"
	EvArchive  EventType = "archive"
	EvSOS      EventType = "sos"
	EvSettings EventType = "settings"
	EvHelp     EventType = "help"
	// Callbacks / external events.
	EvUnlock     EventType = "unlock"      // upsell button pressed
	EvPaymentOK  EventType = "payment_ok"  // external payment confirmation
	EvAddDetails EventType = "add_details" // settings: re-enter birth details
	EvOptToggle  EventType = "opt_toggle"  // settings: notifications on/off
	EvErase      EventType = "erase"       // settings: erase profile
	EvBack       EventType = "back"        // settings: leave sub-view
)

// Event is one typed input to the machine.
type Event struct {
	Type EventType
	Text string
}

// MsgID is a semantic message key; the transport maps it to localized text.
type MsgID string

const (
	MsgWelcome        MsgID = "welcome"
	MsgWelcomeBack    MsgID = "welcome_back"
	MsgInvalidDate    MsgID = "invalid_date"
	MsgDateOutOfRange MsgID = "date_out_of_range"
	MsgAskDetails     MsgID = "ask_details"
	MsgProfileSaved   MsgID = "profile_saved"
	MsgProfileApprox  MsgID = "profile_saved_approx"
	MsgNeedOnboarding MsgID = "need_onboarding"
	MsgAskQuestion    MsgID = "ask_question"
	MsgPaymentPending MsgID = "payment_pending"
	MsgUnlocked       MsgID = "unlocked"
	MsgSettings       MsgID = "settings"
	MsgErased         MsgID = "erased"
	MsgHelp           MsgID = "help"
	MsgUnknown        MsgID = "unknown"
)

// ActionType tags the side effects a transition requests.
type ActionType string

const (
	ActReply ActionType = "reply"
	// ActValidation is a reply that signals invalid input; exactly one
	// is emitted per rejected input and the state does not change.
	ActValidation        ActionType = "validation"
	ActSaveBirthDate     ActionType = "save_birth_date"
	ActSaveDetails       ActionType = "save_details"
	ActGenerate          ActionType = "generate"
	ActOfferUpsell       ActionType = "offer_upsell"
	ActEmitPaymentIntent ActionType = "emit_payment_intent"
	ActSubmitAdvice      ActionType = "submit_advice"
	ActShowArchive       ActionType = "show_archive"
	ActShowSettings      ActionType = "show_settings"
	ActToggleOptIn       ActionType = "toggle_opt_in"
	ActEraseProfile      ActionType = "erase_profile"
	ActGrantFull         ActionType = "grant_full"
)

// Action is one requested side effect, in emission order.
type Action struct {
	Type    ActionType
	Msg     MsgID
	Date    string // validated birth date, dd.mm.yyyy (ActSaveBirthDate)
	Details domain.BirthDetails
	Kind    domain.Kind
	Text    string // question text for ActSubmitAdvice
}
