package dialog

import (
	"errors"
	"time"

	"github.com/ykvlv/astro-forecast-bot/internal/domain"
)

// NewSession returns the initial session for a chat.
func NewSession(chatID int64) domain.Session {
	return domain.Session{ChatID: chatID, State: domain.StateStart}
}

// Transition is the pure conversation step: given the current session,
// one event and the profile, it returns the next session and the
// actions to execute. It never touches the clock or storage; the
// transport stamps LastTransition when persisting. Unknown or stale
// events leave the session unchanged with no actions (the caller logs
// them).
func Transition(s domain.Session, ev Event, u *domain.User) (domain.Session, []Action) {
	// Global events handled identically everywhere.
	switch ev.Type {
	case EvHelp:
		return s, []Action{{Type: ActReply, Msg: MsgHelp}}
	case EvStart:
		return onStart(s, u)
	}

	switch s.State {
	case domain.StateStart:
		return onStart(s, u)
	case domain.StateAwaitingBirthDate:
		return awaitingBirthDate(s, ev)
	case domain.StateAwaitingDetails:
		return awaitingDetails(s, ev, u)
	case domain.StateReady, domain.StateFullUnlocked:
		return steady(s, ev, u)
	case domain.StateUpsellOffered:
		return upsellOffered(s, ev, u)
	case domain.StateAwaitingPayment:
		return awaitingPayment(s, ev, u)
	case domain.StateEmergency:
		return emergency(s, ev, u)
	case domain.StateSettings:
		return settings(s, ev, u)
	}
	return s, nil
}

// onStart routes /start (and any input in the initial state): an
// onboarded profile goes straight to its steady state with a fresh
// short forecast; a new one enters onboarding.
func onStart(s domain.Session, u *domain.User) (domain.Session, []Action) {
	if u.Onboarded() {
		s.State = steadyState(u)
		return s, []Action{
			{Type: ActReply, Msg: MsgWelcomeBack},
			{Type: ActGenerate, Kind: domain.KindShort},
		}
	}
	s.State = domain.StateAwaitingBirthDate
	s.PendingBirthDate = ""
	return s, []Action{{Type: ActReply, Msg: MsgWelcome}}
}

// awaitingBirthDate accepts a valid dd.mm.yyyy within the allowed year
// range. Anything else re-enters the same state with exactly one
// validation signal; invalid input never changes state.
func awaitingBirthDate(s domain.Session, ev Event) (domain.Session, []Action) {
	if ev.Type != EvText {
		return s, nil
	}
	if _, err := domain.ParseBirthDate(ev.Text); err != nil {
		msg := MsgInvalidDate
		if errors.Is(err, domain.ErrDateOutOfRange) {
			msg = MsgDateOutOfRange
		}
		return s, []Action{{Type: ActValidation, Msg: msg}}
	}
	s.State = domain.StateAwaitingDetails
	s.PendingBirthDate = ev.Text
	return s, []Action{
		{Type: ActSaveBirthDate, Date: ev.Text},
		{Type: ActReply, Msg: MsgAskDetails},
	}
}

// awaitingDetails accepts time+place, a partial pair, or a skip. A skip
// substitutes the default time and timezone; the artifacts generated
// from defaults are tagged approximate downstream.
func awaitingDetails(s domain.Session, ev Event, u *domain.User) (domain.Session, []Action) {
	if ev.Type != EvText {
		return s, nil
	}
	details := domain.ParseBirthDetails(ev.Text)
	msg := MsgProfileSaved
	if details.Skipped || details.Minutes == nil {
		msg = MsgProfileApprox
	}
	s.State = steadyState(u)
	s.PendingBirthDate = ""
	return s, []Action{
		{Type: ActSaveDetails, Details: details},
		{Type: ActReply, Msg: msg},
		{Type: ActGenerate, Kind: domain.KindShort},
	}
}

// steady serves Ready and FullUnlocked.
func steady(s domain.Session, ev Event, u *domain.User) (domain.Session, []Action) {
	switch ev.Type {
	case EvForecast:
		if s.State == domain.StateFullUnlocked {
			return s, []Action{{Type: ActGenerate, Kind: domain.KindShort}}
		}
		// Consuming the short forecast opens the upsell.
		s.State = domain.StateUpsellOffered
		return s, []Action{
			{Type: ActGenerate, Kind: domain.KindShort},
			{Type: ActOfferUpsell},
		}
	case EvFull:
		if u.Entitled(domain.FeatureFullForecast) {
			s.State = domain.StateFullUnlocked
			return s, []Action{{Type: ActGenerate, Kind: domain.KindFull}}
		}
		s.State = domain.StateUpsellOffered
		return s, []Action{{Type: ActOfferUpsell}}
	case EvArchive:
		return s, []Action{{Type: ActShowArchive}}
	case EvSOS:
		s.State = domain.StateEmergency
		return s, []Action{{Type: ActReply, Msg: MsgAskQuestion}}
	case EvSettings:
		s.State = domain.StateSettings
		return s, []Action{{Type: ActShowSettings}}
	case EvText:
		// Free text in a steady state is treated as a forecast ask.
		return steady(s, Event{Type: EvForecast}, u)
	}
	return s, nil
}

// upsellOffered gates the unlock on the entitlement; without it the
// machine emits a payment intent and waits for the external callback.
func upsellOffered(s domain.Session, ev Event, u *domain.User) (domain.Session, []Action) {
	switch ev.Type {
	case EvUnlock:
		if u.Entitled(domain.FeatureFullForecast) {
			s.State = domain.StateFullUnlocked
			return s, []Action{
				{Type: ActReply, Msg: MsgUnlocked},
				{Type: ActGenerate, Kind: domain.KindFull},
			}
		}
		s.State = domain.StateAwaitingPayment
		return s, []Action{
			{Type: ActEmitPaymentIntent},
			{Type: ActReply, Msg: MsgPaymentPending},
		}
	case EvPaymentOK:
		return paymentConfirmed(s)
	case EvForecast, EvFull, EvArchive, EvSOS, EvSettings, EvText:
		// The offer is not a trap: normal traffic flows as from Ready.
		s.State = domain.StateReady
		return steady(s, ev, u)
	}
	return s, nil
}

// awaitingPayment waits for the external confirmation event. The user
// can keep using free features; the offer stands.
func awaitingPayment(s domain.Session, ev Event, u *domain.User) (domain.Session, []Action) {
	switch ev.Type {
	case EvPaymentOK:
		return paymentConfirmed(s)
	case EvForecast, EvArchive, EvSOS, EvSettings:
		// Serve free features without abandoning the pending payment.
		kept := s.State
		next, acts := steady(withState(s, domain.StateReady), ev, u)
		if next.State == domain.StateReady || next.State == domain.StateUpsellOffered {
			next.State = kept
		}
		return next, acts
	}
	return s, nil
}

func paymentConfirmed(s domain.Session) (domain.Session, []Action) {
	s.State = domain.StateFullUnlocked
	return s, []Action{
		{Type: ActGrantFull},
		{Type: ActReply, Msg: MsgUnlocked},
		{Type: ActGenerate, Kind: domain.KindFull},
	}
}

// emergency collects the question text and returns to the steady state.
func emergency(s domain.Session, ev Event, u *domain.User) (domain.Session, []Action) {
	switch ev.Type {
	case EvText:
		s.State = steadyState(u)
		return s, []Action{{Type: ActSubmitAdvice, Text: ev.Text}}
	case EvBack:
		s.State = steadyState(u)
		return s, nil
	}
	return s, nil
}

// settings handles the standing options, including the permanent offer
// to add birth details after an earlier skip.
func settings(s domain.Session, ev Event, u *domain.User) (domain.Session, []Action) {
	switch ev.Type {
	case EvAddDetails:
		s.State = domain.StateAwaitingDetails
		return s, []Action{{Type: ActReply, Msg: MsgAskDetails}}
	case EvOptToggle:
		return s, []Action{{Type: ActToggleOptIn}, {Type: ActShowSettings}}
	case EvErase:
		s.State = domain.StateStart
		return s, []Action{
			{Type: ActEraseProfile},
			{Type: ActReply, Msg: MsgErased},
		}
	case EvBack:
		s.State = steadyState(u)
		return s, nil
	}
	return s, nil
}

// steadyState picks the steady state the profile deserves.
func steadyState(u *domain.User) domain.DialogState {
	if u.Entitled(domain.FeatureFullForecast) {
		return domain.StateFullUnlocked
	}
	return domain.StateReady
}

func withState(s domain.Session, st domain.DialogState) domain.Session {
	s.State = st
	return s
}

// Touch stamps the transition time; the transport calls it right before
// persisting, keeping Transition itself clock-free.
func Touch(s domain.Session, now time.Time) domain.Session {
	s.LastTransition = now.UTC()
	return s
}
