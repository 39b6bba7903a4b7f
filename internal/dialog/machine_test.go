package dialog

import (
	"testing"
	"time"

	"github.com/ykvlv/astro-forecast-bot/internal/domain"
)

func onboarded(entitled bool) *domain.User {
	bd := time.Date(1995, time.April, 27, 0, 0, 0, 0, time.UTC)
	u := &domain.User{ChatID: 1, BirthDate: &bd, TZ: "Europe/Moscow"}
	if entitled {
		u.Entitlements = map[domain.Feature]bool{domain.FeatureFullForecast: true}
	}
	return u
}

func run(s domain.Session, u *domain.User, evs ...Event) (domain.Session, []Action) {
	var acts []Action
	for _, ev := range evs {
		var a []Action
		s, a = Transition(s, ev, u)
		acts = append(acts, a...)
	}
	return s, acts
}

func countType(acts []Action, t ActionType) int {
	n := 0
	for _, a := range acts {
		if a.Type == t {
			n++
		}
	}
	return n
}

func TestTransition_OnboardingScenario(t *testing.T) {
	u := &domain.User{ChatID: 1}
	s := NewSession(1)

	s, acts := Transition(s, Event{Type: EvStart}, u)
	if s.State != domain.StateAwaitingBirthDate {
		t.Fatalf("want AwaitingBirthDate, got %s", s.State)
	}
	if len(acts) != 1 || acts[0].Msg != MsgWelcome {
		t.Fatalf("want welcome reply, got %+v", acts)
	}

	s, acts = Transition(s, Event{Type: EvText, Text: "27.04.1995"}, u)
	if s.State != domain.StateAwaitingDetails {
		t.Fatalf("want AwaitingDetails, got %s", s.State)
	}
	if countType(acts, ActSaveBirthDate) != 1 {
		t.Fatalf("want one SaveBirthDate, got %+v", acts)
	}
	if s.PendingBirthDate != "27.04.1995" {
		t.Fatalf("pending date not buffered: %q", s.PendingBirthDate)
	}

	// Skip time/city: defaults are applied, a short forecast generated.
	s, acts = Transition(s, Event{Type: EvText, Text: "Пропустить"}, u)
	if s.State != domain.StateReady {
		t.Fatalf("want Ready, got %s", s.State)
	}
	if countType(acts, ActSaveDetails) != 1 || countType(acts, ActGenerate) != 1 {
		t.Fatalf("want SaveDetails + Generate, got %+v", acts)
	}
	for _, a := range acts {
		if a.Type == ActSaveDetails && !a.Details.Skipped {
			t.Fatal("details must be marked skipped")
		}
		if a.Type == ActGenerate && a.Kind != domain.KindShort {
			t.Fatalf("want short kind, got %s", a.Kind)
		}
		if a.Type == ActReply && a.Msg != MsgProfileApprox {
			t.Fatalf("skip must announce approximate profile, got %s", a.Msg)
		}
	}
}

func TestTransition_InvalidDateKeepsStateOneSignal(t *testing.T) {
	u := &domain.User{ChatID: 1}
	s := domain.Session{ChatID: 1, State: domain.StateAwaitingBirthDate}

	next, acts := Transition(s, Event{Type: EvText, Text: "31.13.1999"}, u)
	if next.State != domain.StateAwaitingBirthDate {
		t.Fatalf("state must not change, got %s", next.State)
	}
	if countType(acts, ActValidation) != 1 || len(acts) != 1 {
		t.Fatalf("want exactly one validation signal, got %+v", acts)
	}

	next, acts = Transition(s, Event{Type: EvText, Text: "01.01.1850"}, u)
	if next.State != domain.StateAwaitingBirthDate || acts[0].Msg != MsgDateOutOfRange {
		t.Fatalf("out-of-range year must signal, got %s / %+v", next.State, acts)
	}
}

func TestTransition_Deterministic(t *testing.T) {
	seq := []Event{
		{Type: EvStart},
		{Type: EvText, Text: "12.07.1993"},
		{Type: EvText, Text: "08:30, Казань"},
		{Type: EvForecast},
		{Type: EvUnlock},
	}
	u1, u2 := &domain.User{ChatID: 1}, &domain.User{ChatID: 1}
	s1, _ := run(NewSession(1), u1, seq...)
	s2, _ := run(NewSession(1), u2, seq...)
	if s1.State != s2.State || s1.PendingBirthDate != s2.PendingBirthDate {
		t.Fatalf("same sequence must end in the same state: %+v vs %+v", s1, s2)
	}
}

func TestTransition_UpsellAndPayment(t *testing.T) {
	u := onboarded(false)
	s := domain.Session{ChatID: 1, State: domain.StateReady}

	s, acts := Transition(s, Event{Type: EvForecast}, u)
	if s.State != domain.StateUpsellOffered {
		t.Fatalf("want UpsellOffered, got %s", s.State)
	}
	if countType(acts, ActGenerate) != 1 || countType(acts, ActOfferUpsell) != 1 {
		t.Fatalf("forecast consumption must generate and offer upsell, got %+v", acts)
	}

	// Ungated unlock: payment intent, state holds until the callback.
	s, acts = Transition(s, Event{Type: EvUnlock}, u)
	if s.State != domain.StateAwaitingPayment {
		t.Fatalf("want AwaitingPayment, got %s", s.State)
	}
	if countType(acts, ActEmitPaymentIntent) != 1 {
		t.Fatalf("want payment intent, got %+v", acts)
	}

	s, acts = Transition(s, Event{Type: EvPaymentOK}, u)
	if s.State != domain.StateFullUnlocked {
		t.Fatalf("want FullUnlocked, got %s", s.State)
	}
	if countType(acts, ActGrantFull) != 1 || countType(acts, ActGenerate) != 1 {
		t.Fatalf("confirmation must grant and generate full, got %+v", acts)
	}
}

func TestTransition_EntitledUnlockSkipsPayment(t *testing.T) {
	u := onboarded(true)
	s := domain.Session{ChatID: 1, State: domain.StateUpsellOffered}

	s, acts := Transition(s, Event{Type: EvUnlock}, u)
	if s.State != domain.StateFullUnlocked {
		t.Fatalf("want FullUnlocked, got %s", s.State)
	}
	if countType(acts, ActEmitPaymentIntent) != 0 {
		t.Fatalf("entitled unlock must not emit a payment intent: %+v", acts)
	}
}

func TestTransition_StalePaymentCallbackIgnored(t *testing.T) {
	u := onboarded(false)
	s := domain.Session{ChatID: 1, State: domain.StateReady}

	next, acts := Transition(s, Event{Type: EvPaymentOK}, u)
	if next.State != domain.StateReady || len(acts) != 0 {
		t.Fatalf("stale callback must be ignored, got %s / %+v", next.State, acts)
	}
}

func TestTransition_EmergencyFlow(t *testing.T) {
	u := onboarded(false)
	s := domain.Session{ChatID: 1, State: domain.StateReady}

	s, _ = Transition(s, Event{Type: EvSOS}, u)
	if s.State != domain.StateEmergency {
		t.Fatalf("want Emergency, got %s", s.State)
	}
	s, acts := Transition(s, Event{Type: EvText, Text: "Менять ли работу?"}, u)
	if s.State != domain.StateReady {
		t.Fatalf("want Ready after question, got %s", s.State)
	}
	if len(acts) != 1 || acts[0].Type != ActSubmitAdvice || acts[0].Text != "Менять ли работу?" {
		t.Fatalf("want SubmitAdvice with question, got %+v", acts)
	}
}

func TestTransition_SettingsAddDetailsAfterSkip(t *testing.T) {
	u := onboarded(false)
	u.ApproximateBirth = true
	s := domain.Session{ChatID: 1, State: domain.StateReady}

	s, _ = Transition(s, Event{Type: EvSettings}, u)
	if s.State != domain.StateSettings {
		t.Fatalf("want Settings, got %s", s.State)
	}
	s, _ = Transition(s, Event{Type: EvAddDetails}, u)
	if s.State != domain.StateAwaitingDetails {
		t.Fatalf("standing option must reopen details, got %s", s.State)
	}
	s, acts := Transition(s, Event{Type: EvText, Text: "07:15, Самара"}, u)
	if s.State != domain.StateReady {
		t.Fatalf("want Ready, got %s", s.State)
	}
	if countType(acts, ActSaveDetails) != 1 {
		t.Fatalf("want SaveDetails, got %+v", acts)
	}
}

func TestTransition_EraseReturnsToStart(t *testing.T) {
	u := onboarded(false)
	s := domain.Session{ChatID: 1, State: domain.StateSettings}

	s, acts := Transition(s, Event{Type: EvErase}, u)
	if s.State != domain.StateStart {
		t.Fatalf("want Start after erasure, got %s", s.State)
	}
	if countType(acts, ActEraseProfile) != 1 {
		t.Fatalf("want EraseProfile, got %+v", acts)
	}
}
