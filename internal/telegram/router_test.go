package telegram

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ykvlv/astro-forecast-bot/internal/dialog"
	"github.com/ykvlv/astro-forecast-bot/internal/domain"
	"github.com/ykvlv/astro-forecast-bot/internal/entitlement"
)

func profileForChat(chatID int64) *domain.User {
	bd := time.Date(1995, time.April, 27, 0, 0, 0, 0, time.UTC)
	return &domain.User{ChatID: chatID, BirthDate: &bd, TZ: "Europe/Moscow"}
}

func countActions(acts []dialog.Action, t dialog.ActionType) int {
	n := 0
	for _, a := range acts {
		if a.Type == t {
			n++
		}
	}
	return n
}

func TestEffectiveProfile_TrialUserUnlocksWithoutPayment(t *testing.T) {
	checker := entitlement.NewStatic([]int64{42})
	u := profileForChat(42)
	s := domain.Session{ChatID: 42, State: domain.StateUpsellOffered}

	eff := effectiveProfile(context.Background(), checker, u)
	next, acts := dialog.Transition(s, dialog.Event{Type: dialog.EvUnlock}, eff)

	assert.Equal(t, domain.StateFullUnlocked, next.State)
	assert.Zero(t, countActions(acts, dialog.ActEmitPaymentIntent),
		"trial unlock must not emit a payment intent")
	assert.Equal(t, 1, countActions(acts, dialog.ActGenerate))
}

func TestEffectiveProfile_TrialCoversFullCommand(t *testing.T) {
	checker := entitlement.NewStatic([]int64{42})
	u := profileForChat(42)
	s := domain.Session{ChatID: 42, State: domain.StateReady}

	eff := effectiveProfile(context.Background(), checker, u)
	next, acts := dialog.Transition(s, dialog.Event{Type: dialog.EvFull}, eff)

	assert.Equal(t, domain.StateFullUnlocked, next.State)
	assert.Zero(t, countActions(acts, dialog.ActOfferUpsell))
}

func TestEffectiveProfile_NonTrialStillPays(t *testing.T) {
	checker := entitlement.NewStatic([]int64{42})
	u := profileForChat(7)
	s := domain.Session{ChatID: 7, State: domain.StateUpsellOffered}

	eff := effectiveProfile(context.Background(), checker, u)
	next, acts := dialog.Transition(s, dialog.Event{Type: dialog.EvUnlock}, eff)

	assert.Equal(t, domain.StateAwaitingPayment, next.State)
	assert.Equal(t, 1, countActions(acts, dialog.ActEmitPaymentIntent))
}

func TestEffectiveProfile_GrantStaysUnpersisted(t *testing.T) {
	checker := entitlement.NewStatic([]int64{42})
	u := profileForChat(42)

	eff := effectiveProfile(context.Background(), checker, u)

	require.NotSame(t, u, eff)
	assert.True(t, eff.Entitled(domain.FeatureFullForecast))
	assert.False(t, u.Entitled(domain.FeatureFullForecast),
		"the stored profile must not gain the trial entitlement")
}
