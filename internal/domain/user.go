package domain

import (
	"time"

	"github.com/google/uuid"
)

// Feature is an entitlement key consulted before premium operations.
type Feature string

const (
	// FeatureFullForecast gates kind=full generation and the FullUnlocked state.
	FeatureFullForecast Feature = "full_forecast"
)

// User is a subscriber profile keyed by Telegram chat.
// Birth fields are optional until onboarding completes; a skipped
// time/place is substituted with defaults and ApproximateBirth is set.
type User struct {
	ID         uuid.UUID
	ChatID     int64
	FirstName  string
	LastName   string
	Username   string
	Language   string
	BirthDate  *time.Time // date component only, UTC midnight
	BirthTime  *int       // minutes since midnight (0..1439)
	BirthPlace string
	TZ         string // IANA location name
	// ApproximateBirth marks profiles whose time/place were defaulted;
	// artifacts generated from them carry the same flag.
	ApproximateBirth bool
	NotifyOptIn      bool
	Blocked          bool
	Erased           bool
	Entitlements     map[Feature]bool
	// AdviceEligibleAt is the emergency-advice gate: requests before
	// this instant are denied. Nil means never asked.
	AdviceEligibleAt *time.Time // UTC, nullable
	LastSeenAt       *time.Time // UTC, nullable
	CreatedAt        time.Time  // UTC
}

// Onboarded reports whether the profile can back forecast generation.
func (u *User) Onboarded() bool {
	return u != nil && !u.Erased && u.BirthDate != nil
}

// Entitled reports whether the profile carries the given entitlement.
func (u *User) Entitled(f Feature) bool {
	return u != nil && u.Entitlements[f]
}
