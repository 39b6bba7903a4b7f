package domain

import (
	"time"

	"github.com/google/uuid"
)

// IntentType is the class of an outbound notification intent.
type IntentType string

const (
	IntentDailyReminder  IntentType = "daily_reminder"
	IntentEventBroadcast IntentType = "event_broadcast"
	IntentStreakCheer    IntentType = "streak_cheer"
)

// IntentStatus tracks delivery. Terminal states are sent/skipped/failed;
// a failed intent may get a successor row (Attempt+1), history is never
// mutated.
type IntentStatus string

const (
	IntentScheduled IntentStatus = "scheduled"
	IntentSent      IntentStatus = "sent"
	IntentSkipped   IntentStatus = "skipped"
	IntentFailed    IntentStatus = "failed"
)

// Intent is a scheduled outbound notification.
// (UserID, Type, Day, Attempt) is unique, which makes scheduler sweeps
// idempotent: re-running a sweep re-evaluates the key instead of
// re-sending.
type Intent struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	ChatID      int64
	Type        IntentType
	Day         Day
	Payload     string
	Attempt     int
	Status      IntentStatus
	ScheduledAt time.Time // UTC
	SentAt      *time.Time
}

// MaxDeliveryAttempts bounds retry: the original send plus one retry.
const MaxDeliveryAttempts = 2
