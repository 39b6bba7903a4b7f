package domain

import (
	"time"

	"github.com/google/uuid"
)

// RequestStatus is the lifecycle of an emergency advice request.
type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestAnswered RequestStatus = "answered"
	RequestFailed   RequestStatus = "failed"
)

// EmergencyRequest is a one-off advice question. The eligibility window
// lives on the profile row (next_eligible_at) and is reserved before
// rendering, so a crash mid-render still consumes the slot.
type EmergencyRequest struct {
	ID       uuid.UUID
	UserID   uuid.UUID
	Question string
	Answer   string // empty until rendered
	Status   RequestStatus
	AskedAt  time.Time // UTC
	// NextEligibleAt records the gate value set when this request was
	// accepted, for audit; the live gate is the profile field.
	NextEligibleAt time.Time // UTC
}
