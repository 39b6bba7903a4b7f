package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/ykvlv/astro-forecast-bot/internal/domain"
)

var (
	// ErrNotFound is returned for missing rows.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a conditional write loses a race on a
	// uniqueness key; the caller discards its result and re-reads the winner.
	ErrConflict = errors.New("conflict")
)

// Repo defines storage operations for profiles, sessions, artifacts,
// emergency requests and notification intents. All writes that guard a
// correctness invariant use conditional semantics (unique constraint or
// guarded UPDATE) rather than read-modify-write.
type Repo interface {
	// Profiles.
	UpsertUser(ctx context.Context, u *domain.User) error
	GetUserByChat(ctx context.Context, chatID int64) (*domain.User, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
	// ListActiveUsers pages through onboarded, opted-in, non-blocked
	// profiles with keyset pagination: pass the last page's highest chat
	// ID (0 to start); a short page ends the scan.
	ListActiveUsers(ctx context.Context, afterChatID int64, limit int) ([]domain.User, error)
	SetBlocked(ctx context.Context, chatID int64, blocked bool) error
	SetEntitlement(ctx context.Context, chatID int64, f domain.Feature, on bool) error
	// EraseUser tombstones the profile: PII columns are scrubbed and the
	// row is kept with the erased flag set. Never a hard delete.
	EraseUser(ctx context.Context, chatID int64) error

	// Sessions.
	GetSession(ctx context.Context, chatID int64) (*domain.Session, error)
	SaveSession(ctx context.Context, s *domain.Session) error

	// Artifacts. InsertArtifact returns ErrConflict when the
	// (user, kind, day) key already exists.
	InsertArtifact(ctx context.Context, a *domain.Artifact) error
	GetArtifact(ctx context.Context, userID uuid.UUID, kind domain.Kind, day domain.Day) (*domain.Artifact, error)
	ListArtifacts(ctx context.Context, userID uuid.UUID, limit int) ([]domain.Artifact, error)

	// Emergency advice. ReserveAdviceSlot performs the compare-and-swap
	// on the eligibility gate: it succeeds only if the stored gate still
	// matches prev (nil meaning never set) and is then moved to next.
	ReserveAdviceSlot(ctx context.Context, userID uuid.UUID, prev *time.Time, next time.Time) error
	CreateEmergencyRequest(ctx context.Context, r *domain.EmergencyRequest) error
	ResolveEmergencyRequest(ctx context.Context, id uuid.UUID, status domain.RequestStatus, answer string) error

	// Notification intents. InsertIntent returns ErrConflict when the
	// (user, type, day, attempt) key already exists.
	InsertIntent(ctx context.Context, it *domain.Intent) error
	ListDueIntents(ctx context.Context, now time.Time, limit int) ([]domain.Intent, error)
	MarkIntentSent(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkIntent(ctx context.Context, id uuid.UUID, status domain.IntentStatus) error

	Close() error
}
