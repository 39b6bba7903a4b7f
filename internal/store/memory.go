package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ykvlv/astro-forecast-bot/internal/domain"
)

// Memory is an in-memory Repo used by tests and local experiments. It
// honors the same conditional-write semantics as the SQLite repo:
// uniqueness keys return ErrConflict, the advice gate is CAS-guarded.
type Memory struct {
	mu        sync.Mutex
	users     map[int64]*domain.User // by chat ID
	sessions  map[int64]*domain.Session
	artifacts map[artifactKey]*domain.Artifact
	requests  map[uuid.UUID]*domain.EmergencyRequest
	intents   map[intentKey]*domain.Intent
}

type artifactKey struct {
	userID uuid.UUID
	kind   domain.Kind
	day    domain.Day
}

type intentKey struct {
	userID  uuid.UUID
	typ     domain.IntentType
	day     domain.Day
	attempt int
}

// NewMemory returns an empty in-memory repository.
func NewMemory() *Memory {
	return &Memory{
		users:     make(map[int64]*domain.User),
		sessions:  make(map[int64]*domain.Session),
		artifacts: make(map[artifactKey]*domain.Artifact),
		requests:  make(map[uuid.UUID]*domain.EmergencyRequest),
		intents:   make(map[intentKey]*domain.Intent),
	}
}

func copyUser(u *domain.User) *domain.User {
	cp := *u
	if u.Entitlements != nil {
		cp.Entitlements = make(map[domain.Feature]bool, len(u.Entitlements))
		for k, v := range u.Entitlements {
			cp.Entitlements[k] = v
		}
	}
	return &cp
}

func (m *Memory) UpsertUser(_ context.Context, u *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	m.users[u.ChatID] = copyUser(u)
	return nil
}

func (m *Memory) GetUserByChat(_ context.Context, chatID int64) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[chatID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyUser(u), nil
}

func (m *Memory) GetUserByID(_ context.Context, id uuid.UUID) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.ID == id {
			return copyUser(u), nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) ListActiveUsers(_ context.Context, afterChatID int64, limit int) ([]domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []domain.User
	for _, u := range m.users {
		if u.ChatID > afterChatID && u.NotifyOptIn && !u.Blocked && !u.Erased && u.BirthDate != nil {
			res = append(res, *copyUser(u))
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ChatID < res[j].ChatID })
	if len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

func (m *Memory) SetBlocked(_ context.Context, chatID int64, blocked bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[chatID]
	if !ok {
		return ErrNotFound
	}
	u.Blocked = blocked
	return nil
}

func (m *Memory) SetEntitlement(_ context.Context, chatID int64, f domain.Feature, on bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[chatID]
	if !ok {
		return ErrNotFound
	}
	if u.Entitlements == nil {
		u.Entitlements = make(map[domain.Feature]bool)
	}
	if on {
		u.Entitlements[f] = true
	} else {
		delete(u.Entitlements, f)
	}
	return nil
}

func (m *Memory) EraseUser(_ context.Context, chatID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[chatID]
	if !ok {
		return ErrNotFound
	}
	u.FirstName, u.LastName, u.Username = "", "", ""
	u.BirthDate, u.BirthTime, u.BirthPlace = nil, nil, ""
	u.NotifyOptIn = false
	u.Erased = true
	return nil
}

func (m *Memory) GetSession(_ context.Context, chatID int64) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[chatID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *Memory) SaveSession(_ context.Context, s *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.sessions[s.ChatID] = &cp
	return nil
}

func (m *Memory) InsertArtifact(_ context.Context, a *domain.Artifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := artifactKey{a.UserID, a.Kind, a.Day}
	if _, exists := m.artifacts[k]; exists {
		return ErrConflict
	}
	cp := *a
	m.artifacts[k] = &cp
	return nil
}

func (m *Memory) GetArtifact(_ context.Context, userID uuid.UUID, kind domain.Kind, day domain.Day) (*domain.Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.artifacts[artifactKey{userID, kind, day}]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *Memory) ListArtifacts(_ context.Context, userID uuid.UUID, limit int) ([]domain.Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []domain.Artifact
	for _, a := range m.artifacts {
		if a.UserID == userID {
			res = append(res, *a)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].Day != res[j].Day {
			return res[i].Day > res[j].Day
		}
		return res[i].Kind < res[j].Kind
	})
	if len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

func (m *Memory) ReserveAdviceSlot(_ context.Context, userID uuid.UUID, prev *time.Time, next time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.ID != userID {
			continue
		}
		stored, want := u.AdviceEligibleAt, prev
		same := (stored == nil && want == nil) ||
			(stored != nil && want != nil && stored.Equal(*want))
		if !same {
			return ErrConflict
		}
		n := next.UTC()
		u.AdviceEligibleAt = &n
		return nil
	}
	return ErrNotFound
}

func (m *Memory) CreateEmergencyRequest(_ context.Context, r *domain.EmergencyRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.requests[r.ID] = &cp
	return nil
}

func (m *Memory) ResolveEmergencyRequest(_ context.Context, id uuid.UUID, status domain.RequestStatus, answer string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return ErrNotFound
	}
	r.Status = status
	r.Answer = answer
	return nil
}

// Request returns a stored emergency request, for test assertions.
func (m *Memory) Request(id uuid.UUID) (*domain.EmergencyRequest, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, false
	}
	cp := *r
	return &cp, true
}

func (m *Memory) InsertIntent(_ context.Context, it *domain.Intent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := intentKey{it.UserID, it.Type, it.Day, it.Attempt}
	if _, exists := m.intents[k]; exists {
		return ErrConflict
	}
	cp := *it
	m.intents[k] = &cp
	return nil
}

func (m *Memory) ListDueIntents(_ context.Context, now time.Time, limit int) ([]domain.Intent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []domain.Intent
	for _, it := range m.intents {
		if it.Status == domain.IntentScheduled && !it.ScheduledAt.After(now) {
			res = append(res, *it)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ScheduledAt.Before(res[j].ScheduledAt) })
	if len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

func (m *Memory) MarkIntentSent(_ context.Context, id uuid.UUID, at time.Time) error {
	return m.markIntent(id, domain.IntentSent, &at)
}

func (m *Memory) MarkIntent(_ context.Context, id uuid.UUID, status domain.IntentStatus) error {
	return m.markIntent(id, status, nil)
}

func (m *Memory) markIntent(id uuid.UUID, status domain.IntentStatus, at *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range m.intents {
		if it.ID == id {
			it.Status = status
			if at != nil {
				t := at.UTC()
				it.SentAt = &t
			}
			return nil
		}
	}
	return ErrNotFound
}

// Intents returns all stored intents, for test assertions.
func (m *Memory) Intents() []domain.Intent {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := make([]domain.Intent, 0, len(m.intents))
	for _, it := range m.intents {
		res = append(res, *it)
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].ChatID != res[j].ChatID {
			return res[i].ChatID < res[j].ChatID
		}
		if res[i].Type != res[j].Type {
			return res[i].Type < res[j].Type
		}
		return res[i].Attempt < res[j].Attempt
	})
	return res
}

func (m *Memory) Close() error { return nil }
