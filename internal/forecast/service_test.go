package forecast

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ykvlv/astro-forecast-bot/internal/astro"
	"github.com/ykvlv/astro-forecast-bot/internal/domain"
	"github.com/ykvlv/astro-forecast-bot/internal/entitlement"
	"github.com/ykvlv/astro-forecast-bot/internal/render"
	"github.com/ykvlv/astro-forecast-bot/internal/store"
)

type memCache struct {
	mu sync.Mutex
	m  map[string]*domain.Artifact
}

func newMemCache() *memCache { return &memCache{m: make(map[string]*domain.Artifact)} }

func ckey(userID uuid.UUID, kind domain.Kind, day domain.Day) string {
	return fmt.Sprintf("%s/%s/%s", userID, kind, day)
}

func (c *memCache) GetArtifact(_ context.Context, userID uuid.UUID, kind domain.Kind, day domain.Day) (*domain.Artifact, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.m[ckey(userID, kind, day)]
	return a, ok, nil
}

func (c *memCache) SetArtifact(_ context.Context, a *domain.Artifact) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[ckey(a.UserID, a.Kind, a.Day)] = a
	return nil
}

type memLocks struct {
	mu   sync.Mutex
	held map[string]string
}

func newMemLocks() *memLocks { return &memLocks{held: make(map[string]string)} }

func (l *memLocks) AcquireLock(_ context.Context, userID uuid.UUID, kind domain.Kind, day domain.Day, _ time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := ckey(userID, kind, day)
	if _, taken := l.held[k]; taken {
		return "", false, nil
	}
	token := uuid.NewString()
	l.held[k] = token
	return token, true, nil
}

func (l *memLocks) ReleaseLock(_ context.Context, userID uuid.UUID, kind domain.Kind, day domain.Day, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := ckey(userID, kind, day)
	if l.held[k] == token {
		delete(l.held, k)
	}
	return nil
}

type fakeRenderer struct {
	calls int32
	delay time.Duration
	err   error
}

func (f *fakeRenderer) Render(ctx context.Context, req render.Request) (string, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.err != nil {
		return "", f.err
	}
	return "Сегодня Луна благоволит спокойным делам.", nil
}

func testUser(t *testing.T, repo store.Repo, entitled bool) *domain.User {
	t.Helper()
	bd := time.Date(1995, time.April, 27, 0, 0, 0, 0, time.UTC)
	u := &domain.User{
		ChatID:      42,
		Language:    "ru",
		BirthDate:   &bd,
		TZ:          "Europe/Moscow",
		NotifyOptIn: true,
	}
	if entitled {
		u.Entitlements = map[domain.Feature]bool{domain.FeatureFullForecast: true}
	}
	require.NoError(t, repo.UpsertUser(context.Background(), u))
	return u
}

func newService(repo store.Repo, r render.Renderer, opts Options) *Service {
	if opts.DefaultTZ == "" {
		opts.DefaultTZ = "Europe/Moscow"
	}
	return New(repo, newMemCache(), newMemLocks(), astro.NewEphemeris(), r,
		entitlement.NewStatic(nil), zap.NewNop(), opts)
}

func TestFetchOrGenerate_CacheHitShortCircuits(t *testing.T) {
	repo := store.NewMemory()
	rnd := &fakeRenderer{}
	svc := newService(repo, rnd, Options{})
	u := testUser(t, repo, false)
	now := time.Date(2025, time.May, 5, 10, 0, 0, 0, time.UTC)

	first, err := svc.FetchOrGenerate(context.Background(), u, domain.KindShort, now)
	require.NoError(t, err)
	require.False(t, first.Degraded)

	second, err := svc.FetchOrGenerate(context.Background(), u, domain.KindShort, now)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID, "same day must return the identical artifact")
	assert.EqualValues(t, 1, atomic.LoadInt32(&rnd.calls), "cache hit must not call the renderer")
	assert.True(t, first.CreatedAt.Equal(now), "artifact is stamped from the caller's clock")
}

func TestFetchOrGenerate_WaitTimeoutServesDegraded(t *testing.T) {
	repo := store.NewMemory()
	rnd := &fakeRenderer{delay: 500 * time.Millisecond}
	svc := newService(repo, rnd, Options{
		WaitTimeout:  50 * time.Millisecond,
		PollInterval: 10 * time.Millisecond,
	})
	u := testUser(t, repo, false)
	now := time.Date(2025, time.May, 5, 10, 0, 0, 0, time.UTC)

	holderDone := make(chan *domain.Artifact, 1)
	go func() {
		a, err := svc.FetchOrGenerate(context.Background(), u, domain.KindShort, now)
		if err != nil {
			holderDone <- nil
			return
		}
		holderDone <- a
	}()
	// Let the holder take the lock and sit in its slow render.
	time.Sleep(100 * time.Millisecond)

	loser, err := svc.FetchOrGenerate(context.Background(), u, domain.KindShort, now)
	require.NoError(t, err)
	assert.True(t, loser.Degraded, "a missed wait budget must serve the fallback")
	assert.NotEmpty(t, loser.Content.Short)
	assert.True(t, loser.CreatedAt.Equal(now))

	canonical := <-holderDone
	require.NotNil(t, canonical)
	assert.False(t, canonical.Degraded)

	day := domain.LocalDay(u, now, "Europe/Moscow")
	stored, err := repo.GetArtifact(context.Background(), u.ID, domain.KindShort, day)
	require.NoError(t, err)
	assert.Equal(t, canonical.ID, stored.ID, "the canonical slot still fills after the degraded serve")
}

func TestFetchOrGenerate_ConcurrentSingleGeneration(t *testing.T) {
	repo := store.NewMemory()
	rnd := &fakeRenderer{delay: 50 * time.Millisecond}
	svc := newService(repo, rnd, Options{
		WaitTimeout:  2 * time.Second,
		PollInterval: 5 * time.Millisecond,
	})
	u := testUser(t, repo, false)
	now := time.Date(2025, time.May, 5, 10, 0, 0, 0, time.UTC)

	const n = 8
	var wg sync.WaitGroup
	results := make([]*domain.Artifact, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.FetchOrGenerate(context.Background(), u, domain.KindShort, now)
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(&rnd.calls), "exactly one render under contention")
	var canonical uuid.UUID
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		require.NotNil(t, results[i])
		require.False(t, results[i].Degraded)
		if canonical == uuid.Nil {
			canonical = results[i].ID
		}
		assert.Equal(t, canonical, results[i].ID)
	}
}

func TestFetchOrGenerate_NewDayNewArtifact(t *testing.T) {
	repo := store.NewMemory()
	rnd := &fakeRenderer{}
	svc := newService(repo, rnd, Options{})
	u := testUser(t, repo, false)

	day1 := time.Date(2025, time.May, 5, 10, 0, 0, 0, time.UTC)
	day2 := day1.Add(24 * time.Hour)

	a1, err := svc.FetchOrGenerate(context.Background(), u, domain.KindShort, day1)
	require.NoError(t, err)
	a2, err := svc.FetchOrGenerate(context.Background(), u, domain.KindShort, day2)
	require.NoError(t, err)

	assert.NotEqual(t, a1.ID, a2.ID)
	assert.NotEqual(t, a1.Day, a2.Day)
	assert.EqualValues(t, 2, atomic.LoadInt32(&rnd.calls))
}

func TestFetchOrGenerate_FullWithoutEntitlement(t *testing.T) {
	repo := store.NewMemory()
	rnd := &fakeRenderer{}
	svc := newService(repo, rnd, Options{})
	u := testUser(t, repo, false)
	now := time.Date(2025, time.May, 5, 10, 0, 0, 0, time.UTC)

	_, err := svc.FetchOrGenerate(context.Background(), u, domain.KindFull, now)
	require.ErrorIs(t, err, ErrUnauthorized)
	assert.Zero(t, atomic.LoadInt32(&rnd.calls), "no generation attempt without entitlement")
}

func TestFetchOrGenerate_FullEntitledSplitsSections(t *testing.T) {
	repo := store.NewMemory()
	rnd := &fakeRenderer{}
	svc := newService(repo, rnd, Options{})
	u := testUser(t, repo, true)
	now := time.Date(2025, time.May, 5, 10, 0, 0, 0, time.UTC)

	a, err := svc.FetchOrGenerate(context.Background(), u, domain.KindFull, now)
	require.NoError(t, err)
	assert.Equal(t, domain.KindFull, a.Kind)
	assert.NotEmpty(t, a.Content.Sections)
}

func TestFetchOrGenerate_RenderFailureDegradesWithoutPersisting(t *testing.T) {
	repo := store.NewMemory()
	rnd := &fakeRenderer{err: render.ErrTimeout}
	svc := newService(repo, rnd, Options{})
	u := testUser(t, repo, false)
	now := time.Date(2025, time.May, 5, 10, 0, 0, 0, time.UTC)

	a, err := svc.FetchOrGenerate(context.Background(), u, domain.KindShort, now)
	require.NoError(t, err)
	assert.True(t, a.Degraded)
	assert.NotEmpty(t, a.Content.Short)
	assert.True(t, a.CreatedAt.Equal(now))

	// The canonical slot stays open: a later healthy call still generates.
	rnd.err = nil
	b, err := svc.FetchOrGenerate(context.Background(), u, domain.KindShort, now)
	require.NoError(t, err)
	assert.False(t, b.Degraded)
	assert.NotEqual(t, a.ID, b.ID)

	stored, err := repo.GetArtifact(context.Background(), u.ID, domain.KindShort, domain.LocalDay(u, now, "Europe/Moscow"))
	require.NoError(t, err)
	assert.Equal(t, b.ID, stored.ID, "only the canonical artifact is persisted")
}

func TestFetchOrGenerate_ConflictReReadsWinner(t *testing.T) {
	repo := store.NewMemory()
	rnd := &fakeRenderer{}
	svc := newService(repo, rnd, Options{})
	u := testUser(t, repo, false)
	now := time.Date(2025, time.May, 5, 10, 0, 0, 0, time.UTC)
	day := domain.LocalDay(u, now, "Europe/Moscow")

	// Another worker already persisted the day's artifact, but our cache
	// and lock state have not seen it (simulated by writing directly).
	winner := &domain.Artifact{
		ID: uuid.New(), UserID: u.ID, Kind: domain.KindShort, Day: day,
		Content: domain.Content{Short: "winner"}, CreatedAt: now,
	}
	require.NoError(t, repo.InsertArtifact(context.Background(), winner))

	got, err := svc.FetchOrGenerate(context.Background(), u, domain.KindShort, now)
	require.NoError(t, err)
	assert.Equal(t, winner.ID, got.ID)
	assert.Zero(t, atomic.LoadInt32(&rnd.calls), "store hit must short-circuit")
}

func TestFetchOrGenerate_NotOnboarded(t *testing.T) {
	repo := store.NewMemory()
	svc := newService(repo, &fakeRenderer{}, Options{})
	u := &domain.User{ChatID: 7}
	require.NoError(t, repo.UpsertUser(context.Background(), u))

	_, err := svc.FetchOrGenerate(context.Background(), u, domain.KindShort, time.Now())
	assert.Error(t, err)
	assert.False(t, errors.Is(err, ErrUnauthorized))
}
