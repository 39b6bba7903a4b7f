package advice

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ykvlv/astro-forecast-bot/internal/astro"
	"github.com/ykvlv/astro-forecast-bot/internal/domain"
	"github.com/ykvlv/astro-forecast-bot/internal/render"
	"github.com/ykvlv/astro-forecast-bot/internal/store"
)

type stubRenderer struct {
	calls   int32
	fail    bool
	lastReq render.Request
}

func (s *stubRenderer) Render(_ context.Context, req render.Request) (string, error) {
	atomic.AddInt32(&s.calls, 1)
	s.lastReq = req
	if s.fail {
		return "", render.ErrTimeout
	}
	return "Подожди до вечера, Луна на твоей стороне.", nil
}

func seedUser(t *testing.T, repo *store.Memory) *domain.User {
	t.Helper()
	bd := time.Date(1993, time.July, 12, 0, 0, 0, 0, time.UTC)
	u := &domain.User{ChatID: 11, BirthDate: &bd, TZ: "Europe/Moscow", NotifyOptIn: true}
	require.NoError(t, repo.UpsertUser(context.Background(), u))
	return u
}

func TestSubmit_WindowCycle(t *testing.T) {
	repo := store.NewMemory()
	rnd := &stubRenderer{}
	l := New(repo, astro.NewEphemeris(), rnd, zap.NewNop(), 24*time.Hour)
	u := seedUser(t, repo)

	t0 := time.Date(2025, time.May, 5, 9, 0, 0, 0, time.UTC)

	res, err := l.Submit(context.Background(), u, "Менять ли работу?", t0)
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.NotEmpty(t, res.Answer)

	// Second ask within the window is denied, with the remaining duration.
	fresh, err := repo.GetUserByChat(context.Background(), u.ChatID)
	require.NoError(t, err)
	res2, err := l.Submit(context.Background(), fresh, "А точно?", t0.Add(2*time.Hour))
	require.NoError(t, err)
	assert.False(t, res2.Accepted)
	assert.Equal(t, 22*time.Hour, res2.RetryAfter)

	// After the window elapses, a third ask is accepted again.
	fresh, err = repo.GetUserByChat(context.Background(), u.ChatID)
	require.NoError(t, err)
	res3, err := l.Submit(context.Background(), fresh, "Теперь можно?", t0.Add(25*time.Hour))
	require.NoError(t, err)
	assert.True(t, res3.Accepted)
	assert.EqualValues(t, 2, atomic.LoadInt32(&rnd.calls))
}

func TestSubmit_DenialMutatesNothing(t *testing.T) {
	repo := store.NewMemory()
	rnd := &stubRenderer{}
	l := New(repo, astro.NewEphemeris(), rnd, zap.NewNop(), 24*time.Hour)
	u := seedUser(t, repo)

	t0 := time.Date(2025, time.May, 5, 9, 0, 0, 0, time.UTC)
	_, err := l.Submit(context.Background(), u, "q1", t0)
	require.NoError(t, err)

	before, err := repo.GetUserByChat(context.Background(), u.ChatID)
	require.NoError(t, err)
	_, err = l.Submit(context.Background(), before, "q2", t0.Add(time.Hour))
	require.NoError(t, err)
	after, err := repo.GetUserByChat(context.Background(), u.ChatID)
	require.NoError(t, err)

	assert.Equal(t, before.AdviceEligibleAt, after.AdviceEligibleAt, "denial must not move the gate")
	assert.EqualValues(t, 1, atomic.LoadInt32(&rnd.calls))
}

func TestSubmit_RenderFailureConsumesWindow(t *testing.T) {
	repo := store.NewMemory()
	rnd := &stubRenderer{fail: true}
	l := New(repo, astro.NewEphemeris(), rnd, zap.NewNop(), 24*time.Hour)
	u := seedUser(t, repo)

	t0 := time.Date(2025, time.May, 5, 9, 0, 0, 0, time.UTC)
	res, err := l.Submit(context.Background(), u, "Вопрос", t0)
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Equal(t, render.DegradedAdvice(), res.Answer)

	req, ok := repo.Request(res.RequestID)
	require.True(t, ok)
	assert.Equal(t, domain.RequestFailed, req.Status)

	// No refund: the next ask inside the window is still denied.
	fresh, err := repo.GetUserByChat(context.Background(), u.ChatID)
	require.NoError(t, err)
	res2, err := l.Submit(context.Background(), fresh, "Ещё раз", t0.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, res2.Accepted)
}

func TestSubmit_ReducedContext(t *testing.T) {
	repo := store.NewMemory()
	rnd := &stubRenderer{}
	l := New(repo, astro.NewEphemeris(), rnd, zap.NewNop(), 24*time.Hour)
	u := seedUser(t, repo)

	_, err := l.Submit(context.Background(), u, "Вопрос", time.Date(2025, time.May, 5, 9, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, render.TemplateAdvice, rnd.lastReq.Template)
	assert.LessOrEqual(t, len(rnd.lastReq.Context.Signals), reducedSignals)
}

func TestSubmit_StaleGateConflictDenies(t *testing.T) {
	repo := store.NewMemory()
	rnd := &stubRenderer{}
	l := New(repo, astro.NewEphemeris(), rnd, zap.NewNop(), 24*time.Hour)
	u := seedUser(t, repo)

	t0 := time.Date(2025, time.May, 5, 9, 0, 0, 0, time.UTC)
	// A concurrent submit won the slot between our read and our CAS:
	// simulate by submitting with the stale profile snapshot.
	_, err := l.Submit(context.Background(), u, "первый", t0)
	require.NoError(t, err)

	res, err := l.Submit(context.Background(), u, "второй (гонка)", t0.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, res.Accepted, "the CAS loser must be denied, not double-charged")
	assert.EqualValues(t, 1, atomic.LoadInt32(&rnd.calls))
}
