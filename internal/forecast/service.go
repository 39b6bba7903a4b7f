// Package forecast implements the cache-and-generate pipeline: at most
// one canonical artifact per (user, kind, local day), at most one
// concurrent generation per key, and a degraded fallback when the
// generation path misses its budget.
package forecast

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ykvlv/astro-forecast-bot/internal/astro"
	"github.com/ykvlv/astro-forecast-bot/internal/domain"
	"github.com/ykvlv/astro-forecast-bot/internal/entitlement"
	"github.com/ykvlv/astro-forecast-bot/internal/metrics"
	"github.com/ykvlv/astro-forecast-bot/internal/render"
	"github.com/ykvlv/astro-forecast-bot/internal/store"
)

// ErrUnauthorized is returned for kind=full without entitlement, before
// any generation attempt.
var ErrUnauthorized = errors.New("unauthorized")

// ArtifactCache is the fast day-cache in front of the durable store.
type ArtifactCache interface {
	GetArtifact(ctx context.Context, userID uuid.UUID, kind domain.Kind, day domain.Day) (*domain.Artifact, bool, error)
	SetArtifact(ctx context.Context, a *domain.Artifact) error
}

// LockManager hands out the per-key generation lease. The lease is
// TTL-bounded so a crashed holder cannot wedge other workers.
type LockManager interface {
	AcquireLock(ctx context.Context, userID uuid.UUID, kind domain.Kind, day domain.Day, ttl time.Duration) (token string, ok bool, err error)
	ReleaseLock(ctx context.Context, userID uuid.UUID, kind domain.Kind, day domain.Day, token string) error
}

// Options tunes the pipeline.
type Options struct {
	DefaultTZ string
	// LockTTL bounds the generation lease.
	LockTTL time.Duration
	// WaitTimeout bounds how long a loser waits for the holder's result
	// before degrading.
	WaitTimeout time.Duration
	// PollInterval paces the loser's result polling.
	PollInterval time.Duration
}

func (o *Options) defaults() {
	if o.LockTTL <= 0 {
		o.LockTTL = 30 * time.Second
	}
	if o.WaitTimeout <= 0 {
		o.WaitTimeout = 10 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 300 * time.Millisecond
	}
}

// Service is the forecast cache & generator.
type Service struct {
	repo     store.Repo
	cache    ArtifactCache
	locks    LockManager
	provider astro.Provider
	renderer render.Renderer
	ent      entitlement.Checker
	log      *zap.Logger
	opts     Options
}

// New wires the pipeline.
func New(repo store.Repo, cache ArtifactCache, locks LockManager, provider astro.Provider,
	renderer render.Renderer, ent entitlement.Checker, log *zap.Logger, opts Options) *Service {
	opts.defaults()
	return &Service{
		repo:     repo,
		cache:    cache,
		locks:    locks,
		provider: provider,
		renderer: renderer,
		ent:      ent,
		log:      log,
		opts:     opts,
	}
}

// FetchOrGenerate returns the canonical artifact for the user's current
// local day, generating it at most once per key. On a missed wait or
// render budget it returns a degraded artifact that is never persisted,
// so a later retry can still produce the canonical one.
func (s *Service) FetchOrGenerate(ctx context.Context, u *domain.User, kind domain.Kind, now time.Time) (*domain.Artifact, error) {
	if !u.Onboarded() {
		return nil, fmt.Errorf("user %d not onboarded", u.ChatID)
	}
	if kind == domain.KindFull {
		ok, err := s.ent.IsEntitled(ctx, u, domain.FeatureFullForecast)
		if err != nil {
			return nil, fmt.Errorf("entitlement check: %w", err)
		}
		if !ok {
			return nil, ErrUnauthorized
		}
	}

	day := domain.LocalDay(u, now, s.opts.DefaultTZ)

	if a, ok := s.lookup(ctx, u.ID, kind, day); ok {
		metrics.CacheHits.WithLabelValues(string(kind)).Inc()
		return a, nil
	}
	metrics.CacheMisses.WithLabelValues(string(kind)).Inc()

	token, acquired, err := s.locks.AcquireLock(ctx, u.ID, kind, day, s.opts.LockTTL)
	if err != nil {
		// Lock service down: degrade rather than risk duplicate billing.
		s.log.Warn("lock acquire failed", zap.Error(err), zap.Int64("chatID", u.ChatID))
		return s.degraded(u, kind, day, now), nil
	}
	if !acquired {
		return s.awaitHolder(ctx, u, kind, day, now)
	}
	defer func() {
		if err := s.locks.ReleaseLock(ctx, u.ID, kind, day, token); err != nil {
			s.log.Warn("lock release failed", zap.Error(err))
		}
	}()

	return s.generate(ctx, u, kind, day, now)
}

// lookup probes the cache, then the durable store, backfilling the
// cache on a store hit. A hit never touches the renderer.
func (s *Service) lookup(ctx context.Context, userID uuid.UUID, kind domain.Kind, day domain.Day) (*domain.Artifact, bool) {
	if a, ok, err := s.cache.GetArtifact(ctx, userID, kind, day); err != nil {
		s.log.Warn("cache probe failed", zap.Error(err))
	} else if ok {
		return a, true
	}

	a, err := s.repo.GetArtifact(ctx, userID, kind, day)
	if errors.Is(err, store.ErrNotFound) {
		return nil, false
	}
	if err != nil {
		s.log.Warn("artifact lookup failed", zap.Error(err))
		return nil, false
	}
	if err := s.cache.SetArtifact(ctx, a); err != nil {
		s.log.Warn("cache backfill failed", zap.Error(err))
	}
	return a, true
}

// generate is the lock holder's path: build context, render within
// budget, persist under the uniqueness key, populate the cache.
func (s *Service) generate(ctx context.Context, u *domain.User, kind domain.Kind, day domain.Day, now time.Time) (*domain.Artifact, error) {
	dayTS, err := day.Time()
	if err != nil {
		return nil, fmt.Errorf("bad day %q: %w", day, err)
	}
	astroCtx, err := s.provider.ComputeContext(ctx, u, dayTS)
	if err != nil {
		s.log.Error("compute context failed", zap.Error(err), zap.Int64("chatID", u.ChatID))
		return s.degraded(u, kind, day, now), nil
	}

	tpl := render.TemplateShort
	if kind == domain.KindFull {
		tpl = render.TemplateFull
	}
	text, err := s.renderer.Render(ctx, render.Request{
		Template: tpl,
		Context:  astroCtx,
		Language: u.Language,
	})
	if err != nil {
		// Timeouts and failures both degrade; no synchronous retry.
		s.log.Warn("render failed", zap.Error(err), zap.Int64("chatID", u.ChatID))
		return s.degraded(u, kind, day, now), nil
	}

	a := &domain.Artifact{
		ID:              uuid.New(),
		UserID:          u.ID,
		Kind:            kind,
		Day:             day,
		ContextSnapshot: astroCtx.Snapshot(),
		Approximate:     u.ApproximateBirth,
		CreatedAt:       now.UTC(),
	}
	if kind == domain.KindFull {
		a.Content = domain.Content{Sections: render.SplitSections(text)}
	} else {
		a.Content = domain.Content{Short: text}
	}

	if err := s.repo.InsertArtifact(ctx, a); err != nil {
		if errors.Is(err, store.ErrConflict) {
			// Lost the uniqueness race (e.g. our lease expired and another
			// worker finished first): discard ours, re-read the winner.
			metrics.StorageConflicts.Inc()
			if winner, ok := s.lookup(ctx, u.ID, kind, day); ok {
				return winner, nil
			}
			return nil, fmt.Errorf("conflict without winner for %s/%s/%s", u.ID, kind, day)
		}
		return nil, fmt.Errorf("persist artifact: %w", err)
	}
	if err := s.cache.SetArtifact(ctx, a); err != nil {
		s.log.Warn("cache set failed", zap.Error(err))
	}
	return a, nil
}

// awaitHolder polls for the lock holder's result within the wait
// budget, then degrades. The in-flight generation is not cancelled; it
// may still complete and serve future requests.
func (s *Service) awaitHolder(ctx context.Context, u *domain.User, kind domain.Kind, day domain.Day, now time.Time) (*domain.Artifact, error) {
	deadline := time.NewTimer(s.opts.WaitTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(s.opts.PollInterval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return s.degraded(u, kind, day, now), nil
		case <-tick.C:
			if a, ok := s.lookup(ctx, u.ID, kind, day); ok {
				return a, nil
			}
		}
	}
}

// degraded builds the static fallback artifact. It is tagged and never
// persisted, so the canonical slot for the day stays open.
func (s *Service) degraded(u *domain.User, kind domain.Kind, day domain.Day, now time.Time) *domain.Artifact {
	metrics.DegradedServes.WithLabelValues(string(kind)).Inc()
	return &domain.Artifact{
		ID:          uuid.New(),
		UserID:      u.ID,
		Kind:        kind,
		Day:         day,
		Content:     render.DegradedContent(kind),
		Approximate: u.ApproximateBirth,
		Degraded:    true,
		CreatedAt:   now.UTC(),
	}
}
