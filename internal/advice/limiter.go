// Package advice implements the emergency one-shot advice service with
// its rolling 24h eligibility window. The slot is reserved before
// rendering, so a crash mid-render still consumes it; a failed render
// does not refund the window (anti-abuse policy, not a leak).
package advice

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ykvlv/astro-forecast-bot/internal/astro"
	"github.com/ykvlv/astro-forecast-bot/internal/domain"
	"github.com/ykvlv/astro-forecast-bot/internal/metrics"
	"github.com/ykvlv/astro-forecast-bot/internal/render"
	"github.com/ykvlv/astro-forecast-bot/internal/store"
)

// reducedSignals is how many top-weighted signals the advice context
// keeps; the full-forecast context is deliberately not reused.
const reducedSignals = 3

// Result is the outcome of a submission.
type Result struct {
	Accepted bool
	// Answer is set when accepted. On a render failure it carries the
	// degraded fallback while the request row is marked failed.
	Answer string
	// RetryAfter is set when denied.
	RetryAfter time.Duration
	RequestID  uuid.UUID
}

// Limiter is the rate-limited advice service.
type Limiter struct {
	repo     store.Repo
	provider astro.Provider
	renderer render.Renderer
	log      *zap.Logger
	window   time.Duration
}

// New builds a Limiter; window is the rolling eligibility period (24h
// in production).
func New(repo store.Repo, provider astro.Provider, renderer render.Renderer, log *zap.Logger, window time.Duration) *Limiter {
	if window <= 0 {
		window = 24 * time.Hour
	}
	return &Limiter{repo: repo, provider: provider, renderer: renderer, log: log, window: window}
}

// Submit accepts or denies a question. Denial mutates nothing.
func (l *Limiter) Submit(ctx context.Context, u *domain.User, question string, now time.Time) (Result, error) {
	if u == nil || u.Erased {
		return Result{}, errors.New("no profile")
	}
	if u.AdviceEligibleAt != nil && now.Before(*u.AdviceEligibleAt) {
		metrics.AdviceDenied.Inc()
		return Result{RetryAfter: u.AdviceEligibleAt.Sub(now)}, nil
	}

	// Reserve the slot first. The CAS is guarded on the gate value we
	// read, so a concurrent submit for the same user loses here.
	next := now.Add(l.window).UTC()
	if err := l.repo.ReserveAdviceSlot(ctx, u.ID, u.AdviceEligibleAt, next); err != nil {
		if errors.Is(err, store.ErrConflict) {
			fresh, rerr := l.repo.GetUserByID(ctx, u.ID)
			if rerr != nil {
				return Result{}, fmt.Errorf("re-read after conflict: %w", rerr)
			}
			retry := l.window
			if fresh.AdviceEligibleAt != nil {
				retry = fresh.AdviceEligibleAt.Sub(now)
			}
			metrics.AdviceDenied.Inc()
			return Result{RetryAfter: retry}, nil
		}
		return Result{}, fmt.Errorf("reserve slot: %w", err)
	}

	req := &domain.EmergencyRequest{
		ID:             uuid.New(),
		UserID:         u.ID,
		Question:       question,
		Status:         domain.RequestPending,
		AskedAt:        now.UTC(),
		NextEligibleAt: next,
	}
	if err := l.repo.CreateEmergencyRequest(ctx, req); err != nil {
		// Slot is consumed either way; surface the storage problem.
		return Result{}, fmt.Errorf("create request: %w", err)
	}

	answer, err := l.renderAnswer(ctx, u, question, now)
	if err != nil {
		l.log.Warn("advice render failed", zap.Error(err), zap.Int64("chatID", u.ChatID))
		if rerr := l.repo.ResolveEmergencyRequest(ctx, req.ID, domain.RequestFailed, ""); rerr != nil {
			l.log.Error("mark request failed", zap.Error(rerr))
		}
		return Result{Accepted: true, Answer: render.DegradedAdvice(), RequestID: req.ID}, nil
	}

	if err := l.repo.ResolveEmergencyRequest(ctx, req.ID, domain.RequestAnswered, answer); err != nil {
		l.log.Error("mark request answered", zap.Error(err))
	}
	return Result{Accepted: true, Answer: answer, RequestID: req.ID}, nil
}

// renderAnswer builds the reduced context and renders the advice.
func (l *Limiter) renderAnswer(ctx context.Context, u *domain.User, question string, now time.Time) (string, error) {
	astroCtx, err := l.provider.ComputeContext(ctx, u, now)
	if err != nil {
		return "", fmt.Errorf("compute context: %w", err)
	}
	return l.renderer.Render(ctx, render.Request{
		Template: render.TemplateAdvice,
		Context:  astroCtx.Reduced(reducedSignals),
		Question: question,
		Language: u.Language,
	})
}
