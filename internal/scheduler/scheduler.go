// Package scheduler runs the periodic notification duties: the nightly
// event-broadcast selection, the daily-reminder sweep and intent
// delivery with bounded retry. Every pass is idempotent: it re-checks
// the (user, type, day, attempt) uniqueness key instead of remembering
// what it already sent, so a crash-and-restart never duplicates.
package scheduler

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

// Sender is the minimal messaging-gateway surface the scheduler needs.
// telegram.Router implements it.
type Sender interface {
	SendMessage(chatID int64, text string) error
}

// ErrBlocked is returned by a Sender when the user has blocked the bot;
// the profile is flagged and the intent skipped instead of retried.
var ErrBlocked = errors.New("blocked by user")

// Options tunes the scheduler.
type Options struct {
	SweepInterval time.Duration
	// BroadcastHourUTC is the earliest UTC hour the nightly broadcast
	// pass may run for a day.
	BroadcastHourUTC int
	// ReminderCutoffM is the user-local minute-of-day after which a user
	// who has not consumed today's short forecast gets a reminder.
	ReminderCutoffM int
	// StreakDays is the run length that earns a streak_cheer intent.
	StreakDays int
	RetryDelay time.Duration
	DefaultTZ  string
	BatchSize  int
}

func (o *Options) defaults() {
	if o.SweepInterval <= 0 {
		o.SweepInterval = 30 * time.Second
	}
	if o.ReminderCutoffM <= 0 {
		o.ReminderCutoffM = 19 * 60
	}
	if o.StreakDays <= 0 {
		o.StreakDays = 7
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 5 * time.Minute
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 100
	}
}

// Scheduler periodically selects events, sweeps reminders and delivers intents.
type Scheduler struct {
	repo     store.Repo
	provider astro.Provider
	renderer render.Renderer
	sender   Sender
	log      *zap.Logger
	opts     Options

	// lastBroadcastDay is advisory only; correctness rests on the intent
	// uniqueness keys.
	lastBroadcastDay domain.Day
}

// New creates a Scheduler.
func New(repo store.Repo, provider astro.Provider, renderer render.Renderer, sender Sender, log *zap.Logger, opts Options) *Scheduler {
	opts.defaults()
	return &Scheduler{
		repo:     repo,
		provider: provider,
		renderer: renderer,
		sender:   sender,
		log:      log,
		opts:     opts,
	}
}

// Run starts the sweep loop until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopping")
			return
		case <-ticker.C:
			s.Tick(ctx, time.Now().UTC())
		}
	}
}

// Tick performs one scheduling cycle. Exported so tests can drive it
// with a fixed clock.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) {
	utcDay := domain.Day(now.UTC().Format("2006-01-02"))
	if utcDay != s.lastBroadcastDay && now.UTC().Hour() >= s.opts.BroadcastHourUTC {
		if err := s.BroadcastPass(ctx, now); err != nil {
			s.log.Error("broadcast pass failed", zap.Error(err))
		} else {
			s.lastBroadcastDay = utcDay
		}
	}
	if err := s.ReminderPass(ctx, now); err != nil {
		s.log.Error("reminder pass failed", zap.Error(err))
	}
	if err := s.DeliverPass(ctx, now); err != nil {
		s.log.Error("deliver pass failed", zap.Error(err))
	}
}

// BroadcastPass picks the day's single highest-weighted signal, renders
// the broadcast once, and fans out one event_broadcast intent per
// opted-in user. Safe to re-run: existing intents are left alone.
func (s *Scheduler) BroadcastPass(ctx context.Context, now time.Time) error {
	utcDay := domain.Day(now.UTC().Format("2006-01-02"))
	signals, err := s.provider.DailySignals(ctx, utcDay)
	if err != nil {
		return fmt.Errorf("daily signals: %w", err)
	}
	if len(signals) == 0 {
		return nil
	}
	top := astro.Rank(signals)[0]

	text, err := s.renderer.Render(ctx, render.Request{
		Template: render.TemplateBroadcast,
		Context:  astro.Context{Day: utcDay, Signals: []astro.Signal{top}},
	})
	if err != nil {
		s.log.Warn("broadcast render failed, using fallback", zap.Error(err))
		text = render.DegradedBroadcast()
	}

	created := 0
	err = s.forEachActiveUser(ctx, func(u *domain.User) {
		it := &domain.Intent{
			ID:          uuid.New(),
			UserID:      u.ID,
			ChatID:      u.ChatID,
			Type:        domain.IntentEventBroadcast,
			Day:         domain.LocalDay(u, now, s.opts.DefaultTZ),
			Payload:     text,
			Status:      domain.IntentScheduled,
			ScheduledAt: now.UTC(),
		}
		if err := s.repo.InsertIntent(ctx, it); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return // already fanned out for this user/day
			}
			s.log.Error("insert broadcast intent", zap.Error(err), zap.Int64("chatID", u.ChatID))
			return
		}
		created++
	})
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}
	s.log.Info("broadcast pass done",
		zap.String("day", string(utcDay)),
		zap.String("planet", top.Planet),
		zap.Int("created", created),
	)
	return nil
}

// ReminderPass creates one daily_reminder intent per user who has not
// consumed today's short forecast by their local cutoff, plus a
// streak_cheer when a consumption run reaches the configured length.
func (s *Scheduler) ReminderPass(ctx context.Context, now time.Time) error {
	return s.forEachActiveUser(ctx, func(u *domain.User) {
		localDay := domain.LocalDay(u, now, s.opts.DefaultTZ)

		if domain.LocalMinutes(u, now, s.opts.DefaultTZ) >= s.opts.ReminderCutoffM {
			_, err := s.repo.GetArtifact(ctx, u.ID, domain.KindShort, localDay)
			if errors.Is(err, store.ErrNotFound) {
				s.createIntent(ctx, u, domain.IntentDailyReminder, localDay, reminderText, now)
			} else if err != nil {
				s.log.Error("artifact check", zap.Error(err), zap.Int64("chatID", u.ChatID))
			}
		}

		if n := s.streakLength(ctx, u, localDay); n == s.opts.StreakDays {
			s.createIntent(ctx, u, domain.IntentStreakCheer, localDay,
				fmt.Sprintf(streakTextFmt, n), now)
		}
	})
}

// forEachActiveUser pages through the whole active-user set with keyset
// pagination, so a pass covers every user regardless of batch size.
func (s *Scheduler) forEachActiveUser(ctx context.Context, fn func(u *domain.User)) error {
	var after int64
	for {
		users, err := s.repo.ListActiveUsers(ctx, after, s.opts.BatchSize)
		if err != nil {
			return err
		}
		for i := range users {
			fn(&users[i])
		}
		if len(users) < s.opts.BatchSize {
			return nil
		}
		after = users[len(users)-1].ChatID
	}
}

const reminderText = "Твой прогноз на сегодня уже готов ✨ Загляни: /forecast"

const streakTextFmt = "Ого, %d дней с прогнозами подряд! Звёзды гордятся твоей последовательностью 🌟"

func (s *Scheduler) createIntent(ctx context.Context, u *domain.User, typ domain.IntentType, day domain.Day, payload string, now time.Time) {
	it := &domain.Intent{
		ID:          uuid.New(),
		UserID:      u.ID,
		ChatID:      u.ChatID,
		Type:        typ,
		Day:         day,
		Payload:     payload,
		Status:      domain.IntentScheduled,
		ScheduledAt: now.UTC(),
	}
	if err := s.repo.InsertIntent(ctx, it); err != nil && !errors.Is(err, store.ErrConflict) {
		s.log.Error("insert intent", zap.Error(err),
			zap.String("type", string(typ)), zap.Int64("chatID", u.ChatID))
	}
}

// streakLength counts consecutive local days with a short artifact,
// ending today.
func (s *Scheduler) streakLength(ctx context.Context, u *domain.User, today domain.Day) int {
	arts, err := s.repo.ListArtifacts(ctx, u.ID, s.opts.StreakDays*2)
	if err != nil {
		s.log.Error("list artifacts", zap.Error(err), zap.Int64("chatID", u.ChatID))
		return 0
	}
	days := make(map[domain.Day]bool, len(arts))
	for _, a := range arts {
		if a.Kind == domain.KindShort {
			days[a.Day] = true
		}
	}
	ts, err := today.Time()
	if err != nil {
		return 0
	}
	n := 0
	for days[domain.Day(ts.Format("2006-01-02"))] {
		n++
		ts = ts.Add(-24 * time.Hour)
	}
	return n
}

// DeliverPass hands due intents to the messaging gateway. A failure
// marks the intent failed and schedules one successor attempt after a
// fixed delay; exhausting the budget is terminal and surfaced via
// metrics, never retried indefinitely.
func (s *Scheduler) DeliverPass(ctx context.Context, now time.Time) error {
	due, err := s.repo.ListDueIntents(ctx, now, s.opts.BatchSize)
	if err != nil {
		return fmt.Errorf("list due intents: %w", err)
	}
	for _, it := range due {
		err := s.sender.SendMessage(it.ChatID, it.Payload)
		switch {
		case err == nil:
			if merr := s.repo.MarkIntentSent(ctx, it.ID, now); merr != nil {
				s.log.Error("mark sent", zap.Error(merr))
			}

		case errors.Is(err, ErrBlocked):
			s.log.Info("user blocked bot, skipping", zap.Int64("chatID", it.ChatID))
			if merr := s.repo.SetBlocked(ctx, it.ChatID, true); merr != nil {
				s.log.Error("set blocked", zap.Error(merr))
			}
			if merr := s.repo.MarkIntent(ctx, it.ID, domain.IntentSkipped); merr != nil {
				s.log.Error("mark skipped", zap.Error(merr))
			}

		default:
			metrics.DeliveryFailures.Inc()
			s.log.Error("delivery failed", zap.Error(err),
				zap.Int64("chatID", it.ChatID), zap.Int("attempt", it.Attempt))
			if merr := s.repo.MarkIntent(ctx, it.ID, domain.IntentFailed); merr != nil {
				s.log.Error("mark failed", zap.Error(merr))
			}
			if it.Attempt+1 < domain.MaxDeliveryAttempts {
				succ := it
				succ.ID = uuid.New()
				succ.Attempt = it.Attempt + 1
				succ.Status = domain.IntentScheduled
				succ.ScheduledAt = now.Add(s.opts.RetryDelay).UTC()
				succ.SentAt = nil
				if ierr := s.repo.InsertIntent(ctx, &succ); ierr != nil && !errors.Is(ierr, store.ErrConflict) {
					s.log.Error("schedule retry", zap.Error(ierr))
				}
			} else {
				metrics.DeliveryExhausted.Inc()
				s.log.Error("delivery retries exhausted",
					zap.Int64("chatID", it.ChatID), zap.String("type", string(it.Type)))
			}
		}
	}
	return nil
}
