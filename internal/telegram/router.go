// Package telegram is the transport: it normalizes Telegram updates into
// dialog events, runs the conversation machine under a per-chat lock and
// executes the emitted actions against the services.
package telegram

import (
	"context"
	"errors"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/ykvlv/astro-forecast-bot/internal/advice"
	"github.com/ykvlv/astro-forecast-bot/internal/dialog"
	"github.com/ykvlv/astro-forecast-bot/internal/domain"
	"github.com/ykvlv/astro-forecast-bot/internal/entitlement"
	"github.com/ykvlv/astro-forecast-bot/internal/forecast"
	"github.com/ykvlv/astro-forecast-bot/internal/scheduler"
	"github.com/ykvlv/astro-forecast-bot/internal/store"
)

// Router wires Telegram updates to the dialog machine and services.
type Router struct {
	bot       *tgbotapi.BotAPI
	log       *zap.Logger
	repo      store.Repo
	forecasts *forecast.Service
	advisor   *advice.Limiter
	checker   entitlement.Checker
	locks     *dialog.KeyedMutex
	defaultTZ string
}

// NewRouter creates a new Telegram router.
func NewRouter(bot *tgbotapi.BotAPI, log *zap.Logger, repo store.Repo,
	forecasts *forecast.Service, advisor *advice.Limiter,
	checker entitlement.Checker, defaultTZ string) *Router {
	return &Router{
		bot:       bot,
		log:       log,
		repo:      repo,
		forecasts: forecasts,
		advisor:   advisor,
		checker:   checker,
		locks:     dialog.NewKeyedMutex(),
		defaultTZ: defaultTZ,
	}
}

// HandleUpdate routes a single update. Commands and callbacks are
// normalized to typed events before they reach the machine.
func (r *Router) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	if upd.Message != nil {
		msg := upd.Message
		r.dispatch(ctx, msg.Chat.ID, msg.From, normalizeText(msg.Text))
		return
	}
	if upd.CallbackQuery != nil {
		cb := upd.CallbackQuery
		if _, err := r.bot.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
			r.log.Debug("answer callback failed", zap.Error(err))
		}
		if ev, ok := normalizeCallback(cb.Data); ok {
			r.dispatch(ctx, cb.Message.Chat.ID, cb.From, ev)
		}
		return
	}
}

func normalizeText(text string) dialog.Event {
	text = strings.TrimSpace(text)
	cmd := text
	if i := strings.IndexAny(cmd, " @"); i >= 0 {
		cmd = cmd[:i]
	}
	switch cmd {
	case "/start":
		return dialog.Event{Type: dialog.EvStart}
	case "/forecast":
		return dialog.Event{Type: dialog.EvForecast}
	case "/full":
		return dialog.Event{Type: dialog.EvFull}
	case "/archive":
		return dialog.Event{Type: dialog.EvArchive}
	case "/sos":
		return dialog.Event{Type: dialog.EvSOS}
	case "/settings":
		return dialog.Event{Type: dialog.EvSettings}
	case "/help":
		return dialog.Event{Type: dialog.EvHelp}
	}
	return dialog.Event{Type: dialog.EvText, Text: text}
}

func normalizeCallback(data string) (dialog.Event, bool) {
	switch data {
	case cbUnlock:
		return dialog.Event{Type: dialog.EvUnlock}, true
	case cbPaymentOK:
		return dialog.Event{Type: dialog.EvPaymentOK}, true
	case cbAddDetails:
		return dialog.Event{Type: dialog.EvAddDetails}, true
	case cbOptToggle:
		return dialog.Event{Type: dialog.EvOptToggle}, true
	case cbErase:
		return dialog.Event{Type: dialog.EvErase}, true
	case cbBack:
		return dialog.Event{Type: dialog.EvBack}, true
	}
	return dialog.Event{}, false
}

// dispatch runs one conversation turn under the per-chat lock: load the
// session, transition, execute actions in emission order, persist.
func (r *Router) dispatch(ctx context.Context, chatID int64, from *tgbotapi.User, ev dialog.Event) {
	unlock := r.locks.Lock(chatID)
	defer unlock()

	now := time.Now().UTC()
	u, err := r.ensureUser(ctx, chatID, from, now)
	if err != nil {
		r.log.Error("ensureUser failed", zap.Error(err), zap.Int64("chatID", chatID))
		r.sendText(chatID, "Что-то пошло не так, попробуй ещё раз чуть позже.")
		return
	}

	sess, err := r.repo.GetSession(ctx, chatID)
	if errors.Is(err, store.ErrNotFound) {
		s := dialog.NewSession(chatID)
		sess = &s
	} else if err != nil {
		r.log.Error("load session failed", zap.Error(err), zap.Int64("chatID", chatID))
		return
	}

	next, acts := dialog.Transition(*sess, ev, effectiveProfile(ctx, r.checker, u))
	if len(acts) == 0 && next.State == sess.State {
		r.log.Debug("event ignored",
			zap.String("event", string(ev.Type)),
			zap.String("state", string(sess.State)),
			zap.Int64("chatID", chatID))
	}
	for _, act := range acts {
		r.execute(ctx, u, act, now)
	}

	next = dialog.Touch(next, now)
	if err := r.repo.SaveSession(ctx, &next); err != nil {
		r.log.Error("save session failed", zap.Error(err), zap.Int64("chatID", chatID))
	}
}

// effectiveProfile resolves the entitlements the machine should see:
// the checker may grant features beyond the persisted profile (trial
// allow-list, feature flags). The returned copy is for the transition
// only and is never written back, so a trial grant stays unpersisted.
func effectiveProfile(ctx context.Context, checker entitlement.Checker, u *domain.User) *domain.User {
	if checker == nil || u.Entitled(domain.FeatureFullForecast) {
		return u
	}
	ok, err := checker.IsEntitled(ctx, u, domain.FeatureFullForecast)
	if err != nil || !ok {
		return u
	}
	eff := *u
	eff.Entitlements = make(map[domain.Feature]bool, len(u.Entitlements)+1)
	for k, v := range u.Entitlements {
		eff.Entitlements[k] = v
	}
	eff.Entitlements[domain.FeatureFullForecast] = true
	return &eff
}

// ensureUser loads or creates the profile and refreshes the identity
// fields Telegram sends with every update.
func (r *Router) ensureUser(ctx context.Context, chatID int64, from *tgbotapi.User, now time.Time) (*domain.User, error) {
	u, err := r.repo.GetUserByChat(ctx, chatID)
	if errors.Is(err, store.ErrNotFound) {
		u = &domain.User{
			ChatID:      chatID,
			Language:    "ru",
			TZ:          r.defaultTZ,
			NotifyOptIn: true,
			CreatedAt:   now,
		}
	} else if err != nil {
		return nil, err
	}
	if from != nil && !u.Erased {
		u.FirstName = from.FirstName
		u.LastName = from.LastName
		u.Username = from.UserName
		if from.LanguageCode != "" {
			u.Language = from.LanguageCode
		}
	}
	u.LastSeenAt = &now
	if err := r.repo.UpsertUser(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// SendMessage sends a plain text message; it makes Router satisfy
// scheduler.Sender. A "blocked by the user" API error is mapped to the
// sentinel so the scheduler can flag the profile instead of retrying.
func (r *Router) SendMessage(chatID int64, text string) error {
	_, err := r.bot.Send(tgbotapi.NewMessage(chatID, text))
	if err != nil && strings.Contains(err.Error(), "blocked by the user") {
		return scheduler.ErrBlocked
	}
	return err
}
