package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/ykvlv/astro-forecast-bot/internal/dialog"
	"github.com/ykvlv/astro-forecast-bot/internal/domain"
	"github.com/ykvlv/astro-forecast-bot/internal/forecast"
)

const archiveDepth = 7

// execute performs one action emitted by the dialog machine. Actions are
// executed in emission order; u is mutated in place when an action
// changes the profile so later actions in the same turn see the change.
func (r *Router) execute(ctx context.Context, u *domain.User, act dialog.Action, now time.Time) {
	switch act.Type {
	case dialog.ActReply, dialog.ActValidation:
		r.reply(u, act.Msg)

	case dialog.ActSaveBirthDate:
		r.saveBirthDate(ctx, u, act.Date)

	case dialog.ActSaveDetails:
		r.saveDetails(ctx, u, act.Details)

	case dialog.ActGenerate:
		r.generateAndSend(ctx, u, act.Kind, now)

	case dialog.ActOfferUpsell:
		msg := tgbotapi.NewMessage(u.ChatID, upsellText)
		msg.ReplyMarkup = upsellKeyboard()
		r.send(msg)

	case dialog.ActEmitPaymentIntent:
		r.log.Info("payment intent emitted", zap.Int64("chatID", u.ChatID))
		msg := tgbotapi.NewMessage(u.ChatID, paymentInvoice)
		msg.ReplyMarkup = paymentKeyboard()
		r.send(msg)

	case dialog.ActGrantFull:
		if err := r.repo.SetEntitlement(ctx, u.ChatID, domain.FeatureFullForecast, true); err != nil {
			r.log.Error("grant entitlement failed", zap.Error(err), zap.Int64("chatID", u.ChatID))
			return
		}
		if u.Entitlements == nil {
			u.Entitlements = make(map[domain.Feature]bool)
		}
		u.Entitlements[domain.FeatureFullForecast] = true

	case dialog.ActSubmitAdvice:
		r.submitAdvice(ctx, u, act.Text, now)

	case dialog.ActShowArchive:
		r.showArchive(ctx, u)

	case dialog.ActShowSettings:
		msg := tgbotapi.NewMessage(u.ChatID, texts[dialog.MsgSettings])
		msg.ReplyMarkup = settingsKeyboard(u)
		r.send(msg)

	case dialog.ActToggleOptIn:
		u.NotifyOptIn = !u.NotifyOptIn
		if err := r.repo.UpsertUser(ctx, u); err != nil {
			r.log.Error("toggle opt-in failed", zap.Error(err), zap.Int64("chatID", u.ChatID))
		}

	case dialog.ActEraseProfile:
		if err := r.repo.EraseUser(ctx, u.ChatID); err != nil {
			r.log.Error("erase failed", zap.Error(err), zap.Int64("chatID", u.ChatID))
			return
		}
		u.BirthDate, u.BirthTime, u.BirthPlace = nil, nil, ""
		u.Erased = true
	}
}

func (r *Router) saveBirthDate(ctx context.Context, u *domain.User, raw string) {
	bd, err := domain.ParseBirthDate(raw)
	if err != nil {
		// The machine only emits this action for validated input.
		r.log.Error("unparseable validated date", zap.String("raw", raw), zap.Error(err))
		return
	}
	u.BirthDate = &bd
	u.Erased = false
	if err := r.repo.UpsertUser(ctx, u); err != nil {
		r.log.Error("save birth date failed", zap.Error(err), zap.Int64("chatID", u.ChatID))
	}
}

// saveDetails applies the time+place step. A skip (or a missing time)
// substitutes the default birth time and marks the profile approximate;
// providing real details later clears the flag.
func (r *Router) saveDetails(ctx context.Context, u *domain.User, d domain.BirthDetails) {
	if d.Minutes != nil {
		u.BirthTime = d.Minutes
		u.ApproximateBirth = false
	} else {
		m := domain.DefaultBirthMinutes
		u.BirthTime = &m
		u.ApproximateBirth = true
	}
	if d.Place != "" {
		u.BirthPlace = d.Place
	}
	if u.TZ == "" {
		u.TZ = r.defaultTZ
	}
	if err := r.repo.UpsertUser(ctx, u); err != nil {
		r.log.Error("save details failed", zap.Error(err), zap.Int64("chatID", u.ChatID))
	}
}

func (r *Router) generateAndSend(ctx context.Context, u *domain.User, kind domain.Kind, now time.Time) {
	a, err := r.forecasts.FetchOrGenerate(ctx, u, kind, now)
	if errors.Is(err, forecast.ErrUnauthorized) {
		msg := tgbotapi.NewMessage(u.ChatID, upsellText)
		msg.ReplyMarkup = upsellKeyboard()
		r.send(msg)
		return
	}
	if err != nil {
		if !u.Onboarded() {
			r.reply(u, dialog.MsgNeedOnboarding)
			return
		}
		r.log.Error("forecast failed", zap.Error(err), zap.Int64("chatID", u.ChatID))
		r.sendText(u.ChatID, "Звёзды сегодня молчат 😔 Попробуй ещё раз чуть позже.")
		return
	}
	r.sendText(u.ChatID, a.Content.Text())
}

func (r *Router) submitAdvice(ctx context.Context, u *domain.User, question string, now time.Time) {
	res, err := r.advisor.Submit(ctx, u, question, now)
	if err != nil {
		r.log.Error("advice submit failed", zap.Error(err), zap.Int64("chatID", u.ChatID))
		r.sendText(u.ChatID, "Не получилось спросить звёзды, попробуй позже.")
		return
	}
	if !res.Accepted {
		r.sendText(u.ChatID, fmt.Sprintf(adviceDenied, formatRetry(res.RetryAfter)))
		return
	}
	r.sendText(u.ChatID, res.Answer)
}

func (r *Router) showArchive(ctx context.Context, u *domain.User) {
	arts, err := r.repo.ListArtifacts(ctx, u.ID, archiveDepth)
	if err != nil {
		r.log.Error("archive failed", zap.Error(err), zap.Int64("chatID", u.ChatID))
		return
	}
	if len(arts) == 0 {
		r.sendText(u.ChatID, archiveEmpty)
		return
	}
	var b strings.Builder
	b.WriteString(archiveTitle)
	for _, a := range arts {
		label := "кратко"
		if a.Kind == domain.KindFull {
			label = "полный"
		}
		b.WriteString(fmt.Sprintf("\n\n📅 %s (%s)\n%s", a.Day, label, a.Content.Text()))
	}
	r.sendText(u.ChatID, b.String())
}

// reply sends a canned text, attaching the keyboard some messages carry.
func (r *Router) reply(u *domain.User, id dialog.MsgID) {
	text, ok := texts[id]
	if !ok {
		text = texts[dialog.MsgUnknown]
	}
	msg := tgbotapi.NewMessage(u.ChatID, text)
	switch id {
	case dialog.MsgAskDetails:
		msg.ReplyMarkup = skipKeyboard()
	case dialog.MsgWelcomeBack, dialog.MsgHelp, dialog.MsgProfileSaved, dialog.MsgProfileApprox:
		msg.ReplyMarkup = mainMenuKeyboard()
	}
	r.send(msg)
}

func (r *Router) sendText(chatID int64, text string) {
	r.send(tgbotapi.NewMessage(chatID, text))
}

func (r *Router) send(msg tgbotapi.MessageConfig) {
	if _, err := r.bot.Send(msg); err != nil {
		r.log.Warn("send failed", zap.Error(err), zap.Int64("chatID", msg.ChatID))
	}
}

// formatRetry renders a wait duration as "N ч M мин", rounding up.
func formatRetry(d time.Duration) string {
	if d < time.Minute {
		d = time.Minute
	}
	d = d.Round(time.Minute)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	switch {
	case h == 0:
		return fmt.Sprintf("%d мин", m)
	case m == 0:
		return fmt.Sprintf("%d ч", h)
	}
	return fmt.Sprintf("%d ч %d мин", h, m)
}
