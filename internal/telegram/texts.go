package telegram

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/ykvlv/astro-forecast-bot/internal/dialog"
	"github.com/ykvlv/astro-forecast-bot/internal/domain"
)

// UI texts in Russian.
var texts = map[dialog.MsgID]string{
	dialog.MsgWelcome: "✨ Привет! Я составляю персональные астропрогнозы.\n\n" +
		"Для начала мне нужна твоя дата рождения в формате дд.мм.гггг, например: 27.04.1995",
	dialog.MsgWelcomeBack:    "С возвращением! 🌙 Держи прогноз на сегодня:",
	dialog.MsgInvalidDate:    "Не получилось разобрать дату 🤔 Формат: дд.мм.гггг, например 27.04.1995",
	dialog.MsgDateOutOfRange: "Хм, такой год не подойдёт. Укажи дату между 1900 и 2020 годом.",
	dialog.MsgAskDetails: "Отлично! Теперь время и город рождения: «чч:мм, Город», " +
		"например «08:30, Казань». Если не знаешь — нажми «Пропустить».",
	dialog.MsgProfileSaved: "Профиль сохранён ✅ Считаю звёзды…",
	dialog.MsgProfileApprox: "Профиль сохранён ✅ Без точного времени прогноз будет приблизительным — " +
		"добавить детали можно в любой момент через /settings.",
	dialog.MsgNeedOnboarding: "Сначала познакомимся: отправь /start и укажи дату рождения.",
	dialog.MsgAskQuestion:    "🆘 Опиши ситуацию одним сообщением — посмотрю, что говорят звёзды.",
	dialog.MsgPaymentPending: "Как только оплата подтвердится, полный разбор откроется автоматически.",
	dialog.MsgUnlocked:       "🔓 Полный разбор открыт! Составляю…",
	dialog.MsgSettings:       "⚙️ Настройки",
	dialog.MsgErased:         "Все твои данные удалены. Если захочешь вернуться — просто отправь /start.",
	dialog.MsgHelp: "Я умею:\n" +
		"/forecast — прогноз на сегодня\n" +
		"/full — полный разбор дня\n" +
		"/archive — прогнозы за последние дни\n" +
		"/sos — срочный вопрос к звёздам (раз в сутки)\n" +
		"/settings — профиль и уведомления",
	dialog.MsgUnknown: "Я не понял 🤔 Посмотри /help.",
}

const (
	upsellText     = "🔮 Это краткая версия. Полный разбор дня — любовь, работа, здоровье и совет — доступен по кнопке ниже."
	archiveTitle   = "🗓 Твои прогнозы за последние дни:"
	archiveEmpty   = "Архив пока пуст — запроси первый прогноз: /forecast"
	adviceDenied   = "Звёзды отвечают раз в сутки 🌌 Следующий вопрос можно задать через %s."
	paymentInvoice = "Полный разбор дня — 149 ₽. После оплаты он будет открываться каждый день."
	skipButton     = "Пропустить"
)

// Callback data values. They are normalized to dialog events in the router.
const (
	cbUnlock     = "unlock"
	cbPaymentOK  = "payment_ok"
	cbAddDetails = "settings:details"
	cbOptToggle  = "settings:notify"
	cbErase      = "settings:erase"
	cbBack       = "settings:back"
)

func mainMenuKeyboard() tgbotapi.ReplyKeyboardMarkup {
	return tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton("/forecast"),
			tgbotapi.NewKeyboardButton("/full"),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton("/sos"),
			tgbotapi.NewKeyboardButton("/settings"),
		),
	)
}

func skipKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(skipButton)),
	)
	kb.OneTimeKeyboard = true
	return kb
}

func upsellKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🔮 Раскрыть полностью", cbUnlock),
		),
	)
}

func paymentKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Я оплатил(а)", cbPaymentOK),
		),
	)
}

// settingsKeyboard shows the standing "add birth details" option only for
// profiles that skipped it during onboarding.
func settingsKeyboard(u *domain.User) tgbotapi.InlineKeyboardMarkup {
	notify := "🔔 Уведомления: вкл"
	if !u.NotifyOptIn {
		notify = "🔕 Уведомления: выкл"
	}
	rows := [][]tgbotapi.InlineKeyboardButton{}
	if u.ApproximateBirth {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🕐 Добавить время и город рождения", cbAddDetails),
		))
	}
	rows = append(rows,
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(notify, cbOptToggle),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🗑 Удалить мои данные", cbErase),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("⬅️ Назад", cbBack),
		),
	)
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}
