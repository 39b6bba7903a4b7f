package render

import "github.com/ykvlv/astro-forecast-bot/internal/domain"

// Degraded fallback texts. Served when generation misses its budget;
// never persisted as canonical artifacts.

const degradedShort = "Звёзды сегодня немного заняты ✨ Общий совет дня: " +
	"действуй спокойно, не форсируй события и отложи важные решения на вторую " +
	"половину дня. Полный прогноз появится чуть позже — загляни ещё раз."

const degradedAdvice = "Сейчас не получилось свериться со звёздами. Вопрос " +
	"принят — доверься интуиции и не принимай резких решений в ближайшие часы."

const degradedBroadcast = "Сегодня на небе спокойный день без резких аспектов. " +
	"Хорошее время для рутинных дел."

// DegradedContent returns the static template for a kind.
func DegradedContent(kind domain.Kind) domain.Content {
	if kind == domain.KindFull {
		return domain.Content{Sections: []domain.Section{
			{Title: "Общий фон", Body: degradedShort},
		}}
	}
	return domain.Content{Short: degradedShort}
}

// DegradedAdvice returns the static emergency-advice fallback.
func DegradedAdvice() string { return degradedAdvice }

// DegradedBroadcast returns the static broadcast fallback.
func DegradedBroadcast() string { return degradedBroadcast }
