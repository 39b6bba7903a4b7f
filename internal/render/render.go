// Package render defines the content-generation gateway: an abstract
// renderer with an enforced latency budget, an OpenAI implementation,
// and the static degraded templates served when the budget is missed.
package render

import (
	"context"
	"errors"
	"strings"

	"github.com/ykvlv/astro-forecast-bot/internal/astro"
	"github.com/ykvlv/astro-forecast-bot/internal/domain"
)

// ErrTimeout marks a rendering call that exceeded the latency budget.
// It is never retried synchronously; callers degrade to a template.
var ErrTimeout = errors.New("render timeout")

// TemplateID selects the prompt template.
type TemplateID string

const (
	TemplateShort     TemplateID = "short_forecast"
	TemplateFull      TemplateID = "full_forecast"
	TemplateAdvice    TemplateID = "emergency_advice"
	TemplateBroadcast TemplateID = "event_broadcast"
)

// Request is the structured input handed to the gateway.
type Request struct {
	Template TemplateID
	Context  astro.Context
	// Question is set only for TemplateAdvice.
	Question string
	Language string
}

// Renderer turns a structured context into natural-language text.
// Implementations must respect ctx cancellation and surface budget
// violations as ErrTimeout.
type Renderer interface {
	Render(ctx context.Context, req Request) (string, error)
}

// SplitSections turns rendered full-forecast text into titled sections.
// The prompt asks for blocks separated by blank lines with the first
// line of each block as its heading; unstructured text becomes a single
// untitled section.
func SplitSections(text string) []domain.Section {
	blocks := strings.Split(strings.TrimSpace(text), "\n\n")
	sections := make([]domain.Section, 0, len(blocks))
	for _, b := range blocks {
		b = strings.TrimSpace(b)
		if b == "" {
			continue
		}
		lines := strings.SplitN(b, "\n", 2)
		if len(lines) == 2 {
			sections = append(sections, domain.Section{
				Title: strings.TrimSpace(lines[0]),
				Body:  strings.TrimSpace(lines[1]),
			})
			continue
		}
		sections = append(sections, domain.Section{Body: b})
	}
	return sections
}
