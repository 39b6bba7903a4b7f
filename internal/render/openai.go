package render

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/ykvlv/astro-forecast-bot/internal/astro"
	"github.com/ykvlv/astro-forecast-bot/internal/metrics"
)

// OpenAIRenderer renders forecasts through the chat-completions API
// with a hard per-call latency budget.
type OpenAIRenderer struct {
	client *openai.Client
	model  string
	budget time.Duration
}

// NewOpenAI builds the renderer. The budget is the maximum latency the
// generation contract allows for one rendering call.
func NewOpenAI(apiKey, model string, budget time.Duration) *OpenAIRenderer {
	return &OpenAIRenderer{
		client: openai.NewClient(apiKey),
		model:  model,
		budget: budget,
	}
}

var systemPrompts = map[TemplateID]string{
	TemplateShort: "Ты — астролог сервиса «АстроПрогноз на Сегодня». Напиши короткий " +
		"дневной прогноз (3-4 предложения) по переданным транзитам. Тёплый тон, без воды.",
	TemplateFull: "Ты — астролог сервиса «АстроПрогноз на Сегодня». Напиши полный расклад " +
		"на день по переданным транзитам: несколько блоков, разделённых пустой строкой, " +
		"первая строка каждого блока — заголовок.",
	TemplateAdvice: "Ты — астролог. Пользователь задал экстренный вопрос. Ответь кратко и " +
		"по делу (2-3 предложения), опираясь только на переданные сигналы.",
	TemplateBroadcast: "Ты — астролог. Опиши главное астрособытие дня одним коротким " +
		"абзацем для рассылки всем подписчикам.",
}

// Render performs one chat completion within the budget. A deadline
// overrun is reported as ErrTimeout so the caller can degrade.
func (r *OpenAIRenderer) Render(ctx context.Context, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.budget)
	defer cancel()

	start := time.Now()
	resp, err := r.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: r.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompts[req.Template]},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt(req)},
		},
	})
	metrics.RenderLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			metrics.GenerationTimeouts.Inc()
			return "", fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion: empty response")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func userPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Дата: %s\n", req.Context.Day)
	if req.Context.BirthDate != "" {
		fmt.Fprintf(&b, "Дата рождения: %s\n", req.Context.BirthDate)
	}
	if req.Context.BirthPlace != "" {
		fmt.Fprintf(&b, "Место рождения: %s\n", req.Context.BirthPlace)
	}
	if req.Context.Approximate {
		b.WriteString("Время рождения неизвестно, прогноз приблизительный.\n")
	}
	b.WriteString("Транзиты:\n")
	for _, s := range astro.Rank(req.Context.Signals) {
		fmt.Fprintf(&b, "- %s %s %s (орб %.1f°, сила %.1f)\n",
			s.Planet, s.Aspect, s.Target, s.Orb, s.Intensity)
	}
	if req.Question != "" {
		fmt.Fprintf(&b, "Вопрос: %s\n", req.Question)
	}
	return b.String()
}
