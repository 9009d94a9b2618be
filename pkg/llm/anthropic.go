package llm

import (
	"context"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/telephis/telephis/internal/resilience"
)

// anthropicGateway implements Gateway on top of the official SDK.
// Anthropic has no JSON response format toggle, so structured calls
// rely on prompt instruction plus lenient parsing.
type anthropicGateway struct {
	client  sdk.Client
	model   string
	limiter *rate.Limiter
	retry   resilience.RetryConfig
}

// NewAnthropic creates a Gateway backed by the Anthropic API.
func NewAnthropic(apiKey, model string, maxRPM int) Gateway {
	g := &anthropicGateway{
		client: sdk.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
		retry:  resilience.DefaultRetryConfig(),
	}
	if maxRPM > 0 {
		g.limiter = rate.NewLimiter(rate.Limit(float64(maxRPM)/60.0), 1)
	}
	g.retry.OnRetry = resilience.RetryLogger("anthropic", "create_message")
	return g
}

func (g *anthropicGateway) Provider() string { return "anthropic" }
func (g *anthropicGateway) Model() string    { return g.model }

func (g *anthropicGateway) Generate(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "anthropic: rate limit wait")
		}
	}

	prompt := req.Prompt
	if req.JSONMode {
		prompt += "\n\nJawab HANYA dengan objek JSON yang valid, tanpa teks lain."
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(g.model),
		MaxTokens: int64(req.MaxTokens),
		Messages:  []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(prompt))},
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}
	temperature := req.Temperature
	if req.JSONMode && temperature > jsonModeMaxTemperature {
		temperature = jsonModeMaxTemperature
	}
	params.Temperature = sdk.Float(temperature)

	msg, err := resilience.DoVal(ctx, g.retry, func(ctx context.Context) (*sdk.Message, error) {
		m, err := g.client.Messages.New(ctx, params)
		if err != nil {
			return nil, eris.Wrap(err, "anthropic: create message")
		}
		return m, nil
	})
	if err != nil {
		if resilience.IsTransient(err) {
			return nil, &ExhaustedError{Prov: "anthropic", Attempts: g.retry.MaxAttempts, Err: err}
		}
		return nil, err
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	resp := &Response{
		Text: text,
		Usage: Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
		LatencyMS: time.Since(start).Milliseconds(),
	}
	if req.JSONMode {
		resp.Structured = ParseObject(text)
	}
	return resp, nil
}
