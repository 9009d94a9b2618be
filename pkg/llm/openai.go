package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/telephis/telephis/internal/resilience"
)

// jsonModeMaxTemperature caps sampling temperature for structured calls.
// Hosted models follow strict JSON formatting more reliably at low
// temperature.
const jsonModeMaxTemperature = 0.2

// chatRequest is the request body for POST /chat/completions.
type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature"`
	MaxTokens      int           `json:"max_tokens,omitempty"`
	ResponseFormat *respFormat   `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type respFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Index   int         `json:"index"`
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// OpenAIOption configures an OpenAI-compatible gateway.
type OpenAIOption func(*openAIGateway)

// WithBaseURL overrides the endpoint base URL.
func WithBaseURL(url string) OpenAIOption {
	return func(g *openAIGateway) {
		g.baseURL = url
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) OpenAIOption {
	return func(g *openAIGateway) {
		g.http = hc
	}
}

// WithMaxRPM enables client-side requests-per-minute throttling.
// Zero disables the throttle.
func WithMaxRPM(rpm int) OpenAIOption {
	return func(g *openAIGateway) {
		if rpm > 0 {
			g.limiter = rate.NewLimiter(rate.Limit(float64(rpm)/60.0), 1)
		}
	}
}

// WithRetryConfig overrides the default retry behavior.
func WithRetryConfig(cfg resilience.RetryConfig) OpenAIOption {
	return func(g *openAIGateway) {
		g.retry = cfg
	}
}

// openAIGateway talks to any OpenAI-compatible chat completions
// endpoint (DeepSeek, OpenRouter).
type openAIGateway struct {
	provider string
	apiKey   string
	baseURL  string
	model    string
	http     *http.Client
	limiter  *rate.Limiter
	retry    resilience.RetryConfig
}

// NewOpenAI creates a gateway for an OpenAI-compatible provider.
func NewOpenAI(provider, apiKey, baseURL, model string, opts ...OpenAIOption) Gateway {
	g := &openAIGateway{
		provider: provider,
		apiKey:   apiKey,
		baseURL:  baseURL,
		model:    model,
		http: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		retry: resilience.DefaultRetryConfig(),
	}
	for _, o := range opts {
		o(g)
	}
	if g.retry.OnRetry == nil {
		g.retry.OnRetry = resilience.RetryLogger(provider, "chat_completion")
	}
	return g
}

func (g *openAIGateway) Provider() string { return g.provider }
func (g *openAIGateway) Model() string    { return g.model }

// Generate performs one structured generation call. In JSON mode the
// response is parsed leniently; if nothing usable comes back, a single
// stricter re-prompt is attempted before returning the raw text with an
// empty Structured map. Callers decide their own fallback.
func (g *openAIGateway) Generate(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	resp, err := g.call(ctx, req, req.Prompt)
	if err != nil {
		return nil, err
	}

	if req.JSONMode {
		resp.Structured = ParseObject(resp.Text)
		if len(resp.Structured) == 0 {
			// One repair attempt with an explicit reminder.
			retryPrompt := req.Prompt + "\n\nJawab HANYA dengan objek JSON yang valid, tanpa teks lain."
			second, err := g.call(ctx, req, retryPrompt)
			if err == nil {
				second.Usage.InputTokens += resp.Usage.InputTokens
				second.Usage.OutputTokens += resp.Usage.OutputTokens
				second.Structured = ParseObject(second.Text)
				resp = second
			}
		}
	}

	resp.LatencyMS = time.Since(start).Milliseconds()
	return resp, nil
}

func (g *openAIGateway) call(ctx context.Context, req Request, prompt string) (*Response, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, g.provider+": rate limit wait")
		}
	}

	temperature := req.Temperature
	if req.JSONMode && temperature > jsonModeMaxTemperature {
		temperature = jsonModeMaxTemperature
	}

	body := chatRequest{
		Model:       g.model,
		Temperature: temperature,
		MaxTokens:   req.MaxTokens,
	}
	if req.System != "" {
		body.Messages = append(body.Messages, chatMessage{Role: "system", Content: req.System})
	}
	body.Messages = append(body.Messages, chatMessage{Role: "user", Content: prompt})
	if req.JSONMode {
		body.ResponseFormat = &respFormat{Type: "json_object"}
	}

	resp, err := resilience.DoVal(ctx, g.retry, func(ctx context.Context) (*Response, error) {
		return g.doRequest(ctx, body)
	})
	if err != nil {
		if resilience.IsTransient(err) {
			return nil, &ExhaustedError{Prov: g.provider, Attempts: g.retry.MaxAttempts, Err: err}
		}
		return nil, err
	}
	return resp, nil
}

func (g *openAIGateway) doRequest(ctx context.Context, body chatRequest) (*Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, eris.Wrap(err, g.provider+": marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, eris.Wrap(err, g.provider+": create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)

	httpResp, err := g.http.Do(httpReq)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, g.provider+": send request"), 0)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, g.provider+": read response"), 0)
	}

	if httpResp.StatusCode != http.StatusOK {
		apiErr := eris.Errorf("%s: unexpected status %d: %s", g.provider, httpResp.StatusCode, string(respBody))
		// Auth, permission, bad-request, and unknown-model statuses are
		// never retried.
		if resilience.IsTransientHTTPStatus(httpResp.StatusCode) {
			return nil, resilience.NewTransientError(apiErr, httpResp.StatusCode)
		}
		return nil, apiErr
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, eris.Wrap(err, g.provider+": unmarshal response")
	}
	if len(parsed.Choices) == 0 {
		return nil, eris.New(g.provider + ": empty choices in response")
	}

	return &Response{
		Text: parsed.Choices[0].Message.Content,
		Usage: Usage{
			InputTokens:  parsed.Usage.PromptTokens,
			OutputTokens: parsed.Usage.CompletionTokens,
		},
	}, nil
}
