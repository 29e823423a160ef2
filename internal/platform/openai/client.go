package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/yungbote/counselbridge-backend/internal/observability"
	"github.com/yungbote/counselbridge-backend/internal/platform/ctxutil"
	"github.com/yungbote/counselbridge-backend/internal/platform/envutil"
	"github.com/yungbote/counselbridge-backend/internal/platform/httpx"
	"github.com/yungbote/counselbridge-backend/internal/platform/logger"
	"github.com/yungbote/counselbridge-backend/internal/platform/promptstyle"
)

// Client is the narrow surface the services need from the model provider.
type Client interface {
	GenerateText(ctx context.Context, system, user string) (string, error)
	GenerateJSON(ctx context.Context, system, user, schemaName string, schema map[string]interface{}) (map[string]interface{}, error)
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
}

type client struct {
	log         *logger.Logger
	httpClient  *http.Client
	apiKey      string
	baseURL     string
	model       string
	embedModel  string
	maxRetries  int
	temperature float64

	mu          sync.Mutex
	noTempModel map[string]bool
}

func NewClient(log *logger.Logger) (Client, error) {
	apiKey := envutil.Str("OPENAI_API_KEY", "")
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is not set")
	}
	timeout := time.Duration(envutil.Int("OPENAI_TIMEOUT_SECONDS", 60)) * time.Second
	c := &client{
		log:         log.With("client", "openai"),
		httpClient:  &http.Client{Timeout: timeout},
		apiKey:      apiKey,
		baseURL:     strings.TrimRight(envutil.Str("OPENAI_BASE_URL", "https://api.openai.com/v1"), "/"),
		model:       envutil.Str("OPENAI_MODEL", "gpt-4o-mini"),
		embedModel:  envutil.Str("OPENAI_EMBED_MODEL", "text-embedding-3-small"),
		maxRetries:  envutil.Int("OPENAI_MAX_RETRIES", 3),
		temperature: envutil.Float("OPENAI_TEMPERATURE", 0.2),
		noTempModel: map[string]bool{},
	}
	return c, nil
}

type openAIHTTPError struct {
	status int
	body   string
}

func (e *openAIHTTPError) Error() string {
	return fmt.Sprintf("openai: http %d: %s", e.status, truncate(e.body, 300))
}

func (e *openAIHTTPError) HTTPStatusCode() int { return e.status }

type responsesRequest struct {
	Model       string         `json:"model"`
	Input       []inputMessage `json:"input"`
	Text        *textOptions   `json:"text,omitempty"`
	Temperature *float64       `json:"temperature,omitempty"`
}

type inputMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type textOptions struct {
	Format *textFormat `json:"format,omitempty"`
}

type textFormat struct {
	Type   string                 `json:"type"`
	Name   string                 `json:"name,omitempty"`
	Schema map[string]interface{} `json:"schema,omitempty"`
	Strict bool                   `json:"strict,omitempty"`
}

type responsesResponse struct {
	Output []struct {
		Type    string `json:"type"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"output"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func extractOutputText(resp *responsesResponse) string {
	var b strings.Builder
	for _, out := range resp.Output {
		if out.Type != "message" {
			continue
		}
		for _, c := range out.Content {
			if c.Type == "output_text" {
				b.WriteString(c.Text)
			}
		}
	}
	return strings.TrimSpace(b.String())
}

func (c *client) GenerateText(ctx context.Context, system, user string) (string, error) {
	system = promptstyle.ApplySystem(system, "text")
	req := responsesRequest{
		Model: c.model,
		Input: []inputMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	}
	resp, err := c.doResponsesWithTempFallback(ctx, req, "generate_text")
	if err != nil {
		return "", err
	}
	text := extractOutputText(resp)
	if text == "" {
		return "", fmt.Errorf("openai: empty model output")
	}
	return text, nil
}

func (c *client) GenerateJSON(ctx context.Context, system, user, schemaName string, schema map[string]interface{}) (map[string]interface{}, error) {
	system = promptstyle.ApplySystem(system, "json")
	req := responsesRequest{
		Model: c.model,
		Input: []inputMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Text: &textOptions{Format: &textFormat{
			Type:   "json_schema",
			Name:   schemaName,
			Schema: schema,
			Strict: true,
		}},
	}
	resp, err := c.doResponsesWithTempFallback(ctx, req, "generate_json")
	if err != nil {
		return nil, err
	}
	text := extractOutputText(resp)
	text = stripCodeFences(text)
	if text == "" {
		return nil, fmt.Errorf("openai: empty model output")
	}
	var out map[string]interface{}
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return nil, fmt.Errorf("openai: decode structured output: %w (raw=%s)", err, truncate(text, 200))
	}
	return out, nil
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Usage struct {
		PromptTokens int `json:"prompt_tokens"`
	} `json:"usage"`
}

func (c *client) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	body, err := json.Marshal(embedRequest{Model: c.embedModel, Input: inputs})
	if err != nil {
		return nil, err
	}
	raw, err := c.doWithClient(ctx, http.MethodPost, "/embeddings", body, "embed")
	if err != nil {
		return nil, err
	}
	var resp embedResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("openai: decode embeddings: %w", err)
	}
	out := make([][]float32, len(inputs))
	for _, d := range resp.Data {
		if d.Index >= 0 && d.Index < len(out) {
			out[d.Index] = d.Embedding
		}
	}
	for i, v := range out {
		if v == nil {
			return nil, fmt.Errorf("openai: missing embedding at index %d", i)
		}
	}
	return out, nil
}

func (c *client) doResponsesWithTempFallback(ctx context.Context, req responsesRequest, op string) (*responsesResponse, error) {
	if c.temperature > 0 && !c.modelRejectsTemperature(req.Model) {
		t := c.temperature
		req.Temperature = &t
	}
	resp, err := c.doResponses(ctx, req, op)
	if err != nil && req.Temperature != nil && isTemperatureUnsupported(err) {
		c.noteNoTempModel(req.Model)
		req.Temperature = nil
		resp, err = c.doResponses(ctx, req, op)
	}
	return resp, err
}

func (c *client) doResponses(ctx context.Context, req responsesRequest, op string) (*responsesResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	raw, err := c.doWithClient(ctx, http.MethodPost, "/responses", body, op)
	if err != nil {
		return nil, err
	}
	var resp responsesResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("openai: decode response: %w", err)
	}
	if resp.Error != nil && resp.Error.Message != "" {
		return nil, fmt.Errorf("openai: %s", resp.Error.Message)
	}
	return &resp, nil
}

func (c *client) doWithClient(ctx context.Context, method, path string, body []byte, op string) ([]byte, error) {
	ctx = ctxutil.Default(ctx)
	var lastErr error
	backoff := 500 * time.Millisecond
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			sleep := httpx.JitterSleep(backoff)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(sleep):
			}
			backoff *= 2
		}
		start := time.Now()
		raw, resp, err := c.doOnce(ctx, method, path, body)
		dur := time.Since(start)
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		observability.Current().ObserveLLMRequest(op, c.model, status, dur, estimateTokens(body), estimateTokens(raw), err)
		if err == nil {
			return raw, nil
		}
		lastErr = err
		if !httpx.IsRetryableError(err) || errors.Is(ctx.Err(), context.Canceled) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, err
		}
		if resp != nil {
			backoff = httpx.RetryAfterDuration(resp, backoff, 15*time.Second)
		}
		c.log.Warn("openai request retrying", "op", op, "attempt", attempt+1, "status", status, "error", err.Error())
	}
	return nil, lastErr
}

func (c *client) doOnce(ctx context.Context, method, path string, body []byte) ([]byte, *http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, resp, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, resp, &openAIHTTPError{status: resp.StatusCode, body: string(raw)}
	}
	return raw, resp, nil
}

func (c *client) modelRejectsTemperature(model string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.noTempModel[model]
}

func (c *client) noteNoTempModel(model string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.noTempModel[model] = true
}

func isTemperatureUnsupported(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "temperature") &&
		(strings.Contains(msg, "unsupported") || strings.Contains(msg, "does not support") || strings.Contains(msg, "not supported"))
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// estimateTokens is a rough chars/4 heuristic used only for telemetry.
func estimateTokens(b []byte) int {
	if len(b) == 0 {
		return 0
	}
	return len(b) / 4
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
