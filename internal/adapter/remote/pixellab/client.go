// Package pixellab implements the authenticated client for the remote sprite
// generation API.
package pixellab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fairyhunter13/sprite-forge/internal/adapter/observability"
	"github.com/fairyhunter13/sprite-forge/internal/config"
	"github.com/fairyhunter13/sprite-forge/internal/domain"
	"github.com/fairyhunter13/sprite-forge/internal/service/ratelimiter"
)

// credentialRe is the accepted shape of an API key. Length is checked
// separately so the error can say which rule failed.
var credentialRe = regexp.MustCompile(`^[A-Za-z0-9-]+$`)

const minCredentialLen = 32

// optionWire maps prompt option keys to the remote's snake_case payload
// fields.
var optionWire = map[string]string{
	"detail":            "detail",
	"shading":           "shading",
	"outline":           "outline",
	"view":              "view",
	"nDirections":       "n_directions",
	"aiFreedom":         "ai_freedom",
	"textGuidanceScale": "text_guidance_scale",
	"initImage":         "init_image",
}

// Client talks to the generation API. Every outbound call waits on the rate
// limiter first and every failure is returned already classified.
type Client struct {
	mu      sync.RWMutex
	apiKey  string
	baseURL string
	hc      *http.Client
	limiter ratelimiter.Limiter
}

// New constructs a client from config. A configured API key is validated
// immediately; an empty key is allowed so tests and admin flows can set it
// later via SetCredentials.
func New(cfg config.Config, limiter ratelimiter.Limiter) (*Client, error) {
	c := &Client{
		baseURL: strings.TrimRight(cfg.PixelLabBaseURL, "/"),
		hc: &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		limiter: limiter,
	}
	if cfg.PixelLabAPIKey != "" {
		if err := c.SetCredentials(cfg.PixelLabAPIKey); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// SetCredentials validates and installs a new API key. The key is never
// logged in full.
func (c *Client) SetCredentials(key string) error {
	if len(key) < minCredentialLen {
		return domain.NewClassifiedError(domain.KindAuthentication, false,
			fmt.Sprintf("api key too short: %d chars, need at least %d", len(key), minCredentialLen))
	}
	if !credentialRe.MatchString(key) {
		return domain.NewClassifiedError(domain.KindAuthentication, false,
			"api key may only contain letters, digits, and hyphens")
	}
	c.mu.Lock()
	c.apiKey = key
	c.mu.Unlock()
	slog.Info("remote credentials updated", slog.String("api_key", observability.Redact(key)))
	return nil
}

func (c *Client) credential() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.apiKey
}

// Submit posts a new generation request and returns the remote's receipt.
func (c *Client) Submit(ctx context.Context, prompt domain.StructuredPrompt) (domain.SubmitReceipt, error) {
	payload := map[string]any{
		"description": prompt.Description,
		"size": map[string]int{
			"width":  prompt.Size.Width,
			"height": prompt.Size.Height,
		},
	}
	for k, v := range prompt.Options {
		if wire, ok := optionWire[k]; ok {
			payload[wire] = v
		}
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return domain.SubmitReceipt{}, domain.Classify(fmt.Errorf("op=pixellab.submit: encode payload: %w", err))
	}

	status, body, _, err := c.do(ctx, "submit", http.MethodPost, "/v1/characters", bytes.NewReader(b))
	if err != nil {
		return domain.SubmitReceipt{}, err
	}
	var out struct {
		CharacterID string `json:"character_id"`
		Name        string `json:"name"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return domain.SubmitReceipt{}, domain.Classify(fmt.Errorf("op=pixellab.submit: decode response (status %d): %w", status, err))
	}
	if out.CharacterID == "" {
		return domain.SubmitReceipt{}, domain.NewClassifiedError(domain.KindServerError, true,
			fmt.Sprintf("submit accepted (status %d) without a character_id", status))
	}
	return domain.SubmitReceipt{RemoteJobID: out.CharacterID, Name: out.Name}, nil
}

// Poll fetches the current state of a remote job. Transport failures and 5xx
// come back as classified errors; every other response goes through the
// status parser.
func (c *Client) Poll(ctx context.Context, remoteJobID string) (domain.RemoteJobStatus, error) {
	status, body, header, err := c.doRaw(ctx, "poll", http.MethodGet, "/v1/characters/"+remoteJobID, nil)
	if err != nil {
		return domain.RemoteJobStatus{}, err
	}
	if status >= 500 {
		return domain.RemoteJobStatus{}, domain.Classify(&domain.RemoteStatusError{
			StatusCode: status,
			Detail:     failureMessage(body),
			RetryAfter: parseHeaderSeconds(header.Get("Retry-After")),
		})
	}
	return ParseStatus(status, header, body), nil
}

// Balance fetches the account's remaining credits.
func (c *Client) Balance(ctx context.Context) (float64, error) {
	_, body, _, err := c.do(ctx, "balance", http.MethodGet, "/balance", nil)
	if err != nil {
		return 0, err
	}
	var out struct {
		Credits float64 `json:"credits"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return 0, domain.Classify(fmt.Errorf("op=pixellab.balance: decode response: %w", err))
	}
	return out.Credits, nil
}

// do performs a request and treats any non-2xx status as a classified error.
func (c *Client) do(ctx context.Context, op, method, path string, body io.Reader) (int, []byte, http.Header, error) {
	status, respBody, header, err := c.doRaw(ctx, op, method, path, body)
	if err != nil {
		return 0, nil, nil, err
	}
	if status < 200 || status >= 300 {
		return 0, nil, nil, domain.Classify(&domain.RemoteStatusError{
			StatusCode: status,
			Detail:     failureMessage(respBody),
			RetryAfter: parseHeaderSeconds(header.Get("Retry-After")),
		})
	}
	return status, respBody, header, nil
}

// doRaw performs one rate-limited request and returns the raw response.
// Transport failures are classified; HTTP statuses are the caller's problem.
func (c *Client) doRaw(ctx context.Context, op, method, path string, body io.Reader) (int, []byte, http.Header, error) {
	if err := c.limiter.Acquire(ctx); err != nil {
		return 0, nil, nil, domain.Classify(fmt.Errorf("op=pixellab.%s: rate limiter: %w", op, err))
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, nil, nil, domain.Classify(fmt.Errorf("op=pixellab.%s: build request: %w", op, err))
	}
	req.Header.Set("Authorization", "Bearer "+c.credential())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.hc.Do(req)
	observability.RemoteRequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		observability.RemoteRequestsTotal.WithLabelValues(op, "transport_error").Inc()
		slog.Warn("remote request failed",
			slog.String("operation", op),
			slog.String("path", path),
			slog.Any("error", err))
		return 0, nil, nil, domain.Classify(err)
	}
	defer func() { _ = resp.Body.Close() }()
	observability.RemoteRequestsTotal.WithLabelValues(op, strconv.Itoa(resp.StatusCode)).Inc()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, nil, domain.Classify(fmt.Errorf("op=pixellab.%s: read response: %w", op, err))
	}
	return resp.StatusCode, respBody, resp.Header, nil
}

func parseHeaderSeconds(raw string) time.Duration {
	s, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || s <= 0 {
		return 0
	}
	return time.Duration(s) * time.Second
}
