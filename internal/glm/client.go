package glm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/avelar/image-studio/internal/config"
)

// Client issues authenticated POST requests to the GLM endpoints. One
// instance is shared by the optimizer and the generator; it is safe for
// concurrent use.
type Client struct {
	apiKey      string
	chatURL     string
	imageURL    string
	chatModel   string
	imageModel  string
	maxRetries  int
	backoffBase time.Duration
	httpClient  *http.Client
	logger      *zap.Logger

	// sleep is swapped out in tests to avoid real backoff waits.
	sleep func(time.Duration)
}

// NewClient builds a Client from config. The HTTP client carries the
// per-request timeout; retries never extend a single attempt beyond it.
func NewClient(cfg config.GLMConfig, logger *zap.Logger) *Client {
	return &Client{
		apiKey:      cfg.APIKey,
		chatURL:     cfg.ChatURL,
		imageURL:    cfg.ImageURL,
		chatModel:   cfg.ChatModel,
		imageModel:  cfg.ImageModel,
		maxRetries:  cfg.MaxRetries,
		backoffBase: cfg.BackoffBase,
		httpClient:  &http.Client{Timeout: cfg.RequestTimeout},
		logger:      logger,
		sleep:       time.Sleep,
	}
}

// postRetry marshals payload, POSTs it to url and returns the response body.
// Transient failures (network errors, non-2xx statuses) are retried up to
// maxRetries times with exponential backoff starting at backoffBase. A
// response body containing the word "policy" (case-insensitive) classifies
// the failure as a content-policy rejection: it is wrapped in
// ErrPolicyViolation and returned without further attempts.
//
// The second return value counts retries actually spent, for bookkeeping on
// the generation record.
func (c *Client) postRetry(ctx context.Context, url, endpoint string, payload any) ([]byte, int, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, fmt.Errorf("marshal payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, attempt - 1, ctx.Err()
			default:
			}
			c.sleep(c.backoffBase << (attempt - 1))
		}

		body, status, err := c.post(ctx, url, jsonData)
		if err != nil {
			lastErr = err
			c.logger.Warn("upstream request failed",
				zap.String("endpoint", endpoint), zap.Int("attempt", attempt), zap.Error(err))
			continue
		}
		if status < 200 || status > 299 {
			if isPolicyRejection(body) {
				return nil, attempt, fmt.Errorf("%w: %s", ErrPolicyViolation, summarize(body))
			}
			lastErr = fmt.Errorf("api returned %d", status)
			c.logger.Warn("upstream error status",
				zap.String("endpoint", endpoint), zap.Int("attempt", attempt), zap.Int("status", status))
			continue
		}
		return body, attempt, nil
	}
	return nil, c.maxRetries, fmt.Errorf("%w: %v", ErrUpstream, lastErr)
}

func (c *Client) post(ctx context.Context, url string, body []byte) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return respBody, resp.StatusCode, nil
}

// isPolicyRejection applies the provider's moderation heuristic: the error
// payload of a rejected prompt mentions "policy". The provider exposes no
// structured code for this today.
// TODO: switch to the structured error code once the provider publishes one.
func isPolicyRejection(body []byte) bool {
	return strings.Contains(strings.ToLower(string(body)), "policy")
}

// summarize shortens an upstream error body so it fits a moderation event
// reason column without dumping whole payloads around. Truncation counts
// runes so a multi-byte character is never cut in half.
func summarize(body []byte) string {
	s := strings.TrimSpace(string(body))
	if rs := []rune(s); len(rs) > 300 {
		s = string(rs[:300])
	}
	return s
}
