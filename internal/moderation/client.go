package moderation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"modwatch/internal/config"

	"go.uber.org/zap"
)

const userAgent = "modwatch/1.0"

// Verdict is the analysis endpoint's classification of one message.
type Verdict struct {
	Flagged     bool   `json:"flagged"`
	FlaggedWord string `json:"flagged_word"`
	Reason      string `json:"reason"`
	Raw         []byte `json:"-"`
}

// NetworkError covers unreachable hosts, connection resets, and timeouts.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string { return "moderation api unreachable: " + e.Err.Error() }

func (e *NetworkError) Unwrap() error { return e.Err }

// APIError covers non-success statuses and malformed payloads.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("moderation api status %d: %s", e.StatusCode, e.Message)
	}
	return "moderation api: " + e.Message
}

type Client struct {
	baseURL  string
	apiKey   string
	http     *http.Client
	attempts int
	backoff  time.Duration
	logger   *zap.Logger
}

func NewClient(cfg config.ModerationConfig, logger *zap.Logger) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	attempts := cfg.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}
	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:   cfg.APIKey,
		http:     &http.Client{Timeout: timeout},
		attempts: attempts,
		backoff:  500 * time.Millisecond,
		logger:   logger,
	}
}

// Analyze submits message text for classification. Server errors and network
// failures are retried with exponential backoff; client errors and malformed
// payloads are terminal.
func (c *Client) Analyze(ctx context.Context, text string) (Verdict, error) {
	query := url.Values{}
	query.Set("text", text)
	target := c.baseURL + "?" + query.Encode()

	var lastErr error
	for attempt := 0; attempt < c.attempts; attempt++ {
		if attempt > 0 {
			if err := c.wait(ctx, attempt); err != nil {
				return Verdict{}, &NetworkError{Err: err}
			}
		}

		verdict, retryable, err := c.analyzeOnce(ctx, target)
		if err == nil {
			return verdict, nil
		}
		if !retryable {
			return Verdict{}, err
		}
		lastErr = err
		c.logger.Warn("moderation api retry",
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", c.attempts),
			zap.Error(err))
	}
	return Verdict{}, lastErr
}

func (c *Client) analyzeOnce(ctx context.Context, target string) (Verdict, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return Verdict{}, false, &APIError{Message: err.Error()}
	}
	req.Header.Set("User-Agent", userAgent)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Verdict{}, true, &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Verdict{}, true, &NetworkError{Err: err}
	}

	if resp.StatusCode >= 500 {
		return Verdict{}, true, &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}
	if resp.StatusCode >= 400 {
		return Verdict{}, false, &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}

	var verdict Verdict
	if err := json.Unmarshal(body, &verdict); err != nil {
		return Verdict{}, false, &APIError{StatusCode: resp.StatusCode, Message: "response is not valid JSON"}
	}
	verdict.Raw = body
	return verdict, false, nil
}

func (c *Client) wait(ctx context.Context, attempt int) error {
	delay := c.backoff * time.Duration(1<<(attempt-1))
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
