// SPDX-License-Identifier: MIT

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/chapterd/chapterd/internal/log"
	"github.com/chapterd/chapterd/internal/metrics"
)

const (
	userAgent      = "chapterd/1.0"
	defaultTimeout = 10 * time.Second

	// connectRetries re-dials inside a single attempt, below the retry
	// loop that spaces attempts out.
	connectRetries = 2

	// maxErrorBody caps how much of an error response is kept for the
	// error message.
	maxErrorBody = 2 << 10
)

// Config tunes the OpenAI-compatible client.
type Config struct {
	BaseURL       string
	APIKey        string
	RetryAttempts int           // total attempts, not extra retries
	RetryWait     time.Duration // fixed wait between attempts
	RPS           float64       // client-side pacing, 0 disables
	Burst         int
}

// StatusError is a chat completion response outside the 2xx/3xx range.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("llm: status %d: %s", e.Code, e.Body)
}

// OpenAI talks to a chat completion endpoint. Attempts that fail with a
// connection error, 502 or 429 are retried with a fixed wait.
type OpenAI struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	logger  zerolog.Logger
}

// NewOpenAI builds a client for an OpenAI-compatible endpoint.
func NewOpenAI(cfg Config) *OpenAI {
	if cfg.RetryAttempts < 1 {
		cfg.RetryAttempts = 1
	}
	var limiter *rate.Limiter
	if cfg.RPS > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}
	return &OpenAI{
		cfg:     cfg,
		http:    &http.Client{Transport: newTransport()},
		limiter: limiter,
		logger:  log.WithComponent("llm"),
	}
}

var _ Chat = (*OpenAI)(nil)

// newTransport re-dials failed connections a fixed number of times. The
// per-attempt timeout lives in the request context, not the client.
func newTransport() *http.Transport {
	dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	return &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			var lastErr error
			for i := 0; i <= connectRetries; i++ {
				conn, err := dialer.DialContext(ctx, network, addr)
				if err == nil {
					return conn, nil
				}
				lastErr = err
				if ctx.Err() != nil {
					break
				}
			}
			return nil, lastErr
		},
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
}

// Chat performs one chat completion with the client's retry policy and
// returns the first choice's content.
func (c *OpenAI) Chat(ctx context.Context, req ChatRequest) (string, error) {
	apiKey := req.APIKey
	if apiKey == "" {
		apiKey = c.cfg.APIKey
	}
	if apiKey == "" {
		return "", errors.New("llm: api key not configured")
	}

	payload, err := json.Marshal(struct {
		Messages []Message `json:"messages"`
		Model    string    `json:"model"`
		TopP     float64   `json:"top_p"`
	}{Messages: req.Messages, Model: req.Model, TopP: req.TopP})
	if err != nil {
		return "", fmt.Errorf("llm: encode request: %w", err)
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	var lastErr error
	for attempt := 1; attempt <= c.cfg.RetryAttempts; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return "", fmt.Errorf("llm: wait for rate limit: %w", err)
			}
		}

		content, err := c.send(ctx, req.Model, apiKey, payload, timeout)
		if err == nil {
			return content, nil
		}
		lastErr = err

		reason, retryable := retryReason(err)
		if !retryable || attempt == c.cfg.RetryAttempts {
			break
		}
		metrics.IncLLMRetry(req.Model, reason)
		c.logger.Info().
			Str("event", "llm.retry").
			Str("model", req.Model).
			Str("reason", reason).
			Int("attempt", attempt).
			Msg("retrying chat completion")

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(c.cfg.RetryWait):
		}
	}
	return "", lastErr
}

func (c *OpenAI) send(ctx context.Context, model, apiKey string, payload []byte, timeout time.Duration) (string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	u := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("llm: build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	start := time.Now()
	resp, err := c.http.Do(req)
	metrics.ObserveLLMDuration(model, time.Since(start))
	if err != nil {
		metrics.IncLLMRequest(model, "connect")
		return "", fmt.Errorf("llm: send request: %w", err)
	}
	defer resp.Body.Close()
	metrics.IncLLMRequest(model, strconv.Itoa(resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var body struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("llm: decode response: %w", err)
	}
	if len(body.Choices) == 0 {
		return "", errors.New("llm: response has no choices")
	}
	return body.Choices[0].Message.Content, nil
}

// retryReason classifies an error. Connection failures, 502 and 429 are
// retryable; timeouts and cancellation are not.
func retryReason(err error) (string, bool) {
	var se *StatusError
	if errors.As(err, &se) {
		switch se.Code {
		case http.StatusTooManyRequests:
			return "429", true
		case http.StatusBadGateway:
			return "502", true
		}
		return "", false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "", false
	}
	var ue *url.Error
	if errors.As(err, &ue) && !ue.Timeout() {
		return "connect", true
	}
	return "", false
}
