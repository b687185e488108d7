package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/xiaoyaoyouzizai/logfile-transfer/internal/config"
	"github.com/xiaoyaoyouzizai/logfile-transfer/internal/logging"
)

const (
	defaultWebhookTimeout    = 10 * time.Second
	defaultWebhookRetries    = 3
	defaultWebhookRetryDelay = 500 * time.Millisecond
	defaultWebhookMaxDelay   = 10 * time.Second
	userAgent                = "logtransfer/1"
)

type webhookPayload struct {
	Dir     string `json:"dir"`
	File    string `json:"file"`
	Line    string `json:"line"`
	Number  int    `json:"number"`
	Pattern string `json:"pattern"`
}

type webhookHandler struct {
	name       string
	url        string
	headers    map[string]string
	client     *http.Client
	maxRetries int
	retryDelay time.Duration
	maxDelay   time.Duration
	logger     *slog.Logger
}

type httpStatusError struct {
	StatusCode int
	Body       string
}

func (e *httpStatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("webhook returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("webhook returned status %d: %s", e.StatusCode, e.Body)
}

// NewWebhook builds a handler that POSTs each line as JSON, retrying
// transient failures with exponential backoff.
func NewWebhook(cfg config.Handler, deps Deps) (Handler, error) {
	if cfg.URL == "" {
		return nil, errors.New("url is required")
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	client := deps.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	retries := defaultWebhookRetries
	if cfg.MaxRetries != nil {
		retries = *cfg.MaxRetries
	}
	return &webhookHandler{
		name:       nameOf(cfg),
		url:        cfg.URL,
		headers:    cfg.Headers,
		client:     client,
		maxRetries: retries,
		retryDelay: defaultWebhookRetryDelay,
		maxDelay:   defaultWebhookMaxDelay,
		logger:     logging.NewComponentLogger(deps.Logger, "webhook"),
	}, nil
}

func (h *webhookHandler) Name() string { return h.name }

func (h *webhookHandler) Init(context.Context) error { return nil }

func (h *webhookHandler) Handle(ctx context.Context, line Line) error {
	body, err := json.Marshal(webhookPayload{
		Dir:     line.Dir,
		File:    line.File,
		Line:    line.Text,
		Number:  line.Number,
		Pattern: line.Pattern,
	})
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	requestID := uuid.NewString()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = h.retryDelay
	policy.MaxInterval = h.maxDelay

	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, h.post(ctx, body, requestID)
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(h.maxRetries+1)),
		backoff.WithNotify(func(err error, next time.Duration) {
			h.logger.Debug("retrying webhook delivery",
				logging.String("request_id", requestID),
				logging.Error(err),
				logging.Duration("next_retry", next),
			)
		}),
	)
	return err
}

func (h *webhookHandler) post(ctx context.Context, body []byte, requestID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Request-ID", requestID)
	for key, value := range h.headers {
		req.Header.Set(key, value)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	statusErr := &httpStatusError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(snippet))}
	switch {
	case resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= http.StatusInternalServerError:
		return statusErr
	default:
		return backoff.Permanent(statusErr)
	}
}
