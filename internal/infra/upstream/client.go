// File: internal/infra/upstream/client.go
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"gpt-subscription-orchestrator/internal/domain/model"
	"gpt-subscription-orchestrator/internal/domain/ports/adapter"
)

var _ adapter.UpstreamActivator = (*Client)(nil)

// RateLimiter budgets calls against the activation API; a fixed-window
// counter backed by Redis in production.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

const rateLimitKey = "rate_limit:upstream:activate"

// Options configures the activation client.
type Options struct {
	BaseURL      string
	Token        string
	Timeout      time.Duration // hard ceiling for one Activate call
	PollInterval time.Duration
	MaxPolls     int
	RateLimit    int // calls per window; 0 disables limiting
	RateWindow   time.Duration
}

// Client redeems activation codes against the external API. The upstream is
// asynchronous (submit returns a task, the task settles later); Activate
// hides the polling and presents one terminal outcome.
//
// Outcome policy: a domain-level rejection is final and returned without
// retry. A transport failure on submit is retried once; any uncertainty
// after that (timeout, connection lost, polls exhausted) is reported as the
// ambiguous outcome so the caller never consumes a key it cannot prove was
// redeemed.
type Client struct {
	opts    Options
	httpc   *http.Client
	limiter RateLimiter
	log     *zerolog.Logger
}

func NewClient(opts Options, limiter RateLimiter, logger *zerolog.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 90 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 3 * time.Second
	}
	if opts.MaxPolls <= 0 {
		opts.MaxPolls = 20
	}
	l := logger.With().Str("component", "UpstreamClient").Logger()
	return &Client{
		opts:    opts,
		httpc:   &http.Client{Timeout: opts.Timeout},
		limiter: limiter,
		log:     &l,
	}
}

type submitRequest struct {
	Code    string          `json:"code"`
	Session json.RawMessage `json:"session"`
}

type taskResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"` // pending | fulfilled | rejected
	Reason string `json:"reason,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Activate submits one (code, credential) redemption and polls the task to
// a terminal state.
func (c *Client) Activate(ctx context.Context, code, credentialPayload string) (model.ActivationOutcome, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	if err := c.waitForBudget(ctx); err != nil {
		// Never got to the wire; plain failure, not ambiguous.
		return model.RejectedOutcome("rate_limited"), nil
	}

	task, err := c.submit(ctx, code, credentialPayload)
	if err != nil {
		// One retry for a flaky connection. A second failure means the
		// request may or may not have reached the upstream.
		select {
		case <-ctx.Done():
			return model.AmbiguousOutcome(), nil
		case <-time.After(500 * time.Millisecond):
		}
		task, err = c.submit(ctx, code, credentialPayload)
		if err != nil {
			c.log.Warn().Err(err).Msg("submit failed twice")
			return model.AmbiguousOutcome(), nil
		}
	}

	switch task.Status {
	case "fulfilled":
		return model.SuccessOutcome(task.TaskID), nil
	case "rejected":
		return model.RejectedOutcome(rejectReason(task)), nil
	}

	return c.poll(ctx, task.TaskID)
}

func (c *Client) submit(ctx context.Context, code, credentialPayload string) (*taskResponse, error) {
	body, err := json.Marshal(submitRequest{Code: code, Session: json.RawMessage(credentialPayload)})
	if err != nil {
		return nil, fmt.Errorf("marshal submit request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.BaseURL+"/v1/activations", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.opts.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.opts.Token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return decodeTask(resp)
}

func (c *Client) poll(ctx context.Context, taskID string) (model.ActivationOutcome, error) {
	for i := 0; i < c.opts.MaxPolls; i++ {
		select {
		case <-ctx.Done():
			return model.AmbiguousOutcome(), nil
		case <-time.After(c.opts.PollInterval):
		}

		task, err := c.fetchTask(ctx, taskID)
		if err != nil {
			// The task exists upstream; a failed poll is retried until the
			// budget runs out.
			c.log.Debug().Err(err).Str("task_id", taskID).Int("poll", i+1).Msg("poll failed")
			continue
		}
		switch task.Status {
		case "fulfilled":
			return model.SuccessOutcome(taskID), nil
		case "rejected":
			return model.RejectedOutcome(rejectReason(task)), nil
		}
	}
	c.log.Warn().Str("task_id", taskID).Msg("task still pending after poll budget")
	return model.AmbiguousOutcome(), nil
}

func (c *Client) fetchTask(ctx context.Context, taskID string) (*taskResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.opts.BaseURL+"/v1/activations/"+taskID, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.opts.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.opts.Token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return decodeTask(resp)
}

func decodeTask(resp *http.Response) (*taskResponse, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	var task taskResponse
	if err := json.Unmarshal(body, &task); err != nil {
		return nil, fmt.Errorf("decode response (HTTP %d): %w", resp.StatusCode, err)
	}
	// 4xx with a structured error is a domain rejection, not a transport
	// problem.
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		task.Status = "rejected"
		if task.Reason == "" {
			task.Reason = task.Error
		}
		return &task, nil
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("upstream HTTP %d", resp.StatusCode)
	}
	return &task, nil
}

func rejectReason(task *taskResponse) string {
	if task.Reason != "" {
		return task.Reason
	}
	if task.Error != "" {
		return task.Error
	}
	return "rejected"
}

func (c *Client) waitForBudget(ctx context.Context) error {
	if c.limiter == nil || c.opts.RateLimit <= 0 {
		return nil
	}
	for {
		ok, err := c.limiter.Allow(ctx, rateLimitKey, c.opts.RateLimit, c.opts.RateWindow)
		if err != nil {
			// A broken limiter should not block activations.
			c.log.Warn().Err(err).Msg("rate limiter unavailable")
			return nil
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
}
