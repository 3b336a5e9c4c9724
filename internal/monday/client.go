// Package monday implements the remote tree operations the importer needs
// on top of the monday.com GraphQL API.
package monday

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/withObsrvr/outline-importer/internal/metrics"
)

// DefaultEndpoint is the public GraphQL endpoint.
const DefaultEndpoint = "https://api.monday.com/v2"

// Config configures the client.
type Config struct {
	APIKey            string
	Endpoint          string
	APIVersion        string
	Timeout           time.Duration
	RequestsPerSecond float64 // 0 disables client-side pacing
	MaxRetries        uint64  // retries for 429 and 5xx responses
}

// RemoteError is a failed API call: a non-2xx status or a GraphQL error
// payload.
type RemoteError struct {
	Operation string
	Status    int
	Code      string
	Message   string
}

func (e *RemoteError) Error() string {
	if e.Status != 0 && e.Status != http.StatusOK {
		return fmt.Sprintf("monday %s: http %d: %s", e.Operation, e.Status, e.Message)
	}
	if e.Code != "" {
		return fmt.Sprintf("monday %s: %s: %s", e.Operation, e.Code, e.Message)
	}
	return fmt.Sprintf("monday %s: %s", e.Operation, e.Message)
}

// Retriable reports whether repeating the request may succeed.
func (e *RemoteError) Retriable() bool {
	return e.Throttled() || e.Status >= 500
}

// Throttled reports whether the request was rejected before it ran.
func (e *RemoteError) Throttled() bool {
	return e.Status == http.StatusTooManyRequests ||
		e.Code == "ComplexityException" || e.Code == "RATE_LIMIT_EXCEEDED"
}

// creates are mutations that add a node. A 5xx may arrive after the node was
// committed, so only throttled attempts are repeated.
var creates = map[string]bool{
	"create_board":   true,
	"create_group":   true,
	"create_item":    true,
	"create_subitem": true,
	"create_column":  true,
}

func retriable(op string, err error) bool {
	var remoteErr *RemoteError
	if !errors.As(err, &remoteErr) {
		return false
	}
	if creates[op] {
		return remoteErr.Throttled()
	}
	return remoteErr.Retriable()
}

// Client talks to the monday.com API.
type Client struct {
	endpoint   string
	apiKey     string
	apiVersion string
	httpClient *http.Client
	limiter    *rate.Limiter
	maxRetries uint64

	// retryInitial is the first backoff interval.
	retryInitial time.Duration

	log *slog.Logger
}

// NewClient creates a client. An API key is required.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("monday api key is required")
	}
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	c := &Client{
		endpoint:     endpoint,
		apiKey:       strings.TrimSpace(cfg.APIKey),
		apiVersion:   cfg.APIVersion,
		httpClient:   &http.Client{Timeout: timeout},
		maxRetries:   cfg.MaxRetries,
		retryInitial: 500 * time.Millisecond,
		log:          slog.With("component", "monday"),
	}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return c, nil
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphQLResponse struct {
	Data         json.RawMessage `json:"data"`
	Errors       []graphQLError  `json:"errors"`
	ErrorCode    string          `json:"error_code"`
	ErrorMessage string          `json:"error_message"`
}

type graphQLError struct {
	Message    string `json:"message"`
	Extensions struct {
		Code string `json:"code"`
	} `json:"extensions"`
}

// do runs one GraphQL operation, pacing and retrying transient failures, and
// decodes the "data" object into out.
func (c *Client) do(ctx context.Context, op, query string, vars map[string]any, out any) error {
	body, err := json.Marshal(graphQLRequest{Query: query, Variables: vars})
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", op, err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.retryInitial
	b := backoff.WithContext(backoff.WithMaxRetries(policy, c.maxRetries), ctx)

	attempt := func() error {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return backoff.Permanent(err)
			}
		}
		start := time.Now()
		err := c.post(ctx, op, body, out)
		if m := metrics.Get(); m != nil {
			m.ObserveRemoteRequest(op, time.Since(start).Seconds(), err)
		}
		if err != nil && !retriable(op, err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		c.log.Warn("retrying remote call", "operation", op, "error", err, "wait", wait)
		if m := metrics.Get(); m != nil {
			m.IncRemoteRetries(op)
		}
	}

	return backoff.RetryNotify(attempt, b, notify)
}

func (c *Client) post(ctx context.Context, op string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", c.apiKey)
	if c.apiVersion != "" {
		req.Header.Set("API-Version", c.apiVersion)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http do: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("http read: %w", err)
	}

	var gr graphQLResponse
	decodeErr := json.Unmarshal(respBody, &gr)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(respBody))
		if decodeErr == nil && gr.ErrorMessage != "" {
			msg = gr.ErrorMessage
		}
		return &RemoteError{Operation: op, Status: resp.StatusCode, Code: gr.ErrorCode, Message: msg}
	}
	if decodeErr != nil {
		return fmt.Errorf("json unmarshal response: %w", decodeErr)
	}

	if gr.ErrorMessage != "" {
		return &RemoteError{Operation: op, Status: resp.StatusCode, Code: gr.ErrorCode, Message: gr.ErrorMessage}
	}
	if len(gr.Errors) > 0 {
		msgs := make([]string, len(gr.Errors))
		for i, e := range gr.Errors {
			msgs[i] = e.Message
		}
		return &RemoteError{
			Operation: op,
			Status:    resp.StatusCode,
			Code:      gr.Errors[0].Extensions.Code,
			Message:   strings.Join(msgs, "; "),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(gr.Data, out); err != nil {
		return fmt.Errorf("json unmarshal data: %w", err)
	}
	return nil
}
