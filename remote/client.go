// Package remote is the HTTP client for the collections server's REST API.
// It normalizes every failure into the core's typed errors: network problems
// and 5xx become retryable transport errors, 4xx rejections become business
// errors carrying the server's message, and a 401 invalidates the session.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/cobranzas-app/cobrasync/domain"
	syncErrors "github.com/cobranzas-app/cobrasync/errors"
	"github.com/cobranzas-app/cobrasync/logging"
)

// DefaultTimeout bounds every request unless overridden with WithTimeout.
// Timeouts are transport errors and trigger the local fallback, never a
// business rejection.
const DefaultTimeout = 30 * time.Second

// maxBodyBytes caps response bodies read into memory.
const maxBodyBytes int64 = 8 << 20

// idempotencyKey threads a queue entry's key through context to the request
// headers during drain replay.
type idempotencyKeyCtx struct{}

// WithIdempotencyKey returns a context that stamps requests with the given
// X-Idempotency-Key header.
func WithIdempotencyKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, idempotencyKeyCtx{}, key)
}

// IdempotencyKeyFromContext returns the key set by WithIdempotencyKey, or "".
func IdempotencyKeyFromContext(ctx context.Context) string {
	key, _ := ctx.Value(idempotencyKeyCtx{}).(string)
	return key
}

// TokenProvider supplies the current bearer token. It is consulted per
// request so a re-login is picked up without rebuilding the client.
type TokenProvider func() string

// Client talks to the collections server.
type Client struct {
	baseURL string
	http    *http.Client
	token   TokenProvider
	logger  *slog.Logger

	// onSessionExpired runs on the first 401 of a session. sessionFired
	// keeps cascading failures from re-triggering it until ResetSession.
	onSessionExpired func()
	sessionFired     atomic.Bool
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout overrides the default request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// WithTokenProvider sets the bearer-token source.
func WithTokenProvider(tp TokenProvider) Option {
	return func(c *Client) { c.token = tp }
}

// WithSessionExpiredHandler sets the side effect run on the first 401
// (clearing stored credentials, forcing the login screen).
func WithSessionExpiredHandler(fn func()) Option {
	return func(c *Client) { c.onSessionExpired = fn }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a remote client for the given base URL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: DefaultTimeout},
		token:   func() string { return "" },
		logger:  logging.WithComponent(logging.Component("remote")).Logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the configured base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// ResetSession re-arms the session-expired handler after a re-login.
func (c *Client) ResetSession() { c.sessionFired.Store(false) }

// Clients fetches all clients.
func (c *Client) Clients(ctx context.Context) ([]domain.Client, error) {
	var out []domain.Client
	if err := c.do(ctx, syncErrors.OpGetClients, http.MethodGet, "/api/clients", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ClientByID fetches a single client with nested collections.
func (c *Client) ClientByID(ctx context.Context, id string) (*domain.Client, error) {
	var out domain.Client
	if err := c.do(ctx, syncErrors.OpGetClient, http.MethodGet,
		"/api/clients/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateClient registers a new client.
func (c *Client) CreateClient(ctx context.Context, in domain.ClientInput) (*domain.Client, error) {
	var out domain.Client
	if err := c.do(ctx, syncErrors.OpCreateClient, http.MethodPost,
		"/api/clients", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateClient applies a partial update.
func (c *Client) UpdateClient(ctx context.Context, id string, upd domain.ClientUpdate) (*domain.Client, error) {
	var out domain.Client
	if err := c.do(ctx, syncErrors.OpUpdateClient, http.MethodPut,
		"/api/clients/"+url.PathEscape(id), upd, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateCredit opens a credit for a client. The server computes the terms and
// enforces the single-active-credit rule; a violation comes back as a
// business error with code ACTIVE_CREDIT_EXISTS.
func (c *Client) CreateCredit(ctx context.Context, clientID string, in domain.CreditInput) (*domain.Credit, error) {
	var out domain.Credit
	if err := c.do(ctx, syncErrors.OpCreateCredit, http.MethodPost,
		"/api/clients/"+url.PathEscape(clientID)+"/credits", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreatePayment records a payment or visit note against a client.
func (c *Client) CreatePayment(ctx context.Context, clientID string, in domain.PaymentInput) (*domain.Payment, error) {
	var out domain.Payment
	if err := c.do(ctx, syncErrors.OpCreatePayment, http.MethodPost,
		"/api/clients/"+url.PathEscape(clientID)+"/payments", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// errorBody is the structured error shape the server returns on non-2xx.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// do performs one request/response cycle with error normalization.
func (c *Client) do(ctx context.Context, op syncErrors.Operation, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return syncErrors.NewStorage(op, fmt.Errorf("failed to marshal request: %w", err))
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return syncErrors.NewTransport(op, fmt.Errorf("failed to create request: %w", err))
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if key, ok := ctx.Value(idempotencyKeyCtx{}).(string); ok && key != "" {
		req.Header.Set("X-Idempotency-Key", key)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("request failed",
			slog.String("method", method),
			slog.String("path", path),
			slog.String("error", err.Error()))
		return syncErrors.NewTransport(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		// Fire the logout side effect once; cascading 401s from in-flight
		// requests must not re-trigger it.
		if c.onSessionExpired != nil && c.sessionFired.CompareAndSwap(false, true) {
			c.logger.Warn("session expired, clearing local session")
			c.onSessionExpired()
		}
		return syncErrors.NewSession(op)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return syncErrors.NewTransport(op, fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode >= 500 {
		c.logger.Error("server error",
			slog.Int("status", resp.StatusCode),
			slog.String("path", path))
		return syncErrors.NewTransport(op,
			fmt.Errorf("server error (status %d): %s", resp.StatusCode, raw))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var eb errorBody
		if jsonErr := json.Unmarshal(raw, &eb); jsonErr == nil && (eb.Error != "" || eb.Message != "") {
			message := eb.Message
			if message == "" {
				message = eb.Error
			}
			c.logger.Warn("business rejection",
				slog.Int("status", resp.StatusCode),
				slog.String("code", eb.Error),
				slog.String("message", message))
			return syncErrors.NewBusiness(op, eb.Error, message)
		}
		return syncErrors.NewBusiness(op, "", fmt.Sprintf("HTTP %d", resp.StatusCode))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return syncErrors.NewTransport(op, fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}
