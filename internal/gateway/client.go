package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/flashpay/pos-terminald/pkg/logger"
)

// TokenSource supplies the terminal's bearer token. The credential store
// implements this; the client never persists tokens itself.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// APIError is a structured gateway error decoded from the standard
// {error: {code, message, request_id}} payload.
type APIError struct {
	Status    int
	Code      string
	Message   string
	RequestID string
}

// Error implements the error interface
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("gateway error %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("gateway error %d: %s", e.Status, e.Message)
}

// Options contains per-request options
type Options struct {
	Body           interface{} // JSON-encoded when non-nil
	IdempotencyKey string      // Sent as the Idempotency-Key header when set
}

// Response is the decoded gateway response
type Response struct {
	Data      json.RawMessage
	Status    int
	RequestID string
}

// Client is the authenticated POS gateway request capability. All mutating
// terminal commands and the events-ticket mint go through it.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
	logger     *logger.Logger
}

// NewClient creates a new gateway client
func NewClient(baseURL string, timeout time.Duration, tokens TokenSource, loggerObj *logger.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		tokens: tokens,
		logger: loggerObj.Named("gateway"),
	}
}

// BaseURL returns the configured base URL (no trailing slash)
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Request executes an authenticated request against the gateway and decodes
// the response. Non-2xx responses are returned as *APIError.
func (c *Client) Request(ctx context.Context, method, path string, opts Options) (*Response, error) {
	url := c.buildURL(path)

	var body io.Reader
	if opts.Body != nil {
		encoded, err := json.Marshal(opts.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read terminal token: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if opts.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if opts.IdempotencyKey != "" {
		req.Header.Set("Idempotency-Key", opts.IdempotencyKey)
	}
	req.Header.Set("Accept", "application/json")

	c.logger.Debug("Gateway request",
		logger.String("method", method),
		logger.String("path", path),
		logger.Bool("idempotent", opts.IdempotencyKey != ""))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	requestID := resp.Header.Get("X-Request-Id")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := decodeAPIError(resp.StatusCode, rawBody, requestID)
		c.logger.Warn("Gateway request failed",
			logger.String("method", method),
			logger.String("path", path),
			logger.Int("status", apiErr.Status),
			logger.String("code", apiErr.Code),
			logger.String("request_id", apiErr.RequestID))
		return nil, apiErr
	}

	return &Response{
		Data:      json.RawMessage(rawBody),
		Status:    resp.StatusCode,
		RequestID: requestID,
	}, nil
}

func (c *Client) buildURL(path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.baseURL + path
}

// decodeAPIError extracts the standard error envelope, falling back to a
// generic message when the body is not the expected shape.
func decodeAPIError(status int, body []byte, requestID string) *APIError {
	var envelope struct {
		Error struct {
			Code      string `json:"code"`
			Message   string `json:"message"`
			RequestID string `json:"request_id"`
		} `json:"error"`
	}

	apiErr := &APIError{
		Status:    status,
		Message:   fmt.Sprintf("POS API error (%d)", status),
		RequestID: requestID,
	}

	if err := json.Unmarshal(body, &envelope); err == nil {
		if envelope.Error.Code != "" {
			apiErr.Code = envelope.Error.Code
		}
		if envelope.Error.Message != "" {
			apiErr.Message = envelope.Error.Message
		}
		if envelope.Error.RequestID != "" {
			apiErr.RequestID = envelope.Error.RequestID
		}
	}

	return apiErr
}
