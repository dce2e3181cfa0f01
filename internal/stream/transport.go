package stream

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// Conn is one live push connection. Events is closed when the connection
// dies (remote close, read error, or Close); Err reports the terminal error
// afterwards, nil for a locally closed connection.
type Conn interface {
	Events() <-chan RawEvent
	Err() error
	Close() error
}

// Transport opens a push connection to a ticketed stream URL. Implementations
// must not retry on their own; the connection manager drives reconnection
// explicitly.
type Transport interface {
	Open(ctx context.Context, streamURL string) (Conn, error)
}

// UnexpectedStatusError is returned by a Transport when the stream endpoint
// answers with a non-success HTTP status.
type UnexpectedStatusError struct {
	Status int
}

// Error implements the error interface
func (e *UnexpectedStatusError) Error() string {
	return fmt.Sprintf("unexpected stream status code: %d", e.Status)
}

// BuildStreamURL constructs the ticketed terminal events URL
func BuildStreamURL(baseURL, ticket string) string {
	return strings.TrimRight(baseURL, "/") + "/pos/terminals/events?ticket=" + url.QueryEscape(ticket)
}
