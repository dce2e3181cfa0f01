package stream

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/flashpay/pos-terminald/pkg/logger"
)

// HTTPTransport is the production Transport: a plain GET with
// Accept: text/event-stream, parsed frame by frame. The HTTP client carries
// no timeout because the stream is long-lived.
type HTTPTransport struct {
	client *http.Client
	logger *logger.Logger
}

// NewHTTPTransport creates a new SSE transport
func NewHTTPTransport(log *logger.Logger) *HTTPTransport {
	return &HTTPTransport{
		client: &http.Client{},
		logger: log.Named("sse-transport"),
	}
}

// Open establishes the stream connection. It returns once response headers
// arrive; frame delivery happens on the returned Conn.
func (t *HTTPTransport) Open(ctx context.Context, streamURL string) (Conn, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, &UnexpectedStatusError{Status: resp.StatusCode}
	}

	conn := &sseConn{
		body:   resp.Body,
		events: make(chan RawEvent, 16),
		logger: t.logger,
	}
	go conn.readLoop()

	return conn, nil
}

type sseConn struct {
	body   io.ReadCloser
	events chan RawEvent
	logger *logger.Logger

	mu     sync.Mutex
	closed bool
	err    error
}

func (c *sseConn) Events() <-chan RawEvent {
	return c.events
}

func (c *sseConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *sseConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	return c.body.Close()
}

// readLoop parses the text/event-stream framing: "event:" sets the frame
// name, "data:" lines accumulate, a blank line dispatches. Comment lines
// (leading ':') and other fields are ignored; the manager owns retry timing.
func (c *sseConn) readLoop() {
	defer close(c.events)

	scanner := bufio.NewScanner(c.body)
	scanner.Buffer(make([]byte, 0, 4096), 1024*1024)

	eventName := ""
	var dataLines []string

	dispatch := func() {
		if len(dataLines) == 0 {
			eventName = ""
			return
		}
		raw := strings.Join(dataLines, "\n")
		name := eventName
		if name == "" {
			name = EventMessage
		}
		c.events <- RawEvent{
			Name:    name,
			Payload: decodePayload(raw),
			Raw:     raw,
		}
		eventName = ""
		dataLines = nil
	}

	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			dispatch()
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value := line, ""
		if idx := strings.Index(line, ":"); idx >= 0 {
			field = line[:idx]
			value = strings.TrimPrefix(line[idx+1:], " ")
		}

		switch field {
		case "event":
			eventName = value
		case "data":
			dataLines = append(dataLines, value)
		default:
			// id and retry fields are intentionally unused
		}
	}

	// Flush a trailing frame that was not terminated by a blank line
	dispatch()

	err := scanner.Err()
	c.mu.Lock()
	if !c.closed {
		if err == nil {
			// Remote closed the stream cleanly; still a transport failure
			// from the manager's point of view.
			err = io.EOF
		}
		c.err = err
	}
	c.mu.Unlock()
}

// DefaultPreflight issues a lightweight GET against the ticketed URL to
// classify a failure before (re)opening the stream. It returns the HTTP
// status, or an error for transport-level failures.
func DefaultPreflight(ctx context.Context, streamURL string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}
