package feed

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/aadi/tabletsync/internal/contracts"
)

var (
	ErrStale        = errors.New("no stream traffic within the stale window")
	ErrStreamClosed = errors.New("stream closed by server")
)

// TransportError is a failed pull or push attempt: network failure, non-2xx
// status or a payload that could not be decoded.
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: HTTP %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// StreamTransport holds a push subscription open until ctx is done or the
// connection fails. onOpen runs once the subscription is established and
// onEvent for every decoded event, both on the calling goroutine.
type StreamTransport interface {
	Stream(ctx context.Context, onOpen func(), onEvent func(contracts.Event)) error
}

type PollTransport interface {
	Poll(ctx context.Context, cursor contracts.Cursor) (contracts.ReadResponse, error)
}

// DefaultMaxEventSize bounds one SSE line. A snapshot carries the whole
// collection on a single data line, so it has to fit.
const DefaultMaxEventSize = 32 << 20

// SSEStream reads a text/event-stream endpoint.
type SSEStream struct {
	URL    string
	Client *http.Client
	// MaxEventSize is the longest line accepted, DefaultMaxEventSize when zero.
	MaxEventSize int
}

func (s SSEStream) maxEventSize() int {
	if s.MaxEventSize > 0 {
		return s.MaxEventSize
	}
	return DefaultMaxEventSize
}

func (s SSEStream) client() *http.Client {
	if s.Client != nil {
		return s.Client
	}
	return http.DefaultClient
}

func (s SSEStream) Stream(ctx context.Context, onOpen func(), onEvent func(contracts.Event)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return &TransportError{Op: "stream", Err: err}
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := s.client().Do(req)
	if err != nil {
		return &TransportError{Op: "stream", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &TransportError{Op: "stream", StatusCode: resp.StatusCode, Err: errors.New(http.StatusText(resp.StatusCode))}
	}
	onOpen()

	scanner := bufio.NewScanner(resp.Body)
	limit := s.maxEventSize()
	scanner.Buffer(make([]byte, 0, min(64*1024, limit)), limit)

	var name string
	var data []string
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if len(data) > 0 || name != "" {
				if name == "" {
					name = "message"
				}
				event, err := contracts.DecodeEvent(name, []byte(strings.Join(data, "\n")))
				switch {
				case errors.Is(err, contracts.ErrUnknownEvent):
				case err != nil:
					return &TransportError{Op: "stream", Err: err}
				default:
					onEvent(event)
				}
			}
			name, data = "", data[:0]
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			name = value
		case "data":
			data = append(data, value)
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &TransportError{Op: "stream", Err: err}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return &TransportError{Op: "stream", Err: ErrStreamClosed}
}

// HTTPPoller fetches the full collection from the pull endpoint.
type HTTPPoller struct {
	URL    string
	Client *http.Client
}

func (p HTTPPoller) Poll(ctx context.Context, cursor contracts.Cursor) (contracts.ReadResponse, error) {
	target, err := url.Parse(p.URL)
	if err != nil {
		return contracts.ReadResponse{}, &TransportError{Op: "poll", Err: err}
	}
	if cursor != "" {
		q := target.Query()
		q.Set("cursor", string(cursor))
		target.RawQuery = q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return contracts.ReadResponse{}, &TransportError{Op: "poll", Err: err}
	}
	req.Header.Set("Accept", "application/json")

	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return contracts.ReadResponse{}, &TransportError{Op: "poll", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return contracts.ReadResponse{}, &TransportError{Op: "poll", StatusCode: resp.StatusCode, Err: errors.New(http.StatusText(resp.StatusCode))}
	}

	var out contracts.ReadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return contracts.ReadResponse{}, &TransportError{Op: "poll", Err: fmt.Errorf("decode: %w", err)}
	}
	return out, nil
}
