package nest

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// StreamState describes where the event stream is in its lifecycle.
type StreamState int32

// Stream lifecycle states.
const (
	// StreamClosed means the stream has never run or was shut down.
	StreamClosed StreamState = iota

	// StreamConnecting means a connection attempt is in progress.
	StreamConnecting

	// StreamOpen means events are flowing.
	StreamOpen

	// StreamDegraded means the watchdog found the stream task dead and a
	// restart is pending.
	StreamDegraded

	// StreamFailed means the stream ended on an error, cancel, or
	// authorization revocation.
	StreamFailed
)

// String returns the lowercase state name.
func (s StreamState) String() string {
	switch s {
	case StreamClosed:
		return "closed"
	case StreamConnecting:
		return "connecting"
	case StreamOpen:
		return "open"
	case StreamDegraded:
		return "degraded"
	case StreamFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Buffer limits for the SSE line reader. Full-state put events carry the
// whole snapshot tree, so the maximum line size is generous.
const (
	sseInitialBuffer = 64 << 10
	sseMaxLineSize   = 8 << 20
)

// StreamOptions configures a Stream.
type StreamOptions struct {
	// URL is the streaming endpoint (the API root).
	URL string

	// Token supplies the access token for the stream request.
	Token TokenSource

	// Store receives wholesale snapshot replacements on put events.
	Store *Store

	// OnUpdate is invoked after each snapshot replacement (optional).
	OnUpdate func(*Snapshot)

	// OnAuthRevoked is invoked when the vendor revokes authorization, so
	// the owner can clear the credential (optional).
	OnAuthRevoked func()

	// Logger is the structured logging sink.
	Logger Logger
}

// Stream ingests the vendor's server-sent event stream.
//
// One Stream instance lives for the process lifetime; each call to Run is
// one connection attempt. The owning controller runs it in a background
// goroutine and polls Alive, State, and LastActivity from its watchdog.
//
// Event handling:
//   - "open": connection acknowledged, no data
//   - "put": full snapshot replacement, triggers OnUpdate
//   - "keep-alive": touches the activity timestamp only
//   - "auth_revoked": clears the credential via OnAuthRevoked, ends the task
//   - "error", "cancel", unrecognized: end the task
type Stream struct {
	opts StreamOptions
	http *http.Client

	state        atomic.Int32
	lastActivity atomic.Int64
	running      atomic.Bool
}

// NewStream creates a Stream. It does not connect; call Run.
func NewStream(opts StreamOptions) *Stream {
	return &Stream{
		opts: opts,
		http: &http.Client{
			CheckRedirect: func(_ *http.Request, _ []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// State returns the current lifecycle state.
func (s *Stream) State() StreamState {
	return StreamState(s.state.Load())
}

// LastActivity returns the time of the last received event, or the zero
// time before the first event.
func (s *Stream) LastActivity() time.Time {
	unix := s.lastActivity.Load()
	if unix == 0 {
		return time.Time{}
	}
	return time.Unix(unix, 0)
}

// Alive reports whether the stream task is currently running.
func (s *Stream) Alive() bool {
	return s.running.Load()
}

// Degrade marks a dead stream task as degraded. The watchdog calls this
// before scheduling a restart so status reporting reflects the gap.
func (s *Stream) Degrade() {
	s.state.Store(int32(StreamDegraded))
}

// Run connects to the event stream and ingests events until the stream
// ends or ctx is cancelled. It blocks for the lifetime of the connection.
//
// Returns:
//   - nil: ctx was cancelled (clean shutdown)
//   - ErrAuthRevoked: vendor revoked authorization
//   - ErrStreamCancelled, ErrStreamEvent: server-initiated stream end
//   - other: transport or credential failure
func (s *Stream) Run(ctx context.Context) error {
	s.running.Store(true)
	defer s.running.Store(false)

	s.state.Store(int32(StreamConnecting))

	resp, err := s.connect(ctx)
	if err != nil {
		s.state.Store(int32(StreamFailed))
		return err
	}
	defer resp.Body.Close()

	// Unblock the read loop on shutdown.
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			resp.Body.Close()
		case <-watchDone:
		}
	}()

	err = s.consume(ctx, resp.Body)
	if ctx.Err() != nil {
		s.state.Store(int32(StreamClosed))
		return nil
	}
	s.state.Store(int32(StreamFailed))
	return err
}

// connect opens the SSE request, following a single 307 hop.
func (s *Stream) connect(ctx context.Context) (*http.Response, error) {
	token, ok := s.opts.Token()
	if !ok {
		return nil, ErrNoCredential
	}

	resp, err := s.request(ctx, s.opts.URL, token)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusTemporaryRedirect {
		location := resp.Header.Get("Location")
		drain(resp)
		if location == "" {
			return nil, ErrRedirectLocation
		}
		s.opts.Logger.Debug("stream redirected", "location", location)

		resp, err = s.request(ctx, location, token)
		if err != nil {
			return nil, err
		}
	}

	if resp.StatusCode != http.StatusOK {
		status := resp.StatusCode
		drain(resp)
		return nil, fmt.Errorf("%w: %d", ErrBadStatus, status)
	}

	return resp, nil
}

func (s *Stream) request(ctx context.Context, url, token string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("nest: build stream request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("nest: stream connection error: %w", err)
	}
	return resp, nil
}

// putEnvelope is the framing of a "put" event's data field.
type putEnvelope struct {
	Path string          `json:"path"`
	Data json.RawMessage `json:"data"`
}

// consume reads and dispatches SSE events until the stream ends.
func (s *Stream) consume(ctx context.Context, body io.Reader) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, sseInitialBuffer), sseMaxLineSize)

	var eventType string
	var data strings.Builder

	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case line == "":
			// Blank line terminates one event.
			if eventType != "" || data.Len() > 0 {
				err := s.dispatch(ctx, eventType, data.String())
				eventType = ""
				data.Reset()
				if err != nil {
					return err
				}
			}
		case strings.HasPrefix(line, ":"):
			// Comment line, ignored.
		case strings.HasPrefix(line, "event:"):
			eventType = strings.TrimSpace(line[len("event:"):])
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimSpace(line[len("data:"):]))
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("nest: stream read: %w", err)
	}
	s.opts.Logger.Warn("event stream ended")
	return fmt.Errorf("%w: stream closed by server", ErrStreamEvent)
}

// dispatch handles one parsed event. A non-nil return ends the stream task.
func (s *Stream) dispatch(_ context.Context, eventType, data string) error {
	s.touch()

	switch eventType {
	case "open":
		s.opts.Logger.Debug("event stream opened")
		s.state.Store(int32(StreamOpen))

	case "put":
		var envelope putEnvelope
		if err := json.Unmarshal([]byte(data), &envelope); err != nil {
			return fmt.Errorf("%w: decode put event: %w", ErrStreamEvent, err)
		}
		snap, err := ParseSnapshot(envelope.Data)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrStreamEvent, err)
		}
		s.opts.Store.Replace(snap)
		s.state.Store(int32(StreamOpen))
		s.opts.Logger.Debug("snapshot replaced from stream")
		if s.opts.OnUpdate != nil {
			s.opts.OnUpdate(snap)
		}

	case "keep-alive":
		// Activity timestamp already touched; nothing else to do.

	case "auth_revoked":
		s.opts.Logger.Warn("API authorization has been revoked", "data", data)
		if s.opts.OnAuthRevoked != nil {
			s.opts.OnAuthRevoked()
		}
		return ErrAuthRevoked

	case "error":
		s.opts.Logger.Error("stream error event", "data", data)
		return fmt.Errorf("%w: %s", ErrStreamEvent, data)

	case "cancel":
		s.opts.Logger.Warn("stream cancel event received")
		return ErrStreamCancelled

	default:
		s.opts.Logger.Error("unhandled stream event", "type", eventType, "data", data)
		return fmt.Errorf("%w: unhandled event type %q", ErrStreamEvent, eventType)
	}

	return nil
}

// touch records stream activity for the staleness watchdog.
func (s *Stream) touch() {
	s.lastActivity.Store(time.Now().Unix())
}
