package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	apperrors "github.com/MegaGrindStone/typewriter-chat/internal/errors"
	"github.com/MegaGrindStone/typewriter-chat/internal/models"
	"github.com/tmaxmax/go-sse"
)

// Session is one open stream. Its state only moves forward: connecting, open, then closed or
// failed. Once terminal, the turn it feeds is frozen and nothing else is appended.
type Session struct {
	id     string
	turn   *models.Turn
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu    sync.Mutex
	state models.SessionState
	err   error
}

// payload is the JSON carried by an unnamed stream event.
type payload struct {
	Type    string  `json:"type"`
	Content *string `json:"content"`
}

const (
	tokenPayloadType = "token"
	doneEventType    = "done"
	messageEventType = "message"
)

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// Turn returns the turn the session appends to.
func (s *Session) Turn() *models.Turn { return s.turn }

// TurnID returns the identifier of the turn the session appends to.
func (s *Session) TurnID() string { return s.turn.ID() }

// State returns the connection state.
func (s *Session) State() models.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the failure that ended the session, or nil.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done is closed once the session has released its connection.
func (s *Session) Done() <-chan struct{} { return s.done }

// Close cancels the stream and freezes the turn with whatever it holds. A session that has not
// ended yet moves to closed; no callback runs because of Close. Calling it more than once has the
// same effect as calling it once. Close does not wait for the connection to be released, see Done.
func (s *Session) Close() {
	if s.finish(models.SessionClosed, nil) {
		s.logger.Debug("Stream closed by caller")
	}
	s.cancel()
}

func (s *Session) read(client *http.Client, req *http.Request, cb Callbacks) {
	defer close(s.done)
	defer s.cancel()

	resp, err := client.Do(req)
	if err != nil {
		s.fail(fmt.Errorf("%w: error sending request: %w", apperrors.ErrTransport, err), cb)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		s.fail(fmt.Errorf("%w: unexpected status %d: %s", apperrors.ErrTransport, resp.StatusCode,
			strings.TrimSpace(string(body))), cb)
		return
	}

	if !s.transition(models.SessionOpen) {
		return
	}
	if cb.OnOpen != nil {
		cb.OnOpen(s)
	}

	for ev, err := range sse.Read(resp.Body, nil) {
		if err != nil {
			s.fail(fmt.Errorf("%w: error reading stream: %w", apperrors.ErrTransport, err), cb)
			return
		}

		switch ev.Type {
		case doneEventType:
			if s.finish(models.SessionClosed, nil) {
				s.logger.Debug("Stream done", slog.Int("length", len(s.turn.Text())))
				if cb.OnDone != nil {
					cb.OnDone(s)
				}
			}
			return
		case "", messageEventType:
			fragment, err := parseFragment(ev.Data)
			if err != nil {
				s.logger.Warn("Dropped stream payload",
					slog.String(errLoggerKey, err.Error()),
					slog.String("data", ev.Data))
				continue
			}
			if !s.append(fragment) {
				return
			}
			if cb.OnFragment != nil {
				cb.OnFragment(s, fragment)
			}
		default:
			s.logger.Debug("Ignored stream event", slog.String("type", ev.Type))
		}
	}

	s.fail(fmt.Errorf("%w: stream ended before done", apperrors.ErrTransport), cb)
}

func parseFragment(data string) (string, error) {
	var p payload
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return "", fmt.Errorf("%w: %w", apperrors.ErrParse, err)
	}
	if p.Type != tokenPayloadType {
		return "", fmt.Errorf("%w: unexpected payload type %q", apperrors.ErrParse, p.Type)
	}
	if p.Content == nil {
		return "", fmt.Errorf("%w: token payload without content", apperrors.ErrParse)
	}
	return *p.Content, nil
}

// append adds a fragment unless the session has ended. The session lock is held across the
// append so that nothing lands in the turn after Close has frozen it.
func (s *Session) append(fragment string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Terminal() {
		return false
	}
	return s.turn.Append(fragment)
}

func (s *Session) transition(state models.SessionState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Terminal() {
		return false
	}
	s.state = state
	return true
}

// finish moves the session to a terminal state and freezes the turn. It reports false if the
// session had already ended.
func (s *Session) finish(state models.SessionState, err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Terminal() {
		return false
	}
	s.state = state
	s.err = err
	s.turn.Freeze()
	return true
}

// fail ends the session after a transport failure. A failure caused by the session's own
// cancellation is a close, not an error.
func (s *Session) fail(err error, cb Callbacks) {
	if s.ctx.Err() != nil {
		s.finish(models.SessionClosed, nil)
		return
	}
	if !s.finish(models.SessionFailed, err) {
		return
	}

	s.logger.Warn("Stream failed",
		slog.String(errLoggerKey, err.Error()),
		slog.Int("length", len(s.turn.Text())))
	if cb.OnError != nil {
		cb.OnError(s, err)
	}
}
