// Package stream consumes a server-sent event stream of reply fragments and appends them to a
// conversation turn.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	apperrors "github.com/MegaGrindStone/typewriter-chat/internal/errors"
	"github.com/MegaGrindStone/typewriter-chat/internal/models"
	"github.com/google/uuid"
)

// Callbacks receives the events of one Session. Every callback runs on the session's reader
// goroutine, after the change it reports has been applied to the turn. Nil callbacks are skipped.
type Callbacks struct {
	// OnOpen runs once the producer has accepted the request.
	OnOpen func(s *Session)
	// OnFragment runs after a fragment has been appended to the turn.
	OnFragment func(s *Session, fragment string)
	// OnDone runs when the producer signals successful completion.
	OnDone func(s *Session)
	// OnError runs when the connection fails before completion. err wraps ErrTransport.
	OnError func(s *Session, err error)
}

// Ingestor opens stream sessions against one endpoint. It owns at most one live session: opening
// a new one closes the previous one first.
type Ingestor struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger

	mu      sync.Mutex
	current *Session
}

// IngestorOption configures an Ingestor.
type IngestorOption func(*Ingestor)

const errLoggerKey = "err"

// WithHTTPClient sets the client used to open streams. Its timeout, if any, bounds the whole
// stream, so it should usually be zero.
func WithHTTPClient(c *http.Client) IngestorOption {
	return func(in *Ingestor) { in.client = c }
}

// WithLogger sets the logger used for stream diagnostics.
func WithLogger(l *slog.Logger) IngestorOption {
	return func(in *Ingestor) { in.logger = l }
}

// NewIngestor creates an Ingestor for the chat endpoint, for example "http://localhost:8080/chat".
func NewIngestor(endpoint string, opts ...IngestorOption) (*Ingestor, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid chat endpoint %q: %w", apperrors.ErrValidation, endpoint, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: chat endpoint %q must be http or https", apperrors.ErrValidation, endpoint)
	}

	in := &Ingestor{
		endpoint: endpoint,
		client:   &http.Client{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(in)
	}
	return in, nil
}

// Open starts streaming the reply to query into turn and returns without waiting for the
// connection. A blank query fails with ErrValidation before anything is sent.
//
// Any session opened earlier by this Ingestor is closed before the new request is issued.
// Cancelling ctx has the same effect as closing the returned session.
func (in *Ingestor) Open(ctx context.Context, query string, turn *models.Turn, cb Callbacks) (*Session, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: message is required", apperrors.ErrValidation)
	}

	u, err := url.Parse(in.endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid chat endpoint: %w", apperrors.ErrInternal, err)
	}
	q := u.Query()
	q.Set("message", query)
	u.RawQuery = q.Encode()

	ctx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: error creating request: %w", apperrors.ErrInternal, err)
	}
	req.Header.Set("Accept", "text/event-stream")

	s := &Session{
		id:     uuid.New().String(),
		turn:   turn,
		state:  models.SessionConnecting,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	s.logger = in.logger.With(slog.String("sessionID", s.id), slog.String("turnID", turn.ID()))

	in.mu.Lock()
	if in.current != nil {
		in.current.Close()
	}
	in.current = s
	in.mu.Unlock()

	s.logger.Debug("Opening stream", slog.String("url", u.String()))
	go s.read(in.client, req, cb)

	return s, nil
}

// Current returns the most recently opened session, or nil.
func (in *Ingestor) Current() *Session {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.current
}

// Close closes the current session, if any. It is safe to call repeatedly.
func (in *Ingestor) Close() {
	in.mu.Lock()
	s := in.current
	in.mu.Unlock()

	if s != nil {
		s.Close()
	}
}
