// Package conversation owns the list of turns of one chat and wires the stream ingestor to the
// reveal scheduler.
package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	apperrors "github.com/MegaGrindStone/typewriter-chat/internal/errors"
	"github.com/MegaGrindStone/typewriter-chat/internal/models"
	"github.com/MegaGrindStone/typewriter-chat/internal/reveal"
	"github.com/MegaGrindStone/typewriter-chat/internal/stream"
)

// SettingsSource provides the reveal settings read at the start of every reply.
type SettingsSource interface {
	Settings(ctx context.Context) (models.Settings, error)
}

// UpdateKind tells which part of an Update is set.
type UpdateKind string

const (
	// UpdateTurn reports a turn joining the list.
	UpdateTurn UpdateKind = "turn"
	// UpdateFrame reports a change of the reveal of the latest assistant turn.
	UpdateFrame UpdateKind = "frame"
	// UpdateComplete reports that the latest assistant turn is fully revealed.
	UpdateComplete UpdateKind = "complete"
	// UpdateStatus reports a change of Busy, or the failure of a reply.
	UpdateStatus UpdateKind = "status"
)

// Update is an observation pushed to subscribers.
type Update struct {
	Kind  UpdateKind
	Turn  models.TurnSnapshot
	Frame reveal.Frame
	Busy  bool
	Err   error
}

// Controller is the single writer of the turn list. It owns the ingestor and the scheduler and
// guarantees that a new reply replaces the previous stream, and that Close releases both the
// connection and the reveal timer.
type Controller struct {
	ingestor  *stream.Ingestor
	scheduler *reveal.Scheduler
	settings  SettingsSource
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	// lifecycle serializes everything that touches the session or the scheduler: Submit, Close
	// and the stream callbacks.
	lifecycle sync.Mutex

	mu        sync.Mutex
	input     string
	turns     []*models.Turn
	busy      bool
	assistant *models.Turn
	bound     bool
	timing    reveal.Timing
	lastErr   error
	closed    bool

	subsMu  sync.Mutex
	subs    map[int]func(Update)
	nextSub int

	unsubscribe func()
}

// Option configures a Controller.
type Option func(*Controller)

// WithSettings sets where reveal settings are read from. Without it the defaults are used.
func WithSettings(s SettingsSource) Option {
	return func(c *Controller) { c.settings = s }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

const errLoggerKey = "err"

// New creates a Controller that streams replies through ingestor and paces them with scheduler.
// The Controller takes ownership of both.
func New(ingestor *stream.Ingestor, scheduler *reveal.Scheduler, opts ...Option) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		ingestor:  ingestor,
		scheduler: scheduler,
		logger:    slog.Default(),
		ctx:       ctx,
		cancel:    cancel,
		timing:    reveal.TimingFrom(models.DefaultSettings()),
		subs:      make(map[int]func(Update)),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.unsubscribe = scheduler.Subscribe(func(f reveal.Frame) {
		c.emit(Update{Kind: UpdateFrame, Frame: f})
	})
	scheduler.OnComplete(func(f reveal.Frame) {
		c.logger.Debug("Reply revealed", slog.String("turnID", f.TurnID), slog.Int("length", f.Len()))
		c.emit(Update{Kind: UpdateComplete, Frame: f})
	})

	return c
}

// Subscribe registers fn for every Update. Updates are delivered on the goroutine that caused them;
// fn may read the controller but must not call Submit or Close. The returned function removes the
// subscription.
func (c *Controller) Subscribe(fn func(Update)) func() {
	c.subsMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.subsMu.Unlock()

	return func() {
		c.subsMu.Lock()
		delete(c.subs, id)
		c.subsMu.Unlock()
	}
}

// SetInput replaces the pending input.
func (c *Controller) SetInput(input string) {
	c.mu.Lock()
	c.input = input
	c.mu.Unlock()
}

// Input returns the pending input.
func (c *Controller) Input() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.input
}

// CanSubmit reports whether Submit would send the pending input.
func (c *Controller) CanSubmit() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && !c.busy && strings.TrimSpace(c.input) != ""
}

// Busy reports whether a reply is still streaming.
func (c *Controller) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy
}

// Err returns the failure of the latest reply, or nil.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Session returns the latest stream session, or nil before the first Submit.
func (c *Controller) Session() *stream.Session {
	return c.ingestor.Current()
}

// Turns returns a snapshot of every turn, oldest first.
func (c *Controller) Turns() []models.TurnSnapshot {
	c.mu.Lock()
	turns := make([]*models.Turn, len(c.turns))
	copy(turns, c.turns)
	c.mu.Unlock()

	snapshots := make([]models.TurnSnapshot, len(turns))
	for i, t := range turns {
		snapshots[i] = t.Snapshot()
	}
	return snapshots
}

// Frame returns the reveal state of the latest assistant turn.
func (c *Controller) Frame() reveal.Frame {
	return c.scheduler.Snapshot()
}

// Submit sends the pending input. It fails with ErrValidation when the input is blank and with
// ErrBusy while the previous reply is streaming; in both cases nothing changes. Otherwise it
// appends the trimmed input as a user turn, clears the input and starts streaming the reply, which
// joins the turn list when its first fragment arrives.
//
// ctx only bounds reading the settings. The stream lives until it ends or Close is called.
func (c *Controller) Submit(ctx context.Context) (models.TurnSnapshot, error) {
	settings := c.loadSettings(ctx)

	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return models.TurnSnapshot{}, fmt.Errorf("%w: conversation closed", apperrors.ErrInternal)
	}
	input := strings.TrimSpace(c.input)
	if input == "" {
		c.mu.Unlock()
		return models.TurnSnapshot{}, fmt.Errorf("%w: message is required", apperrors.ErrValidation)
	}
	if c.busy {
		c.mu.Unlock()
		return models.TurnSnapshot{}, apperrors.ErrBusy
	}

	user := models.NewUserTurn(input)
	assistant := models.NewAssistantTurn()
	c.turns = append(c.turns, user)
	c.input = ""
	c.busy = true
	c.assistant = assistant
	c.bound = false
	c.timing = reveal.TimingFrom(settings)
	c.lastErr = nil
	c.mu.Unlock()

	snapshot := user.Snapshot()
	c.emit(Update{Kind: UpdateTurn, Turn: snapshot})
	c.emit(Update{Kind: UpdateStatus, Busy: true})

	sess, err := c.ingestor.Open(c.ctx, input, assistant, stream.Callbacks{
		OnFragment: c.handleFragment,
		OnDone:     func(s *stream.Session) { c.handleEnd(s, nil) },
		OnError:    c.handleEnd,
	})
	if err != nil {
		c.mu.Lock()
		c.busy = false
		c.assistant = nil
		c.lastErr = err
		c.mu.Unlock()
		c.emit(Update{Kind: UpdateStatus, Err: err})
		return snapshot, err
	}

	c.logger.Debug("Reply requested",
		slog.String("sessionID", sess.ID()),
		slog.String("turnID", assistant.ID()))

	return snapshot, nil
}

// Close tears the conversation down: the stream is closed and the reveal timer stopped. Later
// events from the stream are ignored. Calling it more than once has no further effect.
func (c *Controller) Close() {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.busy = false
	c.mu.Unlock()

	c.ingestor.Close()
	c.scheduler.Stop()
	c.unsubscribe()
	c.cancel()
}

func (c *Controller) handleFragment(s *stream.Session, _ string) {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	current := c.ingestor.Current()

	c.mu.Lock()
	if c.closed || s != current {
		c.mu.Unlock()
		return
	}
	first := !c.bound
	if first {
		c.turns = append(c.turns, c.assistant)
		c.bound = true
	}
	turn, timing := c.assistant, c.timing
	c.mu.Unlock()

	if !first {
		c.scheduler.Sync()
		return
	}
	// Bound first, so that observers of the new turn see its reveal state and not the previous one.
	c.scheduler.Bind(turn, timing)
	c.emit(Update{Kind: UpdateTurn, Turn: turn.Snapshot()})
}

// handleEnd runs when the current stream ends, successfully when err is nil.
func (c *Controller) handleEnd(s *stream.Session, err error) {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	current := c.ingestor.Current()

	c.mu.Lock()
	if c.closed || s != current {
		c.mu.Unlock()
		return
	}
	bound, turn := c.bound, c.assistant
	c.busy = false
	c.lastErr = err
	c.mu.Unlock()

	if bound {
		c.scheduler.Sync()
	}
	if err != nil {
		c.logger.Warn("Reply failed",
			slog.String("turnID", turn.ID()),
			slog.String(errLoggerKey, err.Error()))
	}
	c.emit(Update{Kind: UpdateStatus, Err: err})
}

func (c *Controller) loadSettings(ctx context.Context) models.Settings {
	if c.settings == nil {
		return models.DefaultSettings()
	}
	settings, err := c.settings.Settings(ctx)
	if err != nil {
		c.logger.Warn("Failed to load settings, using defaults", slog.String(errLoggerKey, err.Error()))
		return models.DefaultSettings()
	}
	return settings
}

func (c *Controller) emit(u Update) {
	c.subsMu.Lock()
	subs := make([]func(Update), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.subsMu.Unlock()

	for _, fn := range subs {
		fn(u)
	}
}
