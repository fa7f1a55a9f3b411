package handlers

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"iter"
	"log/slog"
	"time"

	typewriterchat "github.com/MegaGrindStone/typewriter-chat"
	"github.com/MegaGrindStone/typewriter-chat/internal/conversation"
	"github.com/MegaGrindStone/typewriter-chat/internal/models"
	"github.com/MegaGrindStone/typewriter-chat/internal/render"
	"github.com/MegaGrindStone/typewriter-chat/internal/reveal"
	"github.com/tmaxmax/go-sse"
)

// Producer generates the reply to a message as an ordered sequence of fragments. A non-nil error
// ends the sequence without completion.
type Producer interface {
	Stream(ctx context.Context, message string) iter.Seq2[string, error]
}

// Store persists the reveal settings.
type Store interface {
	Settings(ctx context.Context) (models.Settings, error)
	SaveSettings(ctx context.Context, settings models.Settings) error
}

// Conversation is the browser-facing chat: it accepts submissions and reports the turns and the
// reveal of the latest reply.
type Conversation interface {
	SetInput(input string)
	Submit(ctx context.Context) (models.TurnSnapshot, error)
	Turns() []models.TurnSnapshot
	Frame() reveal.Frame
	Busy() bool
	Err() error
	Subscribe(fn func(conversation.Update)) func()
}

// Main serves the chat endpoints. It produces replies on /chat, and pushes the conversation's
// turns and reveal frames, rendered to HTML, to every browser listening on /events.
type Main struct {
	sseSrv    *sse.Server
	templates *template.Template
	renderer  render.Renderer

	producer     Producer
	store        Store
	conversation Conversation

	limiter *limiterPool
	metrics *Metrics
	logger  *slog.Logger

	unsubscribe func()
}

// MainOption configures Main.
type MainOption func(*Main)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) MainOption {
	return func(m *Main) { m.logger = l }
}

// WithRenderer sets how assistant turns are rendered. The default is render.Plain.
func WithRenderer(r render.Renderer) MainOption {
	return func(m *Main) { m.renderer = r }
}

// WithRateLimit limits /chat to rps requests per second per client, with the given burst.
// Non-positive values fall back to 5 and 10.
func WithRateLimit(rps float64, burst int) MainOption {
	return func(m *Main) { m.limiter = newLimiterPool(rps, burst) }
}

// WithMetrics sets the collectors updated by the handlers.
func WithMetrics(metrics *Metrics) MainOption {
	return func(m *Main) { m.metrics = metrics }
}

const (
	errLoggerKey = "err"

	turnSSEType   = "turn"
	frameSSEType  = "frame"
	statusSSEType = "status"
)

// NewMain creates the handlers and subscribes them to conv. The HTML templates are parsed from
// the embedded filesystem: a layout, the page, and the partials pushed over SSE.
func NewMain(producer Producer, store Store, conv Conversation, opts ...MainOption) (*Main, error) {
	// We parse templates from three distinct directories to separate layout, pages, and partial views
	tmpl, err := template.New("").Funcs(templateFuncs).ParseFS(
		typewriterchat.TemplateFS,
		"templates/layout/*.html",
		"templates/pages/*.html",
		"templates/partials/*.html",
	)
	if err != nil {
		return nil, err
	}

	m := &Main{
		sseSrv: &sse.Server{
			OnSession: func(s *sse.Session) (sse.Subscription, bool) {
				return sse.Subscription{
					Client:      s,
					LastEventID: s.LastEventID,
					Topics:      []string{sse.DefaultTopic},
				}, true
			},
		},
		templates:    tmpl,
		renderer:     render.Plain{},
		producer:     producer,
		store:        store,
		conversation: conv,
		limiter:      newLimiterPool(0, 0),
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.metrics == nil {
		m.metrics = NewMetrics(nil)
	}

	m.unsubscribe = conv.Subscribe(m.publishUpdate)

	return m, nil
}

// Shutdown stops pushing updates, tells every browser that the server is going away and waits up
// to 5 seconds for the event connections to terminate. After the timeout, any remaining
// connections are forcefully closed.
func (m *Main) Shutdown(ctx context.Context) error {
	m.unsubscribe()

	e := &sse.Message{Type: sse.Type("closeChat")}
	// An event without data is never dispatched by browsers
	e.AppendData("bye")

	// We ignore the error here since we're shutting down anyway
	_ = m.sseSrv.Publish(e)

	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	return m.sseSrv.Shutdown(ctx)
}

func (m *Main) publishUpdate(u conversation.Update) {
	var err error
	switch u.Kind {
	case conversation.UpdateTurn:
		err = m.publishTurn(u.Turn)
	case conversation.UpdateFrame:
		err = m.publishFrame(u.Frame)
	case conversation.UpdateComplete:
		m.metrics.revealsCompleted.Inc()
	case conversation.UpdateStatus:
		if u.Err != nil {
			m.metrics.replyFailures.Inc()
		}
		err = m.publishJSON(statusSSEType, newStatusView(u.Busy, u.Err))
	}
	if err != nil && !errors.Is(err, sse.ErrProviderClosed) {
		m.logger.Error("Failed to publish update",
			slog.String("kind", string(u.Kind)),
			slog.String(errLoggerKey, err.Error()))
	}
}

func (m *Main) publishTurn(turn models.TurnSnapshot) error {
	view, err := m.turnView(turn, m.conversation.Frame())
	if err != nil {
		return err
	}
	html, err := m.executeTemplate("turn", view)
	if err != nil {
		return err
	}

	msg := &sse.Message{Type: sse.Type(turnSSEType)}
	msg.AppendData(html)
	return m.sseSrv.Publish(msg)
}

func (m *Main) publishFrame(f reveal.Frame) error {
	if f.TurnID == "" {
		return nil
	}
	content, err := m.renderer.Render(f)
	if err != nil {
		return fmt.Errorf("failed to render frame: %w", err)
	}
	return m.publishJSON(frameSSEType, frameView{
		TurnID:   f.TurnID,
		HTML:     string(content),
		Revealed: f.Revealed,
		Complete: f.Complete(),
	})
}
