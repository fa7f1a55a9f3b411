package handlers_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"github.com/MegaGrindStone/typewriter-chat/internal/conversation"
	apperrors "github.com/MegaGrindStone/typewriter-chat/internal/errors"
	"github.com/MegaGrindStone/typewriter-chat/internal/handlers"
	"github.com/MegaGrindStone/typewriter-chat/internal/models"
	"github.com/MegaGrindStone/typewriter-chat/internal/reveal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmaxmax/go-sse"
)

type mockProducer struct {
	fragments []string
	err       error
}

type mockStore struct {
	mu       sync.Mutex
	settings models.Settings
	err      error
}

type mockConversation struct {
	mu         sync.Mutex
	input      string
	turns      []models.TurnSnapshot
	frame      reveal.Frame
	busy       bool
	submitErr  error
	subscriber func(conversation.Update)
}

func newMain(t *testing.T, producer handlers.Producer, conv *mockConversation, opts ...handlers.MainOption) *handlers.Main {
	t.Helper()

	store := &mockStore{settings: models.DefaultSettings()}
	m, err := handlers.NewMain(producer, store, conv, opts...)
	require.NoError(t, err)
	return m
}

func TestNewMain(t *testing.T) {
	conv := &mockConversation{}
	m := newMain(t, &mockProducer{}, conv)

	assert.NotNil(t, conv.subscriber, "NewMain() should subscribe to the conversation")
	require.NoError(t, m.Shutdown(context.Background()))
	assert.Nil(t, conv.subscriber, "Shutdown() should unsubscribe from the conversation")
}

func TestHandleHome(t *testing.T) {
	now := time.Now()
	conv := &mockConversation{
		turns: []models.TurnSnapshot{
			{ID: "u1", Role: models.RoleUser, Content: "Hello <b>there</b>", Frozen: true, CreatedAt: now},
			{ID: "a1", Role: models.RoleAssistant, Content: "Hi", Frozen: true, CreatedAt: now},
			{ID: "a2", Role: models.RoleAssistant, Content: "Typing", CreatedAt: now},
		},
		frame: reveal.Frame{TurnID: "a2", Text: "Typing", Revealed: 3, Phase: reveal.PhaseRevealing},
		busy:  true,
	}
	m := newMain(t, &mockProducer{}, conv)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	m.HandleHome(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()

	tests := []struct {
		name string
		want string
	}{
		{name: "user turn is escaped", want: "Hello &lt;b&gt;there&lt;/b&gt;"},
		{name: "history turn", want: `id="turn-a1"`},
		{name: "revealing turn", want: `data-revealing="true"`},
		{name: "revealed prefix only", want: `data-index="2"`},
		{name: "cursor", want: "typewriter-cursor"},
		{name: "settings panel", want: `value="50"`},
		{name: "theme selector", want: `<select id="theme" name="theme">`},
		{name: "input disabled while busy", want: `data-testid="chat-input" disabled`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Contains(t, body, tt.want)
		})
	}
	assert.NotContains(t, body, `data-index="3"`, "unrevealed characters must not be rendered")
}

func TestHandleMessages(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		message    string
		submitErr  error
		wantStatus int
		wantInput  string
	}{
		{
			name:       "Invalid method",
			method:     http.MethodGet,
			wantStatus: http.StatusMethodNotAllowed,
		},
		{
			name:       "Blank message",
			method:     http.MethodPost,
			message:    "   ",
			submitErr:  fmt.Errorf("%w: message is required", apperrors.ErrValidation),
			wantStatus: http.StatusBadRequest,
			wantInput:  "   ",
		},
		{
			name:       "Reply still streaming",
			method:     http.MethodPost,
			message:    "Hello",
			submitErr:  apperrors.ErrBusy,
			wantStatus: http.StatusConflict,
			wantInput:  "Hello",
		},
		{
			name:       "Unexpected failure",
			method:     http.MethodPost,
			message:    "Hello",
			submitErr:  errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
			wantInput:  "Hello",
		},
		{
			name:       "Accepted clears the input",
			method:     http.MethodPost,
			message:    "Hello",
			wantStatus: http.StatusAccepted,
			wantInput:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conv := &mockConversation{submitErr: tt.submitErr}
			m := newMain(t, &mockProducer{}, conv)

			form := url.Values{"message": {tt.message}}
			req := httptest.NewRequest(tt.method, "/messages", strings.NewReader(form.Encode()))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			w := httptest.NewRecorder()

			m.HandleMessages(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantInput, conv.input)
			if tt.wantStatus == http.StatusAccepted {
				var turn models.TurnSnapshot
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &turn))
				assert.Equal(t, models.RoleUser, turn.Role)
				assert.Equal(t, "Hello", turn.Content)
			}
		})
	}
}

func TestHandleChat(t *testing.T) {
	tests := []struct {
		name       string
		message    string
		producer   *mockProducer
		wantStatus int
		wantEvents []string
		wantDone   bool
	}{
		{
			name:       "Blank message",
			message:    " ",
			producer:   &mockProducer{},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "Streams fragments then done",
			message:    "Hello",
			producer:   &mockProducer{fragments: []string{"He", "llo"}},
			wantStatus: http.StatusOK,
			wantEvents: []string{
				`data: {"type":"token","content":"He"}`,
				`data: {"type":"token","content":"llo"}`,
			},
			wantDone: true,
		},
		{
			name:       "Empty reply still completes",
			message:    "Hello",
			producer:   &mockProducer{},
			wantStatus: http.StatusOK,
			wantDone:   true,
		},
		{
			name:       "Producer failure ends without done",
			message:    "Hello",
			producer:   &mockProducer{fragments: []string{"H"}, err: errors.New("producer failed")},
			wantStatus: http.StatusOK,
			wantEvents: []string{`data: {"type":"token","content":"H"}`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newMain(t, tt.producer, &mockConversation{})

			req := httptest.NewRequest(http.MethodGet, "/chat?message="+url.QueryEscape(tt.message), nil)
			w := httptest.NewRecorder()

			m.HandleChat(w, req)

			require.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus != http.StatusOK {
				return
			}
			assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

			body := w.Body.String()
			last := -1
			for _, event := range tt.wantEvents {
				idx := strings.Index(body, event)
				require.Greater(t, idx, last, "event %q missing or out of order", event)
				last = idx
			}
			assert.Equal(t, tt.wantDone, strings.Contains(body, "event: done"))
		})
	}
}

func TestHandleChatRateLimit(t *testing.T) {
	m := newMain(t, &mockProducer{fragments: []string{"ok"}}, &mockConversation{}, handlers.WithRateLimit(1, 1))

	serve := func() int {
		req := httptest.NewRequest(http.MethodGet, "/chat?message=hi", nil)
		req.RemoteAddr = "192.0.2.1:1234"
		w := httptest.NewRecorder()
		m.HandleChat(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, serve())
	assert.Equal(t, http.StatusTooManyRequests, serve())
}

func TestHandleSettings(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		want       models.Settings
	}{
		{
			name:       "Valid",
			body:       `{"typingSpeed":20,"fadeInDuration":500,"fadeInDelay":0}`,
			wantStatus: http.StatusOK,
			want:       models.Settings{TypingSpeed: 20, FadeInDuration: 500, FadeInDelay: 0},
		},
		{
			name:       "Typing speed out of range",
			body:       `{"typingSpeed":5,"fadeInDuration":500,"fadeInDelay":0}`,
			wantStatus: http.StatusBadRequest,
			want:       models.DefaultSettings(),
		},
		{
			name:       "Missing field",
			body:       `{"typingSpeed":20,"fadeInDuration":500}`,
			wantStatus: http.StatusBadRequest,
			want:       models.DefaultSettings(),
		},
		{
			name:       "Unknown field",
			body:       `{"typingSpeed":20,"fadeInDuration":500,"fadeInDelay":0,"color":"red"}`,
			wantStatus: http.StatusBadRequest,
			want:       models.DefaultSettings(),
		},
		{
			name:       "Malformed body",
			body:       `{`,
			wantStatus: http.StatusBadRequest,
			want:       models.DefaultSettings(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &mockStore{settings: models.DefaultSettings()}
			m, err := handlers.NewMain(&mockProducer{}, store, &mockConversation{})
			require.NoError(t, err)

			req := httptest.NewRequest(http.MethodPost, "/settings", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			m.HandleUpdateSettings(w, req)
			assert.Equal(t, tt.wantStatus, w.Code)

			req = httptest.NewRequest(http.MethodGet, "/settings", nil)
			w = httptest.NewRecorder()
			m.HandleGetSettings(w, req)
			require.Equal(t, http.StatusOK, w.Code)

			var got models.Settings
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHandleSettingsStoreFailure(t *testing.T) {
	store := &mockStore{err: errors.New("disk full")}
	m, err := handlers.NewMain(&mockProducer{}, store, &mockConversation{})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/settings",
		strings.NewReader(`{"typingSpeed":20,"fadeInDuration":500,"fadeInDelay":0}`))
	w := httptest.NewRecorder()
	m.HandleUpdateSettings(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestRouter(t *testing.T) {
	m := newMain(t, &mockProducer{}, &mockConversation{})
	r := handlers.NewRouter(m, fstest.MapFS{"app.js": {Data: []byte("// app")}})

	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantBody   string
	}{
		{name: "Health", path: "/healthz", wantStatus: http.StatusOK, wantBody: `"status":"ok"`},
		{name: "Metrics", path: "/metrics", wantStatus: http.StatusOK, wantBody: "typewriter_chat_streams_started_total"},
		{name: "Home", path: "/", wantStatus: http.StatusOK, wantBody: `id="chat-form"`},
		{name: "Static", path: "/static/app.js", wantStatus: http.StatusOK, wantBody: "// app"},
		{name: "Unknown", path: "/nope", wantStatus: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Contains(t, w.Body.String(), tt.wantBody)
		})
	}
}

// listen connects to /events of a server running m and forwards every event it receives.
func listen(t *testing.T, m *handlers.Main) <-chan sse.Event {
	t.Helper()

	srv := httptest.NewServer(handlers.NewRouter(m, fstest.MapFS{"app.js": {Data: []byte("// app")}}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events", nil)
	require.NoError(t, err)

	// The broker writes no headers before the first event, so the request is made in the background
	// while the test publishes.
	received := make(chan sse.Event, 16)
	go func() {
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return
		}
		defer resp.Body.Close()
		for ev, err := range sse.Read(resp.Body, nil) {
			if err != nil {
				return
			}
			select {
			case received <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return received
}

// publishUntil emits u until an event of the given type arrives. The subscription is registered
// asynchronously, so early events may be lost.
func publishUntil(t *testing.T, conv *mockConversation, received <-chan sse.Event, eventType string, u conversation.Update) sse.Event {
	t.Helper()

	var got sse.Event
	require.Eventually(t, func() bool {
		conv.emit(u)
		for {
			select {
			case ev := <-received:
				if ev.Type == eventType {
					got = ev
					return true
				}
			default:
				return false
			}
		}
	}, 2*time.Second, 20*time.Millisecond)
	return got
}

func TestEventsPublishesUpdates(t *testing.T) {
	conv := &mockConversation{
		turns: []models.TurnSnapshot{{ID: "a1", Role: models.RoleAssistant, Content: "Hi"}},
		frame: reveal.Frame{TurnID: "a1", Text: "Hi", Revealed: 1, Phase: reveal.PhaseRevealing},
	}
	m := newMain(t, &mockProducer{}, conv)
	received := listen(t, m)

	got := publishUntil(t, conv, received, "frame", conversation.Update{Kind: conversation.UpdateFrame, Frame: conv.frame})
	assert.Equal(t, "frame", got.Type)
	var frame struct {
		TurnID   string `json:"turnId"`
		HTML     string `json:"html"`
		Revealed int    `json:"revealed"`
		Complete bool   `json:"complete"`
	}
	require.NoError(t, json.Unmarshal([]byte(got.Data), &frame))
	assert.Equal(t, "a1", frame.TurnID)
	assert.Equal(t, 1, frame.Revealed)
	assert.False(t, frame.Complete)
	assert.Contains(t, frame.HTML, `data-index="0"`)
	assert.NotContains(t, frame.HTML, `data-index="1"`)

	status := publishUntil(t, conv, received, "status",
		conversation.Update{Kind: conversation.UpdateStatus, Busy: false, Err: apperrors.ErrTransport})
	assert.Contains(t, status.Data, `"error"`)
	assert.Contains(t, status.Data, `"busy":false`)
}

func TestEventsNewTurnShowsNothingUnrevealed(t *testing.T) {
	conv := &mockConversation{
		frame: reveal.Frame{TurnID: "previous", Text: "Done", Revealed: 4, Phase: reveal.PhaseComplete},
	}
	m := newMain(t, &mockProducer{}, conv)
	received := listen(t, m)

	turn := models.TurnSnapshot{ID: "a2", Role: models.RoleAssistant, Content: "Thank "}
	got := publishUntil(t, conv, received, "turn", conversation.Update{Kind: conversation.UpdateTurn, Turn: turn})

	assert.Contains(t, got.Data, `id="turn-a2"`)
	assert.Contains(t, got.Data, `data-revealing="true"`)
	assert.Contains(t, got.Data, "typewriter-cursor")
	assert.NotContains(t, got.Data, "typewriter-char", "no character is revealed before the turn is bound")
}

func (m *mockProducer) Stream(ctx context.Context, _ string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for _, f := range m.fragments {
			if ctx.Err() != nil {
				return
			}
			if !yield(f, nil) {
				return
			}
		}
		if m.err != nil {
			yield("", m.err)
		}
	}
}

func (m *mockStore) Settings(context.Context) (models.Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return models.Settings{}, m.err
	}
	return m.settings, nil
}

func (m *mockStore) SaveSettings(_ context.Context, settings models.Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.settings = settings
	return nil
}

func (c *mockConversation) SetInput(input string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.input = input
}

func (c *mockConversation) Submit(context.Context) (models.TurnSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.submitErr != nil {
		return models.TurnSnapshot{}, c.submitErr
	}
	turn := models.NewUserTurn(c.input).Snapshot()
	c.turns = append(c.turns, turn)
	c.input = ""
	return turn, nil
}

func (c *mockConversation) Turns() []models.TurnSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.TurnSnapshot(nil), c.turns...)
}

func (c *mockConversation) Frame() reveal.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frame
}

func (c *mockConversation) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy
}

func (c *mockConversation) Err() error { return nil }

func (c *mockConversation) Subscribe(fn func(conversation.Update)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscriber = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.subscriber = nil
	}
}

func (c *mockConversation) emit(u conversation.Update) {
	c.mu.Lock()
	fn := c.subscriber
	c.mu.Unlock()
	if fn != nil {
		fn(u)
	}
}
