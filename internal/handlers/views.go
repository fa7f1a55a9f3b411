package handlers

import (
	"encoding/json"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/MegaGrindStone/typewriter-chat/internal/models"
	"github.com/MegaGrindStone/typewriter-chat/internal/reveal"
	"github.com/tmaxmax/go-sse"
)

type turnView struct {
	ID        string
	Role      string
	Content   template.HTML
	Timestamp time.Time

	// Revealing is set on the assistant turn whose reveal is still running.
	Revealing bool
}

type frameView struct {
	TurnID   string `json:"turnId"`
	HTML     string `json:"html"`
	Revealed int    `json:"revealed"`
	Complete bool   `json:"complete"`
}

type statusView struct {
	Busy  bool   `json:"busy"`
	Error string `json:"error,omitempty"`
}

type homePageData struct {
	Turns    []turnView
	Busy     bool
	Error    string
	Settings models.Settings
	Limits   settingsLimits
}

// settingsLimits are the slider ranges of the settings panel.
type settingsLimits struct {
	TypingSpeed    [2]int
	FadeInDuration [2]int
	FadeInDelay    [2]int
}

var defaultLimits = settingsLimits{
	TypingSpeed:    [2]int{10, 200},
	FadeInDuration: [2]int{100, 1000},
	FadeInDelay:    [2]int{0, 200},
}

var templateFuncs = template.FuncMap{
	"timestamp": func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.Format("15:04")
	},
}

func newStatusView(busy bool, err error) statusView {
	v := statusView{Busy: busy}
	if err != nil {
		v.Error = "The reply was interrupted. Please try again."
	}
	return v
}

// turnView renders a turn for the page. The assistant turn currently bound to the reveal is
// rendered from its frame, an unbound turn that is still streaming shows nothing yet, and every
// other assistant turn is history and is shown complete right away.
func (m *Main) turnView(turn models.TurnSnapshot, current reveal.Frame) (turnView, error) {
	view := turnView{
		ID:        turn.ID,
		Role:      string(turn.Role),
		Timestamp: turn.CreatedAt,
	}

	if turn.Role == models.RoleUser {
		view.Content = template.HTML(template.HTMLEscapeString(turn.Content)) //nolint:gosec // escaped
		return view, nil
	}

	var f reveal.Frame
	switch {
	case current.TurnID == turn.ID:
		f = current
	case !turn.Frozen:
		// Still streaming but not bound to the reveal yet: nothing of it has been revealed.
		f = reveal.Frame{TurnID: turn.ID, Text: turn.Content, Phase: reveal.PhaseIdle}
	default:
		f = reveal.CompleteFrame(turn.ID, turn.Content, reveal.Timing{})
	}
	view.Revealing = !f.Complete()
	content, err := m.renderer.Render(f)
	if err != nil {
		return turnView{}, fmt.Errorf("failed to render turn %s: %w", turn.ID, err)
	}
	view.Content = content
	return view, nil
}

func (m *Main) executeTemplate(name string, data any) (string, error) {
	var sb strings.Builder
	if err := m.templates.ExecuteTemplate(&sb, name, data); err != nil {
		return "", fmt.Errorf("failed to execute %s template: %w", name, err)
	}
	return sb.String(), nil
}

func (m *Main) publishJSON(eventType string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", eventType, err)
	}

	msg := &sse.Message{Type: sse.Type(eventType)}
	msg.AppendData(string(data))
	return m.sseSrv.Publish(msg)
}
