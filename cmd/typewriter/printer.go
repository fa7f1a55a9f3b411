package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/MegaGrindStone/typewriter-chat/internal/conversation"
	"github.com/MegaGrindStone/typewriter-chat/internal/models"
	"github.com/charmbracelet/lipgloss"
)

var (
	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#7C3AED")).
			Bold(true)

	replyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F9FAFB"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#EF4444")).
			Bold(true)
)

// printer writes the revealed part of each reply as it grows. It is a conversation subscriber, so
// it is called from the stream and reveal goroutines.
type printer struct {
	out io.Writer

	mu      sync.Mutex
	turnID  string
	printed int
	ended   bool
	started bool
	shown   bool
	done    chan struct{}
}

func newPrinter(out io.Writer) *printer {
	return &printer{out: out}
}

// expect resets the printer for the next reply. The returned channel is closed once the stream
// has ended and whatever arrived of the reply has been printed.
func (p *printer) expect() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.turnID = ""
	p.printed = 0
	p.ended = false
	p.started = false
	p.shown = false
	p.done = make(chan struct{})
	return p.done
}

func (p *printer) handle(u conversation.Update) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch u.Kind {
	case conversation.UpdateTurn:
		if u.Turn.Role == models.RoleAssistant {
			p.turnID = u.Turn.ID
			p.started = true
		}
	case conversation.UpdateFrame:
		if u.Frame.TurnID != p.turnID {
			return
		}
		runes := []rune(u.Frame.Text)
		end := min(u.Frame.Revealed, len(runes))
		if end > p.printed {
			fmt.Fprint(p.out, replyStyle.Render(string(runes[p.printed:end])))
			p.printed = end
		}
	case conversation.UpdateComplete:
		if u.Frame.TurnID != p.turnID {
			return
		}
		p.shown = true
		fmt.Fprintln(p.out)
	case conversation.UpdateStatus:
		if !u.Busy {
			p.ended = true
		}
	}

	if p.done != nil && p.ended && (!p.started || p.shown) {
		close(p.done)
		p.done = nil
	}
}
