// Package render turns reveal frames into HTML fragments for the browser.
package render

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/MegaGrindStone/typewriter-chat/internal/reveal"
	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting"
	"github.com/yuin/goldmark/extension"
)

// Renderer renders the visible part of a frame.
type Renderer interface {
	Render(f reveal.Frame) (template.HTML, error)
}

// Kind names a renderer in configuration.
type Kind string

const (
	// KindPlain renders one span per character, carrying the fade-in parameters.
	KindPlain Kind = "plain"
	// KindMarkdown renders the revealed prefix as markdown.
	KindMarkdown Kind = "markdown"
)

// New returns the renderer for kind. The empty kind selects the plain renderer.
func New(kind Kind) (Renderer, error) {
	switch kind {
	case "", KindPlain:
		return Plain{}, nil
	case KindMarkdown:
		return NewMarkdown(), nil
	default:
		return nil, fmt.Errorf("unknown renderer %q", kind)
	}
}

const cursorHTML = `<span class="typewriter-cursor" aria-hidden="true">|</span>`

// Plain renders every revealed character in its own span. Each span carries the fade duration as
// the --fade-duration custom property and its stagger as transition-delay, so the stylesheet can
// animate characters as they are inserted. A blinking cursor follows the text until the reveal is
// complete.
type Plain struct{}

// Render implements Renderer.
func (Plain) Render(f reveal.Frame) (template.HTML, error) {
	var sb strings.Builder
	duration := millis(f.FadeInDuration)
	for _, c := range f.Chars() {
		if !c.Visible {
			break
		}
		fmt.Fprintf(&sb,
			`<span class="typewriter-char" data-index="%d" data-visible="true" style="--fade-duration: %s; transition-delay: %s">%s</span>`,
			c.Index, duration, millis(c.Delay), template.HTMLEscapeString(string(c.Rune)))
	}
	if !f.Complete() {
		sb.WriteString(cursorHTML)
	}
	return template.HTML(sb.String()), nil //nolint:gosec // every character is escaped above
}

// Markdown renders the revealed prefix with GitHub flavored markdown and highlighted code blocks.
// Raw HTML in the text is not passed through.
type Markdown struct {
	md goldmark.Markdown
}

// NewMarkdown creates a Markdown renderer.
func NewMarkdown() Markdown {
	return Markdown{
		md: goldmark.New(
			goldmark.WithExtensions(
				extension.GFM,
				highlighting.NewHighlighting(
					highlighting.WithStyle("monokai"),
				),
			),
		),
	}
}

// Render implements Renderer.
func (m Markdown) Render(f reveal.Frame) (template.HTML, error) {
	var buf bytes.Buffer
	if err := m.md.Convert([]byte(f.Prefix()), &buf); err != nil {
		return "", fmt.Errorf("failed to render markdown: %w", err)
	}
	if !f.Complete() {
		buf.WriteString(cursorHTML)
	}
	return template.HTML(buf.String()), nil //nolint:gosec // goldmark escapes raw HTML by default
}

func millis(d time.Duration) string {
	return fmt.Sprintf("%dms", d.Milliseconds())
}
