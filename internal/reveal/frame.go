// Package reveal paces the visual reveal of a growing text independently of how fast the text
// arrives.
//
// A Scheduler is bound to one Source at a time. It advances a revealed-character cursor on a
// fixed cadence, publishes a Frame to its subscribers on every change, and declares the reveal
// complete only when the cursor has caught up with the text and the source reports that it will
// not grow any more.
package reveal

import (
	"time"
	"unicode/utf8"

	"github.com/MegaGrindStone/typewriter-chat/internal/models"
)

// Phase is the scheduler's state for the currently bound text.
type Phase string

const (
	// PhaseIdle means nothing is bound, or the bound text was just reset.
	PhaseIdle Phase = "idle"
	// PhaseRevealing means the cursor is advancing or waiting for more text.
	PhaseRevealing Phase = "revealing"
	// PhaseComplete is terminal for the bound text: everything is revealed and no more will come.
	PhaseComplete Phase = "complete"
)

// Source is a read-only view of a text that may still be growing.
type Source interface {
	// ID identifies the text. A different ID means a different text, never a grown one.
	ID() string
	// Text returns the text received so far.
	Text() string
	// Frozen reports that the text will not grow any more.
	Frozen() bool
}

// Timing holds the reveal cadence and the presentation parameters of the fade-in. Only Speed
// affects when characters are revealed; the fade values are passed through to renderers.
type Timing struct {
	// Speed is the interval between two revealed characters. Zero reveals instantly.
	Speed time.Duration
	// FadeInDuration is the length of each character's fade animation.
	FadeInDuration time.Duration
	// FadeInDelay is the stagger between consecutive characters' fade animations.
	FadeInDelay time.Duration
}

// TimingFrom converts persisted settings to a Timing.
func TimingFrom(s models.Settings) Timing {
	return Timing{
		Speed:          s.Speed(),
		FadeInDuration: s.FadeDuration(),
		FadeInDelay:    s.FadeDelay(),
	}
}

// Instant returns t with a zero speed, for text that should appear without animation.
func (t Timing) Instant() Timing {
	t.Speed = 0
	return t
}

// Frame is an immutable observation of a reveal.
type Frame struct {
	TurnID   string `json:"turnId"`
	Text     string `json:"text"`
	Revealed int    `json:"revealed"`
	Phase    Phase  `json:"phase"`

	FadeInDuration time.Duration `json:"fadeInDuration"`
	FadeInDelay    time.Duration `json:"fadeInDelay"`
}

// Char is one character of a Frame together with its presentation parameters.
type Char struct {
	Rune    rune
	Index   int
	Visible bool
	// Delay is the character's fade stagger, FadeInDelay multiplied by its index.
	Delay time.Duration
}

// CompleteFrame builds the frame of a text that is shown in full right away, such as a turn
// re-displayed from history.
func CompleteFrame(turnID, text string, t Timing) Frame {
	return Frame{
		TurnID:         turnID,
		Text:           text,
		Revealed:       utf8.RuneCountInString(text),
		Phase:          PhaseComplete,
		FadeInDuration: t.FadeInDuration,
		FadeInDelay:    t.FadeInDelay,
	}
}

// Len returns the number of characters of the observed text.
func (f Frame) Len() int {
	return utf8.RuneCountInString(f.Text)
}

// Complete reports whether the reveal has finished.
func (f Frame) Complete() bool {
	return f.Phase == PhaseComplete
}

// Visible reports whether the character at index i has been revealed.
func (f Frame) Visible(i int) bool {
	return i >= 0 && i < f.Revealed
}

// Delay returns the fade stagger of the character at index i.
func (f Frame) Delay(i int) time.Duration {
	return f.FadeInDelay * time.Duration(i)
}

// Prefix returns the revealed part of the text.
func (f Frame) Prefix() string {
	if f.Revealed <= 0 {
		return ""
	}
	i := 0
	for pos := range f.Text {
		if i == f.Revealed {
			return f.Text[:pos]
		}
		i++
	}
	return f.Text
}

// Chars returns every character of the observed text with its visibility and fade delay.
func (f Frame) Chars() []Char {
	chars := make([]Char, 0, len(f.Text))
	i := 0
	for _, r := range f.Text {
		chars = append(chars, Char{
			Rune:    r,
			Index:   i,
			Visible: f.Visible(i),
			Delay:   f.Delay(i),
		})
		i++
	}
	return chars
}
