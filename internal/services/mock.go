package services

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jonboulle/clockwork"
)

// Split decides how a reply is cut into fragments.
type Split string

const (
	// SplitChar emits one character per fragment.
	SplitChar Split = "char"
	// SplitWord emits one word, with its trailing whitespace, per fragment.
	SplitWord Split = "word"
)

// ErrProducerAborted is yielded when a producer is configured to drop the stream early.
var ErrProducerAborted = errors.New("producer aborted the stream")

// Mock produces a canned reply that quotes the user's message. It stands in for a language model
// so that the typewriter effect can be exercised end to end.
type Mock struct {
	delay     time.Duration
	split     Split
	failAfter int
	reply     func(message string) string

	clock clockwork.Clock
}

// MockOption configures a Mock.
type MockOption func(*Mock)

// WithDelay sets the pause before each fragment.
func WithDelay(d time.Duration) MockOption {
	return func(m *Mock) { m.delay = d }
}

// WithSplit sets how the reply is cut into fragments.
func WithSplit(s Split) MockOption {
	return func(m *Mock) { m.split = s }
}

// WithFailAfter makes the stream end with ErrProducerAborted after n fragments instead of
// completing. Zero disables it.
func WithFailAfter(n int) MockOption {
	return func(m *Mock) { m.failAfter = n }
}

// WithClock replaces the wall clock used for the fragment delay.
func WithClock(c clockwork.Clock) MockOption {
	return func(m *Mock) { m.clock = c }
}

// NewMock creates the default mock producer: one character every 50ms.
func NewMock(opts ...MockOption) Mock {
	m := Mock{
		delay: 50 * time.Millisecond,
		split: SplitChar,
		reply: MockReply,
		clock: clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

// NewEcho creates a producer that replies with the message itself.
func NewEcho(opts ...MockOption) Mock {
	m := NewMock(opts...)
	m.reply = func(message string) string { return message }
	return m
}

// MockReply is the canned reply of the mock producer.
func MockReply(message string) string {
	return fmt.Sprintf(`Thank you for your message: "%s". This is a mock response that demonstrates the typewriter effect.`, message)
}

// Stream yields the reply to message fragment by fragment. The sequence ends early, without an
// error, when ctx is cancelled or the consumer stops.
func (m Mock) Stream(ctx context.Context, message string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for i, fragment := range Fragments(m.reply(message), m.split) {
			if m.failAfter > 0 && i >= m.failAfter {
				yield("", ErrProducerAborted)
				return
			}
			if m.delay > 0 {
				select {
				case <-ctx.Done():
					return
				case <-m.clock.After(m.delay):
				}
			} else if ctx.Err() != nil {
				return
			}
			if !yield(fragment, nil) {
				return
			}
		}
	}
}

// Fragments cuts text the way a producer configured with split would emit it. Concatenating the
// result always gives back text.
func Fragments(text string, split Split) []string {
	if text == "" {
		return nil
	}

	if split == SplitWord {
		var fragments []string
		start := 0
		inSpace := false
		for i, r := range text {
			space := r == ' ' || r == '\n' || r == '\t'
			if inSpace && !space {
				fragments = append(fragments, text[start:i])
				start = i
			}
			inSpace = space
		}
		return append(fragments, text[start:])
	}

	fragments := make([]string, 0, utf8.RuneCountInString(text))
	for _, r := range text {
		fragments = append(fragments, string(r))
	}
	return fragments
}

// ParseSplit validates a split name. The empty string selects SplitChar.
func ParseSplit(s string) (Split, error) {
	switch Split(strings.ToLower(s)) {
	case "", SplitChar:
		return SplitChar, nil
	case SplitWord:
		return SplitWord, nil
	default:
		return "", fmt.Errorf("unknown split %q, expected %q or %q", s, SplitChar, SplitWord)
	}
}
