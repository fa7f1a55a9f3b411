package reveal

import (
	"log/slog"
	"sync"
	"unicode/utf8"

	"github.com/jonboulle/clockwork"
)

// Scheduler reveals one bound Source a character at a time.
//
// Subscribers and the completion callback run on the goroutine that caused the change (the
// ticker goroutine, or the caller of Bind and Sync). They may read Snapshot but must not call
// Bind, Sync or Stop.
type Scheduler struct {
	clock  clockwork.Clock
	logger *slog.Logger

	mu         sync.Mutex
	src        Source
	timing     Timing
	revealed   int
	phase      Phase
	gen        uint64
	seq        uint64
	stop       chan struct{}
	subs       map[int]func(Frame)
	nextSub    int
	onComplete func(Frame)

	notifyMu  sync.Mutex
	delivered uint64
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock replaces the wall clock, mostly for tests.
func WithClock(c clockwork.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithLogger sets the logger used for reveal diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// NewScheduler returns an idle scheduler.
func NewScheduler(opts ...Option) *Scheduler {
	s := &Scheduler{
		clock:  clockwork.NewRealClock(),
		logger: slog.Default(),
		phase:  PhaseIdle,
		subs:   make(map[int]func(Frame)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribe registers fn to receive every published frame, oldest first. Frames that are
// superseded before they could be delivered are skipped. The returned function removes the
// subscription.
func (s *Scheduler) Subscribe(fn func(Frame)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// OnComplete sets the callback fired once per bound text when its reveal completes.
func (s *Scheduler) OnComplete(fn func(Frame)) {
	s.mu.Lock()
	s.onComplete = fn
	s.mu.Unlock()
}

// Bind starts revealing src. If src has the same ID as the bound text, nothing is reset and the
// call behaves like Sync. Otherwise the previous reveal is cancelled and the new one starts from
// the first character with the given timing.
func (s *Scheduler) Bind(src Source, timing Timing) {
	s.mu.Lock()
	if src != nil && s.src != nil && s.src.ID() == src.ID() {
		s.mu.Unlock()
		s.Sync()
		return
	}

	s.stopTickerLocked()
	s.gen++
	s.src = src
	s.timing = timing
	s.revealed = 0
	s.phase = PhaseIdle
	if src == nil {
		n := s.notificationLocked(s.frameLocked(""), nil)
		s.mu.Unlock()
		s.deliver(n)
		return
	}

	s.phase = PhaseRevealing
	s.logger.Debug("Reveal started",
		slog.String("turnID", src.ID()),
		slog.Duration("speed", timing.Speed))

	if timing.Speed > 0 {
		stop := make(chan struct{})
		s.stop = stop
		go s.run(s.gen, s.clock.NewTicker(timing.Speed), stop)
	}

	frame, done := s.advanceLocked(s.catchUp())
	n := s.notificationLocked(frame, done)
	s.mu.Unlock()
	s.deliver(n)
}

// Sync re-evaluates the bound text without waiting for the next tick. It reveals everything
// available when the speed is zero, and declares completion as soon as the cursor has caught up
// with a frozen text.
func (s *Scheduler) Sync() {
	s.mu.Lock()
	if s.src == nil || s.phase != PhaseRevealing {
		s.mu.Unlock()
		return
	}
	prev := s.revealed
	frame, done := s.advanceLocked(s.catchUp())
	if frame.Revealed == prev && done == nil {
		s.mu.Unlock()
		return
	}
	n := s.notificationLocked(frame, done)
	s.mu.Unlock()
	s.deliver(n)
}

// Stop cancels any active reveal timer and unbinds the text. It is safe to call repeatedly.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopTickerLocked()
	s.gen++
	s.src = nil
	s.revealed = 0
	s.phase = PhaseIdle
	s.mu.Unlock()
}

// Snapshot returns the current frame.
func (s *Scheduler) Snapshot() Frame {
	s.mu.Lock()
	defer s.mu.Unlock()

	text := ""
	if s.src != nil {
		text = s.src.Text()
	}
	return s.frameLocked(text)
}

func (s *Scheduler) run(gen uint64, ticker clockwork.Ticker, stop <-chan struct{}) {
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.Chan():
			if !s.tick(gen) {
				return
			}
		}
	}
}

// tick reveals one more character. It reports false once the ticker that called it is no
// longer needed.
func (s *Scheduler) tick(gen uint64) bool {
	s.mu.Lock()
	if gen != s.gen || s.src == nil || s.phase != PhaseRevealing {
		s.mu.Unlock()
		return false
	}

	prev := s.revealed
	frame, done := s.advanceLocked(stepOne)
	if frame.Revealed == prev && done == nil {
		s.mu.Unlock()
		return true
	}
	n := s.notificationLocked(frame, done)
	s.mu.Unlock()
	s.deliver(n)
	return done == nil
}

type step int

const (
	stepNone step = iota
	stepOne
	stepAll
)

// catchUp is the step taken outside of ticks: none while paced, everything when instant.
func (s *Scheduler) catchUp() step {
	if s.timing.Speed <= 0 {
		return stepAll
	}
	return stepNone
}

// advanceLocked moves the cursor by st and checks for completion. It returns the resulting frame
// and, on completion, the callback to run.
func (s *Scheduler) advanceLocked(st step) (Frame, func(Frame)) {
	// Frozen must be read before Text: a text observed after the freeze is final.
	frozen := s.src.Frozen()
	text := s.src.Text()
	n := utf8.RuneCountInString(text)

	switch {
	case s.revealed >= n:
	case st == stepAll:
		s.revealed = n
	case st == stepOne:
		s.revealed++
	}

	var done func(Frame)
	if s.revealed == n && frozen {
		s.phase = PhaseComplete
		s.stopTickerLocked()
		done = s.onComplete
		if done == nil {
			done = func(Frame) {}
		}
		s.logger.Debug("Reveal complete",
			slog.String("turnID", s.src.ID()),
			slog.Int("revealed", s.revealed))
	}
	return s.frameLocked(text), done
}

func (s *Scheduler) frameLocked(text string) Frame {
	f := Frame{
		Text:           text,
		Revealed:       s.revealed,
		Phase:          s.phase,
		FadeInDuration: s.timing.FadeInDuration,
		FadeInDelay:    s.timing.FadeInDelay,
	}
	if s.src != nil {
		f.TurnID = s.src.ID()
	}
	return f
}

func (s *Scheduler) stopTickerLocked() {
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
}

type notification struct {
	seq   uint64
	frame Frame
	subs  []func(Frame)
	done  func(Frame)
}

// notificationLocked numbers a frame while the state lock is held, so the numbering follows the
// order in which states were produced.
func (s *Scheduler) notificationLocked(frame Frame, done func(Frame)) notification {
	s.seq++
	subs := make([]func(Frame), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	return notification{seq: s.seq, frame: frame, subs: subs, done: done}
}

// deliver hands a notification to the subscribers. A frame overtaken by a newer one on another
// goroutine is dropped instead of being delivered out of order; completion callbacks are never
// dropped.
func (s *Scheduler) deliver(n notification) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	if n.seq > s.delivered {
		s.delivered = n.seq
		for _, fn := range n.subs {
			fn(n.frame)
		}
	}
	if n.done != nil {
		n.done(n.frame)
	}
}
