package reveal

import (
	"sync"
	"testing"
	"time"

	"github.com/MegaGrindStone/typewriter-chat/internal/models"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type frameRecorder struct {
	mu        sync.Mutex
	frames    []Frame
	completed []Frame
}

func (r *frameRecorder) frame(f Frame) {
	r.mu.Lock()
	r.frames = append(r.frames, f)
	r.mu.Unlock()
}

func (r *frameRecorder) complete(f Frame) {
	r.mu.Lock()
	r.completed = append(r.completed, f)
	r.mu.Unlock()
}

func (r *frameRecorder) completions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.completed)
}

func (r *frameRecorder) last() Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.frames) == 0 {
		return Frame{}
	}
	return r.frames[len(r.frames)-1]
}

func newTestScheduler(t *testing.T) (*Scheduler, *frameRecorder) {
	t.Helper()

	s := NewScheduler(WithClock(clockwork.NewFakeClock()))
	rec := &frameRecorder{}
	s.Subscribe(rec.frame)
	s.OnComplete(rec.complete)
	t.Cleanup(s.Stop)
	return s, rec
}

var testTiming = Timing{
	Speed:          50 * time.Millisecond,
	FadeInDuration: 300 * time.Millisecond,
	FadeInDelay:    50 * time.Millisecond,
}

func currentGen(s *Scheduler) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

func TestSchedulerRevealsAtOwnPace(t *testing.T) {
	s, rec := newTestScheduler(t)
	turn := models.NewAssistantTurn()

	// The whole reply arrives before the first tick.
	turn.Append("H")
	s.Bind(turn, testTiming)
	for _, fragment := range []string{"i", " ", "t", "h", "e", "r", "e", "!"} {
		turn.Append(fragment)
		s.Sync()
	}
	turn.Freeze()
	s.Sync()

	// Arrival alone reveals nothing: only ticks advance the cursor.
	assert.Equal(t, 0, s.Snapshot().Revealed)
	assert.Equal(t, PhaseRevealing, s.Snapshot().Phase)

	gen := currentGen(s)
	for i := 1; i <= 9; i++ {
		assert.Equal(t, 0, rec.completions(), "completed before the cursor caught up")
		more := s.tick(gen)
		assert.Equal(t, i, s.Snapshot().Revealed)
		assert.Equal(t, i < 9, more)
	}

	f := s.Snapshot()
	assert.Equal(t, PhaseComplete, f.Phase)
	assert.Equal(t, "Hi there!", f.Prefix())
	assert.Equal(t, 1, rec.completions())

	// Further ticks change nothing.
	assert.False(t, s.tick(gen))
	assert.Equal(t, 9, s.Snapshot().Revealed)
	assert.Equal(t, 1, rec.completions())
}

func TestSchedulerWaitsForFreeze(t *testing.T) {
	s, rec := newTestScheduler(t)
	turn := models.NewAssistantTurn()
	turn.Append("Hi")

	s.Bind(turn, testTiming)
	gen := currentGen(s)
	s.tick(gen)
	s.tick(gen)
	s.tick(gen)

	f := s.Snapshot()
	assert.Equal(t, 2, f.Revealed)
	assert.Equal(t, PhaseRevealing, f.Phase, "caught up but the text may still grow")
	assert.Equal(t, 0, rec.completions())

	// Growth after catching up resumes revealing.
	turn.Append("!")
	s.Sync()
	assert.Equal(t, 2, s.Snapshot().Revealed)
	s.tick(gen)
	assert.Equal(t, 3, s.Snapshot().Revealed)

	turn.Freeze()
	s.Sync()
	assert.Equal(t, PhaseComplete, s.Snapshot().Phase)
	assert.Equal(t, 1, rec.completions())
	assert.Equal(t, "Hi!", rec.completed[0].Prefix())
}

func TestSchedulerCompletesFrozenPartialText(t *testing.T) {
	s, rec := newTestScheduler(t)
	turn := models.NewAssistantTurn()
	turn.Append("H")
	turn.Append("i")

	s.Bind(turn, testTiming)
	// The stream fails here: nothing more will arrive.
	turn.Freeze()
	s.Sync()
	assert.Equal(t, 0, rec.completions())

	gen := currentGen(s)
	assert.True(t, s.tick(gen))
	assert.False(t, s.tick(gen))
	f := s.Snapshot()
	assert.Equal(t, 2, f.Revealed)
	assert.Equal(t, "Hi", f.Prefix())
	assert.Equal(t, PhaseComplete, f.Phase)
	assert.Equal(t, 1, rec.completions())
}

func TestSchedulerCompletesEmptyFrozenText(t *testing.T) {
	s, rec := newTestScheduler(t)
	turn := models.NewAssistantTurn()
	turn.Freeze()

	s.Bind(turn, testTiming)

	f := s.Snapshot()
	assert.Equal(t, 0, f.Revealed)
	assert.Equal(t, PhaseComplete, f.Phase)
	assert.Equal(t, 1, rec.completions())
}

func TestSchedulerResetsOnNewTurn(t *testing.T) {
	s, rec := newTestScheduler(t)
	first := models.NewAssistantTurn()
	first.Append("first reply")

	s.Bind(first, testTiming)
	oldGen := currentGen(s)
	s.tick(oldGen)
	s.tick(oldGen)
	require.Equal(t, 2, s.Snapshot().Revealed)

	second := models.NewAssistantTurn()
	second.Append("second")
	s.Bind(second, testTiming)

	f := s.Snapshot()
	assert.Equal(t, second.ID(), f.TurnID)
	assert.Equal(t, 0, f.Revealed, "reveal restarts from the first character")
	assert.Equal(t, PhaseRevealing, f.Phase)

	// A tick scheduled for the previous turn has no effect.
	assert.False(t, s.tick(oldGen))
	assert.Equal(t, 0, s.Snapshot().Revealed)
	assert.Equal(t, 0, rec.completions())
}

func TestSchedulerRebindSameTurnKeepsProgress(t *testing.T) {
	s, _ := newTestScheduler(t)
	turn := models.NewAssistantTurn()
	turn.Append("growing")

	s.Bind(turn, testTiming)
	gen := currentGen(s)
	s.tick(gen)
	s.tick(gen)

	turn.Append(" text")
	s.Bind(turn, Timing{Speed: time.Second})

	assert.Equal(t, 2, s.Snapshot().Revealed)
	assert.Equal(t, gen, currentGen(s))
	assert.Equal(t, testTiming.FadeInDuration, s.Snapshot().FadeInDuration, "timing is kept until a new turn")
}

func TestSchedulerInstant(t *testing.T) {
	s, rec := newTestScheduler(t)
	turn := models.NewAssistantTurn()
	turn.Append("Hello")

	s.Bind(turn, testTiming.Instant())
	assert.Equal(t, 5, s.Snapshot().Revealed)
	assert.Equal(t, PhaseRevealing, s.Snapshot().Phase)

	turn.Append(", world")
	s.Sync()
	assert.Equal(t, 12, s.Snapshot().Revealed)

	turn.Freeze()
	s.Sync()
	assert.Equal(t, PhaseComplete, s.Snapshot().Phase)
	assert.Equal(t, 1, rec.completions())
	assert.Equal(t, "Hello, world", rec.last().Prefix())
}

func TestSchedulerCountsRunes(t *testing.T) {
	s, _ := newTestScheduler(t)
	turn := models.NewAssistantTurn()
	turn.Append("héllo ✓")
	turn.Freeze()

	s.Bind(turn, testTiming)
	gen := currentGen(s)
	for s.tick(gen) {
	}

	f := s.Snapshot()
	assert.Equal(t, 7, f.Revealed)
	assert.Equal(t, 7, f.Len())
	assert.Equal(t, "héllo ✓", f.Prefix())
}

func TestSchedulerStop(t *testing.T) {
	s, rec := newTestScheduler(t)
	turn := models.NewAssistantTurn()
	turn.Append("abc")

	s.Bind(turn, testTiming)
	gen := currentGen(s)

	s.Stop()
	s.Stop()

	assert.False(t, s.tick(gen))
	f := s.Snapshot()
	assert.Equal(t, PhaseIdle, f.Phase)
	assert.Empty(t, f.TurnID)

	turn.Freeze()
	s.Sync()
	assert.Equal(t, 0, rec.completions())
}

func TestSchedulerFramesAreOrdered(t *testing.T) {
	s, rec := newTestScheduler(t)
	turn := models.NewAssistantTurn()
	turn.Append("ordered frames")
	turn.Freeze()

	s.Bind(turn, testTiming)
	gen := currentGen(s)
	for s.tick(gen) {
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.NotEmpty(t, rec.frames)
	for i := 1; i < len(rec.frames); i++ {
		assert.LessOrEqual(t, rec.frames[i-1].Revealed, rec.frames[i].Revealed)
		assert.LessOrEqual(t, rec.frames[i].Revealed, rec.frames[i].Len())
	}
	assert.Equal(t, PhaseComplete, rec.frames[len(rec.frames)-1].Phase)
}

func TestSchedulerTicksWithClock(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := NewScheduler(WithClock(clock))
	t.Cleanup(s.Stop)

	done := make(chan Frame, 1)
	s.OnComplete(func(f Frame) { done <- f })

	turn := models.NewAssistantTurn()
	turn.Append("tick")
	turn.Freeze()
	s.Bind(turn, testTiming)

	require.Eventually(t, func() bool {
		select {
		case f := <-done:
			return assert.Equal(t, "tick", f.Prefix())
		default:
		}
		clock.Advance(testTiming.Speed)
		return false
	}, 2*time.Second, 5*time.Millisecond)
}
