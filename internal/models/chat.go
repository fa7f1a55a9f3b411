package models

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Role represents the role of a conversation participant.
type Role string

const (
	// RoleUser represents a turn typed by the user. Its content is fixed at creation.
	RoleUser Role = "user"
	// RoleAssistant represents a streamed reply. Its content grows fragment by fragment until the
	// stream reaches a terminal condition.
	RoleAssistant Role = "assistant"
)

// Turn is one message of the conversation. Assistant turns are append-only while streaming and
// immutable once frozen; user turns are created frozen.
//
// A Turn is shared between the stream ingestor, which is its only writer, and the reveal
// scheduler, which only reads it, so every access goes through the mutex.
type Turn struct {
	id        string
	role      Role
	createdAt time.Time

	mu      sync.RWMutex
	content strings.Builder
	frozen  bool
}

// TurnSnapshot is a point-in-time copy of a Turn, safe to hand to templates and encoders.
type TurnSnapshot struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Frozen    bool      `json:"frozen"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewUserTurn creates a frozen user turn holding the trimmed input.
func NewUserTurn(input string) *Turn {
	t := newTurn(RoleUser)
	t.content.WriteString(strings.TrimSpace(input))
	t.frozen = true
	return t
}

// NewAssistantTurn creates an empty assistant turn ready to receive fragments.
func NewAssistantTurn() *Turn {
	return newTurn(RoleAssistant)
}

func newTurn(role Role) *Turn {
	return &Turn{
		id:        uuid.New().String(),
		role:      role,
		createdAt: time.Now(),
	}
}

// ID returns the turn's unique identifier. Identity, not content, decides whether two
// observations belong to the same turn.
func (t *Turn) ID() string { return t.id }

// Role returns the turn's role.
func (t *Turn) Role() Role { return t.role }

// Append adds a fragment to the end of the content. It reports false, leaving the content
// untouched, once the turn is frozen.
func (t *Turn) Append(fragment string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.frozen {
		return false
	}
	t.content.WriteString(fragment)
	return true
}

// Freeze marks the content final. Calling it more than once has no further effect.
func (t *Turn) Freeze() {
	t.mu.Lock()
	t.frozen = true
	t.mu.Unlock()
}

// Frozen reports whether the content can still grow.
func (t *Turn) Frozen() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.frozen
}

// Text returns the content received so far.
func (t *Turn) Text() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.content.String()
}

// Snapshot copies the turn's current state.
func (t *Turn) Snapshot() TurnSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return TurnSnapshot{
		ID:        t.id,
		Role:      t.role,
		Content:   t.content.String(),
		Frozen:    t.frozen,
		CreatedAt: t.createdAt,
	}
}
