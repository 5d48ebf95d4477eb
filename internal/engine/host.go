package engine

import (
	"fmt"
	"time"

	"github.com/roach88/flowscript/internal/value"
)

// EntityID identifies a host entity. Zero is never a valid entity.
type EntityID uint64

// Host is the game-side collaborator a script acts on. Calls are
// synchronous and fire-and-forget from the scheduler's point of view; they
// must be safe to call from whichever goroutine is ticking the script.
type Host interface {
	// ResolveEntity looks up an entity by name. Implementations return an
	// error wrapping ErrEntityNotFound when there is none.
	ResolveEntity(name string) (EntityID, error)

	// SetEntityProperty sets a property on an entity.
	SetEntityProperty(entity EntityID, property string, v value.Value) error

	// SendMessage delivers a message from one entity to another.
	SendMessage(from, to EntityID, message string, payload value.Value) error

	PlayMusic(track string, fade time.Duration)
	StopMusic(fade time.Duration)

	// Variable and SetVariable give the host first refusal on script
	// variables. Returning false falls back to the script's own variables.
	// A host that reports a value from Variable must accept SetVariable for
	// the same name; host.Runner relies on that to defer the write.
	Variable(name string) (value.Value, bool)
	SetVariable(name string, v value.Value) bool
}

// NopHost is a Host with no entities and no side effects.
type NopHost struct{}

func (NopHost) ResolveEntity(name string) (EntityID, error) {
	return 0, fmt.Errorf("resolve %q: %w", name, ErrEntityNotFound)
}

func (NopHost) SetEntityProperty(entity EntityID, _ string, _ value.Value) error {
	return fmt.Errorf("entity %d: %w", entity, ErrEntityNotFound)
}

func (NopHost) SendMessage(_, to EntityID, _ string, _ value.Value) error {
	return fmt.Errorf("entity %d: %w", to, ErrEntityNotFound)
}

func (NopHost) PlayMusic(string, time.Duration) {}
func (NopHost) StopMusic(time.Duration)         {}

func (NopHost) Variable(string) (value.Value, bool)  { return nil, false }
func (NopHost) SetVariable(string, value.Value) bool { return false }
