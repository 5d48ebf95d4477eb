package testutil

import (
	"fmt"
	"sync"
	"time"

	"github.com/roach88/flowscript/internal/engine"
	"github.com/roach88/flowscript/internal/value"
)

// Message is one SendMessage call seen by a Host.
type Message struct {
	From, To engine.EntityID
	Name     string
	Payload  value.Value
}

// MusicCall is one PlayMusic or StopMusic call seen by a Host.
type MusicCall struct {
	Play  bool
	Track string
	Fade  time.Duration
}

// Host is an in-memory engine.Host that records every side effect.
//
// Thread-safety: all methods are safe for concurrent use.
type Host struct {
	mu         sync.Mutex
	entities   map[string]engine.EntityID
	properties map[engine.EntityID]map[string]value.Value
	messages   []Message
	music      []MusicCall
	globals    map[string]value.Value
}

// NewHost creates a host with no entities.
func NewHost() *Host {
	return &Host{
		entities:   make(map[string]engine.EntityID),
		properties: make(map[engine.EntityID]map[string]value.Value),
	}
}

// AddEntity registers a named entity.
func (h *Host) AddEntity(name string, id engine.EntityID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entities[name] = id
	if h.properties[id] == nil {
		h.properties[id] = make(map[string]value.Value)
	}
}

// RemoveEntity destroys a named entity.
func (h *Host) RemoveEntity(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if id, ok := h.entities[name]; ok {
		delete(h.properties, id)
	}
	delete(h.entities, name)
}

// SetGlobal makes the host own a variable, shadowing the script's own.
func (h *Host) SetGlobal(name string, v value.Value) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.globals == nil {
		h.globals = make(map[string]value.Value)
	}
	h.globals[name] = v
}

func (h *Host) ResolveEntity(name string) (engine.EntityID, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id, ok := h.entities[name]
	if !ok {
		return 0, fmt.Errorf("resolve %q: %w", name, engine.ErrEntityNotFound)
	}
	return id, nil
}

func (h *Host) SetEntityProperty(entity engine.EntityID, property string, v value.Value) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	props, ok := h.properties[entity]
	if !ok {
		return fmt.Errorf("entity %d: %w", entity, engine.ErrEntityNotFound)
	}
	props[property] = v
	return nil
}

func (h *Host) SendMessage(from, to engine.EntityID, message string, payload value.Value) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.properties[to]; !ok {
		return fmt.Errorf("entity %d: %w", to, engine.ErrEntityNotFound)
	}
	h.messages = append(h.messages, Message{From: from, To: to, Name: message, Payload: payload})
	return nil
}

func (h *Host) PlayMusic(track string, fade time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.music = append(h.music, MusicCall{Play: true, Track: track, Fade: fade})
}

func (h *Host) StopMusic(fade time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.music = append(h.music, MusicCall{Fade: fade})
}

func (h *Host) Variable(name string) (value.Value, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	v, ok := h.globals[name]
	return v, ok
}

func (h *Host) SetVariable(name string, v value.Value) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.globals[name]; !ok {
		return false
	}
	h.globals[name] = v
	return true
}

// Property returns a recorded entity property.
func (h *Host) Property(entity engine.EntityID, name string) (value.Value, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	v, ok := h.properties[entity][name]
	return v, ok
}

// Messages returns a copy of the delivered messages.
func (h *Host) Messages() []Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Message(nil), h.messages...)
}

// Music returns a copy of the music calls.
func (h *Host) Music() []MusicCall {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]MusicCall(nil), h.music...)
}

var _ engine.Host = (*Host)(nil)
