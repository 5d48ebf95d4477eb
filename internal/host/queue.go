package host

import (
	"fmt"
	"sync"
	"time"

	"github.com/roach88/flowscript/internal/engine"
	"github.com/roach88/flowscript/internal/value"
)

type effectKind uint8

const (
	effectSetProperty effectKind = iota + 1
	effectSendMessage
	effectPlayMusic
	effectStopMusic
	effectSetVariable
)

// effect is one deferred write to the host.
type effect struct {
	kind   effectKind
	from   engine.EntityID
	target engine.EntityID
	name   string // property, message, track or variable
	value  value.Value
	fade   time.Duration
}

// effectQueue is a FIFO of effects recorded by one instance during a tick.
//
// Thread-safety: safe for concurrent use, though in practice only the
// goroutine updating the instance enqueues and the runner drains after the
// tick has finished.
type effectQueue struct {
	mu      sync.Mutex
	effects []effect
}

func (q *effectQueue) enqueue(e effect) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.effects = append(q.effects, e)
}

// drain returns the queued effects in order and empties the queue, keeping
// its capacity.
func (q *effectQueue) drain() []effect {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.effects) == 0 {
		return nil
	}
	out := make([]effect, len(q.effects))
	copy(out, q.effects)
	clear(q.effects)
	q.effects = q.effects[:0]
	return out
}

func (q *effectQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.effects)
}

// bufferedHost stands between one instance and the real host during a
// tick. Reads go straight to the host under the runner's host lock; writes
// are queued so instances updated in parallel apply them in instance order
// once the tick is over.
//
// A variable belongs to the host when the host reports a value for it. Writes
// to such a variable are queued like any other effect, so reads later in the
// same tick still see the value from before the tick.
type bufferedHost struct {
	engine.Host
	mu    *sync.Mutex
	queue *effectQueue
}

func (h *bufferedHost) ResolveEntity(name string) (engine.EntityID, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.Host.ResolveEntity(name)
}

func (h *bufferedHost) Variable(name string) (value.Value, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.Host.Variable(name)
}

func (h *bufferedHost) SetVariable(name string, v value.Value) bool {
	if _, owned := h.Variable(name); !owned {
		return false
	}
	h.queue.enqueue(effect{kind: effectSetVariable, name: name, value: v})
	return true
}

func (h *bufferedHost) SetEntityProperty(entity engine.EntityID, property string, v value.Value) error {
	h.queue.enqueue(effect{kind: effectSetProperty, target: entity, name: property, value: v})
	return nil
}

func (h *bufferedHost) SendMessage(from, to engine.EntityID, message string, payload value.Value) error {
	h.queue.enqueue(effect{kind: effectSendMessage, from: from, target: to, name: message, value: payload})
	return nil
}

func (h *bufferedHost) PlayMusic(track string, fade time.Duration) {
	h.queue.enqueue(effect{kind: effectPlayMusic, name: track, fade: fade})
}

func (h *bufferedHost) StopMusic(fade time.Duration) {
	h.queue.enqueue(effect{kind: effectStopMusic, fade: fade})
}

// apply performs e against the real host.
func apply(h engine.Host, e effect) error {
	switch e.kind {
	case effectSetProperty:
		return h.SetEntityProperty(e.target, e.name, e.value)
	case effectSendMessage:
		return h.SendMessage(e.from, e.target, e.name, e.value)
	case effectPlayMusic:
		h.PlayMusic(e.name, e.fade)
	case effectStopMusic:
		h.StopMusic(e.fade)
	case effectSetVariable:
		if !h.SetVariable(e.name, e.value) {
			return fmt.Errorf("variable %s: host refused the write", e.name)
		}
	}
	return nil
}
