package cli

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/flowscript/internal/engine"
	"github.com/roach88/flowscript/internal/value"
)

// consoleHost is the engine.Host of a command-line run. Entities are the
// names from the run config; every effect is logged.
type consoleHost struct {
	logger   *slog.Logger
	byName   map[string]engine.EntityID
	existing map[engine.EntityID]bool
}

var _ engine.Host = (*consoleHost)(nil)

func newConsoleHost(logger *slog.Logger, self engine.EntityID, entities map[string]uint64) *consoleHost {
	h := &consoleHost{
		logger:   logger,
		byName:   make(map[string]engine.EntityID, len(entities)),
		existing: map[engine.EntityID]bool{self: true},
	}
	for name, id := range entities {
		h.byName[name] = engine.EntityID(id)
		h.existing[engine.EntityID(id)] = true
	}
	return h
}

func (h *consoleHost) ResolveEntity(name string) (engine.EntityID, error) {
	id, ok := h.byName[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", engine.ErrEntityNotFound, name)
	}
	return id, nil
}

func (h *consoleHost) SetEntityProperty(entity engine.EntityID, property string, v value.Value) error {
	if !h.existing[entity] {
		return fmt.Errorf("%w: id %d", engine.ErrEntityNotFound, entity)
	}
	h.logger.Info("set property", "entity", entity, "property", property, "value", value.ToAny(v))
	return nil
}

func (h *consoleHost) SendMessage(from, to engine.EntityID, message string, payload value.Value) error {
	if !h.existing[to] {
		return fmt.Errorf("%w: id %d", engine.ErrEntityNotFound, to)
	}
	h.logger.Info("message", "from", from, "to", to, "message", message, "payload", value.ToAny(payload))
	return nil
}

func (h *consoleHost) PlayMusic(track string, fade time.Duration) {
	h.logger.Info("play music", "track", track, "fade", fade)
}

func (h *consoleHost) StopMusic(fade time.Duration) {
	h.logger.Info("stop music", "fade", fade)
}

func (h *consoleHost) Variable(string) (value.Value, bool) { return nil, false }

func (h *consoleHost) SetVariable(string, value.Value) bool { return false }
