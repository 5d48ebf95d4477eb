package engine

import (
	"log/slog"
	"time"

	"github.com/roach88/flowscript/internal/graph"
	"github.com/roach88/flowscript/internal/script"
	"github.com/roach88/flowscript/internal/value"
)

// maxDataDepth bounds recursive data pin reads so a cycle of data
// connections reads as Null instead of overflowing the stack.
const maxDataDepth = 64

// Tick is one scheduler step.
type Tick struct {
	Frame int64
	Delta time.Duration
}

// Context is what a node type sees of the running script during Update and
// ReadData. It is only valid for the duration of that call.
type Context struct {
	env    *Environment
	state  *script.State
	tick   Tick
	entity EntityID
	node   *graph.Node
	thread *script.Thread
	depth  int
}

// Tick returns the current tick.
func (c *Context) Tick() Tick { return c.tick }

// Frame returns the current frame number.
func (c *Context) Frame() int64 { return c.tick.Frame }

// Delta returns the current tick's full time delta.
func (c *Context) Delta() time.Duration { return c.tick.Delta }

// Entity returns the entity running the script.
func (c *Context) Entity() EntityID { return c.entity }

// Host returns the host collaborator.
func (c *Context) Host() Host { return c.env.host }

// Logger returns a logger annotated with the current node.
func (c *Context) Logger() *slog.Logger {
	if c.node == nil {
		return c.env.logger
	}
	return c.env.logger.With("node", c.node.ID, "type", c.node.Type)
}

// NodeElapsed is the time the current thread has spent in the current node
// before this update. It is zero during data reads.
func (c *Context) NodeElapsed() time.Duration {
	if c.thread == nil {
		return 0
	}
	return c.thread.NodeElapsed()
}

// Parked counts the other live threads waiting to merge at the current node.
// Threads terminated while parked are not counted.
func (c *Context) Parked() int {
	n := 0
	for _, t := range c.state.Threads() {
		if t == c.thread || !t.IsMerging() {
			continue
		}
		if id, ok := t.Current(); ok && id == c.node.ID {
			n++
		}
	}
	return n
}

// ReadDataPin evaluates the data input pin of the current node by asking
// the connected source node for its value. Unconnected pins read as Null.
func (c *Context) ReadDataPin(pin graph.PinID) value.Value {
	p, ok := c.node.Pin(pin)
	if !ok || p.Kind != graph.DataIn || len(p.Connections) == 0 {
		return value.Null{}
	}
	if c.depth >= maxDataDepth {
		c.Logger().Warn("data pin read too deep, possible data cycle", "pin", pin)
		return value.Null{}
	}

	src := p.Connections[0]
	srcNode, ok := c.env.prog.graph.Node(src.Node)
	if !ok {
		return value.Null{}
	}
	reader, ok := c.env.prog.Type(src.Node).(DataReader)
	if !ok {
		return value.Null{}
	}

	var data script.NodeData
	if ns, ok := c.state.LookupNodeState(src.Node); ok {
		data = ns.Data
	}
	sub := &Context{
		env:    c.env,
		state:  c.state,
		tick:   c.tick,
		entity: c.entity,
		node:   srcNode,
		depth:  c.depth + 1,
	}
	v := reader.ReadData(sub, srcNode, src.Pin, data)
	if v == nil {
		return value.Null{}
	}
	return v
}

// Variable reads a script variable, giving the host first refusal.
// Missing variables read as Null.
func (c *Context) Variable(name string) value.Value {
	if v, ok := c.env.host.Variable(name); ok {
		return v
	}
	if v, ok := c.state.Variable(name); ok {
		return v
	}
	return value.Null{}
}

// SetVariable writes a script variable, giving the host first refusal.
func (c *Context) SetVariable(name string, v value.Value) {
	if c.env.host.SetVariable(name, v) {
		return
	}
	c.state.SetVariable(name, v)
}

// Target resolves an entity reference from node settings. An empty name
// means the entity running the script.
func (c *Context) Target(name string) (EntityID, error) {
	if name == "" {
		return c.entity, nil
	}
	id, err := c.env.host.ResolveEntity(name)
	if err != nil {
		return 0, &ScriptError{
			Code:    ErrCodeEntityNotFound,
			Message: "resolve " + name,
			Node:    c.nodeID(),
			Err:     err,
		}
	}
	return id, nil
}

// Report logs a non-fatal error raised by a node. Lookup failures are
// expected when entities are destroyed and are logged at info level.
func (c *Context) Report(err error) {
	if err == nil {
		return
	}
	if IsEntityNotFound(err) {
		c.Logger().Info("host lookup failed, operation dropped", "error", err)
		return
	}
	c.Logger().Warn("node operation failed", "error", err)
}

func (c *Context) nodeID() *graph.NodeID {
	if c.node == nil {
		return nil
	}
	id := c.node.ID
	return &id
}
