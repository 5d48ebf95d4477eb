package engine

import (
	"time"

	"github.com/roach88/flowscript/internal/graph"
	"github.com/roach88/flowscript/internal/script"
)

// TickStats summarizes one Update call.
type TickStats struct {
	Graph      string
	Status     script.Status
	Threads    int
	Steps      int
	Forks      int
	Merges     int
	Terminated int
	Panics     int
	QuotaHit   bool
	Restarted  bool
	Wall       time.Duration
}

// Observer receives scheduler events. Calls happen on the goroutine running
// the tick; implementations shared across States must be safe for
// concurrent use.
type Observer interface {
	// NodeUpdated is called after every node update with the time the
	// scheduler charged to it.
	NodeUpdated(node *graph.Node, state ResultState, consumed time.Duration)
	// TickCompleted is called at the end of every Update.
	TickCompleted(stats TickStats)
}

type nopObserver struct{}

func (nopObserver) NodeUpdated(*graph.Node, ResultState, time.Duration) {}
func (nopObserver) TickCompleted(TickStats)                             {}

// Observers fans events out to several observers in order.
type Observers []Observer

func (os Observers) NodeUpdated(node *graph.Node, state ResultState, consumed time.Duration) {
	for _, o := range os {
		o.NodeUpdated(node, state, consumed)
	}
}

func (os Observers) TickCompleted(stats TickStats) {
	for _, o := range os {
		o.TickCompleted(stats)
	}
}
