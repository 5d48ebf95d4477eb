package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/flowscript/internal/graph"
	"github.com/roach88/flowscript/internal/script"
)

// ErrNotFound is returned when no snapshot exists for a key.
var ErrNotFound = errors.New("store: snapshot not found")

// Snapshot is one saved script state.
type Snapshot struct {
	Key       string
	GraphHash uint64
	Data      []byte
	// Seq is assigned by the store on Save. It is zero on snapshots that have
	// not been saved yet.
	Seq int64
}

// SnapshotStore persists the latest snapshot of each script instance.
type SnapshotStore interface {
	// Save replaces the snapshot stored under snap.Key and returns the
	// sequence number it was stamped with.
	Save(ctx context.Context, snap Snapshot) (int64, error)

	// Load returns the latest snapshot for key, or ErrNotFound.
	Load(ctx context.Context, key string) (Snapshot, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns every stored key in save order.
	List(ctx context.Context) ([]string, error)

	Close() error
}

// Capture encodes st as a snapshot for key.
func Capture(key string, st *script.State) (Snapshot, error) {
	data, err := st.Encode()
	if err != nil {
		return Snapshot{}, fmt.Errorf("capture %s: %w", key, err)
	}
	return Snapshot{Key: key, GraphHash: st.GraphHash(), Data: data}, nil
}

// Restore resumes the snapshot against g. Like script.Resume it always
// returns a usable state; a non-nil error means the state is fresh.
func (s Snapshot) Restore(g *graph.Graph) (*script.State, error) {
	return script.Resume(s.Data, g)
}

func parseHash(key, text string) (uint64, error) {
	h, err := graph.ParseHash(text)
	if err != nil {
		return 0, fmt.Errorf("snapshot %s: %w", key, err)
	}
	return h, nil
}
