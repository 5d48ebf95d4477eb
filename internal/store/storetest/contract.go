// Package storetest holds the behaviour every store.SnapshotStore must share.
package storetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/flowscript/internal/graph"
	"github.com/roach88/flowscript/internal/script"
	"github.com/roach88/flowscript/internal/store"
	"github.com/roach88/flowscript/internal/value"
)

// Snapshot builds a started state with one thread at node 0 and a variable,
// captured under key.
func Snapshot(t testing.TB, key string, graphHash uint64) store.Snapshot {
	t.Helper()
	st := script.New()
	st.Start(0, graphHash)
	st.SetVariable("key", value.String(key))
	snap, err := store.Capture(key, st)
	require.NoError(t, err)
	return snap
}

// RunSnapshotStoreContract runs the shared suite against s. The store must
// be empty.
func RunSnapshotStoreContract(t *testing.T, s store.SnapshotStore) {
	ctx := context.Background()
	const hash uint64 = 0x0123456789abcdef

	t.Run("Save and Load", func(t *testing.T) {
		snap := Snapshot(t, "hero", hash)
		seq, err := s.Save(ctx, snap)
		require.NoError(t, err)
		assert.Positive(t, seq)

		loaded, err := s.Load(ctx, "hero")
		require.NoError(t, err)
		assert.Equal(t, "hero", loaded.Key)
		assert.Equal(t, hash, loaded.GraphHash)
		assert.Equal(t, snap.Data, loaded.Data, "snapshot bytes must round-trip exactly")
		assert.Equal(t, seq, loaded.Seq)

		st, err := script.Decode(loaded.Data)
		require.NoError(t, err)
		v, ok := st.Variable("key")
		require.True(t, ok)
		assert.Equal(t, value.String("hero"), v)
	})

	t.Run("Save replaces and advances seq", func(t *testing.T) {
		first, err := s.Save(ctx, Snapshot(t, "door", hash))
		require.NoError(t, err)
		second, err := s.Save(ctx, Snapshot(t, "door", hash+1))
		require.NoError(t, err)
		assert.Greater(t, second, first)

		loaded, err := s.Load(ctx, "door")
		require.NoError(t, err)
		assert.Equal(t, hash+1, loaded.GraphHash)
		assert.Equal(t, second, loaded.Seq)
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := s.Load(ctx, "ghost")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		_, err := s.Save(ctx, Snapshot(t, "crate", hash))
		require.NoError(t, err)

		require.NoError(t, s.Delete(ctx, "crate"))
		_, err = s.Load(ctx, "crate")
		assert.ErrorIs(t, err, store.ErrNotFound, "Load after Delete should return ErrNotFound")

		assert.NoError(t, s.Delete(ctx, "crate"), "deleting twice is not an error")
	})

	t.Run("List", func(t *testing.T) {
		keys, err := s.List(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"hero", "door"}, keys)

		for _, k := range []string{"zeta", "alpha", "mid"} {
			_, err := s.Save(ctx, Snapshot(t, k, hash))
			require.NoError(t, err)
		}
		keys, err = s.List(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"hero", "door", "zeta", "alpha", "mid"}, keys, "keys come back in save order")

		_, err = s.Save(ctx, Snapshot(t, "zeta", hash))
		require.NoError(t, err)
		keys, err = s.List(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"hero", "door", "alpha", "mid", "zeta"}, keys, "a re-save moves the key last")

		for _, k := range []string{"zeta", "alpha", "mid"} {
			require.NoError(t, s.Delete(ctx, k))
		}
	})

	t.Run("Any Key Name", func(t *testing.T) {
		before, err := s.Load(ctx, "hero")
		require.NoError(t, err)

		names := []string{"seq", "index", "expiry", "snap:hero", "snapshots"}
		for _, k := range names {
			_, err := s.Save(ctx, Snapshot(t, k, hash))
			require.NoError(t, err, "save %q", k)
		}

		seq, err := s.Save(ctx, Snapshot(t, "after", hash))
		require.NoError(t, err, "saving after odd key names")
		assert.Positive(t, seq)

		for _, k := range names {
			loaded, err := s.Load(ctx, k)
			require.NoError(t, err, "load %q", k)
			assert.Equal(t, k, loaded.Key)
		}
		hero, err := s.Load(ctx, "hero")
		require.NoError(t, err)
		assert.Equal(t, before.Seq, hero.Seq, "snap:hero must not overwrite hero")

		keys, err := s.List(ctx)
		require.NoError(t, err)
		assert.Equal(t, append([]string{"hero", "door"}, append(names, "after")...), keys)

		for _, k := range append(names, "after") {
			require.NoError(t, s.Delete(ctx, k))
		}
	})

	t.Run("Restore", func(t *testing.T) {
		g, err := graph.Build("one", []graph.NodeSpec{{ID: 0, Type: "start", Pins: []graph.PinKind{graph.FlowOut}}}, nil)
		require.NoError(t, err)

		_, err = s.Save(ctx, Snapshot(t, "match", g.Hash()))
		require.NoError(t, err)
		loaded, err := s.Load(ctx, "match")
		require.NoError(t, err)

		st, err := loaded.Restore(g)
		require.NoError(t, err)
		assert.True(t, st.Started())

		_, err = s.Save(ctx, Snapshot(t, "mismatch", hash))
		require.NoError(t, err)
		other, err := s.Load(ctx, "mismatch")
		require.NoError(t, err)
		st, err = other.Restore(g)
		assert.ErrorIs(t, err, script.ErrGraphMismatch)
		assert.False(t, st.Started())

		require.NoError(t, s.Delete(ctx, "match"))
		require.NoError(t, s.Delete(ctx, "mismatch"))
	})
}
