package cli

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadRunConfig(t *testing.T) {
	cfg, err := loadRunConfig("testdata/run.yaml")
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Frames)
	assert.Equal(t, 16*time.Millisecond, cfg.Delta)
	assert.EqualValues(t, 4, cfg.Entity)
	assert.Equal(t, map[string]uint64{"gate": 9}, cfg.Entities)
	assert.True(t, cfg.Restartable)
	assert.False(t, cfg.Persist)
	assert.Equal(t, 3, cfg.Variables["score"])
}

func TestLoadRunConfig_KeepsDefaults(t *testing.T) {
	cfg, err := loadRunConfig(writeConfig(t, "persist: true\n"))
	require.NoError(t, err)

	def := defaultRunConfig()
	assert.Equal(t, def.Frames, cfg.Frames)
	assert.Equal(t, def.Delta, cfg.Delta)
	assert.True(t, cfg.Persist)
}

func TestLoadRunConfig_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"unknown key", "frame: 3\n", "field frame not found"},
		{"negative delta", "delta: -1s\n", "delta must not be negative"},
		{"two stores", "store: {sqlite: a.db, redis: 'localhost:6379', key: k}\n", "mutually exclusive"},
		{"store without key", "store: {sqlite: a.db}\n", "key is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadRunConfig(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
