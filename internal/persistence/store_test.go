package persistence

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SaiMyBB/Matter-Gateway/internal/infrastructure/config"
)

// backends opens every Store implementation in a fresh temp directory.
func backends(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()

	file, err := NewFileStore(filepath.Join(dir, "devices_state.json"), nil)
	require.NoError(t, err)
	bolt, err := NewBoltStore(filepath.Join(dir, "state.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { bolt.Close() })

	return map[string]Store{
		"file":   file,
		"bolt":   bolt,
		"memory": NewMemoryStore(),
	}
}

func TestStore_Contract(t *testing.T) {
	ctx := context.Background()

	for name, s := range backends(t) {
		t.Run(name+" starts empty", func(t *testing.T) {
			assert.Empty(t, s.LoadAll(ctx))
		})

		t.Run(name+" saves and loads a snapshot", func(t *testing.T) {
			snap := Snapshot{
				"BedroomDimmer": {"power": true, "brightness": 40},
				"PipeLeak":      {"leak": false},
			}
			require.NoError(t, s.SaveAll(ctx, snap))

			got := s.LoadAll(ctx)
			assert.Len(t, got, 2)
			assert.Equal(t, true, got["BedroomDimmer"]["power"])
			assert.EqualValues(t, 40, got["BedroomDimmer"]["brightness"])
			assert.Equal(t, false, got["PipeLeak"]["leak"])
		})

		t.Run(name+" mutate keeps other devices", func(t *testing.T) {
			require.NoError(t, s.Mutate(ctx, func(snap Snapshot) error {
				snap["PipeLeak"] = map[string]any{"leak": true}
				return nil
			}))

			got := s.LoadAll(ctx)
			assert.Equal(t, true, got["PipeLeak"]["leak"])
			assert.Equal(t, true, got["BedroomDimmer"]["power"])
		})

		t.Run(name+" failed mutate saves nothing", func(t *testing.T) {
			boom := errors.New("boom")
			err := s.Mutate(ctx, func(snap Snapshot) error {
				delete(snap, "PipeLeak")
				return boom
			})
			assert.ErrorIs(t, err, boom)
			assert.Contains(t, s.LoadAll(ctx), "PipeLeak")
		})

		t.Run(name+" loaded snapshot is a copy", func(t *testing.T) {
			got := s.LoadAll(ctx)
			got["PipeLeak"]["leak"] = "tampered"
			assert.Equal(t, true, s.LoadAll(ctx)["PipeLeak"]["leak"])
		})
	}
}

func TestStore_ConcurrentMutateLosesNothing(t *testing.T) {
	ctx := context.Background()

	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			states := NewDeviceStates(s)

			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					assert.NoError(t, states.SaveDevice(ctx, fmt.Sprintf("dev-%02d", i), map[string]any{"n": i}))
				}(i)
			}
			wg.Wait()

			assert.Len(t, s.LoadAll(ctx), 20)
		})
	}
}

func TestDeviceStates(t *testing.T) {
	ctx := context.Background()
	states := NewDeviceStates(NewMemoryStore())

	t.Run("missing device is reported", func(t *testing.T) {
		_, ok := states.LoadDevice(ctx, "nope")
		assert.False(t, ok)
	})

	t.Run("saved device loads back", func(t *testing.T) {
		attrs := map[string]any{"mode": "heat", "setpoint": 21}
		require.NoError(t, states.SaveDevice(ctx, "MainThermostat", attrs))
		attrs["mode"] = "cool"

		got, ok := states.LoadDevice(ctx, "MainThermostat")
		require.True(t, ok)
		assert.Equal(t, "heat", got["mode"])
	})

	t.Run("empty name is rejected", func(t *testing.T) {
		assert.ErrorIs(t, states.SaveDevice(ctx, "", nil), ErrEmptyName)
	})
}

func TestFileStore(t *testing.T) {
	ctx := context.Background()

	t.Run("creates the document and its directory", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "devices_state.json")
		_, err := NewFileStore(path, nil)
		require.NoError(t, err)

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.JSONEq(t, `{}`, string(data))
	})

	t.Run("document is indented JSON", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "devices_state.json")
		s, err := NewFileStore(path, nil)
		require.NoError(t, err)
		require.NoError(t, s.SaveAll(ctx, Snapshot{"lamp": {"power": true}}))

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), "\n  \"lamp\": {")
	})

	t.Run("corrupt document loads as empty", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "devices_state.json")
		require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

		s, err := NewFileStore(path, nil)
		require.NoError(t, err)
		assert.Empty(t, s.LoadAll(ctx))

		require.NoError(t, s.Mutate(ctx, func(snap Snapshot) error {
			snap["lamp"] = map[string]any{"power": true}
			return nil
		}))
		assert.Len(t, s.LoadAll(ctx), 1)
	})

	t.Run("non-object document loads as empty", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "devices_state.json")
		require.NoError(t, os.WriteFile(path, []byte(`[1, 2, 3]`), 0o644))

		s, err := NewFileStore(path, nil)
		require.NoError(t, err)
		assert.Empty(t, s.LoadAll(ctx))
	})

	t.Run("malformed entries are skipped", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "devices_state.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"lamp": {"power": true}, "junk": 5}`), 0o644))

		s, err := NewFileStore(path, nil)
		require.NoError(t, err)
		got := s.LoadAll(ctx)
		assert.Len(t, got, 1)
		assert.Contains(t, got, "lamp")
	})

	t.Run("empty file loads as empty", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "devices_state.json")
		require.NoError(t, os.WriteFile(path, nil, 0o644))

		s, err := NewFileStore(path, nil)
		require.NoError(t, err)
		assert.Empty(t, s.LoadAll(ctx))
	})

	t.Run("no temp files are left behind", func(t *testing.T) {
		dir := t.TempDir()
		s, err := NewFileStore(filepath.Join(dir, "devices_state.json"), nil)
		require.NoError(t, err)
		require.NoError(t, s.SaveAll(ctx, Snapshot{"lamp": {"power": false}}))

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		assert.Len(t, entries, 1)
	})

	t.Run("closed store rejects writes", func(t *testing.T) {
		s, err := NewFileStore(filepath.Join(t.TempDir(), "s.json"), nil)
		require.NoError(t, err)
		require.NoError(t, s.Close())
		assert.ErrorIs(t, s.SaveAll(ctx, Snapshot{}), ErrClosed)
	})

	t.Run("empty path is rejected", func(t *testing.T) {
		_, err := NewFileStore("", nil)
		assert.ErrorIs(t, err, ErrEmptyPath)
	})
}

func TestBoltStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")

	s, err := NewBoltStore(path, nil)
	require.NoError(t, err)
	require.NoError(t, s.SaveAll(ctx, Snapshot{"lamp": {"power": true}}))
	require.NoError(t, s.Close())

	s, err = NewBoltStore(path, nil)
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, true, s.LoadAll(ctx)["lamp"]["power"])
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		cfg     config.PersistenceConfig
		wantErr error
	}{
		{"file", config.PersistenceConfig{Type: "file", Path: filepath.Join(dir, "a.json")}, nil},
		{"bolt", config.PersistenceConfig{Type: "bolt", Path: filepath.Join(dir, "b.db")}, nil},
		{"memory", config.PersistenceConfig{Type: "memory"}, nil},
		{"unknown", config.PersistenceConfig{Type: "redis"}, ErrUnknownType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Open(tt.cfg, nil)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.NoError(t, s.Close())
		})
	}
}
