package config

import (
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWatcher_RequiresPath(t *testing.T) {
	_, err := NewWatcher(WatcherConfig{})
	assert.Error(t, err)
}

func TestWatcher_ReloadsValidChanges(t *testing.T) {
	path := writeConfig(t, "engine:\n  grace_window_seconds: 300\n")

	var (
		mu      sync.Mutex
		reloads []Config
	)
	w, err := NewWatcher(WatcherConfig{
		Path:     path,
		Debounce: 20 * time.Millisecond,
		Lookup:   envMap(nil),
		OnChange: func(cfg Config) {
			mu.Lock()
			defer mu.Unlock()
			reloads = append(reloads, cfg)
		},
	})
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Stop()

	// An invalid edit is ignored.
	require.NoError(t, os.WriteFile(path, []byte("engine:\n  grace_window_seconds: -1\n"), 0644))
	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	assert.Empty(t, reloads)
	mu.Unlock()

	require.NoError(t, os.WriteFile(path, []byte("engine:\n  grace_window_seconds: 900\n  finalize_mode: immediate\n"), 0644))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(reloads) > 0
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	last := reloads[len(reloads)-1]
	mu.Unlock()
	assert.Equal(t, 900, last.Engine.GraceWindowSeconds)
	assert.Equal(t, "immediate", last.Engine.FinalizeMode)
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	w, err := NewWatcher(WatcherConfig{Path: writeConfig(t, "")})
	require.NoError(t, err)

	require.NoError(t, w.Start())
	require.NoError(t, w.Start())
	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())
}
