package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileOp_String(t *testing.T) {
	assert.Equal(t, "CREATE", FileOpCreate.String())
	assert.Equal(t, "WRITE", FileOpWrite.String())
	assert.Equal(t, "REMOVE", FileOpRemove.String())
	assert.Equal(t, "UNKNOWN", FileOp(42).String())
}

func TestNewFileWatcher(t *testing.T) {
	_, err := NewFileWatcher("")
	assert.Error(t, err)

	w, err := NewFileWatcher(filepath.Join(t.TempDir(), "later.yaml"))
	require.NoError(t, err)
	assert.False(t, w.exists)

	w, err = NewFileWatcher(writeConfig(t, "a: 1"), WithDebounceDelay(time.Second), WithPollInterval(time.Minute))
	require.NoError(t, err)
	assert.True(t, w.exists)
	assert.Equal(t, time.Second, w.debounceDelay)
	assert.Equal(t, time.Minute, w.pollInterval)
}

func TestFileWatcher_Check(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agentgraph.yaml")
	w, err := NewFileWatcher(path)
	require.NoError(t, err)
	now := time.Now()

	_, changed := w.check(now)
	assert.False(t, changed)

	require.NoError(t, os.WriteFile(path, []byte("a: 1"), 0o644))
	ev, changed := w.check(now)
	require.True(t, changed)
	assert.Equal(t, FileOpCreate, ev.Op)

	_, changed = w.check(now)
	assert.False(t, changed, "unchanged mtime")

	later := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, later, later))
	ev, changed = w.check(now)
	require.True(t, changed)
	assert.Equal(t, FileOpWrite, ev.Op)

	require.NoError(t, os.Remove(path))
	ev, changed = w.check(now)
	require.True(t, changed)
	assert.Equal(t, FileOpRemove, ev.Op)
	assert.Equal(t, path, ev.Path)
}

func TestFileWatcher_RunDispatchesOnce(t *testing.T) {
	path := writeConfig(t, "a: 1")
	w, err := NewFileWatcher(path, WithPollInterval(5*time.Millisecond), WithDebounceDelay(20*time.Millisecond))
	require.NoError(t, err)

	events := make(chan FileEvent, 10)
	w.OnChange(func(ev FileEvent) { events <- ev })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	later := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, later, later))

	select {
	case ev := <-events:
		assert.Equal(t, FileOpWrite, ev.Op)
	case <-time.After(2 * time.Second):
		t.Fatal("no event dispatched")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop")
	}
	assert.Empty(t, events)
}
