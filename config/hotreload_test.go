package config

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequiresRestart(t *testing.T) {
	assert.True(t, RequiresRestart("Server.HTTPPort"))
	assert.True(t, RequiresRestart("Redis.Addr"))
	assert.True(t, RequiresRestart("Telemetry.SampleRate"))
	assert.False(t, RequiresRestart("Validation.MaxAgents"))
	assert.False(t, RequiresRestart("Log.Level"))
	assert.False(t, RequiresRestart("Server.HTTPPortX"))
}

func TestDetectChanges(t *testing.T) {
	old := DefaultConfig()
	next := DefaultConfig()
	next.Validation.MaxAgents = 9
	next.Redis.Addr = "other:6379"
	next.Redis.Password = "s3cret"
	next.Log.OutputPaths = []string{"stderr"}

	changes := detectChanges(old, next)
	byPath := make(map[string]ConfigChange, len(changes))
	for _, c := range changes {
		byPath[c.Path] = c
	}
	require.Len(t, byPath, 4)

	assert.Equal(t, 5, byPath["Validation.MaxAgents"].OldValue)
	assert.Equal(t, 9, byPath["Validation.MaxAgents"].NewValue)
	assert.False(t, byPath["Validation.MaxAgents"].RequiresRestart)

	// embedded connection settings sit directly under Redis
	assert.True(t, byPath["Redis.Addr"].RequiresRestart)
	assert.Equal(t, "***", byPath["Redis.Password"].NewValue)
	assert.Contains(t, byPath, "Log.OutputPaths")

	assert.Empty(t, detectChanges(old, DefaultConfig()))
}

func TestReloader_Reload(t *testing.T) {
	path := writeConfig(t, "validation:\n  max_agents: 5\n")
	loader := NewLoader().WithConfigPath(path)
	initial, err := loader.Load()
	require.NoError(t, err)

	r := NewReloader(loader, initial, nil)
	var seen []int
	r.OnReload(func(old, next *Config) {
		seen = append(seen, old.Validation.MaxAgents, next.Validation.MaxAgents)
	})

	changes, err := r.Reload()
	require.NoError(t, err)
	assert.Empty(t, changes, "unchanged file is a no-op")
	assert.Empty(t, seen)

	require.NoError(t, os.WriteFile(path, []byte("validation:\n  max_agents: 7\n"), 0o644))
	changes, err = r.Reload()
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, "file", changes[0].Source)
	assert.Equal(t, []int{5, 7}, seen)
	assert.Equal(t, 7, r.Config().Validation.MaxAgents)
	assert.Len(t, r.Changes(0), 1)

	t.Run("invalid config is rejected", func(t *testing.T) {
		require.NoError(t, os.WriteFile(path, []byte("log:\n  level: shout\n"), 0o644))
		_, err := r.Reload()
		assert.ErrorContains(t, err, "log.level")
		assert.Equal(t, 7, r.Config().Validation.MaxAgents)
	})
}

func TestReloader_CallbackPanicRestores(t *testing.T) {
	r := NewReloader(NewLoader(), DefaultConfig(), nil)
	r.OnReload(func(*Config, *Config) { panic("boom") })

	next := DefaultConfig()
	next.Log.Level = "debug"
	_, err := r.Apply(next, "manual")
	assert.ErrorContains(t, err, "panicked")
	assert.Equal(t, "info", r.Config().Log.Level)
	assert.Empty(t, r.Changes(0))
}

func TestReloader_ChangesLimit(t *testing.T) {
	r := NewReloader(NewLoader(), DefaultConfig(), nil)
	for _, level := range []string{"debug", "warn", "error"} {
		next := DefaultConfig()
		next.Log.Level = level
		_, err := r.Apply(next, "manual")
		require.NoError(t, err)
	}
	last := r.Changes(2)
	require.Len(t, last, 2)
	assert.Equal(t, "warn", last[0].NewValue)
	assert.Equal(t, "error", last[1].NewValue)
}

func TestReloader_Watch(t *testing.T) {
	t.Run("requires a file", func(t *testing.T) {
		r := NewReloader(NewLoader(), nil, nil)
		assert.Error(t, r.Watch(context.Background()))
	})

	t.Run("file change reloads", func(t *testing.T) {
		path := writeConfig(t, "validation:\n  max_agents: 5\n")
		loader := NewLoader().WithConfigPath(path)
		r := NewReloader(loader, DefaultConfig(), nil)

		reloaded := make(chan int, 1)
		r.OnReload(func(_, next *Config) { reloaded <- next.Validation.MaxAgents })

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		done := make(chan error, 1)
		go func() { done <- r.Watch(ctx, WithPollInterval(5*time.Millisecond), WithDebounceDelay(10*time.Millisecond)) }()

		// give the watcher time to record the initial mtime
		time.Sleep(20 * time.Millisecond)
		require.NoError(t, os.WriteFile(path, []byte("validation:\n  max_agents: 3\n"), 0o644))
		later := time.Now().Add(time.Minute)
		require.NoError(t, os.Chtimes(path, later, later))

		select {
		case n := <-reloaded:
			assert.Equal(t, 3, n)
		case <-time.After(2 * time.Second):
			t.Fatal("config not reloaded")
		}
		cancel()
		assert.NoError(t, <-done)
	})
}
