package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	spacebot "github.com/nevindra/spacebot"
)

const watchConfig = `
[[agents]]
id = "main"
`

func TestWatcherReloadsOnContentChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "spacebot.toml")
	os.WriteFile(path, []byte(watchConfig), 0o644)

	w := NewWatcher(path, spacebot.NopLogger())
	reloaded := make(chan Config, 1)
	w.OnReload = func(cfg Config) { reloaded <- cfg }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)
	time.Sleep(100 * time.Millisecond)

	os.WriteFile(path, []byte(watchConfig+`
[defaults]
max_concurrent_branches = 7
`), 0o644)

	select {
	case cfg := <-reloaded:
		if cfg.Defaults.MaxConcurrentBranches != 7 {
			t.Errorf("reload carried wrong value: %d", cfg.Defaults.MaxConcurrentBranches)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("reload never fired")
	}
}

func TestWatcherSkipsNoopRewrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "spacebot.toml")
	os.WriteFile(path, []byte(watchConfig), 0o644)

	w := NewWatcher(path, spacebot.NopLogger())
	reloaded := make(chan Config, 1)
	w.OnReload = func(cfg Config) { reloaded <- cfg }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)
	time.Sleep(100 * time.Millisecond)

	// Same bytes: the content hash short-circuits the reload.
	os.WriteFile(path, []byte(watchConfig), 0o644)

	select {
	case <-reloaded:
		t.Error("identical content must not trigger a reload")
	case <-time.After(3 * time.Second):
	}
}

func TestWatcherKeepsPreviousConfigOnParseError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "spacebot.toml")
	os.WriteFile(path, []byte(watchConfig), 0o644)

	w := NewWatcher(path, spacebot.NopLogger())
	reloaded := make(chan Config, 1)
	w.OnReload = func(cfg Config) { reloaded <- cfg }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)
	time.Sleep(100 * time.Millisecond)

	os.WriteFile(path, []byte("this is [ not toml"), 0o644)

	select {
	case <-reloaded:
		t.Error("broken config must not reach OnReload")
	case <-time.After(3 * time.Second):
	}
}
