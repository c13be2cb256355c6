package daemon

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gofrs/flock"

	"github.com/untoldecay/scribe/internal/paths"
	"github.com/untoldecay/scribe/internal/registry"
	"github.com/untoldecay/scribe/internal/rpc"
	"github.com/untoldecay/scribe/internal/state"
	"github.com/untoldecay/scribe/internal/storage/sqlite"
	"github.com/untoldecay/scribe/internal/types"
)

type daemonEnv struct {
	Root     string
	Store    *sqlite.Store
	State    *state.Manager
	Registry *registry.Registry
}

func newDaemonEnv(t *testing.T) *daemonEnv {
	t.Helper()
	ctx := context.Background()
	root := t.TempDir()
	if err := os.MkdirAll(paths.ScribeDir(root), 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	store, err := sqlite.New(ctx, paths.DatabaseFile(root))
	if err != nil {
		t.Fatalf("sqlite.New failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	st, err := state.Load(paths.StateFile(root))
	if err != nil {
		t.Fatalf("state.Load failed: %v", err)
	}
	return &daemonEnv{Root: root, Store: store, State: st, Registry: registry.New(store, st)}
}

func (e *daemonEnv) services() rpc.Services {
	return rpc.Services{Store: e.Store, State: e.State, Registry: e.Registry}
}

func TestRunServesUntilClientShutdown(t *testing.T) {
	env := newDaemonEnv(t)
	d := New(env.services(), Options{RepoRoot: env.Root, IdleTimeout: time.Hour})

	done := make(chan error, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { done <- d.Run(ctx) }()

	client := waitForDaemon(t, env.Root)
	pong, err := client.Ping()
	if err != nil || pong.Message != "pong" {
		t.Fatalf("ping = (%+v, %v)", pong, err)
	}

	pidPath := filepath.Join(paths.ScribeDir(env.Root), pidFileName)
	if _, err := os.Stat(pidPath); err != nil {
		t.Fatalf("pid file missing while running: %v", err)
	}

	if _, err := client.Shutdown(); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop after shutdown request")
	}

	if _, err := os.Stat(pidPath); !os.IsNotExist(err) {
		t.Error("pid file survived shutdown")
	}
	if _, err := os.Stat(rpc.SocketPath(env.Root)); !os.IsNotExist(err) {
		t.Error("socket survived shutdown")
	}
}

func TestRunRefusesSecondInstance(t *testing.T) {
	env := newDaemonEnv(t)

	lock := flock.New(filepath.Join(paths.ScribeDir(env.Root), lockFileName))
	locked, err := lock.TryLock()
	if err != nil || !locked {
		t.Fatalf("test lock failed: %v", err)
	}
	defer lock.Unlock()

	d := New(env.services(), Options{RepoRoot: env.Root})
	err = d.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "already serves") {
		t.Fatalf("error = %v, want already-running", err)
	}
}

func TestRunStopsWhenIdle(t *testing.T) {
	env := newDaemonEnv(t)
	d := New(env.services(), Options{RepoRoot: env.Root, IdleTimeout: 200 * time.Millisecond})

	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background()) }()
	waitForDaemon(t, env.Root)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("idle daemon never stopped")
	}
}

func waitForDaemon(t *testing.T, repoRoot string) *rpc.Client {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if client, _ := rpc.TryConnect(repoRoot); client != nil {
			return client
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("daemon never answered")
	return nil
}

func TestWatcherRecordsExternalEdit(t *testing.T) {
	env := newDaemonEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	docPath := filepath.Join(env.Root, "docs", "ARCHITECTURE.md")
	if err := os.MkdirAll(filepath.Dir(docPath), 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	if err := os.WriteFile(docPath, []byte("# Architecture\n"), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	p, err := env.Registry.EnsureProject(ctx, &types.Project{
		Name: "demo", Slug: "demo",
		Docs: map[string]string{"architecture_guide": docPath},
	})
	if err != nil {
		t.Fatalf("EnsureProject failed: %v", err)
	}

	w := NewWatcher(env.Store, env.Registry, NewLoggerTo(&bytes.Buffer{}))
	w.Debounce = 50 * time.Millisecond
	go func() { _ = w.Run(ctx) }()
	time.Sleep(200 * time.Millisecond) // let the initial index build

	if err := os.WriteFile(docPath, []byte("# Architecture\n\nEdited outside scribe.\n"), 0o644); err != nil {
		t.Fatalf("edit failed: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		n, err := env.Store.CountDocChanges(ctx, p.ID)
		if err != nil {
			t.Fatalf("CountDocChanges failed: %v", err)
		}
		if n == 1 {
			at, err := env.Store.LastDocUpdateAt(ctx, p.ID)
			if err != nil || at.IsZero() {
				t.Fatalf("LastDocUpdateAt = (%v, %v)", at, err)
			}
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("external edit never recorded")
}

func TestWatcherIgnoresUnchangedRewrite(t *testing.T) {
	env := newDaemonEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	docPath := filepath.Join(env.Root, "docs", "NOTES.md")
	content := []byte("# Notes\n")
	if err := os.MkdirAll(filepath.Dir(docPath), 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	if err := os.WriteFile(docPath, content, 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	p, err := env.Registry.EnsureProject(ctx, &types.Project{
		Name: "demo", Slug: "demo",
		Docs: map[string]string{"notes": docPath},
	})
	if err != nil {
		t.Fatalf("EnsureProject failed: %v", err)
	}

	w := NewWatcher(env.Store, env.Registry, NewLoggerTo(&bytes.Buffer{}))
	w.Debounce = 50 * time.Millisecond
	go func() { _ = w.Run(ctx) }()
	time.Sleep(200 * time.Millisecond)

	// Same bytes: hash is unchanged, so no audit row should appear.
	if err := os.WriteFile(docPath, content, 0o644); err != nil {
		t.Fatalf("rewrite failed: %v", err)
	}
	time.Sleep(500 * time.Millisecond)

	n, err := env.Store.CountDocChanges(ctx, p.ID)
	if err != nil {
		t.Fatalf("CountDocChanges failed: %v", err)
	}
	if n != 0 {
		t.Errorf("doc changes = %d, want 0", n)
	}
}

func TestLoggerFormatsKeyValues(t *testing.T) {
	var buf bytes.Buffer
	log := NewLoggerTo(&buf)
	log.Now = func() time.Time { return time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC) }

	log.Info("daemon started", "pid", 42, "socket", "/tmp/scribe.sock")
	log.Warn("slow request", "op", "query_entries")

	out := buf.String()
	for _, want := range []string{
		"2026-01-05T12:00:00Z INFO daemon started pid=42 socket=/tmp/scribe.sock",
		"WARN slow request op=query_entries",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("log missing %q:\n%s", want, out)
		}
	}
}

func TestIdleCheckIntervalBounds(t *testing.T) {
	if got := idleCheckInterval(30 * time.Minute); got != 30*time.Second {
		t.Errorf("long idle interval = %v", got)
	}
	if got := idleCheckInterval(200 * time.Millisecond); got != 50*time.Millisecond {
		t.Errorf("short idle interval = %v", got)
	}
}

func TestReadPidFile(t *testing.T) {
	root := t.TempDir()
	if pid := readPidFile(root); pid != 0 {
		t.Errorf("missing pid file read as %d", pid)
	}
	if err := os.MkdirAll(paths.ScribeDir(root), 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	pidPath := filepath.Join(paths.ScribeDir(root), pidFileName)
	if err := os.WriteFile(pidPath, []byte("1234\n"), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if pid := readPidFile(root); pid != 1234 {
		t.Errorf("pid = %d, want 1234", pid)
	}
	if err := os.WriteFile(pidPath, []byte("junk"), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if pid := readPidFile(root); pid != 0 {
		t.Errorf("junk pid file read as %d", pid)
	}
}
