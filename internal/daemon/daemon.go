// Package daemon runs the long-lived scribe server: one process per
// repo, guarded by a flock in .scribe/, serving the RPC socket until it
// is told to stop or goes idle.
package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/gofrs/flock"

	"github.com/untoldecay/scribe/internal/paths"
	"github.com/untoldecay/scribe/internal/rpc"
)

const (
	// DefaultIdleTimeout stops a daemon nobody is talking to. Startup
	// cost is one process spawn, so erring short is cheap.
	DefaultIdleTimeout = 30 * time.Minute

	lockFileName  = "daemon.lock"
	pidFileName   = "daemon.pid"
	errorFileName = "daemon-error"
)

// Options configures one daemon run.
type Options struct {
	RepoRoot      string
	DBPath        string
	IdleTimeout   time.Duration
	LogMaxSizeMB  int
	LogMaxBackups int

	// WatchDocs enables the fsnotify refresh of registered documents.
	WatchDocs bool
}

// Daemon owns the server lifecycle for one repo.
type Daemon struct {
	opts     Options
	services rpc.Services
	log      *Logger

	server *rpc.Server
	lock   *flock.Flock
}

// New builds a daemon. The ops log opens lazily in Run.
func New(services rpc.Services, opts Options) *Daemon {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.DBPath == "" {
		opts.DBPath = paths.DatabaseFile(opts.RepoRoot)
	}
	return &Daemon{opts: opts, services: services}
}

// Run serves until the context is canceled, a client sends shutdown, a
// signal arrives, or the idle timeout fires. It owns the pid file and
// the daemon lock for its lifetime.
func (d *Daemon) Run(ctx context.Context) error {
	scribeDir := paths.ScribeDir(d.opts.RepoRoot)
	if err := os.MkdirAll(scribeDir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", scribeDir, err)
	}

	d.log = NewLogger(paths.DaemonLogFile(d.opts.RepoRoot), d.opts.LogMaxSizeMB, d.opts.LogMaxBackups)
	defer d.log.Close()

	d.lock = flock.New(filepath.Join(scribeDir, lockFileName))
	locked, err := d.lock.TryLock()
	if err != nil {
		return d.startupFailure(fmt.Errorf("failed to acquire daemon lock: %w", err))
	}
	if !locked {
		return fmt.Errorf("another daemon already serves %s", d.opts.RepoRoot)
	}
	defer func() { _ = d.lock.Unlock() }()

	pidPath := filepath.Join(scribeDir, pidFileName)
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		return d.startupFailure(fmt.Errorf("failed to write pid file: %w", err))
	}
	defer func() { _ = os.Remove(pidPath) }()

	// A clean start invalidates any error left by a previous crash.
	_ = os.Remove(filepath.Join(scribeDir, errorFileName))

	socketPath := rpc.SocketPath(d.opts.RepoRoot)
	d.server = rpc.NewServer(socketPath, d.opts.RepoRoot, d.opts.DBPath, d.services, rpc.ServerOptions{})
	if err := d.server.Start(); err != nil {
		return d.startupFailure(err)
	}
	d.log.Info("daemon started",
		"pid", os.Getpid(), "socket", socketPath, "db", d.opts.DBPath, "version", rpc.Version)

	watchCtx, cancelWatch := context.WithCancel(ctx)
	defer cancelWatch()
	if d.opts.WatchDocs && d.services.Store != nil && d.services.Registry != nil {
		w := NewWatcher(d.services.Store, d.services.Registry, d.log)
		go func() {
			if err := w.Run(watchCtx); err != nil && watchCtx.Err() == nil {
				d.log.Warn("doc watcher stopped", "error", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	idleTick := time.NewTicker(idleCheckInterval(d.opts.IdleTimeout))
	defer idleTick.Stop()

	reason := ""
loop:
	for {
		select {
		case <-ctx.Done():
			reason = "context canceled"
			break loop
		case sig := <-sigCh:
			reason = fmt.Sprintf("signal %s", sig)
			break loop
		case <-d.server.ShutdownRequested():
			reason = "client shutdown request"
			break loop
		case <-idleTick.C:
			if d.server.ActiveConns() == 0 && time.Since(d.server.LastActivity()) >= d.opts.IdleTimeout {
				reason = fmt.Sprintf("idle for %s", d.opts.IdleTimeout)
				break loop
			}
		}
	}

	d.log.Info("daemon stopping", "reason", reason)
	if err := d.server.Stop(); err != nil {
		d.log.Error("server stop failed", "error", err)
		return err
	}
	return nil
}

// startupFailure records why the daemon could not come up so the CLI
// can show it instead of a bare timeout.
func (d *Daemon) startupFailure(err error) error {
	if d.log != nil {
		d.log.Error("daemon startup failed", "error", err)
	}
	errPath := filepath.Join(paths.ScribeDir(d.opts.RepoRoot), errorFileName)
	_ = os.WriteFile(errPath, []byte(err.Error()+"\n"), 0o644)
	return err
}

func idleCheckInterval(idle time.Duration) time.Duration {
	interval := idle / 4
	if interval > 30*time.Second {
		interval = 30 * time.Second
	}
	if interval < 50*time.Millisecond {
		interval = 50 * time.Millisecond
	}
	return interval
}
