package daemon

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/untoldecay/scribe/internal/paths"
	"github.com/untoldecay/scribe/internal/rpc"
)

const startupWait = 5 * time.Second

// Info reports one repo's daemon from the outside.
type Info struct {
	Running       bool   `json:"running"`
	PID           int    `json:"pid,omitempty"`
	SocketPath    string `json:"socket_path"`
	LogPath       string `json:"log_path"`
	Version       string `json:"version,omitempty"`
	UptimeSeconds int64  `json:"uptime_seconds,omitempty"`
	ActiveConns   int32  `json:"active_conns,omitempty"`
	TotalRequests int64  `json:"total_requests,omitempty"`
	TotalErrors   int64  `json:"total_errors,omitempty"`
	Error         string `json:"error,omitempty"`
}

// Start spawns a detached daemon for repoRoot and waits for its socket
// to answer. Returns the daemon pid.
func Start(repoRoot string) (int, error) {
	if client, _ := rpc.TryConnect(repoRoot); client != nil {
		status, err := client.Status()
		if err == nil {
			return status.PID, fmt.Errorf("daemon already running (pid %d)", status.PID)
		}
		return 0, errors.New("daemon already running")
	}

	self, err := os.Executable()
	if err != nil {
		return 0, fmt.Errorf("failed to locate scribe binary: %w", err)
	}

	cmd := exec.Command(self, "daemon", "run")
	cmd.Dir = repoRoot
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	// New session so the daemon survives the CLI's terminal.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("failed to spawn daemon: %w", err)
	}
	pid := cmd.Process.Pid
	// The daemon reparents to init; Release avoids a zombie if it does
	// not.
	_ = cmd.Process.Release()

	deadline := time.Now().Add(startupWait)
	for time.Now().Before(deadline) {
		if client, _ := rpc.TryConnect(repoRoot); client != nil {
			return pid, nil
		}
		if !isProcessAlive(pid) {
			return 0, startError(repoRoot, fmt.Errorf("daemon process %d exited during startup", pid))
		}
		time.Sleep(100 * time.Millisecond)
	}
	return 0, startError(repoRoot, fmt.Errorf("daemon did not answer within %s", startupWait))
}

func startError(repoRoot string, base error) error {
	errPath := filepath.Join(paths.ScribeDir(repoRoot), errorFileName)
	if data, err := os.ReadFile(errPath); err == nil {
		if msg := strings.TrimSpace(string(data)); msg != "" {
			return fmt.Errorf("%w: %s", base, msg)
		}
	}
	return base
}

// Stop shuts the repo's daemon down: graceful RPC shutdown first, then
// SIGTERM from the pid file, then SIGKILL.
func Stop(repoRoot string) error {
	pid := readPidFile(repoRoot)

	if client, _ := rpc.TryConnect(repoRoot); client != nil {
		if _, err := client.Shutdown(); err == nil {
			if pid == 0 || waitForDeath(pid, 3*time.Second) {
				return nil
			}
		}
	}

	if pid == 0 {
		return errors.New("no daemon is running")
	}
	if !isProcessAlive(pid) {
		_ = os.Remove(filepath.Join(paths.ScribeDir(repoRoot), pidFileName))
		return errors.New("no daemon is running")
	}

	if err := unix.Kill(pid, unix.SIGTERM); err != nil {
		return fmt.Errorf("failed to signal daemon %d: %w", pid, err)
	}
	if waitForDeath(pid, 3*time.Second) {
		return nil
	}
	if err := unix.Kill(pid, unix.SIGKILL); err != nil {
		return fmt.Errorf("failed to kill daemon %d: %w", pid, err)
	}
	if waitForDeath(pid, time.Second) {
		return nil
	}
	return fmt.Errorf("daemon %d did not exit", pid)
}

// Status probes the repo's daemon without starting one.
func Status(repoRoot string) *Info {
	info := &Info{
		SocketPath: rpc.SocketPath(repoRoot),
		LogPath:    paths.DaemonLogFile(repoRoot),
	}

	client, err := rpc.TryConnect(repoRoot)
	if err != nil || client == nil {
		if pid := readPidFile(repoRoot); pid != 0 && isProcessAlive(pid) {
			info.PID = pid
			info.Error = "daemon process exists but its socket is not answering"
		}
		return info
	}

	status, err := client.Status()
	if err != nil {
		info.Error = err.Error()
		return info
	}
	info.Running = true
	info.PID = status.PID
	info.Version = status.Version
	info.UptimeSeconds = status.UptimeSeconds
	info.ActiveConns = status.ActiveConns
	info.TotalRequests = status.TotalRequests
	info.TotalErrors = status.TotalErrors
	return info
}

func readPidFile(repoRoot string) int {
	data, err := os.ReadFile(filepath.Join(paths.ScribeDir(repoRoot), pidFileName))
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0
	}
	return pid
}

// isProcessAlive sends signal 0. EPERM means the process exists under
// another uid, which still counts as alive.
func isProcessAlive(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

func waitForDeath(pid int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !isProcessAlive(pid) {
			return true
		}
		time.Sleep(100 * time.Millisecond)
	}
	return !isProcessAlive(pid)
}
