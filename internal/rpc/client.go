package rpc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/untoldecay/scribe/internal/fault"
	"github.com/untoldecay/scribe/internal/paths"
)

const (
	probeTimeout   = 200 * time.Millisecond
	defaultTimeout = 30 * time.Second
)

// Client talks to a running daemon over its Unix socket. One connection
// per Execute call; the protocol is cheap enough that pooling is not
// worth the lifecycle bugs.
type Client struct {
	socketPath string
	timeout    time.Duration

	// Actor and ExpectedDB are stamped onto every request.
	Actor      string
	ExpectedDB string
}

// NewClient builds a client for an explicit socket path.
func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath, timeout: defaultTimeout}
}

// SetTimeout overrides the per-request deadline.
func (c *Client) SetTimeout(d time.Duration) { c.timeout = d }

// TryConnect probes for a healthy daemon serving repoRoot. It returns
// (nil, nil) when no usable daemon exists; the caller then falls back to
// direct mode. A socket nobody listens on is cleaned up when the daemon
// lock is free.
func TryConnect(repoRoot string) (*Client, error) {
	socketPath := SocketPath(repoRoot)
	if _, err := os.Stat(socketPath); err != nil {
		return nil, nil
	}

	conn, err := net.DialTimeout("unix", socketPath, probeTimeout)
	if err != nil {
		cleanupStaleDaemonArtifacts(repoRoot, socketPath)
		return nil, nil
	}
	conn.Close()

	client := NewClient(socketPath)
	client.ExpectedDB = paths.DatabaseFile(repoRoot)
	health, err := client.Health()
	if err != nil || health.Status != "healthy" {
		return nil, nil
	}
	return client, nil
}

// cleanupStaleDaemonArtifacts removes a dead daemon's socket and pid
// file. The daemon holds a flock while alive, so a free lock means the
// artifacts are orphans.
func cleanupStaleDaemonArtifacts(repoRoot, socketPath string) {
	lockPath := filepath.Join(paths.ScribeDir(repoRoot), "daemon.lock")
	lock := flock.New(lockPath)
	locked, err := lock.TryLock()
	if err != nil || !locked {
		return
	}
	defer lock.Unlock()

	_ = os.Remove(socketPath)
	_ = os.Remove(filepath.Join(paths.ScribeDir(repoRoot), "daemon.pid"))
	CleanupSocketDir(socketPath)
}

// Execute sends one framed request and decodes the reply.
func (c *Client) Execute(operation string, args any) (*Response, error) {
	req := &Request{
		Operation:     operation,
		Actor:         c.Actor,
		ClientVersion: Version,
		ExpectedDB:    c.ExpectedDB,
	}
	if args != nil {
		raw, err := json.Marshal(args)
		if err != nil {
			return nil, fmt.Errorf("failed to encode args: %w", err)
		}
		req.Args = raw
	}

	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to daemon: %w", err)
	}
	defer conn.Close()
	if err := conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		return nil, fmt.Errorf("failed to set deadline: %w", err)
	}

	frame, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	writer := bufio.NewWriter(conn)
	if _, err := writer.Write(frame); err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	if err := writer.WriteByte('\n'); err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	if err := writer.Flush(); err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &resp, nil
}

// Call executes an operation and decodes a successful reply into out.
// Failed replies come back as the typed fault the daemon raised.
func (c *Client) Call(operation string, args, out any) ([]string, error) {
	resp, err := c.Execute(operation, args)
	if err != nil {
		return nil, err
	}
	if !resp.OK {
		if fe := resp.Fault(); fe != nil {
			return resp.Warnings, fe
		}
		return resp.Warnings, fault.New(fault.CodeInternal, "daemon returned failure without error body")
	}
	if out != nil {
		if err := resp.Decode(out); err != nil {
			return resp.Warnings, fmt.Errorf("failed to decode %s response: %w", operation, err)
		}
	}
	return resp.Warnings, nil
}

// Ping checks liveness.
func (c *Client) Ping() (*PingResult, error) {
	var out PingResult
	if _, err := c.Call(OpPing, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Status fetches daemon runtime counters.
func (c *Client) Status() (*StatusResult, error) {
	var out StatusResult
	if _, err := c.Call(OpStatus, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health runs the daemon's self-diagnostics.
func (c *Client) Health() (*HealthResult, error) {
	var out HealthResult
	if _, err := c.Call(OpHealth, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Shutdown asks the daemon to exit.
func (c *Client) Shutdown() (*ShutdownResult, error) {
	var out ShutdownResult
	if _, err := c.Call(OpShutdown, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
