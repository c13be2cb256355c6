package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/mod/semver"

	"github.com/untoldecay/scribe/internal/digest"
	"github.com/untoldecay/scribe/internal/docs"
	"github.com/untoldecay/scribe/internal/fault"
	"github.com/untoldecay/scribe/internal/pipeline"
	"github.com/untoldecay/scribe/internal/query"
	"github.com/untoldecay/scribe/internal/registry"
	"github.com/untoldecay/scribe/internal/rotation"
	"github.com/untoldecay/scribe/internal/state"
	"github.com/untoldecay/scribe/internal/storage"
)

const (
	defaultMaxConns       = 100
	defaultRequestTimeout = 30 * time.Second

	// maxRequestBytes bounds one frame; bulk appends with long items fit
	// comfortably, a runaway client does not.
	maxRequestBytes = 10 * 1024 * 1024
)

// Services bundles the engines the daemon serves. Digest may be nil
// when no API key is configured; the op then returns a typed error.
type Services struct {
	Pipeline *pipeline.Pipeline
	Query    *query.Engine
	Rotation *rotation.Engine
	Docs     *docs.Manager
	Registry *registry.Registry
	State    *state.Manager
	Store    storage.Storage
	Digest   *digest.Generator
}

// ServerOptions tunes the server loop. Zero values take the defaults.
type ServerOptions struct {
	MaxConns       int
	RequestTimeout time.Duration
}

// Server accepts connections on a Unix socket and dispatches framed
// requests to the service engines.
type Server struct {
	socketPath string
	repoRoot   string
	dbPath     string
	services   Services
	opts       ServerOptions

	listener net.Listener
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	connSemaphore chan struct{}
	activeConns   int32
	metrics       *Metrics

	startTime    time.Time
	lastActivity atomic.Value // time.Time

	readyCh    chan struct{}
	shutdownCh chan struct{}
	shutdown   sync.Once
}

// NewServer builds a server bound to socketPath. repoRoot anchors the
// database-binding check: requests carrying expected_db for a different
// repo are rejected instead of silently served from the wrong ledger.
func NewServer(socketPath, repoRoot, dbPath string, services Services, opts ServerOptions) *Server {
	if opts.MaxConns <= 0 {
		opts.MaxConns = envInt("SCRIBE_DAEMON_MAX_CONNS", defaultMaxConns)
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = envDuration("SCRIBE_DAEMON_REQUEST_TIMEOUT", defaultRequestTimeout)
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		socketPath:    socketPath,
		repoRoot:      repoRoot,
		dbPath:        dbPath,
		services:      services,
		opts:          opts,
		ctx:           ctx,
		cancel:        cancel,
		connSemaphore: make(chan struct{}, opts.MaxConns),
		metrics:       NewMetrics(),
		startTime:     time.Now(),
		readyCh:       make(chan struct{}),
		shutdownCh:    make(chan struct{}),
	}
	s.lastActivity.Store(time.Now())
	return s
}

// Start binds the socket and begins accepting. It returns once the
// listener is ready; the accept loop runs until Stop.
func (s *Server) Start() error {
	if err := EnsureSocketDir(s.socketPath); err != nil {
		return fmt.Errorf("failed to create socket directory: %w", err)
	}
	// A previous daemon that died uncleanly leaves its socket behind.
	if _, err := os.Stat(s.socketPath); err == nil {
		if err := os.Remove(s.socketPath); err != nil {
			return fmt.Errorf("failed to remove stale socket: %w", err)
		}
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.socketPath, err)
	}
	if err := os.Chmod(s.socketPath, 0o600); err != nil {
		listener.Close()
		return fmt.Errorf("failed to restrict socket permissions: %w", err)
	}
	s.listener = listener

	s.wg.Add(1)
	go s.acceptLoop()
	close(s.readyCh)
	return nil
}

// Ready closes once the listener is accepting.
func (s *Server) Ready() <-chan struct{} { return s.readyCh }

// ShutdownRequested closes when a client asked the daemon to exit. The
// daemon loop selects on it and calls Stop.
func (s *Server) ShutdownRequested() <-chan struct{} { return s.shutdownCh }

// LastActivity reports when the most recent request finished. The idle
// shutdown timer keys off it.
func (s *Server) LastActivity() time.Time {
	return s.lastActivity.Load().(time.Time)
}

// ActiveConns reports how many connections are being served right now.
func (s *Server) ActiveConns() int32 { return atomic.LoadInt32(&s.activeConns) }

// Metrics exposes the server counters.
func (s *Server) Metrics() *Metrics { return s.metrics }

// Stop shuts the listener down, waits for in-flight connections, and
// removes the socket.
func (s *Server) Stop() error {
	s.cancel()
	if s.listener != nil {
		s.listener.Close()
	}
	s.wg.Wait()
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove socket: %w", err)
	}
	CleanupSocketDir(s.socketPath)
	return nil
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
			}
			continue
		}

		select {
		case s.connSemaphore <- struct{}{}:
			s.metrics.RecordConnection()
			atomic.AddInt32(&s.activeConns, 1)
			s.wg.Add(1)
			go s.handleConnection(conn)
		default:
			s.metrics.RecordRejectedConnection()
			s.rejectConnection(conn)
		}
	}
}

func (s *Server) rejectConnection(conn net.Conn) {
	defer conn.Close()
	resp := errResponse(fault.New(fault.CodeInternal, "daemon at connection limit (%d)", s.opts.MaxConns).
		WithSuggestion("retry shortly or raise SCRIBE_DAEMON_MAX_CONNS"))
	data, _ := json.Marshal(resp)
	_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
	_, _ = conn.Write(append(data, '\n'))
}

func (s *Server) handleConnection(conn net.Conn) {
	defer func() {
		conn.Close()
		atomic.AddInt32(&s.activeConns, -1)
		<-s.connSemaphore
		s.wg.Done()
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), maxRequestBytes)
	writer := bufio.NewWriter(conn)

	for scanner.Scan() {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.send(writer, errResponse(fault.Wrap(fault.CodeMessageInvalid, err, "malformed request frame")))
			continue
		}

		resp := s.handleRequest(&req)
		s.send(writer, resp)

		if req.Operation == OpShutdown && resp.OK {
			return
		}
	}
}

func (s *Server) send(w *bufio.Writer, resp *Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		data, _ = json.Marshal(errResponse(fault.New(fault.CodeInternal, "failed to encode response")))
	}
	_, _ = w.Write(data)
	_ = w.WriteByte('\n')
	_ = w.Flush()
}

// handleRequest validates version and database binding, then dispatches.
func (s *Server) handleRequest(req *Request) *Response {
	start := time.Now()
	defer func() {
		s.metrics.RecordRequest(req.Operation, time.Since(start))
		s.lastActivity.Store(time.Now())
	}()

	fail := func(err error) *Response {
		s.metrics.RecordError(req.Operation)
		return errResponse(err)
	}

	// ping and health must work across version skew so clients can
	// diagnose it; everything else is gated.
	if req.Operation != OpPing && req.Operation != OpHealth {
		if err := checkVersionCompatibility(req.ClientVersion); err != nil {
			return fail(err)
		}
	}
	// Lifecycle ops answer regardless of which repo the client thinks it
	// is talking to.
	switch req.Operation {
	case OpPing, OpHealth, OpStatus, OpShutdown:
	default:
		if err := s.validateDatabaseBinding(req.ExpectedDB); err != nil {
			return fail(err)
		}
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.opts.RequestTimeout)
	defer cancel()

	data, warnings, err := s.dispatch(ctx, req)
	if err != nil {
		return fail(err)
	}
	return okResponse(data, warnings)
}

func (s *Server) dispatch(ctx context.Context, req *Request) (any, []string, error) {
	switch req.Operation {
	case OpPing:
		return PingResult{Message: "pong", Version: Version}, nil, nil
	case OpStatus:
		return s.handleStatus(), nil, nil
	case OpHealth:
		return s.handleHealth(ctx, req), nil, nil
	case OpShutdown:
		s.shutdown.Do(func() { close(s.shutdownCh) })
		return ShutdownResult{Message: "daemon shutting down"}, nil, nil
	default:
		return s.services.dispatchOp(ctx, req)
	}
}

// checkVersionCompatibility rejects major-version skew and daemons older
// than their client. Unparseable versions are allowed through; the gate
// exists to catch real skew, not to fight dev builds.
func checkVersionCompatibility(clientVersion string) error {
	if clientVersion == "" {
		return nil
	}
	sv := "v" + strings.TrimPrefix(Version, "v")
	cv := "v" + strings.TrimPrefix(clientVersion, "v")
	if !semver.IsValid(sv) || !semver.IsValid(cv) {
		return nil
	}
	if semver.Major(sv) != semver.Major(cv) {
		return fault.New(fault.CodeVersionIncompatible,
			"daemon version %s is incompatible with client %s", Version, clientVersion).
			WithSuggestion("restart the daemon: scribe daemon stop && scribe daemon start")
	}
	if semver.Compare(sv, cv) < 0 {
		return fault.New(fault.CodeVersionIncompatible,
			"daemon version %s is older than client %s", Version, clientVersion).
			WithSuggestion("restart the daemon to pick up the new binary")
	}
	return nil
}

// validateDatabaseBinding confirms the client expects this repo's
// database. Symlinks are resolved on both sides so /var vs /private/var
// style aliases do not false-positive.
func (s *Server) validateDatabaseBinding(expectedDB string) error {
	if expectedDB == "" || s.dbPath == "" {
		return nil
	}
	if canonicalPath(expectedDB) != canonicalPath(s.dbPath) {
		return fault.New(fault.CodeDatabaseMismatch,
			"daemon serves %s, client expected %s", s.dbPath, expectedDB).
			WithSuggestion("this daemon belongs to another repo; run scribe daemon start in the right checkout")
	}
	return nil
}

func canonicalPath(p string) string {
	if resolved, err := filepath.EvalSymlinks(p); err == nil {
		return resolved
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return filepath.Clean(p)
	}
	return abs
}

func (s *Server) handleStatus() StatusResult {
	snap := s.metrics.Stats()
	return StatusResult{
		Running:       true,
		Version:       Version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		SocketPath:    s.socketPath,
		DBPath:        s.dbPath,
		ActiveConns:   s.ActiveConns(),
		TotalRequests: snap.TotalRequests,
		TotalErrors:   snap.TotalErrors,
		PID:           os.Getpid(),
	}
}

func (s *Server) handleHealth(ctx context.Context, req *Request) HealthResult {
	h := HealthResult{
		Status:        "healthy",
		Version:       Version,
		ClientVersion: req.ClientVersion,
		Compatible:    checkVersionCompatibility(req.ClientVersion) == nil,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		ActiveConns:   s.ActiveConns(),
		MaxConns:      s.opts.MaxConns,
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	h.MemoryAllocMB = float64(mem.Alloc) / (1024 * 1024)

	if s.services.Store != nil {
		start := time.Now()
		if err := s.services.Store.Ping(ctx); err != nil {
			h.Status = "unhealthy"
			h.Error = fmt.Sprintf("database ping failed: %v", err)
		}
		h.DBResponseTimeMS = float64(time.Since(start).Microseconds()) / 1000
	}
	return h
}

func envInt(name string, fallback int) int {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func envDuration(name string, fallback time.Duration) time.Duration {
	if v := os.Getenv(name); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}
