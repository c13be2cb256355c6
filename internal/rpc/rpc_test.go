package rpc

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/untoldecay/scribe/internal/docs"
	"github.com/untoldecay/scribe/internal/fault"
	"github.com/untoldecay/scribe/internal/logtypes"
	"github.com/untoldecay/scribe/internal/pipeline"
	"github.com/untoldecay/scribe/internal/query"
	"github.com/untoldecay/scribe/internal/registry"
	"github.com/untoldecay/scribe/internal/rotation"
	"github.com/untoldecay/scribe/internal/state"
	"github.com/untoldecay/scribe/internal/storage/sqlite"
)

type serverEnv struct {
	RepoRoot string
	DBPath   string
	Server   *Server
	Client   *Client
	Store    *sqlite.Store
}

func startServer(t *testing.T) *serverEnv {
	t.Helper()
	ctx := context.Background()
	root := t.TempDir()

	dbPath := filepath.Join(root, ".scribe", "state.sqlite")
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	store, err := sqlite.New(ctx, dbPath)
	if err != nil {
		t.Fatalf("sqlite.New failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	st, err := state.Load(filepath.Join(root, ".scribe", "state.json"))
	if err != nil {
		t.Fatalf("state.Load failed: %v", err)
	}
	reg := registry.New(store, st)
	catalog := logtypes.Default()

	pipe := pipeline.New(store, st, reg, catalog, nil, pipeline.Options{
		RepoRoot:     root,
		DefaultAgent: "Claude",
	})
	qe := query.New(store, st, query.Options{RepoRoot: root})
	rot := rotation.New(store, st, catalog, rotation.Options{RepoRoot: root})
	dm := docs.New(store, reg, docs.Options{RepoRoot: root})

	socketPath := filepath.Join(root, "scribe.sock")
	srv := NewServer(socketPath, root, dbPath, Services{
		Pipeline: pipe,
		Query:    qe,
		Rotation: rot,
		Docs:     dm,
		Registry: reg,
		State:    st,
		Store:    store,
	}, ServerOptions{})
	if err := srv.Start(); err != nil {
		t.Fatalf("server start failed: %v", err)
	}
	t.Cleanup(func() { _ = srv.Stop() })

	client := NewClient(socketPath)
	client.Actor = "Claude"
	client.ExpectedDB = dbPath
	return &serverEnv{RepoRoot: root, DBPath: dbPath, Server: srv, Client: client, Store: store}
}

func TestPingAndHealth(t *testing.T) {
	env := startServer(t)

	pong, err := env.Client.Ping()
	if err != nil {
		t.Fatalf("ping failed: %v", err)
	}
	if pong.Message != "pong" || pong.Version != Version {
		t.Errorf("ping = %+v", pong)
	}

	health, err := env.Client.Health()
	if err != nil {
		t.Fatalf("health failed: %v", err)
	}
	if health.Status != "healthy" {
		t.Errorf("status = %q, error = %q", health.Status, health.Error)
	}
	if !health.Compatible {
		t.Error("matching versions reported incompatible")
	}
	if health.MaxConns != defaultMaxConns {
		t.Errorf("max_conns = %d, want %d", health.MaxConns, defaultMaxConns)
	}
}

func TestAppendThenQueryOverSocket(t *testing.T) {
	env := startServer(t)

	if _, err := env.Client.Call(OpSetProject, SetProjectArgs{Name: "demo"}, nil); err != nil {
		t.Fatalf("set_project failed: %v", err)
	}

	var appended struct {
		OK   bool   `json:"ok"`
		ID   string `json:"id"`
		Path string `json:"path"`
	}
	_, err := env.Client.Call(OpAppendEntry, map[string]any{
		"project": "demo",
		"message": "wired the socket transport",
		"status":  "success",
	}, &appended)
	if err != nil {
		t.Fatalf("append_entry failed: %v", err)
	}
	if !appended.OK || appended.ID == "" || appended.Path == "" {
		t.Fatalf("append result = %+v", appended)
	}
	if _, err := os.Stat(appended.Path); err != nil {
		t.Fatalf("log file missing: %v", err)
	}

	var queried query.Response
	_, err = env.Client.Call(OpQueryEntries, query.Request{Project: "demo"}, &queried)
	if err != nil {
		t.Fatalf("query_entries failed: %v", err)
	}
	if len(queried.Entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(queried.Entries))
	}
	if queried.Entries[0].Message != "wired the socket transport" {
		t.Errorf("message = %q", queried.Entries[0].Message)
	}
}

func TestBulkAppendOverSocket(t *testing.T) {
	env := startServer(t)

	if _, err := env.Client.Call(OpSetProject, SetProjectArgs{Name: "demo"}, nil); err != nil {
		t.Fatalf("set_project failed: %v", err)
	}

	var res struct {
		OK           bool     `json:"ok"`
		WrittenLines []string `json:"written_lines"`
	}
	_, err := env.Client.Call(OpAppendEntry, map[string]any{
		"project": "demo",
		"items_list": []map[string]any{
			{"message": "first step"},
			{"message": "second step"},
		},
	}, &res)
	if err != nil {
		t.Fatalf("bulk append failed: %v", err)
	}
	if !res.OK || len(res.WrittenLines) != 2 {
		t.Fatalf("bulk result = %+v", res)
	}
}

func TestProjectLifecycleOverSocket(t *testing.T) {
	env := startServer(t)

	var view registry.View
	if _, err := env.Client.Call(OpSetProject, SetProjectArgs{
		Name: "auth-service", Description: "token issuance",
	}, &view); err != nil {
		t.Fatalf("set_project failed: %v", err)
	}
	if view.Name != "auth-service" || view.Slug != "auth-service" {
		t.Errorf("view = %+v", view.Project)
	}

	if _, err := env.Client.Call(OpSetProjectStatus, SetProjectStatusArgs{
		Name: "auth-service", Status: "in_progress",
	}, &view); err != nil {
		t.Fatalf("set_project_status failed: %v", err)
	}
	if view.Status != "in_progress" {
		t.Errorf("status = %q", view.Status)
	}

	var listed struct {
		Count int `json:"count"`
	}
	if _, err := env.Client.Call(OpListProjects, nil, &listed); err != nil {
		t.Fatalf("list_projects failed: %v", err)
	}
	if listed.Count != 1 {
		t.Errorf("count = %d, want 1", listed.Count)
	}

	var deleted DeleteProjectResult
	if _, err := env.Client.Call(OpDeleteProject, ProjectNameArgs{Name: "auth-service"}, &deleted); err != nil {
		t.Fatalf("delete_project failed: %v", err)
	}
	if !deleted.Deleted {
		t.Error("delete not confirmed")
	}

	_, err := env.Client.Call(OpGetProject, ProjectNameArgs{Name: "auth-service"}, nil)
	if !fault.Is(err, fault.CodeProjectResolution) {
		t.Fatalf("error = %v, want ProjectResolutionError", err)
	}
}

func TestCurrentProjectBindingOverSocket(t *testing.T) {
	env := startServer(t)

	var bound CurrentProjectResult
	if _, err := env.Client.Call(OpSetCurrentProject, SetCurrentProjectArgs{
		Project: "demo", ExpectedVersion: 0,
	}, &bound); err != nil {
		t.Fatalf("set_current_project failed: %v", err)
	}
	if bound.Agent != "Claude" || bound.Version != 1 {
		t.Errorf("binding = %+v", bound)
	}

	// A stale expected version is a conflict, not a silent overwrite.
	_, err := env.Client.Call(OpSetCurrentProject, SetCurrentProjectArgs{
		Project: "other", ExpectedVersion: 0,
	}, nil)
	if !fault.Is(err, fault.CodeVersionConflict) {
		t.Fatalf("error = %v, want VersionConflict", err)
	}

	var current CurrentProjectResult
	if _, err := env.Client.Call(OpGetCurrentProject, nil, &current); err != nil {
		t.Fatalf("get_current_project failed: %v", err)
	}
	if current.Project != "demo" || current.Version != 1 {
		t.Errorf("current = %+v", current)
	}
}

func TestSetCurrentProjectMirrorsAgentContext(t *testing.T) {
	env := startServer(t)
	ctx := context.Background()

	if _, err := env.Client.Call(OpSetCurrentProject, SetCurrentProjectArgs{
		Project: "demo", ExpectedVersion: -1, SessionID: "sess-42",
	}, nil); err != nil {
		t.Fatalf("set_current_project failed: %v", err)
	}

	sess, err := env.Store.GetSession(ctx, "sess-42")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if sess.ProjectName != "demo" || sess.AgentID != "Claude" {
		t.Errorf("session = %+v", sess)
	}

	recent, err := env.Store.RecentProjectsForAgent(ctx, "Claude", 5)
	if err != nil {
		t.Fatalf("RecentProjectsForAgent failed: %v", err)
	}
	if len(recent) != 1 || recent[0] != "demo" {
		t.Errorf("recent = %v, want [demo]", recent)
	}
}

func TestDatabaseBindingRejectsForeignClient(t *testing.T) {
	env := startServer(t)
	env.Client.ExpectedDB = filepath.Join(t.TempDir(), "elsewhere.sqlite")

	_, err := env.Client.Call(OpSetProject, SetProjectArgs{Name: "demo"}, nil)
	if !fault.Is(err, fault.CodeDatabaseMismatch) {
		t.Fatalf("error = %v, want DatabaseMismatch", err)
	}

	// Lifecycle ops still answer so the operator can diagnose.
	if _, err := env.Client.Status(); err != nil {
		t.Fatalf("status failed under db mismatch: %v", err)
	}
}

func TestVersionCompatibility(t *testing.T) {
	tests := []struct {
		name   string
		client string
		wantOK bool
	}{
		{"empty skips the gate", "", true},
		{"exact match", Version, true},
		{"older client same major", "0.1.0", true},
		{"newer client", "0.99.0", false},
		{"major skew", "99.0.0", false},
		{"unparseable allowed", "dev-build", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkVersionCompatibility(tt.client)
			if (err == nil) != tt.wantOK {
				t.Errorf("checkVersionCompatibility(%q) = %v, want ok=%v", tt.client, err, tt.wantOK)
			}
			if err != nil && !fault.Is(err, fault.CodeVersionIncompatible) {
				t.Errorf("wrong code: %v", err)
			}
		})
	}
}

func TestUnknownOperationRejected(t *testing.T) {
	env := startServer(t)

	_, err := env.Client.Call("explode", nil, nil)
	if !fault.Is(err, fault.CodeUnknownOperation) {
		t.Fatalf("error = %v, want UnknownOperation", err)
	}
}

func TestMalformedArgsRejected(t *testing.T) {
	env := startServer(t)

	resp, err := env.Client.Execute(OpQueryEntries, json.RawMessage(`"not an object"`))
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if resp.OK || resp.Error == nil || resp.Error.Code != string(fault.CodeMessageInvalid) {
		t.Fatalf("response = %+v", resp)
	}
}

func TestShutdownSignalsDaemon(t *testing.T) {
	env := startServer(t)

	if _, err := env.Client.Shutdown(); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}
	select {
	case <-env.Server.ShutdownRequested():
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown never signaled")
	}
}

func TestMetricsTrackRequests(t *testing.T) {
	env := startServer(t)

	if _, err := env.Client.Ping(); err != nil {
		t.Fatalf("ping failed: %v", err)
	}
	if _, err := env.Client.Call("explode", nil, nil); err == nil {
		t.Fatal("expected error")
	}

	snap := env.Server.Metrics().Stats()
	if snap.TotalRequests < 2 {
		t.Errorf("total_requests = %d, want >= 2", snap.TotalRequests)
	}
	if snap.TotalErrors < 1 {
		t.Errorf("total_errors = %d, want >= 1", snap.TotalErrors)
	}
}

func TestTryConnectFindsRunningDaemon(t *testing.T) {
	env := startServer(t)

	// TryConnect derives the socket from the repo root, so point the
	// natural path at the running server's socket.
	natural := SocketPath(env.RepoRoot)
	if err := os.MkdirAll(filepath.Dir(natural), 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	if natural != env.Server.socketPath {
		if err := os.Symlink(env.Server.socketPath, natural); err != nil {
			t.Fatalf("symlink failed: %v", err)
		}
	}

	client, err := TryConnect(env.RepoRoot)
	if err != nil {
		t.Fatalf("TryConnect failed: %v", err)
	}
	if client == nil {
		t.Fatal("expected a client for a healthy daemon")
	}
}

func TestTryConnectNoDaemonFallsBack(t *testing.T) {
	client, err := TryConnect(t.TempDir())
	if err != nil {
		t.Fatalf("TryConnect failed: %v", err)
	}
	if client != nil {
		t.Fatal("expected nil client without a daemon")
	}
}

func TestTryConnectCleansStaleSocket(t *testing.T) {
	root := t.TempDir()
	socketPath := SocketPath(root)
	if err := os.MkdirAll(filepath.Dir(socketPath), 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	// A plain file where the socket should be: dial fails, lock is
	// free, so the artifact gets removed.
	if err := os.WriteFile(socketPath, nil, 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	client, err := TryConnect(root)
	if err != nil || client != nil {
		t.Fatalf("TryConnect = (%v, %v), want (nil, nil)", client, err)
	}
	if _, err := os.Stat(socketPath); !os.IsNotExist(err) {
		t.Error("stale socket not cleaned up")
	}
}

func TestSocketPathFallsBackWhenTooLong(t *testing.T) {
	short := SocketPath("/tmp/repo")
	if short != filepath.Join("/tmp/repo", ".scribe", "scribe.sock") {
		t.Errorf("natural path = %q", short)
	}

	long := "/tmp/" + strings.Repeat("deeply-nested-directory/", 12)
	p := SocketPath(long)
	if len(p) > MaxUnixSocketPath {
		t.Errorf("fallback path too long: %q", p)
	}
	if filepath.Base(p) != "scribe.sock" {
		t.Errorf("fallback name = %q", filepath.Base(p))
	}
	if p2 := SocketPath(long); p2 != p {
		t.Error("fallback path not stable")
	}
}
