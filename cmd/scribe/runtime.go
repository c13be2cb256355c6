package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/untoldecay/scribe/internal/config"
	"github.com/untoldecay/scribe/internal/debug"
	"github.com/untoldecay/scribe/internal/digest"
	"github.com/untoldecay/scribe/internal/docs"
	"github.com/untoldecay/scribe/internal/fault"
	"github.com/untoldecay/scribe/internal/fileio"
	"github.com/untoldecay/scribe/internal/logtypes"
	"github.com/untoldecay/scribe/internal/paths"
	"github.com/untoldecay/scribe/internal/pipeline"
	"github.com/untoldecay/scribe/internal/query"
	"github.com/untoldecay/scribe/internal/registry"
	"github.com/untoldecay/scribe/internal/rotation"
	"github.com/untoldecay/scribe/internal/rpc"
	"github.com/untoldecay/scribe/internal/state"
	"github.com/untoldecay/scribe/internal/storage"
	"github.com/untoldecay/scribe/internal/storage/sqlite"
)

// runtime is the lazily-built direct-mode service graph. Commands that
// reach a live daemon never touch it.
type runtime struct {
	repoRoot string
	store    storage.Storage
	services rpc.Services
	cleanup  func()
}

var (
	rt           *runtime
	daemonProbed bool
	daemonConn   *rpc.Client
)

// daemonClient returns a client for a healthy daemon serving this repo,
// or nil when the command should run in direct mode.
func daemonClient() *rpc.Client {
	if config.GetBool("no_daemon") {
		return nil
	}
	if !daemonProbed {
		daemonProbed = true
		client, err := rpc.TryConnect(config.RepoRoot())
		if err == nil && client != nil {
			client.Actor = config.GetIdentity(agentFlag)
			daemonConn = client
			debug.Logf("Debug: using daemon at %s\n", rpc.SocketPath(config.RepoRoot()))
		}
	}
	return daemonConn
}

// openRuntime builds the in-process service graph. Requires an
// initialized workspace.
func openRuntime() (*runtime, error) {
	if rt != nil {
		return rt, nil
	}
	if config.FindScribeDir() == "" {
		return nil, fault.New(fault.CodeProjectResolution, "no .scribe workspace found").
			WithSuggestion("run: scribe init")
	}

	root := config.RepoRoot()
	services, cleanup, err := buildServices(root)
	if err != nil {
		return nil, err
	}
	rt = &runtime{repoRoot: root, store: services.Store, services: services, cleanup: cleanup}
	return rt, nil
}

// buildServices wires every engine the dispatcher serves. The same
// graph backs direct mode and the daemon's run loop.
func buildServices(root string) (rpc.Services, func(), error) {
	var store storage.Storage
	if !config.GetBool("no_db") {
		dbPath := config.GetString("db")
		if dbPath == "" {
			dbPath = paths.DatabaseFile(root)
		}
		s, err := sqlite.New(rootCtx, dbPath)
		if err != nil {
			// The mirror is an accelerator; losing it degrades to
			// file-only operation with a warning, never a failure.
			fmt.Fprintf(os.Stderr, "Warning: SQLite mirror unavailable: %v\n", err)
		} else {
			store = s
		}
	}

	st, err := state.Load(paths.StateFile(root))
	if err != nil {
		if store != nil {
			store.Close()
		}
		return rpc.Services{}, nil, err
	}

	catalog, err := logtypes.Load(paths.LogTypesFile(root))
	if err != nil {
		if store != nil {
			store.Close()
		}
		return rpc.Services{}, nil, err
	}

	// Finish any appends a crashed writer journaled but never sealed
	// before this process reads or writes behind them.
	sweepDirs := []string{filepath.Join(paths.ScribeDir(root), "docs"), filepath.Join(root, "docs")}
	for _, w := range fileio.SweepJournals(sweepDirs, config.LockTimeout()) {
		fmt.Fprintln(os.Stderr, "Warning: "+w)
	}

	reg := registry.New(store, st)
	rot := rotation.New(store, st, catalog, rotation.Options{
		RepoRoot:         root,
		ArchiveSuffix:    config.GetString("rotation_archive_suffix"),
		DefaultThreshold: config.GetInt("rotation_default_threshold"),
		LockTimeout:      config.LockTimeout(),
		StorageTimeout:   config.StorageTimeout(),
	})
	pipe := pipeline.New(store, st, reg, catalog, rot, pipeline.Options{
		RepoRoot:        root,
		RateLimitCount:  config.GetInt("log_rate_limit_count"),
		RateLimitWindow: time.Duration(config.GetInt("log_rate_limit_window")) * time.Second,
		LogMaxBytes:     config.GetInt64("log_max_bytes"),
		LockTimeout:     config.LockTimeout(),
		StorageTimeout:  config.StorageTimeout(),
		BulkChunkSize:   config.GetInt("bulk_chunk_size"),
		DefaultAgent:    config.GetIdentity(agentFlag),
	})

	services := rpc.Services{
		Pipeline: pipe,
		Query:    query.New(store, st, query.Options{RepoRoot: root, DefaultPageSize: config.GetInt("query_default_page_size")}),
		Rotation: rot,
		Docs:     docs.New(store, reg, docs.Options{RepoRoot: root, LockTimeout: config.LockTimeout(), StorageTimeout: config.StorageTimeout()}),
		Registry: reg,
		State:    st,
		Store:    store,
	}

	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" && store != nil {
		client, err := digest.NewClient(key, config.GetString("digest.model"))
		if err == nil {
			gen := digest.NewGenerator(store, client)
			if max := config.GetInt("digest.max_entries"); max > 0 {
				gen.MaxEntries = max
			}
			services.Digest = gen
		}
	}

	cleanup := func() {
		if store != nil {
			store.Close()
		}
	}
	return services, cleanup, nil
}

func closeRuntime() {
	if rt != nil {
		if rt.cleanup != nil {
			rt.cleanup()
		}
		rt = nil
	}
	daemonProbed = false
	daemonConn = nil
}

// callOp executes one ledger operation over whichever transport is
// available and decodes a successful reply into out.
func callOp(operation string, args, out any) ([]string, error) {
	if client := daemonClient(); client != nil {
		return client.Call(operation, args, out)
	}

	r, err := openRuntime()
	if err != nil {
		return nil, err
	}
	req := &rpc.Request{
		Operation:     operation,
		Actor:         config.GetIdentity(agentFlag),
		ClientVersion: rpc.Version,
	}
	if args != nil {
		raw, err := json.Marshal(args)
		if err != nil {
			return nil, fmt.Errorf("failed to encode args: %w", err)
		}
		req.Args = raw
	}

	resp := r.services.Dispatch(rootCtx, req)
	if !resp.OK {
		if fe := resp.Fault(); fe != nil {
			return resp.Warnings, fe
		}
		return resp.Warnings, fault.New(fault.CodeInternal, "operation %s failed without error body", operation)
	}
	if out != nil {
		if err := resp.Decode(out); err != nil {
			return resp.Warnings, fmt.Errorf("failed to decode %s response: %w", operation, err)
		}
	}
	return resp.Warnings, nil
}
