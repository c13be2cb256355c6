package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/untoldecay/scribe/internal/digest"
	"github.com/untoldecay/scribe/internal/docs"
	"github.com/untoldecay/scribe/internal/fault"
	"github.com/untoldecay/scribe/internal/pipeline"
	"github.com/untoldecay/scribe/internal/query"
	"github.com/untoldecay/scribe/internal/rotation"
	"github.com/untoldecay/scribe/internal/storage"
	"github.com/untoldecay/scribe/internal/types"
	"github.com/untoldecay/scribe/internal/utils"
)

func decodeArgs(req *Request, out any) error {
	if len(req.Args) == 0 {
		return nil
	}
	if err := json.Unmarshal(req.Args, out); err != nil {
		return fault.Wrap(fault.CodeMessageInvalid, err, "malformed args for %s", req.Operation)
	}
	return nil
}

// Dispatch runs one domain operation in-process. The CLI's direct mode
// goes through here so daemon and daemon-less execution share one code
// path; the server adds transport concerns on top.
func (sv Services) Dispatch(ctx context.Context, req *Request) *Response {
	data, warnings, err := sv.dispatchOp(ctx, req)
	if err != nil {
		return errResponse(err)
	}
	return okResponse(data, warnings)
}

func (sv Services) dispatchOp(ctx context.Context, req *Request) (any, []string, error) {
	switch req.Operation {
	case OpAppendEntry:
		return sv.handleAppendEntry(ctx, req)
	case OpRotateLog:
		return sv.handleRotateLog(ctx, req)
	case OpQueryEntries:
		return sv.handleQueryEntries(ctx, req)
	case OpSetProject:
		return sv.handleSetProject(ctx, req)
	case OpGetProject:
		return sv.handleGetProject(ctx, req)
	case OpListProjects:
		return sv.handleListProjects(ctx)
	case OpDeleteProject:
		return sv.handleDeleteProject(ctx, req)
	case OpSetProjectStatus:
		return sv.handleSetProjectStatus(ctx, req)
	case OpSetCurrentProject:
		return sv.handleSetCurrentProject(ctx, req)
	case OpGetCurrentProject:
		return sv.handleGetCurrentProject(req)
	case OpManageDocs:
		return sv.handleManageDocs(ctx, req)
	case OpDigest:
		return sv.handleDigest(ctx, req)
	default:
		return nil, nil, fault.New(fault.CodeUnknownOperation, "unknown operation %q", req.Operation).
			WithSuggestion("upgrade the daemon: scribe daemon stop && scribe daemon start")
	}
}

// AppendEntryArgs is the append_entry payload: the single-entry fields
// flat, plus the bulk extensions. Presence of any bulk field switches
// the pipeline into batch mode.
type AppendEntryArgs struct {
	pipeline.AppendInput
	Items          []pipeline.AppendInput `json:"items_list,omitempty"`
	ItemsJSON      string                 `json:"items,omitempty"`
	AutoSplit      bool                   `json:"auto_split,omitempty"`
	SplitDelimiter string                 `json:"split_delimiter,omitempty"`
	StaggerSeconds int                    `json:"stagger_seconds,omitempty"`
}

func (a *AppendEntryArgs) bulk() bool {
	return len(a.Items) > 0 || a.ItemsJSON != "" || a.AutoSplit
}

func (sv Services) handleAppendEntry(ctx context.Context, req *Request) (any, []string, error) {
	if sv.Pipeline == nil {
		return nil, nil, fault.New(fault.CodeInternal, "append pipeline unavailable")
	}
	var args AppendEntryArgs
	if err := decodeArgs(req, &args); err != nil {
		return nil, nil, err
	}
	if args.Agent == "" {
		args.Agent = req.Actor
	}

	if args.bulk() {
		res, err := sv.Pipeline.AppendBulk(ctx, pipeline.BulkInput{
			Base:           args.AppendInput,
			Items:          args.Items,
			ItemsJSON:      args.ItemsJSON,
			AutoSplit:      args.AutoSplit,
			SplitDelimiter: args.SplitDelimiter,
			StaggerSeconds: args.StaggerSeconds,
		})
		if err != nil {
			return nil, nil, err
		}
		return res, res.Warnings, nil
	}

	res, err := sv.Pipeline.Append(ctx, args.AppendInput)
	if err != nil {
		return nil, nil, err
	}
	return res, res.Warnings, nil
}

func (sv Services) handleRotateLog(ctx context.Context, req *Request) (any, []string, error) {
	if sv.Rotation == nil {
		return nil, nil, fault.New(fault.CodeInternal, "rotation engine unavailable")
	}
	var args RotateArgs
	if err := decodeArgs(req, &args); err != nil {
		return nil, nil, err
	}

	name := args.Project
	if name == "" && sv.State != nil {
		name, _ = sv.State.CurrentProject(req.Actor)
	}
	if name == "" {
		return nil, nil, fault.New(fault.CodeProjectResolution, "rotation requires a project").
			WithSuggestion("pass project explicitly or run set_current_project first")
	}
	project, err := sv.lookupProject(ctx, name)
	if err != nil {
		return nil, nil, err
	}

	res, err := sv.Rotation.Rotate(ctx, rotation.Request{
		Project:       project,
		LogTypes:      args.LogTypes,
		All:           args.All,
		DryRun:        args.DryRun,
		Mode:          rotation.Mode(args.Mode),
		AutoThreshold: args.AutoThreshold,
		Threshold:     args.Threshold,
		Confirm:       args.Confirm,
	})
	if err != nil {
		return nil, nil, err
	}
	return res, nil, nil
}

func (sv Services) handleQueryEntries(ctx context.Context, req *Request) (any, []string, error) {
	if sv.Query == nil {
		return nil, nil, fault.New(fault.CodeInternal, "query engine unavailable")
	}
	var args query.Request
	if err := decodeArgs(req, &args); err != nil {
		return nil, nil, err
	}
	if args.AgentID == "" {
		args.AgentID = req.Actor
	}
	res, err := sv.Query.Run(ctx, args)
	if err != nil {
		return nil, nil, err
	}
	return res, res.Warnings, nil
}

func (sv Services) handleSetProject(ctx context.Context, req *Request) (any, []string, error) {
	var args SetProjectArgs
	if err := decodeArgs(req, &args); err != nil {
		return nil, nil, err
	}
	if args.Name == "" {
		return nil, nil, fault.New(fault.CodeProjectResolution, "project name is required")
	}

	p := &types.Project{
		Name:        args.Name,
		Slug:        utils.Slugify(args.Name),
		Description: args.Description,
		Status:      args.Status,
		Tags:        args.Tags,
		Docs:        args.Docs,
		Defaults:    args.Defaults,
	}
	stored, err := sv.Registry.EnsureProject(ctx, p)
	if err != nil {
		return nil, nil, err
	}
	view, err := sv.Registry.Get(ctx, stored.Name)
	if err != nil {
		return nil, nil, err
	}
	return view, nil, nil
}

func (sv Services) handleGetProject(ctx context.Context, req *Request) (any, []string, error) {
	var args ProjectNameArgs
	if err := decodeArgs(req, &args); err != nil {
		return nil, nil, err
	}
	if args.Name == "" && sv.State != nil {
		args.Name, _ = sv.State.CurrentProject(req.Actor)
	}
	if args.Name == "" {
		return nil, nil, fault.New(fault.CodeProjectResolution, "project name is required").
			WithSuggestion("pass name or run set_current_project first")
	}
	view, err := sv.Registry.Get(ctx, args.Name)
	if err != nil {
		return nil, nil, notFoundFault(err, args.Name)
	}
	_ = sv.Registry.TouchAccess(ctx, args.Name)
	return view, nil, nil
}

func (sv Services) handleListProjects(ctx context.Context) (any, []string, error) {
	views, err := sv.Registry.List(ctx)
	if err != nil {
		return nil, nil, err
	}
	return map[string]any{"projects": views, "count": len(views)}, nil, nil
}

func (sv Services) handleDeleteProject(ctx context.Context, req *Request) (any, []string, error) {
	var args ProjectNameArgs
	if err := decodeArgs(req, &args); err != nil {
		return nil, nil, err
	}
	if args.Name == "" {
		return nil, nil, fault.New(fault.CodeProjectResolution, "project name is required")
	}
	if err := sv.Store.DeleteProject(ctx, args.Name); err != nil {
		return nil, nil, notFoundFault(err, args.Name)
	}
	return DeleteProjectResult{Deleted: true, Name: args.Name}, nil, nil
}

func (sv Services) handleSetProjectStatus(ctx context.Context, req *Request) (any, []string, error) {
	var args SetProjectStatusArgs
	if err := decodeArgs(req, &args); err != nil {
		return nil, nil, err
	}
	if args.Name == "" || args.Status == "" {
		return nil, nil, fault.New(fault.CodeMessageInvalid, "name and status are required")
	}
	if err := sv.Registry.SetStatus(ctx, args.Name, args.Status); err != nil {
		return nil, nil, notFoundFault(err, args.Name)
	}
	view, err := sv.Registry.Get(ctx, args.Name)
	if err != nil {
		return nil, nil, err
	}
	return view, nil, nil
}

func (sv Services) handleSetCurrentProject(ctx context.Context, req *Request) (any, []string, error) {
	if sv.State == nil {
		return nil, nil, fault.New(fault.CodeInternal, "agent state unavailable")
	}
	var args SetCurrentProjectArgs
	if err := decodeArgs(req, &args); err != nil {
		return nil, nil, err
	}
	agent := args.Agent
	if agent == "" {
		agent = req.Actor
	}
	if agent == "" || args.Project == "" {
		return nil, nil, fault.New(fault.CodeMessageInvalid, "agent and project are required")
	}
	version, err := sv.State.SetCurrentProject(agent, args.Project, args.ExpectedVersion, req.Actor, args.SessionID)
	if err != nil {
		return nil, nil, err
	}

	// Mirror the binding: the agent recency row feeds resolution for
	// other processes, the session row survives daemon restarts.
	// Best-effort; the state file already holds the truth.
	if sv.Store != nil {
		_ = sv.Store.TouchAgentProject(ctx, agent, args.Project, time.Now().UTC())
		if args.SessionID != "" {
			_ = sv.Store.UpsertSession(ctx, &types.Session{
				SessionID:   args.SessionID,
				AgentID:     agent,
				RepoRoot:    req.Cwd,
				Mode:        types.ModeProject,
				ProjectName: args.Project,
			})
		}
	}
	return CurrentProjectResult{Agent: agent, Project: args.Project, Version: version}, nil, nil
}

func (sv Services) handleGetCurrentProject(req *Request) (any, []string, error) {
	if sv.State == nil {
		return nil, nil, fault.New(fault.CodeInternal, "agent state unavailable")
	}
	var args struct {
		Agent string `json:"agent,omitempty"`
	}
	if err := decodeArgs(req, &args); err != nil {
		return nil, nil, err
	}
	agent := args.Agent
	if agent == "" {
		agent = req.Actor
	}
	project, version := sv.State.CurrentProject(agent)
	return CurrentProjectResult{Agent: agent, Project: project, Version: version}, nil, nil
}

func (sv Services) handleManageDocs(ctx context.Context, req *Request) (any, []string, error) {
	if sv.Docs == nil {
		return nil, nil, fault.New(fault.CodeInternal, "document manager unavailable")
	}
	var args docs.Request
	if err := decodeArgs(req, &args); err != nil {
		return nil, nil, err
	}
	if args.Agent == "" {
		args.Agent = req.Actor
	}
	res, err := sv.Docs.Execute(ctx, args)
	if err != nil {
		return nil, nil, err
	}
	return res, res.Warnings, nil
}

func (sv Services) handleDigest(ctx context.Context, req *Request) (any, []string, error) {
	if sv.Digest == nil {
		return nil, nil, fault.New(fault.CodeInternal, "digest is not configured").
			WithSuggestion("set ANTHROPIC_API_KEY or the digest.api_key config key and restart the daemon")
	}
	var args DigestArgs
	if err := decodeArgs(req, &args); err != nil {
		return nil, nil, err
	}
	if args.Project == "" && sv.State != nil {
		args.Project, _ = sv.State.CurrentProject(req.Actor)
	}
	if args.Project == "" {
		return nil, nil, fault.New(fault.CodeProjectResolution, "digest requires a project")
	}
	if args.Days <= 0 {
		args.Days = 7
	}

	out, err := sv.Digest.Run(ctx, args.Project, args.Days)
	if err != nil {
		if errors.Is(err, digest.ErrNoEntries) {
			return nil, nil, fault.Wrap(fault.CodeMessageInvalid, err,
				"no entries for %s in the last %d days", args.Project, args.Days).
				WithSuggestion("widen the window with days")
		}
		return nil, nil, err
	}
	return DigestResult{Project: args.Project, Days: args.Days, Digest: out}, nil, nil
}

func (sv Services) lookupProject(ctx context.Context, name string) (*types.Project, error) {
	p, err := sv.Store.GetProject(ctx, name)
	if err != nil {
		return nil, notFoundFault(err, name)
	}
	return p, nil
}

func notFoundFault(err error, name string) error {
	if errors.Is(err, storage.ErrNotFound) {
		return fault.Wrap(fault.CodeProjectResolution, err, "project %q is not registered", name).
			WithSuggestion("register it with set_project or check list_projects")
	}
	return err
}
