// Package rpc implements the daemon protocol: newline-delimited JSON
// request/response frames over a Unix domain socket. Every response
// carries ok plus either data or a typed error body, so clients never
// have to parse free-form failure text.
package rpc

import (
	"encoding/json"

	"github.com/untoldecay/scribe/internal/fault"
)

// Operation names. These are wire contract; renaming one breaks every
// older client.
const (
	OpPing     = "ping"
	OpStatus   = "status"
	OpHealth   = "health"
	OpShutdown = "shutdown"

	OpAppendEntry  = "append_entry"
	OpRotateLog    = "rotate_log"
	OpQueryEntries = "query_entries"

	OpSetProject        = "set_project"
	OpGetProject        = "get_project"
	OpListProjects      = "list_projects"
	OpDeleteProject     = "delete_project"
	OpSetProjectStatus  = "set_project_status"
	OpSetCurrentProject = "set_current_project"
	OpGetCurrentProject = "get_current_project"

	OpManageDocs = "manage_docs"
	OpDigest     = "digest"
)

// Request is one framed call. Args holds the operation payload raw so
// each handler decodes its own shape.
type Request struct {
	Operation     string          `json:"operation"`
	Args          json.RawMessage `json:"args,omitempty"`
	Actor         string          `json:"actor,omitempty"`
	RequestID     string          `json:"request_id,omitempty"`
	Cwd           string          `json:"cwd,omitempty"`
	ClientVersion string          `json:"client_version,omitempty"`
	ExpectedDB    string          `json:"expected_db,omitempty"`
}

// ErrorBody is the serialized form of a fault crossing the socket.
type ErrorBody struct {
	Code       string         `json:"code"`
	Message    string         `json:"message"`
	Suggestion string         `json:"suggestion,omitempty"`
	Detail     map[string]any `json:"detail,omitempty"`
}

// Response is one framed reply.
type Response struct {
	OK       bool            `json:"ok"`
	Data     json.RawMessage `json:"data,omitempty"`
	Error    *ErrorBody      `json:"error,omitempty"`
	Warnings []string        `json:"warnings,omitempty"`
}

// Fault reconstructs the typed error carried by a failed response.
func (r *Response) Fault() *fault.Error {
	if r.OK || r.Error == nil {
		return nil
	}
	e := fault.New(fault.Code(r.Error.Code), "%s", r.Error.Message)
	e.Suggestion = r.Error.Suggestion
	e.Detail = r.Error.Detail
	return e
}

// Decode unmarshals the response data into out.
func (r *Response) Decode(out any) error {
	if len(r.Data) == 0 {
		return nil
	}
	return json.Unmarshal(r.Data, out)
}

func okResponse(data any, warnings []string) *Response {
	resp := &Response{OK: true, Warnings: warnings}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return errResponse(fault.Wrap(fault.CodeInternal, err, "failed to encode response"))
		}
		resp.Data = raw
	}
	return resp
}

func errResponse(err error) *Response {
	fe, ok := fault.From(err)
	if !ok {
		fe = fault.Wrap(fault.CodeInternal, err, "%s", err.Error())
	}
	return &Response{OK: false, Error: &ErrorBody{
		Code:       string(fe.Code),
		Message:    fe.Message,
		Suggestion: fe.Suggestion,
		Detail:     fe.Detail,
	}}
}

// PingResult answers OpPing.
type PingResult struct {
	Message string `json:"message"`
	Version string `json:"version"`
}

// StatusResult answers OpStatus.
type StatusResult struct {
	Running       bool   `json:"running"`
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	SocketPath    string `json:"socket_path"`
	DBPath        string `json:"db_path"`
	ActiveConns   int32  `json:"active_conns"`
	TotalRequests int64  `json:"total_requests"`
	TotalErrors   int64  `json:"total_errors"`
	PID           int    `json:"pid"`
}

// HealthResult answers OpHealth.
type HealthResult struct {
	Status           string  `json:"status"`
	Version          string  `json:"version"`
	ClientVersion    string  `json:"client_version,omitempty"`
	Compatible       bool    `json:"compatible"`
	UptimeSeconds    int64   `json:"uptime_seconds"`
	DBResponseTimeMS float64 `json:"db_response_time_ms"`
	ActiveConns      int32   `json:"active_conns"`
	MaxConns         int     `json:"max_conns"`
	MemoryAllocMB    float64 `json:"memory_alloc_mb"`
	Error            string  `json:"error,omitempty"`
}

// ShutdownResult answers OpShutdown.
type ShutdownResult struct {
	Message string `json:"message"`
}

// SetProjectArgs registers or refreshes a project.
type SetProjectArgs struct {
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Status      string            `json:"status,omitempty"`
	Tags        []string          `json:"tags,omitempty"`
	Docs        map[string]string `json:"docs,omitempty"`
	Defaults    map[string]string `json:"defaults,omitempty"`
}

// ProjectNameArgs is the shared single-project selector.
type ProjectNameArgs struct {
	Name string `json:"name"`
}

// SetProjectStatusArgs moves a project through its lifecycle.
type SetProjectStatusArgs struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

// SetCurrentProjectArgs binds the caller's agent context to a project.
// ExpectedVersion guards against concurrent agents clobbering each
// other; -1 skips the check.
type SetCurrentProjectArgs struct {
	Agent           string `json:"agent"`
	Project         string `json:"project"`
	ExpectedVersion int64  `json:"expected_version"`
	SessionID       string `json:"session_id,omitempty"`
}

// CurrentProjectResult answers get_current_project and
// set_current_project.
type CurrentProjectResult struct {
	Agent   string `json:"agent"`
	Project string `json:"project,omitempty"`
	Version int64  `json:"version"`
}

// RotateArgs selects logs to rotate for one project.
type RotateArgs struct {
	Project       string   `json:"project"`
	LogTypes      []string `json:"log_types,omitempty"`
	All           bool     `json:"all,omitempty"`
	DryRun        bool     `json:"dry_run,omitempty"`
	Mode          string   `json:"mode,omitempty"`
	AutoThreshold bool     `json:"auto_threshold,omitempty"`
	Threshold     int64    `json:"threshold,omitempty"`
	Confirm       bool     `json:"confirm,omitempty"`
}

// DigestArgs selects the summarization window.
type DigestArgs struct {
	Project string `json:"project"`
	Days    int    `json:"days,omitempty"`
}

// DigestResult answers OpDigest.
type DigestResult struct {
	Project string `json:"project"`
	Days    int    `json:"days"`
	Digest  string `json:"digest"`
}

// DeleteProjectResult answers delete_project.
type DeleteProjectResult struct {
	Deleted bool   `json:"deleted"`
	Name    string `json:"name"`
}
