package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/untoldecay/scribe/internal/config"
	"github.com/untoldecay/scribe/internal/docs"
	"github.com/untoldecay/scribe/internal/registry"
	"github.com/untoldecay/scribe/internal/rpc"
	"github.com/untoldecay/scribe/internal/ui"
)

var docsCmd = &cobra.Command{
	Use:   "docs",
	Short: "Edit and inspect a project's registered documents",
	Long: `Anchor-based document operations. Every mutation is journaled,
atomic, and recorded in the project's document audit trail.

Anchors are HTML comments in the document body:
  <!-- anchor: overview -->`,
}

var (
	docsProject  string
	docsDoc      string
	docsContent  string
	docsFile     string
	docsAnchor   string
	docsStart    int
	docsEnd      int
	docsOld      string
	docsCount    int
	docsItem     string
	docsChecked  bool
	docsPath     string
	docsRegister bool
	docsTitle    string
	docsCategory string
	docsMetaKV   []string
	docsHash     string
	docsDryRun   bool

	docsRegisterExisting bool
)

// docsBaseRequest assembles the shared selector flags.
func docsBaseRequest(action string) docs.Request {
	return docs.Request{
		Action:  action,
		Project: docsProject,
		Doc:     docsDoc,
	}
}

// docsResolveContent returns --content, the contents of --content-file,
// or stdin when the file is "-".
func docsResolveContent() (string, error) {
	if docsContent != "" {
		return docsContent, nil
	}
	if docsFile == "" {
		return "", nil
	}
	if docsFile == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("reading stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(docsFile)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// runDocsAction executes one manage_docs request and renders the result.
func runDocsAction(cmd *cobra.Command, req docs.Request) error {
	var res docs.Result
	warnings, err := callOp(rpc.OpManageDocs, req, &res)
	if err != nil {
		return err
	}
	if jsonOutput {
		return outputJSON(cmd, res)
	}
	renderDocsResult(cmd, &res)
	printWarnings(cmd, append(warnings, res.Warnings...))
	return nil
}

func renderDocsResult(cmd *cobra.Command, res *docs.Result) {
	out := cmd.OutOrStdout()
	switch {
	case len(res.Sections) > 0:
		for _, s := range res.Sections {
			fmt.Fprintf(out, "%-30s lines %d-%d  %s\n", s.Anchor, s.StartLine, s.EndLine, s.Heading)
		}
	case len(res.Checklist) > 0:
		for _, item := range res.Checklist {
			mark := "[ ]"
			if item.Checked {
				mark = "[x]"
			}
			fmt.Fprintf(out, "%4d %s %s\n", item.Line, mark, item.Text)
		}
	case len(res.Matches) > 0:
		for _, m := range res.Matches {
			fmt.Fprintf(out, "%s:%d: %s\n", m.Doc, m.Line, m.Text)
		}
	case res.TOC != "":
		fmt.Fprintln(out, res.TOC)
	case len(res.BrokenLinks) > 0:
		for doc, links := range res.BrokenLinks {
			for _, link := range links {
				fmt.Fprintf(out, "%s: broken link %s\n", doc, link)
			}
		}
	case len(res.Results) > 0:
		ok, failed := 0, 0
		for _, r := range res.Results {
			if r.Error != "" {
				failed++
				fmt.Fprintf(out, "%s %s: %s\n", r.Action, r.Doc, r.Error)
			} else {
				ok++
			}
		}
		fmt.Fprintf(out, "Batch: %d ok, %d failed\n", ok, failed)
	case res.Path != "":
		verb := "Updated"
		if res.SHABefore == "" {
			verb = "Created"
		}
		fmt.Fprintf(out, "%s %s", verb, res.Path)
		if res.Replaced > 0 {
			fmt.Fprintf(out, " (%d replacements)", res.Replaced)
		}
		fmt.Fprintln(out)
	default:
		fmt.Fprintln(out, "OK")
	}
	if len(res.Duplicates) > 0 {
		for anchor, lines := range res.Duplicates {
			fmt.Fprintf(cmd.ErrOrStderr(), "Warning: duplicate anchor %q at lines %v\n", anchor, lines)
		}
	}
}

// contentAction builds the RunE for mutations that take a content body.
func contentAction(action string, needAnchor bool) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		content, err := docsResolveContent()
		if err != nil {
			return err
		}
		req := docsBaseRequest(action)
		req.Content = content
		req.Anchor = docsAnchor
		req.StartLine = docsStart
		req.EndLine = docsEnd
		if needAnchor && req.Anchor == "" {
			return fmt.Errorf("--anchor is required for %s", action)
		}
		return runDocsAction(cmd, req)
	}
}

var docsReplaceSectionCmd = &cobra.Command{
	Use:   "replace-section",
	Short: "Replace the body of an anchored section",
	Args:  cobra.NoArgs,
	RunE:  contentAction("replace_section", true),
}

var docsReplaceRangeCmd = &cobra.Command{
	Use:   "replace-range",
	Short: "Replace a body line range",
	Args:  cobra.NoArgs,
	RunE:  contentAction("replace_range", false),
}

var docsReplaceTextCmd = &cobra.Command{
	Use:   "replace-text",
	Short: "Replace exact text occurrences",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		content, err := docsResolveContent()
		if err != nil {
			return err
		}
		req := docsBaseRequest("replace_text")
		req.Old = docsOld
		req.Content = content
		req.ExpectedCount = docsCount
		if req.Old == "" {
			return fmt.Errorf("--old is required")
		}
		return runDocsAction(cmd, req)
	},
}

var docsAppendCmd = &cobra.Command{
	Use:   "append",
	Short: "Append content to a document",
	Args:  cobra.NoArgs,
	RunE:  contentAction("append", false),
}

var docsPatchCmd = &cobra.Command{
	Use:   "apply-patch",
	Short: "Apply a structured or unified-diff patch",
	Long: `Apply a patch to one document. --file may hold either a JSON
structured edit ({"operations":[...]}) or a unified diff; unified diffs
require --base-hash, the SHA-256 the diff was computed against.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		content, err := docsResolveContent()
		if err != nil {
			return err
		}
		if content == "" {
			return fmt.Errorf("--content or --content-file is required")
		}
		req := docsBaseRequest("apply_patch")
		req.DryRun = docsDryRun
		var edit docs.StructuredEdit
		if err := json.Unmarshal([]byte(content), &edit); err == nil && len(edit.Operations) > 0 {
			req.Edit = &edit
		} else {
			req.Diff = content
			req.PatchSourceHash = docsHash
		}
		return runDocsAction(cmd, req)
	},
}

var docsStatusUpdateCmd = &cobra.Command{
	Use:   "status-update",
	Short: "Check or uncheck a checklist item",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		req := docsBaseRequest("status_update")
		req.Item = docsItem
		req.Checked = docsChecked
		if req.Item == "" {
			return fmt.Errorf("--item is required")
		}
		return runDocsAction(cmd, req)
	},
}

var docsNormalizeCmd = &cobra.Command{
	Use:   "normalize-headers",
	Short: "Insert anchors for anchor-less headings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDocsAction(cmd, docsBaseRequest("normalize_headers"))
	},
}

var docsTOCCmd = &cobra.Command{
	Use:   "toc",
	Short: "Generate a table of contents from anchors",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDocsAction(cmd, docsBaseRequest("generate_toc"))
	},
}

var docsSectionsCmd = &cobra.Command{
	Use:   "sections",
	Short: "List a document's anchored sections",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDocsAction(cmd, docsBaseRequest("list_sections"))
	},
}

var docsChecklistCmd = &cobra.Command{
	Use:   "checklist",
	Short: "List checklist items with line numbers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDocsAction(cmd, docsBaseRequest("list_checklist_items"))
	},
}

var docsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create and optionally register a document",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		content, err := docsResolveContent()
		if err != nil {
			return err
		}
		req := docsBaseRequest("create_doc")
		req.Path = docsPath
		req.Content = content
		req.RegisterExisting = docsRegisterExisting
		register := docsRegister
		req.Register = &register
		if req.Path == "" {
			return fmt.Errorf("--path is required")
		}
		return runDocsAction(cmd, req)
	},
}

// specialDocAction builds the RunE for the templated special documents.
func specialDocAction(action string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		content, err := docsResolveContent()
		if err != nil {
			return err
		}
		req := docsBaseRequest(action)
		req.Title = docsTitle
		req.Category = docsCategory
		req.Content = content
		if len(docsMetaKV) > 0 {
			meta, err := parseMetaPairs(docsMetaKV)
			if err != nil {
				return err
			}
			req.Metadata = meta
		}
		return runDocsAction(cmd, req)
	}
}

var docsResearchCmd = &cobra.Command{
	Use:   "research",
	Short: "Create a research document under research/",
	Args:  cobra.NoArgs,
	RunE:  specialDocAction("create_research_doc"),
}

var docsBugReportCmd = &cobra.Command{
	Use:   "bug-report",
	Short: "Create a bug report under bugs/<category>/",
	Args:  cobra.NoArgs,
	RunE:  specialDocAction("create_bug_report"),
}

var docsReviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Create a review report under reviews/",
	Args:  cobra.NoArgs,
	RunE:  specialDocAction("create_review_report"),
}

var docsReportCardCmd = &cobra.Command{
	Use:   "report-card",
	Short: "Create or refresh an agent report card",
	Args:  cobra.NoArgs,
	RunE:  specialDocAction("create_agent_report_card"),
}

var docsValidateCmd = &cobra.Command{
	Use:   "validate-links",
	Short: "Check cross-links between registered documents",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDocsAction(cmd, docsBaseRequest("validate_crosslinks"))
	},
}

var docsSearchCmd = &cobra.Command{
	Use:   "search <text>",
	Short: "Search across registered documents",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := docsBaseRequest("search")
		req.Query = args[0]
		return runDocsAction(cmd, req)
	},
}

var docsBatchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Run several document actions atomically per item",
	Long: `Run a JSON array of document actions from --content-file. Items run
in order; a failing item is reported and does not stop the rest.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		content, err := docsResolveContent()
		if err != nil {
			return err
		}
		if content == "" {
			return fmt.Errorf("--content-file is required")
		}
		var items []docs.Request
		if err := json.Unmarshal([]byte(content), &items); err != nil {
			return fmt.Errorf("batch file must be a JSON array of actions: %w", err)
		}
		req := docsBaseRequest("batch")
		req.Items = items
		return runDocsAction(cmd, req)
	},
}

var docsShowCmd = &cobra.Command{
	Use:   "show [doc]",
	Short: "Render a registered document in the terminal",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		doc := docsDoc
		if len(args) == 1 {
			doc = args[0]
		}
		if doc == "" {
			doc = "architecture"
		}

		var view registry.View
		getArgs := rpc.ProjectNameArgs{Name: docsProject}
		if _, err := callOp(rpc.OpGetProject, getArgs, &view); err != nil {
			return err
		}
		path, ok := view.Docs[doc]
		if !ok {
			path = doc // repo-relative fallback
		}
		if !filepath.IsAbs(path) {
			path = filepath.Join(config.RepoRoot(), path)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("cannot read %s: %w", path, err)
		}
		rendered, err := ui.RenderMarkdown(string(data), ui.GetWidth())
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), rendered)
		return nil
	},
}

func init() {
	docsCmd.PersistentFlags().StringVarP(&docsProject, "project", "p", "", "project (defaults to the current binding)")
	docsCmd.PersistentFlags().StringVar(&docsDoc, "doc", "", "document key (architecture, phase_plan, ...) or repo-relative path")
	docsCmd.PersistentFlags().StringVar(&docsContent, "content", "", "inline content")
	docsCmd.PersistentFlags().StringVar(&docsFile, "content-file", "", "content file ('-' for stdin)")

	docsReplaceSectionCmd.Flags().StringVar(&docsAnchor, "anchor", "", "section anchor")
	docsReplaceRangeCmd.Flags().IntVar(&docsStart, "start", 0, "first body line (1-based)")
	docsReplaceRangeCmd.Flags().IntVar(&docsEnd, "end", 0, "last body line (inclusive)")
	docsReplaceTextCmd.Flags().StringVar(&docsOld, "old", "", "exact text to replace")
	docsReplaceTextCmd.Flags().IntVar(&docsCount, "count", 0, "expected occurrence count (default 1)")
	docsPatchCmd.Flags().StringVar(&docsHash, "base-hash", "", "document SHA-256 the diff was computed against")
	docsPatchCmd.Flags().BoolVar(&docsDryRun, "dry-run", false, "validate and report the projected hash without writing")
	docsStatusUpdateCmd.Flags().StringVar(&docsItem, "item", "", "checklist item text")
	docsStatusUpdateCmd.Flags().BoolVar(&docsChecked, "checked", true, "target state")
	docsCreateCmd.Flags().StringVar(&docsPath, "path", "", "repo-relative destination")
	docsCreateCmd.Flags().BoolVar(&docsRegister, "register", true, "register the document with the project")
	docsCreateCmd.Flags().BoolVar(&docsRegisterExisting, "register-existing", false, "adopt an existing file untouched instead of failing")

	for _, c := range []*cobra.Command{docsResearchCmd, docsBugReportCmd, docsReviewCmd, docsReportCardCmd} {
		c.Flags().StringVar(&docsTitle, "title", "", "document title")
		c.Flags().StringVar(&docsCategory, "category", "", "category (bug reports)")
		c.Flags().StringArrayVarP(&docsMetaKV, "meta", "m", nil, "template metadata key=value (repeatable)")
	}

	docsCmd.AddCommand(docsReplaceSectionCmd, docsReplaceRangeCmd, docsReplaceTextCmd,
		docsAppendCmd, docsPatchCmd, docsStatusUpdateCmd, docsNormalizeCmd, docsTOCCmd,
		docsSectionsCmd, docsChecklistCmd, docsCreateCmd, docsResearchCmd, docsBugReportCmd,
		docsReviewCmd, docsReportCardCmd, docsValidateCmd, docsSearchCmd, docsBatchCmd,
		docsShowCmd)
	rootCmd.AddCommand(docsCmd)
}
