package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/untoldecay/scribe/internal/query"
	"github.com/untoldecay/scribe/internal/rpc"
	"github.com/untoldecay/scribe/internal/ui"
	"github.com/untoldecay/scribe/internal/utils"
)

var (
	queryScope     string
	queryProject   string
	queryTypes     []string
	queryMessage   string
	queryMode      string
	queryCase      bool
	queryEmojis    []string
	queryStatuses  []string
	queryAgents    []string
	queryMeta      []string
	querySince     string
	queryUntil     string
	queryRange     string
	queryPage      int
	queryPageSize  int
	queryCompact   bool
	queryFields    []string
	queryWithMeta  bool
	queryRelevance float64
	queryVerify    bool
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Search ledger entries",
	Long: `Search ledger entries in the current project, a named project, or
across every registered project.

Time bounds accept ISO dates, symbolic ranges (today, last_7d) and
natural phrases ("2 days ago", "yesterday") via --range.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		req := query.Request{
			Scope:                queryScope,
			Project:              queryProject,
			DocumentTypes:        queryTypes,
			Message:              queryMessage,
			MessageMode:          queryMode,
			CaseSensitive:        queryCase,
			Emojis:               queryEmojis,
			Statuses:             queryStatuses,
			Agents:               queryAgents,
			Start:                querySince,
			End:                  queryUntil,
			Since:                queryRange,
			Page:                 queryPage,
			PageSize:             queryPageSize,
			Compact:              queryCompact,
			Fields:               queryFields,
			IncludeMetadata:      queryWithMeta,
			RelevanceThreshold:   queryRelevance,
			VerifyCodeReferences: queryVerify,
		}
		if len(queryMeta) > 0 {
			meta, err := parseMetaPairs(queryMeta)
			if err != nil {
				return err
			}
			req.MetaFilters = meta
		}

		var res query.Response
		warnings, err := callOp(rpc.OpQueryEntries, req, &res)
		if err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(cmd, res)
		}

		out := cmd.OutOrStdout()
		if queryCompact {
			for _, row := range res.Compact {
				fmt.Fprintln(out, formatCompactRow(row, req.Fields))
			}
		} else {
			showProject := len(res.ProjectsSearched) != 1
			views := make([]ui.EntryView, 0, len(res.Entries))
			for _, e := range res.Entries {
				views = append(views, entryView(e))
			}
			fmt.Fprint(out, ui.RenderEntries(views, showProject, ui.ShouldUseEmoji()))
		}
		fmt.Fprintln(out, ui.RenderPagination(res.Pagination.Page, res.Pagination.PageSize,
			res.Pagination.TotalCount, res.Pagination.HasNext))
		printWarnings(cmd, append(warnings, res.Warnings...))
		return nil
	},
}

func entryView(e *query.Entry) ui.EntryView {
	v := ui.EntryView{
		Emoji:   e.Emoji,
		TS:      utils.FormatUTC(e.TS),
		Agent:   e.Agent,
		Project: e.ProjectName,
		Message: e.Message,
	}
	if len(e.Meta) > 0 {
		parts := make([]string, 0, len(e.Meta))
		for _, p := range e.Meta {
			parts = append(parts, p.Key+"="+p.Value)
		}
		v.Meta = strings.Join(parts, " ")
	}
	if len(e.BrokenRefs) > 0 {
		v.Meta = strings.TrimSpace(v.Meta + " broken_refs=" + strings.Join(e.BrokenRefs, ","))
	}
	return v
}

// formatCompactRow renders one compact entry, honoring field order when
// --fields was given.
func formatCompactRow(row map[string]any, fields []string) string {
	if len(fields) == 0 {
		fields = []string{"ts", "emoji", "agent", "message"}
	}
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		if v, ok := row[f]; ok {
			parts = append(parts, fmt.Sprint(v))
		}
	}
	return strings.Join(parts, " | ")
}

func init() {
	queryCmd.Flags().StringVar(&queryScope, "scope", "", "search scope: current, all, recent, or a project name")
	queryCmd.Flags().StringVarP(&queryProject, "project", "p", "", "project to search (shorthand for --scope <name>)")
	queryCmd.Flags().StringSliceVarP(&queryTypes, "type", "t", nil, "log types to search")
	queryCmd.Flags().StringVar(&queryMessage, "message", "", "message text filter")
	queryCmd.Flags().StringVar(&queryMode, "mode", "", "message match mode: contains, exact, regex, fuzzy")
	queryCmd.Flags().BoolVar(&queryCase, "case-sensitive", false, "case-sensitive message matching")
	queryCmd.Flags().StringSliceVar(&queryEmojis, "emoji", nil, "emoji filter (repeatable)")
	queryCmd.Flags().StringSliceVar(&queryStatuses, "status", nil, "status filter (repeatable)")
	queryCmd.Flags().StringSliceVar(&queryAgents, "agents", nil, "agent filter (repeatable)")
	queryCmd.Flags().StringArrayVarP(&queryMeta, "meta", "m", nil, "metadata filter key=value (repeatable)")
	queryCmd.Flags().StringVar(&querySince, "since", "", "start bound (ISO date or datetime)")
	queryCmd.Flags().StringVar(&queryUntil, "until", "", "end bound (ISO date or datetime)")
	queryCmd.Flags().StringVar(&queryRange, "range", "", "symbolic or natural range: today, last_7d, \"2 days ago\"")
	queryCmd.Flags().IntVar(&queryPage, "page", 1, "result page")
	queryCmd.Flags().IntVar(&queryPageSize, "page-size", 0, "entries per page")
	queryCmd.Flags().BoolVar(&queryCompact, "compact", false, "compact field-projected output")
	queryCmd.Flags().StringSliceVar(&queryFields, "fields", nil, "fields for --compact")
	queryCmd.Flags().BoolVar(&queryWithMeta, "include-metadata", false, "include metadata pairs in results")
	queryCmd.Flags().Float64Var(&queryRelevance, "relevance", 0, "minimum relevance score; treats --message as a scored search")
	queryCmd.Flags().BoolVar(&queryVerify, "verify-code-refs", false, "flag entries whose file references no longer exist")
	rootCmd.AddCommand(queryCmd)
}
