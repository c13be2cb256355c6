// Package templates holds the Markdown skeletons scribe scaffolds and
// the rotation/report templates it renders. Rendering is side-effect
// free: {{key}} placeholders are substituted from a metadata map and
// unknown placeholders are left visible so a missing value is obvious
// in the output rather than silently blank.
package templates

import (
	"fmt"
	"strings"
	"time"
)

// ArchitectureGuide is the scaffold for ARCHITECTURE_GUIDE.md.
const ArchitectureGuide = `# Architecture Guide: {{project_name}}

<!-- ID: overview -->
## Overview

Describe the system's purpose and shape here.

<!-- ID: components -->
## Components

| Component | Responsibility |
| --- | --- |

<!-- ID: decisions -->
## Decisions

Record key technical decisions and their dates.
`

// PhasePlan is the scaffold for PHASE_PLAN.md.
const PhasePlan = `# Phase Plan: {{project_name}}

<!-- ID: phases -->
## Phases

1. **Phase 1** - define scope

<!-- ID: current -->
## Current Phase

Phase 1
`

// Checklist is the scaffold for CHECKLIST.md.
const Checklist = `# Checklist: {{project_name}}

<!-- ID: items -->
## Items

- [ ] Define scope
- [ ] Write architecture guide
- [ ] Break work into phases
`

// LogHeader tops every typed log file, fresh or rotated.
const LogHeader = `# {{log_title}}

Project: {{project_name}}
Created: {{created_at}}

---
`

// RotationHeader replaces a log file's contents after rotation.
const RotationHeader = `# {{log_title}}

Project: {{project_name}}
Rotated: {{rotated_at}}
Rotation: {{rotation_id}} (sequence {{sequence}})
Previous archive: {{archive_path}}

---
`

// ResearchDoc is rendered by create_research_doc.
const ResearchDoc = `# Research: {{title}}

Date: {{date}}
Agent: {{agent}}
Project: {{project_name}}

<!-- ID: question -->
## Question

{{question}}

<!-- ID: findings -->
## Findings

{{findings}}

<!-- ID: sources -->
## Sources

{{sources}}
`

// BugReport is rendered by create_bug_report.
const BugReport = `# Bug Report: {{title}}

Date: {{date}}
Agent: {{agent}}
Project: {{project_name}}
Severity: {{severity}}
Component: {{component}}
Status: {{status}}

<!-- ID: summary -->
## Summary

{{summary}}

<!-- ID: reproduction -->
## Reproduction

{{reproduction}}

<!-- ID: analysis -->
## Analysis

{{analysis}}

<!-- ID: fix -->
## Fix

{{fix}}
`

// ReviewReport is rendered by create_review_report.
const ReviewReport = `# Review: {{title}}

Date: {{date}}
Reviewer: {{agent}}
Project: {{project_name}}
Scope: {{scope}}

<!-- ID: verdict -->
## Verdict

{{verdict}}

<!-- ID: findings -->
## Findings

{{findings}}

<!-- ID: followups -->
## Follow-ups

{{followups}}
`

// AgentReportCard is rendered by create_agent_report_card.
const AgentReportCard = `# Agent Report Card: {{agent}}

Date: {{date}}
Project: {{project_name}}
Period: {{period}}

<!-- ID: summary -->
## Summary

{{summary}}

<!-- ID: strengths -->
## Strengths

{{strengths}}

<!-- ID: improvements -->
## Improvements

{{improvements}}
`

// IndexFile lists a special-document directory, most recent first.
const IndexFile = `# {{index_title}}

Updated: {{updated_at}}

| Document | Modified |
| --- | --- |
{{rows}}`

// GlobalProgressLog tops docs/GLOBAL_PROGRESS_LOG.md.
const GlobalProgressLog = `# Global Progress Log

Cross-project activity ledger. One line per entry.

---
`

// byName resolves template_name values from the log-type catalog and
// the special-document actions.
var byName = map[string]string{
	"architecture_guide":  ArchitectureGuide,
	"phase_plan":          PhasePlan,
	"checklist":           Checklist,
	"progress_log":        LogHeader,
	"doc_log":             LogHeader,
	"security_log":        LogHeader,
	"bug_log":             LogHeader,
	"rotation_header":     RotationHeader,
	"research_doc":        ResearchDoc,
	"bug_report":          BugReport,
	"review_report":       ReviewReport,
	"agent_report_card":   AgentReportCard,
	"index":               IndexFile,
	"global_progress_log": GlobalProgressLog,
}

// Get returns a template body by name.
func Get(name string) (string, bool) {
	t, ok := byName[name]
	return t, ok
}

// Render substitutes {{key}} placeholders from metadata.
func Render(template string, metadata map[string]string) string {
	if len(metadata) == 0 {
		return template
	}
	pairs := make([]string, 0, len(metadata)*2)
	for k, v := range metadata {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

// RenderByName renders a registered template. Unknown names fall back
// to the minimal header so a catalog typo never blocks a rotation.
func RenderByName(name string, metadata map[string]string) string {
	t, ok := byName[name]
	if !ok {
		return MinimalHeader(metadata["log_title"], metadata["project_name"])
	}
	return Render(t, metadata)
}

// MinimalHeader is the hand-written fallback used when template
// rendering fails during rotation.
func MinimalHeader(title, project string) string {
	if title == "" {
		title = "Log"
	}
	header := "# " + title + "\n"
	if project != "" {
		header += "\nProject: " + project + "\n"
	}
	header += fmt.Sprintf("\nCreated: %s\n\n---\n", time.Now().UTC().Format("2006-01-02 15:04:05")+" UTC")
	return header
}
