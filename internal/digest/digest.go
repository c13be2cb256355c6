// Package digest produces an AI summary of a project's recent ledger
// activity using Claude Haiku. The feature is optional: without an API
// key the command degrades to a typed error, never a crash.
package digest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"os"
	"strings"
	"text/template"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/untoldecay/scribe/internal/audit"
	"github.com/untoldecay/scribe/internal/storage"
	"github.com/untoldecay/scribe/internal/types"
	"github.com/untoldecay/scribe/internal/utils"
)

const (
	// DefaultModel is overridable via the digest.model config key.
	DefaultModel      = "claude-3-5-haiku-20241022"
	DefaultMaxEntries = 50

	maxRetries     = 3
	initialBackoff = 1 * time.Second
)

// ErrAPIKeyRequired is returned when no API key is available.
var ErrAPIKeyRequired = errors.New("API key required")

// ErrNoEntries is returned when the window holds nothing to summarize.
var ErrNoEntries = errors.New("no entries in the requested window")

// caller abstracts the Anthropic messages call for tests.
type caller func(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error)

// Client wraps the Anthropic API for activity summarization.
type Client struct {
	call           caller
	model          anthropic.Model
	promptTemplate *template.Template
	maxRetries     int
	initialBackoff time.Duration

	// AuditPath, when set, receives one llm_call event per request.
	AuditPath  string
	AuditActor string
}

// NewClient builds a digest client. The ANTHROPIC_API_KEY environment
// variable takes precedence over the explicit key.
func NewClient(apiKey, model string) (*Client, error) {
	if envKey := os.Getenv("ANTHROPIC_API_KEY"); envKey != "" {
		apiKey = envKey
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: set ANTHROPIC_API_KEY or the digest.api_key config key", ErrAPIKeyRequired)
	}
	if model == "" {
		model = DefaultModel
	}

	api := anthropic.NewClient(option.WithAPIKey(apiKey))
	tmpl, err := template.New("digest").Parse(digestPromptTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse digest template: %w", err)
	}
	return &Client{
		call: func(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error) {
			return api.Messages.New(ctx, params)
		},
		model:          anthropic.Model(model),
		promptTemplate: tmpl,
		maxRetries:     maxRetries,
		initialBackoff: initialBackoff,
	}, nil
}

// Summarize renders the prompt for the entries and returns the model's
// digest text.
func (c *Client) Summarize(ctx context.Context, project string, entries []*types.LogEntry) (string, error) {
	if len(entries) == 0 {
		return "", ErrNoEntries
	}
	prompt, err := c.renderPrompt(project, entries)
	if err != nil {
		return "", fmt.Errorf("failed to render prompt: %w", err)
	}

	resp, callErr := c.callWithRetry(ctx, prompt)
	if c.AuditPath != "" {
		// Best-effort: a digest never fails because audit logging did.
		e := &audit.Entry{
			Kind:     "llm_call",
			Actor:    c.AuditActor,
			Project:  project,
			Model:    string(c.model),
			Prompt:   prompt,
			Response: resp,
		}
		if callErr != nil {
			e.Error = callErr.Error()
		}
		_, _ = audit.AppendTo(c.AuditPath, e)
	}
	return resp, callErr
}

func (c *Client) callWithRetry(ctx context.Context, prompt string) (string, error) {
	var lastErr error
	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 1024,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.initialBackoff * time.Duration(math.Pow(2, float64(attempt-1)))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		message, err := c.call(ctx, params)
		if err == nil {
			if len(message.Content) == 0 {
				return "", fmt.Errorf("unexpected response format: no content blocks")
			}
			content := message.Content[0]
			if content.Type != "text" {
				return "", fmt.Errorf("unexpected response format: not a text block (type=%s)", content.Type)
			}
			return content.Text, nil
		}

		lastErr = err
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if !isRetryable(err) {
			return "", fmt.Errorf("non-retryable error: %w", err)
		}
	}
	return "", fmt.Errorf("failed after %d attempts: %w", c.maxRetries+1, lastErr)
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return false
}

type promptData struct {
	Project string
	Days    int
	Count   int
	Lines   string
}

func (c *Client) renderPrompt(project string, entries []*types.LogEntry) (string, error) {
	var lines strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&lines, "[%s] [%s] [%s] %s", e.Emoji, utils.FormatUTC(e.TS), e.Agent, e.Message)
		if len(e.Meta) > 0 {
			fmt.Fprintf(&lines, " | %s", e.Meta.Canonical())
		}
		lines.WriteByte('\n')
	}

	var buf strings.Builder
	err := c.promptTemplate.Execute(&buf, promptData{
		Project: project,
		Count:   len(entries),
		Lines:   lines.String(),
	})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Generator ties the client to the entry mirror: it selects the window
// and hands the lines to the model.
type Generator struct {
	store  storage.Storage
	client *Client

	MaxEntries int
	Now        func() time.Time
}

func NewGenerator(store storage.Storage, client *Client) *Generator {
	return &Generator{
		store:      store,
		client:     client,
		MaxEntries: DefaultMaxEntries,
		Now:        func() time.Time { return time.Now().UTC() },
	}
}

// Run summarizes the project's last N days of mirrored entries, newest
// first, capped at MaxEntries.
func (g *Generator) Run(ctx context.Context, project string, days int) (string, error) {
	if days <= 0 {
		days = 7
	}
	start := g.Now().AddDate(0, 0, -days)

	entries, err := g.store.FetchRecentEntriesPaginated(ctx, project, 1, g.MaxEntries, types.EntryFilters{
		Start: &start,
	})
	if err != nil {
		return "", fmt.Errorf("failed to load entries for digest: %w", err)
	}
	if len(entries) == 0 {
		return "", ErrNoEntries
	}
	return g.client.Summarize(ctx, project, entries)
}

const digestPromptTemplate = `You are summarizing an engineering activity ledger for a status update. The input is one line per logged event, newest first.

**Project:** {{.Project}}
**Entries:** {{.Count}}

{{.Lines}}

Produce a digest in this exact format:

**Highlights:** [2-4 bullet points of the most significant completed work]

**Risks:** [Bullet points for open bugs, security events, or blocked work; write "none" if the log shows none]

**Next:** [One or two bullets inferring what the log suggests happens next]

Be concise. Mention agents only when more than one is active.`
