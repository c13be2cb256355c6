package ui

import "github.com/charmbracelet/glamour"

// RenderMarkdown renders a document for terminal display. Outside a TTY
// the raw markdown comes back untouched so pipes stay clean.
func RenderMarkdown(content string, width int) (string, error) {
	if !IsTerminal() {
		return content, nil
	}
	if width <= 0 || width > 120 {
		width = 100
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return content, err
	}
	out, err := r.Render(content)
	if err != nil {
		return content, err
	}
	return out, nil
}
