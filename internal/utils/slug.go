// Package utils holds small shared helpers: slugs and canonical
// timestamp handling.
package utils

import (
	"regexp"
	"strings"
)

var slugRuns = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lowercases a name and collapses every non-alphanumeric run
// into a single hyphen. Slugs appear in entry IDs and directory names,
// so the mapping must be stable.
func Slugify(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = slugRuns.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if s == "" {
		return "unnamed"
	}
	return s
}

// IsSlug reports whether s is already in slug form.
func IsSlug(s string) bool {
	return s != "" && Slugify(s) == s
}
