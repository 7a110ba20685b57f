// Package tags holds the pure functions behind tag naming: sanitation of
// user-entered names and derivation of folder tags from relative paths.
package tags

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxNameLen caps a sanitized tag name, counted in runes.
const MaxNameLen = 100

// Source identifies how a tag got attached to a post.
type Source string

const (
	SourceManual Source = "manual"
	SourceFolder Source = "folder"
	SourceAI     Source = "ai"
)

var whitespaceRun = regexp.MustCompile(`\s+`)

// Sanitize normalizes a tag name: trim, collapse whitespace runs to "_",
// replace ":" with "_", lowercase, cap at MaxNameLen. An empty result means
// the name is invalid.
func Sanitize(name string) string {
	name = strings.TrimSpace(name)
	name = whitespaceRun.ReplaceAllString(name, "_")
	name = strings.ReplaceAll(name, ":", "_")
	name = strings.ToLower(name)
	if utf8.RuneCountInString(name) > MaxNameLen {
		runes := []rune(name)
		name = string(runes[:MaxNameLen])
	}
	return name
}

// FromFolders derives the ordered folder-tag names for a post at relPath:
// one tag per directory segment, sanitized, empties dropped, deduplicated
// case-insensitively with left-to-right order preserved.
func FromFolders(relPath string) []string {
	segments := strings.Split(relPath, "/")
	if len(segments) <= 1 {
		return nil
	}
	segments = segments[:len(segments)-1] // drop the file segment

	var names []string
	seen := make(map[string]struct{}, len(segments))
	for _, seg := range segments {
		name := Sanitize(seg)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	return names
}
