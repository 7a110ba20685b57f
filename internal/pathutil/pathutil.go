// Package pathutil handles the relative-path conventions of the catalog:
// forward slashes at rest, safe joins confined beneath a library root, and
// segment-aligned ignored-prefix matching.
package pathutil

import (
	"path"
	"path/filepath"
	"strings"

	"github.com/shiro-booru/shiro/internal/apperr"
)

// Normalize converts platform separators to forward slashes and strips any
// leading "./" or "/" so the result is a clean catalog-relative path.
func Normalize(rel string) string {
	rel = strings.ReplaceAll(rel, "\\", "/")
	rel = path.Clean(rel)
	rel = strings.TrimPrefix(rel, "/")
	if rel == "." {
		return ""
	}
	return rel
}

// SafeJoin resolves join(root, rel) to an absolute path and fails when the
// result escapes root (".." traversal or an absolute rel).
func SafeJoin(root, rel string) (string, error) {
	abs := filepath.Join(root, filepath.FromSlash(rel))
	cleanRoot := filepath.Clean(root)
	if abs != cleanRoot && !strings.HasPrefix(abs, cleanRoot+string(filepath.Separator)) {
		return "", apperr.Invalid("path %q escapes library root", rel)
	}
	return abs, nil
}

// Relative converts the absolute path full under root into a normalized
// catalog-relative path.
func Relative(root, full string) (string, error) {
	rel, err := filepath.Rel(root, full)
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", apperr.Invalid("path %q is outside library root", full)
	}
	return Normalize(rel), nil
}

// UnderPrefix reports whether rel equals prefix or is a descendant of it.
// Matching is segment-aligned: prefix "a/b" matches "a/b/c" but not "a/bc".
func UnderPrefix(rel, prefix string) bool {
	prefix = Normalize(prefix)
	if prefix == "" {
		return false
	}
	return rel == prefix || strings.HasPrefix(rel, prefix+"/")
}

// UnderAnyPrefix reports whether rel matches any of the prefixes.
func UnderAnyPrefix(rel string, prefixes []string) bool {
	for _, p := range prefixes {
		if UnderPrefix(rel, p) {
			return true
		}
	}
	return false
}

// ParentFolder returns the directory portion of rel, or "" for files at the
// library root.
func ParentFolder(rel string) string {
	dir := path.Dir(rel)
	if dir == "." {
		return ""
	}
	return dir
}
