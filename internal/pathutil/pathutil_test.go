package pathutil

import (
	"testing"

	"github.com/shiro-booru/shiro/internal/apperr"
)

func TestNormalize(t *testing.T) {
	cases := []struct{ in, want string }{
		{"a/b.jpg", "a/b.jpg"},
		{"./a/b.jpg", "a/b.jpg"},
		{"/a/b.jpg", "a/b.jpg"},
		{`a\b\c.png`, "a/b/c.png"},
		{"a//b.jpg", "a/b.jpg"},
		{".", ""},
	}
	for _, c := range cases {
		if got := Normalize(c.in); got != c.want {
			t.Errorf("Normalize(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestSafeJoinRejectsEscape(t *testing.T) {
	if _, err := SafeJoin("/lib", "../etc/passwd"); err == nil {
		t.Fatal("expected error for traversal, got nil")
	} else if !apperr.IsInvalid(err) {
		t.Fatalf("expected InvalidInput, got %v", err)
	}

	got, err := SafeJoin("/lib", "a/b.jpg")
	if err != nil {
		t.Fatalf("SafeJoin: %v", err)
	}
	if got != "/lib/a/b.jpg" {
		t.Errorf("SafeJoin = %q", got)
	}
}

func TestUnderPrefixSegmentAligned(t *testing.T) {
	if !UnderPrefix("a/b/c.jpg", "a/b") {
		t.Error("a/b/c.jpg should match prefix a/b")
	}
	if !UnderPrefix("a/b", "a/b") {
		t.Error("exact match should count")
	}
	if UnderPrefix("a/bc/d.jpg", "a/b") {
		t.Error("a/bc must not match prefix a/b")
	}
	if UnderPrefix("a/b", "") {
		t.Error("empty prefix must never match")
	}
}

func TestParentFolder(t *testing.T) {
	if got := ParentFolder("a/b/c.jpg"); got != "a/b" {
		t.Errorf("ParentFolder = %q, want a/b", got)
	}
	if got := ParentFolder("c.jpg"); got != "" {
		t.Errorf("ParentFolder of root file = %q, want empty", got)
	}
}
