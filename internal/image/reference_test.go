package image

import (
	"errors"
	"testing"
)

func TestReferenceForIsDeterministic(t *testing.T) {
	first, err := ReferenceFor("oneops", "https://github.com/acme/widget")
	if err != nil {
		t.Fatalf("reference: %v", err)
	}
	second, err := ReferenceFor("oneops", "https://github.com/acme/widget")
	if err != nil {
		t.Fatalf("reference: %v", err)
	}
	if first.String() != second.String() {
		t.Fatalf("expected identical references, got %s and %s", first, second)
	}
	if first.String() != "oneops/widget:latest" {
		t.Fatalf("unexpected reference %s", first)
	}
}

func TestReferenceForNormalisesSlug(t *testing.T) {
	cases := map[string]string{
		"https://github.com/Acme/Widget.git":    "widget",
		"https://github.com/acme/widget/":       "widget",
		"https://gitlab.com/acme/tools/API.git": "api",
		"git@github.com:acme/Tool.git":          "tool",
	}
	for repo, want := range cases {
		ref, err := ReferenceFor("dev", repo)
		if err != nil {
			t.Fatalf("%s: %v", repo, err)
		}
		if ref.Slug != want {
			t.Fatalf("%s: expected slug %q, got %q", repo, want, ref.Slug)
		}
		if ref.Tag != "latest" {
			t.Fatalf("%s: expected latest tag, got %q", repo, ref.Tag)
		}
	}
}

func TestReferenceForWithoutNamespace(t *testing.T) {
	ref, err := ReferenceFor("", "https://github.com/acme/widget")
	if err != nil {
		t.Fatalf("reference: %v", err)
	}
	if ref.String() != "widget:latest" {
		t.Fatalf("unexpected reference %s", ref)
	}
}

func TestReferenceForRejectsUnusableNames(t *testing.T) {
	for _, repo := range []string{"", "https://github.com/", "https://github.com/acme/bad name"} {
		_, err := ReferenceFor("oneops", repo)
		var publishErr *PublishError
		if !errors.As(err, &publishErr) {
			t.Fatalf("%q: expected PublishError, got %v", repo, err)
		}
	}
}
