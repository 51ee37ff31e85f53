package domain

import (
	"errors"
	"testing"
)

func TestVersionStatusTransitions(t *testing.T) {
	allowed := []struct{ from, to VersionStatus }{
		{StatusDraft, StatusPublished},
		{StatusDraft, StatusArchived},
		{StatusPublished, StatusArchived},
	}
	for _, c := range allowed {
		if !c.from.CanTransitionTo(c.to) {
			t.Fatalf("%s -> %s should be allowed", c.from, c.to)
		}
	}
	denied := []struct{ from, to VersionStatus }{
		{StatusPublished, StatusDraft},
		{StatusPublished, StatusPublished},
		{StatusArchived, StatusDraft},
		{StatusArchived, StatusPublished},
		{StatusArchived, StatusArchived},
		{StatusDraft, StatusDraft},
	}
	for _, c := range denied {
		if c.from.CanTransitionTo(c.to) {
			t.Fatalf("%s -> %s should be denied", c.from, c.to)
		}
	}
}

func TestCanEdit(t *testing.T) {
	if !(TemplateVersion{Status: StatusDraft}).CanEdit() {
		t.Fatalf("draft must be editable")
	}
	if (TemplateVersion{Status: StatusPublished}).CanEdit() {
		t.Fatalf("published must not be editable")
	}
	if (TemplateVersion{Status: StatusArchived}).CanEdit() {
		t.Fatalf("archived must not be editable")
	}
}

func TestValidationErrorAggregation(t *testing.T) {
	verr := &ValidationError{}
	if verr.HasIssues() {
		t.Fatalf("fresh aggregate must have no issues")
	}
	if verr.ErrOrNil() != nil {
		t.Fatalf("empty aggregate must resolve to nil")
	}
	verr.Add("b.path", "CODE_B", "second")
	verr.Add("a.path", "CODE_A", "first")
	err := verr.ErrOrNil()
	if err == nil {
		t.Fatalf("expected aggregate error")
	}
	var out *ValidationError
	if !errors.As(err, &out) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if out.Issues[0].Path != "a.path" || out.Issues[1].Path != "b.path" {
		t.Fatalf("issues must be sorted by path, got %+v", out.Issues)
	}
	if out.Error() == "" {
		t.Fatalf("aggregate must render a message")
	}
}
