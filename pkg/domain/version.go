package domain

import (
	"encoding/json"
	"time"
)

type VersionStatus string

const (
	StatusDraft     VersionStatus = "DRAFT"
	StatusPublished VersionStatus = "PUBLISHED"
	StatusArchived  VersionStatus = "ARCHIVED"
)

func (s VersionStatus) IsValid() bool {
	switch s {
	case StatusDraft, StatusPublished, StatusArchived:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether the lifecycle permits moving from s to
// next. ARCHIVED is terminal; DRAFT may be archived without publishing.
func (s VersionStatus) CanTransitionTo(next VersionStatus) bool {
	switch s {
	case StatusDraft:
		return next == StatusPublished || next == StatusArchived
	case StatusPublished:
		return next == StatusArchived
	default:
		return false
	}
}

// TemplateVersion is one revision of a template's content together with its
// lifecycle bookkeeping. VersionNumber is assigned once at creation and never
// reused; PublishedAt/ArchivedAt and their actors are written exactly once by
// the transition that causes them and never cleared afterwards.
type TemplateVersion struct {
	ID            string          `json:"id"`
	TemplateID    string          `json:"template_id"`
	WorkspaceID   string          `json:"workspace_id"`
	VersionNumber int             `json:"version_number"`
	Status        VersionStatus   `json:"status"`
	Content       json.RawMessage `json:"content,omitempty"`

	ScheduledPublishAt *time.Time `json:"scheduled_publish_at,omitempty"`
	ScheduledArchiveAt *time.Time `json:"scheduled_archive_at,omitempty"`

	PublishedAt *time.Time `json:"published_at,omitempty"`
	PublishedBy *string    `json:"published_by,omitempty"`
	ArchivedAt  *time.Time `json:"archived_at,omitempty"`
	ArchivedBy  *string    `json:"archived_by,omitempty"`

	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CanEdit reports whether injectables and signer roles may still be mutated.
// Publishing freezes a version; edits after that point go through a new draft.
func (v TemplateVersion) CanEdit() bool { return v.Status == StatusDraft }

// AssemblySnapshot is the immutable, fully resolved document representation
// handed to the signing flow. It is derived on demand from a PUBLISHED
// version and never mutated once produced; the content and value fingerprints
// let consumers verify it arrived intact.
type AssemblySnapshot struct {
	SnapshotID    string          `json:"snapshot_id"`
	VersionID     string          `json:"version_id"`
	TemplateID    string          `json:"template_id"`
	WorkspaceID   string          `json:"workspace_id"`
	VersionNumber int             `json:"version_number"`
	Content       json.RawMessage `json:"content"`

	ResolvedValues map[string]string `json:"resolved_values"`
	SignerRoles    []SignerRole      `json:"signer_roles"`

	ContentHash string    `json:"content_hash"`
	ValuesHash  string    `json:"values_hash"`
	AssembledAt time.Time `json:"assembled_at"`
}
