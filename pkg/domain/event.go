package domain

import (
	"encoding/json"
	"time"
)

// SystemActor attributes transitions applied by the scheduling driver rather
// than a caller.
const SystemActor = "system"

type EventType string

const (
	EventCreated           EventType = "CREATED"
	EventPublished         EventType = "PUBLISHED"
	EventSuperseded        EventType = "SUPERSEDED"
	EventArchived          EventType = "ARCHIVED"
	EventScheduleSet       EventType = "SCHEDULE_SET"
	EventScheduleCancelled EventType = "SCHEDULE_CANCELLED"
	EventTransitionFailed  EventType = "SCHEDULED_TRANSITION_FAILED"
	EventAssembled         EventType = "ASSEMBLED"
)

// ScheduleKind selects which pending transition a schedule operation targets.
type ScheduleKind string

const (
	SchedulePublish ScheduleKind = "PUBLISH"
	ScheduleArchive ScheduleKind = "ARCHIVE"
)

func (k ScheduleKind) IsValid() bool {
	return k == SchedulePublish || k == ScheduleArchive
}

// VersionEvent is one append-only history entry for a template version.
// Events are never updated or deleted.
type VersionEvent struct {
	ID         string          `json:"id"`
	VersionID  string          `json:"version_id"`
	TemplateID string          `json:"template_id"`
	EventType  EventType       `json:"event_type"`
	Actor      string          `json:"actor"`
	Detail     json.RawMessage `json:"detail,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}
