package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"templane/pkg/domain"
)

// Store persists template versions, their injectable and signer registries,
// and the lifecycle event log in Postgres. Lifecycle transitions that touch
// more than one row (publish with supersede, archive, clone) run in a single
// transaction together with their event inserts.
type Store struct {
	DB *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store {
	return &Store{DB: db}
}

const versionColumns = `id,template_id,workspace_id,version_number,status,content,
scheduled_publish_at,scheduled_archive_at,published_at,published_by,archived_at,archived_by,
created_by,created_at,updated_at`

func scanVersion(row pgx.Row) (*domain.TemplateVersion, error) {
	var v domain.TemplateVersion
	var status string
	var content []byte
	err := row.Scan(
		&v.ID, &v.TemplateID, &v.WorkspaceID, &v.VersionNumber, &status, &content,
		&v.ScheduledPublishAt, &v.ScheduledArchiveAt, &v.PublishedAt, &v.PublishedBy, &v.ArchivedAt, &v.ArchivedBy,
		&v.CreatedBy, &v.CreatedAt, &v.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	v.Status = domain.VersionStatus(status)
	v.Content = content
	return &v, nil
}

func jsonbParam(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func (s *Store) GetVersion(ctx context.Context, versionID string) (*domain.TemplateVersion, error) {
	row := s.DB.QueryRow(ctx, `SELECT `+versionColumns+` FROM template_versions WHERE id=$1`, versionID)
	v, err := scanVersion(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", domain.ErrVersionNotFound, versionID)
		}
		return nil, err
	}
	return v, nil
}

func (s *Store) ListVersions(ctx context.Context, templateID string) ([]domain.TemplateVersion, error) {
	rows, err := s.DB.Query(ctx, `
SELECT `+versionColumns+`
FROM template_versions
WHERE template_id=$1
ORDER BY version_number DESC
`, templateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.TemplateVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}

func (s *Store) CreateVersion(ctx context.Context, v *domain.TemplateVersion) (*domain.TemplateVersion, error) {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var number int
	err = tx.QueryRow(ctx, `
INSERT INTO template_versions(id,template_id,workspace_id,version_number,status,content,created_by,created_at,updated_at)
SELECT $1,$2,$3,COALESCE(MAX(version_number),0)+1,$4,$5::jsonb,$6,$7,$7
FROM template_versions WHERE template_id=$2
RETURNING version_number
`, v.ID, v.TemplateID, v.WorkspaceID, string(v.Status), jsonbParam(v.Content), v.CreatedBy, v.CreatedAt).Scan(&number)
	if err != nil {
		return nil, err
	}

	if err := insertEvent(ctx, tx, domain.VersionEvent{
		ID:         domain.NewEventID(),
		VersionID:  v.ID,
		TemplateID: v.TemplateID,
		EventType:  domain.EventCreated,
		Actor:      v.CreatedBy,
		CreatedAt:  v.CreatedAt,
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	out := *v
	out.VersionNumber = number
	return &out, nil
}

func (s *Store) CloneVersion(ctx context.Context, sourceID, newID, actor string, at time.Time) (*domain.TemplateVersion, error) {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	src, err := scanVersion(tx.QueryRow(ctx, `SELECT `+versionColumns+` FROM template_versions WHERE id=$1`, sourceID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", domain.ErrVersionNotFound, sourceID)
		}
		return nil, err
	}

	var number int
	err = tx.QueryRow(ctx, `
INSERT INTO template_versions(id,template_id,workspace_id,version_number,status,content,created_by,created_at,updated_at)
SELECT $1,$2,$3,COALESCE(MAX(version_number),0)+1,$4,$5::jsonb,$6,$7,$7
FROM template_versions WHERE template_id=$2
RETURNING version_number
`, newID, src.TemplateID, src.WorkspaceID, string(domain.StatusDraft), jsonbParam(src.Content), actor, at).Scan(&number)
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `
INSERT INTO version_injectables(version_id,key,label,type,required,default_value,constraints,created_at)
SELECT $1,key,label,type,required,default_value,constraints,$3
FROM version_injectables WHERE version_id=$2
`, newID, sourceID, at); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, `
INSERT INTO version_signer_roles(version_id,role_name,anchor_string,signer_order,created_at,updated_at)
SELECT $1,role_name,anchor_string,signer_order,$3,$3
FROM version_signer_roles WHERE version_id=$2
`, newID, sourceID, at); err != nil {
		return nil, err
	}

	detail, _ := json.Marshal(map[string]string{"cloned_from": sourceID})
	if err := insertEvent(ctx, tx, domain.VersionEvent{
		ID:         domain.NewEventID(),
		VersionID:  newID,
		TemplateID: src.TemplateID,
		EventType:  domain.EventCreated,
		Actor:      actor,
		Detail:     detail,
		CreatedAt:  at,
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	out := domain.TemplateVersion{
		ID:            newID,
		TemplateID:    src.TemplateID,
		WorkspaceID:   src.WorkspaceID,
		VersionNumber: number,
		Status:        domain.StatusDraft,
		Content:       src.Content,
		CreatedBy:     actor,
		CreatedAt:     at,
		UpdatedAt:     at,
	}
	return &out, nil
}

func (s *Store) ListInjectables(ctx context.Context, versionID string) ([]domain.Injectable, error) {
	rows, err := s.DB.Query(ctx, `
SELECT key,label,type,required,default_value,constraints,created_at
FROM version_injectables
WHERE version_id=$1
ORDER BY key ASC
`, versionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Injectable
	for rows.Next() {
		var inj domain.Injectable
		var typ string
		var constraints []byte
		if err := rows.Scan(&inj.Key, &inj.Label, &typ, &inj.Required, &inj.DefaultValue, &constraints, &inj.CreatedAt); err != nil {
			return nil, err
		}
		inj.Type = domain.InjectableType(typ)
		if len(constraints) > 0 {
			if err := json.Unmarshal(constraints, &inj.Constraints); err != nil {
				return nil, fmt.Errorf("decode constraints for %s: %w", inj.Key, err)
			}
		}
		out = append(out, inj)
	}
	return out, rows.Err()
}

func (s *Store) AddInjectable(ctx context.Context, versionID string, inj domain.Injectable) error {
	constraints, err := json.Marshal(inj.Constraints)
	if err != nil {
		return err
	}
	tag, err := s.DB.Exec(ctx, `
INSERT INTO version_injectables(version_id,key,label,type,required,default_value,constraints,created_at)
VALUES($1,$2,$3,$4,$5,$6,$7::jsonb,$8)
ON CONFLICT (version_id,key) DO NOTHING
`, versionID, inj.Key, inj.Label, string(inj.Type), inj.Required, inj.DefaultValue, string(constraints), inj.CreatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateKey, inj.Key)
	}
	return nil
}

func (s *Store) RemoveInjectable(ctx context.Context, versionID, key string) error {
	tag, err := s.DB.Exec(ctx, `DELETE FROM version_injectables WHERE version_id=$1 AND key=$2`, versionID, key)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", domain.ErrInjectableNotFound, key)
	}
	return nil
}

func (s *Store) ListSignerRoles(ctx context.Context, versionID string) ([]domain.SignerRole, error) {
	rows, err := s.DB.Query(ctx, `
SELECT role_name,anchor_string,signer_order,created_at,updated_at
FROM version_signer_roles
WHERE version_id=$1
ORDER BY signer_order ASC
`, versionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.SignerRole
	for rows.Next() {
		var r domain.SignerRole
		if err := rows.Scan(&r.RoleName, &r.AnchorString, &r.SignerOrder, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// AddSignerRole checks name, anchor and order collisions against the current
// rows before inserting. Callers serialize writers per template, so the check
// and insert do not race with each other.
func (s *Store) AddSignerRole(ctx context.Context, versionID string, role domain.SignerRole) error {
	existing, err := s.ListSignerRoles(ctx, versionID)
	if err != nil {
		return err
	}
	for _, r := range existing {
		if r.RoleName == role.RoleName {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateRoleName, role.RoleName)
		}
		if r.AnchorString == role.AnchorString {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateAnchor, role.AnchorString)
		}
		if r.SignerOrder == role.SignerOrder {
			return fmt.Errorf("%w: order %d held by %s", domain.ErrDuplicateOrder, role.SignerOrder, r.RoleName)
		}
	}
	_, err = s.DB.Exec(ctx, `
INSERT INTO version_signer_roles(version_id,role_name,anchor_string,signer_order,created_at,updated_at)
VALUES($1,$2,$3,$4,$5,$6)
`, versionID, role.RoleName, role.AnchorString, role.SignerOrder, role.CreatedAt, role.UpdatedAt)
	return err
}

// UpdateSignerOrders rewrites every role's position in one transaction. Orders
// are negated first so reassignment never trips the per-version uniqueness of
// (version_id, signer_order) mid-update.
func (s *Store) UpdateSignerOrders(ctx context.Context, versionID string, roles []domain.SignerRole) error {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `UPDATE version_signer_roles SET signer_order=-signer_order WHERE version_id=$1`, versionID); err != nil {
		return err
	}
	for _, r := range roles {
		tag, err := tx.Exec(ctx, `
UPDATE version_signer_roles SET signer_order=$3, updated_at=$4 WHERE version_id=$1 AND role_name=$2
`, versionID, r.RoleName, r.SignerOrder, r.UpdatedAt)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: %s", domain.ErrRoleNotFound, r.RoleName)
		}
	}
	return tx.Commit(ctx)
}

func (s *Store) SetSchedule(ctx context.Context, versionID string, kind domain.ScheduleKind, at *time.Time) error {
	col := "scheduled_publish_at"
	if kind == domain.ScheduleArchive {
		col = "scheduled_archive_at"
	}
	tag, err := s.DB.Exec(ctx, `UPDATE template_versions SET `+col+`=$2, updated_at=now() WHERE id=$1`, versionID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", domain.ErrVersionNotFound, versionID)
	}
	return nil
}

// PublishAndSupersede flips the target to PUBLISHED and, when another version
// of the same template currently holds PUBLISHED, archives it in the same
// transaction with archived_at equal to the new publication instant. Both row
// locks are taken before either update so concurrent publishes of sibling
// drafts serialize instead of double-publishing.
func (s *Store) PublishAndSupersede(ctx context.Context, versionID, actor string, at time.Time) (*domain.TemplateVersion, *domain.TemplateVersion, error) {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback(ctx)

	v, err := scanVersion(tx.QueryRow(ctx, `SELECT `+versionColumns+` FROM template_versions WHERE id=$1 FOR UPDATE`, versionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, fmt.Errorf("%w: %s", domain.ErrVersionNotFound, versionID)
		}
		return nil, nil, err
	}
	if v.Status != domain.StatusDraft {
		return nil, nil, fmt.Errorf("%w: version is %s", domain.ErrInvalidState, v.Status)
	}

	var superseded *domain.TemplateVersion
	prev, err := scanVersion(tx.QueryRow(ctx, `
SELECT `+versionColumns+`
FROM template_versions
WHERE template_id=$1 AND status=$2 AND id<>$3
FOR UPDATE
`, v.TemplateID, string(domain.StatusPublished), versionID))
	switch {
	case err == nil:
		if _, err := tx.Exec(ctx, `
UPDATE template_versions
SET status=$2, archived_at=$3, archived_by=$4, scheduled_archive_at=NULL, updated_at=$3
WHERE id=$1
`, prev.ID, string(domain.StatusArchived), at, actor); err != nil {
			return nil, nil, err
		}
		detail, _ := json.Marshal(map[string]string{"superseded_by": versionID})
		if err := insertEvent(ctx, tx, domain.VersionEvent{
			ID:         domain.NewEventID(),
			VersionID:  prev.ID,
			TemplateID: prev.TemplateID,
			EventType:  domain.EventSuperseded,
			Actor:      actor,
			Detail:     detail,
			CreatedAt:  at,
		}); err != nil {
			return nil, nil, err
		}
		prev.Status = domain.StatusArchived
		prev.ArchivedAt = &at
		prev.ArchivedBy = &actor
		prev.ScheduledArchiveAt = nil
		prev.UpdatedAt = at
		superseded = prev
	case errors.Is(err, pgx.ErrNoRows):
		// first publication for this template
	default:
		return nil, nil, err
	}

	if _, err := tx.Exec(ctx, `
UPDATE template_versions
SET status=$2, published_at=$3, published_by=$4, scheduled_publish_at=NULL, updated_at=$3
WHERE id=$1
`, versionID, string(domain.StatusPublished), at, actor); err != nil {
		return nil, nil, err
	}
	if err := insertEvent(ctx, tx, domain.VersionEvent{
		ID:         domain.NewEventID(),
		VersionID:  versionID,
		TemplateID: v.TemplateID,
		EventType:  domain.EventPublished,
		Actor:      actor,
		CreatedAt:  at,
	}); err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, nil, err
	}

	v.Status = domain.StatusPublished
	v.PublishedAt = &at
	v.PublishedBy = &actor
	v.ScheduledPublishAt = nil
	v.UpdatedAt = at
	return v, superseded, nil
}

func (s *Store) ArchiveVersion(ctx context.Context, versionID, actor string, at time.Time) (*domain.TemplateVersion, error) {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	v, err := scanVersion(tx.QueryRow(ctx, `SELECT `+versionColumns+` FROM template_versions WHERE id=$1 FOR UPDATE`, versionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", domain.ErrVersionNotFound, versionID)
		}
		return nil, err
	}
	if v.Status == domain.StatusArchived {
		return nil, fmt.Errorf("%w: version is already %s", domain.ErrInvalidState, v.Status)
	}

	if _, err := tx.Exec(ctx, `
UPDATE template_versions
SET status=$2, archived_at=$3, archived_by=$4, scheduled_publish_at=NULL, scheduled_archive_at=NULL, updated_at=$3
WHERE id=$1
`, versionID, string(domain.StatusArchived), at, actor); err != nil {
		return nil, err
	}
	if err := insertEvent(ctx, tx, domain.VersionEvent{
		ID:         domain.NewEventID(),
		VersionID:  versionID,
		TemplateID: v.TemplateID,
		EventType:  domain.EventArchived,
		Actor:      actor,
		CreatedAt:  at,
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	v.Status = domain.StatusArchived
	v.ArchivedAt = &at
	v.ArchivedBy = &actor
	v.ScheduledPublishAt = nil
	v.ScheduledArchiveAt = nil
	v.UpdatedAt = at
	return v, nil
}

func (s *Store) DueScheduledPublishes(ctx context.Context, now time.Time) ([]domain.TemplateVersion, error) {
	return s.listDue(ctx, `
SELECT `+versionColumns+`
FROM template_versions
WHERE status=$1 AND scheduled_publish_at IS NOT NULL AND scheduled_publish_at <= $2
ORDER BY scheduled_publish_at ASC, id ASC
`, string(domain.StatusDraft), now)
}

func (s *Store) DueScheduledArchives(ctx context.Context, now time.Time) ([]domain.TemplateVersion, error) {
	return s.listDue(ctx, `
SELECT `+versionColumns+`
FROM template_versions
WHERE status=$1 AND scheduled_archive_at IS NOT NULL AND scheduled_archive_at <= $2
ORDER BY scheduled_archive_at ASC, id ASC
`, string(domain.StatusPublished), now)
}

func (s *Store) listDue(ctx context.Context, query, status string, now time.Time) ([]domain.TemplateVersion, error) {
	rows, err := s.DB.Query(ctx, query, status, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.TemplateVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}

func (s *Store) AppendEvent(ctx context.Context, ev domain.VersionEvent) error {
	_, err := s.DB.Exec(ctx, `
INSERT INTO version_events(id,version_id,template_id,event_type,actor,detail,created_at)
VALUES($1,$2,$3,$4,$5,$6::jsonb,$7)
`, ev.ID, ev.VersionID, ev.TemplateID, string(ev.EventType), ev.Actor, jsonbParam(ev.Detail), ev.CreatedAt)
	return err
}

func (s *Store) ListEvents(ctx context.Context, versionID string) ([]domain.VersionEvent, error) {
	rows, err := s.DB.Query(ctx, `
SELECT id,version_id,template_id,event_type,actor,detail,created_at
FROM version_events
WHERE version_id=$1
ORDER BY created_at ASC, id ASC
`, versionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.VersionEvent
	for rows.Next() {
		var ev domain.VersionEvent
		var typ string
		var detail []byte
		if err := rows.Scan(&ev.ID, &ev.VersionID, &ev.TemplateID, &typ, &ev.Actor, &detail, &ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.EventType = domain.EventType(typ)
		ev.Detail = detail
		out = append(out, ev)
	}
	return out, rows.Err()
}

func insertEvent(ctx context.Context, tx pgx.Tx, ev domain.VersionEvent) error {
	_, err := tx.Exec(ctx, `
INSERT INTO version_events(id,version_id,template_id,event_type,actor,detail,created_at)
VALUES($1,$2,$3,$4,$5,$6::jsonb,$7)
`, ev.ID, ev.VersionID, ev.TemplateID, string(ev.EventType), ev.Actor, jsonbParam(ev.Detail), ev.CreatedAt)
	return err
}

func (s *Store) GetIdempotencyRecord(ctx context.Context, workspaceID, actorID, key, endpoint string) (int, map[string]any, bool, error) {
	var status int
	var body []byte
	err := s.DB.QueryRow(ctx, `
SELECT response_status,response_body
FROM tve_idempotency_records
WHERE workspace_id=$1 AND actor_id=$2 AND idempotency_key=$3 AND endpoint=$4
`, workspaceID, actorID, key, endpoint).Scan(&status, &body)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil, false, nil
		}
		return 0, nil, false, err
	}
	var decoded map[string]any
	if len(body) > 0 {
		if err := json.Unmarshal(body, &decoded); err != nil {
			return 0, nil, false, err
		}
	}
	return status, decoded, true, nil
}

func (s *Store) SaveIdempotencyRecord(ctx context.Context, workspaceID, actorID, key, endpoint string, status int, body map[string]any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return err
	}
	_, err = s.DB.Exec(ctx, `
INSERT INTO tve_idempotency_records(workspace_id,actor_id,idempotency_key,endpoint,response_status,response_body)
VALUES($1,$2,$3,$4,$5,$6::jsonb)
ON CONFLICT (workspace_id,actor_id,idempotency_key,endpoint) DO NOTHING
`, workspaceID, actorID, key, endpoint, status, string(encoded))
	return err
}
