package store

import "context"

// schemaSQL is the complete schema for a fresh install. Every statement is
// idempotent, so EnsureSchema can run at every boot.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS template_versions (
	id TEXT PRIMARY KEY,
	template_id TEXT NOT NULL,
	workspace_id TEXT NOT NULL,
	version_number INT NOT NULL,
	status TEXT NOT NULL CHECK (status IN ('DRAFT','PUBLISHED','ARCHIVED')),
	content JSONB,
	scheduled_publish_at TIMESTAMPTZ,
	scheduled_archive_at TIMESTAMPTZ,
	published_at TIMESTAMPTZ,
	published_by TEXT,
	archived_at TIMESTAMPTZ,
	archived_by TEXT,
	created_by TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	UNIQUE (template_id, version_number)
);

CREATE UNIQUE INDEX IF NOT EXISTS template_versions_one_published
	ON template_versions (template_id) WHERE status = 'PUBLISHED';
CREATE INDEX IF NOT EXISTS template_versions_due_publish
	ON template_versions (scheduled_publish_at) WHERE scheduled_publish_at IS NOT NULL;
CREATE INDEX IF NOT EXISTS template_versions_due_archive
	ON template_versions (scheduled_archive_at) WHERE scheduled_archive_at IS NOT NULL;

CREATE TABLE IF NOT EXISTS version_injectables (
	version_id TEXT NOT NULL REFERENCES template_versions(id) ON DELETE CASCADE,
	key TEXT NOT NULL,
	label TEXT NOT NULL,
	type TEXT NOT NULL,
	required BOOLEAN NOT NULL DEFAULT FALSE,
	default_value TEXT,
	constraints JSONB,
	created_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (version_id, key)
);

CREATE TABLE IF NOT EXISTS version_signer_roles (
	version_id TEXT NOT NULL REFERENCES template_versions(id) ON DELETE CASCADE,
	role_name TEXT NOT NULL,
	anchor_string TEXT NOT NULL,
	signer_order INT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (version_id, role_name),
	UNIQUE (version_id, anchor_string),
	UNIQUE (version_id, signer_order)
);

CREATE TABLE IF NOT EXISTS version_events (
	id TEXT PRIMARY KEY,
	version_id TEXT NOT NULL,
	template_id TEXT NOT NULL,
	event_type TEXT NOT NULL,
	actor TEXT NOT NULL,
	detail JSONB,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS version_events_by_version
	ON version_events (version_id, created_at);

CREATE TABLE IF NOT EXISTS tve_idempotency_records (
	workspace_id TEXT NOT NULL,
	actor_id TEXT NOT NULL,
	idempotency_key TEXT NOT NULL,
	endpoint TEXT NOT NULL,
	response_status INT NOT NULL,
	response_body JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (workspace_id, actor_id, idempotency_key, endpoint)
);

CREATE TABLE IF NOT EXISTS admin_credentials (
	credential_id TEXT PRIMARY KEY,
	actor_id TEXT NOT NULL,
	workspace_id TEXT NOT NULL,
	token_hash TEXT NOT NULL UNIQUE,
	scopes TEXT[] NOT NULL DEFAULT '{}',
	status TEXT NOT NULL DEFAULT 'ACTIVE',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	revoked_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS auth_failures (
	id BIGSERIAL PRIMARY KEY,
	service TEXT NOT NULL,
	endpoint TEXT NOT NULL,
	workspace_id TEXT,
	actor_id TEXT,
	reason TEXT NOT NULL,
	details JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// EnsureSchema creates any missing tables and indexes.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.DB.Exec(ctx, schemaSQL)
	return err
}
