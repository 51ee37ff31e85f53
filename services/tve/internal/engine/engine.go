package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"templane/pkg/domain"
)

// Oracle actions passed to CanMutate.
const (
	ActionCreate   = "create"
	ActionEdit     = "edit"
	ActionPublish  = "publish"
	ActionArchive  = "archive"
	ActionSchedule = "schedule"
)

// Store is the persistence surface the engine runs against. Implementations
// map uniqueness violations to the domain sentinels (ErrDuplicateKey,
// ErrDuplicateRoleName, ErrDuplicateAnchor, ErrDuplicateOrder) and missing
// rows to the NotFound sentinels. CreateVersion, CloneVersion,
// PublishAndSupersede and ArchiveVersion record their lifecycle events in the
// same transaction as the state change.
type Store interface {
	GetVersion(ctx context.Context, versionID string) (*domain.TemplateVersion, error)
	ListVersions(ctx context.Context, templateID string) ([]domain.TemplateVersion, error)
	CreateVersion(ctx context.Context, v *domain.TemplateVersion) (*domain.TemplateVersion, error)
	CloneVersion(ctx context.Context, sourceID, newID, actor string, at time.Time) (*domain.TemplateVersion, error)

	ListInjectables(ctx context.Context, versionID string) ([]domain.Injectable, error)
	AddInjectable(ctx context.Context, versionID string, inj domain.Injectable) error
	RemoveInjectable(ctx context.Context, versionID, key string) error

	ListSignerRoles(ctx context.Context, versionID string) ([]domain.SignerRole, error)
	AddSignerRole(ctx context.Context, versionID string, role domain.SignerRole) error
	UpdateSignerOrders(ctx context.Context, versionID string, roles []domain.SignerRole) error

	SetSchedule(ctx context.Context, versionID string, kind domain.ScheduleKind, at *time.Time) error
	PublishAndSupersede(ctx context.Context, versionID, actor string, at time.Time) (published, superseded *domain.TemplateVersion, err error)
	ArchiveVersion(ctx context.Context, versionID, actor string, at time.Time) (*domain.TemplateVersion, error)

	DueScheduledPublishes(ctx context.Context, now time.Time) ([]domain.TemplateVersion, error)
	DueScheduledArchives(ctx context.Context, now time.Time) ([]domain.TemplateVersion, error)

	AppendEvent(ctx context.Context, ev domain.VersionEvent) error
	ListEvents(ctx context.Context, versionID string) ([]domain.VersionEvent, error)
}

// Oracle answers permission checks before any state-changing operation runs.
// A false answer surfaces as ErrForbidden and the operation is never
// attempted.
type Oracle interface {
	CanMutate(ctx context.Context, actor, versionID, action string) (bool, error)
}

// Engine owns the version lifecycle. Mutations for the same template are
// serialized through a per-template mutex so the one-published-version
// invariant never observes a transient violation; reads go straight to the
// store.
type Engine struct {
	store  Store
	oracle Oracle
	log    *zap.Logger
	now    func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(store Store, oracle Oracle, log *zap.Logger) *Engine {
	return &Engine{
		store:  store,
		oracle: oracle,
		log:    log,
		now:    func() time.Time { return time.Now().UTC() },
		locks:  map[string]*sync.Mutex{},
	}
}

func (e *Engine) lockTemplate(templateID string) func() {
	e.mu.Lock()
	l, ok := e.locks[templateID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[templateID] = l
	}
	e.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// lockVersion resolves the version's template, takes that template's mutex,
// and re-reads the version under it so status checks see the post-lock state.
func (e *Engine) lockVersion(ctx context.Context, versionID string) (*domain.TemplateVersion, func(), error) {
	v, err := e.store.GetVersion(ctx, versionID)
	if err != nil {
		return nil, nil, err
	}
	unlock := e.lockTemplate(v.TemplateID)
	v, err = e.store.GetVersion(ctx, versionID)
	if err != nil {
		unlock()
		return nil, nil, err
	}
	return v, unlock, nil
}

func (e *Engine) authorize(ctx context.Context, actor, versionID, action string) error {
	ok, err := e.oracle.CanMutate(ctx, actor, versionID, action)
	if err != nil {
		return fmt.Errorf("permission check: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: actor %s, action %s", domain.ErrForbidden, actor, action)
	}
	return nil
}

func (e *Engine) appendEvent(ctx context.Context, v *domain.TemplateVersion, typ domain.EventType, actor string, detail any) {
	var raw json.RawMessage
	if detail != nil {
		raw, _ = json.Marshal(detail)
	}
	ev := domain.VersionEvent{
		ID:         domain.NewEventID(),
		VersionID:  v.ID,
		TemplateID: v.TemplateID,
		EventType:  typ,
		Actor:      actor,
		Detail:     raw,
		CreatedAt:  e.now().UTC(),
	}
	if err := e.store.AppendEvent(ctx, ev); err != nil {
		e.log.Warn("append version event",
			zap.String("version_id", v.ID),
			zap.String("event_type", string(typ)),
			zap.Error(err))
	}
}

// CreateVersion opens a new DRAFT for the template. The version number is
// assigned by the store, one past the template's current maximum.
func (e *Engine) CreateVersion(ctx context.Context, actor, templateID, workspaceID string, content json.RawMessage) (*domain.TemplateVersion, error) {
	templateID = strings.TrimSpace(templateID)
	if templateID == "" {
		verr := &domain.ValidationError{}
		verr.Add("template_id", "REQUIRED", "template_id is required")
		return nil, verr.ErrOrNil()
	}
	id := domain.NewVersionID()
	if err := e.authorize(ctx, actor, id, ActionCreate); err != nil {
		return nil, err
	}
	unlock := e.lockTemplate(templateID)
	defer unlock()

	now := e.now().UTC()
	v := &domain.TemplateVersion{
		ID:          id,
		TemplateID:  templateID,
		WorkspaceID: strings.TrimSpace(workspaceID),
		Status:      domain.StatusDraft,
		Content:     content,
		CreatedBy:   actor,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	created, err := e.store.CreateVersion(ctx, v)
	if err != nil {
		return nil, err
	}
	e.log.Info("version created",
		zap.String("version_id", created.ID),
		zap.String("template_id", created.TemplateID),
		zap.Int("version_number", created.VersionNumber))
	return created, nil
}

// CloneVersion opens a new DRAFT copying the source version's content,
// injectables and signer roles. Any status may be cloned; this is how a
// published version gets edited.
func (e *Engine) CloneVersion(ctx context.Context, actor, sourceVersionID string) (*domain.TemplateVersion, error) {
	if err := e.authorize(ctx, actor, sourceVersionID, ActionCreate); err != nil {
		return nil, err
	}
	src, err := e.store.GetVersion(ctx, sourceVersionID)
	if err != nil {
		return nil, err
	}
	unlock := e.lockTemplate(src.TemplateID)
	defer unlock()

	cloned, err := e.store.CloneVersion(ctx, src.ID, domain.NewVersionID(), actor, e.now().UTC())
	if err != nil {
		return nil, err
	}
	e.log.Info("version cloned",
		zap.String("source_version_id", src.ID),
		zap.String("version_id", cloned.ID),
		zap.Int("version_number", cloned.VersionNumber))
	return cloned, nil
}

func (e *Engine) GetVersion(ctx context.Context, versionID string) (*domain.TemplateVersion, error) {
	return e.store.GetVersion(ctx, versionID)
}

func (e *Engine) ListVersions(ctx context.Context, templateID string) ([]domain.TemplateVersion, error) {
	return e.store.ListVersions(ctx, templateID)
}

func (e *Engine) ListInjectables(ctx context.Context, versionID string) ([]domain.Injectable, error) {
	if _, err := e.store.GetVersion(ctx, versionID); err != nil {
		return nil, err
	}
	return e.store.ListInjectables(ctx, versionID)
}

func (e *Engine) ListSignerRoles(ctx context.Context, versionID string) ([]domain.SignerRole, error) {
	if _, err := e.store.GetVersion(ctx, versionID); err != nil {
		return nil, err
	}
	roles, err := e.store.ListSignerRoles(ctx, versionID)
	if err != nil {
		return nil, err
	}
	domain.SortSignerRoles(roles)
	return roles, nil
}

func (e *Engine) ListEvents(ctx context.Context, versionID string) ([]domain.VersionEvent, error) {
	if _, err := e.store.GetVersion(ctx, versionID); err != nil {
		return nil, err
	}
	return e.store.ListEvents(ctx, versionID)
}
