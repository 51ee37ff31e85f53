package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"templane/pkg/domain"
)

// Publish moves a DRAFT to PUBLISHED. Every publish-time violation is
// collected into one ValidationError before anything is written: the signer
// sequence must be a dense 1..N and no stored injectable definition may have
// gone invalid. The store applies publish and supersede of the previously
// published sibling in one transaction, stamping both records with the same
// timestamp.
func (e *Engine) Publish(ctx context.Context, actor, versionID string) (*domain.TemplateVersion, error) {
	if err := e.authorize(ctx, actor, versionID, ActionPublish); err != nil {
		return nil, err
	}
	v, unlock, err := e.lockVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if v.Status != domain.StatusDraft {
		return nil, fmt.Errorf("%w: publish requires DRAFT, version is %s", domain.ErrInvalidState, v.Status)
	}

	verr := &domain.ValidationError{}
	roles, err := e.store.ListSignerRoles(ctx, versionID)
	if err != nil {
		return nil, err
	}
	switch seqErr := domain.ValidateSignerSequence(roles); {
	case errors.Is(seqErr, domain.ErrEmptySequence):
		verr.Add("signer_roles", "EMPTY_SEQUENCE", "at least one signer role is required to publish")
	case errors.Is(seqErr, domain.ErrNonContiguousOrder):
		verr.Add("signer_roles", "NON_CONTIGUOUS_ORDER", seqErr.Error())
	}
	injectables, err := e.store.ListInjectables(ctx, versionID)
	if err != nil {
		return nil, err
	}
	for _, inj := range injectables {
		domain.CheckDefinition("injectables."+inj.Key, inj, verr)
	}
	if err := verr.ErrOrNil(); err != nil {
		return nil, err
	}

	published, superseded, err := e.store.PublishAndSupersede(ctx, versionID, actor, e.now().UTC())
	if err != nil {
		return nil, err
	}
	if superseded != nil {
		e.log.Info("version superseded",
			zap.String("template_id", published.TemplateID),
			zap.String("version_id", superseded.ID),
			zap.String("superseded_by", published.ID))
	}
	e.log.Info("version published",
		zap.String("template_id", published.TemplateID),
		zap.String("version_id", published.ID),
		zap.String("actor", actor))
	return published, nil
}

// Archive moves a DRAFT or PUBLISHED version to ARCHIVED. ARCHIVED is
// terminal; pending schedules are cleared since neither transition can fire
// anymore.
func (e *Engine) Archive(ctx context.Context, actor, versionID string) (*domain.TemplateVersion, error) {
	if err := e.authorize(ctx, actor, versionID, ActionArchive); err != nil {
		return nil, err
	}
	v, unlock, err := e.lockVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if v.Status != domain.StatusDraft && v.Status != domain.StatusPublished {
		return nil, fmt.Errorf("%w: archive requires DRAFT or PUBLISHED, version is %s", domain.ErrInvalidState, v.Status)
	}
	archived, err := e.store.ArchiveVersion(ctx, versionID, actor, e.now().UTC())
	if err != nil {
		return nil, err
	}
	e.log.Info("version archived",
		zap.String("template_id", archived.TemplateID),
		zap.String("version_id", archived.ID),
		zap.String("actor", actor))
	return archived, nil
}

// SchedulePublish records a future automatic publish for a DRAFT. A prior
// pending publish schedule is overwritten.
func (e *Engine) SchedulePublish(ctx context.Context, actor, versionID string, at time.Time) (*domain.TemplateVersion, error) {
	return e.setSchedule(ctx, actor, versionID, domain.SchedulePublish, at)
}

// ScheduleArchive records a future automatic archive for a PUBLISHED version.
// A prior pending archive schedule is overwritten.
func (e *Engine) ScheduleArchive(ctx context.Context, actor, versionID string, at time.Time) (*domain.TemplateVersion, error) {
	return e.setSchedule(ctx, actor, versionID, domain.ScheduleArchive, at)
}

func (e *Engine) setSchedule(ctx context.Context, actor, versionID string, kind domain.ScheduleKind, at time.Time) (*domain.TemplateVersion, error) {
	if err := e.authorize(ctx, actor, versionID, ActionSchedule); err != nil {
		return nil, err
	}
	v, unlock, err := e.lockVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := checkOriginatingState(v, kind); err != nil {
		return nil, err
	}
	if !at.After(e.now()) {
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidSchedule, at.UTC().Format(time.RFC3339))
	}

	t := at.UTC()
	if err := e.store.SetSchedule(ctx, versionID, kind, &t); err != nil {
		return nil, err
	}
	e.appendEvent(ctx, v, domain.EventScheduleSet, actor, map[string]string{
		"kind": string(kind),
		"at":   t.Format(time.RFC3339),
	})
	e.log.Info("transition scheduled",
		zap.String("version_id", versionID),
		zap.String("kind", string(kind)),
		zap.Time("at", t))
	return e.store.GetVersion(ctx, versionID)
}

// CancelSchedule clears a pending scheduled transition. It only applies while
// the version is still in the transition's originating state; with nothing
// pending it fails with ErrNoScheduleSet.
func (e *Engine) CancelSchedule(ctx context.Context, actor, versionID string, kind domain.ScheduleKind) (*domain.TemplateVersion, error) {
	if err := e.authorize(ctx, actor, versionID, ActionSchedule); err != nil {
		return nil, err
	}
	v, unlock, err := e.lockVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := checkOriginatingState(v, kind); err != nil {
		return nil, err
	}
	pending := v.ScheduledPublishAt
	if kind == domain.ScheduleArchive {
		pending = v.ScheduledArchiveAt
	}
	if pending == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrNoScheduleSet, kind)
	}

	if err := e.store.SetSchedule(ctx, versionID, kind, nil); err != nil {
		return nil, err
	}
	e.appendEvent(ctx, v, domain.EventScheduleCancelled, actor, map[string]string{"kind": string(kind)})
	e.log.Info("schedule cancelled",
		zap.String("version_id", versionID),
		zap.String("kind", string(kind)))
	return e.store.GetVersion(ctx, versionID)
}

func checkOriginatingState(v *domain.TemplateVersion, kind domain.ScheduleKind) error {
	switch kind {
	case domain.SchedulePublish:
		if v.Status != domain.StatusDraft {
			return fmt.Errorf("%w: publish schedule requires DRAFT, version is %s", domain.ErrInvalidState, v.Status)
		}
	case domain.ScheduleArchive:
		if v.Status != domain.StatusPublished {
			return fmt.Errorf("%w: archive schedule requires PUBLISHED, version is %s", domain.ErrInvalidState, v.Status)
		}
	default:
		return fmt.Errorf("unrecognized schedule kind %q", kind)
	}
	return nil
}

// ProcessDuePublishes applies every publish whose scheduled time has passed,
// oldest first with version id as tie-break. A version that already left
// DRAFT is skipped quietly; any other failure is recorded as a
// SCHEDULED_TRANSITION_FAILED event, clears the schedule so it is not
// retried, and never stops the remaining items. Returns how many transitions
// were applied.
func (e *Engine) ProcessDuePublishes(ctx context.Context, now time.Time) int {
	due, err := e.store.DueScheduledPublishes(ctx, now)
	if err != nil {
		e.log.Error("list due publishes", zap.Error(err))
		return 0
	}
	sortDue(due, func(v domain.TemplateVersion) *time.Time { return v.ScheduledPublishAt })

	applied := 0
	for _, v := range due {
		if ctx.Err() != nil {
			return applied
		}
		_, err := e.Publish(ctx, domain.SystemActor, v.ID)
		switch {
		case err == nil:
			applied++
		case errors.Is(err, domain.ErrInvalidState), errors.Is(err, domain.ErrVersionNotFound):
			e.log.Debug("due publish skipped, version already transitioned",
				zap.String("version_id", v.ID))
		default:
			e.reportTransitionFailure(ctx, v, domain.SchedulePublish, err)
		}
	}
	return applied
}

// ProcessDueArchives is the archive counterpart of ProcessDuePublishes.
func (e *Engine) ProcessDueArchives(ctx context.Context, now time.Time) int {
	due, err := e.store.DueScheduledArchives(ctx, now)
	if err != nil {
		e.log.Error("list due archives", zap.Error(err))
		return 0
	}
	sortDue(due, func(v domain.TemplateVersion) *time.Time { return v.ScheduledArchiveAt })

	applied := 0
	for _, v := range due {
		if ctx.Err() != nil {
			return applied
		}
		_, err := e.Archive(ctx, domain.SystemActor, v.ID)
		switch {
		case err == nil:
			applied++
		case errors.Is(err, domain.ErrInvalidState), errors.Is(err, domain.ErrVersionNotFound):
			e.log.Debug("due archive skipped, version already transitioned",
				zap.String("version_id", v.ID))
		default:
			e.reportTransitionFailure(ctx, v, domain.ScheduleArchive, err)
		}
	}
	return applied
}

func (e *Engine) reportTransitionFailure(ctx context.Context, v domain.TemplateVersion, kind domain.ScheduleKind, cause error) {
	e.log.Error("scheduled transition failed",
		zap.String("version_id", v.ID),
		zap.String("template_id", v.TemplateID),
		zap.String("kind", string(kind)),
		zap.Error(cause))
	if err := e.store.SetSchedule(ctx, v.ID, kind, nil); err != nil {
		e.log.Error("clear schedule after failed transition",
			zap.String("version_id", v.ID),
			zap.Error(err))
	}
	e.appendEvent(ctx, &v, domain.EventTransitionFailed, domain.SystemActor, map[string]string{
		"kind":  string(kind),
		"cause": cause.Error(),
	})
}

func sortDue(due []domain.TemplateVersion, when func(domain.TemplateVersion) *time.Time) {
	sort.Slice(due, func(i, j int) bool {
		ti, tj := when(due[i]), when(due[j])
		switch {
		case ti == nil:
			return false
		case tj == nil:
			return true
		case !ti.Equal(*tj):
			return ti.Before(*tj)
		default:
			return due[i].ID < due[j].ID
		}
	})
}
