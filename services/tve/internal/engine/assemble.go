package engine

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"templane/pkg/domain"
	"templane/services/tve/internal/assembly"
)

// Assemble resolves a PUBLISHED version into an immutable snapshot for the
// signing flow. Value violations are aggregated so the caller learns every
// missing or mismatched injectable in one call. Injectables and signer roles
// are frozen after publish, so the two fetches cannot observe a half-applied
// edit.
func (e *Engine) Assemble(ctx context.Context, actor, versionID string, provided map[string]string) (*domain.AssemblySnapshot, error) {
	v, err := e.store.GetVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if v.Status != domain.StatusPublished {
		return nil, fmt.Errorf("%w: assemble requires PUBLISHED, version is %s", domain.ErrInvalidState, v.Status)
	}

	var injectables []domain.Injectable
	var roles []domain.SignerRole
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		injectables, err = e.store.ListInjectables(gctx, versionID)
		return err
	})
	g.Go(func() error {
		var err error
		roles, err = e.store.ListSignerRoles(gctx, versionID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	resolved, err := domain.ResolveValues(injectables, provided)
	if err != nil {
		return nil, err
	}
	if len(roles) == 0 {
		return nil, fmt.Errorf("%w: published version has no signer roles", domain.ErrEmptySequence)
	}

	snap, err := assembly.Build(v, resolved, roles, e.now().UTC())
	if err != nil {
		return nil, err
	}
	e.appendEvent(ctx, v, domain.EventAssembled, actor, map[string]string{
		"snapshot_id":  snap.SnapshotID,
		"content_hash": snap.ContentHash,
		"values_hash":  snap.ValuesHash,
	})
	return snap, nil
}
