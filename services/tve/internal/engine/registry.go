package engine

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"templane/pkg/domain"
)

// AddInjectable registers a fillable field on a DRAFT version. The definition
// is fully validated before anything is written; a frozen version rejects the
// edit with ErrInvalidState.
func (e *Engine) AddInjectable(ctx context.Context, actor, versionID string, inj domain.Injectable) (*domain.Injectable, error) {
	if err := e.authorize(ctx, actor, versionID, ActionEdit); err != nil {
		return nil, err
	}
	v, unlock, err := e.lockVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if !v.CanEdit() {
		return nil, fmt.Errorf("%w: injectables are frozen once version is %s", domain.ErrInvalidState, v.Status)
	}

	inj.Key = strings.TrimSpace(inj.Key)
	inj.Label = strings.TrimSpace(inj.Label)
	verr := &domain.ValidationError{}
	domain.CheckDefinition("injectable", inj, verr)
	if err := verr.ErrOrNil(); err != nil {
		return nil, err
	}

	inj.CreatedAt = e.now().UTC()
	if err := e.store.AddInjectable(ctx, versionID, inj); err != nil {
		return nil, err
	}
	e.log.Info("injectable added",
		zap.String("version_id", versionID),
		zap.String("key", inj.Key),
		zap.String("type", string(inj.Type)))
	return &inj, nil
}

func (e *Engine) RemoveInjectable(ctx context.Context, actor, versionID, key string) error {
	if err := e.authorize(ctx, actor, versionID, ActionEdit); err != nil {
		return err
	}
	v, unlock, err := e.lockVersion(ctx, versionID)
	if err != nil {
		return err
	}
	defer unlock()

	if !v.CanEdit() {
		return fmt.Errorf("%w: injectables are frozen once version is %s", domain.ErrInvalidState, v.Status)
	}
	if err := e.store.RemoveInjectable(ctx, versionID, strings.TrimSpace(key)); err != nil {
		return err
	}
	e.log.Info("injectable removed", zap.String("version_id", versionID), zap.String("key", key))
	return nil
}

// AddSignerRole appends a signing participant to a DRAFT version. When order
// is nil the role lands one past the current maximum; an explicit order that
// collides with an existing role fails with ErrDuplicateOrder. An empty
// anchor is derived from the role name.
func (e *Engine) AddSignerRole(ctx context.Context, actor, versionID, roleName, anchorString string, order *int) (*domain.SignerRole, error) {
	if err := e.authorize(ctx, actor, versionID, ActionEdit); err != nil {
		return nil, err
	}
	v, unlock, err := e.lockVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if !v.CanEdit() {
		return nil, fmt.Errorf("%w: signer roles are frozen once version is %s", domain.ErrInvalidState, v.Status)
	}

	roleName = strings.TrimSpace(roleName)
	anchorString = strings.TrimSpace(anchorString)
	verr := &domain.ValidationError{}
	if roleName == "" {
		verr.Add("role_name", "REQUIRED", "role_name is required")
	}
	if order != nil && *order < 1 {
		verr.Add("signer_order", "ORDER_OUT_OF_RANGE", "signer_order must be >= 1")
	}
	if err := verr.ErrOrNil(); err != nil {
		return nil, err
	}
	if anchorString == "" {
		anchorString = domain.DeriveAnchor(roleName)
	}

	roles, err := e.store.ListSignerRoles(ctx, versionID)
	if err != nil {
		return nil, err
	}
	ord := domain.NextSignerOrder(roles)
	if order != nil {
		ord = *order
		for _, r := range roles {
			if r.SignerOrder == ord {
				return nil, fmt.Errorf("%w: order %d held by %s", domain.ErrDuplicateOrder, ord, r.RoleName)
			}
		}
	}

	now := e.now().UTC()
	role := domain.SignerRole{
		RoleName:     roleName,
		AnchorString: anchorString,
		SignerOrder:  ord,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := e.store.AddSignerRole(ctx, versionID, role); err != nil {
		return nil, err
	}
	e.log.Info("signer role added",
		zap.String("version_id", versionID),
		zap.String("role_name", roleName),
		zap.Int("signer_order", ord))
	return &role, nil
}

// ReorderSignerRole moves a role to newOrder and renumbers the rest densely.
// Returns the full role list in its new order.
func (e *Engine) ReorderSignerRole(ctx context.Context, actor, versionID, roleName string, newOrder int) ([]domain.SignerRole, error) {
	if err := e.authorize(ctx, actor, versionID, ActionEdit); err != nil {
		return nil, err
	}
	v, unlock, err := e.lockVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if !v.CanEdit() {
		return nil, fmt.Errorf("%w: signer roles are frozen once version is %s", domain.ErrInvalidState, v.Status)
	}

	roles, err := e.store.ListSignerRoles(ctx, versionID)
	if err != nil {
		return nil, err
	}
	reordered, err := domain.ReindexSignerRoles(roles, strings.TrimSpace(roleName), newOrder)
	if err != nil {
		return nil, err
	}
	for i := range reordered {
		reordered[i].UpdatedAt = e.now().UTC()
	}
	if err := e.store.UpdateSignerOrders(ctx, versionID, reordered); err != nil {
		return nil, err
	}
	e.log.Info("signer roles reordered",
		zap.String("version_id", versionID),
		zap.String("role_name", roleName),
		zap.Int("new_order", newOrder))
	return reordered, nil
}
