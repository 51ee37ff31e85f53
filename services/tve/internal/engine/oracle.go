package engine

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"templane/pkg/authn"
	"templane/pkg/domain"
)

// AllowAllOracle grants every mutation. Used in bootstrap auth mode where the
// shared token already gates the whole admin surface.
type AllowAllOracle struct{}

func (AllowAllOracle) CanMutate(context.Context, string, string, string) (bool, error) {
	return true, nil
}

// ScopeOracle answers permission checks from the credential table: the actor
// must hold the scope mapped to the action. The system actor is always
// allowed, since scheduled transitions were authorized when the schedule was
// set.
type ScopeOracle struct {
	DB       *pgxpool.Pool
	ScopeFor map[string]string
}

// DefaultActionScopes maps engine actions to required credential scopes.
func DefaultActionScopes() map[string]string {
	return map[string]string{
		ActionCreate:   "tve.admin:versions",
		ActionEdit:     "tve.admin:versions",
		ActionPublish:  "tve.admin:lifecycle",
		ActionArchive:  "tve.admin:lifecycle",
		ActionSchedule: "tve.admin:lifecycle",
	}
}

func (o *ScopeOracle) CanMutate(ctx context.Context, actor, versionID, action string) (bool, error) {
	if actor == domain.SystemActor {
		return true, nil
	}
	required, ok := o.ScopeFor[action]
	if !ok {
		return false, nil
	}
	var scopes []string
	err := o.DB.QueryRow(ctx, `
SELECT scopes
FROM admin_credentials
WHERE actor_id=$1
  AND revoked_at IS NULL
  AND status='ACTIVE'
ORDER BY created_at DESC
LIMIT 1
`, actor).Scan(&scopes)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return authn.HasScope(scopes, required), nil
}
