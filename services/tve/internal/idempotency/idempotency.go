package idempotency

import "context"

// Scope identifies who is retrying. Records are isolated per workspace and
// actor so one tenant's keys can never replay another's responses.
type Scope struct {
	WorkspaceID    string
	ActorID        string
	IdempotencyKey string
}

type Store interface {
	GetIdempotencyRecord(ctx context.Context, workspaceID, actorID, idempotencyKey, endpoint string) (int, map[string]any, bool, error)
	SaveIdempotencyRecord(ctx context.Context, workspaceID, actorID, idempotencyKey, endpoint string, responseStatus int, responseBody map[string]any) error
}

// Replay returns the stored response for this scope and endpoint, if any.
// A scope without a key never replays.
func Replay(ctx context.Context, st Store, scope Scope, endpoint string) (int, map[string]any, bool, error) {
	if scope.IdempotencyKey == "" {
		return 0, nil, false, nil
	}
	status, body, found, err := st.GetIdempotencyRecord(ctx, scope.WorkspaceID, scope.ActorID, scope.IdempotencyKey, endpoint)
	if err != nil {
		return 0, nil, false, err
	}
	if !found {
		return 0, nil, false, nil
	}
	return status, body, true, nil
}

// Save records a response for later replay. First write wins, so a retried
// request observes the original outcome even when saves race.
func Save(ctx context.Context, st Store, scope Scope, endpoint string, status int, response map[string]any) error {
	if scope.IdempotencyKey == "" {
		return nil
	}
	return st.SaveIdempotencyRecord(ctx, scope.WorkspaceID, scope.ActorID, scope.IdempotencyKey, endpoint, status, response)
}
