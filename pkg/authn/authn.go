package authn

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrUnauthorized = errors.New("unauthorized")

// Subject is the authenticated caller of an admin endpoint. WorkspaceID pins
// every operation the subject performs to its tenant.
type Subject struct {
	ActorID     string
	WorkspaceID string
	Scopes      []string
}

// AuthenticateBearer resolves the Authorization header against the stored
// credential table. Tokens are compared by hash; the plaintext never touches
// the database.
func AuthenticateBearer(ctx context.Context, db *pgxpool.Pool, authorization string) (*Subject, error) {
	token, ok := parseBearerToken(authorization)
	if !ok {
		return nil, ErrUnauthorized
	}
	tokenHash := hashToken(token)
	var out Subject
	err := db.QueryRow(ctx, `
SELECT actor_id,workspace_id,scopes
FROM admin_credentials
WHERE token_hash=$1
  AND revoked_at IS NULL
  AND status='ACTIVE'
`, tokenHash).Scan(&out.ActorID, &out.WorkspaceID, &out.Scopes)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUnauthorized
		}
		return nil, err
	}
	return &out, nil
}

func HasScope(scopes []string, required string) bool {
	for _, s := range scopes {
		if s == required {
			return true
		}
	}
	return false
}

func LogAuthFailure(ctx context.Context, db *pgxpool.Pool, service, endpoint, workspaceID, actorID, reason string, details map[string]any) {
	b, _ := json.Marshal(details)
	_, _ = db.Exec(ctx, `
INSERT INTO auth_failures(service,endpoint,workspace_id,actor_id,reason,details)
VALUES($1,$2,$3,$4,$5,$6::jsonb)
`, service, endpoint, workspaceID, actorID, reason, string(b))
}

func parseBearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if token == "" {
		return "", false
	}
	return token, true
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
