package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"templane/pkg/authn"
	"templane/pkg/domain"
	"templane/pkg/httpx"
	"templane/services/tve/internal/engine"
	"templane/services/tve/internal/idempotency"
	"templane/services/tve/internal/signclient"
	"templane/services/tve/internal/snapcache"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

type versionAdminDeps struct {
	engine  *engine.Engine
	idem    idempotency.Store
	pool    *pgxpool.Pool
	cache   *snapcache.Cache
	sign    *signclient.Client
	log     *zap.Logger
	cfg     serverConfig
	limiter *fixedWindowLimiter
}

type createVersionRequest struct {
	WorkspaceID string          `json:"workspace_id"`
	Content     json.RawMessage `json:"content"`
}

type schedulePublishRequest struct {
	PublishAt time.Time `json:"publish_at"`
}

type scheduleArchiveRequest struct {
	ArchiveAt time.Time `json:"archive_at"`
}

type cancelScheduleRequest struct {
	Transition string `json:"transition"`
}

type addInjectableRequest struct {
	Key          string                      `json:"key"`
	Label        string                      `json:"label"`
	Type         string                      `json:"type"`
	Required     bool                        `json:"required"`
	DefaultValue *string                     `json:"default_value"`
	Constraints  domain.InjectableConstraint `json:"constraints"`
}

type addSignerRoleRequest struct {
	RoleName     string `json:"role_name"`
	AnchorString string `json:"anchor_string"`
	SignerOrder  *int   `json:"signer_order"`
}

type reorderSignerRoleRequest struct {
	NewOrder int `json:"new_order"`
}

type assembleRequest struct {
	Values map[string]string `json:"values"`
}

// Swappable in tests.
var (
	authenticateBearerFn = authn.AuthenticateBearer
	logAuthFailureFn     = authn.LogAuthFailure
)

func registerVersionAdminRoutes(api chi.Router, deps versionAdminDeps) {
	api.Post("/templates/{template_id}/versions", func(w http.ResponseWriter, r *http.Request) {
		subject, ok := requireVersionAdmin(r, w, deps)
		if !ok {
			return
		}
		templateID := chi.URLParam(r, "template_id")
		endpoint := fmt.Sprintf("POST /tve/templates/%s/versions", templateID)
		if replayVersionAdminIdempotency(r, w, deps, subject, endpoint) {
			return
		}

		var req createVersionRequest
		if !readJSONWithLimit(w, r, deps.cfg.MaxBodyBytes, &req) {
			return
		}
		workspaceID := effectiveWorkspace(subject, req.WorkspaceID)
		if workspaceID == "" {
			httpx.WriteError(r.Context(), w, 400, "BAD_REQUEST", "workspace_id is required", nil)
			return
		}
		v, err := deps.engine.CreateVersion(r.Context(), subject.ActorID, templateID, workspaceID, req.Content)
		if err != nil {
			writeEngineError(w, r, deps.log, err)
			return
		}
		resp := map[string]any{
			"request_id": httpx.RequestIDFrom(r.Context()),
			"version":    v,
		}
		saveVersionAdminIdempotencyAndWrite(r, w, deps, subject, endpoint, 201, resp)
	})

	api.Get("/templates/{template_id}/versions", func(w http.ResponseWriter, r *http.Request) {
		_, ok := requireVersionAdmin(r, w, deps)
		if !ok {
			return
		}
		templateID := chi.URLParam(r, "template_id")
		versions, err := deps.engine.ListVersions(r.Context(), templateID)
		if err != nil {
			writeEngineError(w, r, deps.log, err)
			return
		}
		httpx.WriteJSON(w, 200, map[string]any{
			"request_id": httpx.RequestIDFrom(r.Context()),
			"versions":   versions,
		})
	})

	api.Get("/versions/{version_id}", func(w http.ResponseWriter, r *http.Request) {
		_, ok := requireVersionAdmin(r, w, deps)
		if !ok {
			return
		}
		versionID := chi.URLParam(r, "version_id")
		v, err := deps.engine.GetVersion(r.Context(), versionID)
		if err != nil {
			writeEngineError(w, r, deps.log, err)
			return
		}
		injectables, err := deps.engine.ListInjectables(r.Context(), versionID)
		if err != nil {
			writeEngineError(w, r, deps.log, err)
			return
		}
		roles, err := deps.engine.ListSignerRoles(r.Context(), versionID)
		if err != nil {
			writeEngineError(w, r, deps.log, err)
			return
		}
		httpx.WriteJSON(w, 200, map[string]any{
			"request_id":   httpx.RequestIDFrom(r.Context()),
			"version":      v,
			"injectables":  injectables,
			"signer_roles": roles,
		})
	})

	api.Post("/versions/{version_id}:publish", func(w http.ResponseWriter, r *http.Request) {
		subject, ok := requireVersionAdmin(r, w, deps)
		if !ok {
			return
		}
		versionID := chi.URLParam(r, "version_id")
		endpoint := fmt.Sprintf("POST /tve/versions/%s:publish", versionID)
		if replayVersionAdminIdempotency(r, w, deps, subject, endpoint) {
			return
		}
		v, err := deps.engine.Publish(r.Context(), subject.ActorID, versionID)
		if err != nil {
			writeEngineError(w, r, deps.log, err)
			return
		}
		resp := map[string]any{
			"request_id": httpx.RequestIDFrom(r.Context()),
			"version":    v,
		}
		saveVersionAdminIdempotencyAndWrite(r, w, deps, subject, endpoint, 200, resp)
	})

	api.Post("/versions/{version_id}:archive", func(w http.ResponseWriter, r *http.Request) {
		subject, ok := requireVersionAdmin(r, w, deps)
		if !ok {
			return
		}
		versionID := chi.URLParam(r, "version_id")
		endpoint := fmt.Sprintf("POST /tve/versions/%s:archive", versionID)
		if replayVersionAdminIdempotency(r, w, deps, subject, endpoint) {
			return
		}
		v, err := deps.engine.Archive(r.Context(), subject.ActorID, versionID)
		if err != nil {
			writeEngineError(w, r, deps.log, err)
			return
		}
		resp := map[string]any{
			"request_id": httpx.RequestIDFrom(r.Context()),
			"version":    v,
		}
		saveVersionAdminIdempotencyAndWrite(r, w, deps, subject, endpoint, 200, resp)
	})

	api.Post("/versions/{version_id}:schedulePublish", func(w http.ResponseWriter, r *http.Request) {
		subject, ok := requireVersionAdmin(r, w, deps)
		if !ok {
			return
		}
		versionID := chi.URLParam(r, "version_id")
		var req schedulePublishRequest
		if !readJSONWithLimit(w, r, deps.cfg.MaxBodyBytes, &req) {
			return
		}
		if req.PublishAt.IsZero() {
			httpx.WriteError(r.Context(), w, 400, "BAD_REQUEST", "publish_at is required", nil)
			return
		}
		v, err := deps.engine.SchedulePublish(r.Context(), subject.ActorID, versionID, req.PublishAt)
		if err != nil {
			writeEngineError(w, r, deps.log, err)
			return
		}
		httpx.WriteJSON(w, 200, map[string]any{
			"request_id": httpx.RequestIDFrom(r.Context()),
			"version":    v,
		})
	})

	api.Post("/versions/{version_id}:scheduleArchive", func(w http.ResponseWriter, r *http.Request) {
		subject, ok := requireVersionAdmin(r, w, deps)
		if !ok {
			return
		}
		versionID := chi.URLParam(r, "version_id")
		var req scheduleArchiveRequest
		if !readJSONWithLimit(w, r, deps.cfg.MaxBodyBytes, &req) {
			return
		}
		if req.ArchiveAt.IsZero() {
			httpx.WriteError(r.Context(), w, 400, "BAD_REQUEST", "archive_at is required", nil)
			return
		}
		v, err := deps.engine.ScheduleArchive(r.Context(), subject.ActorID, versionID, req.ArchiveAt)
		if err != nil {
			writeEngineError(w, r, deps.log, err)
			return
		}
		httpx.WriteJSON(w, 200, map[string]any{
			"request_id": httpx.RequestIDFrom(r.Context()),
			"version":    v,
		})
	})

	api.Post("/versions/{version_id}:cancelSchedule", func(w http.ResponseWriter, r *http.Request) {
		subject, ok := requireVersionAdmin(r, w, deps)
		if !ok {
			return
		}
		versionID := chi.URLParam(r, "version_id")
		var req cancelScheduleRequest
		if !readJSONWithLimit(w, r, deps.cfg.MaxBodyBytes, &req) {
			return
		}
		kind := domain.ScheduleKind(strings.ToUpper(strings.TrimSpace(req.Transition)))
		if !kind.IsValid() {
			httpx.WriteError(r.Context(), w, 400, "BAD_REQUEST", "transition must be PUBLISH or ARCHIVE", nil)
			return
		}
		v, err := deps.engine.CancelSchedule(r.Context(), subject.ActorID, versionID, kind)
		if err != nil {
			writeEngineError(w, r, deps.log, err)
			return
		}
		httpx.WriteJSON(w, 200, map[string]any{
			"request_id": httpx.RequestIDFrom(r.Context()),
			"version":    v,
		})
	})

	api.Post("/versions/{version_id}:clone", func(w http.ResponseWriter, r *http.Request) {
		subject, ok := requireVersionAdmin(r, w, deps)
		if !ok {
			return
		}
		sourceVersionID := chi.URLParam(r, "version_id")
		endpoint := fmt.Sprintf("POST /tve/versions/%s:clone", sourceVersionID)
		if replayVersionAdminIdempotency(r, w, deps, subject, endpoint) {
			return
		}
		v, err := deps.engine.CloneVersion(r.Context(), subject.ActorID, sourceVersionID)
		if err != nil {
			writeEngineError(w, r, deps.log, err)
			return
		}
		resp := map[string]any{
			"request_id":        httpx.RequestIDFrom(r.Context()),
			"version":           v,
			"source_version_id": sourceVersionID,
		}
		saveVersionAdminIdempotencyAndWrite(r, w, deps, subject, endpoint, 201, resp)
	})

	api.Post("/versions/{version_id}/injectables", func(w http.ResponseWriter, r *http.Request) {
		subject, ok := requireVersionAdmin(r, w, deps)
		if !ok {
			return
		}
		versionID := chi.URLParam(r, "version_id")
		var req addInjectableRequest
		if !readJSONWithLimit(w, r, deps.cfg.MaxBodyBytes, &req) {
			return
		}
		inj, err := deps.engine.AddInjectable(r.Context(), subject.ActorID, versionID, domain.Injectable{
			Key:          req.Key,
			Label:        req.Label,
			Type:         domain.InjectableType(strings.ToUpper(strings.TrimSpace(req.Type))),
			Required:     req.Required,
			DefaultValue: req.DefaultValue,
			Constraints:  req.Constraints,
		})
		if err != nil {
			writeEngineError(w, r, deps.log, err)
			return
		}
		httpx.WriteJSON(w, 201, map[string]any{
			"request_id": httpx.RequestIDFrom(r.Context()),
			"injectable": inj,
		})
	})

	api.Delete("/versions/{version_id}/injectables/{key}", func(w http.ResponseWriter, r *http.Request) {
		subject, ok := requireVersionAdmin(r, w, deps)
		if !ok {
			return
		}
		versionID := chi.URLParam(r, "version_id")
		key := chi.URLParam(r, "key")
		if err := deps.engine.RemoveInjectable(r.Context(), subject.ActorID, versionID, key); err != nil {
			writeEngineError(w, r, deps.log, err)
			return
		}
		httpx.WriteJSON(w, 200, map[string]any{
			"request_id": httpx.RequestIDFrom(r.Context()),
			"version_id": versionID,
			"key":        key,
			"removed":    true,
		})
	})

	api.Post("/versions/{version_id}/signer-roles", func(w http.ResponseWriter, r *http.Request) {
		subject, ok := requireVersionAdmin(r, w, deps)
		if !ok {
			return
		}
		versionID := chi.URLParam(r, "version_id")
		var req addSignerRoleRequest
		if !readJSONWithLimit(w, r, deps.cfg.MaxBodyBytes, &req) {
			return
		}
		role, err := deps.engine.AddSignerRole(r.Context(), subject.ActorID, versionID, req.RoleName, req.AnchorString, req.SignerOrder)
		if err != nil {
			writeEngineError(w, r, deps.log, err)
			return
		}
		httpx.WriteJSON(w, 201, map[string]any{
			"request_id":  httpx.RequestIDFrom(r.Context()),
			"signer_role": role,
		})
	})

	api.Post("/versions/{version_id}/signer-roles/{role_name}:reorder", func(w http.ResponseWriter, r *http.Request) {
		subject, ok := requireVersionAdmin(r, w, deps)
		if !ok {
			return
		}
		versionID := chi.URLParam(r, "version_id")
		roleName := chi.URLParam(r, "role_name")
		var req reorderSignerRoleRequest
		if !readJSONWithLimit(w, r, deps.cfg.MaxBodyBytes, &req) {
			return
		}
		roles, err := deps.engine.ReorderSignerRole(r.Context(), subject.ActorID, versionID, roleName, req.NewOrder)
		if err != nil {
			writeEngineError(w, r, deps.log, err)
			return
		}
		httpx.WriteJSON(w, 200, map[string]any{
			"request_id":   httpx.RequestIDFrom(r.Context()),
			"signer_roles": roles,
		})
	})

	api.Post("/versions/{version_id}:assemble", func(w http.ResponseWriter, r *http.Request) {
		subject, ok := requireVersionAdmin(r, w, deps)
		if !ok {
			return
		}
		if !enforceRateLimit(w, r, deps.limiter) {
			return
		}
		versionID := chi.URLParam(r, "version_id")
		var req assembleRequest
		if !readJSONWithLimit(w, r, deps.cfg.MaxBodyBytes, &req) {
			return
		}
		snap, err := deps.engine.Assemble(r.Context(), subject.ActorID, versionID, req.Values)
		if err != nil {
			writeEngineError(w, r, deps.log, err)
			return
		}
		if deps.cache != nil {
			if err := deps.cache.Put(r.Context(), snap); err != nil {
				deps.log.Warn("snapshot cache write failed",
					zap.String("snapshot_id", snap.SnapshotID), zap.Error(err))
			}
		}
		if deps.sign != nil {
			if _, err := deps.sign.NotifySnapshotReady(r.Context(), signclient.FromSnapshot(snap), signAuthHeader(deps.cfg)); err != nil {
				deps.log.Warn("snapshot ready notification failed",
					zap.String("snapshot_id", snap.SnapshotID), zap.Error(err))
			}
		}
		httpx.WriteJSON(w, 201, map[string]any{
			"request_id": httpx.RequestIDFrom(r.Context()),
			"snapshot":   snap,
		})
	})

	api.Get("/snapshots/{snapshot_id}", func(w http.ResponseWriter, r *http.Request) {
		_, ok := requireVersionAdmin(r, w, deps)
		if !ok {
			return
		}
		if deps.cache == nil {
			httpx.WriteError(r.Context(), w, 503, "SNAPSHOTS_DISABLED", "snapshot cache is not configured", nil)
			return
		}
		snapshotID := chi.URLParam(r, "snapshot_id")
		snap, err := deps.cache.Get(r.Context(), snapshotID)
		if err != nil {
			if errors.Is(err, snapcache.ErrMiss) {
				httpx.WriteError(r.Context(), w, 404, "NOT_FOUND", "snapshot expired or unknown", nil)
				return
			}
			httpx.WriteError(r.Context(), w, 500, "CACHE_ERROR", err.Error(), nil)
			return
		}
		httpx.WriteJSON(w, 200, map[string]any{
			"request_id": httpx.RequestIDFrom(r.Context()),
			"snapshot":   snap,
		})
	})

	api.Get("/versions/{version_id}/events", func(w http.ResponseWriter, r *http.Request) {
		_, ok := requireVersionAdmin(r, w, deps)
		if !ok {
			return
		}
		versionID := chi.URLParam(r, "version_id")
		events, err := deps.engine.ListEvents(r.Context(), versionID)
		if err != nil {
			writeEngineError(w, r, deps.log, err)
			return
		}
		httpx.WriteJSON(w, 200, map[string]any{
			"request_id": httpx.RequestIDFrom(r.Context()),
			"events":     events,
		})
	})
}

func requireVersionAdmin(r *http.Request, w http.ResponseWriter, deps versionAdminDeps) (*authn.Subject, bool) {
	cfg := deps.cfg
	if !cfg.EnableVersionAdminAPI {
		httpx.WriteError(r.Context(), w, 404, "NOT_FOUND", "not found", nil)
		return nil, false
	}
	mode := strings.ToLower(strings.TrimSpace(cfg.VersionAdminAuthMode))
	if mode == "" {
		mode = "bootstrap"
	}
	switch mode {
	case "bootstrap":
		token := strings.TrimSpace(cfg.VersionAdminBootstrapToken)
		if token == "" {
			httpx.WriteError(r.Context(), w, 503, "ADMIN_DISABLED", "version admin is not configured", nil)
			return nil, false
		}
		authz := strings.TrimSpace(r.Header.Get("Authorization"))
		if authz == "" || !strings.HasPrefix(authz, "Bearer ") {
			httpx.WriteError(r.Context(), w, 401, "UNAUTHORIZED", "admin authentication required", nil)
			return nil, false
		}
		got := strings.TrimSpace(strings.TrimPrefix(authz, "Bearer "))
		if got != token {
			httpx.WriteError(r.Context(), w, 403, "FORBIDDEN", "invalid admin credentials", nil)
			return nil, false
		}
		return &authn.Subject{ActorID: "act_bootstrap"}, true
	case "credential":
		subject, err := authenticateBearerFn(r.Context(), deps.pool, r.Header.Get("Authorization"))
		if err != nil {
			if errors.Is(err, authn.ErrUnauthorized) {
				logAuthFailureFn(r.Context(), deps.pool, "tve", r.Method+" "+r.URL.Path, "", "", "INVALID_TOKEN", nil)
				httpx.WriteError(r.Context(), w, 401, "UNAUTHORIZED", "admin authentication required", nil)
				return nil, false
			}
			httpx.WriteError(r.Context(), w, 500, "DB_ERROR", err.Error(), nil)
			return nil, false
		}
		if !authn.HasScope(subject.Scopes, "tve.admin:versions") {
			logAuthFailureFn(r.Context(), deps.pool, "tve", r.Method+" "+r.URL.Path, subject.WorkspaceID, subject.ActorID, "MISSING_SCOPE", nil)
			httpx.WriteError(r.Context(), w, 403, "FORBIDDEN", "missing required scope", nil)
			return nil, false
		}
		return subject, true
	default:
		httpx.WriteError(r.Context(), w, 503, "ADMIN_DISABLED", "version admin auth mode is not configured", nil)
		return nil, false
	}
}

// effectiveWorkspace prefers the authenticated workspace; bootstrap admins
// carry none and must name one in the request.
func effectiveWorkspace(subject *authn.Subject, requested string) string {
	if subject.WorkspaceID != "" {
		return subject.WorkspaceID
	}
	return strings.TrimSpace(requested)
}

func replayVersionAdminIdempotency(r *http.Request, w http.ResponseWriter, deps versionAdminDeps, subject *authn.Subject, endpoint string) bool {
	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if key == "" {
		httpx.WriteError(r.Context(), w, 400, "MISSING_IDEMPOTENCY_KEY", "Idempotency-Key header is required", nil)
		return true
	}
	scope := idempotency.Scope{WorkspaceID: subject.WorkspaceID, ActorID: subject.ActorID, IdempotencyKey: key}
	status, body, replayed, err := idempotency.Replay(r.Context(), deps.idem, scope, endpoint)
	if err != nil {
		httpx.WriteError(r.Context(), w, 500, "DB_ERROR", err.Error(), nil)
		return true
	}
	if replayed {
		httpx.WriteJSON(w, status, body)
		return true
	}
	return false
}

func saveVersionAdminIdempotencyAndWrite(r *http.Request, w http.ResponseWriter, deps versionAdminDeps, subject *authn.Subject, endpoint string, status int, response map[string]any) {
	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	scope := idempotency.Scope{WorkspaceID: subject.WorkspaceID, ActorID: subject.ActorID, IdempotencyKey: key}
	if err := idempotency.Save(r.Context(), deps.idem, scope, endpoint, status, response); err != nil {
		httpx.WriteError(r.Context(), w, 500, "DB_ERROR", err.Error(), nil)
		return
	}
	httpx.WriteJSON(w, status, response)
}

func writeEngineError(w http.ResponseWriter, r *http.Request, log *zap.Logger, err error) {
	ctx := r.Context()
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		httpx.WriteError(ctx, w, 422, "VALIDATION_FAILED", "validation failed", verr.Issues)
	case errors.Is(err, domain.ErrForbidden):
		httpx.WriteError(ctx, w, 403, "FORBIDDEN", err.Error(), nil)
	case errors.Is(err, domain.ErrVersionNotFound),
		errors.Is(err, domain.ErrInjectableNotFound),
		errors.Is(err, domain.ErrRoleNotFound):
		httpx.WriteError(ctx, w, 404, "NOT_FOUND", err.Error(), nil)
	case errors.Is(err, domain.ErrNoScheduleSet):
		httpx.WriteError(ctx, w, 409, "NO_SCHEDULE_SET", err.Error(), nil)
	case errors.Is(err, domain.ErrInvalidState):
		httpx.WriteError(ctx, w, 409, "INVALID_STATE", err.Error(), nil)
	case errors.Is(err, domain.ErrDuplicateKey),
		errors.Is(err, domain.ErrDuplicateRoleName),
		errors.Is(err, domain.ErrDuplicateAnchor),
		errors.Is(err, domain.ErrDuplicateOrder):
		httpx.WriteError(ctx, w, 409, "CONFLICT", err.Error(), nil)
	case errors.Is(err, domain.ErrInvalidSchedule):
		httpx.WriteError(ctx, w, 422, "INVALID_SCHEDULE", err.Error(), nil)
	case errors.Is(err, domain.ErrEmptySequence),
		errors.Is(err, domain.ErrNonContiguousOrder):
		httpx.WriteError(ctx, w, 422, "VALIDATION_FAILED", err.Error(), nil)
	default:
		log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		httpx.WriteError(ctx, w, 500, "INTERNAL", "internal error", nil)
	}
}

func readJSONWithLimit(w http.ResponseWriter, r *http.Request, maxBytes int64, dst any) bool {
	if maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	}
	if err := httpx.ReadJSON(r, dst); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "request body too large") {
			httpx.WriteError(r.Context(), w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "request body too large", nil)
			return false
		}
		httpx.WriteError(r.Context(), w, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON", nil)
		return false
	}
	return true
}

func signAuthHeader(cfg serverConfig) string {
	if cfg.SignAuthToken == "" {
		return ""
	}
	return "Bearer " + cfg.SignAuthToken
}

type fixedWindowLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	byKey  map[string]windowState
	now    func() time.Time
}

type windowState struct {
	start time.Time
	count int
}

func newFixedWindowLimiter(limit int, window time.Duration) *fixedWindowLimiter {
	return &fixedWindowLimiter{
		limit:  limit,
		window: window,
		byKey:  map[string]windowState{},
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (l *fixedWindowLimiter) Allow(key string) bool {
	if l == nil || l.now == nil {
		return l.AllowAt(key, time.Now().UTC())
	}
	return l.AllowAt(key, l.now())
}

func (l *fixedWindowLimiter) AllowAt(key string, now time.Time) bool {
	if l == nil || l.limit <= 0 {
		return true
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "anonymous"
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	cur := l.byKey[key]
	if cur.start.IsZero() || now.Sub(cur.start) >= l.window {
		l.byKey[key] = windowState{start: now, count: 1}
		return true
	}
	if cur.count >= l.limit {
		return false
	}
	cur.count++
	l.byKey[key] = cur
	return true
}

func rateLimitKey(r *http.Request) string {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if auth != "" {
		return auth
	}
	return strings.TrimSpace(r.RemoteAddr)
}

func enforceRateLimit(w http.ResponseWriter, r *http.Request, limiter *fixedWindowLimiter) bool {
	if limiter == nil || limiter.limit <= 0 {
		return true
	}
	if limiter.Allow(rateLimitKey(r)) {
		return true
	}
	httpx.WriteError(r.Context(), w, http.StatusTooManyRequests, "RATE_LIMITED", "rate limit exceeded", nil)
	return false
}
