// Package templane is the Go client for the template version admin API:
// version lifecycle, injectable and signer-role registries, and assembly.
package templane

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const APIVersion = "v1"

type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Error is the decoded form of the API's error envelope.
type Error struct {
	StatusCode int
	ErrorCode  string
	Message    string
	RequestID  string
	Details    any
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("templane sdk error: status=%d code=%s message=%s", e.StatusCode, e.ErrorCode, e.Message)
}

type AuthStrategy interface {
	Apply(req *http.Request) error
}

// BearerAuth sends a static bearer token, matching both the bootstrap and
// credential admin auth modes.
type BearerAuth struct{ Token string }

func (a BearerAuth) Apply(req *http.Request) error {
	if strings.TrimSpace(a.Token) == "" {
		return errors.New("bearer token is required")
	}
	req.Header.Set("Authorization", "Bearer "+a.Token)
	return nil
}

type TemplateVersion struct {
	ID            string          `json:"id"`
	TemplateID    string          `json:"template_id"`
	WorkspaceID   string          `json:"workspace_id"`
	VersionNumber int             `json:"version_number"`
	Status        string          `json:"status"`
	Content       json.RawMessage `json:"content,omitempty"`

	ScheduledPublishAt *time.Time `json:"scheduled_publish_at,omitempty"`
	ScheduledArchiveAt *time.Time `json:"scheduled_archive_at,omitempty"`
	PublishedAt        *time.Time `json:"published_at,omitempty"`
	PublishedBy        *string    `json:"published_by,omitempty"`
	ArchivedAt         *time.Time `json:"archived_at,omitempty"`
	ArchivedBy         *string    `json:"archived_by,omitempty"`

	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type InjectableConstraint struct {
	AllowedValues []string `json:"allowed_values,omitempty"`
	MinNumber     *float64 `json:"min_number,omitempty"`
	MaxNumber     *float64 `json:"max_number,omitempty"`
	MaxLength     *int     `json:"max_length,omitempty"`
}

type Injectable struct {
	Key          string               `json:"key"`
	Label        string               `json:"label,omitempty"`
	Type         string               `json:"type"`
	Required     bool                 `json:"required"`
	DefaultValue *string              `json:"default_value,omitempty"`
	Constraints  InjectableConstraint `json:"constraints"`
}

type SignerRole struct {
	RoleName     string `json:"role_name"`
	AnchorString string `json:"anchor_string"`
	SignerOrder  int    `json:"signer_order"`
}

type VersionEvent struct {
	ID         string          `json:"id"`
	VersionID  string          `json:"version_id"`
	TemplateID string          `json:"template_id"`
	EventType  string          `json:"event_type"`
	Actor      string          `json:"actor"`
	Detail     json.RawMessage `json:"detail,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

type AssemblySnapshot struct {
	SnapshotID    string          `json:"snapshot_id"`
	VersionID     string          `json:"version_id"`
	TemplateID    string          `json:"template_id"`
	WorkspaceID   string          `json:"workspace_id"`
	VersionNumber int             `json:"version_number"`
	Content       json.RawMessage `json:"content"`

	ResolvedValues map[string]string `json:"resolved_values"`
	SignerRoles    []SignerRole      `json:"signer_roles"`

	ContentHash string    `json:"content_hash"`
	ValuesHash  string    `json:"values_hash"`
	AssembledAt time.Time `json:"assembled_at"`
}

// VersionDetail is a version together with its registries, as returned by
// GetVersion.
type VersionDetail struct {
	Version     TemplateVersion `json:"version"`
	Injectables []Injectable    `json:"injectables"`
	SignerRoles []SignerRole    `json:"signer_roles"`
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	auth       AuthStrategy
	retry      RetryConfig
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

func WithRetry(cfg RetryConfig) Option {
	return func(c *Client) { c.retry = cfg }
}

func NewClient(baseURL string, auth AuthStrategy, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		auth:       auth,
		retry:      RetryConfig{MaxAttempts: 3, BaseDelay: 200 * time.Millisecond, MaxDelay: 5 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.retry.MaxAttempts < 1 {
		c.retry.MaxAttempts = 1
	}
	if c.retry.BaseDelay <= 0 {
		c.retry.BaseDelay = 200 * time.Millisecond
	}
	if c.retry.MaxDelay <= 0 {
		c.retry.MaxDelay = 5 * time.Second
	}
	return c
}

func NewIdempotencyKey() string { return newNonce() }

func (c *Client) CreateVersion(ctx context.Context, templateID, workspaceID string, content json.RawMessage, idempotencyKey string) (*TemplateVersion, error) {
	if strings.TrimSpace(idempotencyKey) == "" {
		return nil, errors.New("idempotency key is required for createVersion")
	}
	body := map[string]any{"workspace_id": workspaceID}
	if len(content) > 0 {
		body["content"] = content
	}
	var out struct {
		Version *TemplateVersion `json:"version"`
	}
	path := "/tve/templates/" + url.PathEscape(templateID) + "/versions"
	if err := c.do(ctx, http.MethodPost, path, body, idempotencyKey, true, &out); err != nil {
		return nil, err
	}
	return out.Version, nil
}

func (c *Client) ListVersions(ctx context.Context, templateID string) ([]TemplateVersion, error) {
	var out struct {
		Versions []TemplateVersion `json:"versions"`
	}
	path := "/tve/templates/" + url.PathEscape(templateID) + "/versions"
	if err := c.do(ctx, http.MethodGet, path, nil, "", true, &out); err != nil {
		return nil, err
	}
	return out.Versions, nil
}

func (c *Client) GetVersion(ctx context.Context, versionID string) (*VersionDetail, error) {
	var out VersionDetail
	path := "/tve/versions/" + url.PathEscape(versionID)
	if err := c.do(ctx, http.MethodGet, path, nil, "", true, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Publish(ctx context.Context, versionID, idempotencyKey string) (*TemplateVersion, error) {
	return c.lifecycleAction(ctx, versionID, "publish", idempotencyKey)
}

func (c *Client) Archive(ctx context.Context, versionID, idempotencyKey string) (*TemplateVersion, error) {
	return c.lifecycleAction(ctx, versionID, "archive", idempotencyKey)
}

func (c *Client) Clone(ctx context.Context, versionID, idempotencyKey string) (*TemplateVersion, error) {
	return c.lifecycleAction(ctx, versionID, "clone", idempotencyKey)
}

func (c *Client) lifecycleAction(ctx context.Context, versionID, action, idempotencyKey string) (*TemplateVersion, error) {
	if strings.TrimSpace(idempotencyKey) == "" {
		return nil, fmt.Errorf("idempotency key is required for %s", action)
	}
	var out struct {
		Version *TemplateVersion `json:"version"`
	}
	path := "/tve/versions/" + url.PathEscape(versionID) + ":" + action
	if err := c.do(ctx, http.MethodPost, path, nil, idempotencyKey, true, &out); err != nil {
		return nil, err
	}
	return out.Version, nil
}

func (c *Client) SchedulePublish(ctx context.Context, versionID string, at time.Time) (*TemplateVersion, error) {
	return c.scheduleAction(ctx, versionID, "schedulePublish", map[string]any{"publish_at": at.UTC()})
}

func (c *Client) ScheduleArchive(ctx context.Context, versionID string, at time.Time) (*TemplateVersion, error) {
	return c.scheduleAction(ctx, versionID, "scheduleArchive", map[string]any{"archive_at": at.UTC()})
}

func (c *Client) CancelSchedule(ctx context.Context, versionID, transition string) (*TemplateVersion, error) {
	return c.scheduleAction(ctx, versionID, "cancelSchedule", map[string]any{"transition": transition})
}

func (c *Client) scheduleAction(ctx context.Context, versionID, action string, body map[string]any) (*TemplateVersion, error) {
	var out struct {
		Version *TemplateVersion `json:"version"`
	}
	path := "/tve/versions/" + url.PathEscape(versionID) + ":" + action
	if err := c.do(ctx, http.MethodPost, path, body, "", false, &out); err != nil {
		return nil, err
	}
	return out.Version, nil
}

func (c *Client) AddInjectable(ctx context.Context, versionID string, inj Injectable) (*Injectable, error) {
	var out struct {
		Injectable *Injectable `json:"injectable"`
	}
	path := "/tve/versions/" + url.PathEscape(versionID) + "/injectables"
	if err := c.do(ctx, http.MethodPost, path, inj, "", false, &out); err != nil {
		return nil, err
	}
	return out.Injectable, nil
}

func (c *Client) RemoveInjectable(ctx context.Context, versionID, key string) error {
	path := "/tve/versions/" + url.PathEscape(versionID) + "/injectables/" + url.PathEscape(key)
	return c.do(ctx, http.MethodDelete, path, nil, "", false, nil)
}

func (c *Client) AddSignerRole(ctx context.Context, versionID, roleName, anchorString string, order *int) (*SignerRole, error) {
	body := map[string]any{"role_name": roleName}
	if strings.TrimSpace(anchorString) != "" {
		body["anchor_string"] = anchorString
	}
	if order != nil {
		body["signer_order"] = *order
	}
	var out struct {
		SignerRole *SignerRole `json:"signer_role"`
	}
	path := "/tve/versions/" + url.PathEscape(versionID) + "/signer-roles"
	if err := c.do(ctx, http.MethodPost, path, body, "", false, &out); err != nil {
		return nil, err
	}
	return out.SignerRole, nil
}

func (c *Client) ReorderSignerRole(ctx context.Context, versionID, roleName string, newOrder int) ([]SignerRole, error) {
	var out struct {
		SignerRoles []SignerRole `json:"signer_roles"`
	}
	path := "/tve/versions/" + url.PathEscape(versionID) + "/signer-roles/" + url.PathEscape(roleName) + ":reorder"
	if err := c.do(ctx, http.MethodPost, path, map[string]any{"new_order": newOrder}, "", false, &out); err != nil {
		return nil, err
	}
	return out.SignerRoles, nil
}

func (c *Client) Assemble(ctx context.Context, versionID string, values map[string]string) (*AssemblySnapshot, error) {
	var out struct {
		Snapshot *AssemblySnapshot `json:"snapshot"`
	}
	path := "/tve/versions/" + url.PathEscape(versionID) + ":assemble"
	if err := c.do(ctx, http.MethodPost, path, map[string]any{"values": values}, "", false, &out); err != nil {
		return nil, err
	}
	return out.Snapshot, nil
}

func (c *Client) GetSnapshot(ctx context.Context, snapshotID string) (*AssemblySnapshot, error) {
	var out struct {
		Snapshot *AssemblySnapshot `json:"snapshot"`
	}
	path := "/tve/snapshots/" + url.PathEscape(snapshotID)
	if err := c.do(ctx, http.MethodGet, path, nil, "", true, &out); err != nil {
		return nil, err
	}
	return out.Snapshot, nil
}

func (c *Client) ListEvents(ctx context.Context, versionID string) ([]VersionEvent, error) {
	var out struct {
		Events []VersionEvent `json:"events"`
	}
	path := "/tve/versions/" + url.PathEscape(versionID) + "/events"
	if err := c.do(ctx, http.MethodGet, path, nil, "", true, &out); err != nil {
		return nil, err
	}
	return out.Events, nil
}

// do runs one API call. Only GETs and idempotency-keyed POSTs are retried;
// everything else gets a single attempt so a flaky network cannot double-apply
// a registry edit.
func (c *Client) do(ctx context.Context, method, path string, body any, idempotencyKey string, retryable bool, out any) error {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}
	attempts := 1
	if retryable {
		attempts = c.retry.MaxAttempts
	}
	for attempt := 1; attempt <= attempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(bodyBytes))
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", "templane-go-sdk/0.1.0 (api:"+APIVersion+")")
		if len(bodyBytes) > 0 {
			req.Header.Set("Content-Type", "application/json")
		}
		if idempotencyKey != "" {
			req.Header.Set("Idempotency-Key", idempotencyKey)
		}
		if c.auth != nil {
			if err := c.auth.Apply(req); err != nil {
				return err
			}
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < attempts {
				sleepWithBackoff(c.retry, attempt, "")
				continue
			}
			return err
		}
		respBody, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if out == nil || len(respBody) == 0 {
				return nil
			}
			return json.Unmarshal(respBody, out)
		}
		if shouldRetryStatus(resp.StatusCode) && attempt < attempts {
			sleepWithBackoff(c.retry, attempt, resp.Header.Get("Retry-After"))
			continue
		}
		return parseSDKError(resp.StatusCode, respBody)
	}
	return errors.New("unreachable")
}

func shouldRetryStatus(status int) bool {
	return status == 429 || status == 502 || status == 503 || status == 504
}

func sleepWithBackoff(cfg RetryConfig, attempt int, retryAfter string) {
	if strings.TrimSpace(retryAfter) != "" {
		if sec, err := strconv.Atoi(strings.TrimSpace(retryAfter)); err == nil {
			d := time.Duration(sec) * time.Second
			if d > cfg.MaxDelay {
				d = cfg.MaxDelay
			}
			time.Sleep(d)
			return
		}
	}
	max := float64(cfg.BaseDelay) * math.Pow(2, float64(attempt-1))
	if max > float64(cfg.MaxDelay) {
		max = float64(cfg.MaxDelay)
	}
	n, _ := rand.Int(rand.Reader, bigInt(int64(max)))
	time.Sleep(time.Duration(n.Int64()))
}

func parseSDKError(status int, body []byte) error {
	out := &Error{StatusCode: status}
	var envelope struct {
		RequestID string `json:"request_id"`
		Err       struct {
			Code    string `json:"code"`
			Message string `json:"message"`
			Details any    `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		out.Message = strings.TrimSpace(string(body))
		if out.Message == "" {
			out.Message = http.StatusText(status)
		}
		return out
	}
	out.RequestID = envelope.RequestID
	out.ErrorCode = envelope.Err.Code
	out.Message = envelope.Err.Message
	out.Details = envelope.Err.Details
	if out.Message == "" {
		out.Message = http.StatusText(status)
	}
	return out
}

func newNonce() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

func bigInt(v int64) *big.Int {
	if v <= 1 {
		v = 1
	}
	return big.NewInt(v)
}
