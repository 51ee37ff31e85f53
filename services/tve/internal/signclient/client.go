package signclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"templane/pkg/domain"
)

// Client notifies the signing service that an assembled snapshot is ready
// for envelope creation.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func New(baseURL string) *Client {
	return &Client{BaseURL: baseURL, HTTP: &http.Client{}}
}

type SnapshotReadyRequest struct {
	SnapshotID    string       `json:"snapshot_id"`
	VersionID     string       `json:"version_id"`
	TemplateID    string       `json:"template_id"`
	WorkspaceID   string       `json:"workspace_id"`
	VersionNumber int          `json:"version_number"`
	ContentHash   string       `json:"content_hash"`
	ValuesHash    string       `json:"values_hash"`
	SignerRoles   []SignerRole `json:"signer_roles"`
}

type SignerRole struct {
	RoleName     string `json:"role_name"`
	AnchorString string `json:"anchor_string"`
	SignerOrder  int    `json:"signer_order"`
}

type SnapshotReadyResponse struct {
	EnvelopeID string `json:"envelope_id"`
	Status     string `json:"status"`
}

// FromSnapshot maps an assembly snapshot onto the wire request. Roles keep
// their signing order as stored on the snapshot.
func FromSnapshot(snap *domain.AssemblySnapshot) SnapshotReadyRequest {
	req := SnapshotReadyRequest{
		SnapshotID:    snap.SnapshotID,
		VersionID:     snap.VersionID,
		TemplateID:    snap.TemplateID,
		WorkspaceID:   snap.WorkspaceID,
		VersionNumber: snap.VersionNumber,
		ContentHash:   snap.ContentHash,
		ValuesHash:    snap.ValuesHash,
	}
	for _, r := range snap.SignerRoles {
		req.SignerRoles = append(req.SignerRoles, SignerRole{
			RoleName:     r.RoleName,
			AnchorString: r.AnchorString,
			SignerOrder:  r.SignerOrder,
		})
	}
	return req
}

func (c *Client) NotifySnapshotReady(ctx context.Context, req SnapshotReadyRequest, authorization string) (*SnapshotReadyResponse, error) {
	b, _ := json.Marshal(req)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/signing/snapshots/%s:ready", c.BaseURL, req.SnapshotID), bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("content-type", "application/json")
	if authorization != "" {
		httpReq.Header.Set("Authorization", authorization)
	}
	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("signing service returned %d", resp.StatusCode)
	}
	var out SnapshotReadyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}
