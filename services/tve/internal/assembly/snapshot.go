package assembly

import (
	"encoding/json"
	"time"

	"templane/pkg/canonhash"
	"templane/pkg/domain"
)

// Build materializes the immutable snapshot handed to the signing flow from a
// published version and its resolved values. Inputs are copied so later
// mutation of the version or role slice cannot leak into a snapshot already
// handed out. Signer roles are ordered by signer_order ascending; the signing
// flow solicits signatures strictly in that order.
func Build(v *domain.TemplateVersion, resolved map[string]string, roles []domain.SignerRole, at time.Time) (*domain.AssemblySnapshot, error) {
	valuesHash, err := HashResolvedValues(resolved)
	if err != nil {
		return nil, err
	}

	ordered := append([]domain.SignerRole(nil), roles...)
	domain.SortSignerRoles(ordered)

	values := make(map[string]string, len(resolved))
	for k, val := range resolved {
		values[k] = val
	}
	content := append(json.RawMessage(nil), v.Content...)

	return &domain.AssemblySnapshot{
		SnapshotID:     domain.NewSnapshotID(),
		VersionID:      v.ID,
		TemplateID:     v.TemplateID,
		WorkspaceID:    v.WorkspaceID,
		VersionNumber:  v.VersionNumber,
		Content:        content,
		ResolvedValues: values,
		SignerRoles:    ordered,
		ContentHash:    HashContent(content),
		ValuesHash:     valuesHash,
		AssembledAt:    at.UTC(),
	}, nil
}

// HashContent fingerprints the content structure as stored. Content is opaque
// to the engine; the hash covers the exact bytes the snapshot carries.
func HashContent(content json.RawMessage) string {
	return canonhash.Sum(content)
}

// HashResolvedValues fingerprints the resolved value map over its canonical
// JSON form, so key order in the source map never changes the hash.
func HashResolvedValues(values map[string]string) (string, error) {
	hash, _, err := canonhash.SumObject(values)
	return hash, err
}
