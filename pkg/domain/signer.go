package domain

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
)

// SignerRole binds a named signing participant to an anchor location in the
// version's content and to a position in the signing sequence. RoleName and
// AnchorString are each unique within a version; SignerOrder must form a
// dense 1..N sequence by publish time.
type SignerRole struct {
	RoleName     string    `json:"role_name"`
	AnchorString string    `json:"anchor_string"`
	SignerOrder  int       `json:"signer_order"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

var anchorStripRe = regexp.MustCompile(`[^a-z0-9_]+`)

// DeriveAnchor builds the default anchor locator for a role name, used when
// the caller does not supply one: "Legal Counsel" -> "__sig_legal_counsel__".
func DeriveAnchor(roleName string) string {
	s := strings.ToLower(strings.TrimSpace(roleName))
	s = strings.ReplaceAll(s, " ", "_")
	s = anchorStripRe.ReplaceAllString(s, "")
	s = strings.Trim(s, "_")
	if s == "" {
		s = "role"
	}
	return "__sig_" + s + "__"
}

// NextSignerOrder returns the order an appended role receives: one past the
// current maximum, starting at 1.
func NextSignerOrder(roles []SignerRole) int {
	max := 0
	for _, r := range roles {
		if r.SignerOrder > max {
			max = r.SignerOrder
		}
	}
	return max + 1
}

// SortSignerRoles orders roles by ascending SignerOrder, the order the
// signing flow solicits signatures in.
func SortSignerRoles(roles []SignerRole) {
	sort.Slice(roles, func(i, j int) bool { return roles[i].SignerOrder < roles[j].SignerOrder })
}

// ValidateSignerSequence enforces the publish-time sequence contract: at
// least one role, orders exactly {1..N} with no gaps or duplicates.
func ValidateSignerSequence(roles []SignerRole) error {
	if len(roles) == 0 {
		return ErrEmptySequence
	}
	orders := make([]int, 0, len(roles))
	for _, r := range roles {
		orders = append(orders, r.SignerOrder)
	}
	sort.Ints(orders)
	for i, o := range orders {
		if o != i+1 {
			return fmt.Errorf("%w: got %v", ErrNonContiguousOrder, orders)
		}
	}
	return nil
}

// ReindexSignerRoles moves roleName to newOrder and renumbers the whole list
// densely 1..N, shifting the roles between the old and new positions by one.
// The input orders need not be dense; the result always is. Returns the full
// role list with updated orders.
func ReindexSignerRoles(roles []SignerRole, roleName string, newOrder int) ([]SignerRole, error) {
	if newOrder < 1 || newOrder > len(roles) {
		verr := &ValidationError{}
		verr.Add("new_order", "ORDER_OUT_OF_RANGE", fmt.Sprintf("new_order must be within 1..%d, got %d", len(roles), newOrder))
		return nil, verr.ErrOrNil()
	}

	ordered := append([]SignerRole(nil), roles...)
	SortSignerRoles(ordered)

	from := -1
	for i, r := range ordered {
		if r.RoleName == roleName {
			from = i
			break
		}
	}
	if from == -1 {
		return nil, fmt.Errorf("%w: %s", ErrRoleNotFound, roleName)
	}

	moved := ordered[from]
	rest := append(ordered[:from:from], ordered[from+1:]...)
	out := make([]SignerRole, 0, len(ordered))
	out = append(out, rest[:newOrder-1]...)
	out = append(out, moved)
	out = append(out, rest[newOrder-1:]...)
	for i := range out {
		out[i].SignerOrder = i + 1
	}
	return out, nil
}
