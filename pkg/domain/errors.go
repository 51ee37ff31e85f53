package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// Lookup failures.
	ErrVersionNotFound    = errors.New("template version not found")
	ErrInjectableNotFound = errors.New("injectable not found")
	ErrRoleNotFound       = errors.New("signer role not found")

	// Lifecycle violations.
	ErrInvalidState    = errors.New("operation not allowed in current version state")
	ErrInvalidSchedule = errors.New("scheduled time must be strictly in the future")
	ErrNoScheduleSet   = errors.New("no pending schedule for this transition")
	ErrForbidden       = errors.New("actor is not permitted to perform this action")

	// Uniqueness violations within a version.
	ErrDuplicateKey      = errors.New("injectable key already defined on version")
	ErrDuplicateRoleName = errors.New("signer role name already defined on version")
	ErrDuplicateAnchor   = errors.New("anchor string already used on version")
	ErrDuplicateOrder    = errors.New("signer order already used on version")

	// Signer sequence violations.
	ErrEmptySequence      = errors.New("version has no signer roles")
	ErrNonContiguousOrder = errors.New("signer orders must be exactly 1..N")
)

type ValidationIssue struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationError aggregates every violation found by a validation pass.
// Callers collect all issues before returning so the caller sees the full
// picture in one round trip.
type ValidationError struct {
	Issues []ValidationIssue
}

func (e *ValidationError) Add(path, code, message string) {
	e.Issues = append(e.Issues, ValidationIssue{
		Path:    strings.TrimSpace(path),
		Code:    strings.TrimSpace(code),
		Message: strings.TrimSpace(message),
	})
}

func (e *ValidationError) HasIssues() bool { return len(e.Issues) > 0 }

func (e *ValidationError) Sort() {
	sort.Slice(e.Issues, func(i, j int) bool {
		if e.Issues[i].Path != e.Issues[j].Path {
			return e.Issues[i].Path < e.Issues[j].Path
		}
		if e.Issues[i].Code != e.Issues[j].Code {
			return e.Issues[i].Code < e.Issues[j].Code
		}
		return e.Issues[i].Message < e.Issues[j].Message
	})
}

func (e *ValidationError) Error() string {
	if len(e.Issues) == 0 {
		return "validation failed"
	}
	first := e.Issues[0]
	return fmt.Sprintf("validation failed at %s: %s", first.Path, first.Message)
}

// ErrOrNil finalizes a validation pass: sorted aggregate when issues exist,
// nil otherwise.
func (e *ValidationError) ErrOrNil() error {
	if e.HasIssues() {
		e.Sort()
		return e
	}
	return nil
}

type ValueError struct {
	Key    string
	Reason string
}

func (e *ValueError) Error() string {
	return fmt.Sprintf("injectable %q invalid: %s", e.Key, e.Reason)
}
