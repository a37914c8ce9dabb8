/*
errors.go - Centralized error types for the leave engine

PURPOSE:
  All error kinds in one place for consistency and discoverability.
  The leave package wraps these with row/field context; the api package maps
  them to HTTP status codes.

ERROR CATEGORIES:
  1. Configuration errors - malformed policy, abort the whole batch
  2. Row validation errors - one bad employee/CSV row, batch continues
  3. Persistence errors - repository failures, surfaced without retry
  4. Duplicate grants - not a failure; consumed by skip logic

USAGE:
  if errors.Is(err, generic.ErrConfiguration) {
      // fix the policy before re-running
  }

SEE ALSO:
  - leave/commit.go: Counts ErrDuplicateGrant as skipped
  - api/handlers.go: statusFor() maps kinds to HTTP status
*/
package generic

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrConfiguration marks a policy that cannot drive a grant run.
	ErrConfiguration = errors.New("invalid policy configuration")

	// ErrRowValidation marks a single bad input row.
	ErrRowValidation = errors.New("invalid row")

	// ErrPersistence marks a failed repository call.
	ErrPersistence = errors.New("persistence failure")

	// ErrPolicyNotFound is returned when no active policy exists for (company, leave type).
	ErrPolicyNotFound = errors.New("policy not found")

	// ErrDuplicateGrant is returned by repositories when the unique key
	// (user_id, leave_type_id, granted_on, source) already exists.
	ErrDuplicateGrant = errors.New("duplicate grant")

	// ErrRunInProgress is returned when another grant run holds the same key.
	ErrRunInProgress = errors.New("grant run already in progress")

	// ErrInvalidPatch is returned when a policy patch fails validation.
	ErrInvalidPatch = errors.New("invalid policy patch")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ConfigurationError names the policy field that is unusable.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid policy configuration: %s: %s", e.Field, e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return ErrConfiguration }

// RowError describes a rejected input row. Line is 1-based and counts the
// CSV header; it is zero for non-CSV inputs.
type RowError struct {
	Line   int
	UserID string
	Reason string
}

func (e *RowError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s", e.Line, e.Reason)
	}
	if e.UserID != "" {
		return fmt.Sprintf("user %s: %s", e.UserID, e.Reason)
	}
	return e.Reason
}

func (e *RowError) Unwrap() error { return ErrRowValidation }

// PersistenceError wraps a repository failure with the operation name.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() []error { return []error{ErrPersistence, e.Err} }

// Persistence wraps err unless it is nil or already classified.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}

// FieldErrors maps field names to validation messages.
type FieldErrors map[string]string

func (e FieldErrors) Error() string {
	keys := make([]string, 0, len(e))
	for k := range e {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + ": " + e[k]
	}
	return "invalid policy patch: " + strings.Join(parts, "; ")
}

func (e FieldErrors) Unwrap() error { return ErrInvalidPatch }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if re-running the same call may succeed.
// Grant runs are safe to repeat because of duplicate detection.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrPersistence) || errors.Is(err, ErrRunInProgress)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrConfiguration) ||
		errors.Is(err, ErrRowValidation) ||
		errors.Is(err, ErrInvalidPatch)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPolicyNotFound)
}
