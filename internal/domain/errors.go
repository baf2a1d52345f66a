package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrNotFound is returned when a record does not exist in the store.
	ErrNotFound = errors.New("record not found")
	// ErrUserNotFound is returned when an operation references an unknown user.
	ErrUserNotFound = fmt.Errorf("user: %w", ErrNotFound)
	// ErrSurveyNotFound indicates the survey definition could not be loaded.
	ErrSurveyNotFound = fmt.Errorf("survey: %w", ErrNotFound)
	// ErrConsentRequired is returned when a minor registers without explicit consent.
	ErrConsentRequired = errors.New("consent required for users under 18")
	// ErrSchemaMismatch marks submissions that reference an unknown survey or question id.
	ErrSchemaMismatch = errors.New("schema mismatch")
	// ErrContractViolation marks defects: data that skipped validation reached a component
	// that relies on it.
	ErrContractViolation = errors.New("contract violation")
	// ErrUnsupportedColumn is returned by tabular import when unknown columns are rejected.
	ErrUnsupportedColumn = errors.New("unsupported column")
	// ErrLockTimeout indicates a per-id lock could not be acquired in time.
	ErrLockTimeout = errors.New("lock timeout")
)

// Code is a stable machine-readable error category.
type Code string

const (
	CodeValidation         Code = "validation"
	CodeConsentRequired    Code = "consent_required"
	CodeSchemaMismatch     Code = "schema_mismatch"
	CodeNotFound           Code = "not_found"
	CodeStorageConsistency Code = "storage_consistency"
	CodeFormatRoundTrip    Code = "format_round_trip"
	CodeContractViolation  Code = "contract_violation"
	CodeInternal           Code = "internal"
)

// Field failure codes carried by FieldError.
const (
	FieldInvalid         = "invalid"
	FieldDuplicate       = "duplicate"
	FieldConsentRequired = "consent_required"
	FieldMissing         = "missing"
	FieldUnknownQuestion = "unknown_question"
	FieldWrongType       = "wrong_type"
	FieldOutOfRange      = "out_of_range"
	FieldNotAnOption     = "not_an_option"
	FieldEmptySelection  = "empty_selection"
)

// FieldError is a single rejected field or question.
type FieldError struct {
	Field  string `json:"field"`
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

// ValidationError collects every field failure of a rejected input.
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Reason)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Code() Code {
	if e.has(FieldConsentRequired) {
		return CodeConsentRequired
	}
	if e.has(FieldUnknownQuestion) {
		return CodeSchemaMismatch
	}
	return CodeValidation
}

func (e *ValidationError) Reason() string {
	if len(e.Fields) == 1 {
		return e.Fields[0].Reason
	}
	return fmt.Sprintf("%d fields were rejected", len(e.Fields))
}

// Is lets callers test for the dedicated consent and schema conditions with errors.Is.
func (e *ValidationError) Is(target error) bool {
	switch target {
	case ErrConsentRequired:
		return e.has(FieldConsentRequired)
	case ErrSchemaMismatch:
		return e.has(FieldUnknownQuestion)
	}
	return false
}

// Offending returns the sorted field names that failed with the given code.
func (e *ValidationError) Offending(code string) []string {
	var out []string
	for _, f := range e.Fields {
		if f.Code == code {
			out = append(out, f.Field)
		}
	}
	sort.Strings(out)
	return out
}

func (e *ValidationError) has(code string) bool {
	for _, f := range e.Fields {
		if f.Code == code {
			return true
		}
	}
	return false
}

// SchemaMismatchError means the caller is working from a stale or unknown survey definition.
type SchemaMismatchError struct {
	SurveyID string
	Err      error
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("schema mismatch for survey %q: %v", e.SurveyID, e.Err)
}

func (e *SchemaMismatchError) Unwrap() error { return e.Err }

func (e *SchemaMismatchError) Is(target error) bool { return target == ErrSchemaMismatch }

func (e *SchemaMismatchError) Code() Code { return CodeSchemaMismatch }

func (e *SchemaMismatchError) Reason() string {
	return "This survey is no longer available in this version, please reload it."
}

// StorageConsistencyError reports a failed atomic write or a write conflict. Callers may retry.
type StorageConsistencyError struct {
	Op   string
	Kind string
	ID   string
	Err  error
}

func (e *StorageConsistencyError) Error() string {
	return fmt.Sprintf("storage %s %s/%s: %v", e.Op, e.Kind, e.ID, e.Err)
}

func (e *StorageConsistencyError) Unwrap() error { return e.Err }

func (e *StorageConsistencyError) Code() Code { return CodeStorageConsistency }

func (e *StorageConsistencyError) Reason() string {
	return "Your answers could not be saved right now, please try again."
}

// FormatRoundTripError reports a shape mismatch in tabular data.
type FormatRoundTripError struct {
	Line   int
	Column string
	Reason string
	Err    error
}

func (e *FormatRoundTripError) Error() string {
	msg := "tabular format"
	if e.Line > 0 {
		msg += fmt.Sprintf(" line %d", e.Line)
	}
	if e.Column != "" {
		msg += fmt.Sprintf(" column %q", e.Column)
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FormatRoundTripError) Unwrap() error { return e.Err }

func (e *FormatRoundTripError) Code() Code { return CodeFormatRoundTrip }

// ContractError wraps ErrContractViolation with the detail of the broken precondition.
func ContractError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrContractViolation, fmt.Sprintf(format, args...))
}

// Describe returns the error code and a human-readable reason suitable for display.
// Internal errors never leak their message.
func Describe(err error) (Code, string) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Code(), ve.Reason()
	}
	var sm *SchemaMismatchError
	if errors.As(err, &sm) {
		return sm.Code(), sm.Reason()
	}
	var sc *StorageConsistencyError
	if errors.As(err, &sc) {
		return sc.Code(), sc.Reason()
	}
	var fr *FormatRoundTripError
	if errors.As(err, &fr) {
		return fr.Code(), fr.Error()
	}
	switch {
	case errors.Is(err, ErrUserNotFound):
		return CodeNotFound, "User not found."
	case errors.Is(err, ErrNotFound):
		return CodeNotFound, "Not found."
	case errors.Is(err, ErrLockTimeout):
		return CodeStorageConsistency, "The service is busy, please try again."
	case errors.Is(err, ErrContractViolation):
		return CodeContractViolation, "Internal error."
	}
	return CodeInternal, "Internal error."
}
