package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Response codes surfaced to callers for each failure class.
const (
	CodeOK            = "ok"
	CodeNotFound      = "not_found"
	CodeMissingSlot   = "missing_slot"
	CodeValidation    = "validation_failed"
	CodePrecondition  = "precondition_failed"
	CodeStore         = "store_error"
	CodeUnknownIntent = "unknown_intent"
)

// NotFoundError reports an id or name that does not resolve.
type NotFoundError struct {
	Type EntityType
	ID   string
}

func (e NotFoundError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("%s not found", e.ID)
	}
	return fmt.Sprintf("%s %s not found", e.Type, e.ID)
}

// MissingSlotError reports a parameter absent after extraction.
type MissingSlotError struct {
	Slot string
	Hint string
}

func (e MissingSlotError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("missing %s: %s", e.Slot, e.Hint)
	}
	return fmt.Sprintf("missing %s", e.Slot)
}

// ValidationError reports malformed user input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return "invalid input: " + e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// PreconditionError reports a business rule rejecting a mutation before any write.
type PreconditionError struct {
	Reason string
}

func (e PreconditionError) Error() string { return e.Reason }

// StoreError wraps a failure of the backing repository.
type StoreError struct {
	Op     string
	Entity EntityType
	ID     string
	Err    error
}

func (e *StoreError) Error() string {
	target := strings.TrimSpace(string(e.Entity) + " " + e.ID)
	if target == "" {
		return fmt.Sprintf("store %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("store %s %s: %v", e.Op, target, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// NewStoreError wraps err unless it is nil or already a StoreError.
func NewStoreError(op string, entity EntityType, id string, err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return &StoreError{Op: op, Entity: entity, ID: id, Err: err}
}

// Code maps an error to its response code.
func Code(err error) string {
	if err == nil {
		return CodeOK
	}
	var (
		nf NotFoundError
		ms MissingSlotError
		ve ValidationError
		pe PreconditionError
	)
	switch {
	case errors.As(err, &nf):
		return CodeNotFound
	case errors.As(err, &ms):
		return CodeMissingSlot
	case errors.As(err, &ve):
		return CodeValidation
	case errors.As(err, &pe):
		return CodePrecondition
	}
	return CodeStore
}

// Message renders err as user-facing text.
func Message(err error) string {
	if err == nil {
		return ""
	}
	switch Code(err) {
	case CodeNotFound:
		return "Not found: " + err.Error() + "."
	case CodeMissingSlot:
		return "I need more detail: " + err.Error() + "."
	case CodeValidation:
		return "Validation error: " + err.Error() + "."
	case CodePrecondition:
		return "Rejected: " + err.Error() + "."
	}
	return "The fleet store failed: " + err.Error() + ". Nothing else was changed; please retry."
}
