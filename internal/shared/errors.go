package shared

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized indicates a missing or invalid bearer token.
	ErrUnauthorized = errors.New("unauthorized")
)

const genericFailureMessage = "Something went wrong, please try again."

// ValidationError reports a user-correctable input problem.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// ConflictError reports an operation that the current state of a record does not allow.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string {
	return e.Message
}

// IntegrityError reports a change rejected because other rows still reference the target.
type IntegrityError struct {
	Entity string
	Err    error
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("Cannot delete %s, it is referenced elsewhere.", e.Entity)
}

func (e *IntegrityError) Unwrap() error {
	return e.Err
}

// NotFoundError reports an operation targeting a nonexistent id.
type NotFoundError struct {
	Entity string
	ID     int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s #%d not found", e.Entity, e.ID)
}

// Is lets callers match NotFoundError against ErrNotFound.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// Invalid builds a ValidationError for field.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Conflict builds a ConflictError.
func Conflict(format string, args ...any) error {
	return &ConflictError{Message: fmt.Sprintf(format, args...)}
}

// NotFound builds a NotFoundError.
func NotFound(entity string, id int64) error {
	return &NotFoundError{Entity: entity, ID: id}
}

// TranslatePgError converts constraint violations into the ledger error taxonomy.
func TranslatePgError(err error, entity string) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "23503":
		return &IntegrityError{Entity: entity, Err: err}
	case "23505":
		return &ValidationError{Field: pgErr.ConstraintName, Message: fmt.Sprintf("A %s with the same %s already exists.", entity, constraintSubject(pgErr.ConstraintName))}
	}
	return err
}

func constraintSubject(constraint string) string {
	switch constraint {
	case "":
		return "value"
	case "uq_suppliers_name":
		return "name"
	case "uq_suppliers_phone":
		return "phone number"
	case "uq_suppliers_email":
		return "email address"
	case "uq_invoices_appointment":
		return "appointment"
	case "uq_invoices_number":
		return "invoice number"
	}
	return constraint
}

// UserSafeMessage returns the text that may be shown to the person who issued a command.
func UserSafeMessage(err error) string {
	if err == nil {
		return ""
	}
	var validation *ValidationError
	if errors.As(err, &validation) {
		return validation.Message
	}
	var conflict *ConflictError
	if errors.As(err, &conflict) {
		return conflict.Message
	}
	var integrity *IntegrityError
	if errors.As(err, &integrity) {
		return integrity.Error()
	}
	var missing *NotFoundError
	if errors.As(err, &missing) {
		return missing.Error()
	}
	if errors.Is(err, ErrUnauthorized) {
		return "Authentication required."
	}
	return genericFailureMessage
}
