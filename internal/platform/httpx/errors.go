// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/clinic-ledger/internal/shared"
)

// ErrForbidden is returned when the actor lacks a required permission.
var ErrForbidden = errors.New("forbidden")

// RespondError maps ledger errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	var (
		validation *shared.ValidationError
		conflict   *shared.ConflictError
		integrity  *shared.IntegrityError
		invalid    validator.ValidationErrors
		decode     *DecodeError
	)
	switch {
	case errors.As(err, &validation):
		FieldProblem(w, http.StatusUnprocessableEntity, "Validation Failed", validation.Message, validation.Field)
	case errors.As(err, &invalid):
		first := invalid[0]
		FieldProblem(w, http.StatusUnprocessableEntity, "Validation Failed", describeFieldError(first), first.Field())
	case errors.As(err, &decode):
		Problem(w, http.StatusBadRequest, "Bad Request", decode.Error())
	case errors.As(err, &conflict):
		Problem(w, http.StatusConflict, "Conflict", conflict.Message)
	case errors.As(err, &integrity):
		Problem(w, http.StatusConflict, "Conflict", integrity.Error())
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", shared.UserSafeMessage(err))
	case errors.Is(err, ErrForbidden):
		Problem(w, http.StatusForbidden, "Forbidden", "You do not have permission to perform this action.")
	case errors.Is(err, shared.ErrUnauthorized):
		Problem(w, http.StatusUnauthorized, "Unauthorized", shared.UserSafeMessage(err))
	default:
		slog.Error("request failed", slog.Any("error", err))
		Problem(w, http.StatusInternalServerError, "Internal Error", shared.UserSafeMessage(err))
	}
}

func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required."
	case "gt", "gte", "min":
		return fe.Field() + " must be at least " + fe.Param() + "."
	case "lte", "max":
		return fe.Field() + " must be at most " + fe.Param() + "."
	case "oneof":
		return fe.Field() + " must be one of: " + fe.Param() + "."
	case "uuid", "uuid4":
		return fe.Field() + " must be a UUID."
	case "email":
		return fe.Field() + " must be a valid email address."
	}
	return fe.Field() + " is invalid."
}
