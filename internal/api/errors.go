package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/phrazzld/melody-api/internal/api/shared"
	"github.com/phrazzld/melody-api/internal/domain"
	"github.com/phrazzld/melody-api/internal/preview"
	"github.com/phrazzld/melody-api/internal/service"
	"github.com/phrazzld/melody-api/internal/store"
	"github.com/phrazzld/melody-api/internal/task"
)

// ErrInvalidID is returned when a path parameter is not a generation id.
// It maps to 404 so malformed and unknown ids are indistinguishable.
var ErrInvalidID = errors.New("invalid generation id")

// MapErrorToStatusCode maps internal errors to appropriate HTTP status codes
// based on the error type. This prevents leaking internal error types or
// messages to clients.
func MapErrorToStatusCode(err error) int {
	switch {
	// Not found errors
	case errors.Is(err, task.ErrTaskNotFound),
		errors.Is(err, store.ErrResultNotFound),
		errors.Is(err, service.ErrGenerationFailed),
		errors.Is(err, ErrInvalidID):
		return http.StatusNotFound

	// Bad request errors
	case errors.Is(err, domain.ErrInvalidRequest),
		errors.Is(err, preview.ErrInvalidWidth),
		errors.Is(err, shared.ErrInvalidBody):
		return http.StatusBadRequest

	// Capacity and lifecycle errors
	case errors.Is(err, task.ErrQueueFull),
		errors.Is(err, task.ErrRunnerStopped):
		return http.StatusServiceUnavailable

	// Special cases
	case errors.Is(err, service.ErrResultPending):
		return http.StatusAccepted

	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a sanitized, user-friendly error message
// based on the error type. This prevents leaking sensitive internal details.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	switch {
	case errors.Is(err, task.ErrTaskNotFound),
		errors.Is(err, ErrInvalidID):
		return "Generation not found"

	case errors.Is(err, service.ErrGenerationFailed):
		return "Generation failed or not found"

	case errors.Is(err, store.ErrResultNotFound):
		return "Generation result not found"

	case errors.Is(err, service.ErrResultPending):
		return "Generation still in progress"

	case errors.Is(err, domain.ErrInvalidRequest):
		return SanitizeValidationError(err)

	case errors.Is(err, preview.ErrInvalidWidth):
		return fmt.Sprintf("Invalid width: must be between %d and %d", preview.MinWidth, preview.MaxWidth)

	case errors.Is(err, shared.ErrInvalidBody):
		return "Invalid request body"

	case errors.Is(err, task.ErrQueueFull):
		return "Generation queue is full, try again later"

	case errors.Is(err, task.ErrRunnerStopped):
		return "Service is shutting down"

	default:
		return "An unexpected error occurred"
	}
}

// HandleAPIError writes the status and safe message for err. A non-empty
// fallback replaces the generic message for unmapped (5xx) errors.
func HandleAPIError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	status := MapErrorToStatusCode(err)
	message := GetSafeErrorMessage(err)
	if status == http.StatusInternalServerError && fallback != "" {
		message = fallback
	}
	shared.RespondWithErrorAndLog(w, r, status, message, err)
}

// SanitizeValidationError turns the first validator field error into a
// message naming the JSON field, without echoing internal struct names.
func SanitizeValidationError(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return "Validation error"
	}

	fe := fieldErrs[0]
	field := jsonFieldName(fe.Field())
	return fmt.Sprintf("Invalid %s: %s", field, getValidationTagMessage(fe.Tag(), fe.Param()))
}

// getValidationTagMessage maps validation tags to user-friendly error messages
func getValidationTagMessage(tag, param string) string {
	switch tag {
	case "required":
		return "required field"
	case "oneof":
		return "must be one of " + strings.ReplaceAll(param, " ", ", ")
	case "gte", "min":
		return "must be at least " + param
	case "lte":
		return "must be at most " + param
	case "max":
		return "at most " + param + " values allowed"
	default:
		return "validation failed"
	}
}

// jsonFieldName converts a Go field name such as "TopK" or "Prompt[3]" to
// its snake_case JSON form.
func jsonFieldName(field string) string {
	var b strings.Builder
	runes := []rune(field)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && unicode.IsLower(runes[i-1]) {
				b.WriteByte('_')
			}
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
	}
	return b.String()
}
