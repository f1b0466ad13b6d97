package shared

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"
)

// MaxBodyBytes bounds the size of any JSON request body.
const MaxBodyBytes = 1 << 20

// ErrInvalidBody is returned when a request body is missing, too large or
// not valid JSON.
var ErrInvalidBody = errors.New("invalid request body")

var validate = validator.New()

// DecodeJSON decodes the request body into v. Fields absent from the body
// keep whatever value v already holds, so callers can pre-populate defaults.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	body := http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: body is empty", ErrInvalidBody)
		}
		return fmt.Errorf("%w: %w", ErrInvalidBody, err)
	}
	return nil
}

// ValidateRequest validates v through its own Validate method when it has
// one, and through struct tags otherwise.
func ValidateRequest(v interface{}) error {
	if validator, ok := v.(interface{ Validate() error }); ok {
		return validator.Validate()
	}
	return validate.Struct(v)
}
