// Package httpapi is the control API: a net/http ServeMux exposing Task
// CRUD, manual triggering, and Job inspection over JSON.
package httpapi

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/quickscheduler/qsched/internal/errors"
)

// WriteJSON writes v as a JSON response body with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// errorBody is the shape of every non-2xx control API response.
type errorBody struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// WriteError maps err to an HTTP status via its internal/errors code and
// writes a JSON error body. Errors without a recognised AppError code are
// treated as internal errors.
func WriteError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch apperrors.GetCode(err) {
	case apperrors.ErrCodeNotFound:
		status = http.StatusNotFound
	case apperrors.ErrCodeConflict:
		status = http.StatusConflict
	case apperrors.ErrCodeValidation:
		status = http.StatusUnprocessableEntity
	case apperrors.ErrCodeForeignKey:
		status = http.StatusConflict
	case apperrors.ErrCodeTimeout:
		status = http.StatusGatewayTimeout
	case apperrors.ErrCodeCanceled:
		status = http.StatusRequestTimeout
	}
	WriteJSON(w, status, errorBody{Error: err.Error(), Field: apperrors.GetField(err)})
}

// DecodeJSON decodes the request body into dst, returning a Validation
// AppError on malformed JSON.
func DecodeJSON(r *http.Request, dst any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeValidation, "decode request body")
	}
	return nil
}
