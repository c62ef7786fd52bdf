package server

import (
	"encoding/json"
	"net/http"

	"github.com/rubenvitt/r-gone-sub007/pkg/access"
)

// errorResponse is the JSON error envelope returned to clients
type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Type    string                 `json:"type"`
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// writeJSON writes a JSON response with the given status
func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

// writeError maps an engine error onto an HTTP status and writes the envelope.
// Unknown errors are reported as internal without leaking their message.
func writeError(w http.ResponseWriter, err error) {
	engineErr, ok := access.GetError(err)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: errorBody{
			Type:    string(access.ErrorTypeInternal),
			Code:    access.ErrorCodeInternal,
			Message: "internal error",
		}})
		return
	}

	writeJSON(w, statusForError(engineErr.Type), errorResponse{Error: errorBody{
		Type:    string(engineErr.Type),
		Code:    engineErr.Code,
		Message: engineErr.Message,
		Details: engineErr.Details,
	}})
}

func statusForError(t access.ErrorType) int {
	switch t {
	case access.ErrorTypeNotFound:
		return http.StatusNotFound
	case access.ErrorTypeInvalidInput:
		return http.StatusBadRequest
	case access.ErrorTypeUnauthorized:
		return http.StatusUnauthorized
	case access.ErrorTypeForbidden:
		return http.StatusForbidden
	case access.ErrorTypeConflict:
		return http.StatusConflict
	case access.ErrorTypePreconditionFailed:
		return http.StatusPreconditionFailed
	case access.ErrorTypeExpired, access.ErrorTypeExhausted, access.ErrorTypeRevoked:
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON decodes a request body into dst, rejecting malformed payloads
func decodeJSON(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return access.NewInvalidInput("malformed request body").WithCause(err)
	}
	return nil
}
