package api

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/jakechorley/community-connect/pkg/core/apperrors"
)

const maxBodyBytes = 1 << 20

// APIResponse is the envelope for every JSON response
type APIResponse struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *APIError `json:"error,omitempty"`
}

// APIError describes a failed request
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(APIResponse{
		Success: status >= 200 && status < 300,
		Data:    data,
	})
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(APIResponse{
		Error: &APIError{Code: code, Message: message},
	})
}

// writeServiceError maps a classified service error to its HTTP status.
// Unclassified and system errors are logged and reported without detail.
func writeServiceError(w http.ResponseWriter, logger *zap.Logger, err error) {
	code := apperrors.CodeOf(err)
	switch code {
	case apperrors.CodeValidation, apperrors.CodeNoInstancesGenerated:
		writeError(w, http.StatusBadRequest, string(code), err.Error())
	case apperrors.CodeNotFound:
		writeError(w, http.StatusNotFound, string(code), err.Error())
	case apperrors.CodeNotAuthorized:
		writeError(w, http.StatusForbidden, string(code), err.Error())
	default:
		logger.Error("Request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, string(apperrors.CodeSystem), "internal server error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperrors.ValidationWrap("invalid request body", err)
	}
	return nil
}
