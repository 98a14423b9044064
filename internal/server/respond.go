package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/datapulse/datapulse/internal/domain"
	"github.com/datapulse/datapulse/internal/logging"
)

// errorBody is the uniform error envelope: a stable machine code plus a
// human-readable message.
type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		// Headers are gone; nothing left to do but log.
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := domain.ErrorCode(err)
	status := statusFor(code)
	if status >= http.StatusInternalServerError {
		logging.FromContext(r.Context()).Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	} else {
		logging.FromContext(r.Context()).Debug("request rejected", "method", r.Method, "path", r.URL.Path, "code", code, "error", err)
	}

	var body errorBody
	body.Error.Code = code
	if body.Error.Code == "" {
		body.Error.Code = domain.CodeStorageFailure
	}
	var engineErr *domain.EngineError
	if errors.As(err, &engineErr) {
		body.Error.Message = engineErr.Message
		if engineErr.Err != nil {
			body.Error.Message = engineErr.Message + ": " + engineErr.Err.Error()
		}
	} else {
		body.Error.Message = err.Error()
	}
	writeJSON(w, status, body)
}

func statusFor(code string) int {
	switch code {
	case domain.CodeRejectedStatement, domain.CodeMalformedInput, domain.CodeBadRequest,
		domain.CodeValidation, domain.CodeFileUpload:
		return http.StatusBadRequest
	case domain.CodeSourceNotFound, domain.CodeNotFound:
		return http.StatusNotFound
	case domain.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON decodes a request body, mapping malformed JSON to BadRequest.
func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return &domain.EngineError{Code: domain.CodeBadRequest, Message: "invalid request body", Err: err}
	}
	return nil
}
