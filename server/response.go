package server

import (
	"encoding/json"
	"net/http"

	"TrackDeal/core/deal"
	"TrackDeal/logger"
)

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// statusFor maps an engine error kind onto an HTTP status.
func statusFor(k deal.Kind) int {
	switch k {
	case deal.KindValidation:
		return http.StatusBadRequest
	case deal.KindInvalidTransition, deal.KindConflict:
		return http.StatusConflict
	case deal.KindForbidden:
		return http.StatusForbidden
	case deal.KindNotFound:
		return http.StatusNotFound
	case deal.KindPreconditionFailed:
		return http.StatusPreconditionFailed
	case deal.KindContractGenerationFail:
		return http.StatusAccepted
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("failed to write response", logger.ErrorField(err))
	}
}

func writeErrorBody(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, map[string]errorBody{"error": {Kind: kind, Message: message}})
}

// writeError renders err as {"error": {"kind", "message"}}. Internal
// errors are logged and their detail is not returned.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := deal.KindOf(err)
	status := statusFor(kind)
	msg := err.Error()
	if kind == deal.KindInternal || kind == deal.KindIntegrityUpdateFailed {
		logger.Error("request failed",
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.String("kind", string(kind)),
			logger.ErrorField(err))
	}
	if kind == deal.KindInternal {
		msg = "internal server error"
	}
	writeErrorBody(w, status, string(kind), msg)
}
