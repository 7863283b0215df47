package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/zeeshangondal/ClinicsDashboard-V9/internal/middleware"
	"github.com/zeeshangondal/ClinicsDashboard-V9/internal/model"
	"github.com/zeeshangondal/ClinicsDashboard-V9/internal/service"
	"github.com/zeeshangondal/ClinicsDashboard-V9/internal/session"
	"github.com/zeeshangondal/ClinicsDashboard-V9/pkg/logger"
)

const maxBodyBytes = 64 << 10

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, &model.ErrorEvent{Code: code, Message: message})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid request body")
		return false
	}
	return true
}

// writeSessionError maps session and service errors onto HTTP responses.
func writeSessionError(w http.ResponseWriter, r *http.Request, log *logger.Logger, err error) {
	var cerr *session.CollaboratorError

	switch {
	case errors.Is(err, session.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "conversation not found")
	case errors.Is(err, session.ErrEmptyMessage):
		writeError(w, http.StatusBadRequest, "empty_message", "message text is empty")
	case errors.Is(err, service.ErrMissingPhone):
		writeError(w, http.StatusBadRequest, "invalid_phone", err.Error())
	case errors.Is(err, session.ErrInvalidState):
		writeError(w, http.StatusConflict, "invalid_state", err.Error())
	case errors.Is(err, session.ErrOrderViolation):
		writeError(w, http.StatusConflict, "order_violation", err.Error())
	case errors.Is(err, session.ErrTimeout):
		writeError(w, http.StatusGatewayTimeout, "timeout", "message source timed out")
	case errors.As(err, &cerr):
		writeError(w, http.StatusBadGateway, "collaborator_error", "message source failed")
	default:
		log.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

// actor returns the authenticated agent of the request.
func actor(r *http.Request) session.Actor {
	agent, ok := middleware.GetAgent(r.Context())
	if !ok {
		return nil
	}
	return agent
}
