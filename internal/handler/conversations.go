// Package handler provides HTTP handlers for the inbox API.
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zeeshangondal/ClinicsDashboard-V9/internal/middleware"
	"github.com/zeeshangondal/ClinicsDashboard-V9/internal/model"
	"github.com/zeeshangondal/ClinicsDashboard-V9/internal/session"
	"github.com/zeeshangondal/ClinicsDashboard-V9/pkg/logger"
)

// ConversationHandler handles conversation endpoints.
type ConversationHandler struct {
	sessions     *session.Manager
	quickReplies []string
	logger       *logger.Logger
}

// NewConversationHandler creates a new conversation handler.
func NewConversationHandler(sessions *session.Manager, quickReplies []string, log *logger.Logger) *ConversationHandler {
	return &ConversationHandler{
		sessions:     sessions,
		quickReplies: quickReplies,
		logger:       log.Component("conversation_handler"),
	}
}

// List handles GET /api/v1/conversations?search=&status=
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	status, err := middleware.ParseStatusFilter(r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_status", err.Error())
		return
	}

	convs := h.sessions.Conversations(model.Filter{
		SearchText: r.URL.Query().Get("search"),
		Status:     status,
	})

	writeJSON(w, http.StatusOK, &model.ListConversationsResponse{
		Conversations: convs,
		Total:         len(convs),
	})
}

// Get handles GET /api/v1/conversations/{id}
func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := conversationID(w, r)
	if !ok {
		return
	}

	conv, err := h.sessions.Conversation(id)
	if err != nil {
		writeSessionError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, conv)
}

// Select handles POST /api/v1/conversations/{id}/select
func (h *ConversationHandler) Select(w http.ResponseWriter, r *http.Request) {
	id, ok := conversationID(w, r)
	if !ok {
		return
	}

	conv, msgs, err := h.sessions.SelectConversation(r.Context(), id, actor(r))
	if err != nil {
		writeSessionError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, &model.SelectConversationResponse{
		Conversation: conv,
		Messages:     msgs,
		Pending:      h.sessions.Pending(id),
	})
}

// Deselect handles DELETE /api/v1/conversations/selected
func (h *ConversationHandler) Deselect(w http.ResponseWriter, r *http.Request) {
	h.sessions.Deselect(actor(r))
	w.WriteHeader(http.StatusNoContent)
}

// CompleteHandoff handles POST /api/v1/conversations/{id}/complete-handoff
func (h *ConversationHandler) CompleteHandoff(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.sessions.CompleteHandoff)
}

// Resolve handles POST /api/v1/conversations/{id}/resolve
func (h *ConversationHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.sessions.Resolve)
}

// Close handles POST /api/v1/conversations/{id}/close
func (h *ConversationHandler) Close(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.sessions.Close)
}

// RequestHandoff handles POST /api/v1/conversations/{id}/handoff
func (h *ConversationHandler) RequestHandoff(w http.ResponseWriter, r *http.Request) {
	id, ok := conversationID(w, r)
	if !ok {
		return
	}

	var req model.HandoffRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	conv, err := h.sessions.RequestHandoff(r.Context(), id, req.Reason)
	if err != nil {
		writeSessionError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, conv)
}

// Stats handles GET /api/v1/stats
func (h *ConversationHandler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sessions.Stats())
}

// QuickReplies handles GET /api/v1/quick-replies
func (h *ConversationHandler) QuickReplies(w http.ResponseWriter, r *http.Request) {
	replies := h.quickReplies
	if replies == nil {
		replies = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"quick_replies": replies})
}

type transitionFunc func(ctx context.Context, id string, actor session.Actor) (model.Conversation, error)

func (h *ConversationHandler) transition(w http.ResponseWriter, r *http.Request, apply transitionFunc) {
	id, ok := conversationID(w, r)
	if !ok {
		return
	}

	conv, err := apply(r.Context(), id, actor(r))
	if err != nil {
		writeSessionError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, conv)
}

func conversationID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if err := middleware.ValidateConversationID(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", err.Error())
		return "", false
	}
	return id, true
}
