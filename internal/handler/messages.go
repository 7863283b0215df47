package handler

import (
	"context"
	"net/http"

	"github.com/zeeshangondal/ClinicsDashboard-V9/internal/middleware"
	"github.com/zeeshangondal/ClinicsDashboard-V9/internal/model"
	"github.com/zeeshangondal/ClinicsDashboard-V9/internal/service"
	"github.com/zeeshangondal/ClinicsDashboard-V9/internal/session"
	"github.com/zeeshangondal/ClinicsDashboard-V9/pkg/logger"
)

// InboundProcessor runs the inbound customer message pipeline.
type InboundProcessor interface {
	HandleInbound(ctx context.Context, req model.InboundMessageRequest) (service.InboundResult, error)
}

// MessageHandler handles message endpoints.
type MessageHandler struct {
	sessions *session.Manager
	inbound  InboundProcessor
	logger   *logger.Logger
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(sessions *session.Manager, inbound InboundProcessor, log *logger.Logger) *MessageHandler {
	return &MessageHandler{
		sessions: sessions,
		inbound:  inbound,
		logger:   log.Component("message_handler"),
	}
}

// threadResponse is the body of a thread listing.
type threadResponse struct {
	Messages []model.Message `json:"messages"`
	Pending  []model.Message `json:"pending,omitempty"`
}

// List handles GET /api/v1/conversations/{id}/messages
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	id, ok := conversationID(w, r)
	if !ok {
		return
	}

	msgs, err := h.sessions.Thread(r.Context(), id)
	if err != nil {
		writeSessionError(w, r, h.logger, err)
		return
	}
	if msgs == nil {
		msgs = []model.Message{}
	}

	writeJSON(w, http.StatusOK, &threadResponse{
		Messages: msgs,
		Pending:  h.sessions.Pending(id),
	})
}

// Send handles POST /api/v1/conversations/{id}/messages
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	id, ok := conversationID(w, r)
	if !ok {
		return
	}

	var req model.SendMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := middleware.ValidateMessageContent(req.Text); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_message", err.Error())
		return
	}

	msg, err := h.sessions.SendMessage(r.Context(), id, req.Text, actor(r))
	if err != nil {
		writeSessionError(w, r, h.logger, err)
		return
	}

	conv, err := h.sessions.Conversation(id)
	if err != nil {
		writeSessionError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, &model.SendMessageResponse{
		Message:      msg,
		Conversation: conv,
	})
}

// Inbound handles POST /api/v1/inbound
// Called by the SMS gateway with a customer message.
func (h *MessageHandler) Inbound(w http.ResponseWriter, r *http.Request) {
	var req model.InboundMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := middleware.ValidatePhoneNumber(req.PhoneNumber); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_phone", err.Error())
		return
	}
	if err := middleware.ValidateMessageContent(req.Text); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_message", err.Error())
		return
	}

	res, err := h.inbound.HandleInbound(r.Context(), req)
	if err != nil {
		writeSessionError(w, r, h.logger, err)
		return
	}

	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, &res)
}
