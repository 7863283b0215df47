package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zeeshangondal/ClinicsDashboard-V9/internal/model"
	"github.com/zeeshangondal/ClinicsDashboard-V9/pkg/metrics"
)

// ErrEmptyReply is returned when the model produced no usable text.
var ErrEmptyReply = errors.New("empty AI reply")

const responderPrompt = `You are the SMS assistant for %s. Answer patients briefly and warmly in
plain text, at most two short sentences. Handle routine questions about appointments,
hours, location and parking. Never give medical advice; say a staff member will follow up instead.`

// Responder drafts AI replies to customer messages.
type Responder struct {
	client     Client
	model      string
	clinic     string
	maxHistory int
}

// NewResponder creates a responder speaking for clinic.
func NewResponder(client Client, modelName, clinic string) *Responder {
	if clinic == "" {
		clinic = "the clinic"
	}
	return &Responder{client: client, model: modelName, clinic: clinic, maxHistory: 20}
}

// Reply returns the assistant's next message for a thread.
func (r *Responder) Reply(ctx context.Context, conv model.Conversation, thread []model.Message) (string, error) {
	messages := transcript(tail(thread, r.maxHistory))
	if len(messages) == 0 || messages[len(messages)-1].Role != RoleUser {
		return "", fmt.Errorf("conversation %s has no customer message to answer", conv.ID)
	}

	start := time.Now()
	resp, err := r.client.Complete(ctx, &CompletionRequest{
		Model:       r.model,
		System:      fmt.Sprintf(responderPrompt, r.clinic),
		Messages:    messages,
		MaxTokens:   256,
		Temperature: 0.3,
	})
	if err != nil {
		metrics.RecordLLM(r.modelLabel(), "reply", "error", time.Since(start).Seconds(), 0, 0)
		return "", fmt.Errorf("failed to generate reply: %w", err)
	}
	metrics.RecordLLM(r.modelLabel(), "reply", "success", time.Since(start).Seconds(), resp.TokensIn, resp.TokensOut)

	reply := strings.TrimSpace(resp.Content)
	if reply == "" {
		return "", ErrEmptyReply
	}
	return reply, nil
}

func (r *Responder) modelLabel() string {
	if r.model != "" {
		return r.model
	}
	return r.client.Name()
}

// transcript maps a thread onto chat turns. Customer messages are user
// turns, AI and agent messages are assistant turns, and consecutive turns
// of the same role are merged.
func transcript(thread []model.Message) []ChatMessage {
	out := make([]ChatMessage, 0, len(thread))
	for _, m := range thread {
		var role string
		switch m.SenderType {
		case model.SenderCustomer:
			role = RoleUser
		case model.SenderAI, model.SenderHuman:
			role = RoleAssistant
		default:
			continue
		}

		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content += "\n" + m.Text
			continue
		}
		out = append(out, ChatMessage{Role: role, Content: m.Text})
	}

	// Conversations opened by an outbound reminder start with an assistant turn.
	for len(out) > 0 && out[0].Role != RoleUser {
		out = out[1:]
	}
	return out
}
