package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/zeeshangondal/ClinicsDashboard-V9/internal/model"
	"github.com/zeeshangondal/ClinicsDashboard-V9/pkg/logger"
	"github.com/zeeshangondal/ClinicsDashboard-V9/pkg/metrics"
)

// Verdict is a classifier's decision on an inbound customer message.
type Verdict struct {
	NeedsHuman bool
	Reason     string
}

// Classifier decides whether a customer message needs a human agent.
type Classifier interface {
	Classify(ctx context.Context, conv model.Conversation, thread []model.Message, text string) (Verdict, error)
}

var defaultHandoffPhrases = []string{
	"human",
	"real person",
	"speak to someone",
	"talk to someone",
	"front desk",
	"staff member",
	"call me",
	"emergency",
	"severe pain",
	"bleeding",
	"complaint",
	"refund",
	"billing",
	"insurance claim",
}

// KeywordClassifier escalates messages containing any of a set of phrases.
type KeywordClassifier struct {
	phrases []string
}

// NewKeywordClassifier creates a keyword classifier. With no phrases a
// default clinic list is used.
func NewKeywordClassifier(phrases ...string) *KeywordClassifier {
	if len(phrases) == 0 {
		phrases = defaultHandoffPhrases
	}
	lower := make([]string, 0, len(phrases))
	for _, p := range phrases {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			lower = append(lower, p)
		}
	}
	return &KeywordClassifier{phrases: lower}
}

// Classify implements Classifier.
func (k *KeywordClassifier) Classify(_ context.Context, _ model.Conversation, _ []model.Message, text string) (Verdict, error) {
	lower := strings.ToLower(text)
	for _, p := range k.phrases {
		if strings.Contains(lower, p) {
			return Verdict{NeedsHuman: true, Reason: fmt.Sprintf("customer mentioned %q", p)}, nil
		}
	}
	return Verdict{}, nil
}

const classifierPrompt = `You triage SMS conversations between a medical clinic and its patients.
An AI assistant answers routine questions (hours, directions, parking, appointment reminders).
Decide whether the latest patient message needs a human staff member: medical concerns,
emergencies, billing disputes, complaints, explicit requests for a person, or anything the
assistant cannot safely answer.

Respond with only a JSON object: {"needs_human": true|false, "reason": "<short reason>"}`

// LLMClassifier asks an LLM whether a message needs a human. Failures and
// unparseable answers fall back to another classifier.
type LLMClassifier struct {
	client     Client
	model      string
	fallback   Classifier
	maxHistory int
	logger     *logger.Logger
}

// NewLLMClassifier creates an LLM-backed classifier.
func NewLLMClassifier(client Client, modelName string, fallback Classifier, log *logger.Logger) *LLMClassifier {
	if fallback == nil {
		fallback = NewKeywordClassifier()
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &LLMClassifier{
		client:     client,
		model:      modelName,
		fallback:   fallback,
		maxHistory: 10,
		logger:     log.Component("classifier"),
	}
}

// Classify implements Classifier.
func (c *LLMClassifier) Classify(ctx context.Context, conv model.Conversation, thread []model.Message, text string) (Verdict, error) {
	var b strings.Builder
	b.WriteString("Conversation so far:\n")
	for _, m := range tail(thread, c.maxHistory) {
		fmt.Fprintf(&b, "[%s] %s: %s\n", m.SenderType, m.SenderName, m.Text)
	}
	fmt.Fprintf(&b, "\nLatest message from %s:\n%s", conv.ContactName, text)

	start := time.Now()
	resp, err := c.client.Complete(ctx, &CompletionRequest{
		Model:     c.model,
		System:    classifierPrompt,
		Messages:  []ChatMessage{{Role: RoleUser, Content: b.String()}},
		MaxTokens: 128,
	})
	if err != nil {
		metrics.RecordLLM(c.modelName(nil), "classify", "error", time.Since(start).Seconds(), 0, 0)
		c.logger.Warn("handoff classification failed, using fallback",
			zap.String("conversation_id", conv.ID),
			zap.Error(err))
		return c.fallback.Classify(ctx, conv, thread, text)
	}
	metrics.RecordLLM(c.modelName(resp), "classify", "success", time.Since(start).Seconds(), resp.TokensIn, resp.TokensOut)

	verdict, ok := parseVerdict(resp.Content)
	if !ok {
		c.logger.Warn("unparseable classification, using fallback",
			zap.String("conversation_id", conv.ID),
			zap.String("content", resp.Content))
		return c.fallback.Classify(ctx, conv, thread, text)
	}
	return verdict, nil
}

func (c *LLMClassifier) modelName(resp *CompletionResponse) string {
	if resp != nil && resp.Model != "" {
		return resp.Model
	}
	if c.model != "" {
		return c.model
	}
	return c.client.Name()
}

// parseVerdict extracts the JSON verdict from a completion, tolerating
// surrounding prose.
func parseVerdict(content string) (Verdict, bool) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end < start {
		return Verdict{}, false
	}
	raw := content[start : end+1]
	if !gjson.Valid(raw) {
		return Verdict{}, false
	}

	needs := gjson.Get(raw, "needs_human")
	if needs.Type != gjson.True && needs.Type != gjson.False {
		return Verdict{}, false
	}
	return Verdict{NeedsHuman: needs.Bool(), Reason: gjson.Get(raw, "reason").String()}, true
}

func tail(msgs []model.Message, n int) []model.Message {
	if n > 0 && len(msgs) > n {
		return msgs[len(msgs)-n:]
	}
	return msgs
}
