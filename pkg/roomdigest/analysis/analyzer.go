package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/selwynd/roomdigest/pkg/roomdigest/provider"
)

// Gateway is the LLM call contract the extractors depend on.
// Implemented by provider.Client; tests substitute fakes.
type Gateway interface {
	Generate(ctx context.Context, prompt string, maxTokens int, temperature float64, providerKey string) (*provider.Response, error)
}

// extractor bundles the per-category pieces of the extraction algorithm:
// prompt builder, JSON parser, regex fallback, and limits. All three
// categories run the same flow; only these fields differ.
type extractor[T any] struct {
	category    string
	maxItems    int
	maxTokens   int
	temperature float64
	providerKey string

	buildPrompt func() string
	parse       func(text string) ([]T, bool)
	fallback    func(text string, maxCount int) []T
}

// run executes the unified extraction flow: build prompt, call the gateway,
// parse JSON, fall back to regex. Every failure path degrades to an empty
// list; the returned usage is zero when no LLM call was made or the call
// failed outright.
func run[T any](ctx context.Context, gw Gateway, ex extractor[T], logger *slog.Logger) ([]T, TokenUsage) {
	prompt := ex.buildPrompt()
	if strings.TrimSpace(prompt) == "" {
		logger.Warn("empty prompt, skipping LLM call", "category", ex.category)
		return nil, TokenUsage{}
	}

	resp, err := gw.Generate(ctx, prompt, ex.maxTokens, ex.temperature, ex.providerKey)
	if err != nil {
		logger.Error("extraction call failed", "category", ex.category, "error", err)
		return nil, TokenUsage{}
	}

	usage := TokenUsage{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}

	if items, ok := ex.parse(resp.Text); ok && len(items) > 0 {
		if len(items) > ex.maxItems {
			items = items[:ex.maxItems]
		}
		logger.Info("extraction parsed", "category", ex.category, "count", len(items))
		return items, usage
	}

	logger.Warn("JSON parse failed, trying regex fallback", "category", ex.category)
	if items := ex.fallback(resp.Text, ex.maxItems); len(items) > 0 {
		logger.Info("regex fallback succeeded", "category", ex.category, "count", len(items))
		return items, usage
	}

	logger.Error("extraction produced nothing", "category", ex.category)
	return nil, usage
}

// ---------- Prompt builders ----------

// transcriptCharLimit caps the chat transcript embedded in prompts so a very
// busy room does not blow the model context window.
const transcriptCharLimit = 24000

// buildTranscript renders messages as "[HH:MM] name: text" lines, newest
// last, truncated from the front when over the limit.
func buildTranscript(messages []Message) string {
	var b strings.Builder
	for _, m := range messages {
		text := strings.TrimSpace(m.Text())
		if text == "" {
			continue
		}
		name := m.DisplayName
		if name == "" {
			name = m.SenderID
		}
		fmt.Fprintf(&b, "[%s] %s: %s\n", m.Timestamp.Format("15:04"), name, text)
	}
	s := b.String()
	if len(s) > transcriptCharLimit {
		s = s[len(s)-transcriptCharLimit:]
		// Drop the partial first line left by the byte cut.
		if i := strings.IndexByte(s, '\n'); i >= 0 {
			s = s[i+1:]
		}
	}
	return s
}

func buildTopicsPrompt(transcript string, maxItems int) string {
	if transcript == "" {
		return ""
	}
	return fmt.Sprintf(`You are analyzing a group chat log. Identify up to %d discussion topics.
Respond with a JSON array only, no prose. Each element:
{"topic": "short name", "contributors": ["names"], "detail": "one-sentence summary"}

Chat log:
%s`, maxItems, transcript)
}

func buildTitlesPrompt(transcript string, top []UserStat, maxItems int) string {
	if transcript == "" || len(top) == 0 {
		return ""
	}
	var users strings.Builder
	for _, u := range top {
		fmt.Fprintf(&users, "- %s (%s): %d messages, %d chars, %d replies\n",
			u.Nickname, u.UserID, u.MessageCount, u.CharCount, u.ReplyCount)
	}
	return fmt.Sprintf(`You are awarding playful titles to the most active members of a group chat.
Pick up to %d members from the list below and give each a fitting title.
Respond with a JSON array only. Each element:
{"user_id": "id", "name": "display name", "title": "short title", "reason": "one sentence"}

Members:
%s
Chat log:
%s`, maxItems, users.String(), transcript)
}

func buildQuotesPrompt(transcript string, maxItems int) string {
	if transcript == "" {
		return ""
	}
	return fmt.Sprintf(`You are picking the most memorable quotes from a group chat log.
Select up to %d quotes that are funny, insightful, or characteristic.
Respond with a JSON array only. Each element:
{"content": "the quote", "sender_name": "who said it", "reason": "why it stands out"}

Chat log:
%s`, maxItems, transcript)
}
