package listen

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/earshot-labs/earshot/internal/history"
	"github.com/earshot-labs/earshot/internal/llm"
)

// Verdict is the binary relevance judgment for one message.
type Verdict int

const (
	// NotRelevant suppresses escalation; the message stays in history as
	// context only.
	NotRelevant Verdict = iota
	// Relevant triggers escalation to the conversational engine.
	Relevant
)

func (v Verdict) String() string {
	if v == Relevant {
		return "relevant"
	}
	return "not-relevant"
}

// classifierMaxTokens bounds the classifier's reply; the answer is a single
// word.
const classifierMaxTokens = 16

// Classifier asks a cheap LLM whether the latest message in a channel is
// relevant to the configured character.
type Classifier struct {
	provider  llm.Provider
	system    string
	character string
}

// NewClassifier creates a classifier backed by the given provider.
func NewClassifier(provider llm.Provider, systemPrompt, character string) *Classifier {
	return &Classifier{
		provider:  provider,
		system:    systemPrompt,
		character: character,
	}
}

// Classify builds the relevance prompt from history plus the latest turn
// and asks the provider for a yes/no judgment. The verdict is Relevant iff
// the trimmed, lowercased reply equals exactly "yes"; anything else —
// empty content, hedged answers, provider errors — is NotRelevant. Errors
// are returned so the caller can apply its fallback policy, but the verdict
// is always usable.
func (c *Classifier) Classify(ctx context.Context, hist []history.Turn, latest history.Turn) (Verdict, error) {
	prompt := BuildPrompt(hist, latest, c.character)
	slog.Debug("classifier prompt built", "len", len(prompt), "history_turns", len(hist))

	resp, err := c.provider.Complete(ctx, llm.CompletionRequest{
		System:    c.system,
		Messages:  []llm.Message{{Role: "user", Content: prompt}},
		MaxTokens: classifierMaxTokens,
	})
	if err != nil {
		return NotRelevant, fmt.Errorf("relevance check: %w", err)
	}

	judgment := strings.ToLower(strings.TrimSpace(resp.Content))
	slog.Debug("classifier judgment", "raw", judgment, "latest", latest.Text)

	if judgment == "yes" {
		return Relevant, nil
	}
	return NotRelevant, nil
}

// BuildPrompt renders the deterministic classifier prompt: a header, the
// enumerated history (1-indexed, capitalized speakers), the latest message,
// and the fixed yes/no instruction naming the character.
func BuildPrompt(hist []history.Turn, latest history.Turn, character string) string {
	parts := []string{"Chat History:"}
	if len(hist) == 0 {
		parts = append(parts, "None (This is the start of a new potential conversation thread).")
	} else {
		for i, t := range hist {
			parts = append(parts, fmt.Sprintf("%d. %s: %s", i+1, capitalize(t.Speaker), t.Text))
		}
	}

	parts = append(parts, fmt.Sprintf("\nLatest Message: %s: %s", capitalize(latest.Speaker), latest.Text))
	parts = append(parts, fmt.Sprintf(
		"\nConsidering the chat history above, is the LAST message relevant to the character '%s'? Reply ONLY with 'yes' or 'no'.",
		character,
	))

	return strings.Join(parts, "\n")
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}
