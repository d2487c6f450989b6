package listen

import (
	"context"
	"strings"
	"testing"

	"github.com/earshot-labs/earshot/internal/history"
)

func TestBuildPromptWithHistory(t *testing.T) {
	hist := []history.Turn{
		{Speaker: "alice", Text: "anyone around"},
		{Speaker: "bob", Text: "yeah"},
	}
	latest := history.Turn{Speaker: "bob", Text: "what does the bot think"}

	got := BuildPrompt(hist, latest, "Nova")

	want := strings.Join([]string{
		"Chat History:",
		"1. Alice: anyone around",
		"2. Bob: yeah",
		"",
		"Latest Message: Bob: what does the bot think",
		"",
		"Considering the chat history above, is the LAST message relevant to the character 'Nova'? Reply ONLY with 'yes' or 'no'.",
	}, "\n")
	if got != want {
		t.Errorf("prompt mismatch:\ngot:\n%s\nwant:\n%s", got, want)
	}
}

func TestBuildPromptEmptyHistory(t *testing.T) {
	latest := history.Turn{Speaker: "bob", Text: "hello"}
	got := BuildPrompt(nil, latest, "Nova")

	if !strings.Contains(got, "None (This is the start of a new potential conversation thread).") {
		t.Errorf("missing no-history placeholder:\n%s", got)
	}
	if !strings.Contains(got, "Latest Message: Bob: hello") {
		t.Errorf("missing latest message line:\n%s", got)
	}
}

func TestClassifyVerdicts(t *testing.T) {
	tests := []struct {
		reply string
		want  Verdict
	}{
		{"yes", Relevant},
		{"Yes", Relevant},
		{" YES \n", Relevant},
		{"no", NotRelevant},
		{"Yes please", NotRelevant},
		{"", NotRelevant},
		{"maybe", NotRelevant},
	}
	for _, tt := range tests {
		p := &stubProvider{reply: tt.reply}
		c := NewClassifier(p, "system", "Nova")
		got, err := c.Classify(context.Background(), nil, history.Turn{Speaker: "bob", Text: "hi"})
		if err != nil {
			t.Errorf("Classify(%q) error: %v", tt.reply, err)
		}
		if got != tt.want {
			t.Errorf("Classify(%q) = %v, want %v", tt.reply, got, tt.want)
		}
	}
}

func TestClassifyProviderError(t *testing.T) {
	p := &stubProvider{err: errBoom}
	c := NewClassifier(p, "system", "Nova")

	got, err := c.Classify(context.Background(), nil, history.Turn{Speaker: "bob", Text: "hi"})
	if err == nil {
		t.Error("expected error from failing provider")
	}
	if got != NotRelevant {
		t.Errorf("verdict on error = %v, want NotRelevant", got)
	}
}

func TestClassifySendsSystemPrompt(t *testing.T) {
	p := &stubProvider{reply: "no"}
	c := NewClassifier(p, "you are a relevance judge", "Nova")

	c.Classify(context.Background(), nil, history.Turn{Speaker: "bob", Text: "hi"})

	if p.lastReq.System != "you are a relevance judge" {
		t.Errorf("system prompt = %q", p.lastReq.System)
	}
	if len(p.lastReq.Messages) != 1 || p.lastReq.Messages[0].Role != "user" {
		t.Errorf("messages = %+v, want single user message", p.lastReq.Messages)
	}
}
