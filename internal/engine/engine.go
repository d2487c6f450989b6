// Package engine turns escalations into replies: it calls the
// conversational provider with the session's prior context, delivers the
// reply over the originating channel, and persists the updated
// conversation.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/earshot-labs/earshot/internal/convo"
	"github.com/earshot-labs/earshot/internal/listen"
	"github.com/earshot-labs/earshot/internal/llm"
	"github.com/earshot-labs/earshot/pkg/channel"
)

const (
	// maxContextMessages caps how much prior context goes to the provider.
	maxContextMessages = 40
	defaultMaxOutput   = 4096
	defaultTemperature = 0.7
)

// Transport delivers replies back to the channel the escalation came from.
type Transport interface {
	Send(ctx context.Context, resp channel.Response) error
}

// Config holds the engine's model parameters and persona.
type Config struct {
	// System is the persona system prompt sent with every completion.
	System string
	// MaxOutput bounds the reply length in tokens.
	MaxOutput int
	// Temperature is the sampling temperature.
	Temperature float64
}

// Engine is the escalation sink: one provider, one conversation store, one
// transport.
type Engine struct {
	provider  llm.Provider
	convos    convo.Manager
	transport Transport
	cfg       Config
}

// New creates an engine.
func New(provider llm.Provider, convos convo.Manager, transport Transport, cfg Config) *Engine {
	if cfg.MaxOutput <= 0 {
		cfg.MaxOutput = defaultMaxOutput
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = defaultTemperature
	}
	return &Engine{
		provider:  provider,
		convos:    convos,
		transport: transport,
		cfg:       cfg,
	}
}

// Escalate produces and delivers a reply for one relevant message. An error
// means no reply reached the channel; persistence failures after delivery
// are logged but not returned, the reply already happened.
func (e *Engine) Escalate(ctx context.Context, req listen.EscalationRequest) error {
	start := time.Now()

	messages := trimContext(append(req.Prior, llm.Message{Role: "user", Content: req.Prompt}))

	resp, err := e.provider.Complete(ctx, llm.CompletionRequest{
		System:      e.cfg.System,
		Messages:    messages,
		MaxTokens:   e.cfg.MaxOutput,
		Temperature: e.cfg.Temperature,
	})
	if err != nil {
		return fmt.Errorf("engine completion: %w", err)
	}
	if resp.Content == "" {
		return fmt.Errorf("engine returned empty reply for session %s", req.SessionID)
	}

	if err := e.transport.Send(ctx, channel.Response{
		Channel: req.Channel,
		Content: resp.Content,
	}); err != nil {
		return fmt.Errorf("deliver reply: %w", err)
	}

	slog.Info("reply delivered",
		"channel", req.Channel,
		"session", req.SessionID,
		"model", resp.Model,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)

	e.persist(ctx, req, append(messages, llm.Message{Role: "assistant", Content: resp.Content}))
	return nil
}

// persist writes the updated conversation back to the store. When no stored
// conversation existed yet, a fresh one is created and bound as current.
func (e *Engine) persist(ctx context.Context, req listen.EscalationRequest, records []llm.Message) {
	id := req.SessionID
	if req.Conversation == nil {
		id = uuid.NewString()
		slog.Debug("creating conversation", "origin", req.Origin, "id", id)
	}

	if err := e.convos.SaveConversation(ctx, req.Origin, id, convo.EncodeHistory(records)); err != nil {
		slog.Error("conversation save failed", "origin", req.Origin, "id", id, "error", err)
		return
	}
	if err := e.convos.SetCurrent(ctx, req.Origin, id); err != nil {
		slog.Error("current conversation bind failed", "origin", req.Origin, "id", id, "error", err)
	}
}

// trimContext drops the oldest messages past the cap and makes sure the
// sequence starts with a user turn, which provider APIs require.
func trimContext(msgs []llm.Message) []llm.Message {
	if len(msgs) > maxContextMessages {
		msgs = msgs[len(msgs)-maxContextMessages:]
	}
	for len(msgs) > 0 && msgs[0].Role != "user" {
		msgs = msgs[1:]
	}
	return msgs
}
