package listen

import (
	"context"
	"log/slog"

	"github.com/earshot-labs/earshot/internal/convo"
	"github.com/earshot-labs/earshot/internal/llm"
)

// Escalation is the resolved session context attached to an escalation.
// SessionID is always usable; Prior and Conversation degrade to empty and
// nil rather than failing.
type Escalation struct {
	SessionID    string
	Prior        []llm.Message
	Conversation *convo.Conversation // nil when no stored conversation exists
}

// SessionResolver determines which conversation identity and prior context
// to attach when escalating. It exists so escalation never errors out
// merely because no prior conversation exists: every failure mode here
// degrades to an empty context under a usable session identity.
type SessionResolver struct {
	convos convo.Manager
}

// NewSessionResolver creates a resolver over the given conversation store.
func NewSessionResolver(convos convo.Manager) *SessionResolver {
	return &SessionResolver{convos: convos}
}

// Resolve picks the session for an escalation on the given channel.
// Preference order: the origin's current conversation, then an existing
// conversation stored under the channel identity, then a fresh session
// named after the channel with no prior context. Store errors and
// malformed payloads are degraded, never propagated.
func (r *SessionResolver) Resolve(ctx context.Context, channelID, origin string) Escalation {
	currID, err := r.convos.CurrentConversationID(ctx, origin)
	if err != nil {
		slog.Warn("current conversation lookup failed, treating as none", "origin", origin, "error", err)
		currID = ""
	}

	if currID != "" {
		esc := Escalation{SessionID: currID}
		conversation, err := r.convos.Conversation(ctx, origin, currID)
		if err != nil {
			slog.Warn("conversation fetch failed, continuing with empty context",
				"origin", origin, "id", currID, "error", err)
			return esc
		}
		if conversation == nil {
			// Binding points at a conversation we cannot load; keep the
			// identity and let the engine rebuild state under it.
			slog.Warn("current conversation bound but not loadable, using id only",
				"origin", origin, "id", currID)
			return esc
		}
		esc.Conversation = conversation
		esc.Prior = convo.DecodeHistory(conversation.History)
		return esc
	}

	// No current conversation: fall back to the channel identity itself.
	esc := Escalation{SessionID: channelID}
	slog.Debug("no current conversation, using channel id as session",
		"origin", origin, "session", channelID)

	fallback, err := r.convos.Conversation(ctx, origin, channelID)
	if err != nil {
		slog.Warn("fallback conversation fetch failed, continuing with empty context",
			"origin", origin, "id", channelID, "error", err)
		return esc
	}
	if fallback == nil {
		slog.Debug("no fallback conversation, engine will create one lazily",
			"origin", origin, "session", channelID)
		return esc
	}
	esc.Conversation = fallback
	esc.Prior = convo.DecodeHistory(fallback.History)
	return esc
}
