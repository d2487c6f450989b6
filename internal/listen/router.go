// Package listen implements the relevance-gated message-routing core: it
// keeps a bounded rolling history per channel, decides per message whether
// the conversational engine should be invoked, and normalizes outgoing text
// on its way to the wire.
package listen

import (
	"context"
	"log/slog"
	"sync"

	"github.com/earshot-labs/earshot/internal/convo"
	"github.com/earshot-labs/earshot/internal/history"
	"github.com/earshot-labs/earshot/internal/llm"
	"github.com/earshot-labs/earshot/pkg/channel"
)

// Outcome is the terminal state of one inbound message.
type Outcome int

const (
	// OutcomeDisabled means the listener is turned off.
	OutcomeDisabled Outcome = iota
	// OutcomeNotWhitelisted means the channel is not in the allowed set.
	OutcomeNotWhitelisted
	// OutcomeIgnored covers self-authored, empty, non-group, and malformed
	// events.
	OutcomeIgnored
	// OutcomeEmptyNormalized means the text was only a leading annotation.
	OutcomeEmptyNormalized
	// OutcomeRecorded means a direct address was recorded but not
	// evaluated (the default responder handles it).
	OutcomeRecorded
	// OutcomeNoClassifier means no classifier provider is configured;
	// the message was recorded but can never escalate.
	OutcomeNoClassifier
	// OutcomeNotRelevant means the classifier declined (or failed);
	// the message stays as history context only.
	OutcomeNotRelevant
	// OutcomeEscalated means the engine was invoked and the event halted.
	OutcomeEscalated
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDisabled:
		return "disabled"
	case OutcomeNotWhitelisted:
		return "not-whitelisted"
	case OutcomeIgnored:
		return "ignored"
	case OutcomeEmptyNormalized:
		return "empty-normalized"
	case OutcomeRecorded:
		return "recorded"
	case OutcomeNoClassifier:
		return "no-classifier"
	case OutcomeNotRelevant:
		return "not-relevant"
	case OutcomeEscalated:
		return "escalated"
	}
	return "unknown"
}

// EscalationRequest is what the router hands the escalation sink for a
// relevant message.
type EscalationRequest struct {
	// Prompt is the normalized latest message text.
	Prompt string
	// Channel is the room identity the reply should go to.
	Channel string
	// Origin is the conversation-store origin key.
	Origin string
	// SessionID is the resolved session identity.
	SessionID string
	// Prior is the decoded prior context, possibly empty.
	Prior []llm.Message
	// Conversation is the stored conversation handle, nil when the engine
	// should create one lazily.
	Conversation *convo.Conversation
}

// Sink receives escalations and is responsible for producing and
// delivering the reply.
type Sink interface {
	Escalate(ctx context.Context, req EscalationRequest) error
}

// Config holds the router's decision surface.
type Config struct {
	// Enabled gates all processing.
	Enabled bool
	// Character is the bot's persona name, used as the outbound history
	// speaker.
	Character string
	// Whitelist is the set of channel identities to listen in.
	Whitelist []string
}

// Deps are the router's injected collaborators.
type Deps struct {
	History *history.Store
	// Classifier may be nil when no classifier provider is configured;
	// the router then records history but never escalates.
	Classifier *Classifier
	Resolver   *SessionResolver
	Sink       Sink
	// OnDecision, if set, is called with the terminal outcome of every
	// inbound message. Used for the decision event stream.
	OnDecision func(channelID string, outcome Outcome)
}

// Router ties the listener core together. One instance owns one history
// table; its lifecycle is the daemon's lifecycle.
type Router struct {
	cfg       Config
	whitelist map[string]struct{}
	history   *history.Store
	classifier *Classifier
	resolver  *SessionResolver
	sink      Sink
	onDecision func(string, Outcome)

	noClassifierOnce sync.Once
}

// NewRouter creates a router.
func NewRouter(cfg Config, deps Deps) *Router {
	wl := make(map[string]struct{}, len(cfg.Whitelist))
	for _, ch := range cfg.Whitelist {
		wl[ch] = struct{}{}
	}
	if cfg.Character == "" {
		cfg.Character = "Bot"
	}
	return &Router{
		cfg:        cfg,
		whitelist:  wl,
		history:    deps.History,
		classifier: deps.Classifier,
		resolver:   deps.Resolver,
		sink:       deps.Sink,
		onDecision: deps.OnDecision,
	}
}

// HandleInbound runs one inbound message through the decision state
// machine and returns its terminal outcome. Classifier and escalation
// failures are absorbed here: they log, degrade to OutcomeNotRelevant, and
// never propagate to the adapter.
func (r *Router) HandleInbound(ctx context.Context, in *channel.Inbound) Outcome {
	if !r.cfg.Enabled {
		return r.decide(in.Channel, OutcomeDisabled)
	}
	if in.Kind != channel.KindGroup {
		return r.decide(in.Channel, OutcomeIgnored)
	}
	if in.Channel == "" {
		// Adapter contract violation; drop rather than crash.
		slog.Error("inbound event without channel identity", "sender", in.Sender)
		return r.decide(in.Channel, OutcomeIgnored)
	}
	if _, ok := r.whitelist[in.Channel]; !ok {
		return r.decide(in.Channel, OutcomeNotWhitelisted)
	}
	if in.Text == "" || in.Sender == in.Self {
		return r.decide(in.Channel, OutcomeIgnored)
	}

	text := Normalize(in.Text)
	if text == "" {
		slog.Debug("message empty after normalization", "channel", in.Channel)
		return r.decide(in.Channel, OutcomeEmptyNormalized)
	}

	latest := history.Turn{Speaker: in.Sender, Text: text}
	r.history.Append(in.Channel, latest)

	if in.DirectAddress {
		// The default responder owns direct addresses; we only keep the
		// turn for future context.
		return r.decide(in.Channel, OutcomeRecorded)
	}

	if r.classifier == nil {
		r.noClassifierOnce.Do(func() {
			slog.Warn("no classifier provider configured — messages are recorded but never escalated")
		})
		return r.decide(in.Channel, OutcomeNoClassifier)
	}

	// Snapshot under the lock, classify outside it: the provider call is
	// long-latency I/O and must not block other channels' appends.
	snapshot := r.history.Snapshot(in.Channel)

	verdict, err := r.classifier.Classify(ctx, snapshot, latest)
	if err != nil {
		slog.Error("classification failed, treating as not relevant",
			"channel", in.Channel, "error", err)
		return r.decide(in.Channel, OutcomeNotRelevant)
	}
	if verdict != Relevant {
		return r.decide(in.Channel, OutcomeNotRelevant)
	}

	slog.Info("message relevant, escalating",
		"channel", in.Channel, "sender", in.Sender, "len", len(text))

	esc := r.resolver.Resolve(ctx, in.Channel, in.Origin)
	err = r.sink.Escalate(ctx, EscalationRequest{
		Prompt:       text,
		Channel:      in.Channel,
		Origin:       in.Origin,
		SessionID:    esc.SessionID,
		Prior:        esc.Prior,
		Conversation: esc.Conversation,
	})
	if err != nil {
		slog.Error("escalation failed", "channel", in.Channel, "session", esc.SessionID, "error", err)
		return r.decide(in.Channel, OutcomeNotRelevant)
	}

	in.Halt()
	return r.decide(in.Channel, OutcomeEscalated)
}

// HandleOutbound intercepts a message about to be sent: every segment is
// normalized in place, and the concatenated normalized text joins the
// channel's history under the character's identity. Keeps history
// symmetric — both sides of the conversation accumulate in arrival order.
func (r *Router) HandleOutbound(out *channel.Outbound) {
	if !r.cfg.Enabled {
		return
	}
	if out.Channel == "" {
		slog.Debug("outbound event without channel identity, skipping")
		return
	}
	if _, ok := r.whitelist[out.Channel]; !ok {
		return
	}

	text := Normalize(out.Text())
	if text == "" {
		slog.Debug("outbound message empty, skipping history", "channel", out.Channel)
	} else {
		r.history.Append(out.Channel, history.Turn{Speaker: r.cfg.Character, Text: text})
	}

	for i, seg := range out.Segments {
		out.Segments[i] = Normalize(seg)
	}
}

// Snapshot exposes a channel's rolling history (debug endpoint).
func (r *Router) Snapshot(channelID string) []history.Turn {
	return r.history.Snapshot(channelID)
}

// Close releases the history table. No background work outlives it.
func (r *Router) Close() {
	r.history.Clear()
}

func (r *Router) decide(channelID string, o Outcome) Outcome {
	if r.onDecision != nil {
		r.onDecision(channelID, o)
	}
	return o
}
