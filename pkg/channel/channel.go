// Package channel defines the contract between chat-platform adapters and
// the listener core. Adapters (Matrix today) resolve platform events into
// the tagged Inbound/Outbound forms once, at the boundary; the router never
// probes adapter-specific event shapes.
package channel

import "context"

// Kind tags the event variants the router knows how to handle.
type Kind int

const (
	// KindGroup is a message in a multi-user room.
	KindGroup Kind = iota
	// KindDirect is a one-on-one message. The listener core ignores these;
	// they belong to the default responder.
	KindDirect
)

// Inbound is a received message, resolved to a uniform shape.
type Inbound struct {
	// Kind tags which event variant this is.
	Kind Kind

	// Channel is the room/group identity scoping one history buffer.
	Channel string

	// Sender is the platform identity of the author.
	Sender string

	// Self is the bot's own platform identity.
	Self string

	// Text is the raw message text, before normalization.
	Text string

	// DirectAddress is true when the message explicitly addresses the bot
	// (mention or wake prefix).
	DirectAddress bool

	// Origin is the adapter-scoped origin key used to look up conversation
	// state (e.g. "matrix:!room:server").
	Origin string

	// Timestamp is the message timestamp in milliseconds.
	Timestamp int64

	halted bool
}

// Halt marks the event as terminally handled so no later listener reacts.
func (in *Inbound) Halt() { in.halted = true }

// Halted reports whether Halt has been called.
func (in *Inbound) Halted() bool { return in.halted }

// Outbound is a message about to be sent. Segments is mutable: interceptors
// may rewrite segment text in place before transmission.
type Outbound struct {
	// Channel is the target room/group identity.
	Channel string

	// Segments is the ordered list of text segments making up the message.
	Segments []string
}

// Text returns the concatenation of all segments.
func (out *Outbound) Text() string {
	var s string
	for _, seg := range out.Segments {
		s += seg
	}
	return s
}

// InboundHandler is called for each received message.
type InboundHandler func(ctx context.Context, in *Inbound)

// OutboundInterceptor is called for each message about to be sent, before
// transmission. It may mutate the outbound segments in place.
type OutboundInterceptor func(out *Outbound)

// Response is a reply the daemon wants delivered.
type Response struct {
	// Channel is the target room/group.
	Channel string

	// Content is the text to send.
	Content string
}

// Channel is the interface adapters implement.
type Channel interface {
	// Name returns the adapter identifier (e.g. "matrix").
	Name() string

	// Start begins listening. Blocks until ctx is cancelled. Received
	// messages are resolved into Inbound events and passed to handler.
	Start(ctx context.Context, handler InboundHandler) error

	// Send delivers a response. The outbound interceptor (if set) runs on
	// the assembled Outbound before anything hits the wire.
	Send(ctx context.Context, resp Response) error

	// Intercept installs the outbound interceptor. Must be called before
	// Start.
	Intercept(fn OutboundInterceptor)

	// Stop gracefully shuts down the adapter.
	Stop() error
}
