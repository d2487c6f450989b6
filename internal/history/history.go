// Package history provides the bounded per-channel rolling buffer of recent
// conversation turns that feeds the relevance classifier.
package history

import (
	"log/slog"
	"sync"
)

// DefaultWindow is the number of turns kept per channel.
const DefaultWindow = 5

// Turn is one recorded utterance. Immutable once appended.
type Turn struct {
	Speaker string
	Text    string
}

// Store holds one bounded buffer per channel. Buffers are created lazily on
// first append and live until Clear. A single coarse lock guards the table;
// contention is low (one event at a time per channel from the host) and no
// network call ever happens under the lock.
type Store struct {
	mu       sync.Mutex
	window   int
	channels map[string][]Turn
}

// New creates a store keeping up to window turns per channel.
// window <= 0 falls back to DefaultWindow.
func New(window int) *Store {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Store{
		window:   window,
		channels: make(map[string][]Turn),
	}
}

// Window returns the per-channel capacity.
func (s *Store) Window() int { return s.window }

// Append pushes a turn onto the channel's buffer, evicting the oldest entry
// at capacity. Turns with empty text are dropped: callers normalize before
// appending, and an empty normalized message carries no context.
func (s *Store) Append(channel string, t Turn) {
	if t.Text == "" {
		slog.Warn("dropping empty turn", "channel", channel, "speaker", t.Speaker)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	buf := append(s.channels[channel], t)
	if len(buf) > s.window {
		buf = buf[len(buf)-s.window:]
	}
	s.channels[channel] = buf
}

// Snapshot returns a copy of the channel's buffer in arrival order (oldest
// first), or nil if the channel has no history. The copy is a consistent
// point-in-time view, safe to read while other goroutines append.
func (s *Store) Snapshot(channel string) []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf := s.channels[channel]
	if len(buf) == 0 {
		return nil
	}
	out := make([]Turn, len(buf))
	copy(out, buf)
	return out
}

// Clear drops all channel buffers. Called at shutdown to release memory
// deterministically.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels = make(map[string][]Turn)
}
