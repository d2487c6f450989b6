// Package matrix implements the Matrix adapter for earshot using
// mautrix-go, running inside the daemon process directly.
package matrix

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/earshot-labs/earshot/pkg/channel"
)

// Config holds Matrix adapter configuration.
type Config struct {
	Homeserver string
	UserID     string // localpart, e.g. "earshot"
	Password   string
	ServerName string // e.g. "matrix.example.com"
	// AllowedInviters limits whose room invites are auto-joined. Empty
	// means accept all.
	AllowedInviters []string
	// WakeWords are case-insensitive prefixes that mark a message as a
	// direct address even without a mention.
	WakeWords []string
	DataDir   string
}

// Channel implements the channel.Channel interface for Matrix.
type Channel struct {
	config    Config
	client    *mautrix.Client
	handler   channel.InboundHandler
	startTime int64

	mu          sync.Mutex
	interceptor channel.OutboundInterceptor
	directRooms map[id.RoomID]bool

	credFile string
}

// credentials holds saved Matrix login state.
type credentials struct {
	AccessToken string `json:"access_token"`
	UserID      string `json:"user_id"`
	DeviceID    string `json:"device_id"`
}

// New creates a new Matrix adapter.
func New(cfg Config) *Channel {
	return &Channel{
		config:      cfg,
		directRooms: make(map[id.RoomID]bool),
		credFile:    filepath.Join(cfg.DataDir, "matrix_credentials.json"),
	}
}

// Name returns the channel identifier.
func (c *Channel) Name() string { return "matrix" }

// Intercept installs the outbound interceptor. Every Send runs it on the
// message segments before they go to the wire.
func (c *Channel) Intercept(fn channel.OutboundInterceptor) {
	c.mu.Lock()
	c.interceptor = fn
	c.mu.Unlock()
}

// Start connects to Matrix and begins listening for messages.
// Retries login with exponential backoff on failure.
func (c *Channel) Start(ctx context.Context, handler channel.InboundHandler) error {
	c.handler = handler
	c.startTime = time.Now().UnixMilli()

	os.MkdirAll(c.config.DataDir, 0o755)

	fullUserID := fmt.Sprintf("@%s:%s", c.config.UserID, c.config.ServerName)

	client, err := mautrix.NewClient(c.config.Homeserver, id.UserID(fullUserID), "")
	if err != nil {
		return fmt.Errorf("create matrix client: %w", err)
	}
	c.client = client

	// In-memory sync store; resyncing on restart is fine.
	client.Store = mautrix.NewMemorySyncStore()

	if err := c.loginWithRetry(ctx, fullUserID); err != nil {
		return err
	}

	syncer := client.Syncer.(*mautrix.DefaultSyncer)

	syncer.OnEventType(event.EventMessage, func(ctx context.Context, evt *event.Event) {
		c.onMessage(ctx, evt)
	})

	// Invites — auto-join when the inviter is allowed, remembering
	// whether the room is a direct chat.
	syncer.OnEventType(event.StateMember, func(ctx context.Context, evt *event.Event) {
		c.onMemberEvent(ctx, evt)
	})

	slog.Info("matrix adapter ready, starting sync")

	// Sync loop with reconnection
	for {
		err := client.SyncWithContext(ctx)
		if ctx.Err() != nil {
			return nil // graceful shutdown
		}
		if err != nil {
			slog.Warn("matrix sync error, reconnecting in 15s", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(15 * time.Second):
			}
		}
	}
}

// loginWithRetry handles Matrix login with exponential backoff.
// Tries saved credentials first, then password login with retry.
func (c *Channel) loginWithRetry(ctx context.Context, fullUserID string) error {
	if err := c.loadCredentials(); err == nil {
		slog.Info("loaded saved Matrix credentials", "user", fullUserID)
		return nil
	}

	backoff := 2 * time.Second
	maxBackoff := 2 * time.Minute
	maxAttempts := 10

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		slog.Info("logging into Matrix",
			"user", fullUserID,
			"homeserver", c.config.Homeserver,
			"attempt", attempt,
		)

		resp, err := c.client.Login(ctx, &mautrix.ReqLogin{
			Type: mautrix.AuthTypePassword,
			Identifier: mautrix.UserIdentifier{
				Type: mautrix.IdentifierTypeUser,
				User: c.config.UserID,
			},
			Password:         c.config.Password,
			StoreCredentials: true,
		})

		if err == nil {
			slog.Info("logged into Matrix", "user", resp.UserID, "device", resp.DeviceID)
			c.saveCredentials(credentials{
				AccessToken: resp.AccessToken,
				UserID:      string(resp.UserID),
				DeviceID:    string(resp.DeviceID),
			})
			return nil
		}

		errStr := err.Error()
		if strings.Contains(errStr, "M_FORBIDDEN") ||
			strings.Contains(errStr, "M_UNKNOWN_TOKEN") ||
			strings.Contains(errStr, "M_INVALID_PARAM") {
			return fmt.Errorf("matrix login: %w (non-retryable)", err)
		}

		if attempt == maxAttempts {
			return fmt.Errorf("matrix login: %w (after %d attempts)", err, maxAttempts)
		}

		slog.Warn("matrix login failed, retrying",
			"error", err,
			"attempt", attempt,
			"backoff", backoff,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}

	return fmt.Errorf("matrix login: exhausted retries")
}

// Send delivers a reply to a Matrix room. The message is split into
// segments, the outbound interceptor runs on them, and anything left
// non-empty goes to the wire.
func (c *Channel) Send(ctx context.Context, resp channel.Response) error {
	const maxLen = 4000

	roomID := id.RoomID(resp.Channel)
	out := &channel.Outbound{
		Channel:  resp.Channel,
		Segments: splitMessage(resp.Content, maxLen),
	}

	c.mu.Lock()
	interceptor := c.interceptor
	c.mu.Unlock()
	if interceptor != nil {
		interceptor(out)
	}

	var segments []string
	for _, seg := range out.Segments {
		if seg != "" {
			segments = append(segments, seg)
		}
	}
	if len(segments) == 0 {
		slog.Debug("outbound message empty after interception, dropping", "room", roomID)
		return nil
	}

	for i, seg := range segments {
		prefix := ""
		if len(segments) > 1 {
			prefix = fmt.Sprintf("[%d/%d] ", i+1, len(segments))
		}
		_, err := c.client.SendText(ctx, roomID, prefix+seg)
		if err != nil {
			slog.Error("matrix send failed", "room", roomID, "segment", i+1, "error", err)
			return err
		}
		if i < len(segments)-1 {
			time.Sleep(500 * time.Millisecond)
		}
	}
	slog.Info("matrix message sent", "room", roomID, "segments", len(segments))
	return nil
}

// Stop gracefully shuts down the Matrix adapter.
func (c *Channel) Stop() error {
	if c.client != nil {
		c.client.StopSync()
	}
	return nil
}

// --- Event Handlers ---

func (c *Channel) onMessage(ctx context.Context, evt *event.Event) {
	// Skip messages from before we started
	if evt.Timestamp < c.startTime {
		return
	}

	msgContent := evt.Content.AsMessage()
	if msgContent == nil || msgContent.Body == "" {
		return
	}

	kind := channel.KindGroup
	c.mu.Lock()
	if c.directRooms[evt.RoomID] {
		kind = channel.KindDirect
	}
	c.mu.Unlock()

	slog.Debug("matrix message received",
		"sender", evt.Sender,
		"room", evt.RoomID,
		"kind", kind,
		"content", truncate(msgContent.Body, 100),
	)

	in := &channel.Inbound{
		Kind:          kind,
		Channel:       string(evt.RoomID),
		Sender:        string(evt.Sender),
		Self:          string(c.client.UserID),
		Text:          msgContent.Body,
		DirectAddress: c.isDirectAddress(msgContent),
		Origin:        "matrix:" + string(evt.RoomID),
		Timestamp:     evt.Timestamp,
	}

	c.handler(ctx, in)
}

// isDirectAddress reports whether a message explicitly addresses the bot:
// an intentional mention, the bot's user id in the body, or a configured
// wake word prefix.
func (c *Channel) isDirectAddress(msg *event.MessageEventContent) bool {
	if msg.Mentions != nil {
		for _, uid := range msg.Mentions.UserIDs {
			if uid == c.client.UserID {
				return true
			}
		}
	}
	body := strings.ToLower(msg.Body)
	if strings.Contains(body, strings.ToLower(string(c.client.UserID))) {
		return true
	}
	for _, wake := range c.config.WakeWords {
		if wake != "" && strings.HasPrefix(body, strings.ToLower(wake)) {
			return true
		}
	}
	return false
}

func (c *Channel) onMemberEvent(ctx context.Context, evt *event.Event) {
	// Only handle invites for us
	if evt.GetStateKey() != string(c.client.UserID) {
		return
	}

	memberContent := evt.Content.AsMember()
	if memberContent == nil || memberContent.Membership != event.MembershipInvite {
		return
	}

	if !c.inviterAllowed(evt.Sender) {
		slog.Warn("rejecting invite from unauthorized user", "sender", evt.Sender)
		return
	}

	c.mu.Lock()
	c.directRooms[evt.RoomID] = memberContent.IsDirect
	c.mu.Unlock()

	slog.Info("accepting room invite", "room", evt.RoomID, "from", evt.Sender, "direct", memberContent.IsDirect)
	_, err := c.client.JoinRoomByID(ctx, evt.RoomID)
	if err != nil {
		slog.Error("failed to join room", "room", evt.RoomID, "error", err)
	}
}

// --- Credentials ---

func (c *Channel) loadCredentials() error {
	data, err := os.ReadFile(c.credFile)
	if err != nil {
		return err
	}
	var creds credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return err
	}
	c.client.AccessToken = creds.AccessToken
	c.client.UserID = id.UserID(creds.UserID)
	c.client.DeviceID = id.DeviceID(creds.DeviceID)
	return nil
}

func (c *Channel) saveCredentials(creds credentials) {
	data, _ := json.MarshalIndent(creds, "", "  ")
	os.WriteFile(c.credFile, data, 0o600)
}

// --- Helpers ---

func (c *Channel) inviterAllowed(sender id.UserID) bool {
	if len(c.config.AllowedInviters) == 0 || c.config.AllowedInviters[0] == "" {
		return true // no restriction
	}
	for _, allowed := range c.config.AllowedInviters {
		if string(sender) == allowed {
			return true
		}
	}
	return false
}

func splitMessage(s string, maxLen int) []string {
	var chunks []string
	for len(s) > maxLen {
		chunks = append(chunks, s[:maxLen])
		s = s[maxLen:]
	}
	if len(s) > 0 {
		chunks = append(chunks, s)
	}
	return chunks
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
