// Package daemon wires the earshot process together: the Matrix adapter,
// the relevance-gated router, the escalation engine, conversation
// persistence, and the HTTP API.
package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/earshot-labs/earshot/internal/channel/matrix"
	"github.com/earshot-labs/earshot/internal/convo"
	"github.com/earshot-labs/earshot/internal/engine"
	"github.com/earshot-labs/earshot/internal/history"
	"github.com/earshot-labs/earshot/internal/listen"
	"github.com/earshot-labs/earshot/internal/llm"
	"github.com/earshot-labs/earshot/pkg/channel"
)

// Daemon is the main earshot process.
type Daemon struct {
	config *Config
	convos convo.Manager
	matrix *matrix.Channel

	router   *listen.Router
	resolver *listen.SessionResolver
	engine   *engine.Engine

	events    *EventBus
	retention *convo.Retention

	startedAt time.Time
	healthy   bool
}

// New creates a daemon over an already-opened conversation store.
func New(store convo.Manager, cfg *Config) (*Daemon, error) {
	d := &Daemon{
		config:    cfg,
		convos:    store,
		events:    NewEventBus(),
		startedAt: time.Now(),
	}

	d.matrix = matrix.New(matrix.Config{
		Homeserver:      cfg.Matrix.Homeserver,
		UserID:          cfg.Matrix.UserID,
		Password:        cfg.Matrix.Password,
		ServerName:      cfg.Matrix.ServerName,
		AllowedInviters: cfg.Matrix.AllowedInviters,
		WakeWords:       cfg.Matrix.WakeWords,
		DataDir:         cfg.Matrix.DataDir,
	})

	engineProvider := buildProvider(cfg.Engine)
	if engineProvider != nil {
		d.engine = engine.New(engineProvider, store, d.matrix, engine.Config{
			System:      cfg.EngineSystemPrompt(),
			MaxOutput:   cfg.Engine.MaxOutput,
			Temperature: cfg.Engine.Temperature,
		})
		slog.Info("engine provider configured",
			"provider", cfg.Engine.Provider, "model", cfg.Engine.Model)
	} else {
		slog.Warn("no engine provider configured — messages will be recorded but never answered")
	}

	var classifier *listen.Classifier
	if d.engine != nil {
		if p := buildProvider(cfg.Classifier); p != nil {
			classifier = listen.NewClassifier(p, cfg.ClassifierSystemPrompt(), cfg.Character)
			slog.Info("classifier provider configured",
				"provider", cfg.Classifier.Provider, "model", cfg.Classifier.Model)
		}
	}

	d.resolver = listen.NewSessionResolver(store)

	deps := listen.Deps{
		History:    history.New(cfg.HistoryWindow),
		Classifier: classifier,
		Resolver:   d.resolver,
		OnDecision: func(channelID string, outcome listen.Outcome) {
			d.events.Publish(Event{Type: EventDecision, Channel: channelID, Outcome: outcome.String()})
		},
	}
	if d.engine != nil {
		deps.Sink = d.engine
	}
	d.router = listen.NewRouter(listen.Config{
		Enabled:   cfg.Enabled,
		Character: cfg.Character,
		Whitelist: cfg.Whitelist,
	}, deps)

	d.matrix.Intercept(d.router.HandleOutbound)

	// Retention worker needs a store that supports pruning.
	if !cfg.Retention.Disabled {
		if pruner, ok := store.(convo.Pruner); ok {
			rcfg := convo.DefaultRetentionConfig()
			if cfg.Retention.Interval != "" {
				if parsed, err := time.ParseDuration(cfg.Retention.Interval); err == nil {
					rcfg.Interval = parsed
				}
			}
			if cfg.Retention.MaxAge != "" {
				if parsed, err := time.ParseDuration(cfg.Retention.MaxAge); err == nil {
					rcfg.MaxAge = parsed
				}
			}
			d.retention = convo.NewRetention(pruner, func(typ, msg string) {
				d.events.Publish(Event{Type: EventStatus, Message: "[retention] " + msg})
			}, rcfg)
		} else {
			slog.Info("store does not support pruning, retention disabled")
		}
	} else {
		slog.Info("retention worker disabled by config")
	}

	return d, nil
}

// buildProvider constructs an LLM provider from config, or nil when the
// config is incomplete. "anthropic" is native, "kimi" speaks the Anthropic
// wire format at a custom base URL, anything else is OpenAI-compatible.
func buildProvider(cfg ProviderConfig) llm.Provider {
	if cfg.APIKey == "" {
		return nil
	}
	switch cfg.Provider {
	case "anthropic", "":
		return llm.NewAnthropic(cfg.APIKey, cfg.Model)
	case "kimi":
		if cfg.BaseURL == "" {
			return nil
		}
		return llm.NewAnthropicCompat(cfg.Provider, cfg.BaseURL, cfg.APIKey, cfg.Model)
	default:
		if cfg.BaseURL == "" {
			return nil
		}
		return llm.NewOpenAICompat(cfg.Provider, cfg.BaseURL, cfg.APIKey, cfg.Model)
	}
}

// Run starts the daemon event loop. Blocks until ctx is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	slog.Info("earshot daemon running",
		"name", d.config.Name,
		"matrix", d.config.Matrix.Homeserver,
		"character", d.config.Character,
		"whitelist", len(d.config.Whitelist),
		"enabled", d.config.Enabled,
	)

	go d.serveAPI(ctx)

	if d.retention != nil {
		go d.retention.Run(ctx)
	}

	// Start Matrix listener in background
	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting matrix adapter")
		if err := d.matrix.Start(ctx, d.onInbound); err != nil {
			errCh <- err
		}
	}()

	// Mark healthy once Matrix starts syncing (give it a moment)
	go func() {
		time.Sleep(2 * time.Second)
		d.healthy = true
	}()

	select {
	case <-ctx.Done():
		slog.Info("context cancelled, shutting down")
	case err := <-errCh:
		if err != nil && ctx.Err() == nil {
			return fmt.Errorf("matrix adapter fatal error: %w", err)
		}
	}

	// Graceful shutdown
	d.healthy = false
	d.matrix.Stop()
	d.router.Close()

	slog.Info("earshot daemon shutting down")
	return nil
}

// onInbound handles every message from the adapter. The router makes the
// call; direct addresses that it only records get the default response
// path, which always answers without consulting the classifier.
func (d *Daemon) onInbound(ctx context.Context, in *channel.Inbound) {
	outcome := d.router.HandleInbound(ctx, in)

	if outcome == listen.OutcomeRecorded && in.DirectAddress && d.engine != nil {
		d.respondDirect(ctx, in)
	}
}

// respondDirect answers a direct address immediately.
func (d *Daemon) respondDirect(ctx context.Context, in *channel.Inbound) {
	prompt := listen.Normalize(in.Text)
	esc := d.resolver.Resolve(ctx, in.Channel, in.Origin)

	err := d.engine.Escalate(ctx, listen.EscalationRequest{
		Prompt:       prompt,
		Channel:      in.Channel,
		Origin:       in.Origin,
		SessionID:    esc.SessionID,
		Prior:        esc.Prior,
		Conversation: esc.Conversation,
	})
	if err != nil {
		slog.Error("direct response failed", "channel", in.Channel, "error", err)
		d.events.Publish(Event{Type: EventError, Channel: in.Channel, Message: err.Error()})
		return
	}
	in.Halt()
	d.events.Publish(Event{Type: EventReply, Channel: in.Channel})
}

// serveAPI runs the daemon's HTTP API.
// Endpoints:
//   - GET /health — health check
//   - GET /v1/events — decision stream (SSE)
//   - GET /v1/history — rolling history for one channel
func (d *Daemon) serveAPI(ctx context.Context) {
	addr := d.config.HTTPAddr
	if addr == "" {
		addr = ":8080"
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if d.healthy {
			w.WriteHeader(http.StatusOK)
			fmt.Fprintf(w, `{"status":"ok","uptime":"%s"}`, time.Since(d.startedAt).Round(time.Second))
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprint(w, `{"status":"starting"}`)
		}
	})
	mux.HandleFunc("/v1/events", d.handleEvents)
	mux.HandleFunc("/v1/history", d.handleHistory)

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	slog.Info("API listening", "addr", addr, "endpoints", []string{"/health", "/v1/events", "/v1/history"})
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		slog.Warn("API server error", "error", err)
	}
}

// handleEvents streams the decision bus over SSE. New connections are
// hydrated with recent events first.
func (d *Daemon) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, done := d.events.Subscribe()
	defer d.events.Unsubscribe(done)

	for _, e := range d.events.Recent(50) {
		fmt.Fprintf(w, "data: %s\n\n", e.MarshalEvent())
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", e.MarshalEvent())
			flusher.Flush()
		}
	}
}

// historyResponse is the JSON response for /v1/history.
type historyResponse struct {
	Channel string        `json:"channel"`
	Turns   []historyTurn `json:"turns"`
}

type historyTurn struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// handleHistory serves the rolling history for a channel.
// Query params:
//   - channel: channel (room) identity (required)
func (d *Daemon) handleHistory(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		fmt.Fprint(w, `{"error":"method not allowed"}`)
		return
	}

	channelID := r.URL.Query().Get("channel")
	if channelID == "" {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"missing required parameter: channel"}`)
		return
	}

	resp := historyResponse{Channel: channelID, Turns: []historyTurn{}}
	for _, t := range d.router.Snapshot(channelID) {
		resp.Turns = append(resp.Turns, historyTurn{Speaker: t.Speaker, Text: t.Text})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(resp); err != nil {
		slog.Warn("failed to encode history response", "error", err)
	}
}
