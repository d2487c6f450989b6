package convo

import (
	"context"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(t.TempDir())
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCurrentConversationEmpty(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.CurrentConversationID(ctx, "matrix:!room:example.org")
	if err != nil {
		t.Fatalf("CurrentConversationID: %v", err)
	}
	if id != "" {
		t.Errorf("CurrentConversationID = %q, want empty", id)
	}
}

func TestConversationAbsent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	c, err := s.Conversation(ctx, "matrix:!room:example.org", "missing")
	if err != nil {
		t.Fatalf("Conversation: %v", err)
	}
	if c != nil {
		t.Errorf("Conversation = %+v, want nil", c)
	}
}

func TestSaveAndFetch(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	origin := "matrix:!room:example.org"

	if err := s.SaveConversation(ctx, origin, "conv-1", `[{"role":"user","content":"hi"}]`); err != nil {
		t.Fatalf("SaveConversation: %v", err)
	}

	c, err := s.Conversation(ctx, origin, "conv-1")
	if err != nil {
		t.Fatalf("Conversation: %v", err)
	}
	if c == nil {
		t.Fatal("Conversation = nil after save")
	}
	if c.History != `[{"role":"user","content":"hi"}]` {
		t.Errorf("History = %q", c.History)
	}

	// Upsert replaces history
	if err := s.SaveConversation(ctx, origin, "conv-1", `[]`); err != nil {
		t.Fatalf("SaveConversation (upsert): %v", err)
	}
	c, err = s.Conversation(ctx, origin, "conv-1")
	if err != nil {
		t.Fatalf("Conversation after upsert: %v", err)
	}
	if c.History != "[]" {
		t.Errorf("History after upsert = %q, want []", c.History)
	}
}

func TestSetCurrent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	origin := "matrix:!room:example.org"

	if err := s.SetCurrent(ctx, origin, "conv-1"); err != nil {
		t.Fatalf("SetCurrent: %v", err)
	}
	id, err := s.CurrentConversationID(ctx, origin)
	if err != nil {
		t.Fatalf("CurrentConversationID: %v", err)
	}
	if id != "conv-1" {
		t.Errorf("CurrentConversationID = %q, want conv-1", id)
	}

	// Rebinding replaces the previous binding
	if err := s.SetCurrent(ctx, origin, "conv-2"); err != nil {
		t.Fatalf("SetCurrent (rebind): %v", err)
	}
	id, _ = s.CurrentConversationID(ctx, origin)
	if id != "conv-2" {
		t.Errorf("CurrentConversationID after rebind = %q, want conv-2", id)
	}
}

func TestOriginsIsolated(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.SaveConversation(ctx, "origin-a", "shared-id", `["a"]`); err != nil {
		t.Fatalf("SaveConversation a: %v", err)
	}
	c, err := s.Conversation(ctx, "origin-b", "shared-id")
	if err != nil {
		t.Fatalf("Conversation: %v", err)
	}
	if c != nil {
		t.Errorf("conversation leaked across origins: %+v", c)
	}
}

func TestPruneStale(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	origin := "matrix:!room:example.org"

	if err := s.SaveConversation(ctx, origin, "old", "[]"); err != nil {
		t.Fatalf("SaveConversation: %v", err)
	}
	if err := s.SetCurrent(ctx, origin, "old"); err != nil {
		t.Fatalf("SetCurrent: %v", err)
	}

	// Cutoff in the future: everything just written is stale relative to it.
	n, err := s.PruneStale(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("PruneStale: %v", err)
	}
	if n != 1 {
		t.Errorf("PruneStale removed %d, want 1", n)
	}

	c, _ := s.Conversation(ctx, origin, "old")
	if c != nil {
		t.Errorf("conversation survived prune: %+v", c)
	}
	id, _ := s.CurrentConversationID(ctx, origin)
	if id != "" {
		t.Errorf("current binding survived prune: %q", id)
	}

	// Cutoff in the past: nothing to prune.
	if err := s.SaveConversation(ctx, origin, "fresh", "[]"); err != nil {
		t.Fatalf("SaveConversation: %v", err)
	}
	n, err = s.PruneStale(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("PruneStale (past cutoff): %v", err)
	}
	if n != 0 {
		t.Errorf("PruneStale removed %d, want 0", n)
	}
}
