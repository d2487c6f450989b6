package convo

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakePruner struct {
	n      int
	err    error
	cutoff time.Time
	calls  int
}

func (p *fakePruner) PruneStale(_ context.Context, cutoff time.Time) (int, error) {
	p.calls++
	p.cutoff = cutoff
	return p.n, p.err
}

func TestPruneOnce(t *testing.T) {
	pruner := &fakePruner{n: 3}
	var events []string
	r := NewRetention(pruner, func(typ, msg string) {
		events = append(events, typ+": "+msg)
	}, RetentionConfig{MaxAge: 24 * time.Hour})

	r.PruneOnce(context.Background())

	if pruner.calls != 1 {
		t.Fatalf("PruneStale called %d times, want 1", pruner.calls)
	}
	age := time.Since(pruner.cutoff)
	if age < 23*time.Hour || age > 25*time.Hour {
		t.Errorf("cutoff %v, want roughly 24h ago", pruner.cutoff)
	}
	if len(events) != 1 || events[0] != "status: pruned 3 idle conversations" {
		t.Errorf("events = %v", events)
	}
}

func TestPruneOnceNothingToPrune(t *testing.T) {
	pruner := &fakePruner{n: 0}
	var events []string
	r := NewRetention(pruner, func(typ, msg string) {
		events = append(events, typ)
	}, RetentionConfig{})

	r.PruneOnce(context.Background())

	if len(events) != 0 {
		t.Errorf("events = %v, want none for an empty prune", events)
	}
}

func TestPruneOnceError(t *testing.T) {
	pruner := &fakePruner{err: errors.New("db gone")}
	var events []string
	r := NewRetention(pruner, func(typ, msg string) {
		events = append(events, typ)
	}, RetentionConfig{})

	r.PruneOnce(context.Background())

	if len(events) != 1 || events[0] != "error" {
		t.Errorf("events = %v, want one error event", events)
	}
}

func TestRetentionDefaults(t *testing.T) {
	r := NewRetention(&fakePruner{}, nil, RetentionConfig{})
	if r.interval != 6*time.Hour {
		t.Errorf("interval = %v", r.interval)
	}
	if r.maxAge != 30*24*time.Hour {
		t.Errorf("maxAge = %v", r.maxAge)
	}
}

func TestRetentionRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := NewRetention(&fakePruner{}, nil, RetentionConfig{Interval: time.Hour})

	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("retention worker did not stop on cancel")
	}
}
