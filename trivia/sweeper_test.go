package trivia

import (
	"context"
	"testing"
	"time"
)

func TestSweepRemovesIdleWaitingLobbies(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	sweeper := NewSweeper(h.registry, time.Minute, 10*time.Minute, time.Hour, discardLogger())

	playing, _ := h.lobby(testSettings(), []string{"basics"}, "a")
	mustDo(t, playing.Start(ctx, "host"))

	idle, err := h.registry.Create(ctx, Player{ID: "h2", Username: "H2"}, testSettings(), nil, nil)
	mustDo(t, err)

	if n := sweeper.Sweep(ctx); n != 0 {
		t.Fatalf("fresh sweep removed %d lobbies", n)
	}

	h.clock.Advance(11 * time.Minute)

	if n := sweeper.Sweep(ctx); n != 1 {
		t.Fatalf("Sweep removed %d lobbies, want 1", n)
	}

	_, err = h.registry.FindByCode(idle.Code())
	wantErr(t, err, ErrNotFound)
	if _, err := h.registry.LobbyOf("h2"); err == nil {
		t.Fatal("evicted host is still indexed")
	}

	if _, err := h.registry.FindByCode(playing.Code()); err != nil {
		t.Fatalf("in-progress lobby was swept: %v", err)
	}
	if snap := h.snapshot(playing); snap.Status != StatusInProgress {
		t.Fatalf("status = %s", snap.Status)
	}
}

func TestSweepActivityResetsIdleTimer(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	sweeper := NewSweeper(h.registry, time.Minute, 10*time.Minute, time.Hour, discardLogger())

	l, _ := h.lobby(testSettings(), nil, "a")

	h.clock.Advance(9 * time.Minute)
	mustDo(t, l.SetReady(ctx, "a", false))
	h.clock.Advance(9 * time.Minute)

	if n := sweeper.Sweep(ctx); n != 0 {
		t.Fatal("active lobby was swept")
	}
}

func TestSweepKeepsEndedLobbiesForRetention(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	sweeper := NewSweeper(h.registry, time.Minute, 10*time.Minute, time.Hour, discardLogger())

	l, _ := h.lobby(testSettings(), []string{"basics"}, "a")
	mustDo(t, l.Start(ctx, "host"))
	mustDo(t, l.End(ctx, "host"))

	h.clock.Advance(30 * time.Minute)
	if n := sweeper.Sweep(ctx); n != 0 {
		t.Fatal("ended lobby swept before retention elapsed")
	}

	h.clock.Advance(31 * time.Minute)
	if n := sweeper.Sweep(ctx); n != 1 {
		t.Fatalf("Sweep removed %d lobbies, want 1", n)
	}

	_, err := l.Snapshot(ctx)
	wantErr(t, err, ErrNotFound)
}

func TestSweepToleratesRemovedLobby(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	sweeper := NewSweeper(h.registry, time.Minute, 10*time.Minute, time.Hour, discardLogger())

	l, _ := h.lobby(testSettings(), nil)
	l.shutdown()
	<-l.stopped

	if n := sweeper.Sweep(ctx); n != 0 {
		t.Fatal("Sweep counted a stopped lobby as removed")
	}
	if len(h.registry.Lobbies()) != 0 {
		t.Fatal("stopped lobby is still registered")
	}
}

func TestSweeperRunStopsWithContext(t *testing.T) {
	h := newHarness(t)
	sweeper := NewSweeper(h.registry, time.Millisecond, time.Minute, time.Minute, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
