package trivia

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testQuestions() *MemoryQuestions {
	return NewMemoryQuestions(
		QuestionSet{ID: "basics", Title: "Basics", Questions: []Question{
			{ID: "q1", Text: "1+1?", Options: []string{"2", "3", "4", "5"}, Correct: []int{0}},
			{ID: "q2", Text: "2+2?", Options: []string{"3", "4", "5", "6"}, Correct: []int{1}},
			{ID: "q3", Text: "3+3?", Options: []string{"6", "7", "8", "9"}, Correct: []int{0}},
		}},
		QuestionSet{ID: "single", Title: "Single", Questions: []Question{
			{ID: "s1", Text: "Sky?", Options: []string{"blue", "green"}, Correct: []int{0}},
		}},
	)
}

func testSettings() Settings {
	return Settings{
		TimeLimit:     30 * time.Second,
		AllowReplay:   true,
		RequireReady:  true,
		DuelMode:      false,
		MaxPlayers:    8,
		DuelMaxLosses: 2,
		DuelMaxRounds: 20,
		RevealDelay:   time.Hour,
	}
}

type harness struct {
	t        *testing.T
	clock    *fakeClock
	registry *Registry
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	clock := newFakeClock()
	r := NewRegistry(Options{
		Questions:    testQuestions(),
		Logger:       discardLogger(),
		TickInterval: time.Hour,
		Now:          clock.Now,
	})

	t.Cleanup(func() {
		for _, l := range r.Lobbies() {
			_ = r.Remove(l.ID())
		}
	})

	return &harness{t: t, clock: clock, registry: r}
}

func newSub() chan Event {
	return make(chan Event, 256)
}

// lobby creates a lobby hosted by "host" and joins each guest.
func (h *harness) lobby(settings Settings, setIDs []string, guests ...string) (*Lobby, map[string]chan Event) {
	h.t.Helper()

	subs := map[string]chan Event{"host": newSub()}
	l, err := h.registry.Create(context.Background(), Player{ID: "host", Username: "Host"}, settings, setIDs, subs["host"])
	if err != nil {
		h.t.Fatalf("create: %v", err)
	}

	for _, g := range guests {
		subs[g] = newSub()
		if _, err := h.registry.Join(context.Background(), l.Code(), Player{ID: g, Username: g}, subs[g]); err != nil {
			h.t.Fatalf("join %s: %v", g, err)
		}
		if err := l.SetReady(context.Background(), g, true); err != nil {
			h.t.Fatalf("ready %s: %v", g, err)
		}
	}

	return l, subs
}

func (h *harness) snapshot(l *Lobby) Snapshot {
	h.t.Helper()

	snap, err := l.Snapshot(context.Background())
	if err != nil {
		h.t.Fatalf("snapshot: %v", err)
	}
	return snap
}

// drain returns every event already delivered to sub.
func drain(sub chan Event) []Event {
	var out []Event
	for {
		select {
		case ev := <-sub:
			out = append(out, ev)
		default:
			return out
		}
	}
}

// last returns the most recent already-delivered event of type T.
func last[T Event](t *testing.T, sub chan Event) T {
	t.Helper()

	var (
		found T
		ok    bool
	)
	for _, ev := range drain(sub) {
		if v, match := ev.(T); match {
			found, ok = v, true
		}
	}
	if !ok {
		t.Fatalf("no %T event delivered", found)
	}
	return found
}

// await blocks until an event of type T arrives, for timer-driven transitions.
func await[T Event](t *testing.T, sub chan Event) T {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-sub:
			if v, ok := ev.(T); ok {
				return v
			}
		case <-deadline:
			var zero T
			t.Fatalf("timed out waiting for %T", zero)
			return zero
		}
	}
}

func wantErr(t *testing.T, err, target error) {
	t.Helper()

	if !errors.Is(err, target) {
		t.Fatalf("error = %v, want %v", err, target)
	}
}

func mustDo(t *testing.T, err error) {
	t.Helper()

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
