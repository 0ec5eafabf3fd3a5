package trivia

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestCreateAndFind(t *testing.T) {
	h := newHarness(t)
	l, subs := h.lobby(testSettings(), []string{"basics"})

	if len(l.Code()) != 6 {
		t.Fatalf("code %q has length %d, want 6", l.Code(), len(l.Code()))
	}

	found, err := h.registry.FindByCode(" " + strings.ToLower(l.Code()) + " ")
	mustDo(t, err)
	if found != l {
		t.Fatal("FindByCode returned a different lobby")
	}

	byID, err := h.registry.FindByID(l.ID())
	mustDo(t, err)
	if byID != l {
		t.Fatal("FindByID returned a different lobby")
	}

	created := last[LobbyCreated](t, subs["host"])
	if created.Lobby.HostID != "host" || created.Lobby.Status != StatusWaiting {
		t.Fatalf("LobbyCreated = %+v", created.Lobby)
	}

	_, err = h.registry.FindByCode("ZZZZZZ")
	wantErr(t, err, ErrNotFound)
}

func TestCreateRejects(t *testing.T) {
	h := newHarness(t)
	h.lobby(testSettings(), nil)

	_, err := h.registry.Create(context.Background(), Player{ID: "host", Username: "Again"}, testSettings(), nil, nil)
	wantErr(t, err, ErrInvalidTransition)

	_, err = h.registry.Create(context.Background(), Player{ID: "nameless"}, testSettings(), nil, nil)
	wantErr(t, err, ErrInvalidTransition)

	bad := testSettings()
	bad.TimeLimit = 0
	_, err = h.registry.Create(context.Background(), Player{ID: "other", Username: "Other"}, bad, nil, nil)
	wantErr(t, err, ErrInvalidTransition)

	for _, modify := range []func(*Settings){
		func(s *Settings) { s.TimeLimit = MaxTimeLimit + time.Second },
		func(s *Settings) { s.RevealDelay = MaxRevealDelay + time.Second },
	} {
		bad := testSettings()
		modify(&bad)
		_, err = h.registry.Create(context.Background(), Player{ID: "other", Username: "Other"}, bad, nil, nil)
		wantErr(t, err, ErrInvalidTransition)
	}
}

func TestCreateCodeGenerationExhausted(t *testing.T) {
	r := NewRegistry(Options{
		Questions:    testQuestions(),
		Logger:       discardLogger(),
		CodeAttempts: 4,
		NewCode:      func() string { return "SAME42" },
	})
	t.Cleanup(func() {
		for _, l := range r.Lobbies() {
			_ = r.Remove(l.ID())
		}
	})

	first, err := r.Create(context.Background(), Player{ID: "one", Username: "One"}, testSettings(), nil, nil)
	mustDo(t, err)
	if first.Code() != "SAME42" {
		t.Fatalf("code = %q", first.Code())
	}

	_, err = r.Create(context.Background(), Player{ID: "two", Username: "Two"}, testSettings(), nil, nil)
	wantErr(t, err, ErrCodeGenerationExhausted)

	if _, err := r.LobbyOf("two"); err == nil {
		t.Fatal("failed create left the host indexed")
	}
}

func TestJoinRejects(t *testing.T) {
	ctx := context.Background()

	t.Run("capacity", func(t *testing.T) {
		h := newHarness(t)
		s := testSettings()
		s.MaxPlayers = 2
		l, _ := h.lobby(s, nil, "a")

		_, err := h.registry.Join(ctx, l.Code(), Player{ID: "b", Username: "b"}, nil)
		wantErr(t, err, ErrCapacityExceeded)
	})

	t.Run("username taken", func(t *testing.T) {
		h := newHarness(t)
		l, _ := h.lobby(testSettings(), nil, "a")

		_, err := h.registry.Join(ctx, l.Code(), Player{ID: "imposter", Username: "a"}, nil)
		wantErr(t, err, ErrInvalidTransition)
	})

	t.Run("unknown code", func(t *testing.T) {
		h := newHarness(t)

		_, err := h.registry.Join(ctx, "NOPE00", Player{ID: "a", Username: "a"}, nil)
		wantErr(t, err, ErrNotFound)
	})

	t.Run("locked", func(t *testing.T) {
		h := newHarness(t)
		l, _ := h.lobby(testSettings(), nil)
		mustDo(t, l.Lock(ctx, "host", true))

		_, err := h.registry.Join(ctx, l.Code(), Player{ID: "a", Username: "a"}, nil)
		wantErr(t, err, ErrInvalidTransition)
	})

	t.Run("started", func(t *testing.T) {
		h := newHarness(t)
		l, _ := h.lobby(testSettings(), []string{"basics"}, "a")
		mustDo(t, l.Start(ctx, "host"))

		_, err := h.registry.Join(ctx, l.Code(), Player{ID: "late", Username: "late"}, nil)
		wantErr(t, err, ErrInvalidTransition)
	})

	t.Run("already elsewhere", func(t *testing.T) {
		h := newHarness(t)
		l, _ := h.lobby(testSettings(), nil, "a")
		other, err := h.registry.Create(ctx, Player{ID: "h2", Username: "H2"}, testSettings(), nil, nil)
		mustDo(t, err)

		_, err = h.registry.Join(ctx, other.Code(), Player{ID: "a", Username: "a"}, nil)
		wantErr(t, err, ErrInvalidTransition)

		lobby, err := h.registry.LobbyOf("a")
		mustDo(t, err)
		if lobby != l {
			t.Fatal("player index moved to the other lobby")
		}
	})
}

func TestRejoinReconnectsWithoutDuplicating(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	l, _ := h.lobby(testSettings(), nil, "a")

	mustDo(t, h.registry.Disconnect(ctx, "a", nil))
	if p, _ := h.snapshot(l).Player("a"); p.IsConnected {
		t.Fatal("player still connected after Disconnect")
	}

	sub := newSub()
	snap, err := h.registry.Join(ctx, l.Code(), Player{ID: "a", Username: "a"}, sub)
	mustDo(t, err)

	seen := map[string]bool{}
	hosts := 0
	for _, p := range snap.Players {
		if seen[p.ID] {
			t.Fatalf("player %s listed twice", p.ID)
		}
		seen[p.ID] = true
		if p.IsHost {
			hosts++
		}
	}
	if len(snap.Players) != 2 || hosts != 1 {
		t.Fatalf("players=%d hosts=%d, want 2 and 1", len(snap.Players), hosts)
	}

	if p, _ := snap.Player("a"); !p.IsConnected || !p.IsReady {
		t.Fatalf("rejoined player = %+v", p)
	}

	if js := last[JoinSuccess](t, sub); js.PlayerID != "a" {
		t.Fatalf("JoinSuccess for %q", js.PlayerID)
	}
}

func TestStaleDisconnectIsIgnored(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	l, subs := h.lobby(testSettings(), nil, "a")

	newer := newSub()
	_, err := h.registry.Join(ctx, l.Code(), Player{ID: "a", Username: "a"}, newer)
	mustDo(t, err)

	// The old connection closing must not take the new one offline.
	mustDo(t, h.registry.Disconnect(ctx, "a", subs["a"]))

	if p, _ := h.snapshot(l).Player("a"); !p.IsConnected {
		t.Fatal("stale disconnect marked the player offline")
	}
}

func TestLeaveTransfersHostAndRemovesEmptyLobby(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	l, subs := h.lobby(testSettings(), nil, "a", "b")

	mustDo(t, h.registry.Leave(ctx, "host"))

	snap := h.snapshot(l)
	if snap.HostID != "a" {
		t.Fatalf("HostID = %q, want a", snap.HostID)
	}
	hosts := 0
	for _, p := range snap.Players {
		if p.IsHost {
			hosts++
		}
	}
	if hosts != 1 {
		t.Fatalf("%d hosts after transfer", hosts)
	}
	if _, err := h.registry.LobbyOf("host"); err == nil {
		t.Fatal("departed host is still indexed")
	}

	updated := last[LobbyUpdated](t, subs["b"])
	if updated.Lobby.HostID != "a" {
		t.Fatalf("LobbyUpdated host = %q", updated.Lobby.HostID)
	}

	mustDo(t, h.registry.Leave(ctx, "a"))
	mustDo(t, h.registry.Leave(ctx, "b"))

	_, err := h.registry.FindByID(l.ID())
	wantErr(t, err, ErrNotFound)
	_, err = h.registry.FindByCode(l.Code())
	wantErr(t, err, ErrNotFound)

	_, err = l.Snapshot(ctx)
	wantErr(t, err, ErrNotFound)
}

func TestKick(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	l, subs := h.lobby(testSettings(), nil, "a", "b")

	wantErr(t, h.registry.Kick(ctx, "a", "b"), ErrUnauthorized)
	wantErr(t, h.registry.Kick(ctx, "host", "host"), ErrInvalidTransition)
	wantErr(t, h.registry.Kick(ctx, "host", "ghost"), ErrNotFound)

	mustDo(t, h.registry.Kick(ctx, "host", "b"))

	if k := last[Kicked](t, subs["b"]); k.Message == "" {
		t.Fatal("Kicked without a message")
	}
	if _, ok := h.snapshot(l).Player("b"); ok {
		t.Fatal("kicked player is still listed")
	}
	if _, err := h.registry.LobbyOf("b"); err == nil {
		t.Fatal("kicked player is still indexed")
	}

	// A kicked player may come back while the lobby is still waiting.
	_, err := h.registry.Join(ctx, l.Code(), Player{ID: "b", Username: "b"}, nil)
	mustDo(t, err)
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	l, _ := h.lobby(testSettings(), []string{"basics"}, "a", "b")
	mustDo(t, l.Start(ctx, "host"))

	_, err := h.registry.Create(ctx, Player{ID: "h2", Username: "H2"}, testSettings(), nil, nil)
	mustDo(t, err)

	mustDo(t, h.registry.Disconnect(ctx, "b", nil))

	s := h.registry.Stats(ctx)
	if s.Lobbies != 2 || s.Players != 4 || s.ConnectedPlayers != 3 {
		t.Fatalf("stats = %+v", s)
	}
	if s.LobbiesByStatus[StatusWaiting] != 1 || s.LobbiesByStatus[StatusInProgress] != 1 {
		t.Fatalf("by status = %v", s.LobbiesByStatus)
	}
}

func TestConcurrentJoinsKeepOneMembership(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	s := testSettings()
	s.MaxPlayers = 0

	a, _ := h.lobby(s, nil)
	b, err := h.registry.Create(ctx, Player{ID: "h2", Username: "H2"}, s, nil, nil)
	mustDo(t, err)

	for i := range 300 {
		id := fmt.Sprintf("p%d", i)
		p := Player{ID: id, Username: id}

		var wg sync.WaitGroup
		for _, l := range []*Lobby{a, b} {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _ = h.registry.Join(ctx, l.Code(), p, nil)
			}()
		}
		wg.Wait()

		_, inA := h.snapshot(a).Player(id)
		_, inB := h.snapshot(b).Player(id)
		if inA && inB {
			t.Fatalf("trial %d: %s is in both lobbies", i, id)
		}

		owner, err := h.registry.LobbyOf(id)
		switch {
		case inA || inB:
			mustDo(t, err)
			if (inA && owner != a) || (inB && owner != b) {
				t.Fatalf("trial %d: index points at the wrong lobby", i)
			}
			mustDo(t, h.registry.Leave(ctx, id))
		case err == nil:
			t.Fatalf("trial %d: %s is indexed without a lobby", i, id)
		}
	}
}

func TestRejectedJoinReleasesPlayer(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	a, _ := h.lobby(testSettings(), nil)
	mustDo(t, a.Lock(ctx, "host", true))

	b, err := h.registry.Create(ctx, Player{ID: "h2", Username: "H2"}, testSettings(), nil, nil)
	mustDo(t, err)

	_, err = h.registry.Join(ctx, a.Code(), Player{ID: "g", Username: "G"}, nil)
	if err == nil {
		t.Fatal("locked lobby accepted a join")
	}
	if _, err := h.registry.LobbyOf("g"); err == nil {
		t.Fatal("rejected join left the player indexed")
	}

	_, err = h.registry.Join(ctx, b.Code(), Player{ID: "g", Username: "G"}, nil)
	mustDo(t, err)
}
