package trivia

import (
	"slices"
	"testing"
	"time"
)

func duelOf(ids ...string) *DuelState {
	players := make([]Player, 0, len(ids))
	for _, id := range ids {
		players = append(players, Player{ID: id})
	}
	return newDuel(players, 2)
}

func TestNewDuelSeedsByScoreThenJoinOrder(t *testing.T) {
	d := newDuel([]Player{
		{ID: "a", Score: 100},
		{ID: "b", Score: 300},
		{ID: "c", Score: 100},
		{ID: "d", Score: 200},
	}, 2)

	want := []string{"b", "d", "a", "c"}
	if !slices.Equal(d.Queue, want) {
		t.Fatalf("Queue = %v, want %v", d.Queue, want)
	}
	if len(d.Pair) != 0 {
		t.Fatalf("Pair = %v, want empty", d.Pair)
	}
}

func TestDuelRotation(t *testing.T) {
	d := duelOf("A", "B", "C")

	if !d.advance() {
		t.Fatal("advance failed with three players")
	}
	if !slices.Equal(d.Pair, []string{"A", "B"}) || !slices.Equal(d.Queue, []string{"C"}) {
		t.Fatalf("pair=%v queue=%v, want (A,B) [C]", d.Pair, d.Queue)
	}

	out := d.resolve(
		duelAnswer{answered: true, correct: true, elapsed: time.Second},
		duelAnswer{answered: true, correct: false, elapsed: time.Second},
	)
	if out.Winner != "A" || out.Loser != "B" || out.Eliminated {
		t.Fatalf("outcome = %+v", out)
	}
	if d.Wins["A"] != 1 {
		t.Fatalf("Wins[A] = %d, want 1", d.Wins["A"])
	}
	if !slices.Equal(d.Queue, []string{"C", "B"}) {
		t.Fatalf("Queue = %v, want [C B]", d.Queue)
	}

	if !d.advance() {
		t.Fatal("second advance failed")
	}
	if !slices.Equal(d.Pair, []string{"A", "C"}) || !slices.Equal(d.Queue, []string{"B"}) {
		t.Fatalf("pair=%v queue=%v, want (A,C) [B]", d.Pair, d.Queue)
	}
}

func TestDuelEliminatesAfterMaxLosses(t *testing.T) {
	d := duelOf("A", "B", "C")
	win := duelAnswer{answered: true, correct: true, elapsed: time.Second}
	lose := duelAnswer{answered: true, correct: false, elapsed: time.Second}

	rounds := 0
	for d.advance() {
		rounds++
		if rounds > 10 {
			t.Fatal("duel never finished")
		}
		// The seated player always wins.
		d.resolve(win, lose)
	}

	if !slices.Equal(d.Eliminated, []string{"B", "C"}) {
		t.Fatalf("Eliminated = %v, want [B C]", d.Eliminated)
	}
	if d.Wins["A"] != 4 || d.Losses["B"] != 2 || d.Losses["C"] != 2 {
		t.Fatalf("wins=%v losses=%v", d.Wins, d.Losses)
	}
}

func TestDuelTieKeepsBothWithoutWins(t *testing.T) {
	d := duelOf("A", "B", "C")
	d.advance()

	timedOut := duelAnswer{elapsed: 10 * time.Second}
	out := d.resolve(timedOut, timedOut)

	if !out.Tie || out.Winner != "" {
		t.Fatalf("outcome = %+v, want tie", out)
	}
	if len(d.Wins) != 0 || len(d.Losses) != 0 {
		t.Fatalf("tie changed counts: wins=%v losses=%v", d.Wins, d.Losses)
	}
	if !slices.Equal(d.Queue, []string{"C", "A", "B"}) || len(d.Pair) != 0 {
		t.Fatalf("pair=%v queue=%v", d.Pair, d.Queue)
	}
}

func TestJudge(t *testing.T) {
	tests := []struct {
		name string
		a, b duelAnswer
		want int
	}{
		{"only a correct", duelAnswer{correct: true, elapsed: 9}, duelAnswer{elapsed: 1}, 0},
		{"only b correct", duelAnswer{elapsed: 1}, duelAnswer{correct: true, elapsed: 9}, 1},
		{"both correct, b faster", duelAnswer{correct: true, elapsed: 5}, duelAnswer{correct: true, elapsed: 3}, 1},
		{"both wrong, a faster", duelAnswer{elapsed: 2}, duelAnswer{elapsed: 3}, 0},
		{"identical", duelAnswer{elapsed: 3}, duelAnswer{elapsed: 3}, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := judge(tt.a, tt.b); got != tt.want {
				t.Fatalf("judge = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestDuelForfeit(t *testing.T) {
	d := duelOf("A", "B", "C")
	d.advance()

	out, ok := d.forfeit("B")
	if !ok || out.Winner != "A" || !out.Forfeit {
		t.Fatalf("forfeit = %+v, %v", out, ok)
	}
	if d.inPair("B") || slices.Contains(d.Queue, "B") {
		t.Fatalf("B still present: pair=%v queue=%v", d.Pair, d.Queue)
	}

	if _, ok := d.forfeit("C"); ok {
		t.Fatal("queued player forfeit should not award a win")
	}
	if d.advance() {
		t.Fatal("advance should fail with one player left")
	}
}

func TestDuelMembershipIsExclusive(t *testing.T) {
	d := duelOf("A", "B", "C", "D")
	lose := duelAnswer{elapsed: 2}
	win := duelAnswer{correct: true, elapsed: 1}

	for i := 0; d.advance() && i < 20; i++ {
		seen := map[string]int{}
		for _, id := range append(slices.Clone(d.Pair), d.Queue...) {
			seen[id]++
			if seen[id] > 1 {
				t.Fatalf("round %d: %s appears twice (pair=%v queue=%v)", i, id, d.Pair, d.Queue)
			}
		}
		if i%2 == 0 {
			d.resolve(win, lose)
		} else {
			d.resolve(lose, win)
		}
	}
}

func TestDuelForfeitBetweenRoundsAwardsNothing(t *testing.T) {
	d := duelOf("A", "B", "C")
	d.advance()
	d.resolve(duelAnswer{correct: true, elapsed: 1}, duelAnswer{elapsed: 2})

	if len(d.Pair) != 1 {
		t.Fatalf("pair after resolve = %v", d.Pair)
	}
	if out, ok := d.forfeit("A"); ok {
		t.Fatalf("forfeit with no opponent = %+v", out)
	}
	if d.Wins["B"] != 0 || d.Wins["C"] != 0 {
		t.Fatalf("wins = %v", d.Wins)
	}
}
