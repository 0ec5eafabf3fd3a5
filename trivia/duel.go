package trivia

import (
	"maps"
	"slices"
	"sort"
	"time"
)

// DuelState tracks the king-of-the-hill rotation. The winner of a round keeps
// their seat, the loser goes to the back of the queue until they run out of
// lives.
type DuelState struct {
	Pair       []string       `json:"pair"`
	Queue      []string       `json:"queue"`
	Wins       map[string]int `json:"wins"`
	Losses     map[string]int `json:"losses"`
	Eliminated []string       `json:"eliminated"`
	Round      int            `json:"round"`

	maxLosses int
}

// duelAnswer is one paired player's response to a duel question.
type duelAnswer struct {
	answered bool
	correct  bool
	elapsed  time.Duration
}

// DuelOutcome describes how a round resolved.
type DuelOutcome struct {
	Winner     string `json:"winner,omitempty"`
	Loser      string `json:"loser,omitempty"`
	Tie        bool   `json:"tie"`
	Forfeit    bool   `json:"forfeit"`
	Eliminated bool   `json:"eliminated"`
}

// newDuel seeds the queue by score, highest first, breaking ties by join order.
func newDuel(players []Player, maxLosses int) *DuelState {
	ordered := slices.Clone(players)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Score > ordered[j].Score
	})

	d := &DuelState{
		Pair:      []string{},
		Queue:     make([]string, 0, len(ordered)),
		Wins:      make(map[string]int, len(ordered)),
		Losses:    make(map[string]int, len(ordered)),
		maxLosses: maxLosses,
	}
	for _, p := range ordered {
		d.Queue = append(d.Queue, p.ID)
	}

	return d
}

// advance fills the pair from the front of the queue. It reports false when
// fewer than two players are available, which ends the phase.
func (d *DuelState) advance() bool {
	for len(d.Pair) < 2 && len(d.Queue) > 0 {
		d.Pair = append(d.Pair, d.Queue[0])
		d.Queue = d.Queue[1:]
	}
	if len(d.Pair) < 2 {
		return false
	}
	d.Round++
	return true
}

func (d *DuelState) inPair(id string) bool {
	return slices.Contains(d.Pair, id)
}

// judge picks a winner: a lone correct answer wins, otherwise the faster
// responder does. Returns -1 for an unresolved tie.
func judge(a, b duelAnswer) int {
	if a.correct != b.correct {
		if a.correct {
			return 0
		}
		return 1
	}
	switch {
	case a.elapsed < b.elapsed:
		return 0
	case b.elapsed < a.elapsed:
		return 1
	}
	return -1
}

// resolve settles the current round from both paired players' answers.
func (d *DuelState) resolve(a, b duelAnswer) DuelOutcome {
	switch judge(a, b) {
	case 0:
		return d.award(d.Pair[0], d.Pair[1])
	case 1:
		return d.award(d.Pair[1], d.Pair[0])
	}

	d.Queue = append(d.Queue, d.Pair...)
	d.Pair = []string{}
	return DuelOutcome{Tie: true}
}

// forfeit removes id from the duel entirely. If id was paired, the opponent
// wins the round.
func (d *DuelState) forfeit(id string) (DuelOutcome, bool) {
	d.Queue = slices.DeleteFunc(d.Queue, func(q string) bool { return q == id })

	if !d.inPair(id) {
		return DuelOutcome{}, false
	}

	var opponent string
	for _, p := range d.Pair {
		if p != id {
			opponent = p
		}
	}

	d.Pair = slices.DeleteFunc(d.Pair, func(p string) bool { return p == id })
	if opponent == "" {
		return DuelOutcome{}, false
	}

	d.Wins[opponent]++
	d.Eliminated = append(d.Eliminated, id)
	return DuelOutcome{Winner: opponent, Loser: id, Forfeit: true, Eliminated: true}, true
}

func (d *DuelState) award(winner, loser string) DuelOutcome {
	d.Wins[winner]++
	d.Losses[loser]++
	d.Pair = []string{winner}

	out := DuelOutcome{Winner: winner, Loser: loser}
	if d.maxLosses > 0 && d.Losses[loser] >= d.maxLosses {
		d.Eliminated = append(d.Eliminated, loser)
		out.Eliminated = true
	} else {
		d.Queue = append(d.Queue, loser)
	}

	return out
}

func (d *DuelState) clone() *DuelState {
	if d == nil {
		return nil
	}
	c := *d
	c.Pair = slices.Clone(d.Pair)
	c.Queue = slices.Clone(d.Queue)
	c.Eliminated = slices.Clone(d.Eliminated)
	c.Wins = maps.Clone(d.Wins)
	c.Losses = maps.Clone(d.Losses)
	return &c
}
