package trivia

import (
	"math"
	"time"
)

// MultiplierStep applies Multiplier once a player's streak reaches Streak.
type MultiplierStep struct {
	Streak     int
	Multiplier float64
}

type ScorePolicy struct {
	BasePoints     int
	MinSpeedFactor float64
	FastestBonus   int
	// Steps must be sorted by ascending Streak with non-decreasing Multiplier.
	Steps []MultiplierStep
}

var DefaultScorePolicy = ScorePolicy{
	BasePoints:     1000,
	MinSpeedFactor: 0.5,
	FastestBonus:   250,
	Steps: []MultiplierStep{
		{Streak: 3, Multiplier: 1.5},
		{Streak: 5, Multiplier: 2},
		{Streak: 8, Multiplier: 3},
	},
}

// ScoreEvent is the outcome of one answer. It is applied to the player and
// then discarded.
type ScoreEvent struct {
	PlayerID      string        `json:"playerId"`
	QuestionID    string        `json:"questionId"`
	Correct       bool          `json:"correct"`
	Elapsed       time.Duration `json:"-"`
	SpeedFactor   float64       `json:"speedFactor"`
	AwardedPoints int           `json:"awardedPoints"`
	NewStreak     int           `json:"newStreak"`
	NewMultiplier float64       `json:"newMultiplier"`
	WasFastest    bool          `json:"wasFastest"`
}

func (p ScorePolicy) multiplier(streak int) float64 {
	m := 1.0
	for _, s := range p.Steps {
		if streak < s.Streak {
			break
		}
		m = max(m, s.Multiplier)
	}
	return m
}

// SpeedFactor falls linearly from 1 at zero elapsed time to MinSpeedFactor
// at the time limit.
func (p ScorePolicy) SpeedFactor(elapsed, limit time.Duration) float64 {
	if limit <= 0 || elapsed <= 0 {
		return 1
	}
	frac := min(float64(elapsed)/float64(limit), 1)
	return 1 - (1-p.MinSpeedFactor)*frac
}

// Score is pure: it reads player and returns the event without mutating anything.
// An answer of -1 means the player ran out of time.
func (p ScorePolicy) Score(player Player, q Question, answer int, elapsed, limit time.Duration, firstCorrect bool) ScoreEvent {
	ev := ScoreEvent{
		PlayerID:      player.ID,
		QuestionID:    q.ID,
		Correct:       answer >= 0 && q.isCorrect(answer),
		Elapsed:       min(elapsed, limit),
		NewMultiplier: 1,
	}

	if !ev.Correct {
		return ev
	}

	ev.NewStreak = player.CurrentStreak + 1
	ev.NewMultiplier = p.multiplier(ev.NewStreak)
	ev.SpeedFactor = p.SpeedFactor(ev.Elapsed, limit)
	ev.AwardedPoints = int(math.Round(float64(p.BasePoints) * ev.SpeedFactor * ev.NewMultiplier))

	if firstCorrect {
		ev.WasFastest = true
		ev.AwardedPoints += p.FastestBonus
	}

	return ev
}
