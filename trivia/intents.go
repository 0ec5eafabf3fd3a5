package trivia

import (
	"context"
	"time"
)

// intent is everything a lobby actor can be asked to do. Client intents and
// clock callbacks share one queue so they are applied strictly in order.
type intent interface {
	intent()
}

type (
	joinIntent struct {
		player Player
		sub    chan<- Event
	}
	leaveIntent struct {
		playerID string
	}
	kickIntent struct {
		playerID string
		target   string
	}
	disconnectIntent struct {
		playerID string
		sub      chan<- Event
	}
	readyIntent struct {
		playerID string
		ready    bool
	}
	startIntent struct {
		playerID string
	}
	answerIntent struct {
		playerID string
		answer   int
	}
	nextIntent struct {
		playerID string
	}
	endIntent struct {
		playerID string
	}
	replayIntent struct {
		playerID string
	}
	settingsIntent struct {
		playerID string
		settings Settings
	}
	lockIntent struct {
		playerID string
		locked   bool
	}
	snapshotIntent struct{}
	sweepIntent    struct {
		now        time.Time
		waitingTTL time.Duration
		endedTTL   time.Duration
	}
	clockTick struct {
		gen uint64
	}
	clockExpired struct {
		gen  uint64
		kind clockKind
	}
)

func (joinIntent) intent()       {}
func (leaveIntent) intent()      {}
func (kickIntent) intent()       {}
func (disconnectIntent) intent() {}
func (readyIntent) intent()      {}
func (startIntent) intent()      {}
func (answerIntent) intent()     {}
func (nextIntent) intent()       {}
func (endIntent) intent()        {}
func (replayIntent) intent()     {}
func (settingsIntent) intent()   {}
func (lockIntent) intent()       {}
func (snapshotIntent) intent()   {}
func (sweepIntent) intent()      {}
func (clockTick) intent()        {}
func (clockExpired) intent()     {}

type request struct {
	ctx   context.Context
	in    intent
	reply chan result
}

type result struct {
	snap      Snapshot
	remaining int
	evict     bool
	member    bool
	err       error
}
