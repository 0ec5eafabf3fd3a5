package trivia

import "time"

type clockKind int

const (
	clockQuestion clockKind = iota
	clockReveal
	clockDuel
)

// sessionClock is a lobby's single countdown. Each arm bumps the generation,
// and the lobby drops any tick or expiry posted under an older one.
type sessionClock struct {
	gen      uint64
	deadline time.Time
	stop     chan struct{}
}

// arm cancels any running countdown and starts a new one. post delivers
// intents into the lobby queue; it must give up when done is closed.
func (c *sessionClock) arm(now time.Time, d, tick time.Duration, kind clockKind, post func(intent, <-chan struct{})) uint64 {
	c.disarm()

	c.gen++
	c.deadline = now.Add(d)
	c.stop = make(chan struct{})

	go countdown(c.gen, d, tick, kind, c.stop, post)

	return c.gen
}

func (c *sessionClock) disarm() {
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
}

func (c *sessionClock) remaining(now time.Time) time.Duration {
	return max(c.deadline.Sub(now), 0)
}

func countdown(gen uint64, d, tick time.Duration, kind clockKind, stop chan struct{}, post func(intent, <-chan struct{})) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	var ticks <-chan time.Time
	if tick > 0 {
		ticker := time.NewTicker(tick)
		defer ticker.Stop()
		ticks = ticker.C
	}

	for {
		select {
		case <-stop:
			return
		case <-ticks:
			post(clockTick{gen: gen}, stop)
		case <-timer.C:
			post(clockExpired{gen: gen, kind: kind}, stop)
			return
		}
	}
}
