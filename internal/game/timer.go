package game

import (
	"sync"
	"time"
)

// Coordinator owns the single authoritative countdown per lobby. A countdown
// starts when a question opens, ticks down once per interval, and on zero
// fires the expire callback for its (lobby, index) pair. It is discarded on
// any phase or index change; no countdown survives its question.
type Coordinator struct {
	tick   time.Duration
	expire func(lobbyID string, index int)

	mu         sync.Mutex
	countdowns map[string]*countdown
}

type countdown struct {
	index     int
	remaining int
	stop      chan struct{}
}

func NewCoordinator(tick time.Duration, expire func(lobbyID string, index int)) *Coordinator {
	return &Coordinator{
		tick:       tick,
		expire:     expire,
		countdowns: make(map[string]*countdown),
	}
}

// Start begins a countdown of the given seconds for a question index,
// replacing any countdown already running for the lobby.
func (c *Coordinator) Start(lobbyID string, index, seconds int) {
	cd := &countdown{index: index, remaining: seconds, stop: make(chan struct{})}

	c.mu.Lock()
	if prev, ok := c.countdowns[lobbyID]; ok {
		close(prev.stop)
	}
	c.countdowns[lobbyID] = cd
	c.mu.Unlock()

	go c.run(lobbyID, cd)
}

// Cancel discards the lobby's countdown, if any.
func (c *Coordinator) Cancel(lobbyID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cd, ok := c.countdowns[lobbyID]; ok {
		close(cd.stop)
		delete(c.countdowns, lobbyID)
	}
}

// Remaining reports the seconds left for the lobby's active countdown.
func (c *Coordinator) Remaining(lobbyID string) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cd, ok := c.countdowns[lobbyID]
	if !ok {
		return 0, false
	}
	return cd.remaining, true
}

func (c *Coordinator) run(lobbyID string, cd *countdown) {
	ticker := time.NewTicker(c.tick)
	defer ticker.Stop()

	for {
		select {
		case <-cd.stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			cd.remaining--
			expired := cd.remaining <= 0
			if expired {
				// Drop the entry only if it is still ours.
				if cur, ok := c.countdowns[lobbyID]; ok && cur == cd {
					delete(c.countdowns, lobbyID)
				}
			}
			c.mu.Unlock()
			if expired {
				// The callback re-checks the phase before writing, so firing
				// after an all-answered reveal is harmless.
				c.expire(lobbyID, cd.index)
				return
			}
		}
	}
}
