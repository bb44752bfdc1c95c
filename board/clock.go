package board

import (
	"sync"
	"time"
)

// clock hands out strictly increasing UTC timestamps with microsecond resolution (the finest resolution all
// stores keep), so that creation times never tie within one process.
type clock struct {
	mu   sync.Mutex
	last time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now().UTC().Truncate(time.Microsecond)
	if !now.After(c.last) {
		now = c.last.Add(time.Microsecond)
	}
	c.last = now
	return now
}

// roomLocks serializes the writes of one room.
type roomLocks struct {
	locks sync.Map
}

func (l *roomLocks) lock(roomId string) func() {
	v, _ := l.locks.LoadOrStore(roomId, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}
