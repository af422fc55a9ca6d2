package effects

import (
	"go.uber.org/zap"
)

// taker is one blocked Take registration.
type taker struct {
	pattern Pattern
	resume  func(Event)
	removed bool
}

// channel matches published events against blocked takers.
// It is owned by the scheduler loop and never touched concurrently.
type channel struct {
	takers  []*taker
	removed int
	logger  *zap.Logger
}

func newChannel(logger *zap.Logger) *channel {
	return &channel{logger: logger}
}

func (c *channel) register(pattern Pattern, resume func(Event)) *taker {
	if pattern == nil {
		pattern = Wildcard
	}
	tk := &taker{pattern: pattern, resume: resume}
	c.takers = append(c.takers, tk)
	return tk
}

func (c *channel) remove(tk *taker) {
	if tk.removed {
		return
	}
	tk.removed = true
	c.removed++
	if c.removed > len(c.takers)/2 {
		c.compact()
	}
}

func (c *channel) compact() {
	live := c.takers[:0]
	for _, tk := range c.takers {
		if !tk.removed {
			live = append(live, tk)
		}
	}
	clear(c.takers[len(live):])
	c.takers = live
	c.removed = 0
}

// publish resumes every taker registered before the call whose pattern
// matches ev, in registration order. A taker is removed before it is
// resumed, so a task that takes again while resuming waits for the next event.
func (c *channel) publish(ev Event) {
	snapshot := make([]*taker, len(c.takers))
	copy(snapshot, c.takers)
	for _, tk := range snapshot {
		if tk.removed || !c.match(tk.pattern, ev) {
			continue
		}
		c.remove(tk)
		tk.resume(ev)
	}
}

func (c *channel) match(p Pattern, ev Event) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("panic in take pattern", zap.String("event", ev.Type), zap.Any("error", r))
			ok = false
		}
	}()
	return p.Match(ev)
}
