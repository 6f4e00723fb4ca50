package rebuild

import (
	"livepreview/internal/logging"
	"livepreview/internal/sandbox"
)

// EventType distinguishes subscriber events.
type EventType string

const (
	EventStatus  EventType = "status"
	EventFailure EventType = "failure"
)

// Event is delivered to subscribers.
type Event struct {
	Type    EventType        `json:"type"`
	Status  *Status          `json:"status,omitempty"`
	Failure *sandbox.Failure `json:"failure,omitempty"`
}

// Subscribe returns a channel of events and a cancel func. Slow subscribers
// miss events rather than blocking the controller.
func (c *Controller) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	c.subMu.Lock()
	id := c.nextID
	c.nextID++
	c.subs[id] = ch
	c.subMu.Unlock()

	return ch, func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		if _, ok := c.subs[id]; ok {
			close(ch)
			delete(c.subs, id)
		}
	}
}

func (c *Controller) publish(ev Event) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for id, ch := range c.subs {
		select {
		case ch <- ev:
		default:
			logging.RebuildDebug("subscriber %d is slow, dropped %s event", id, ev.Type)
		}
	}
}
