package device

import (
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/rs/zerolog"

	"github.com/carina28/horovod/core"
)

// ErrorCheck aborts the process when a runtime or collective primitive
// fails. A failed primitive leaves peer processes in an indeterminate
// synchronization state, so the error is never recoverable.
func ErrorCheck(opName string, err error) {
	if err != nil {
		exceptions.Panicf("%s failed: %v", opName, err)
	}
}

// Context owns the per-device pooled resources: reusable completion events
// and memoized persistent streams. One Context serves the whole process.
type Context struct {
	rt  Runtime
	log zerolog.Logger

	streamsMu sync.Mutex
	streams   map[int]Stream

	eventsMu sync.Mutex
	events   map[int][]Event
}

// NewContext creates the resource pool over the given runtime.
func NewContext(rt Runtime, log zerolog.Logger) *Context {
	return &Context{
		rt:      rt,
		log:     log,
		streams: make(map[int]Stream),
		events:  make(map[int][]Event),
	}
}

// Runtime returns the underlying runtime.
func (c *Context) Runtime() Runtime {
	return c.rt
}

// Stream returns the persistent high-priority stream for the device,
// creating it on first use. The stream is retained for the process lifetime.
func (c *Context) Stream(deviceID int) Stream {
	c.streamsMu.Lock()
	defer c.streamsMu.Unlock()

	if s, ok := c.streams[deviceID]; ok {
		return s
	}
	s, err := c.rt.CreateStream(deviceID)
	ErrorCheck("CreateStream", err)
	c.streams[deviceID] = s
	c.log.Debug().Int("device", deviceID).Msg("created collective stream")
	return s
}

// GetEvent pops a free event for the device, creating one when the
// free-list is empty. Creation rather than reuse guarantees an event is
// never re-armed while a prior recording is still pending.
func (c *Context) GetEvent(deviceID int) Event {
	c.eventsMu.Lock()
	free := c.events[deviceID]
	if n := len(free); n > 0 {
		e := free[n-1]
		c.events[deviceID] = free[:n-1]
		c.eventsMu.Unlock()
		return e
	}
	c.eventsMu.Unlock()

	e, err := c.rt.CreateEvent(deviceID)
	ErrorCheck("CreateEvent", err)
	return e
}

// ReleaseEvent returns an event to the device's free-list. Callable only
// after the event's recorded point has been waited on.
func (c *Context) ReleaseEvent(deviceID int, e Event) {
	c.eventsMu.Lock()
	c.events[deviceID] = append(c.events[deviceID], e)
	c.eventsMu.Unlock()
}

// RecordEvent arms a pooled event at the stream's current tail and appends
// it to the round's queue under the given label.
func (c *Context) RecordEvent(q *EventQueue, label string, deviceID int, s Stream) {
	e := c.GetEvent(deviceID)
	ErrorCheck("EventRecord", e.Record(s))
	q.Push(label, e)
}

// WaitForEvents drains the queue strictly FIFO: for each labeled event it
// opens the timeline interval, blocks until the event fires, closes the
// interval, and returns the event to the pool.
func (c *Context) WaitForEvents(q *EventQueue, deviceID int, entries []core.TensorEntry, tl core.Timeline) {
	for {
		label, e, ok := q.Pop()
		if !ok {
			return
		}
		if label != "" {
			core.ActivityStartAll(tl, entries, label)
		}
		ErrorCheck("EventSynchronize", e.Wait())
		if label != "" {
			core.ActivityEndAll(tl, entries)
		}
		c.ReleaseEvent(deviceID, e)
	}
}
