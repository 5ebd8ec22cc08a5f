package analysis

import (
	"context"
	"encoding/json"
	"time"
)

// streamResult resolves a collector.
type streamResult struct {
	items   []json.RawMessage
	batches int
	err     error
}

// collector accumulates the batches of one streamed request. All fields
// except done are guarded by Conn.mu.
type collector struct {
	event string
	// keys are the ids batches may carry: the request id first, then any
	// id the response introduced
	keys     []string
	items    []json.RawMessage
	batches  int
	finished bool
	done     chan streamResult
}

type batchParams struct {
	ID      json.RawMessage   `json:"id"`
	Results []json.RawMessage `json:"results"`
	IsLast  bool              `json:"isLast"`
}

// Collect sends a request whose results arrive as a sequence of
// terminalEvent events rather than in the response. It returns the items of
// every batch, in arrival order, once a batch with isLast set arrives.
func (c *Conn) Collect(ctx context.Context, method string, params any, terminalEvent string) ([]json.RawMessage, error) {
	ctx, span := startRequestSpan(ctx, method, true)
	defer span.End()
	start := time.Now()

	s := &collector{event: terminalEvent, done: make(chan streamResult, 1)}
	w := &waiter{method: method, stream: s}
	id, err := c.send(method, params, w)
	if err != nil {
		finishRequest(span, method, id, start, err)
		return nil, err
	}

	select {
	case r := <-s.done:
		if r.err == nil {
			recordStream(ctx, terminalEvent, r.batches, len(r.items))
			c.logger.Debug("Stream complete",
				"id", id,
				"method", method,
				"batches", r.batches,
				"items", len(r.items),
			)
		}
		finishRequest(span, method, id, start, r.err)
		return r.items, r.err
	case <-ctx.Done():
		c.abandonStream(s)
		finishRequest(span, method, id, start, ctx.Err())
		return nil, ctx.Err()
	}
}

// routeBatch appends a matching event to its collector. It reports whether
// the event was consumed.
func (c *Conn) routeBatch(ev *Event) bool {
	c.mu.Lock()
	active := len(c.streams)
	c.mu.Unlock()
	if active == 0 || len(ev.Params) == 0 {
		return false
	}

	var p batchParams
	if err := json.Unmarshal(ev.Params, &p); err != nil || len(p.ID) == 0 {
		return false
	}
	id, err := decodeID(p.ID)
	if err != nil {
		return false
	}

	c.mu.Lock()
	s, ok := c.streams[id]
	if !ok || s.finished || s.event != ev.Name {
		c.mu.Unlock()
		return false
	}
	s.items = append(s.items, p.Results...)
	s.batches++
	removedWaiter := false
	if p.IsLast {
		removedWaiter = c.closeStreamLocked(s)
	}
	c.mu.Unlock()

	if p.IsLast {
		if removedWaiter {
			pendingRequests.Dec()
		}
		items := s.items
		if items == nil {
			items = []json.RawMessage{}
		}
		s.done <- streamResult{items: items, batches: s.batches}
	}
	return true
}

// failStream resolves s with err unless it already finished.
func (c *Conn) failStream(s *collector, err error) {
	c.mu.Lock()
	if s.finished {
		c.mu.Unlock()
		return
	}
	removedWaiter := c.closeStreamLocked(s)
	c.mu.Unlock()

	if removedWaiter {
		pendingRequests.Dec()
	}
	s.done <- streamResult{err: err}
}

// abandonStream unregisters s without resolving it.
func (c *Conn) abandonStream(s *collector) {
	c.mu.Lock()
	if s.finished {
		c.mu.Unlock()
		return
	}
	removedWaiter := c.closeStreamLocked(s)
	c.mu.Unlock()

	if removedWaiter {
		pendingRequests.Dec()
	}
}

// closeStreamLocked marks s finished and removes every key routing to it,
// including the request waiter if its response has not arrived. It reports
// whether that waiter was removed. c.mu must be held.
func (c *Conn) closeStreamLocked(s *collector) bool {
	s.finished = true
	for _, k := range s.keys {
		if c.streams[k] == s {
			delete(c.streams, k)
		}
	}

	if len(s.keys) == 0 {
		return false
	}
	if w, ok := c.pending[s.keys[0]]; ok && w.stream == s {
		delete(c.pending, s.keys[0])
		return true
	}
	return false
}
