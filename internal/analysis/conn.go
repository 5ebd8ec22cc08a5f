package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	dserrors "dartas/internal/errors"
	"dartas/internal/slogutil"
)

// LineTransport is the line-framed stream a Conn runs over. Transport is the
// production implementation.
type LineTransport interface {
	ReadLine() ([]byte, error)
	WriteLine(line []byte) error
	Kill() error
}

// EventHandler receives events no streamed request claimed. It runs on the
// read loop and must not block.
type EventHandler func(Event)

// ConnOptions configures a Conn.
type ConnOptions struct {
	Logger  *slog.Logger
	OnEvent EventHandler
}

var errClosed = errors.New("connection closed by client")

// reply resolves a plain request waiter.
type reply struct {
	result json.RawMessage
	err    error
}

// waiter is the synchronization point for one in-flight request id.
type waiter struct {
	method string
	// reply is set for plain requests
	reply chan reply
	// stream is set for requests completed by an event stream
	stream *collector
}

// Conn multiplexes concurrent requests over one transport. A single read
// loop owns the inbound stream and hands each response to the waiter
// registered for its id.
type Conn struct {
	transport LineTransport
	logger    *slog.Logger
	onEvent   EventHandler

	// sendMu serializes id allocation, registration and the wire write so
	// ids reach the server in increasing order
	sendMu sync.Mutex
	nextID uint64

	// mu protects pending, streams and err
	mu      sync.Mutex
	pending map[string]*waiter
	streams map[string]*collector
	err     error

	failOnce sync.Once
	done     chan struct{}
	loopDone chan struct{}
}

// NewConn starts the read loop over t. The caller must have completed any
// handshake already; the Conn becomes the sole reader of t.
func NewConn(t LineTransport, opts ConnOptions) *Conn {
	logger := opts.Logger
	if logger == nil {
		logger = slogutil.NewDiscardLogger()
	}

	c := &Conn{
		transport: t,
		logger:    logger,
		onEvent:   opts.OnEvent,
		pending:   make(map[string]*waiter),
		streams:   make(map[string]*collector),
		done:      make(chan struct{}),
		loopDone:  make(chan struct{}),
	}

	go c.readLoop()
	return c
}

// Call sends a request and blocks until its response arrives, the
// connection is lost, or ctx is done. Abandoning the wait does not cancel
// the request on the server; its response is discarded when it arrives.
func (c *Conn) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	ctx, span := startRequestSpan(ctx, method, false)
	defer span.End()
	start := time.Now()

	w := &waiter{method: method, reply: make(chan reply, 1)}
	id, err := c.send(method, params, w)
	if err != nil {
		finishRequest(span, method, id, start, err)
		return nil, err
	}

	select {
	case r := <-w.reply:
		finishRequest(span, method, id, start, r.err)
		return r.result, r.err
	case <-ctx.Done():
		c.abandon(id)
		finishRequest(span, method, id, start, ctx.Err())
		return nil, ctx.Err()
	}
}

// send allocates the next id, registers w under it and writes the request.
func (c *Conn) send(method string, params any, w *waiter) (string, error) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	id := strconv.FormatUint(c.nextID+1, 10)
	line, err := EncodeRequest(id, method, params)
	if err != nil {
		return "", dserrors.New(dserrors.InternalError, "failed to encode request", err)
	}

	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return "", err
	}
	c.nextID++
	c.pending[id] = w
	if w.stream != nil {
		c.streams[id] = w.stream
		w.stream.keys = append(w.stream.keys, id)
	}
	c.mu.Unlock()
	pendingRequests.Inc()

	c.logger.Debug("Sending request", "id", id, "method", method)

	if err := c.transport.WriteLine(line); err != nil {
		c.fail(err)
		return id, c.Err()
	}
	return id, nil
}

// abandon drops the waiter for id so a late response is discarded.
func (c *Conn) abandon(id string) {
	c.mu.Lock()
	w, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if ok {
		pendingRequests.Dec()
		c.logger.Debug("Request abandoned by caller", "id", id, "method", w.method)
	}
}

// readLoop is the only reader of the transport.
func (c *Conn) readLoop() {
	defer close(c.loopDone)

	for {
		line, err := c.transport.ReadLine()
		if err != nil {
			c.fail(err)
			return
		}

		msg, err := DecodeLine(line)
		if err != nil {
			malformedLines.Inc()
			c.logger.Warn("Dropping malformed message", "error", err.Error())
			continue
		}

		if msg.Response != nil {
			c.deliver(msg.Response)
			continue
		}
		c.dispatch(msg.Event)
	}
}

// deliver hands a response to the waiter registered for its id.
func (c *Conn) deliver(resp *Response) {
	var shadowed string
	c.mu.Lock()
	w, ok := c.pending[resp.ID]
	if ok {
		delete(c.pending, resp.ID)
		if w.stream != nil && resp.Error == nil && !w.stream.finished {
			// Batches may be keyed by the id the server returns rather than
			// the request id. Alias it before the next line is read, unless
			// another stream already owns that id.
			if alias := resultID(resp.Result); alias != "" && alias != resp.ID {
				if _, taken := c.streams[alias]; taken {
					shadowed = alias
				} else {
					c.streams[alias] = w.stream
					w.stream.keys = append(w.stream.keys, alias)
				}
			}
		}
	}
	c.mu.Unlock()

	if shadowed != "" {
		c.logger.Debug("Result id belongs to another stream; not aliasing",
			"id", resp.ID,
			"resultId", shadowed,
		)
	}
	if !ok {
		c.logger.Debug("Discarding response for unknown request", "id", resp.ID)
		return
	}
	pendingRequests.Dec()

	if w.stream != nil {
		if resp.Error != nil {
			c.failStream(w.stream, newServerError(w.method, resp.Error))
		}
		return
	}

	if resp.Error != nil {
		w.reply <- reply{err: newServerError(w.method, resp.Error)}
		return
	}
	w.reply <- reply{result: resp.Result}
}

// dispatch routes an event to a collector, or to the event handler.
func (c *Conn) dispatch(ev *Event) {
	eventsTotal.WithLabelValues(ev.Name).Inc()

	if c.routeBatch(ev) {
		return
	}

	if ev.Name == EventServerError {
		var p ServerErrorParams
		_ = json.Unmarshal(ev.Params, &p)
		c.logger.Error("Analysis server error",
			"fatal", p.IsFatal,
			"message", p.Message,
		)
	}

	if c.onEvent != nil {
		c.onEvent(*ev)
	}
}

// fail makes the connection terminal. Every pending waiter and collector
// resolves with CONNECTION_LOST and the transport is killed.
func (c *Conn) fail(cause error) {
	c.failOnce.Do(func() {
		lost := dserrors.New(dserrors.ConnectionLost, "connection to analysis server lost", cause)

		c.mu.Lock()
		c.err = lost
		pending := c.pending
		streams := make(map[*collector]struct{})
		for _, s := range c.streams {
			if !s.finished {
				s.finished = true
				streams[s] = struct{}{}
			}
		}
		c.pending = make(map[string]*waiter)
		c.streams = make(map[string]*collector)
		c.mu.Unlock()

		for _, w := range pending {
			pendingRequests.Dec()
			if w.reply != nil {
				w.reply <- reply{err: lost}
			}
		}
		for s := range streams {
			s.done <- streamResult{err: lost}
		}

		if errors.Is(cause, errClosed) {
			c.logger.Debug("Connection closed", "pending", len(pending))
		} else {
			c.logger.Warn("Connection to analysis server lost",
				"error", cause.Error(),
				"pending", len(pending),
			)
		}

		close(c.done)
		_ = c.transport.Kill()
	})
}

// Done is closed once the connection is terminal.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the read loop has exited, which happens once the
// transport's output ends.
func (c *Conn) Wait() {
	<-c.loopDone
}

// Err returns the terminal error, or nil while the connection is usable.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Pending returns the number of requests awaiting resolution.
func (c *Conn) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Close kills the transport. Pending and later calls fail with
// CONNECTION_LOST.
func (c *Conn) Close() error {
	c.fail(errClosed)
	return nil
}

// resultID extracts result.id, the key some servers use for follow-up events.
func resultID(result json.RawMessage) string {
	if len(result) == 0 {
		return ""
	}
	var r struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(result, &r); err != nil || len(r.ID) == 0 || isNull(r.ID) {
		return ""
	}
	id, err := decodeID(r.ID)
	if err != nil {
		return ""
	}
	return id
}
