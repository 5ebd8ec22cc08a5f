package analysis

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	dserrors "dartas/internal/errors"
)

const testTimeout = 5 * time.Second

// wireRequest is a request as the fake server sees it.
type wireRequest struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// fakeServer plays the analysis server over in-memory pipes. Its methods
// must be called from the test goroutine.
type fakeServer struct {
	t         *testing.T
	requests  *bufio.Reader
	out       *io.PipeWriter
	transport *Transport
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()

	reqR, reqW := io.Pipe()
	outR, outW := io.Pipe()

	tr := NewTransport(outR, reqW, func() error {
		_ = reqW.Close()
		return outR.Close()
	}, nil)

	t.Cleanup(func() {
		_ = tr.Kill()
		_ = outW.Close()
		_ = reqR.Close()
	})

	return &fakeServer{
		t:         t,
		requests:  bufio.NewReader(reqR),
		out:       outW,
		transport: tr,
	}
}

// next reads the next request the client wrote.
func (s *fakeServer) next() wireRequest {
	s.t.Helper()

	type read struct {
		line []byte
		err  error
	}
	ch := make(chan read, 1)
	go func() {
		line, err := s.requests.ReadBytes('\n')
		ch <- read{line, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			s.t.Fatalf("reading request: %v", r.err)
		}
		var req wireRequest
		if err := json.Unmarshal(r.line, &req); err != nil {
			s.t.Fatalf("request is not JSON: %q: %v", r.line, err)
		}
		return req
	case <-time.After(testTimeout):
		s.t.Fatal("timed out waiting for a request")
		return wireRequest{}
	}
}

// send writes one raw line to the client.
func (s *fakeServer) send(line string) {
	s.t.Helper()
	if _, err := io.WriteString(s.out, line+"\n"); err != nil {
		s.t.Fatalf("writing %q: %v", line, err)
	}
}

func (s *fakeServer) respond(id, result string) {
	s.t.Helper()
	s.send(fmt.Sprintf(`{"id":%q,"result":%s}`, id, compact(s.t, result)))
}

func (s *fakeServer) respondError(id, code, message string) {
	s.t.Helper()
	s.send(fmt.Sprintf(`{"id":%q,"error":{"code":%q,"message":%q}}`, id, code, message))
}

func (s *fakeServer) event(name, params string) {
	s.t.Helper()
	s.send(fmt.Sprintf(`{"event":%q,"params":%s}`, name, compact(s.t, params)))
}

// compact folds a readable JSON literal onto one line.
func compact(t *testing.T, s string) string {
	t.Helper()
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(s)); err != nil {
		t.Fatalf("invalid JSON literal %q: %v", s, err)
	}
	return buf.String()
}

// hangUp closes the server's output as if the process exited.
func (s *fakeServer) hangUp() {
	_ = s.out.Close()
}

type outcome[T any] struct {
	val T
	err error
}

// async runs fn on its own goroutine, leaving the test goroutine free to
// play the server.
func async[T any](fn func() (T, error)) <-chan outcome[T] {
	ch := make(chan outcome[T], 1)
	go func() {
		v, err := fn()
		ch <- outcome[T]{val: v, err: err}
	}()
	return ch
}

func await[T any](t *testing.T, ch <-chan outcome[T]) (T, error) {
	t.Helper()
	select {
	case o := <-ch:
		return o.val, o.err
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for call to return")
		var zero T
		return zero, nil
	}
}

func TestConn_CallRoutesResponsesByID(t *testing.T) {
	srv := newFakeServer(t)
	conn := NewConn(srv.transport, ConnOptions{})
	defer conn.Close()

	methods := []string{"a.one", "a.two", "a.three", "a.four"}

	var g errgroup.Group
	var mu sync.Mutex
	got := make(map[string]string)
	for _, m := range methods {
		g.Go(func() error {
			raw, err := conn.Call(context.Background(), m, nil)
			if err != nil {
				return fmt.Errorf("%s: %w", m, err)
			}
			var r struct {
				Method string `json:"method"`
			}
			if err := json.Unmarshal(raw, &r); err != nil {
				return err
			}
			mu.Lock()
			got[m] = r.Method
			mu.Unlock()
			return nil
		})
	}

	reqs := make([]wireRequest, 0, len(methods))
	for range methods {
		reqs = append(reqs, srv.next())
	}

	// ids are allocated in wire order
	for i, req := range reqs {
		n, err := strconv.Atoi(req.ID)
		if err != nil {
			t.Fatalf("request id %q is not numeric", req.ID)
		}
		if n != i+1 {
			t.Errorf("request %d id = %d, want %d", i, n, i+1)
		}
	}

	// answer in reverse order
	for i := len(reqs) - 1; i >= 0; i-- {
		srv.respond(reqs[i].ID, fmt.Sprintf(`{"method":%q}`, reqs[i].Method))
	}

	if err := g.Wait(); err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	for _, m := range methods {
		if got[m] != m {
			t.Errorf("call %s got result for %q", m, got[m])
		}
	}
	if n := conn.Pending(); n != 0 {
		t.Errorf("Pending() = %d, want 0", n)
	}
}

func TestConn_IDsNeverReused(t *testing.T) {
	srv := newFakeServer(t)
	conn := NewConn(srv.transport, ConnOptions{})
	defer conn.Close()

	seen := make(map[string]bool)
	for i := 0; i < 5; i++ {
		ch := async(func() (json.RawMessage, error) {
			return conn.Call(context.Background(), "x.y", nil)
		})
		req := srv.next()
		if seen[req.ID] {
			t.Fatalf("id %s reused", req.ID)
		}
		seen[req.ID] = true
		srv.respond(req.ID, `{}`)
		if _, err := await(t, ch); err != nil {
			t.Fatalf("Call() error = %v", err)
		}
	}
}

func TestConn_MalformedLinesAreSkipped(t *testing.T) {
	srv := newFakeServer(t)
	conn := NewConn(srv.transport, ConnOptions{})
	defer conn.Close()

	ch := async(func() (json.RawMessage, error) {
		return conn.Call(context.Background(), MethodServerGetVersion, nil)
	})
	req := srv.next()

	srv.send("Observatory listening on http://127.0.0.1:8181/")
	srv.send(`{"result":{}}`)
	srv.send(`{"id":`)
	srv.respond(req.ID, `{"version":"3.4.0"}`)

	raw, err := await(t, ch)
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if string(raw) != `{"version":"3.4.0"}` {
		t.Errorf("Call() = %s", raw)
	}
	if conn.Err() != nil {
		t.Errorf("Err() = %v, want nil", conn.Err())
	}
}

func TestConn_EOFResolvesEveryPendingCall(t *testing.T) {
	srv := newFakeServer(t)
	conn := NewConn(srv.transport, ConnOptions{})

	const n = 4
	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error {
			_, err := conn.Call(context.Background(), MethodGetErrors, fileParams{File: "/a.dart"})
			if !IsConnectionLost(err) {
				return fmt.Errorf("Call() error = %v, want CONNECTION_LOST", err)
			}
			return nil
		})
	}
	for i := 0; i < n; i++ {
		srv.next()
	}

	srv.hangUp()

	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}

	select {
	case <-conn.Done():
	case <-time.After(testTimeout):
		t.Fatal("Done() not closed after EOF")
	}
	if n := conn.Pending(); n != 0 {
		t.Errorf("Pending() = %d, want 0", n)
	}
	if !dserrors.HasCode(conn.Err(), dserrors.StreamClosed) {
		t.Errorf("Err() = %v, want it to wrap STREAM_CLOSED", conn.Err())
	}

	// calls after loss fail without touching the wire
	if _, err := conn.Call(context.Background(), MethodServerGetVersion, nil); !IsConnectionLost(err) {
		t.Errorf("Call() after loss error = %v, want CONNECTION_LOST", err)
	}
}

func TestConn_ServerErrorLeavesConnectionUsable(t *testing.T) {
	srv := newFakeServer(t)
	conn := NewConn(srv.transport, ConnOptions{})
	defer conn.Close()

	ch := async(func() (json.RawMessage, error) {
		return conn.Call(context.Background(), MethodGetErrors, fileParams{File: "/p/lib/a.dart"})
	})
	req := srv.next()
	srv.respondError(req.ID, CodeContentModified, "file changed during analysis")

	_, err := await(t, ch)
	if !errors.Is(err, ErrContentModified) {
		t.Fatalf("Call() error = %v, want CONTENT_MODIFIED", err)
	}
	var se *ServerError
	if !errors.As(err, &se) {
		t.Fatalf("Call() error is %T, want *ServerError", err)
	}
	if se.Method != MethodGetErrors {
		t.Errorf("ServerError.Method = %q, want %q", se.Method, MethodGetErrors)
	}

	ch = async(func() (json.RawMessage, error) {
		return conn.Call(context.Background(), MethodGetErrors, fileParams{File: "/p/lib/a.dart"})
	})
	req = srv.next()
	srv.respond(req.ID, `{"errors":[]}`)
	if _, err := await(t, ch); err != nil {
		t.Errorf("Call() after server error = %v", err)
	}
}

func TestConn_AbandonedCallDiscardsLateResponse(t *testing.T) {
	srv := newFakeServer(t)
	conn := NewConn(srv.transport, ConnOptions{})
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch := async(func() (json.RawMessage, error) {
		return conn.Call(ctx, MethodGetHover, fileOffsetParams{File: "/a.dart", Offset: 1})
	})
	abandoned := srv.next()
	cancel()

	if _, err := await(t, ch); !errors.Is(err, context.Canceled) {
		t.Fatalf("Call() error = %v, want context.Canceled", err)
	}
	if n := conn.Pending(); n != 0 {
		t.Errorf("Pending() after abandon = %d, want 0", n)
	}

	srv.respond(abandoned.ID, `{"hovers":[]}`)

	ch = async(func() (json.RawMessage, error) {
		return conn.Call(context.Background(), MethodServerGetVersion, nil)
	})
	req := srv.next()
	if req.ID == abandoned.ID {
		t.Fatalf("id %s reused after abandon", req.ID)
	}
	srv.respond(req.ID, `{"version":"1"}`)

	raw, err := await(t, ch)
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if string(raw) != `{"version":"1"}` {
		t.Errorf("Call() = %s, want the version result", raw)
	}
}

func TestConn_CloseFailsPendingCalls(t *testing.T) {
	srv := newFakeServer(t)
	conn := NewConn(srv.transport, ConnOptions{})

	ch := async(func() (json.RawMessage, error) {
		return conn.Call(context.Background(), MethodGetErrors, fileParams{File: "/a.dart"})
	})
	srv.next()

	if err := conn.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := await(t, ch); !IsConnectionLost(err) {
		t.Errorf("Call() error = %v, want CONNECTION_LOST", err)
	}

	// a second Close is harmless
	if err := conn.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	conn.Wait()
}

func TestConn_EventsReachHandler(t *testing.T) {
	srv := newFakeServer(t)
	events := make(chan Event, 4)
	conn := NewConn(srv.transport, ConnOptions{
		OnEvent: func(ev Event) { events <- ev },
	})
	defer conn.Close()

	srv.event(EventAnalysisErrors, `{"file":"/a.dart","errors":[]}`)
	srv.event(EventServerError, `{"isFatal":false,"message":"boom","stackTrace":""}`)

	for _, want := range []string{EventAnalysisErrors, EventServerError} {
		select {
		case ev := <-events:
			if ev.Name != want {
				t.Errorf("event = %q, want %q", ev.Name, want)
			}
		case <-time.After(testTimeout):
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

// brokenTransport accepts no writes.
type brokenTransport struct {
	killed chan struct{}
	once   sync.Once
}

func newBrokenTransport() *brokenTransport {
	return &brokenTransport{killed: make(chan struct{})}
}

func (b *brokenTransport) ReadLine() ([]byte, error) {
	<-b.killed
	return nil, dserrors.New(dserrors.StreamClosed, "server output closed", io.EOF)
}

func (b *brokenTransport) WriteLine([]byte) error {
	return dserrors.New(dserrors.WriteFailed, "failed to write to server", io.ErrClosedPipe)
}

func (b *brokenTransport) Kill() error {
	b.once.Do(func() { close(b.killed) })
	return nil
}

func TestConn_WriteFailureIsFatal(t *testing.T) {
	tr := newBrokenTransport()
	conn := NewConn(tr, ConnOptions{})

	_, err := conn.Call(context.Background(), MethodServerGetVersion, nil)
	if !IsConnectionLost(err) {
		t.Fatalf("Call() error = %v, want CONNECTION_LOST", err)
	}
	if !dserrors.HasCode(err, dserrors.WriteFailed) {
		t.Errorf("Call() error = %v, want it to wrap WRITE_FAILED", err)
	}

	select {
	case <-tr.killed:
	case <-time.After(testTimeout):
		t.Fatal("transport not killed after write failure")
	}
	conn.Wait()

	if n := conn.Pending(); n != 0 {
		t.Errorf("Pending() = %d, want 0", n)
	}
}
