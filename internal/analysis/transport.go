package analysis

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"

	dserrors "dartas/internal/errors"
	"dartas/internal/slogutil"
)

// Transport owns the server process and its line-framed stdio streams.
type Transport struct {
	// cmd is the underlying process, nil for transports built on existing streams
	cmd *exec.Cmd

	// stdin is the input stream to the process
	stdin io.WriteCloser

	// reader wraps stdout for reading lines
	reader *bufio.Reader

	// kill tears down the process or streams
	kill func() error

	logger *slog.Logger

	// writeMu keeps concurrent writers from interleaving partial lines
	writeMu sync.Mutex

	killOnce sync.Once
	killErr  error

	info ServerInfo
}

// NewTransport wraps already-open streams. kill is called once by Kill and
// must unblock any pending ReadLine, typically by closing r.
func NewTransport(r io.Reader, w io.WriteCloser, kill func() error, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slogutil.NewDiscardLogger()
	}
	if kill == nil {
		kill = w.Close
	}
	return &Transport{
		stdin:  w,
		reader: bufio.NewReader(r),
		kill:   kill,
		logger: logger,
	}
}

// StartTransport spawns the server and blocks until it announces
// server.connected. ctx bounds only the handshake; once it returns the
// process lives until Kill.
func StartTransport(ctx context.Context, executable string, args []string, logger *slog.Logger) (*Transport, error) {
	if logger == nil {
		logger = slogutil.NewDiscardLogger()
	}

	cmd := exec.Command(executable, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, dserrors.New(dserrors.SpawnFailed, "failed to create stdin pipe", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, dserrors.New(dserrors.SpawnFailed, "failed to create stdout pipe", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, dserrors.New(dserrors.SpawnFailed, "failed to create stderr pipe", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, dserrors.New(dserrors.SpawnFailed, fmt.Sprintf("failed to start %s", executable), err)
	}

	t := &Transport{
		cmd:    cmd,
		stdin:  stdin,
		reader: bufio.NewReader(stdout),
		logger: logger,
	}
	t.kill = t.killProcess

	go t.drainStderr(stderr)

	logger.Debug("Spawned analysis server",
		"executable", executable,
		"pid", cmd.Process.Pid,
	)

	if err := t.Handshake(ctx); err != nil {
		_ = t.Kill()
		return nil, err
	}
	return t, nil
}

// Handshake reads lines until the server.connected event. A server.error
// event or an error response before that fails with STARTUP_FAILED.
func (t *Transport) Handshake(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		done <- t.awaitConnected()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		_ = t.Kill()
		<-done
		return dserrors.New(dserrors.StartupFailed, "handshake abandoned", ctx.Err())
	}
}

func (t *Transport) awaitConnected() error {
	for {
		line, err := t.ReadLine()
		if err != nil {
			return dserrors.New(dserrors.StartupFailed, "server exited before connecting", err)
		}

		msg, err := DecodeLine(line)
		if err != nil {
			t.logger.Debug("Skipping unparseable startup line", "error", err.Error())
			continue
		}

		if ev := msg.Event; ev != nil {
			switch ev.Name {
			case EventServerConnected:
				var info ServerInfo
				if len(ev.Params) > 0 {
					_ = json.Unmarshal(ev.Params, &info)
				}
				t.info = info
				t.logger.Info("Analysis server connected",
					"version", info.Version,
					"pid", info.PID,
				)
				return nil
			case EventServerError:
				var p ServerErrorParams
				_ = json.Unmarshal(ev.Params, &p)
				return dserrors.New(dserrors.StartupFailed, "server reported an error before connecting",
					&ServerError{Code: "SERVER_ERROR", Message: p.Message, StackTrace: p.StackTrace})
			}
			continue
		}

		if resp := msg.Response; resp.Error != nil {
			return dserrors.New(dserrors.StartupFailed, "server reported an error before connecting",
				newServerError("", resp.Error))
		}
	}
}

// Info returns what the server announced in server.connected.
func (t *Transport) Info() ServerInfo {
	return t.info
}

// WriteLine writes line followed by a newline in a single write.
func (t *Transport) WriteLine(line []byte) error {
	buf := make([]byte, 0, len(line)+1)
	buf = append(buf, line...)
	buf = append(buf, '\n')

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if _, err := t.stdin.Write(buf); err != nil {
		return dserrors.New(dserrors.WriteFailed, "failed to write to server", err)
	}
	if f, ok := t.stdin.(interface{ Flush() error }); ok {
		if err := f.Flush(); err != nil {
			return dserrors.New(dserrors.WriteFailed, "failed to flush server input", err)
		}
	}
	return nil
}

// ReadLine blocks until a full line is available. The trailing newline is
// stripped. A stream that ends, even mid-line, fails with STREAM_CLOSED.
func (t *Transport) ReadLine() ([]byte, error) {
	line, err := t.reader.ReadBytes('\n')
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, dserrors.New(dserrors.StreamClosed, "server output closed", err)
		}
		return nil, dserrors.New(dserrors.StreamClosed, "failed to read server output", err)
	}
	return bytes.TrimRight(line, "\r\n"), nil
}

// Kill terminates the server. It is safe to call more than once.
func (t *Transport) Kill() error {
	t.killOnce.Do(func() {
		t.killErr = t.kill()
	})
	return t.killErr
}

func (t *Transport) killProcess() error {
	_ = t.stdin.Close()
	if t.cmd.Process != nil {
		_ = t.cmd.Process.Kill()
	}

	err := t.cmd.Wait()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// Killed or exited on its own; either way the process is reaped.
		return nil
	}
	return err
}

// drainStderr forwards server diagnostics to the debug log.
func (t *Transport) drainStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		t.logger.Debug("Analysis server stderr", "line", scanner.Text())
	}
}
