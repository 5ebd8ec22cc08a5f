package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime"

	"github.com/google/uuid"

	"dartas/internal/slogutil"
)

// Options configures Start.
type Options struct {
	// Executable is the program to run, usually <sdk>/bin/dart
	Executable string

	// Args are passed verbatim, starting with the server snapshot
	Args []string

	// Logger receives client diagnostics; nil discards them
	Logger *slog.Logger

	// OnEvent receives server events no request claimed
	OnEvent EventHandler
}

// Client is the typed surface over one analysis server connection. All
// methods are safe for concurrent use.
type Client struct {
	id        string
	transport *Transport
	conn      *Conn
	logger    *slog.Logger

	// cleanup kills the server if the client is collected unclosed
	cleanup runtime.Cleanup
}

// Start spawns the server, waits for server.connected, and returns a ready
// client. ctx bounds only the startup handshake. Callers must Close the
// client; a client collected without Close still kills its server.
func Start(ctx context.Context, opts Options) (*Client, error) {
	id := uuid.New().String()
	logger := opts.Logger
	if logger == nil {
		logger = slogutil.NewDiscardLogger()
	}
	logger = logger.With("client", id)

	t, err := StartTransport(ctx, opts.Executable, opts.Args, logger)
	if err != nil {
		return nil, err
	}
	return newClient(id, t, opts.OnEvent, logger), nil
}

// Connect builds a client over a transport whose handshake already
// completed.
func Connect(t *Transport, opts Options) *Client {
	id := uuid.New().String()
	logger := opts.Logger
	if logger == nil {
		logger = slogutil.NewDiscardLogger()
	}
	return newClient(id, t, opts.OnEvent, logger.With("client", id))
}

func newClient(id string, t *Transport, onEvent EventHandler, logger *slog.Logger) *Client {
	c := &Client{
		id:        id,
		transport: t,
		conn:      NewConn(t, ConnOptions{Logger: logger, OnEvent: onEvent}),
		logger:    logger,
	}
	c.cleanup = runtime.AddCleanup(c, killUnclosed, unclosed{t, logger})
	return c
}

type unclosed struct {
	transport *Transport
	logger    *slog.Logger
}

func killUnclosed(u unclosed) {
	u.logger.Warn("Analysis client was never closed; killing server")
	_ = u.transport.Kill()
}

// ID identifies this client in logs.
func (c *Client) ID() string {
	return c.id
}

// ServerInfo returns what the server announced when it connected.
func (c *Client) ServerInfo() ServerInfo {
	return c.transport.Info()
}

// Done is closed once the connection is terminal.
func (c *Client) Done() <-chan struct{} {
	return c.conn.Done()
}

// Err returns the terminal connection error, if any.
func (c *Client) Err() error {
	return c.conn.Err()
}

// Call sends an arbitrary request and returns its raw result.
func (c *Client) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	return c.conn.Call(ctx, method, params)
}

// Collect sends an arbitrary streamed request and returns the raw items.
func (c *Client) Collect(ctx context.Context, method string, params any, terminalEvent string) ([]json.RawMessage, error) {
	return c.conn.Collect(ctx, method, params, terminalEvent)
}

// SetAnalysisRoots sets the directories the server analyzes. Files under an
// excluded path, or under a hidden directory of a root, are not analyzed.
func (c *Client) SetAnalysisRoots(ctx context.Context, included, excluded []string, packageRoots map[string]string) error {
	params := setAnalysisRootsParams{
		Included:     nonNilStrings(included),
		Excluded:     nonNilStrings(excluded),
		PackageRoots: packageRoots,
	}
	if params.PackageRoots == nil {
		params.PackageRoots = map[string]string{}
	}
	_, err := c.conn.Call(ctx, MethodSetAnalysisRoots, params)
	return err
}

// SetPriorityFiles replaces the priority file list. Earlier files are
// analyzed first.
func (c *Client) SetPriorityFiles(ctx context.Context, files []string) error {
	_, err := c.conn.Call(ctx, MethodSetPriorityFiles, setPriorityFilesParams{Files: nonNilStrings(files)})
	return err
}

// UpdateFileContent overlays content on file until RemoveFileContent is
// called. Other overlays are left as they are.
func (c *Client) UpdateFileContent(ctx context.Context, file, content string) error {
	params := updateContentParams{Files: map[string]any{
		file: addContentOverlay{Type: "add", Content: content},
	}}
	_, err := c.conn.Call(ctx, MethodUpdateContent, params)
	return err
}

// RemoveFileContent drops the overlay for file so the server reads it from
// disk again.
func (c *Client) RemoveFileContent(ctx context.Context, file string) error {
	params := updateContentParams{Files: map[string]any{
		file: removeContentOverlay{Type: "remove"},
	}}
	_, err := c.conn.Call(ctx, MethodUpdateContent, params)
	return err
}

// GetErrors returns the diagnostics for file. The server may hold the
// response until analysis completes. A concurrent edit fails the request
// with CONTENT_MODIFIED; match it with errors.Is(err, ErrContentModified).
func (c *Client) GetErrors(ctx context.Context, file string) ([]AnalysisError, error) {
	raw, err := c.conn.Call(ctx, MethodGetErrors, fileParams{File: file})
	if err != nil {
		return nil, err
	}
	var result getErrorsResult
	if err := decodeResult(MethodGetErrors, raw, &result); err != nil {
		return nil, err
	}
	return result.Errors, nil
}

// GetNavigation returns navigation regions for a range of file.
func (c *Client) GetNavigation(ctx context.Context, file string, offset, length int) (*Navigation, error) {
	raw, err := c.conn.Call(ctx, MethodGetNavigation, navigationParams{File: file, Offset: offset, Length: length})
	if err != nil {
		return nil, err
	}
	var nav Navigation
	if err := decodeResult(MethodGetNavigation, raw, &nav); err != nil {
		return nil, err
	}
	return &nav, nil
}

// GetHover describes the element at offset. Missing information is omitted
// rather than reported as an error.
func (c *Client) GetHover(ctx context.Context, file string, offset int) ([]HoverInformation, error) {
	raw, err := c.conn.Call(ctx, MethodGetHover, fileOffsetParams{File: file, Offset: offset})
	if err != nil {
		return nil, err
	}
	var result getHoverResult
	if err := decodeResult(MethodGetHover, raw, &result); err != nil {
		return nil, err
	}
	return result.Hovers, nil
}

// GetSuggestions returns completion suggestions at offset, gathered from
// every completion.results batch up to the last one.
func (c *Client) GetSuggestions(ctx context.Context, file string, offset int) ([]CompletionSuggestion, error) {
	items, err := c.conn.Collect(ctx, MethodGetSuggestions, fileOffsetParams{File: file, Offset: offset}, EventCompletionResults)
	if err != nil {
		return nil, err
	}

	suggestions := make([]CompletionSuggestion, 0, len(items))
	for i, item := range items {
		var s CompletionSuggestion
		if err := json.Unmarshal(item, &s); err != nil {
			return nil, fmt.Errorf("failed to decode suggestion %d: %w", i, err)
		}
		suggestions = append(suggestions, s)
	}
	return suggestions, nil
}

// GetVersion returns the server's version string.
func (c *Client) GetVersion(ctx context.Context) (string, error) {
	raw, err := c.conn.Call(ctx, MethodServerGetVersion, nil)
	if err != nil {
		return "", err
	}
	var result getVersionResult
	if err := decodeResult(MethodServerGetVersion, raw, &result); err != nil {
		return "", err
	}
	return result.Version, nil
}

// Shutdown asks the server to exit, then closes the client whatever the
// outcome.
func (c *Client) Shutdown(ctx context.Context) error {
	_, err := c.conn.Call(ctx, MethodServerShutdown, nil)
	closeErr := c.Close()
	if err != nil && !IsConnectionLost(err) {
		return err
	}
	return closeErr
}

// Close kills the server process. Pending and later calls fail with
// CONNECTION_LOST. It is safe to call more than once.
func (c *Client) Close() error {
	c.cleanup.Stop()
	if err := c.conn.Close(); err != nil {
		return err
	}
	return c.transport.Kill()
}

func decodeResult(method string, raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to decode %s result: %w", method, err)
	}
	return nil
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
