package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"runtime"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func newTestClient(t *testing.T) (*Client, *fakeServer) {
	t.Helper()
	srv := newFakeServer(t)
	client := Connect(srv.transport, Options{})
	t.Cleanup(func() { _ = client.Close() })
	return client, srv
}

// params decodes the request parameters into generic JSON values.
func params(t *testing.T, req wireRequest) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(req.Params, &m); err != nil {
		t.Fatalf("params of %s are not an object: %s", req.Method, req.Params)
	}
	return m
}

func TestClient_RequestShapes(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name       string
		call       func(c *Client) error
		wantMethod string
		wantParams map[string]any
	}{
		{
			name: "set analysis roots with nil slices",
			call: func(c *Client) error {
				return c.SetAnalysisRoots(ctx, []string{"/p"}, nil, nil)
			},
			wantMethod: MethodSetAnalysisRoots,
			wantParams: map[string]any{
				"included":     []any{"/p"},
				"excluded":     []any{},
				"packageRoots": map[string]any{},
			},
		},
		{
			name: "set priority files",
			call: func(c *Client) error {
				return c.SetPriorityFiles(ctx, []string{"/p/lib/b.dart", "/p/lib/a.dart"})
			},
			wantMethod: MethodSetPriorityFiles,
			wantParams: map[string]any{"files": []any{"/p/lib/b.dart", "/p/lib/a.dart"}},
		},
		{
			name: "clear priority files",
			call: func(c *Client) error {
				return c.SetPriorityFiles(ctx, nil)
			},
			wantMethod: MethodSetPriorityFiles,
			wantParams: map[string]any{"files": []any{}},
		},
		{
			name: "overlay empty content",
			call: func(c *Client) error {
				return c.UpdateFileContent(ctx, "/p/lib/a.dart", "")
			},
			wantMethod: MethodUpdateContent,
			wantParams: map[string]any{"files": map[string]any{
				"/p/lib/a.dart": map[string]any{"type": "add", "content": ""},
			}},
		},
		{
			name: "remove overlay",
			call: func(c *Client) error {
				return c.RemoveFileContent(ctx, "/p/lib/a.dart")
			},
			wantMethod: MethodUpdateContent,
			wantParams: map[string]any{"files": map[string]any{
				"/p/lib/a.dart": map[string]any{"type": "remove"},
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, srv := newTestClient(t)

			ch := async(func() (struct{}, error) {
				return struct{}{}, tt.call(client)
			})
			req := srv.next()
			srv.respond(req.ID, `{}`)
			if _, err := await(t, ch); err != nil {
				t.Fatalf("call error = %v", err)
			}

			if req.Method != tt.wantMethod {
				t.Errorf("method = %q, want %q", req.Method, tt.wantMethod)
			}
			if diff := cmp.Diff(tt.wantParams, params(t, req)); diff != "" {
				t.Errorf("params mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestClient_GetErrors(t *testing.T) {
	client, srv := newTestClient(t)

	ch := async(func() ([]AnalysisError, error) {
		return client.GetErrors(context.Background(), "/p/lib/a.dart")
	})
	req := srv.next()
	if diff := cmp.Diff(map[string]any{"file": "/p/lib/a.dart"}, params(t, req)); diff != "" {
		t.Errorf("params mismatch (-want +got):\n%s", diff)
	}
	srv.respond(req.ID, `{"errors":[{"severity":"ERROR","type":"COMPILE_TIME_ERROR",
		"location":{"file":"/p/lib/a.dart","offset":3,"length":2,"startLine":1,"startColumn":4},
		"message":"Undefined name 'x'.","code":"undefined_identifier","hasFix":true}]}`)

	got, err := await(t, ch)
	if err != nil {
		t.Fatalf("GetErrors() error = %v", err)
	}
	want := []AnalysisError{{
		Severity: "ERROR",
		Type:     "COMPILE_TIME_ERROR",
		Location: Location{File: "/p/lib/a.dart", Offset: 3, Length: 2, StartLine: 1, StartColumn: 4},
		Message:  "Undefined name 'x'.",
		Code:     "undefined_identifier",
		HasFix:   true,
	}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("GetErrors() mismatch (-want +got):\n%s", diff)
	}
}

func TestClient_GetErrorsContentModified(t *testing.T) {
	client, srv := newTestClient(t)

	ch := async(func() ([]AnalysisError, error) {
		return client.GetErrors(context.Background(), "/p/lib/a.dart")
	})
	req := srv.next()
	srv.respondError(req.ID, CodeContentModified, "content changed")

	_, err := await(t, ch)
	if !errors.Is(err, ErrContentModified) {
		t.Errorf("GetErrors() error = %v, want CONTENT_MODIFIED", err)
	}
	if client.Err() != nil {
		t.Errorf("Err() = %v, want nil", client.Err())
	}
}

func TestClient_GetNavigation(t *testing.T) {
	client, srv := newTestClient(t)

	ch := async(func() (*Navigation, error) {
		return client.GetNavigation(context.Background(), "/p/lib/a.dart", 12, 0)
	})
	req := srv.next()
	wantParams := map[string]any{"file": "/p/lib/a.dart", "offset": float64(12), "length": float64(0)}
	if diff := cmp.Diff(wantParams, params(t, req)); diff != "" {
		t.Errorf("params mismatch (-want +got):\n%s", diff)
	}
	srv.respond(req.ID, `{"files":["/p/lib/b.dart"],
		"targets":[{"kind":"CLASS","fileIndex":0,"offset":6,"length":3,"startLine":1,"startColumn":7}],
		"regions":[{"offset":10,"length":3,"targets":[0]}]}`)

	nav, err := await(t, ch)
	if err != nil {
		t.Fatalf("GetNavigation() error = %v", err)
	}
	if len(nav.Regions) != 1 || len(nav.Regions[0].Targets) != 1 {
		t.Fatalf("GetNavigation() = %+v", nav)
	}
	target := nav.Targets[nav.Regions[0].Targets[0]]
	if got := nav.TargetFile(target); got != "/p/lib/b.dart" {
		t.Errorf("TargetFile() = %q, want %q", got, "/p/lib/b.dart")
	}
	if got := nav.TargetFile(NavigationTarget{FileIndex: 5}); got != "" {
		t.Errorf("TargetFile(out of range) = %q, want empty", got)
	}
}

func TestClient_GetHover(t *testing.T) {
	client, srv := newTestClient(t)

	ch := async(func() ([]HoverInformation, error) {
		return client.GetHover(context.Background(), "/p/lib/a.dart", 4)
	})
	req := srv.next()
	srv.respond(req.ID, `{"hovers":[{"offset":2,"length":5,"elementKind":"function",
		"elementDescription":"void print(Object? object)","dartdoc":"Prints a string."}]}`)

	got, err := await(t, ch)
	if err != nil {
		t.Fatalf("GetHover() error = %v", err)
	}
	want := []HoverInformation{{
		Offset:             2,
		Length:             5,
		ElementKind:        "function",
		ElementDescription: "void print(Object? object)",
		Dartdoc:            "Prints a string.",
	}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("GetHover() mismatch (-want +got):\n%s", diff)
	}
}

func TestClient_GetSuggestions(t *testing.T) {
	client, srv := newTestClient(t)

	ch := async(func() ([]CompletionSuggestion, error) {
		return client.GetSuggestions(context.Background(), "/p/lib/a.dart", 20)
	})
	req := srv.next()
	if req.Method != MethodGetSuggestions {
		t.Fatalf("method = %q, want %q", req.Method, MethodGetSuggestions)
	}

	srv.respond(req.ID, `{"id":"0"}`)
	srv.event(EventCompletionResults, `{"id":"0","results":[
		{"kind":"INVOCATION","relevance":1100,"completion":"print","selectionOffset":5,"selectionLength":0,
		 "isDeprecated":false,"isPotential":false,"returnType":"void","parameterNames":["object"],"parameterTypes":["Object?"]},
		{"kind":"KEYWORD","relevance":900,"completion":"return","selectionOffset":6,"selectionLength":0,
		 "isDeprecated":false,"isPotential":false}],"isLast":false}`)
	srv.event(EventCompletionResults, `{"id":"0","results":[
		{"kind":"IDENTIFIER","relevance":500,"completion":"pi","selectionOffset":2,"selectionLength":0,
		 "isDeprecated":true,"isPotential":false,"docSummary":"The constant pi."}],"isLast":true}`)

	got, err := await(t, ch)
	if err != nil {
		t.Fatalf("GetSuggestions() error = %v", err)
	}
	want := []CompletionSuggestion{
		{
			Kind: "INVOCATION", Relevance: 1100, Completion: "print", SelectionOffset: 5,
			ReturnType: "void", ParameterNames: []string{"object"}, ParameterTypes: []string{"Object?"},
		},
		{Kind: "KEYWORD", Relevance: 900, Completion: "return", SelectionOffset: 6},
		{Kind: "IDENTIFIER", Relevance: 500, Completion: "pi", SelectionOffset: 2, IsDeprecated: true, DocSummary: "The constant pi."},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("GetSuggestions() mismatch (-want +got):\n%s", diff)
	}
}

func TestClient_GetVersion(t *testing.T) {
	client, srv := newTestClient(t)

	ch := async(func() (string, error) {
		return client.GetVersion(context.Background())
	})
	req := srv.next()
	if string(req.Params) != `{}` {
		t.Errorf("params = %s, want {}", req.Params)
	}
	srv.respond(req.ID, `{"version":"1.32.10"}`)

	got, err := await(t, ch)
	if err != nil {
		t.Fatalf("GetVersion() error = %v", err)
	}
	if got != "1.32.10" {
		t.Errorf("GetVersion() = %q, want %q", got, "1.32.10")
	}
}

func TestClient_UndecodableResult(t *testing.T) {
	client, srv := newTestClient(t)

	ch := async(func() (string, error) {
		return client.GetVersion(context.Background())
	})
	req := srv.next()
	srv.respond(req.ID, `{"version":42}`)

	if _, err := await(t, ch); err == nil {
		t.Error("GetVersion() expected a decode error")
	}
	if client.Err() != nil {
		t.Errorf("Err() = %v, a bad result must not end the connection", client.Err())
	}
}

func TestClient_IDsAreUnique(t *testing.T) {
	a, _ := newTestClient(t)
	b, _ := newTestClient(t)
	if a.ID() == "" {
		t.Fatal("ID() is empty")
	}
	if a.ID() == b.ID() {
		t.Errorf("two clients share ID %q", a.ID())
	}
}

func TestClient_UnclosedClientKillsServer(t *testing.T) {
	outR, outW := io.Pipe()
	reqR, reqW := io.Pipe()
	go func() { _, _ = io.Copy(io.Discard, reqR) }()
	defer outW.Close()

	killed := make(chan struct{})
	tr := NewTransport(outR, reqW, func() error {
		close(killed)
		_ = reqW.Close()
		return outR.Close()
	}, nil)

	func() {
		client := Connect(tr, Options{})
		_ = client.ID()
	}()

	deadline := time.After(testTimeout)
	for {
		runtime.GC()
		select {
		case <-killed:
			return
		case <-deadline:
			t.Fatal("server was not killed after the client became unreachable")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestClient_CloseStopsCleanup(t *testing.T) {
	client, _ := newTestClient(t)
	if err := client.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	// a second Close must not panic on the stopped cleanup
	if err := client.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}
