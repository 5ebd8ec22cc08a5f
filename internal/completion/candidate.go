package completion

import (
	"context"
	"fmt"

	"github.com/sourcegraph/go-lsp"

	"dartas/internal/analysis"
	"dartas/internal/workspace"
)

// Suggester is the part of the analysis client Gather needs.
type Suggester interface {
	GetSuggestions(ctx context.Context, file string, offset int) ([]analysis.CompletionSuggestion, error)
}

// Request is what a completion host knows about the cursor.
type Request struct {
	// Cwd is the host's working directory
	Cwd string
	// BufName is the buffer path, absolute or relative to Cwd
	BufName string
	// Line is 1-based
	Line int
	// Column is a 0-based byte column within Line
	Column int
}

// Candidate is one completion entry for the host.
type Candidate struct {
	Word string `json:"word"`
	Kind string `json:"kind"`
	Info string `json:"info"`
	Dup  int    `json:"dup"`
}

// Gather asks the server for suggestions at the request's cursor and returns
// one candidate per suggestion, in server order. content is the buffer as
// the host sees it.
func Gather(ctx context.Context, s Suggester, req Request, content []byte) ([]Candidate, error) {
	file, err := workspace.AbsFile(req.Cwd, req.BufName)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", req.BufName, err)
	}
	offset, err := ByteOffset(content, req.Line, req.Column)
	if err != nil {
		return nil, err
	}

	suggestions, err := s.GetSuggestions(ctx, file, offset)
	if err != nil {
		return nil, err
	}
	return Candidates(suggestions), nil
}

// Candidates converts suggestions one-to-one.
func Candidates(suggestions []analysis.CompletionSuggestion) []Candidate {
	out := make([]Candidate, 0, len(suggestions))
	for _, s := range suggestions {
		out = append(out, Candidate{
			Word: s.Completion,
			Kind: s.Kind,
			Info: s.DocSummary,
			Dup:  1,
		})
	}
	return out
}

// maxRelevance bounds the relevance values the server produces.
const maxRelevance = 1 << 20

// ToCompletionItem maps a suggestion for hosts that speak LSP.
func ToCompletionItem(s analysis.CompletionSuggestion) lsp.CompletionItem {
	relevance := min(max(s.Relevance, 0), maxRelevance)

	return lsp.CompletionItem{
		Label:         s.Completion,
		Kind:          itemKind(s),
		Detail:        detail(s),
		Documentation: s.DocSummary,
		// higher relevance sorts first
		SortText:   fmt.Sprintf("%07d", maxRelevance-relevance),
		InsertText: s.Completion,
	}
}

func itemKind(s analysis.CompletionSuggestion) lsp.CompletionItemKind {
	member := s.DeclaringType != ""
	switch s.Kind {
	case "INVOCATION", "OVERRIDE":
		if member {
			return lsp.CIKMethod
		}
		return lsp.CIKFunction
	case "IDENTIFIER":
		if member {
			return lsp.CIKField
		}
		return lsp.CIKVariable
	case "KEYWORD":
		return lsp.CIKKeyword
	case "IMPORT":
		return lsp.CIKModule
	case "NAMED_ARGUMENT", "OPTIONAL_ARGUMENT", "ARGUMENT_LIST", "PARAMETER":
		return lsp.CIKProperty
	default:
		return lsp.CIKText
	}
}

func detail(s analysis.CompletionSuggestion) string {
	switch {
	case s.ReturnType != "" && s.DeclaringType != "":
		return s.DeclaringType + " → " + s.ReturnType
	case s.ReturnType != "":
		return s.ReturnType
	default:
		return s.DeclaringType
	}
}
