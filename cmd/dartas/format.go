package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/sourcegraph/go-lsp"

	"dartas/internal/analysis"
	"dartas/internal/completion"
)

// OutputFormat represents the output format type
type OutputFormat string

const (
	FormatJSON  OutputFormat = "json"
	FormatHuman OutputFormat = "human"
)

// FormatResponse formats a response according to the specified format
func FormatResponse(resp interface{}, format OutputFormat) (string, error) {
	switch format {
	case FormatJSON:
		return formatJSON(resp)
	case FormatHuman:
		return formatHuman(resp)
	default:
		return "", fmt.Errorf("unsupported format: %s", format)
	}
}

// formatJSON formats the response as JSON
func formatJSON(resp interface{}) (string, error) {
	data, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return string(data), nil
}

// formatHuman formats the response in human-readable format
func formatHuman(resp interface{}) (string, error) {
	switch v := resp.(type) {
	case *ErrorsResponseCLI:
		return formatErrorsHuman(v), nil
	case *HoverResponseCLI:
		return formatHoverHuman(v), nil
	case *NavigationResponseCLI:
		return formatNavigationHuman(v), nil
	case *CompleteResponseCLI:
		return formatCompleteHuman(v), nil
	case *RootsResponseCLI:
		return formatRootsHuman(v), nil
	case *ServerVersionResponseCLI:
		return formatServerVersionHuman(v), nil
	default:
		// For unknown types, fall back to JSON
		return formatJSON(resp)
	}
}

// ErrorsResponseCLI lists the diagnostics of one file.
type ErrorsResponseCLI struct {
	File   string                   `json:"file"`
	Errors []analysis.AnalysisError `json:"errors"`
}

func formatErrorsHuman(r *ErrorsResponseCLI) string {
	if len(r.Errors) == 0 {
		return fmt.Sprintf("%s: no issues found", r.File)
	}

	var b strings.Builder
	for i, e := range r.Errors {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s:%d:%d: %s: %s",
			e.Location.File, e.Location.StartLine, e.Location.StartColumn,
			strings.ToLower(e.Severity), e.Message)
		if e.Code != "" {
			fmt.Fprintf(&b, " [%s]", e.Code)
		}
	}
	fmt.Fprintf(&b, "\n\n%s found", plural(len(r.Errors), "issue"))
	return b.String()
}

// HoverResponseCLI describes the element at an offset.
type HoverResponseCLI struct {
	File   string                      `json:"file"`
	Offset int                         `json:"offset"`
	Hovers []analysis.HoverInformation `json:"hovers"`
}

func formatHoverHuman(r *HoverResponseCLI) string {
	if len(r.Hovers) == 0 {
		return fmt.Sprintf("Nothing at %s@%d", r.File, r.Offset)
	}

	var b strings.Builder
	for i, h := range r.Hovers {
		if i > 0 {
			b.WriteString("\n\n")
		}
		if h.ElementDescription != "" {
			b.WriteString(h.ElementDescription)
		} else if h.StaticType != "" {
			b.WriteString(h.StaticType)
		}
		if h.ContainingLibraryName != "" {
			fmt.Fprintf(&b, "\n  in %s", h.ContainingLibraryName)
		}
		if h.IsDeprecated {
			b.WriteString("\n  (deprecated)")
		}
		if h.Dartdoc != "" {
			b.WriteString("\n\n")
			b.WriteString(h.Dartdoc)
		}
	}
	return b.String()
}

// NavigationResponseCLI flattens a navigation result so each region names
// its target files directly.
type NavigationResponseCLI struct {
	File    string                `json:"file"`
	Regions []NavigationRegionCLI `json:"regions"`
}

// NavigationRegionCLI is one navigable source range.
type NavigationRegionCLI struct {
	Offset  int                   `json:"offset"`
	Length  int                   `json:"length"`
	Targets []NavigationTargetCLI `json:"targets"`
}

// NavigationTargetCLI is a resolved target location.
type NavigationTargetCLI struct {
	Kind   string `json:"kind"`
	File   string `json:"file"`
	Offset int    `json:"offset"`
	Length int    `json:"length"`
	Line   int    `json:"line"`
	Column int    `json:"column"`
}

func convertNavigation(file string, nav *analysis.Navigation) *NavigationResponseCLI {
	regions := make([]NavigationRegionCLI, 0, len(nav.Regions))
	for _, r := range nav.Regions {
		targets := make([]NavigationTargetCLI, 0, len(r.Targets))
		for _, idx := range r.Targets {
			if idx < 0 || idx >= len(nav.Targets) {
				continue
			}
			t := nav.Targets[idx]
			targets = append(targets, NavigationTargetCLI{
				Kind:   t.Kind,
				File:   nav.TargetFile(t),
				Offset: t.Offset,
				Length: t.Length,
				Line:   t.StartLine,
				Column: t.StartColumn,
			})
		}
		regions = append(regions, NavigationRegionCLI{Offset: r.Offset, Length: r.Length, Targets: targets})
	}
	return &NavigationResponseCLI{File: file, Regions: regions}
}

func formatNavigationHuman(r *NavigationResponseCLI) string {
	if len(r.Regions) == 0 {
		return fmt.Sprintf("%s: no navigation targets", r.File)
	}

	var b strings.Builder
	for i, region := range r.Regions {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%d+%d", region.Offset, region.Length)
		for _, t := range region.Targets {
			fmt.Fprintf(&b, "\n  -> %s:%d:%d (%s)", t.File, t.Line, t.Column, strings.ToLower(t.Kind))
		}
	}
	return b.String()
}

// CompleteResponseCLI holds either host candidates or LSP items.
type CompleteResponseCLI struct {
	File       string                 `json:"file"`
	Offset     int                    `json:"offset"`
	Candidates []completion.Candidate `json:"candidates,omitempty"`
	Items      []lsp.CompletionItem   `json:"items,omitempty"`
}

func formatCompleteHuman(r *CompleteResponseCLI) string {
	if len(r.Candidates) == 0 && len(r.Items) == 0 {
		return "No completions"
	}

	var b strings.Builder
	for _, c := range r.Candidates {
		fmt.Fprintf(&b, "%-30s %s", c.Word, strings.ToLower(c.Kind))
		if c.Info != "" {
			fmt.Fprintf(&b, "  %s", firstLine(c.Info))
		}
		b.WriteByte('\n')
	}
	for _, it := range r.Items {
		fmt.Fprintf(&b, "%-30s %s\n", it.Label, it.Detail)
	}
	return strings.TrimRight(b.String(), "\n")
}

// RootsResponseCLI is the persisted workspace mirror.
type RootsResponseCLI struct {
	Roots         []RootCLI `json:"roots"`
	PriorityFiles []string  `json:"priorityFiles"`
	UpdatedAt     string    `json:"updatedAt,omitempty"`
}

// RootCLI is one analysis root and its package name, if it has a pubspec.
type RootCLI struct {
	Path    string `json:"path"`
	Package string `json:"package,omitempty"`
}

func formatRootsHuman(r *RootsResponseCLI) string {
	if len(r.Roots) == 0 && len(r.PriorityFiles) == 0 {
		return "No analysis roots"
	}

	var b strings.Builder
	b.WriteString("Analysis roots:\n")
	for _, root := range r.Roots {
		if root.Package != "" {
			fmt.Fprintf(&b, "  %s (%s)\n", root.Path, root.Package)
		} else {
			fmt.Fprintf(&b, "  %s\n", root.Path)
		}
	}
	if len(r.PriorityFiles) > 0 {
		b.WriteString("Priority files:\n")
		for _, f := range r.PriorityFiles {
			fmt.Fprintf(&b, "  %s\n", f)
		}
	}
	if r.UpdatedAt != "" {
		fmt.Fprintf(&b, "Updated: %s\n", r.UpdatedAt)
	}
	return strings.TrimRight(b.String(), "\n")
}

// ServerVersionResponseCLI reports client and server versions.
type ServerVersionResponseCLI struct {
	ClientVersion   string `json:"clientVersion"`
	ServerVersion   string `json:"serverVersion"`
	ProtocolVersion string `json:"protocolVersion"`
	PID             int    `json:"pid,omitempty"`
}

func formatServerVersionHuman(r *ServerVersionResponseCLI) string {
	return fmt.Sprintf("dartas %s\nanalysis server %s (protocol %s, pid %d)",
		r.ClientVersion, r.ServerVersion, r.ProtocolVersion, r.PID)
}

func plural(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return fmt.Sprintf("%d %ss", n, noun)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// printResponse writes resp to w in the --format format.
func printResponse(w io.Writer, resp interface{}) error {
	output, err := FormatResponse(resp, OutputFormat(formatFlag))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, output)
	return err
}
