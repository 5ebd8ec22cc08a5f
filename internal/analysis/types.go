package analysis

// Protocol method and event names.
const (
	MethodSetAnalysisRoots = "analysis.setAnalysisRoots"
	MethodSetPriorityFiles = "analysis.setPriorityFiles"
	MethodUpdateContent    = "analysis.updateContent"
	MethodGetErrors        = "analysis.getErrors"
	MethodGetNavigation    = "analysis.getNavigation"
	MethodGetHover         = "analysis.getHover"
	MethodGetSuggestions   = "completion.getSuggestions"
	MethodServerGetVersion = "server.getVersion"
	MethodServerShutdown   = "server.shutdown"

	EventServerConnected      = "server.connected"
	EventServerError          = "server.error"
	EventCompletionResults    = "completion.results"
	EventAnalysisErrors       = "analysis.errors"
	EventAnalysisFlushResults = "analysis.flushResults"
)

// ServerInfo is the payload of server.connected.
type ServerInfo struct {
	Version string `json:"version"`
	PID     int    `json:"pid"`
}

// ServerErrorParams is the payload of server.error.
type ServerErrorParams struct {
	IsFatal    bool   `json:"isFatal"`
	Message    string `json:"message"`
	StackTrace string `json:"stackTrace"`
}

// Location is a region of a file as the server reports it.
type Location struct {
	File        string `json:"file"`
	Offset      int    `json:"offset"`
	Length      int    `json:"length"`
	StartLine   int    `json:"startLine"`
	StartColumn int    `json:"startColumn"`
}

// AnalysisError is one diagnostic.
type AnalysisError struct {
	Severity   string   `json:"severity"`
	Type       string   `json:"type"`
	Location   Location `json:"location"`
	Message    string   `json:"message"`
	Correction string   `json:"correction,omitempty"`
	Code       string   `json:"code,omitempty"`
	HasFix     bool     `json:"hasFix,omitempty"`
}

// NavigationTarget is a place a region can navigate to.
type NavigationTarget struct {
	Kind        string `json:"kind"`
	FileIndex   int    `json:"fileIndex"`
	Offset      int    `json:"offset"`
	Length      int    `json:"length"`
	StartLine   int    `json:"startLine"`
	StartColumn int    `json:"startColumn"`
}

// NavigationRegion maps a source range to indices into Navigation.Targets.
type NavigationRegion struct {
	Offset  int   `json:"offset"`
	Length  int   `json:"length"`
	Targets []int `json:"targets"`
}

// Navigation is the result of analysis.getNavigation.
type Navigation struct {
	Files   []string           `json:"files"`
	Targets []NavigationTarget `json:"targets"`
	Regions []NavigationRegion `json:"regions"`
}

// TargetFile returns the file a target points into.
func (n *Navigation) TargetFile(target NavigationTarget) string {
	if target.FileIndex < 0 || target.FileIndex >= len(n.Files) {
		return ""
	}
	return n.Files[target.FileIndex]
}

// HoverInformation describes the element under an offset.
type HoverInformation struct {
	Offset                     int    `json:"offset"`
	Length                     int    `json:"length"`
	ContainingLibraryPath      string `json:"containingLibraryPath,omitempty"`
	ContainingLibraryName      string `json:"containingLibraryName,omitempty"`
	ContainingClassDescription string `json:"containingClassDescription,omitempty"`
	Dartdoc                    string `json:"dartdoc,omitempty"`
	ElementDescription         string `json:"elementDescription,omitempty"`
	ElementKind                string `json:"elementKind,omitempty"`
	IsDeprecated               bool   `json:"isDeprecated,omitempty"`
	Parameter                  string `json:"parameter,omitempty"`
	PropagatedType             string `json:"propagatedType,omitempty"`
	StaticType                 string `json:"staticType,omitempty"`
}

// CompletionSuggestion is one item of a completion.results batch.
type CompletionSuggestion struct {
	Kind            string   `json:"kind"`
	Relevance       int      `json:"relevance"`
	Completion      string   `json:"completion"`
	SelectionOffset int      `json:"selectionOffset"`
	SelectionLength int      `json:"selectionLength"`
	IsDeprecated    bool     `json:"isDeprecated"`
	IsPotential     bool     `json:"isPotential"`
	DocSummary      string   `json:"docSummary,omitempty"`
	DocComplete     string   `json:"docComplete,omitempty"`
	DeclaringType   string   `json:"declaringType,omitempty"`
	ReturnType      string   `json:"returnType,omitempty"`
	ParameterNames  []string `json:"parameterNames,omitempty"`
	ParameterTypes  []string `json:"parameterTypes,omitempty"`
}

// addContentOverlay replaces a file's content until it is removed.
type addContentOverlay struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// removeContentOverlay reverts a file to what is on disk.
type removeContentOverlay struct {
	Type string `json:"type"`
}

type setAnalysisRootsParams struct {
	Included     []string          `json:"included"`
	Excluded     []string          `json:"excluded"`
	PackageRoots map[string]string `json:"packageRoots"`
}

type setPriorityFilesParams struct {
	Files []string `json:"files"`
}

type updateContentParams struct {
	Files map[string]any `json:"files"`
}

type fileParams struct {
	File string `json:"file"`
}

type fileOffsetParams struct {
	File   string `json:"file"`
	Offset int    `json:"offset"`
}

type navigationParams struct {
	File   string `json:"file"`
	Offset int    `json:"offset"`
	Length int    `json:"length"`
}

type getErrorsResult struct {
	Errors []AnalysisError `json:"errors"`
}

type getHoverResult struct {
	Hovers []HoverInformation `json:"hovers"`
}

type getVersionResult struct {
	Version string `json:"version"`
}
