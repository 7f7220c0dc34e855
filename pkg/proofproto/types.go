package proofproto

import "time"

// Kind classifies a report entry
type Kind string

// Report entry kinds. KindModification is reserved; comparisons never emit it
const (
	KindAddition     Kind = "addition"
	KindDeletion     Kind = "deletion"
	KindModification Kind = "modification"
)

// Box is an overlay rectangle in layout units
type Box struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Annotation is one highlighted span on a single document pane
type Annotation struct {
	ID       int    `json:"id"`
	Position Box    `json:"position"`
	Text     string `json:"text"`
}

// ReportEntry is one row of the unified difference report
type ReportEntry struct {
	ID       int    `json:"id"`
	Type     Kind   `json:"type"`
	TextA    string `json:"textA"`
	TextB    string `json:"textB"`
	Position string `json:"position"` // Position is a coarse location label, e.g. "Line 3"
}

// Summary counts the entries of a report
type Summary struct {
	Additions     int `json:"additions"`
	Deletions     int `json:"deletions"`
	Modifications int `json:"modifications"`
	Total         int `json:"total"`
}

// Comparison is the result of one comparison run
type Comparison struct {
	ID        string        `json:"id"`        // ID is unique per run
	VersionA  string        `json:"versionA"`  // VersionA is the content hash of document A
	VersionB  string        `json:"versionB"`  // VersionB is the content hash of document B
	CreatedAt time.Time     `json:"createdAt"` // CreatedAt is when the run finished
	Cached    bool          `json:"cached"`    // Cached reports whether the lists came from the result cache
	Summary   Summary       `json:"summary"`
	Report    []ReportEntry `json:"report"`
	OverlayA  []Annotation  `json:"overlayA"`
	OverlayB  []Annotation  `json:"overlayB"`
}

// Patch represents one JSON patch operation sent on a subscription stream
type Patch struct {
	Op    string      `json:"op"`              // Op is the RFC 6902 operation, e.g. "replace"
	Path  string      `json:"path"`            // Path is the JSON pointer, e.g. "/comparison/report/0"
	Value interface{} `json:"value,omitempty"` // Value is the new value, absent for removals
}

// Update represents one frame on a subscription stream, with version, parents, and either patches
// or a full body
type Update struct {
	Version []string `json:"version"`           // Version identifiers for this update
	Parents []string `json:"parents"`           // Parent versions this update is based on
	Patches []Patch  `json:"patches,omitempty"` // Optional list of patches
	Body    string   `json:"body,omitempty"`    // Optional full body content
}

// State is the lifecycle of a workspace comparison
type State string

// Workspace states
const (
	StateIdle      State = "idle"
	StateComparing State = "comparing"
	StateDone      State = "done"
)

// DocumentInfo describes an uploaded document without its text
type DocumentInfo struct {
	Name        string `json:"name"`
	Size        int64  `json:"size"`        // Size of the uploaded file in bytes
	Version     string `json:"version"`     // Version is the content hash of the extracted text
	Runes       int    `json:"runes"`       // Runes is the length of the extracted text
	Placeholder bool   `json:"placeholder"` // Placeholder is set when the format could not be extracted and the text is a notice
}

// Document is an uploaded document with its extracted text
type Document struct {
	DocumentInfo
	Text string `json:"text"`
}

// Workspace is the state of the two-document comparison workspace
type Workspace struct {
	State      State         `json:"state"`
	DocumentA  *DocumentInfo `json:"documentA,omitempty"`
	DocumentB  *DocumentInfo `json:"documentB,omitempty"`
	Comparison *Comparison   `json:"comparison,omitempty"`
	SelectedID int           `json:"selectedId,omitempty"`
}

// DiffRequest is the body of a stateless diff request
type DiffRequest struct {
	TextA string `json:"textA"`
	TextB string `json:"textB"`
}

// SelectRequest is the body of a selection request
type SelectRequest struct {
	ID int `json:"id"`
}
