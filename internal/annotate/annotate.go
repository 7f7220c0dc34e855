// Package annotate turns an engine diff into numbered, positioned differences: one overlay list per
// document and one unified report.
//
// Ids start at 1 and increase by one for every non-equal span, in diff order. Offsets into A and B
// are tracked independently and are measured in runes, so a long deletion from A never moves the
// boxes computed for B.
package annotate

import (
	"unicode/utf8"

	"gihan9a/docproof/internal/engine"
	"gihan9a/docproof/pkg/proofproto"
)

// Result is the output of one annotation pass.
type Result struct {
	Report   []proofproto.ReportEntry
	OverlayA []proofproto.Annotation
	OverlayB []proofproto.Annotation
}

// run is the state of a single pass. It is never shared between passes.
type run struct {
	layout  Layout
	offsetA int
	offsetB int
	nextID  int
	res     Result
}

// Annotate walks spans left to right and returns the report and both overlay lists. The slices in
// the Result are non-nil even when there are no differences. spans is not modified.
func Annotate(spans []engine.Span, layout Layout) Result {
	r := &run{
		layout: layout.withDefaults(),
		nextID: 1,
		res: Result{
			Report:   []proofproto.ReportEntry{},
			OverlayA: []proofproto.Annotation{},
			OverlayB: []proofproto.Annotation{},
		},
	}
	for _, s := range spans {
		r.step(s)
	}
	return r.res
}

func (r *run) step(s engine.Span) {
	n := utf8.RuneCountInString(s.Text)
	switch s.Op {
	case engine.OpEqual:
		r.offsetA += n
		r.offsetB += n
	case engine.OpDelete:
		r.res.Report = append(r.res.Report, deletionEntry(r.nextID, s.Text, r.layout.Label(r.offsetA)))
		r.res.OverlayA = append(r.res.OverlayA, proofproto.Annotation{ID: r.nextID, Position: r.layout.Box(r.offsetA, s.Text), Text: s.Text})
		r.offsetA += n
		r.nextID++
	case engine.OpInsert:
		r.res.Report = append(r.res.Report, additionEntry(r.nextID, s.Text, r.layout.Label(r.offsetB)))
		r.res.OverlayB = append(r.res.OverlayB, proofproto.Annotation{ID: r.nextID, Position: r.layout.Box(r.offsetB, s.Text), Text: s.Text})
		r.offsetB += n
		r.nextID++
	}
}
