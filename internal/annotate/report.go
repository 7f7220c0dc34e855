package annotate

import (
	"encoding/csv"
	"io"
	"strconv"

	"gihan9a/docproof/pkg/proofproto"
)

func deletionEntry(id int, text, label string) proofproto.ReportEntry {
	return proofproto.ReportEntry{ID: id, Type: proofproto.KindDeletion, TextA: text, TextB: "", Position: label}
}

func additionEntry(id int, text, label string) proofproto.ReportEntry {
	return proofproto.ReportEntry{ID: id, Type: proofproto.KindAddition, TextA: "", TextB: text, Position: label}
}

// Summarize counts report entries by kind.
func Summarize(report []proofproto.ReportEntry) proofproto.Summary {
	var s proofproto.Summary
	for _, e := range report {
		switch e.Type {
		case proofproto.KindAddition:
			s.Additions++
		case proofproto.KindDeletion:
			s.Deletions++
		case proofproto.KindModification:
			s.Modifications++
		}
	}
	s.Total = len(report)
	return s
}

// Find returns the report entry with the given id.
func Find(report []proofproto.ReportEntry, id int) (proofproto.ReportEntry, bool) {
	// Ids are 1..N in order.
	if id >= 1 && id <= len(report) && report[id-1].ID == id {
		return report[id-1], true
	}
	for _, e := range report {
		if e.ID == id {
			return e, true
		}
	}
	return proofproto.ReportEntry{}, false
}

// WriteCSV writes report as CSV with a header row.
func WriteCSV(w io.Writer, report []proofproto.ReportEntry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"id", "type", "position", "textA", "textB"}); err != nil {
		return err
	}
	for _, e := range report {
		if err := cw.Write([]string{strconv.Itoa(e.ID), string(e.Type), e.Position, e.TextA, e.TextB}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
