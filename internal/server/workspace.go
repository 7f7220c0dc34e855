package server

import (
	"errors"
	"log"
	"time"
	"unicode/utf8"

	"gihan9a/docproof/internal/annotate"
	"gihan9a/docproof/internal/extract"
	"gihan9a/docproof/internal/utils"
	"gihan9a/docproof/pkg/proofproto"
)

var (
	errNothingToCompare = errors.New("both documents need content before comparing")
	errNoComparison     = errors.New("no comparison available")
	errUnknownID        = errors.New("no difference with that id")
	errEmptySlot        = errors.New("no document in slot")
)

// workspace holds the two document slots, the current comparison, and the selected difference.
// All methods require the server mutex to be held.
type workspace struct {
	docs       [2]*proofproto.Document
	state      proofproto.State
	comparison *proofproto.Comparison
	selectedID int
	generation uint64 // generation increments whenever a pending comparison must be discarded
}

func newWorkspace() *workspace {
	return &workspace{state: proofproto.StateIdle}
}

func slotIndex(slot string) int {
	if slot == "b" || slot == "B" {
		return 1
	}
	return 0
}

func newDocument(name string, size int64, text string) *proofproto.Document {
	return &proofproto.Document{
		DocumentInfo: proofproto.DocumentInfo{
			Name:        name,
			Size:        size,
			Version:     utils.CalculateHash([]byte(text)),
			Runes:       utf8.RuneCountInString(text),
			Placeholder: extract.IsPlaceholder(text),
		},
		Text: text,
	}
}

// reset discards the current and any pending comparison
func (ws *workspace) reset() {
	ws.state = proofproto.StateIdle
	ws.comparison = nil
	ws.selectedID = 0
	ws.generation++
}

func (ws *workspace) setDocument(slot string, doc *proofproto.Document) {
	ws.docs[slotIndex(slot)] = doc
	ws.reset()
}

func (ws *workspace) document(slot string) (*proofproto.Document, error) {
	doc := ws.docs[slotIndex(slot)]
	if doc == nil {
		return nil, errEmptySlot
	}
	return doc, nil
}

// begin moves to comparing and returns the texts and generation of the new task
func (ws *workspace) begin() (a, b string, gen uint64, err error) {
	if ws.docs[0] == nil || ws.docs[1] == nil || ws.docs[0].Text == "" || ws.docs[1].Text == "" {
		return "", "", 0, errNothingToCompare
	}
	ws.reset()
	ws.state = proofproto.StateComparing
	return ws.docs[0].Text, ws.docs[1].Text, ws.generation, nil
}

// finish stores the result of the task started at gen, or reports false if it was superseded
func (ws *workspace) finish(gen uint64, res *proofproto.Comparison) bool {
	if gen != ws.generation {
		return false
	}
	ws.state = proofproto.StateDone
	ws.comparison = res
	return true
}

func (ws *workspace) selectID(id int) error {
	if ws.comparison == nil {
		return errNoComparison
	}
	if _, ok := annotate.Find(ws.comparison.Report, id); !ok {
		return errUnknownID
	}
	ws.selectedID = id
	return nil
}

func (ws *workspace) snapshot() proofproto.Workspace {
	view := proofproto.Workspace{
		State:      ws.state,
		Comparison: ws.comparison,
		SelectedID: ws.selectedID,
	}
	if d := ws.docs[0]; d != nil {
		info := d.DocumentInfo
		view.DocumentA = &info
	}
	if d := ws.docs[1]; d != nil {
		info := d.DocumentInfo
		view.DocumentB = &info
	}
	return view
}

// startComparison triggers a comparison of the workspace documents. The comparison runs after the
// configured delay on its own goroutine; subscribers see comparing first and done once it finishes.
func (s *DocProofServer) startComparison() error {
	s.mu.Lock()
	a, b, gen, err := s.workspace.begin()
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.publishWorkspace()

	run := func() {
		res := s.comparator.Trigger(a, b)

		s.mu.Lock()
		current := s.workspace.finish(gen, res)
		s.mu.Unlock()

		if !current {
			log.Printf("Discarding superseded comparison %s", res.ID)
			return
		}
		log.Printf("Comparison %s finished with %d differences", res.ID, res.Summary.Total)
		s.publishWorkspace()
	}

	if delay := s.config.Compare.Delay; delay > 0 {
		time.AfterFunc(delay, run)
	} else {
		go run()
	}
	return nil
}

// workspaceState returns the JSON the workspace subscription streams
func (s *DocProofServer) workspaceState() proofproto.Workspace {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.workspace.snapshot()
}
