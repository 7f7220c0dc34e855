package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// MaxPracticalInput is the per-side input size, in runes, that the engine is tuned for.
const MaxPracticalInput = 50000

// Op is an operation from document A to document B.
type Op int

// Operations from document A to document B.
const (
	OpEqual Op = iota
	OpDelete
	OpInsert
)

func (op Op) String() string {
	switch op {
	case OpEqual:
		return "equal"
	case OpDelete:
		return "delete"
	case OpInsert:
		return "insert"
	}
	return fmt.Sprintf("Op(%d)", int(op))
}

// Span is a contiguous run of text with a single Op.
type Span struct {
	Op   Op
	Text string
}

// Options tune an Engine.
type Options struct {
	// Timeout bounds the Myers search. Zero means no bound. A positive timeout trades determinism
	// for latency: past the deadline the diff degrades to a coarser (but still valid) edit script,
	// and where the deadline falls depends on the machine.
	Timeout time.Duration

	// LineMode runs a line-level pass first and refines changed regions character by character.
	// Faster on large documents, slightly less minimal.
	LineMode bool
}

// Engine computes diffs. The zero value is not usable; use New. An Engine holds no per-call state
// and is safe for concurrent use.
type Engine struct {
	opts Options
}

// New returns an Engine configured with opts.
func New(opts Options) *Engine {
	return &Engine{opts: opts}
}

// Compute diffs a to b with default Options.
func Compute(a, b string) []Span {
	return New(Options{}).Compute(a, b)
}

// Compute diffs a to b. Either input may be empty. The result is nil when both inputs are empty.
func (e *Engine) Compute(a, b string) []Span {
	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = e.opts.Timeout

	diffs := dmp.DiffMain(a, b, e.opts.LineMode)
	diffs = dmp.DiffCleanupSemantic(diffs)

	spans := normalize(diffs)
	if err := validate(spans, a, b); err != nil {
		panic(fmt.Errorf("engine.Compute: validate failed with %v", err))
	}
	return spans
}

// normalize converts dmp diffs to spans, dropping empty diffs and merging same-Op neighbors.
func normalize(diffs []diffmatchpatch.Diff) []Span {
	var spans []Span
	for _, d := range diffs {
		if d.Text == "" {
			continue
		}
		op := opOf(d.Type)
		if n := len(spans); n > 0 && spans[n-1].Op == op {
			spans[n-1].Text += d.Text
			continue
		}
		spans = append(spans, Span{Op: op, Text: d.Text})
	}
	return spans
}

func opOf(t diffmatchpatch.Operation) Op {
	switch t {
	case diffmatchpatch.DiffDelete:
		return OpDelete
	case diffmatchpatch.DiffInsert:
		return OpInsert
	default:
		return OpEqual
	}
}

// Source reconstructs document A from spans.
func Source(spans []Span) string {
	var sb strings.Builder
	for _, s := range spans {
		if s.Op != OpInsert {
			sb.WriteString(s.Text)
		}
	}
	return sb.String()
}

// Target reconstructs document B from spans.
func Target(spans []Span) string {
	var sb strings.Builder
	for _, s := range spans {
		if s.Op != OpDelete {
			sb.WriteString(s.Text)
		}
	}
	return sb.String()
}

// Changes returns the number of non-equal spans.
func Changes(spans []Span) int {
	n := 0
	for _, s := range spans {
		if s.Op != OpEqual {
			n++
		}
	}
	return n
}

// validate returns an error for the first span invariant that does not hold for a and b.
func validate(spans []Span, a, b string) error {
	for i, s := range spans {
		if s.Text == "" {
			return fmt.Errorf("span[%d]: empty text", i)
		}
		if s.Op != OpEqual && s.Op != OpDelete && s.Op != OpInsert {
			return fmt.Errorf("span[%d]: unknown op %v", i, s.Op)
		}
		if i > 0 && spans[i-1].Op == s.Op {
			return fmt.Errorf("span[%d]: same op %v as previous span", i, s.Op)
		}
	}
	if got := Source(spans); got != a {
		return fmt.Errorf("source mismatch: got %d bytes, want %d", len(got), len(a))
	}
	if got := Target(spans); got != b {
		return fmt.Errorf("target mismatch: got %d bytes, want %d", len(got), len(b))
	}
	return nil
}
