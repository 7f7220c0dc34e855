package annotate

import (
	"fmt"
	"unicode/utf8"

	"gihan9a/docproof/pkg/proofproto"
)

// Layout models a monospaced, fixed-line-height text pane. Boxes are estimates, not measurements.
type Layout struct {
	CharsPerLine int    `json:"charsPerLine"` // assumed characters per rendered line
	LineHeight   int    `json:"lineHeight"`   // assumed line height, in layout units
	CharWidth    int    `json:"charWidth"`    // assumed average character width, in layout units
	MaxWidth     int    `json:"maxWidth"`     // clamp for an annotation's width
	BoxHeight    int    `json:"boxHeight"`    // fixed annotation height
	MarginX      int    `json:"marginX"`      // left edge of every annotation
	MarginY      int    `json:"marginY"`      // top offset of the first line
	LinePrefix   string `json:"linePrefix"`   // label prefix for report positions, e.g. "Line"
}

// DefaultLayout returns the layout the overlay renderer expects.
func DefaultLayout() Layout {
	return Layout{
		CharsPerLine: 50,
		LineHeight:   24,
		CharWidth:    8,
		MaxWidth:     600,
		BoxHeight:    20,
		MarginX:      10,
		MarginY:      10,
		LinePrefix:   "Line",
	}
}

// withDefaults returns DefaultLayout for the zero Layout. Otherwise it replaces non-positive
// dimensions with their defaults; margins may be zero.
func (l Layout) withDefaults() Layout {
	d := DefaultLayout()
	if l == (Layout{}) {
		return d
	}
	if l.CharsPerLine <= 0 {
		l.CharsPerLine = d.CharsPerLine
	}
	if l.LineHeight <= 0 {
		l.LineHeight = d.LineHeight
	}
	if l.CharWidth <= 0 {
		l.CharWidth = d.CharWidth
	}
	if l.MaxWidth <= 0 {
		l.MaxWidth = d.MaxWidth
	}
	if l.BoxHeight <= 0 {
		l.BoxHeight = d.BoxHeight
	}
	if l.MarginX < 0 {
		l.MarginX = d.MarginX
	}
	if l.MarginY < 0 {
		l.MarginY = d.MarginY
	}
	if l.LinePrefix == "" {
		l.LinePrefix = d.LinePrefix
	}
	return l
}

// Line estimates the 1-based line number of a rune offset.
func (l Layout) Line(offset int) int {
	l = l.withDefaults()
	return offset/l.CharsPerLine + 1
}

// Label returns the report location label for a rune offset, e.g. "Line 3".
func (l Layout) Label(offset int) string {
	l = l.withDefaults()
	return fmt.Sprintf("%s %d", l.LinePrefix, l.Line(offset))
}

// Box derives the overlay rectangle for text starting at a rune offset.
func (l Layout) Box(offset int, text string) proofproto.Box {
	l = l.withDefaults()
	return proofproto.Box{
		X:      l.MarginX,
		Y:      (offset/l.CharsPerLine)*l.LineHeight + l.MarginY,
		Width:  min(utf8.RuneCountInString(text)*l.CharWidth, l.MaxWidth),
		Height: l.BoxHeight,
	}
}
