// Package engine computes a character-level edit script between two texts.
//
// Representation: Compute returns an ordered slice of spans. Each span has an Op:
//   - OpEqual: text present in both documents
//   - OpDelete: text present only in document A
//   - OpInsert: text present only in document B
//
// Invariants:
//   - Source(spans) == a (concatenation of OpEqual and OpDelete texts)
//   - Target(spans) == b (concatenation of OpEqual and OpInsert texts)
//   - No span has empty Text.
//   - No two adjacent spans share the same Op.
//
// Granularity: the raw Myers diff is passed through a semantic cleanup that merges short equalities
// sitting between edits into the surrounding edits. The result is no longer minimal, but an edit to
// a single word is reported as one delete and one insert rather than a run of one-character
// fragments. Consumers should rely on the invariants above rather than any particular chunking.
//
// Complexity is quadratic in the worst case. Inputs up to MaxPracticalInput runes per side diff in
// well under a second on commodity hardware; nothing enforces the ceiling, so callers that accept
// untrusted input should bound it themselves.
package engine
