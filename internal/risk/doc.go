// Package risk classifies patients from threshold rules and reduces a
// patient collection to alert lists and dashboard statistics.
//
// thresholds.go holds the clinical cut-offs and the point tables. Categories
// (normal, stage-1, low fever, ...) are derived from thresholds alone; a
// Table then maps each category to points, so switching tables never changes
// which inputs count as invalid.
//
// classifier.go parses the untrusted fields and maps them to categories and
// points. Every function is total: malformed input becomes the Invalid
// category, never an error or panic.
//
// aggregate.go builds AlertLists and Summary in a single pass.
package risk
