package metadata

import "errors"

var (
	// ErrOverlap is returned when two records claim the same bytes of one store
	ErrOverlap = errors.New("overlapping content records")

	// ErrCorruptTable is returned when a table file cannot be decoded
	ErrCorruptTable = errors.New("corrupt metadata table")
)
