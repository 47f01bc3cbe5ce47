// Package bmerr defines the error kinds shared across the bm25idx packages.
// Every fatal condition the index can hit is one of these four kinds; wrap
// them with fmt.Errorf("...: %w", ...) at the detection site and compare
// with errors.Is at the boundary.
package bmerr

import "errors"

var (
	// ErrCorruption marks magic-number mismatches, invariant violations, and
	// any other on-disk state that should never occur. Fatal; abort the
	// operation and propagate to the host.
	ErrCorruption = errors.New("bm25idx: corruption detected")

	// ErrOverflow marks a docid-space or bit-width overflow (e.g. current_doc_id
	// wrapping past 2^32 documents). Fatal at insert time.
	ErrOverflow = errors.New("bm25idx: overflow")

	// ErrLockBusy marks opportunistic lock contention (e.g. a concurrent seal
	// already in progress). Non-fatal; the caller should skip this attempt
	// and retry later.
	ErrLockBusy = errors.New("bm25idx: lock busy")

	// ErrInvalidInput marks malformed query vectors or configuration. Reject
	// at the boundary before any page is touched.
	ErrInvalidInput = errors.New("bm25idx: invalid input")
)
