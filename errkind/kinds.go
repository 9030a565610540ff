// Package errkind declares the engine's failure taxonomy as a closed set
// of error kinds, following the same gopkg.in/src-d/go-errors.v1 pattern
// the teacher repository uses for its own sentinel errors
// (sql/index/pilosa, sql/rowexec, sql/plan).
package errkind

import errors "gopkg.in/src-d/go-errors.v1"

var (
	// InvalidArgument covers mismatched bitmap lengths, unknown column
	// names, and unsupported operator/type combinations in the SQL or
	// expression ingress.
	InvalidArgument = errors.NewKind("invalid argument: %s")

	// Unsupported covers an expression pattern the analyzer does not
	// recognize.
	Unsupported = errors.NewKind("unsupported expression: %s")

	// EmptySequence covers Min/Max/First/Single/Avg on an empty selection.
	EmptySequence = errors.NewKind("%s on empty selection")

	// Overflow covers integer accumulator overflow detected at final
	// reduction.
	Overflow = errors.NewKind("overflow accumulating %s")

	// RowCountMismatch covers RecordBatch.Rechunk asked to carry forward
	// zone maps built at one chunk size into a batch wrapped with a
	// different one.
	RowCountMismatch = errors.NewKind("zone map for column %q was built with chunk size %d, cannot reuse for chunk size %d")

	// InternalFused covers a failure inside the fused filter+aggregate
	// path. The executor catches it to trigger one bitmap-path retry; it
	// must never escape to the caller unless the retry also fails.
	InternalFused = errors.NewKind("fused path failed: %s")
)
