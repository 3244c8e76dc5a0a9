package index

import (
	"errors"

	"harshagw/segidx/internal/segment"
)

var (
	ErrIndexNotFound         = errors.New("no segments file found")
	ErrAlreadyClosed         = errors.New("reader is already closed")
	ErrWriterClosed          = errors.New("index writer is closed")
	ErrWriterFailed          = errors.New("index writer failed")
	ErrMergeAborted          = errors.New("merge aborted")
	ErrDocValuesTypeConflict = errors.New("doc values type conflict")
	ErrFieldNumberConflict   = errors.New("field number conflict")
	ErrNoPendingCommit       = errors.New("no pending commit")
	ErrCommitPending         = errors.New("prepared commit is pending")
	ErrIndexExists           = errors.New("index already exists")

	// ErrOrdNotSupported is returned by composite term enums.
	ErrOrdNotSupported = segment.ErrOrdNotSupported
)
