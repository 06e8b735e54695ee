package core

import "errors"

var (
	// Pre-flight failures abort a batch before anything is logged.
	ErrBatchExists      = errors.New("batch already registered")
	ErrSourceDirMissing = errors.New("source directory not found")
	ErrBatchInProgress  = errors.New("another batch is in progress")
	ErrInvalidRequest   = errors.New("invalid request")

	// Resolution failures become per-file error outcomes.
	ErrNoMappingForSourceType = errors.New("no mapping for source type")
	ErrUnresolvedMapping      = errors.New("unresolved mapping")
	ErrAmbiguousMapping       = errors.New("ambiguous mapping")

	// File failures become per-file error outcomes.
	ErrEmptyFile       = errors.New("empty file")
	ErrFileTooLarge    = errors.New("file too large")
	ErrDuplicateHeader = errors.New("duplicate column header")
	ErrNoMappedColumns = errors.New("no mapped columns present")

	// Lineage state machine violations.
	ErrLineageClosed = errors.New("file lineage already closed")
	ErrBatchClosed   = errors.New("batch already closed")
	ErrBatchNotFound = errors.New("batch not found")
)
