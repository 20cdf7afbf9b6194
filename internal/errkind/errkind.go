// Package errkind defines the indexer's error taxonomy as sentinel errors,
// so call sites can classify failures with errors.Is while still wrapping
// local context with github.com/pkg/errors.
package errkind

import "github.com/pkg/errors"

// Sentinel kinds. Compare with errors.Is(err, errkind.Storage) etc.
var (
	Parse              = errors.New("parse")
	Schema             = errors.New("schema")
	Storage            = errors.New("storage")
	CorruptLineage     = errors.New("corrupt lineage")
	ReorgTooDeep       = errors.New("reorg too deep")
	NoSnapshotForReorg = errors.New("no snapshot for reorg")
	NotFound           = errors.New("not found")
	DeadlineExceeded   = errors.New("deadline exceeded")
	Shutdown           = errors.New("shutdown")
)

// fatalKinds terminate the process after flushing storage; everything else
// is retried, skipped, or surfaced to the caller.
var fatalKinds = []error{CorruptLineage, ReorgTooDeep, NoSnapshotForReorg}

// IsFatal reports whether err carries one of the fatal kinds.
func IsFatal(err error) bool {
	for _, k := range fatalKinds {
		if errors.Is(err, k) {
			return true
		}
	}
	return false
}

// Wrap annotates err with kind and a message, preserving errors.Is(kind).
func Wrap(kind error, err error, msg string) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(&kindError{kind: kind, err: err}, msg)
}

// New builds a fresh error of the given kind with a message.
func New(kind error, msg string) error {
	return &kindError{kind: kind, err: errors.New(msg)}
}

type kindError struct {
	kind error
	err  error
}

func (e *kindError) Error() string { return e.err.Error() }
func (e *kindError) Unwrap() error { return e.err }
func (e *kindError) Is(target error) bool {
	return target == e.kind
}
