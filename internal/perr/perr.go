// Package perr defines the closed set of error kinds the privacy engine
// distinguishes for propagation purposes (§7). Non-security kinds degrade
// the checkpoint outcome conservatively; PolicyViolation is the only kind
// that must surface to the host undegraded.
package perr

import "fmt"

// Kind is one of the seven error kinds named in §7.
type Kind string

const (
	ConfigInvalid        Kind = "ConfigInvalid"
	DetectorTimeout      Kind = "DetectorTimeout"
	ModelTransportError  Kind = "ModelTransportError"
	ExtractionParseError Kind = "ExtractionParseError"
	StorageWriteError    Kind = "StorageWriteError"
	FileReadError        Kind = "FileReadError"
	PolicyViolation      Kind = "PolicyViolation"
)

// Error wraps an underlying error with the operation and kind that produced
// it, compatible with errors.Is/errors.As via Unwrap.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err as a *Error of the given kind and operation. Returns nil if
// err is nil.
func New(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if ok := asError(err, &e); ok {
		return e.Kind == kind
	}
	return false
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
