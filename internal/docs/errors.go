package docs

import (
	"errors"
	"fmt"
)

var (
	ErrUnsupportedRevision = errors.New("unsupported format revision")
	ErrMalformedInput      = errors.New("malformed input")

	errEmptyInner = errors.New("inner has no variant")
)

// UnsupportedRevisionError is returned before any parsing when the export's
// format revision has no adapter.
type UnsupportedRevisionError struct {
	Revision int
}

func (e *UnsupportedRevisionError) Error() string {
	return fmt.Sprintf("unsupported rustdoc format revision %d (supported: %v)", e.Revision, SupportedRevisions())
}

func (e *UnsupportedRevisionError) Unwrap() error { return ErrUnsupportedRevision }

// MalformedInputError carries the smallest identifiable location of a schema
// violation, such as `index["42"].inner`.
type MalformedInputError struct {
	Location string
	Err      error
}

func (e *MalformedInputError) Error() string {
	if e.Location == "" {
		return fmt.Sprintf("malformed rustdoc JSON: %v", e.Err)
	}
	return fmt.Sprintf("malformed rustdoc JSON at %s: %v", e.Location, e.Err)
}

func (e *MalformedInputError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrMalformedInput}
	}
	return []error{ErrMalformedInput, e.Err}
}

func malformed(location string, err error) error {
	return &MalformedInputError{Location: location, Err: err}
}

func itemLocation(id string) string {
	return fmt.Sprintf("index[%q]", id)
}
