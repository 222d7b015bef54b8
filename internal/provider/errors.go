package provider

import (
	"errors"
	"fmt"

	"github.com/jcdickinson/ferrisdoc/internal/graph"
)

// Kind classifies why an export could not be acquired.
type Kind uint8

const (
	// NotFound means the source has no export for the crate. Chain moves on
	// to the next source.
	NotFound Kind = iota + 1
	ToolchainMissing
	ComponentMissing
	NetworkFailure
	RemoteFormatUnsupported
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not found"
	case ToolchainMissing:
		return "toolchain missing"
	case ComponentMissing:
		return "component missing"
	case NetworkFailure:
		return "network failure"
	case RemoteFormatUnsupported:
		return "remote format unsupported"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// AcquisitionError reports a failure to obtain an export for one crate.
type AcquisitionError struct {
	Kind   Kind
	Crate  graph.Identity
	Source string
	Err    error
}

func (e *AcquisitionError) Error() string {
	msg := fmt.Sprintf("%s: acquiring %s: %s", e.Source, e.Crate, e.Kind)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AcquisitionError) Unwrap() error { return e.Err }

// IsKind reports whether err is an AcquisitionError of kind k.
func IsKind(err error, k Kind) bool {
	var ae *AcquisitionError
	return errors.As(err, &ae) && ae.Kind == k
}

func acquisition(source string, kind Kind, id graph.Identity, err error) error {
	return &AcquisitionError{Kind: kind, Crate: id, Source: source, Err: err}
}
