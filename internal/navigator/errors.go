package navigator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jcdickinson/ferrisdoc/internal/graph"
)

var (
	ErrInvalidRequest   = errors.New("invalid request")
	ErrTooManyRedirects = errors.New("re-export chain too long")
)

// NotFoundError reports a path with no item. Suggestions are search hits for
// the last path segment.
type NotFoundError struct {
	Crate       graph.Identity
	Path        string
	Suggestions []string
}

func (e *NotFoundError) Error() string {
	msg := fmt.Sprintf("%s: no item at %q", e.Crate, e.Path)
	if len(e.Suggestions) > 0 {
		msg += "; did you mean " + strings.Join(e.Suggestions, ", ")
	}
	return msg
}

// AmbiguousError lists the kind-discriminated paths of every item a path
// matched, in kind priority order.
type AmbiguousError struct {
	Crate      graph.Identity
	Path       string
	Candidates []string
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("%s: %q is ambiguous: %s", e.Crate, e.Path, strings.Join(e.Candidates, ", "))
}

// FragmentError reports a page section that does not exist.
type FragmentError struct {
	URI       string
	Fragment  string
	Available []string
}

func (e *FragmentError) Error() string {
	return fmt.Sprintf("fragment #%s not found for %s (have: %s)", e.Fragment, e.URI, strings.Join(e.Available, ", "))
}
