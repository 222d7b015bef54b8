package graph

import (
	"errors"
	"fmt"
)

// ErrInvariant marks a graph that could not be built because its input
// violated a structural invariant. It always indicates a normalizer bug.
var ErrInvariant = errors.New("graph invariant violated")

// InvariantError names the offending item and the broken rule.
type InvariantError struct {
	Item ID
	Rule string
}

func (e *InvariantError) Error() string {
	if e.Item == NoID {
		return fmt.Sprintf("graph invariant violated: %s", e.Rule)
	}
	return fmt.Sprintf("graph invariant violated at item %d: %s", e.Item, e.Rule)
}

func (e *InvariantError) Unwrap() error { return ErrInvariant }
