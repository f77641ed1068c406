package update

import "fmt"

// InvariantViolation reports an update pair that the stream protocol never
// produces. It means client and server disagree about a chunk's state and
// must be treated as fatal.
type InvariantViolation struct {
	Prev Kind
	Next Kind
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("invariant violation: cannot merge %s update followed by %s update", e.Prev, e.Next)
}
