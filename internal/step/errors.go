package step

import "fmt"

// Error wraps the PoolError or SchemaError produced by a failing step with
// the index of that step within the transaction that was applying it.
type Error struct {
	Index int
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("step: step %d failed: %v", e.Index, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// WrapAt builds a step.Error for the failing step at index.
func WrapAt(index int, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Index: index, Err: err}
}
