package persona

import (
	"errors"
	"fmt"
)

// ErrCompletion matches every failed completion call via errors.Is.
var ErrCompletion = errors.New("completion service error")

type CompletionError struct {
	Index int64
	Err   error
}

func (e *CompletionError) Error() string {
	return fmt.Sprintf("completion #%d: %v", e.Index, e.Err)
}

func (e *CompletionError) Unwrap() error { return e.Err }

func (e *CompletionError) Is(target error) bool { return target == ErrCompletion }
