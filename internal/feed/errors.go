package feed

import (
	"errors"
	"fmt"
)

// ErrExhausted is returned by Produce once the configured number of buffers
// has been produced.
var ErrExhausted = errors.New("buffer limit reached")

// ContractError reports a broken internal invariant. It is fatal: the run
// stops and the error is surfaced to the caller.
type ContractError struct {
	Component string
	Invariant string
	Err       error
}

func (e *ContractError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: contract violated (%s): %v", e.Component, e.Invariant, e.Err)
	}
	return fmt.Sprintf("%s: contract violated (%s)", e.Component, e.Invariant)
}

func (e *ContractError) Unwrap() error {
	return e.Err
}

// IsContractError reports whether err wraps a ContractError.
func IsContractError(err error) bool {
	var ce *ContractError
	return errors.As(err, &ce)
}

// PushError wraps a rejected hand-off. It is transient: the scheduler goes
// idle and waits for the next need-data signal.
type PushError struct {
	Seq uint64
	Err error
}

func (e *PushError) Error() string {
	return fmt.Sprintf("push buffer %d: %v", e.Seq, e.Err)
}

func (e *PushError) Unwrap() error {
	return e.Err
}
