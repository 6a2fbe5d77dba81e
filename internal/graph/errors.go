package graph

import (
	"errors"
	"fmt"
)

// Flow results returned by Source.Push.
var (
	ErrFlushing = errors.New("flushing")
	ErrEOS      = errors.New("end of stream")
)

// Error codes carried by graph errors.
const (
	CodeNotLinked     = "NOT_LINKED"
	CodeBranchFailed  = "BRANCH_FAILED"
	CodeUnknownBranch = "UNKNOWN_BRANCH"
	CodeDuplicate     = "DUPLICATE_BRANCH"
)

// Error is an error raised by a graph element.
type Error struct {
	Element string
	Code    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Element, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Element, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}
