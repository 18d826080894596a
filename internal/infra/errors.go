package infra

import (
	"errors"
	"fmt"
)

// Start stages reported by StartError.
const (
	StageBoundary = "boundary"
	StageLaunch   = "launch"
	StageAttach   = "attach"
)

var (
	ErrAlreadyStarted = errors.New("process group already started")
	ErrNoBoundary     = errors.New("process group has no live boundary")
)

// StartError is returned when the group could not be brought up. Any partial
// state has already been rolled back when the caller sees it.
type StartError struct {
	Stage string
	Err   error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("start process group (%s): %v", e.Stage, e.Err)
}

func (e *StartError) Unwrap() error {
	return e.Err
}
