package interpreter

import (
	"errors"
	"fmt"
)

// Stage is a step of one execution.
type Stage string

const (
	StageIdle               Stage = "idle"
	StageResolving          Stage = "resolving"
	StagePreparing          Stage = "preparing"
	StageTranslatingForward Stage = "translating_forward"
	StageTrackingBefore     Stage = "tracking_before"
	StageExecutingRemote    Stage = "executing_remote"
	StageTrackingAfter      Stage = "tracking_after"
	StageTranslatingReverse Stage = "translating_reverse"
	StageDone               Stage = "done"
	StageFailed             Stage = "failed"
)

var (
	ErrRemoteExecution = errors.New("remote execution failed")
	ErrRemoteTimeout   = errors.New("remote execution timed out")
)

// StageError is the terminal failure of an execution at Stage.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Timeout reports whether the failure was a remote timeout.
func (e *StageError) Timeout() bool { return errors.Is(e.Err, ErrRemoteTimeout) }
