package graph

import "errors"

// ErrGraphInvalid indicates the graph failed Compile validation: an edge or
// router names a node that was never registered, or expanding conditional
// successors produced a cycle.
var ErrGraphInvalid = errors.New("graph invalid")

// ErrNoRoute indicates execution reached a node with no terminal route, no
// matching edge, and no router output. The graph cannot make progress.
var ErrNoRoute = errors.New("no valid route")

// ErrMaxStepsExceeded indicates the run executed more nodes than the
// configured MaxSteps limit. This is a backstop against runaway executions.
var ErrMaxStepsExceeded = errors.New("execution exceeded maximum steps limit")

// EngineError represents a configuration or execution error from the Engine.
type EngineError struct {
	Message string
	Code    string
	Err     error
}

func (e *EngineError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

// Unwrap exposes the wrapped sentinel (if any) to errors.Is.
func (e *EngineError) Unwrap() error {
	return e.Err
}
