package graph

import "fmt"

// ExecutionError aborts a workflow run. It is raised when a node exhausts
// its retries under the "fail" degrade mode or when the graph itself is
// misconfigured.
type ExecutionError struct {
	Stage string
	Err   error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("graph execution failed at %s: %v", e.Stage, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

func executionErrorf(stage string, err error) *ExecutionError {
	return &ExecutionError{Stage: stage, Err: err}
}
