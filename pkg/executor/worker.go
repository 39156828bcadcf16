package executor

import (
	"context"
	"errors"
	"time"

	"github.com/paddockio/paddock/pkg/types"
)

// StepRequest is the input to one worker invocation.
type StepRequest struct {
	RunID          string
	TenantID       string
	AgentID        string
	TraceID        string
	Index          int
	Tier           types.TierID
	Input          []byte
	InputHash      string
	ThinkingBudget int64
	Timeout        time.Duration
}

// ExternalJob references work handed off to an asynchronous provider. When a
// worker returns one, the driver records a provider job instead of a step
// and returns control; the provider poller finishes the run later.
type ExternalJob struct {
	Provider   string
	ExternalID string
}

// StepResult is the output of one worker invocation.
type StepResult struct {
	Output      []byte
	Tokens      int64
	Cost        float64
	Done        bool // The run is complete; Output is the final output
	ExternalJob *ExternalJob
}

// Worker performs a single step at a given capability tier.
type Worker interface {
	Invoke(ctx context.Context, req *StepRequest) (*StepResult, error)
}

// ErrorClass buckets worker errors by how the driver should react.
type ErrorClass int

const (
	// ErrorRetryable errors are retried with backoff within the step's
	// attempt budget: timeouts, transient network faults, provider 5xx.
	ErrorRetryable ErrorClass = iota
	// ErrorDegradable errors can be satisfied by reducing capability; the
	// driver demotes one tier and retries the same step.
	ErrorDegradable
	// ErrorNonRetryable errors fail the run: invalid input, policy denials,
	// budget violations, divergence.
	ErrorNonRetryable
)

// WorkerError carries an explicit classification from the worker.
type WorkerError struct {
	Class   ErrorClass
	Message string
	Err     error
}

func (e *WorkerError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *WorkerError) Unwrap() error {
	return e.Err
}

// NewRetryableError wraps err as retryable.
func NewRetryableError(msg string, err error) *WorkerError {
	return &WorkerError{Class: ErrorRetryable, Message: msg, Err: err}
}

// NewDegradableError wraps err as degradable.
func NewDegradableError(msg string, err error) *WorkerError {
	return &WorkerError{Class: ErrorDegradable, Message: msg, Err: err}
}

// NewNonRetryableError wraps err as non-retryable.
func NewNonRetryableError(msg string, err error) *WorkerError {
	return &WorkerError{Class: ErrorNonRetryable, Message: msg, Err: err}
}

// Classify maps a worker error to its class. Explicitly tagged errors keep
// their class; known ledger sentinels are non-retryable; deadline overruns
// and everything else default to retryable.
func Classify(err error) ErrorClass {
	var we *WorkerError
	if errors.As(err, &we) {
		return we.Class
	}
	if errors.Is(err, types.ErrTerminalState) ||
		errors.Is(err, types.ErrStepDivergence) ||
		errors.Is(err, types.ErrPreflightRejected) ||
		errors.Is(err, context.Canceled) {
		return ErrorNonRetryable
	}
	return ErrorRetryable
}
