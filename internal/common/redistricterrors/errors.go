// Package redistricterrors contains the error taxonomy shared by the dispatcher, the reconciler and the
// client-facing service. Callers should look for these types with errors.As rather than comparing
// error strings; every type that carries a cause implements Unwrap so the chain can be inspected.
//
// If several jobs fail during one reconciliation cycle the reconciler returns a multierror.Error from
// package github.com/hashicorp/go-multierror that encapsulates those individual errors.
package redistricterrors

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrValidation is returned when a job configuration is rejected at submission time.
// No backend or persistence call has been made when this error is returned.
type ErrValidation struct {
	Name    string      // Name of the field referred to, e.g., "populationDifferenceLimit"
	Value   interface{} // The invalid value that was provided
	Message string      // An optional message explaining why the value is invalid
}

func (err *ErrValidation) Error() string {
	if err.Message == "" {
		return fmt.Sprintf("value %v is invalid for field %q", err.Value, err.Name)
	}
	return fmt.Sprintf("value %v is invalid for field %q; %s", err.Value, err.Name, err.Message)
}

// ErrDispatch is returned when the cluster backend did not hand back a usable handle.
type ErrDispatch struct {
	JobId string
	Cause error
}

func (err *ErrDispatch) Error() string {
	return fmt.Sprintf("failed to dispatch job %s to cluster: %v", err.JobId, err.Cause)
}

func (err *ErrDispatch) Unwrap() error {
	return err.Cause
}

// ErrExecution is returned when a local run of the algorithm fails.
type ErrExecution struct {
	JobId string
	Cause error
}

func (err *ErrExecution) Error() string {
	return fmt.Sprintf("local execution of job %s failed: %v", err.JobId, err.Cause)
}

func (err *ErrExecution) Unwrap() error {
	return err.Cause
}

// ErrPersistence is returned when a store operation failed. The operation was rolled back.
type ErrPersistence struct {
	Operation string // e.g. "create job"
	Cause     error
}

func (err *ErrPersistence) Error() string {
	return fmt.Sprintf("%s: %v", err.Operation, err.Cause)
}

func (err *ErrPersistence) Unwrap() error {
	return err.Cause
}

// ErrIngestion is returned when derived results could not be computed for a completed job.
// The job keeps its pre-ingestion status and is retried on the next reconciliation cycle.
type ErrIngestion struct {
	JobId string
	Cause error
}

func (err *ErrIngestion) Error() string {
	return fmt.Sprintf("failed to ingest results of job %s: %v", err.JobId, err.Cause)
}

func (err *ErrIngestion) Unwrap() error {
	return err.Cause
}

// ErrNotFound is a generic error to be returned whenever some resource isn't found.
// Type and Message are optional and are omitted from the error message if not provided.
type ErrNotFound struct {
	Type    string
	Value   string
	Message string
}

func (err *ErrNotFound) Error() (s string) {
	if err.Type != "" {
		s = fmt.Sprintf("resource %q of type %q does not exist", err.Value, err.Type)
	} else {
		s = fmt.Sprintf("resource %q does not exist", err.Value)
	}
	if err.Message != "" {
		return s + fmt.Sprintf("; %s", err.Message)
	}
	return s
}

// ErrStaleStatus is returned by compare-and-set updates when the stored status of a job no longer
// matches the status the caller read. Another writer got there first; the caller should drop the job.
type ErrStaleStatus struct {
	JobId    string
	Expected string
}

func (err *ErrStaleStatus) Error() string {
	return fmt.Sprintf("job %s is no longer in status %s", err.JobId, err.Expected)
}

// IsNotFound returns true if err, or any error in its chain, is an ErrNotFound.
func IsNotFound(err error) bool {
	var e *ErrNotFound
	return errors.As(err, &e)
}

// IsStaleStatus returns true if err, or any error in its chain, is an ErrStaleStatus.
func IsStaleStatus(err error) bool {
	var e *ErrStaleStatus
	return errors.As(err, &e)
}

// IsPersistence returns true if err, or any error in its chain, is an ErrPersistence.
func IsPersistence(err error) bool {
	var e *ErrPersistence
	return errors.As(err, &e)
}

// NewPersistence wraps cause in an ErrPersistence, recording a stack trace. It returns nil if cause is nil
// and passes ErrNotFound and ErrStaleStatus through unchanged, since those are answers rather than failures.
func NewPersistence(operation string, cause error) error {
	if cause == nil {
		return nil
	}
	if IsNotFound(cause) || IsStaleStatus(cause) {
		return cause
	}
	return errors.WithStack(&ErrPersistence{Operation: operation, Cause: cause})
}
