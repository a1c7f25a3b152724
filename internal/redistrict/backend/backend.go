// Package backend runs redistricting jobs, either in-process or on a batch cluster, and reports on their progress.
package backend

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/giants/redistrict/internal/redistrict/domain"
)

type PollStatus string

const (
	PollQueued    PollStatus = "QUEUED"
	PollRunning   PollStatus = "RUNNING"
	PollCompleted PollStatus = "COMPLETED"
	PollFailed    PollStatus = "FAILED"
	PollCancelled PollStatus = "CANCELLED"
)

// JobStatus maps a backend status onto the job lifecycle. QUEUED corresponds to WAITING.
func (s PollStatus) JobStatus() domain.JobStatus {
	switch s {
	case PollRunning:
		return domain.JobRunning
	case PollCompleted:
		return domain.JobCompleted
	case PollFailed:
		return domain.JobFailed
	case PollCancelled:
		return domain.JobCancelled
	default:
		return domain.JobWaiting
	}
}

type PollResult struct {
	Status PollStatus
	// Location of the job's output. Only set when Status is COMPLETED.
	OutputToken string
	// Backend supplied detail, e.g. the reason for a failure.
	Message string
}

type Backend interface {
	Kind() domain.BackendKind
	// Launch starts job. Local backends block until the run has finished and return domain.NoHandle.
	Launch(ctx context.Context, job *domain.Job) (domain.Handle, error)
	Poll(ctx context.Context, job *domain.Job) (PollResult, error)
	// Cancel asks the backend to stop job. The returned bool is true if the backend acknowledged the request.
	Cancel(ctx context.Context, job *domain.Job) (bool, error)
}

// Registry resolves the backend a job was routed to.
type Registry struct {
	backends map[domain.BackendKind]Backend
}

func NewRegistry(backends ...Backend) *Registry {
	r := &Registry{backends: make(map[domain.BackendKind]Backend, len(backends))}
	for _, b := range backends {
		r.backends[b.Kind()] = b
	}
	return r
}

func (r *Registry) Get(kind domain.BackendKind) (Backend, error) {
	b, ok := r.backends[kind]
	if !ok {
		return nil, errors.Errorf("no backend registered for kind %q", kind)
	}
	return b, nil
}

func (r *Registry) ForJob(job *domain.Job) (Backend, error) {
	return r.Get(job.Backend)
}

// Bounded limits every Poll and Cancel on the wrapped backend to its own timeout, returning when the timeout
// expires even if the wrapped call ignores its context. Launch is not bounded.
//
// A wrapped call that ignores its context keeps running in the background after the timeout. At most one such
// call per job and operation is outstanding: until it returns, further calls for the job fail immediately.
func Bounded(b Backend, pollTimeout time.Duration, cancelTimeout time.Duration) Backend {
	return &boundedBackend{
		inner:         b,
		pollTimeout:   pollTimeout,
		cancelTimeout: cancelTimeout,
		inFlight:      map[string]bool{},
	}
}

type boundedBackend struct {
	inner         Backend
	pollTimeout   time.Duration
	cancelTimeout time.Duration

	mu       sync.Mutex
	inFlight map[string]bool
}

// reserve marks operation on job as in flight. The returned function releases it.
func (b *boundedBackend) reserve(operation string, job *domain.Job) (func(), error) {
	key := operation + "/" + job.Id
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.inFlight[key] {
		return nil, errors.Errorf("previous %s of job %s on %s backend has not returned", operation, job.Id, b.inner.Kind())
	}
	b.inFlight[key] = true
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.inFlight, key)
	}, nil
}

func (b *boundedBackend) Kind() domain.BackendKind {
	return b.inner.Kind()
}

func (b *boundedBackend) Launch(ctx context.Context, job *domain.Job) (domain.Handle, error) {
	return b.inner.Launch(ctx, job)
}

func (b *boundedBackend) Poll(ctx context.Context, job *domain.Job) (PollResult, error) {
	type pollResponse struct {
		result PollResult
		err    error
	}
	release, err := b.reserve("poll", job)
	if err != nil {
		return PollResult{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, b.pollTimeout)
	defer cancel()

	c := make(chan pollResponse, 1)
	go func() {
		defer release()
		result, err := b.inner.Poll(ctx, job)
		c <- pollResponse{result: result, err: err}
	}()
	select {
	case r := <-c:
		return r.result, r.err
	case <-ctx.Done():
		return PollResult{}, errors.Wrapf(ctx.Err(), "polling job %s on %s backend", job.Id, b.inner.Kind())
	}
}

// Cancel reports false when the backend does not answer in time, since the job may still be running.
func (b *boundedBackend) Cancel(ctx context.Context, job *domain.Job) (bool, error) {
	type cancelResponse struct {
		acknowledged bool
		err          error
	}
	release, err := b.reserve("cancel", job)
	if err != nil {
		return false, err
	}
	ctx, cancel := context.WithTimeout(ctx, b.cancelTimeout)
	defer cancel()

	c := make(chan cancelResponse, 1)
	go func() {
		defer release()
		acknowledged, err := b.inner.Cancel(ctx, job)
		c <- cancelResponse{acknowledged: acknowledged, err: err}
	}()
	select {
	case r := <-c:
		return r.acknowledged, r.err
	case <-ctx.Done():
		return false, errors.Wrapf(ctx.Err(), "cancelling job %s on %s backend", job.Id, b.inner.Kind())
	}
}
