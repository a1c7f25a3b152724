// Package fake provides an in-process batch cluster for development and tests.
package fake

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	"k8s.io/utils/clock"

	"github.com/giants/redistrict/internal/common/redistricterrors"
	"github.com/giants/redistrict/internal/redistrict/backend"
	"github.com/giants/redistrict/internal/redistrict/domain"
)

const firstHandle = 1000

type clusterJob struct {
	job         *domain.Job
	status      backend.PollStatus
	message     string
	submittedAt time.Time
	generated   bool
	polls       int
}

// Cluster behaves like a batch scheduler. With a positive runTime jobs start immediately and complete once
// runTime has elapsed; otherwise they stay QUEUED until SetStatus is called. Output is produced by the
// generator the first time a job is reported COMPLETED.
//
// With a positive runTime, jobs launched by a cluster in another process are adopted the first time they are
// polled or cancelled, timed from their creation.
type Cluster struct {
	mu         sync.Mutex
	clock      clock.Clock
	outputRoot string
	generator  backend.Generator
	runTime    time.Duration

	nextHandle int64
	jobs       map[domain.Handle]*clusterJob

	submitErr   error
	pollErr     error
	pollGate    chan struct{}
	ackCancels  bool
	launchCalls int
	cancelCalls int
}

func NewCluster(outputRoot string, generator backend.Generator, clock clock.Clock, runTime time.Duration) *Cluster {
	// Seeded from the clock so that clusters in separate processes hand out distinct handles.
	nextHandle := clock.Now().UnixMilli()
	if nextHandle < firstHandle {
		nextHandle = firstHandle
	}
	return &Cluster{
		clock:      clock,
		outputRoot: outputRoot,
		generator:  generator,
		runTime:    runTime,
		nextHandle: nextHandle,
		jobs:       map[domain.Handle]*clusterJob{},
		ackCancels: true,
	}
}

func (c *Cluster) Kind() domain.BackendKind {
	return domain.ClusterBackend
}

func (c *Cluster) OutputDir(job *domain.Job) string {
	return filepath.Join(c.outputRoot, job.Id)
}

func (c *Cluster) Launch(_ context.Context, job *domain.Job) (domain.Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.launchCalls++
	if c.submitErr != nil {
		return domain.NoHandle, &redistricterrors.ErrDispatch{JobId: job.Id, Cause: c.submitErr}
	}
	handle := domain.Handle(c.nextHandle)
	c.nextHandle++
	c.jobs[handle] = &clusterJob{job: job.Copy(), status: backend.PollQueued, submittedAt: c.clock.Now()}
	return handle, nil
}

func (c *Cluster) Poll(ctx context.Context, job *domain.Job) (backend.PollResult, error) {
	c.mu.Lock()
	gate := c.pollGate
	c.mu.Unlock()
	if gate != nil {
		<-gate
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pollErr != nil {
		return backend.PollResult{}, c.pollErr
	}
	cj, ok := c.lookup(job)
	if !ok {
		return backend.PollResult{}, errors.Errorf("unknown cluster job %s", job.Handle)
	}
	cj.polls++

	if c.runTime > 0 && (cj.status == backend.PollQueued || cj.status == backend.PollRunning) {
		if c.clock.Since(cj.submittedAt) >= c.runTime {
			cj.status = backend.PollCompleted
		} else {
			cj.status = backend.PollRunning
		}
	}

	result := backend.PollResult{Status: cj.status, Message: cj.message}
	if cj.status == backend.PollCompleted {
		if !cj.generated && c.generator != nil {
			if err := c.generator.Generate(ctx, cj.job, c.OutputDir(cj.job)); err != nil {
				cj.status = backend.PollFailed
				cj.message = err.Error()
				return backend.PollResult{Status: cj.status, Message: cj.message}, nil
			}
			cj.generated = true
		}
		result.OutputToken = c.OutputDir(cj.job)
	}
	return result, nil
}

func (c *Cluster) Cancel(_ context.Context, job *domain.Job) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelCalls++
	cj, ok := c.lookup(job)
	if !ok {
		return false, errors.Errorf("unknown cluster job %s", job.Handle)
	}
	if !c.ackCancels {
		return false, nil
	}
	if cj.status == backend.PollQueued || cj.status == backend.PollRunning {
		cj.status = backend.PollCancelled
	}
	return true, nil
}

// lookup must be called with mu held.
func (c *Cluster) lookup(job *domain.Job) (*clusterJob, bool) {
	if cj, ok := c.jobs[job.Handle]; ok {
		return cj, true
	}
	if c.runTime <= 0 || !job.Handle.IsValid() {
		return nil, false
	}
	cj := &clusterJob{job: job.Copy(), status: backend.PollQueued, submittedAt: job.CreatedAt}
	c.jobs[job.Handle] = cj
	return cj, true
}

// SetStatus scripts the status reported for handle from now on.
func (c *Cluster) SetStatus(handle domain.Handle, status backend.PollStatus, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cj, ok := c.jobs[handle]; ok {
		cj.status = status
		cj.message = message
	}
}

func (c *Cluster) Status(handle domain.Handle) (backend.PollStatus, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cj, ok := c.jobs[handle]
	if !ok {
		return "", false
	}
	return cj.status, true
}

// FailSubmissions makes every subsequent Launch fail with err. A nil err restores normal behaviour.
func (c *Cluster) FailSubmissions(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.submitErr = err
}

// FailPolls makes every subsequent Poll fail with err. A nil err restores normal behaviour.
func (c *Cluster) FailPolls(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pollErr = err
}

// BlockPolls makes Poll hang, ignoring its context, until the returned function is called.
func (c *Cluster) BlockPolls() (release func()) {
	gate := make(chan struct{})
	c.mu.Lock()
	c.pollGate = gate
	c.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			c.pollGate = nil
			c.mu.Unlock()
			close(gate)
		})
	}
}

// AcknowledgeCancels controls whether Cancel acknowledges requests. Acknowledged by default.
func (c *Cluster) AcknowledgeCancels(ack bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ackCancels = ack
}

func (c *Cluster) PollCount(handle domain.Handle) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cj, ok := c.jobs[handle]; ok {
		return cj.polls
	}
	return 0
}

func (c *Cluster) LaunchCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.launchCalls
}

func (c *Cluster) CancelCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelCalls
}
