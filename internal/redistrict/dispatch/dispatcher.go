// Package dispatch validates job submissions, routes them to a backend by size and records them.
package dispatch

import (
	"context"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/giants/redistrict/internal/common/logging"
	"github.com/giants/redistrict/internal/common/redistricterrors"
	"github.com/giants/redistrict/internal/common/util"
	"github.com/giants/redistrict/internal/redistrict/backend"
	"github.com/giants/redistrict/internal/redistrict/domain"
	"github.com/giants/redistrict/internal/redistrict/repository"
)

var jobsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "redistrict_jobs_dispatched_total",
	Help: "Number of jobs recorded after a successful launch, by backend",
}, []string{"backend"})

type Dispatcher struct {
	repository       repository.JobRepository
	backends         *backend.Registry
	clock            clock.Clock
	clusterThreshold int
	retryPolicy      repository.RetryPolicy
}

// NewDispatcher returns a dispatcher sending jobs with more than clusterThreshold maps to the cluster backend.
func NewDispatcher(
	repository repository.JobRepository,
	backends *backend.Registry,
	clock clock.Clock,
	clusterThreshold int,
	retryPolicy repository.RetryPolicy,
) *Dispatcher {
	return &Dispatcher{
		repository:       repository,
		backends:         backends,
		clock:            clock,
		clusterThreshold: clusterThreshold,
		retryPolicy:      retryPolicy,
	}
}

// BackendFor returns the backend kind a job with mapCount maps is routed to.
func (d *Dispatcher) BackendFor(mapCount int) domain.BackendKind {
	if mapCount > d.clusterThreshold {
		return domain.ClusterBackend
	}
	return domain.LocalBackend
}

// Submit validates config, launches the job and stores it.
//
// Local jobs run to completion before Submit returns and are stored as RUNNING; the reconciler picks up their
// output. Cluster jobs are stored as WAITING with the handle returned by the cluster. If the launch fails,
// nothing is stored. If storing fails, the launched work is cancelled and the unsaved job is returned together
// with the ErrPersistence.
func (d *Dispatcher) Submit(ctx context.Context, config domain.JobConfig) (*domain.Job, error) {
	config, err := config.Validate()
	if err != nil {
		return nil, err
	}

	kind := d.BackendFor(config.MapCount)
	status := domain.JobRunning
	if kind == domain.ClusterBackend {
		status = domain.JobWaiting
	}
	b, err := d.backends.Get(kind)
	if err != nil {
		return nil, err
	}
	job := domain.NewJob(util.NewULID(), config, kind, status, domain.NoHandle, d.clock.Now())
	logger := log.WithField("jobId", job.Id).WithField("backend", kind)

	handle, err := b.Launch(ctx, job)
	if err != nil {
		return nil, launchError(job, err)
	}
	if kind == domain.ClusterBackend && !handle.IsValid() {
		return nil, errors.WithStack(&redistricterrors.ErrDispatch{
			JobId: job.Id,
			Cause: errors.Errorf("cluster returned invalid handle %s", handle),
		})
	}
	job.Handle = handle

	err = repository.WithRetry(ctx, d.retryPolicy, "storing job "+job.Id, func() error {
		return d.repository.CreateJob(ctx, job)
	})
	if err != nil {
		logging.WithStacktrace(logger, err).Error("failed to store launched job; cancelling it")
		d.abandon(b, job)
		return job, err
	}

	jobsDispatched.WithLabelValues(string(kind)).Inc()
	logger.WithField("handle", job.Handle).WithField("status", job.Status).Info("job submitted")
	return job, nil
}

// abandon cancels work that has no job record. Failures are only logged.
func (d *Dispatcher) abandon(b backend.Backend, job *domain.Job) {
	acknowledged, err := b.Cancel(context.Background(), job)
	logger := log.WithField("jobId", job.Id).WithField("handle", job.Handle)
	if err != nil {
		logging.WithStacktrace(logger, err).Warn("failed to cancel unrecorded job")
	} else if !acknowledged {
		logger.Warn("backend did not acknowledge cancellation of unrecorded job")
	}
}

// launchError makes sure launch failures carry the error type of their backend kind.
func launchError(job *domain.Job, err error) error {
	var dispatchErr *redistricterrors.ErrDispatch
	var executionErr *redistricterrors.ErrExecution
	if errors.As(err, &dispatchErr) || errors.As(err, &executionErr) {
		return err
	}
	if job.Backend == domain.ClusterBackend {
		return errors.WithStack(&redistricterrors.ErrDispatch{JobId: job.Id, Cause: err})
	}
	return errors.WithStack(&redistricterrors.ErrExecution{JobId: job.Id, Cause: err})
}
