// Package reconciler brings stored job records up to date with what their backends report.
package reconciler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/giants/redistrict/internal/common/logging"
	"github.com/giants/redistrict/internal/common/redistricterrors"
	"github.com/giants/redistrict/internal/redistrict/backend"
	"github.com/giants/redistrict/internal/redistrict/domain"
	"github.com/giants/redistrict/internal/redistrict/repository"
)

var (
	transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "redistrict_job_transitions_total",
		Help: "Number of job status changes persisted by the reconciler",
	}, []string{"from", "to"})
	ingestions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "redistrict_ingestions_total",
		Help: "Number of result ingestions, by result",
	}, []string{"result"})
	pollErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "redistrict_backend_poll_errors_total",
		Help: "Number of failed backend polls",
	}, []string{"backend"})
)

// ResultIngestor derives the results of a completed job from its output.
type ResultIngestor interface {
	Ingest(ctx context.Context, job *domain.Job, outputToken string) (*domain.JobResults, error)
}

type Reconciler struct {
	repository        repository.JobRepository
	backends          *backend.Registry
	ingestor          ResultIngestor
	clock             clock.Clock
	cancelGracePeriod time.Duration
	retryPolicy       repository.RetryPolicy
}

func NewReconciler(
	repository repository.JobRepository,
	backends *backend.Registry,
	ingestor ResultIngestor,
	clock clock.Clock,
	cancelGracePeriod time.Duration,
	retryPolicy repository.RetryPolicy,
) *Reconciler {
	return &Reconciler{
		repository:        repository,
		backends:          backends,
		ingestor:          ingestor,
		clock:             clock,
		cancelGracePeriod: cancelGracePeriod,
		retryPolicy:       retryPolicy,
	}
}

// Run performs one reconciliation cycle and logs its outcome. It is meant to be registered with a
// task.BackgroundTaskManager.
func (r *Reconciler) Run(ctx context.Context) {
	changed, err := r.ReconcileOnce(ctx)
	if err != nil {
		logging.WithStacktrace(log.NewEntry(log.StandardLogger()), err).Warn("reconciliation cycle finished with errors")
	}
	if len(changed) > 0 {
		log.Infof("reconciliation cycle updated %d jobs", len(changed))
	}
}

// ReconcileOnce polls the backend of every active job and persists what changed. It returns the jobs whose
// stored record was updated, as stored. Errors for individual jobs do not stop the cycle; they are returned
// together as a *multierror.Error. When ctx is cancelled the cycle stops before the next job.
func (r *Reconciler) ReconcileOnce(ctx context.Context) ([]*domain.Job, error) {
	logger := log.WithField("cycle", uuid.NewString())
	jobs, err := r.repository.ListActiveJobs(ctx)
	if err != nil {
		return nil, err
	}
	logger.Debugf("reconciling %d active jobs", len(jobs))

	changed := []*domain.Job{}
	var result *multierror.Error
	for _, job := range jobs {
		if ctx.Err() != nil {
			logger.Info("reconciliation cycle interrupted by shutdown")
			break
		}
		jobLogger := logger.WithField("jobId", job.Id).WithField("status", job.Status)
		updated, err := r.reconcileJob(ctx, jobLogger, job)
		if err != nil {
			logging.WithStacktrace(jobLogger, err).Warn("failed to reconcile job")
			result = multierror.Append(result, err)
			continue
		}
		if updated != nil {
			changed = append(changed, updated)
		}
	}
	return changed, result.ErrorOrNil()
}

// reconcileJob returns the updated job, or nil if nothing was written.
func (r *Reconciler) reconcileJob(ctx context.Context, logger *log.Entry, job *domain.Job) (*domain.Job, error) {
	b, err := r.backends.ForJob(job)
	if err != nil {
		return nil, err
	}
	polled, pollErr := b.Poll(ctx, job)
	if pollErr != nil {
		pollErrors.WithLabelValues(string(job.Backend)).Inc()
	}

	if job.CancelRequested() {
		return r.reconcileCancelled(ctx, logger, b, job, polled, pollErr)
	}
	if pollErr != nil {
		return nil, errors.WithMessagef(pollErr, "polling job %s", job.Id)
	}

	target := polled.Status.JobStatus()
	switch {
	case target == job.Status:
		return nil, nil
	case target == domain.JobCompleted:
		return r.complete(ctx, logger, job, polled.OutputToken)
	case !domain.CanTransition(job.Status, target):
		logger.Debugf("ignoring backend status %s", polled.Status)
		return nil, nil
	default:
		return r.transition(logger, job, target, polled.Message)
	}
}

// reconcileCancelled settles a job with an outstanding cancel request. The request wins over a result the
// backend produced after it was made.
func (r *Reconciler) reconcileCancelled(
	ctx context.Context,
	logger *log.Entry,
	b backend.Backend,
	job *domain.Job,
	polled backend.PollResult,
	pollErr error,
) (*domain.Job, error) {
	graceElapsed := r.clock.Since(*job.CancelRequestedAt) >= r.cancelGracePeriod
	if pollErr == nil {
		switch polled.Status {
		case backend.PollCancelled:
			return r.transition(logger, job, domain.JobCancelled, "")
		case backend.PollFailed:
			return r.transition(logger, job, domain.JobFailed, polled.Message)
		case backend.PollCompleted:
			logger.Info("job completed after cancellation was requested; discarding its results")
			return r.transition(logger, job, domain.JobCancelled, "")
		}
	}
	if graceElapsed {
		logger.WithField("handle", job.Handle).Warn("backend did not confirm cancellation in time; abandoning job")
		return r.transition(logger, job, domain.JobCancelled, "")
	}

	acknowledged, err := b.Cancel(ctx, job)
	if err != nil {
		logging.WithStacktrace(logger, err).Warn("failed to re-issue cancellation")
	} else if !acknowledged {
		logger.Debug("backend has not acknowledged cancellation yet")
	}
	if pollErr != nil {
		return nil, errors.WithMessagef(pollErr, "polling cancelled job %s", job.Id)
	}
	return nil, nil
}

func (r *Reconciler) complete(ctx context.Context, logger *log.Entry, job *domain.Job, outputToken string) (*domain.Job, error) {
	results, err := r.ingestor.Ingest(ctx, job, outputToken)
	if err != nil {
		ingestions.WithLabelValues("failure").Inc()
		return nil, err
	}
	err = r.persist(job, "completing job", func(ctx context.Context) error {
		return r.repository.CompleteJob(ctx, job.Id, job.Status, results)
	})
	if redistricterrors.IsStaleStatus(err) {
		logger.Debug("job was updated concurrently; dropping ingested results")
		return nil, nil
	}
	if err != nil {
		ingestions.WithLabelValues("failure").Inc()
		return nil, err
	}
	ingestions.WithLabelValues("success").Inc()
	transitions.WithLabelValues(string(job.Status), string(domain.JobCompleted)).Inc()

	updated := job.Copy()
	updated.Status = domain.JobCompleted
	updated.AverageStateId = results.Average.Id
	updated.ExtremeStateId = results.Extreme.Id
	updated.ResultDocument = results.ResultDocument
	updated.UpdatedAt = r.clock.Now()
	logger.WithField("plans", results.PlanCount).Info("job completed")
	return updated, nil
}

func (r *Reconciler) transition(logger *log.Entry, job *domain.Job, to domain.JobStatus, reason string) (*domain.Job, error) {
	err := r.persist(job, "transitioning job", func(ctx context.Context) error {
		return r.repository.TransitionStatus(ctx, job.Id, job.Status, to, reason)
	})
	if redistricterrors.IsStaleStatus(err) {
		logger.Debug("job was updated concurrently; skipping")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	transitions.WithLabelValues(string(job.Status), string(to)).Inc()

	updated := job.Copy()
	updated.Status = to
	if to == domain.JobFailed {
		updated.FailureReason = reason
	}
	updated.UpdatedAt = r.clock.Now()
	logger.WithField("to", to).Info("job status changed")
	return updated, nil
}

// persist runs write on a context that survives shutdown, so a job's update is never cut off half way.
func (r *Reconciler) persist(job *domain.Job, operation string, write func(ctx context.Context) error) error {
	ctx := context.Background()
	return repository.WithRetry(ctx, r.retryPolicy, operation+" "+job.Id, func() error {
		return write(ctx)
	})
}
