// Package service exposes the client-facing operations on jobs and their results.
package service

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/giants/redistrict/internal/common/logging"
	"github.com/giants/redistrict/internal/common/redistricterrors"
	"github.com/giants/redistrict/internal/redistrict/backend"
	"github.com/giants/redistrict/internal/redistrict/dispatch"
	"github.com/giants/redistrict/internal/redistrict/domain"
	"github.com/giants/redistrict/internal/redistrict/ingest"
	"github.com/giants/redistrict/internal/redistrict/reconciler"
	"github.com/giants/redistrict/internal/redistrict/repository"
)

type Service struct {
	repository repository.JobRepository
	dispatcher *dispatch.Dispatcher
	reconciler *reconciler.Reconciler
	backends   *backend.Registry
	clock      clock.Clock
	// Geography documents by state id. A stored state never changes, so entries are only removed on delete.
	geography *lru.Cache
}

func NewService(
	repository repository.JobRepository,
	dispatcher *dispatch.Dispatcher,
	reconciler *reconciler.Reconciler,
	backends *backend.Registry,
	clock clock.Clock,
	geographyCacheSize int,
) (*Service, error) {
	geography, err := lru.New(geographyCacheSize)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &Service{
		repository: repository,
		dispatcher: dispatcher,
		reconciler: reconciler,
		backends:   backends,
		clock:      clock,
		geography:  geography,
	}, nil
}

// JobResults are the stored results of a completed job.
type JobResults struct {
	Job          *domain.Job
	PlanCount    int
	Average      *domain.State
	Extreme      *domain.State
	CountyCounts []domain.CountyCount
	BoxWhiskers  []domain.BoxWhisker
}

// CreateJob submits a new job. Ethnicities are matched case-insensitively.
func (s *Service) CreateJob(
	ctx context.Context,
	state string,
	compactness int,
	populationDifferenceLimit float64,
	ethnicities []string,
	mapCount int,
) (job *domain.Job, err error) {
	defer recoverError("create job", &err)
	config := domain.JobConfig{
		State:                     domain.StateAbbreviation(state),
		Compactness:               compactness,
		PopulationDifferenceLimit: populationDifferenceLimit,
		Ethnicities:               make([]domain.Ethnicity, len(ethnicities)),
		MapCount:                  mapCount,
	}
	for i, e := range ethnicities {
		config.Ethnicities[i] = domain.Ethnicity(e)
	}
	return s.dispatcher.Submit(ctx, config)
}

// CancelJob records a cancel request and forwards it to the job's backend. The reconciler settles the job once
// the backend confirms or the grace period runs out. Returns false for unknown and terminal jobs.
func (s *Service) CancelJob(ctx context.Context, id string) (cancelled bool, err error) {
	defer recoverError("cancel job", &err)
	job, err := s.repository.RequestCancel(ctx, id, s.clock.Now())
	if redistricterrors.IsNotFound(err) || redistricterrors.IsStaleStatus(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	s.cancelOnBackend(ctx, job)
	return true, nil
}

// DeleteJob removes a job and its results. Work still running for the job is cancelled first, on a best-effort
// basis. Returns false for unknown jobs.
func (s *Service) DeleteJob(ctx context.Context, id string) (deleted bool, err error) {
	defer recoverError("delete job", &err)
	job, err := s.repository.GetJob(ctx, id)
	if redistricterrors.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !job.Status.IsTerminal() {
		s.cancelOnBackend(ctx, job)
	}
	deleted, err = s.repository.DeleteJob(ctx, id)
	if err != nil {
		return false, err
	}
	for _, stateId := range []string{job.AverageStateId, job.ExtremeStateId} {
		if stateId != "" {
			s.geography.Remove(stateId)
		}
	}
	if deleted {
		log.WithField("jobId", id).Info("job deleted")
	}
	return deleted, nil
}

func (s *Service) cancelOnBackend(ctx context.Context, job *domain.Job) {
	logger := log.WithField("jobId", job.Id).WithField("handle", job.Handle)
	b, err := s.backends.ForJob(job)
	if err != nil {
		logging.WithStacktrace(logger, err).Warn("cannot cancel job")
		return
	}
	acknowledged, err := b.Cancel(ctx, job)
	switch {
	case err != nil:
		logging.WithStacktrace(logger, err).Warn("backend failed to cancel job")
	case !acknowledged:
		logger.Info("backend has not acknowledged cancellation")
	default:
		logger.Info("cancellation sent to backend")
	}
}

func (s *Service) ListJobs(ctx context.Context) (jobs []*domain.Job, err error) {
	defer recoverError("list jobs", &err)
	return s.repository.ListJobs(ctx)
}

func (s *Service) GetJob(ctx context.Context, id string) (job *domain.Job, err error) {
	defer recoverError("get job", &err)
	return s.repository.GetJob(ctx, id)
}

// GetJobResults returns ErrNotFound unless the job has completed.
func (s *Service) GetJobResults(ctx context.Context, id string) (results *JobResults, err error) {
	defer recoverError("get job results", &err)
	job, err := s.repository.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != domain.JobCompleted {
		return nil, &redistricterrors.ErrNotFound{
			Type:    "results",
			Value:   id,
			Message: fmt.Sprintf("job is %s", job.Status),
		}
	}
	results = &JobResults{Job: job}
	if results.Average, err = s.repository.GetState(ctx, job.AverageStateId); err != nil {
		return nil, err
	}
	if results.Extreme, err = s.repository.GetState(ctx, job.ExtremeStateId); err != nil {
		return nil, err
	}
	if results.CountyCounts, err = s.repository.GetCountyCounts(ctx, id); err != nil {
		return nil, err
	}
	if results.BoxWhiskers, err = s.repository.GetBoxWhiskers(ctx, id); err != nil {
		return nil, err
	}
	doc, err := ingest.ParseDocument(job.ResultDocument)
	if err != nil {
		return nil, errors.WithMessagef(err, "reading result document of job %s", id)
	}
	results.PlanCount = doc.PlanCount
	return results, nil
}

// GetDistrictingGeography returns the concatenated geography of a state's districts in district order, or the
// empty string if the state has none or does not exist.
func (s *Service) GetDistrictingGeography(ctx context.Context, stateId string) (geography string, err error) {
	defer recoverError("get districting geography", &err)
	if cached, ok := s.geography.Get(stateId); ok {
		return cached.(string), nil
	}
	districts, err := s.repository.GetDistricts(ctx, stateId)
	if err != nil {
		return "", err
	}
	geography = domain.Geography(districts)
	if len(districts) > 0 {
		s.geography.Add(stateId, geography)
	}
	return geography, nil
}

// Reconcile runs one reconciliation cycle and returns the jobs it updated.
func (s *Service) Reconcile(ctx context.Context) (changed []*domain.Job, err error) {
	defer recoverError("reconcile", &err)
	return s.reconciler.ReconcileOnce(ctx)
}

// recoverError turns a panic in a client operation into an error.
func recoverError(operation string, err *error) {
	if r := recover(); r != nil {
		log.WithField("panic", r).Errorf("unexpected panic during %s", operation)
		*err = errors.Errorf("%s failed: %v", operation, r)
	}
}
