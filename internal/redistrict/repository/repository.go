// Package repository stores jobs and their results. Every write is atomic; status changes are compare-and-set
// against the status the caller last read.
package repository

import (
	"context"
	"time"

	"github.com/giants/redistrict/internal/redistrict/domain"
)

type JobRepository interface {
	// CreateJob stores a new job.
	CreateJob(ctx context.Context, job *domain.Job) error
	// GetJob returns redistricterrors.ErrNotFound if there is no job with this id.
	GetJob(ctx context.Context, id string) (*domain.Job, error)
	// ListJobs returns every job, oldest first.
	ListJobs(ctx context.Context) ([]*domain.Job, error)
	// ListActiveJobs returns jobs that are WAITING or RUNNING, oldest first.
	ListActiveJobs(ctx context.Context) ([]*domain.Job, error)
	// TransitionStatus moves a job from one status to another. It returns redistricterrors.ErrStaleStatus if the
	// stored status is no longer from. reason is recorded as the failure reason when to is FAILED.
	TransitionStatus(ctx context.Context, id string, from domain.JobStatus, to domain.JobStatus, reason string) error
	// RequestCancel records that the job should be cancelled and returns the updated job. A second request keeps
	// the time of the first. Terminal jobs are rejected with redistricterrors.ErrStaleStatus.
	RequestCancel(ctx context.Context, id string, at time.Time) (*domain.Job, error)
	// CompleteJob moves a job from the given status to COMPLETED and stores its results, all in one transaction.
	// A job with a cancel request is stale.
	CompleteJob(ctx context.Context, id string, from domain.JobStatus, results *domain.JobResults) error
	// DeleteJob removes a job together with its states, districts and results. Returns false if there was no such job.
	DeleteJob(ctx context.Context, id string) (bool, error)
	// GetState returns a state with its districts.
	GetState(ctx context.Context, stateId string) (*domain.State, error)
	// GetDistricts returns the districts of a state ordered by number; empty if the state does not exist.
	GetDistricts(ctx context.Context, stateId string) ([]*domain.District, error)
	GetCountyCounts(ctx context.Context, jobId string) ([]domain.CountyCount, error)
	GetBoxWhiskers(ctx context.Context, jobId string) ([]domain.BoxWhisker, error)
	HealthCheck(ctx context.Context) error
}

// resultStates returns the distinct states referenced by results.
func resultStates(results *domain.JobResults) []*domain.State {
	states := []*domain.State{results.Average}
	if results.Extreme.Id != results.Average.Id {
		states = append(states, results.Extreme)
	}
	return states
}
