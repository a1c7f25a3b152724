package domain

import (
	"strconv"
	"time"
)

type JobStatus string

const (
	JobWaiting   JobStatus = "WAITING"
	JobRunning   JobStatus = "RUNNING"
	JobCompleted JobStatus = "COMPLETED"
	JobFailed    JobStatus = "FAILED"
	JobCancelled JobStatus = "CANCELLED"
)

var AllJobStatuses = []JobStatus{JobWaiting, JobRunning, JobCompleted, JobFailed, JobCancelled}

// ActiveJobStatuses are the statuses the reconciler polls.
var ActiveJobStatuses = []JobStatus{JobWaiting, JobRunning}

func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

func (s JobStatus) IsValid() bool {
	for _, status := range AllJobStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// rank orders statuses along the lifecycle. All terminal statuses share the highest rank.
func (s JobStatus) rank() int {
	switch s {
	case JobWaiting:
		return 0
	case JobRunning:
		return 1
	default:
		return 2
	}
}

// CanTransition reports whether a job may move from one status to another.
// Terminal statuses have no outgoing transitions and a job never moves back to an earlier status.
func CanTransition(from JobStatus, to JobStatus) bool {
	if !from.IsValid() || !to.IsValid() || from.IsTerminal() || from == to {
		return false
	}
	return to.rank() > from.rank()
}

// BackendKind names the execution backend a job was routed to.
type BackendKind string

const (
	LocalBackend   BackendKind = "local"
	ClusterBackend BackendKind = "cluster"
)

// Handle identifies a job on the cluster. Local jobs carry NoHandle.
type Handle int64

const NoHandle Handle = -1

func (h Handle) IsValid() bool {
	return h > 0
}

func (h Handle) String() string {
	if h == NoHandle {
		return "none"
	}
	return strconv.FormatInt(int64(h), 10)
}

// Job is one redistricting request and its lifecycle record.
type Job struct {
	Id                        string
	State                     StateAbbreviation
	Compactness               int
	PopulationDifferenceLimit float64
	MapCount                  int
	Ethnicities               []Ethnicity
	Status                    JobStatus
	Backend                   BackendKind
	Handle                    Handle
	AverageStateId            string
	ExtremeStateId            string
	CancelRequestedAt         *time.Time
	FailureReason             string
	ResultDocument            string
	CreatedAt                 time.Time
	UpdatedAt                 time.Time
}

// NewJob builds a job from a validated config.
func NewJob(id string, config JobConfig, backend BackendKind, status JobStatus, handle Handle, now time.Time) *Job {
	return &Job{
		Id:                        id,
		State:                     config.State,
		Compactness:               config.Compactness,
		PopulationDifferenceLimit: config.PopulationDifferenceLimit,
		MapCount:                  config.MapCount,
		Ethnicities:               append([]Ethnicity(nil), config.Ethnicities...),
		Status:                    status,
		Backend:                   backend,
		Handle:                    handle,
		CreatedAt:                 now,
		UpdatedAt:                 now,
	}
}

func (j *Job) CancelRequested() bool {
	return j.CancelRequestedAt != nil
}

func (j *Job) Config() JobConfig {
	return JobConfig{
		State:                     j.State,
		Compactness:               j.Compactness,
		PopulationDifferenceLimit: j.PopulationDifferenceLimit,
		MapCount:                  j.MapCount,
		Ethnicities:               append([]Ethnicity(nil), j.Ethnicities...),
	}
}

// Copy returns a deep copy of the job.
func (j *Job) Copy() *Job {
	c := *j
	c.Ethnicities = append([]Ethnicity(nil), j.Ethnicities...)
	if j.CancelRequestedAt != nil {
		t := *j.CancelRequestedAt
		c.CancelRequestedAt = &t
	}
	return &c
}
