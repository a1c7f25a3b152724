package repository

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"
	"golang.org/x/exp/slices"
	"k8s.io/utils/clock"

	"github.com/giants/redistrict/internal/common/redistricterrors"
	"github.com/giants/redistrict/internal/redistrict/domain"
)

const (
	jobObjectPrefix  = "Job:"
	jobIndexKey      = "Job:Index"
	jobActiveKey     = "Job:Active"
	jobResultsSuffix = ":Results"
	stateObjectKey   = "State:"
)

// Status compare-and-set. ARGV[1] is the expected status, the remaining arguments are field/value pairs.
// Returns -1 if the job does not exist, 0 if the status did not match and 1 on success.
const casScript = `
local current = redis.call('HGET', KEYS[1], 'status')
if not current then
	return -1
end
if current ~= ARGV[1] then
	return 0
end
for i = 2, #ARGV, 2 do
	redis.call('HSET', KEYS[1], ARGV[i], ARGV[i + 1])
end
local status = redis.call('HGET', KEYS[1], 'status')
if status ~= 'WAITING' and status ~= 'RUNNING' then
	redis.call('SREM', KEYS[2], redis.call('HGET', KEYS[1], 'id'))
end
return 1
`

// Records a cancel request on an active job unless one is already recorded.
// Returns -1 if the job does not exist, 0 if it is terminal and 1 otherwise.
const requestCancelScript = `
local current = redis.call('HGET', KEYS[1], 'status')
if not current then
	return -1
end
if current ~= 'WAITING' and current ~= 'RUNNING' then
	return 0
end
if redis.call('HGET', KEYS[1], 'cancelRequestedAt') == '0' then
	redis.call('HSET', KEYS[1], 'cancelRequestedAt', ARGV[1])
	redis.call('HSET', KEYS[1], 'updatedAt', ARGV[2])
end
return 1
`

// Stores the result keys only if the status compare-and-set on the job succeeds and no cancel has been requested.
// KEYS: job, active set, results, state keys... ARGV: expected status, updatedAt, average id, extreme id,
// result document, results json, state json...
const completeScript = `
local current = redis.call('HGET', KEYS[1], 'status')
if not current then
	return -1
end
if current ~= ARGV[1] then
	return 0
end
if redis.call('HGET', KEYS[1], 'cancelRequestedAt') ~= '0' then
	return 0
end
redis.call('HSET', KEYS[1], 'status', 'COMPLETED')
redis.call('HSET', KEYS[1], 'updatedAt', ARGV[2])
redis.call('HSET', KEYS[1], 'averageStateId', ARGV[3])
redis.call('HSET', KEYS[1], 'extremeStateId', ARGV[4])
redis.call('HSET', KEYS[1], 'resultDocument', ARGV[5])
redis.call('SREM', KEYS[2], redis.call('HGET', KEYS[1], 'id'))
redis.call('SET', KEYS[3], ARGV[6])
for i = 4, #KEYS do
	redis.call('SET', KEYS[i], ARGV[i + 3])
end
return 1
`

// Removes a job together with its results and the states it references.
// KEYS: job, results, index, active set. ARGV: job id, state key prefix. Returns the number of job keys removed.
const deleteScript = `
local stateIds = redis.call('HMGET', KEYS[1], 'averageStateId', 'extremeStateId')
for _, stateId in ipairs(stateIds) do
	if stateId and stateId ~= '' then
		redis.call('DEL', ARGV[2] .. stateId)
	end
end
redis.call('DEL', KEYS[2])
redis.call('ZREM', KEYS[3], ARGV[1])
redis.call('SREM', KEYS[4], ARGV[1])
return redis.call('DEL', KEYS[1])
`

type storedResults struct {
	CountyCounts []domain.CountyCount `json:"countyCounts"`
	BoxWhiskers  []domain.BoxWhisker  `json:"boxWhiskers"`
}

// RedisJobRepository keeps each job in a hash so that status changes can be applied field by field from Lua.
type RedisJobRepository struct {
	db    *redis.Client
	clock clock.Clock
}

func NewRedisJobRepository(db *redis.Client, clock clock.Clock) *RedisJobRepository {
	return &RedisJobRepository{db: db, clock: clock}
}

func jobKey(id string) string {
	return jobObjectPrefix + id
}

func resultsKey(jobId string) string {
	return jobObjectPrefix + jobId + jobResultsSuffix
}

func stateKey(id string) string {
	return stateObjectKey + id
}

func jobFields(job *domain.Job) map[string]interface{} {
	var cancelRequestedAt int64
	if job.CancelRequestedAt != nil {
		cancelRequestedAt = toUnixNano(*job.CancelRequestedAt)
	}
	return map[string]interface{}{
		"id":                        job.Id,
		"state":                     string(job.State),
		"compactness":               job.Compactness,
		"populationDifferenceLimit": strconv.FormatFloat(job.PopulationDifferenceLimit, 'g', -1, 64),
		"mapCount":                  job.MapCount,
		"ethnicities":               joinEthnicities(job.Ethnicities),
		"status":                    string(job.Status),
		"backend":                   string(job.Backend),
		"handle":                    int64(job.Handle),
		"averageStateId":            job.AverageStateId,
		"extremeStateId":            job.ExtremeStateId,
		"cancelRequestedAt":         cancelRequestedAt,
		"failureReason":             job.FailureReason,
		"resultDocument":            job.ResultDocument,
		"createdAt":                 toUnixNano(job.CreatedAt),
		"updatedAt":                 toUnixNano(job.UpdatedAt),
	}
}

func parseJobFields(fields map[string]string) (*domain.Job, error) {
	var err error
	parseInt := func(name string) int64 {
		if err != nil {
			return 0
		}
		var n int64
		n, err = strconv.ParseInt(fields[name], 10, 64)
		err = errors.Wrapf(err, "field %s", name)
		return n
	}
	row := jobRow{
		Id:                fields["id"],
		State:             fields["state"],
		Compactness:       int(parseInt("compactness")),
		MapCount:          int(parseInt("mapCount")),
		Ethnicities:       fields["ethnicities"],
		Status:            fields["status"],
		Backend:           fields["backend"],
		Handle:            parseInt("handle"),
		AverageStateId:    fields["averageStateId"],
		ExtremeStateId:    fields["extremeStateId"],
		CancelRequestedAt: parseInt("cancelRequestedAt"),
		FailureReason:     fields["failureReason"],
		ResultDocument:    fields["resultDocument"],
		CreatedAt:         parseInt("createdAt"),
		UpdatedAt:         parseInt("updatedAt"),
	}
	if err != nil {
		return nil, err
	}
	row.PopulationDifferenceLimit, err = strconv.ParseFloat(fields["populationDifferenceLimit"], 64)
	if err != nil {
		return nil, errors.Wrap(err, "field populationDifferenceLimit")
	}
	return row.toJob(), nil
}

func (repo *RedisJobRepository) CreateJob(ctx context.Context, job *domain.Job) error {
	db := repo.db.WithContext(ctx)
	exists, err := db.Exists(jobKey(job.Id)).Result()
	if err != nil {
		return redistricterrors.NewPersistence("create job", errors.WithStack(err))
	}
	if exists > 0 {
		return redistricterrors.NewPersistence("create job", errors.Errorf("job %s already exists", job.Id))
	}

	pipe := db.TxPipeline()
	pipe.HMSet(jobKey(job.Id), jobFields(job))
	// Jobs created in the same millisecond fall back to ordering by id.
	pipe.ZAdd(jobIndexKey, redis.Z{Score: float64(job.CreatedAt.UnixMilli()), Member: job.Id})
	if !job.Status.IsTerminal() {
		pipe.SAdd(jobActiveKey, job.Id)
	}
	_, err = pipe.Exec()
	return redistricterrors.NewPersistence("create job", errors.WithStack(err))
}

func (repo *RedisJobRepository) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	fields, err := repo.db.WithContext(ctx).HGetAll(jobKey(id)).Result()
	if err != nil {
		return nil, redistricterrors.NewPersistence("get job", errors.WithStack(err))
	}
	if len(fields) == 0 {
		return nil, &redistricterrors.ErrNotFound{Type: "job", Value: id}
	}
	job, err := parseJobFields(fields)
	if err != nil {
		return nil, redistricterrors.NewPersistence("get job", err)
	}
	return job, nil
}

func (repo *RedisJobRepository) ListJobs(ctx context.Context) ([]*domain.Job, error) {
	ids, err := repo.db.WithContext(ctx).ZRange(jobIndexKey, 0, -1).Result()
	if err != nil {
		return nil, redistricterrors.NewPersistence("list jobs", errors.WithStack(err))
	}
	return repo.getJobsByIds(ctx, "list jobs", ids)
}

func (repo *RedisJobRepository) ListActiveJobs(ctx context.Context) ([]*domain.Job, error) {
	ids, err := repo.db.WithContext(ctx).SMembers(jobActiveKey).Result()
	if err != nil {
		return nil, redistricterrors.NewPersistence("list active jobs", errors.WithStack(err))
	}
	jobs, err := repo.getJobsByIds(ctx, "list active jobs", ids)
	if err != nil {
		return nil, err
	}
	active := make([]*domain.Job, 0, len(jobs))
	for _, job := range jobs {
		if !job.Status.IsTerminal() {
			active = append(active, job)
		}
	}
	slices.SortFunc(active, func(a, b *domain.Job) bool {
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.Id < b.Id
	})
	return active, nil
}

// getJobsByIds skips ids whose job has been deleted since the ids were read.
func (repo *RedisJobRepository) getJobsByIds(ctx context.Context, operation string, ids []string) ([]*domain.Job, error) {
	if len(ids) == 0 {
		return []*domain.Job{}, nil
	}
	pipe := repo.db.WithContext(ctx).Pipeline()
	cmds := make([]*redis.StringStringMapCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(jobKey(id))
	}
	if _, err := pipe.Exec(); err != nil {
		return nil, redistricterrors.NewPersistence(operation, errors.WithStack(err))
	}

	jobs := make([]*domain.Job, 0, len(ids))
	for _, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		job, err := parseJobFields(fields)
		if err != nil {
			return nil, redistricterrors.NewPersistence(operation, err)
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (repo *RedisJobRepository) TransitionStatus(ctx context.Context, id string, from domain.JobStatus, to domain.JobStatus, reason string) error {
	if !domain.CanTransition(from, to) {
		return errors.Errorf("job %s cannot move from %s to %s", id, from, to)
	}
	args := []interface{}{string(from), "status", string(to), "updatedAt", repo.clock.Now().UnixNano()}
	if to == domain.JobFailed {
		args = append(args, "failureReason", reason)
	}
	result, err := repo.db.WithContext(ctx).Eval(casScript, []string{jobKey(id), jobActiveKey}, args...).Int()
	if err != nil {
		return redistricterrors.NewPersistence("transition job status", errors.WithStack(err))
	}
	return casOutcome(result, id, string(from))
}

func casOutcome(result int, id string, expected string) error {
	switch result {
	case -1:
		return &redistricterrors.ErrNotFound{Type: "job", Value: id}
	case 0:
		return &redistricterrors.ErrStaleStatus{JobId: id, Expected: expected}
	default:
		return nil
	}
}

func (repo *RedisJobRepository) RequestCancel(ctx context.Context, id string, at time.Time) (*domain.Job, error) {
	result, err := repo.db.WithContext(ctx).
		Eval(requestCancelScript, []string{jobKey(id)}, at.UnixNano(), repo.clock.Now().UnixNano()).
		Int()
	if err != nil {
		return nil, redistricterrors.NewPersistence("request cancel", errors.WithStack(err))
	}
	if err := casOutcome(result, id, "WAITING or RUNNING"); err != nil {
		return nil, err
	}
	return repo.GetJob(ctx, id)
}

func (repo *RedisJobRepository) CompleteJob(ctx context.Context, id string, from domain.JobStatus, results *domain.JobResults) error {
	if !domain.CanTransition(from, domain.JobCompleted) {
		return errors.Errorf("job %s cannot move from %s to %s", id, from, domain.JobCompleted)
	}
	resultsJson, err := json.Marshal(storedResults{CountyCounts: results.CountyCounts, BoxWhiskers: results.BoxWhiskers})
	if err != nil {
		return errors.WithStack(err)
	}
	keys := []string{jobKey(id), jobActiveKey, resultsKey(id)}
	args := []interface{}{
		string(from),
		repo.clock.Now().UnixNano(),
		results.Average.Id,
		results.Extreme.Id,
		results.ResultDocument,
		string(resultsJson),
	}
	for _, state := range resultStates(results) {
		stored := *state
		stored.JobId = id
		stateJson, err := json.Marshal(&stored)
		if err != nil {
			return errors.WithStack(err)
		}
		keys = append(keys, stateKey(state.Id))
		args = append(args, string(stateJson))
	}

	result, err := repo.db.WithContext(ctx).Eval(completeScript, keys, args...).Int()
	if err != nil {
		return redistricterrors.NewPersistence("complete job", errors.WithStack(err))
	}
	return casOutcome(result, id, string(from))
}

func (repo *RedisJobRepository) DeleteJob(ctx context.Context, id string) (bool, error) {
	keys := []string{jobKey(id), resultsKey(id), jobIndexKey, jobActiveKey}
	deleted, err := repo.db.WithContext(ctx).Eval(deleteScript, keys, id, stateObjectKey).Int()
	if err != nil {
		return false, redistricterrors.NewPersistence("delete job", errors.WithStack(err))
	}
	return deleted > 0, nil
}

func (repo *RedisJobRepository) getStoredState(ctx context.Context, stateId string) (*domain.State, error) {
	data, err := repo.db.WithContext(ctx).Get(stateKey(stateId)).Bytes()
	if err == redis.Nil {
		return nil, &redistricterrors.ErrNotFound{Type: "state", Value: stateId}
	}
	if err != nil {
		return nil, redistricterrors.NewPersistence("get state", errors.WithStack(err))
	}
	state := &domain.State{}
	if err := json.Unmarshal(data, state); err != nil {
		return nil, redistricterrors.NewPersistence("get state", errors.WithStack(err))
	}
	for _, d := range state.Districts {
		d.StateId = state.Id
	}
	slices.SortFunc(state.Districts, func(a, b *domain.District) bool { return a.Number < b.Number })
	return state, nil
}

func (repo *RedisJobRepository) GetState(ctx context.Context, stateId string) (*domain.State, error) {
	return repo.getStoredState(ctx, stateId)
}

func (repo *RedisJobRepository) GetDistricts(ctx context.Context, stateId string) ([]*domain.District, error) {
	state, err := repo.getStoredState(ctx, stateId)
	if redistricterrors.IsNotFound(err) {
		return []*domain.District{}, nil
	}
	if err != nil {
		return nil, err
	}
	return state.Districts, nil
}

func (repo *RedisJobRepository) getResults(ctx context.Context, jobId string) (*storedResults, error) {
	data, err := repo.db.WithContext(ctx).Get(resultsKey(jobId)).Bytes()
	if err == redis.Nil {
		return &storedResults{}, nil
	}
	if err != nil {
		return nil, redistricterrors.NewPersistence("get results", errors.WithStack(err))
	}
	results := &storedResults{}
	if err := json.Unmarshal(data, results); err != nil {
		return nil, redistricterrors.NewPersistence("get results", errors.WithStack(err))
	}
	return results, nil
}

func (repo *RedisJobRepository) GetCountyCounts(ctx context.Context, jobId string) ([]domain.CountyCount, error) {
	results, err := repo.getResults(ctx, jobId)
	if err != nil {
		return nil, err
	}
	counts := append([]domain.CountyCount{}, results.CountyCounts...)
	slices.SortFunc(counts, func(a, b domain.CountyCount) bool { return a.County < b.County })
	return counts, nil
}

func (repo *RedisJobRepository) GetBoxWhiskers(ctx context.Context, jobId string) ([]domain.BoxWhisker, error) {
	results, err := repo.getResults(ctx, jobId)
	if err != nil {
		return nil, err
	}
	boxWhiskers := append([]domain.BoxWhisker{}, results.BoxWhiskers...)
	slices.SortFunc(boxWhiskers, func(a, b domain.BoxWhisker) bool {
		if a.Ethnicity != b.Ethnicity {
			return a.Ethnicity < b.Ethnicity
		}
		return a.DistrictRank < b.DistrictRank
	})
	return boxWhiskers, nil
}

func (repo *RedisJobRepository) HealthCheck(ctx context.Context) error {
	return errors.Wrap(repo.db.WithContext(ctx).Ping().Err(), "redis ping failed")
}
