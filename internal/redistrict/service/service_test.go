package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/giants/redistrict/internal/common/database"
	"github.com/giants/redistrict/internal/common/redistricterrors"
	"github.com/giants/redistrict/internal/redistrict/backend"
	"github.com/giants/redistrict/internal/redistrict/backend/fake"
	"github.com/giants/redistrict/internal/redistrict/dispatch"
	"github.com/giants/redistrict/internal/redistrict/domain"
	"github.com/giants/redistrict/internal/redistrict/ingest"
	"github.com/giants/redistrict/internal/redistrict/reconciler"
	"github.com/giants/redistrict/internal/redistrict/repository"
)

const clusterThreshold = 500

type testEnv struct {
	service    *Service
	repository repository.JobRepository
	cluster    *fake.Cluster
	clock      *clocktesting.FakeClock
}

func withService(t *testing.T, action func(env *testEnv)) {
	ctx := context.Background()
	db, err := database.Open(ctx, database.DialectSqlite, filepath.Join(t.TempDir(), "redistrict.db"))
	require.NoError(t, err)
	defer db.Close()

	clock := clocktesting.NewFakeClock(time.Date(2022, 11, 1, 0, 0, 0, 0, time.UTC))
	repo := repository.NewSQLJobRepository(db, database.DialectSqlite, clock)
	require.NoError(t, repo.Migrate(ctx))

	local := backend.NewLocalExecutor(filepath.Join(t.TempDir(), "local"), backend.SyntheticGenerator{})
	cluster := fake.NewCluster(filepath.Join(t.TempDir(), "cluster"), backend.SyntheticGenerator{}, clock, 0)
	backends := backend.NewRegistry(local, cluster)
	retryPolicy := repository.RetryPolicy{Attempts: 1}

	svc, err := NewService(
		repo,
		dispatch.NewDispatcher(repo, backends, clock, clusterThreshold, retryPolicy),
		reconciler.NewReconciler(repo, backends, ingest.NewIngestor(), clock, time.Minute, retryPolicy),
		backends,
		clock,
		16,
	)
	require.NoError(t, err)
	action(&testEnv{service: svc, repository: repo, cluster: cluster, clock: clock})
}

func (env *testEnv) createJob(t *testing.T, mapCount int) *domain.Job {
	job, err := env.service.CreateJob(context.Background(), "wi", 2, 0.03, []string{"BLACK", "white"}, mapCount)
	require.NoError(t, err)
	env.clock.Step(time.Second)
	return job
}

// completedJob runs a local job through reconciliation.
func (env *testEnv) completedJob(t *testing.T) *domain.Job {
	job := env.createJob(t, 12)
	_, err := env.service.Reconcile(context.Background())
	require.NoError(t, err)
	job, err = env.service.GetJob(context.Background(), job.Id)
	require.NoError(t, err)
	require.Equal(t, domain.JobCompleted, job.Status)
	return job
}

func TestCreateJob(t *testing.T) {
	withService(t, func(env *testEnv) {
		local := env.createJob(t, clusterThreshold)
		assert.Equal(t, domain.JobRunning, local.Status)
		assert.Equal(t, "none", local.Handle.String())
		assert.Equal(t, domain.StateAbbreviation("WI"), local.State)
		assert.Equal(t, []domain.Ethnicity{domain.White, domain.Black}, local.Ethnicities)

		cluster := env.createJob(t, clusterThreshold+1)
		assert.Equal(t, domain.JobWaiting, cluster.Status)
		assert.True(t, cluster.Handle.IsValid())

		jobs, err := env.service.ListJobs(context.Background())
		require.NoError(t, err)
		require.Len(t, jobs, 2)
		assert.Equal(t, local.Id, jobs[0].Id)
		assert.Equal(t, cluster.Id, jobs[1].Id)
	})
}

func TestCreateJob_Invalid(t *testing.T) {
	withService(t, func(env *testEnv) {
		job, err := env.service.CreateJob(context.Background(), "WI", 2, 0.03, []string{"PURPLE"}, 10)
		assert.Nil(t, job)
		assert.Error(t, err)

		jobs, err := env.service.ListJobs(context.Background())
		require.NoError(t, err)
		assert.Empty(t, jobs)
	})
}

func TestCancelJob(t *testing.T) {
	withService(t, func(env *testEnv) {
		ctx := context.Background()
		job := env.createJob(t, clusterThreshold+1)

		cancelled, err := env.service.CancelJob(ctx, job.Id)
		require.NoError(t, err)
		assert.True(t, cancelled)
		status, _ := env.cluster.Status(job.Handle)
		assert.Equal(t, backend.PollCancelled, status)

		stored, err := env.service.GetJob(ctx, job.Id)
		require.NoError(t, err)
		assert.True(t, stored.CancelRequested())
		assert.Equal(t, domain.JobWaiting, stored.Status)

		// Asking again is accepted while the job is still active.
		cancelled, err = env.service.CancelJob(ctx, job.Id)
		require.NoError(t, err)
		assert.True(t, cancelled)

		_, err = env.service.Reconcile(ctx)
		require.NoError(t, err)
		stored, err = env.service.GetJob(ctx, job.Id)
		require.NoError(t, err)
		assert.Equal(t, domain.JobCancelled, stored.Status)

		cancelled, err = env.service.CancelJob(ctx, job.Id)
		require.NoError(t, err)
		assert.False(t, cancelled)
	})
}

func TestCancelJob_RunningLocalJob(t *testing.T) {
	withService(t, func(env *testEnv) {
		ctx := context.Background()
		job := env.createJob(t, 5)

		cancelled, err := env.service.CancelJob(ctx, job.Id)
		require.NoError(t, err)
		assert.True(t, cancelled)

		_, err = env.service.Reconcile(ctx)
		require.NoError(t, err)
		stored, err := env.service.GetJob(ctx, job.Id)
		require.NoError(t, err)
		assert.Equal(t, domain.JobCancelled, stored.Status)
		assert.Empty(t, stored.AverageStateId)
	})
}

func TestCancelJob_TerminalOrUnknown(t *testing.T) {
	withService(t, func(env *testEnv) {
		job := env.completedJob(t)

		cancelled, err := env.service.CancelJob(context.Background(), job.Id)
		require.NoError(t, err)
		assert.False(t, cancelled)

		cancelled, err = env.service.CancelJob(context.Background(), "missing")
		require.NoError(t, err)
		assert.False(t, cancelled)
	})
}

func TestDeleteJob(t *testing.T) {
	withService(t, func(env *testEnv) {
		ctx := context.Background()
		kept := env.createJob(t, 3)
		job := env.completedJob(t)

		deleted, err := env.service.DeleteJob(ctx, job.Id)
		require.NoError(t, err)
		assert.True(t, deleted)

		jobs, err := env.service.ListJobs(ctx)
		require.NoError(t, err)
		for _, j := range jobs {
			assert.NotEqual(t, job.Id, j.Id)
		}
		_, err = env.service.GetJob(ctx, job.Id)
		assert.True(t, redistricterrors.IsNotFound(err))
		_, err = env.service.GetJob(ctx, kept.Id)
		assert.NoError(t, err)

		deleted, err = env.service.DeleteJob(ctx, job.Id)
		require.NoError(t, err)
		assert.False(t, deleted)
	})
}

func TestDeleteJob_CancelsActiveClusterJob(t *testing.T) {
	withService(t, func(env *testEnv) {
		job := env.createJob(t, clusterThreshold+1)
		env.cluster.SetStatus(job.Handle, backend.PollRunning, "")

		deleted, err := env.service.DeleteJob(context.Background(), job.Id)
		require.NoError(t, err)
		assert.True(t, deleted)
		assert.Equal(t, 1, env.cluster.CancelCount())
		status, _ := env.cluster.Status(job.Handle)
		assert.Equal(t, backend.PollCancelled, status)
	})
}

func TestDeleteJob_Unknown(t *testing.T) {
	withService(t, func(env *testEnv) {
		deleted, err := env.service.DeleteJob(context.Background(), "missing")
		assert.NoError(t, err)
		assert.False(t, deleted)
	})
}

func TestGetJobResults(t *testing.T) {
	withService(t, func(env *testEnv) {
		ctx := context.Background()
		job := env.completedJob(t)

		results, err := env.service.GetJobResults(ctx, job.Id)
		require.NoError(t, err)
		assert.Equal(t, 12, results.PlanCount)
		assert.Equal(t, job.AverageStateId, results.Average.Id)
		assert.Equal(t, job.ExtremeStateId, results.Extreme.Id)
		assert.NotEmpty(t, results.Average.Districts)
		assert.NotEmpty(t, results.CountyCounts)
		// One rank per district for each of the two requested ethnicities.
		assert.Len(t, results.BoxWhiskers, 2*len(results.Average.Districts))
	})
}

func TestGetJobResults_NotCompleted(t *testing.T) {
	withService(t, func(env *testEnv) {
		job := env.createJob(t, clusterThreshold+1)
		_, err := env.service.GetJobResults(context.Background(), job.Id)
		assert.True(t, redistricterrors.IsNotFound(err))

		_, err = env.service.GetJobResults(context.Background(), "missing")
		assert.True(t, redistricterrors.IsNotFound(err))
	})
}

func TestGetDistrictingGeography(t *testing.T) {
	withService(t, func(env *testEnv) {
		ctx := context.Background()
		job := env.completedJob(t)

		districts, err := env.repository.GetDistricts(ctx, job.AverageStateId)
		require.NoError(t, err)
		require.NotEmpty(t, districts)

		geography, err := env.service.GetDistrictingGeography(ctx, job.AverageStateId)
		require.NoError(t, err)
		assert.Equal(t, domain.Geography(districts), geography)
		assert.NotEmpty(t, geography)

		cached, err := env.service.GetDistrictingGeography(ctx, job.AverageStateId)
		require.NoError(t, err)
		assert.Equal(t, geography, cached)

		deleted, err := env.service.DeleteJob(ctx, job.Id)
		require.NoError(t, err)
		require.True(t, deleted)
		geography, err = env.service.GetDistrictingGeography(ctx, job.AverageStateId)
		require.NoError(t, err)
		assert.Empty(t, geography)
	})
}

func TestGetDistrictingGeography_UnknownState(t *testing.T) {
	withService(t, func(env *testEnv) {
		geography, err := env.service.GetDistrictingGeography(context.Background(), "missing")
		require.NoError(t, err)
		assert.Equal(t, "", geography)
	})
}

func TestRecoverError(t *testing.T) {
	run := func() (err error) {
		defer recoverError("test", &err)
		var jobs []*domain.Job
		_ = jobs[1]
		return nil
	}
	assert.Error(t, run())
}
