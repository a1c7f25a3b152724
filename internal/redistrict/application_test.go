package redistrict

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	commonconfig "github.com/giants/redistrict/internal/common/config"
	"github.com/giants/redistrict/internal/common/logging"
	"github.com/giants/redistrict/internal/redistrict/configuration"
	"github.com/giants/redistrict/internal/redistrict/domain"
)

func testConfig(t *testing.T) *configuration.RedistrictConfiguration {
	dir := t.TempDir()
	config := &configuration.RedistrictConfiguration{
		ClusterThreshold:   100,
		ReconcileInterval:  time.Second,
		FakeCluster:        true,
		FakeClusterRunTime: time.Minute,
		Database: configuration.DatabaseConfig{
			Type: "sqlite",
			Path: filepath.Join(dir, "redistrict.db"),
		},
		Local:   configuration.LocalConfig{WorkDir: filepath.Join(dir, "work")},
		Logging: logging.DefaultConfig(),
	}
	configuration.RectifyConfig(config)
	require.NoError(t, config.Validate())
	return config
}

func TestNewComponents_JobLifecycle(t *testing.T) {
	tests := map[string]func(t *testing.T, config *configuration.RedistrictConfiguration){
		"sqlite": func(t *testing.T, config *configuration.RedistrictConfiguration) {},
		"redis": func(t *testing.T, config *configuration.RedistrictConfiguration) {
			s, err := miniredis.Run()
			require.NoError(t, err)
			t.Cleanup(s.Close)
			config.Database = configuration.DatabaseConfig{
				Type:  "redis",
				Redis: commonconfig.RedisConfig{Addr: s.Addr()},
			}
		},
	}
	for name, configure := range tests {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			config := testConfig(t)
			configure(t, config)
			clock := clocktesting.NewFakeClock(time.Date(2022, 11, 1, 0, 0, 0, 0, time.UTC))

			components, err := NewComponents(ctx, config, clock)
			require.NoError(t, err)
			defer components.Close()
			require.NoError(t, components.Repository.HealthCheck(ctx))

			local, err := components.Service.CreateJob(ctx, "WI", 2, 0.05, []string{"black"}, 10)
			require.NoError(t, err)
			assert.Equal(t, domain.LocalBackend, local.Backend)

			cluster, err := components.Service.CreateJob(ctx, "WI", 2, 0.05, []string{"black"}, 200)
			require.NoError(t, err)
			assert.Equal(t, domain.ClusterBackend, cluster.Backend)
			assert.True(t, cluster.Handle.IsValid())

			_, err = components.Service.Reconcile(ctx)
			require.NoError(t, err)
			local, err = components.Service.GetJob(ctx, local.Id)
			require.NoError(t, err)
			assert.Equal(t, domain.JobCompleted, local.Status)

			clock.Step(2 * time.Minute)
			_, err = components.Service.Reconcile(ctx)
			require.NoError(t, err)
			cluster, err = components.Service.GetJob(ctx, cluster.Id)
			require.NoError(t, err)
			assert.Equal(t, domain.JobCompleted, cluster.Status)

			results, err := components.Service.GetJobResults(ctx, cluster.Id)
			require.NoError(t, err)
			assert.Equal(t, 200, results.PlanCount)
			geography, err := components.Service.GetDistrictingGeography(ctx, cluster.AverageStateId)
			require.NoError(t, err)
			assert.NotEmpty(t, geography)
		})
	}
}

func TestNewComponents_ReopensExistingStore(t *testing.T) {
	ctx := context.Background()
	config := testConfig(t)
	clock := clocktesting.NewFakeClock(time.Now())

	components, err := NewComponents(ctx, config, clock)
	require.NoError(t, err)
	job, err := components.Service.CreateJob(ctx, "MN", 1, 0.1, []string{"white"}, 5)
	require.NoError(t, err)
	components.Close()

	components, err = NewComponents(ctx, config, clock)
	require.NoError(t, err)
	defer components.Close()
	stored, err := components.Service.GetJob(ctx, job.Id)
	require.NoError(t, err)
	assert.Equal(t, job.Id, stored.Id)
}

func TestNewComponents_UnknownDatabase(t *testing.T) {
	config := testConfig(t)
	config.Database.Type = "mysql"
	_, err := NewComponents(context.Background(), config, clocktesting.NewFakeClock(time.Now()))
	assert.Error(t, err)
}
