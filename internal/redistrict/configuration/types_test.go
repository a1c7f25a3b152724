package configuration

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giants/redistrict/internal/common"
)

const defaultConfigPath = "../../../config/redistrict"

func loadDefaultConfig(t *testing.T) RedistrictConfiguration {
	t.Helper()
	var config RedistrictConfiguration
	_, err := common.LoadConfig(&config, defaultConfigPath, nil, nil)
	require.NoError(t, err)
	return config
}

func TestDefaultConfigIsValid(t *testing.T) {
	config := loadDefaultConfig(t)
	require.NoError(t, config.Validate())

	assert.Equal(t, 500, config.ClusterThreshold)
	assert.Equal(t, 30*time.Second, config.ReconcileInterval)
	assert.Equal(t, 10*time.Minute, config.CancelGracePeriod)
	assert.Equal(t, "sqlite", config.Database.Type)
	assert.Equal(t, "localhost", config.Database.Connection["host"])
	assert.Equal(t, "localhost:6379", config.Database.Redis.Addr)
}

func TestValidate(t *testing.T) {
	tests := map[string]struct {
		mutate  func(c *RedistrictConfiguration)
		isValid bool
	}{
		"default": {func(c *RedistrictConfiguration) {}, true},
		"unknown database type": {func(c *RedistrictConfiguration) {
			c.Database.Type = "mongo"
		}, false},
		"sqlite without path": {func(c *RedistrictConfiguration) {
			c.Database.Path = ""
		}, false},
		"postgres without connection": {func(c *RedistrictConfiguration) {
			c.Database.Type = "postgres"
			c.Database.Connection = nil
		}, false},
		"redis without address": {func(c *RedistrictConfiguration) {
			c.Database.Type = "redis"
			c.Database.Redis.Addr = ""
		}, false},
		"no slurm and no fake cluster": {func(c *RedistrictConfiguration) {
			c.Slurm.Sbatch = ""
		}, false},
		"fake cluster without slurm": {func(c *RedistrictConfiguration) {
			c.Slurm = SlurmConfig{}
			c.FakeCluster = true
		}, true},
		"no work dir": {func(c *RedistrictConfiguration) {
			c.Local.WorkDir = ""
		}, false},
		"zero reconcile interval": {func(c *RedistrictConfiguration) {
			c.ReconcileInterval = 0
		}, false},
		"bad log level": {func(c *RedistrictConfiguration) {
			c.Logging.Level = "chatty"
		}, false},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			config := loadDefaultConfig(t)
			tc.mutate(&config)
			err := config.Validate()
			if tc.isValid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestRectifyConfig(t *testing.T) {
	config := RedistrictConfiguration{ReconcileInterval: time.Second}
	RectifyConfig(&config)

	assert.Equal(t, DefaultClusterThreshold, config.ClusterThreshold)
	assert.Equal(t, DefaultPollTimeout, config.PollTimeout)
	assert.Equal(t, DefaultPollTimeout, config.CancelTimeout)
	assert.Equal(t, 10*time.Second, config.CancelGracePeriod)
	assert.Equal(t, uint(DefaultPersistRetries), config.PersistRetries)
	assert.Equal(t, DefaultGeographyCacheSize, config.GeographyCacheSize)
	assert.Equal(t, DefaultPollTimeout, config.Database.HealthCheckTimeout)
}

func TestRectifyConfig_KeepsValidValues(t *testing.T) {
	config := loadDefaultConfig(t)
	before := config
	RectifyConfig(&config)
	assert.Equal(t, before, config)
}
