package configuration

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	commonconfig "github.com/giants/redistrict/internal/common/config"
	"github.com/giants/redistrict/internal/common/logging"
)

type DatabaseConfig struct {
	// Type of store used - one of 'sqlite', 'postgres' or 'redis'
	Type string `validate:"oneof=sqlite postgres redis"`
	// Path of the sqlite database file. Only read when Type is 'sqlite'.
	Path string
	// libpq connection parameters. Only read when Type is 'postgres'.
	Connection map[string]string
	// Only read when Type is 'redis'.
	Redis commonconfig.RedisConfig `validate:"-"`
	// Timeout applied to health checks against the store.
	HealthCheckTimeout time.Duration
}

type LocalConfig struct {
	// Directory under which each local job writes its output, in a subdirectory named after the job id.
	WorkDir string `validate:"required"`
	// Generator executable. The job's parameters are passed as flags, followed by Args.
	Command string
	Args    []string
}

type SlurmConfig struct {
	Sbatch  string
	Scancel string
	Sacct   string
	// Batch script submitted for every job. The job's parameters are passed through the environment.
	Script    string
	Partition string
	// Directory the batch script writes results to, in a subdirectory named after the job id.
	OutputRoot string
}

type RedistrictConfiguration struct {
	MetricsPort uint16
	HealthPort  uint16

	// Jobs requesting more maps than this are sent to the cluster. The rest run locally.
	ClusterThreshold int `validate:"gt=0"`

	ReconcileInterval time.Duration `validate:"gt=0"`
	// Upper bound on a single backend poll.
	PollTimeout time.Duration
	// Upper bound on a single backend cancel.
	CancelTimeout time.Duration
	// How long a cancel request waits for the backend to confirm before the job is marked CANCELLED anyway.
	CancelGracePeriod time.Duration
	// Attempts made for each status write before giving up until the next cycle.
	PersistRetries    uint
	PersistRetryDelay time.Duration

	// Number of district geography documents kept in memory.
	GeographyCacheSize int

	// Use an in-process cluster instead of Slurm. Jobs sent to it complete after FakeClusterRunTime.
	FakeCluster        bool
	FakeClusterRunTime time.Duration

	Database DatabaseConfig
	Local    LocalConfig
	Slurm    SlurmConfig
	Logging  logging.Config
}

func (c RedistrictConfiguration) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return err
	}
	switch c.Database.Type {
	case "sqlite":
		if c.Database.Path == "" {
			return errors.New("database.path is required for sqlite")
		}
	case "postgres":
		if len(c.Database.Connection) == 0 {
			return errors.New("database.connection is required for postgres")
		}
	case "redis":
		if err := validate.Struct(c.Database.Redis); err != nil {
			return err
		}
	}
	if !c.FakeCluster && (c.Slurm.Sbatch == "" || c.Slurm.Scancel == "" || c.Slurm.Sacct == "" || c.Slurm.Script == "") {
		return errors.New("slurm.sbatch, slurm.scancel, slurm.sacct and slurm.script are required unless fakeCluster is set")
	}
	return c.Logging.Validate()
}
