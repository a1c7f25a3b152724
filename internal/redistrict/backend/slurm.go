package backend

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/giants/redistrict/internal/common/redistricterrors"
	"github.com/giants/redistrict/internal/redistrict/domain"
)

// CommandRunner runs an external command and returns its standard output.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func ExecCommandRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return out, errors.Wrapf(err, "%s: %s", name, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return out, errors.WithStack(err)
	}
	return out, nil
}

type SlurmConfig struct {
	Sbatch     string
	Scancel    string
	Sacct      string
	Script     string
	Partition  string
	OutputRoot string
}

// SlurmExecutor submits jobs to a Slurm cluster through its command line tools.
type SlurmExecutor struct {
	config SlurmConfig
	run    CommandRunner
}

func NewSlurmExecutor(config SlurmConfig, run CommandRunner) *SlurmExecutor {
	return &SlurmExecutor{config: config, run: run}
}

func (e *SlurmExecutor) Kind() domain.BackendKind {
	return domain.ClusterBackend
}

func (e *SlurmExecutor) OutputDir(job *domain.Job) string {
	return filepath.Join(e.config.OutputRoot, job.Id)
}

// Launch creates the job's output directory, which must exist before Slurm opens the job's stdout file, and
// submits the batch script. Any failure to obtain a positive Slurm job id is an ErrDispatch.
func (e *SlurmExecutor) Launch(ctx context.Context, job *domain.Job) (domain.Handle, error) {
	outputDir := e.OutputDir(job)
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return domain.NoHandle, &redistricterrors.ErrDispatch{JobId: job.Id, Cause: errors.WithStack(err)}
	}
	args := []string{
		"--parsable",
		"--job-name", "redistrict-" + job.Id,
		"--output", filepath.Join(outputDir, "slurm-%j.out"),
		"--export", "ALL," + strings.Join(jobEnvironment(job, outputDir), ","),
	}
	if e.config.Partition != "" {
		args = append(args, "--partition", e.config.Partition)
	}
	args = append(args, e.config.Script)

	out, err := e.run(ctx, e.config.Sbatch, args...)
	if err != nil {
		return domain.NoHandle, &redistricterrors.ErrDispatch{JobId: job.Id, Cause: err}
	}
	handle, err := parseSbatchOutput(out)
	if err != nil {
		return domain.NoHandle, &redistricterrors.ErrDispatch{JobId: job.Id, Cause: err}
	}
	return handle, nil
}

// sbatch --parsable prints "<jobid>" or "<jobid>;<cluster>".
func parseSbatchOutput(out []byte) (domain.Handle, error) {
	s := strings.TrimSpace(string(out))
	if i := strings.IndexByte(s, ';'); i >= 0 {
		s = s[:i]
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return domain.NoHandle, errors.Errorf("unexpected sbatch output %q", string(out))
	}
	handle := domain.Handle(id)
	if !handle.IsValid() {
		return domain.NoHandle, errors.Errorf("sbatch returned invalid job id %d", id)
	}
	return handle, nil
}

func jobEnvironment(job *domain.Job, outputDir string) []string {
	ethnicities := make([]string, len(job.Ethnicities))
	for i, e := range job.Ethnicities {
		ethnicities[i] = string(e)
	}
	return []string{
		"REDISTRICT_JOB_ID=" + job.Id,
		"REDISTRICT_STATE=" + string(job.State),
		"REDISTRICT_COMPACTNESS=" + strconv.Itoa(job.Compactness),
		"REDISTRICT_POPULATION_DIFFERENCE_LIMIT=" + strconv.FormatFloat(job.PopulationDifferenceLimit, 'f', -1, 64),
		// sbatch splits --export on commas
		"REDISTRICT_ETHNICITIES=" + strings.Join(ethnicities, ":"),
		"REDISTRICT_MAP_COUNT=" + strconv.Itoa(job.MapCount),
		"REDISTRICT_OUTPUT_DIR=" + outputDir,
	}
}

func (e *SlurmExecutor) Poll(ctx context.Context, job *domain.Job) (PollResult, error) {
	out, err := e.run(ctx, e.config.Sacct,
		"--jobs", job.Handle.String(),
		"--allocations",
		"--noheader",
		"--parsable2",
		"--format", "State,Reason")
	if err != nil {
		return PollResult{}, err
	}
	line := strings.TrimSpace(string(out))
	if line == "" {
		// sacct lags behind sbatch; an unknown job has just been submitted.
		return PollResult{Status: PollQueued}, nil
	}
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	fields := strings.SplitN(line, "|", 2)
	stateFields := strings.Fields(fields[0])
	if len(stateFields) == 0 {
		return PollResult{}, errors.Errorf("unexpected sacct output %q for job %s", line, job.Id)
	}
	// e.g. "CANCELLED by 1000"
	state := stateFields[0]
	reason := ""
	if len(fields) > 1 {
		reason = fields[1]
	}

	status, ok := slurmStates[state]
	if !ok {
		return PollResult{}, errors.Errorf("unknown slurm state %q for job %s", state, job.Id)
	}
	result := PollResult{Status: status}
	switch status {
	case PollCompleted:
		result.OutputToken = e.OutputDir(job)
	case PollFailed:
		result.Message = strings.TrimSpace(state + " " + reason)
	}
	return result, nil
}

var slurmStates = map[string]PollStatus{
	"PENDING":       PollQueued,
	"REQUEUED":      PollQueued,
	"REQUEUE_HOLD":  PollQueued,
	"RESV_DEL_HOLD": PollQueued,
	"CONFIGURING":   PollRunning,
	"RUNNING":       PollRunning,
	"COMPLETING":    PollRunning,
	"SUSPENDED":     PollRunning,
	"STAGE_OUT":     PollRunning,
	"RESIZING":      PollRunning,
	"COMPLETED":     PollCompleted,
	"CANCELLED":     PollCancelled,
	"FAILED":        PollFailed,
	"TIMEOUT":       PollFailed,
	"NODE_FAIL":     PollFailed,
	"OUT_OF_MEMORY": PollFailed,
	"BOOT_FAIL":     PollFailed,
	"DEADLINE":      PollFailed,
	"PREEMPTED":     PollFailed,
	"REVOKED":       PollFailed,
}

func (e *SlurmExecutor) Cancel(ctx context.Context, job *domain.Job) (bool, error) {
	if !job.Handle.IsValid() {
		return false, errors.Errorf("job %s has no cluster handle", job.Id)
	}
	if _, err := e.run(ctx, e.config.Scancel, job.Handle.String()); err != nil {
		return false, err
	}
	return true, nil
}
