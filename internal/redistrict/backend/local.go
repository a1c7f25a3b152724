package backend

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/giants/redistrict/internal/common/redistricterrors"
	"github.com/giants/redistrict/internal/redistrict/domain"
	"github.com/giants/redistrict/internal/redistrict/plans"
)

// Marker files recording the outcome of a local run.
const (
	completedMarker = "_COMPLETED"
	failedMarker    = "_FAILED"
	cancelledMarker = "_CANCELLED"
)

// LocalExecutor runs the generator in-process, each job writing to its own directory under workDir.
type LocalExecutor struct {
	workDir   string
	generator Generator
}

func NewLocalExecutor(workDir string, generator Generator) *LocalExecutor {
	return &LocalExecutor{workDir: workDir, generator: generator}
}

func (e *LocalExecutor) Kind() domain.BackendKind {
	return domain.LocalBackend
}

func (e *LocalExecutor) OutputDir(job *domain.Job) string {
	return filepath.Join(e.workDir, job.Id)
}

// Launch runs the generator to completion. On failure the partial output is removed and an ErrExecution returned.
func (e *LocalExecutor) Launch(ctx context.Context, job *domain.Job) (domain.Handle, error) {
	dir := e.OutputDir(job)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return domain.NoHandle, &redistricterrors.ErrExecution{JobId: job.Id, Cause: errors.WithStack(err)}
	}
	if err := e.generator.Generate(ctx, job, dir); err != nil {
		if removeErr := os.RemoveAll(dir); removeErr != nil {
			log.WithError(removeErr).WithField("jobId", job.Id).Warn("failed to remove output of failed local run")
		}
		return domain.NoHandle, &redistricterrors.ErrExecution{JobId: job.Id, Cause: err}
	}
	if err := writeMarker(dir, completedMarker, ""); err != nil {
		return domain.NoHandle, &redistricterrors.ErrExecution{JobId: job.Id, Cause: err}
	}
	return domain.NoHandle, nil
}

func (e *LocalExecutor) Poll(_ context.Context, job *domain.Job) (PollResult, error) {
	dir := e.OutputDir(job)
	if exists(filepath.Join(dir, cancelledMarker)) {
		return PollResult{Status: PollCancelled}, nil
	}
	if exists(filepath.Join(dir, failedMarker)) {
		reason, _ := os.ReadFile(filepath.Join(dir, failedMarker))
		return PollResult{Status: PollFailed, Message: string(reason)}, nil
	}
	if exists(filepath.Join(dir, completedMarker)) {
		return PollResult{Status: PollCompleted, OutputToken: dir}, nil
	}
	if exists(dir) {
		return PollResult{Status: PollRunning}, nil
	}
	return PollResult{Status: PollFailed, Message: "output directory " + dir + " is missing"}, nil
}

// Cancel discards the job's plan set and records the cancellation. Local runs have already finished by the time
// they can be cancelled, so the request is always acknowledged.
func (e *LocalExecutor) Cancel(_ context.Context, job *domain.Job) (bool, error) {
	dir := e.OutputDir(job)
	if err := os.RemoveAll(filepath.Join(dir, plans.FileName)); err != nil {
		return false, errors.WithStack(err)
	}
	if err := writeMarker(dir, cancelledMarker, ""); err != nil {
		return false, err
	}
	return true, nil
}

func writeMarker(dir string, name string, contents string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(os.WriteFile(filepath.Join(dir, name), []byte(contents), 0o644))
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
