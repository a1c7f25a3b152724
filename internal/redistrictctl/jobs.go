package redistrictctl

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/giants/redistrict/internal/common/redistricterrors"
	"github.com/giants/redistrict/internal/common/util"
	"github.com/giants/redistrict/internal/redistrict/domain"
)

// SubmitParams are the parameters of a new job, as given on the command line.
type SubmitParams struct {
	State                     string
	Compactness               int
	PopulationDifferenceLimit float64
	Ethnicities               []string
	MapCount                  int
}

func (a *App) Submit(ctx context.Context, params SubmitParams) error {
	return a.withClient(ctx, func(c Client) error {
		job, err := c.CreateJob(
			ctx,
			params.State,
			params.Compactness,
			params.PopulationDifferenceLimit,
			params.Ethnicities,
			params.MapCount,
		)
		if err != nil {
			return errors.WithMessage(err, "error submitting job")
		}
		fmt.Fprintf(a.Out, "Submitted job %s to the %s backend; status %s\n", job.Id, job.Backend, job.Status)
		return nil
	})
}

func (a *App) Cancel(ctx context.Context, jobId string) error {
	if err := validateId("jobId", jobId); err != nil {
		return err
	}
	return a.withClient(ctx, func(c Client) error {
		cancelled, err := c.CancelJob(ctx, jobId)
		if err != nil {
			return errors.WithMessagef(err, "error cancelling job %s", jobId)
		}
		if !cancelled {
			fmt.Fprintf(a.Out, "Job %s does not exist or has already finished\n", jobId)
			return nil
		}
		fmt.Fprintf(a.Out, "Requested cancellation of job %s\n", jobId)
		return nil
	})
}

func (a *App) Delete(ctx context.Context, jobId string) error {
	if err := validateId("jobId", jobId); err != nil {
		return err
	}
	return a.withClient(ctx, func(c Client) error {
		deleted, err := c.DeleteJob(ctx, jobId)
		if err != nil {
			return errors.WithMessagef(err, "error deleting job %s", jobId)
		}
		if !deleted {
			fmt.Fprintf(a.Out, "Job %s does not exist\n", jobId)
			return nil
		}
		fmt.Fprintf(a.Out, "Deleted job %s\n", jobId)
		return nil
	})
}

// List prints every job, most recently created first.
func (a *App) List(ctx context.Context) error {
	return a.withClient(ctx, func(c Client) error {
		jobs, err := c.ListJobs(ctx)
		if err != nil {
			return errors.WithMessage(err, "error listing jobs")
		}
		if len(jobs) == 0 {
			fmt.Fprintln(a.Out, "No jobs")
			return nil
		}
		fmt.Fprint(a.Out, jobTable(jobs))
		return nil
	})
}

func (a *App) Get(ctx context.Context, jobId string) error {
	if err := validateId("jobId", jobId); err != nil {
		return err
	}
	return a.withClient(ctx, func(c Client) error {
		job, err := c.GetJob(ctx, jobId)
		if err != nil {
			return errors.WithMessagef(err, "error getting job %s", jobId)
		}
		w := util.NewTabbedStringBuilder(1, 1, 1, ' ', 0)
		w.Writef("Id:\t%s\n", job.Id)
		w.Writef("State:\t%s\n", job.State)
		w.Writef("Status:\t%s\n", job.Status)
		w.Writef("Backend:\t%s\n", job.Backend)
		w.Writef("Handle:\t%s\n", job.Handle)
		w.Writef("Maps:\t%d\n", job.MapCount)
		w.Writef("Compactness:\t%d\n", job.Compactness)
		w.Writef("Population difference limit:\t%g\n", job.PopulationDifferenceLimit)
		w.Writef("Ethnicities:\t%s\n", ethnicities(job.Ethnicities))
		if job.CancelRequested() {
			w.Writef("Cancel requested:\t%s\n", formatTime(*job.CancelRequestedAt))
		}
		if job.FailureReason != "" {
			w.Writef("Failure reason:\t%s\n", job.FailureReason)
		}
		if job.AverageStateId != "" {
			w.Writef("Average state:\t%s\n", job.AverageStateId)
			w.Writef("Extreme state:\t%s\n", job.ExtremeStateId)
		}
		w.Writef("Created:\t%s\n", formatTime(job.CreatedAt))
		w.Writef("Updated:\t%s\n", formatTime(job.UpdatedAt))
		fmt.Fprint(a.Out, w.String())
		return nil
	})
}

// Reconcile runs a single reconciliation cycle and prints the jobs it moved.
func (a *App) Reconcile(ctx context.Context) error {
	return a.withClient(ctx, func(c Client) error {
		changed, err := c.Reconcile(ctx)
		if len(changed) > 0 {
			fmt.Fprint(a.Out, jobTable(changed))
		} else {
			fmt.Fprintln(a.Out, "No jobs changed status")
		}
		if err != nil {
			return errors.WithMessage(err, "some jobs could not be reconciled")
		}
		return nil
	})
}

// validateId rejects ids that cannot have been issued by the service, before connecting to the store.
func validateId(name string, id string) error {
	if !util.IsULID(id) {
		return &redistricterrors.ErrValidation{Name: name, Value: id, Message: "not a valid id"}
	}
	return nil
}

func jobTable(jobs []*domain.Job) string {
	w := util.NewTabbedStringBuilder(1, 1, 2, ' ', 0)
	w.Row("ID", "STATE", "STATUS", "BACKEND", "HANDLE", "MAPS", "CREATED")
	for _, job := range jobs {
		w.Row(job.Id, job.State, job.Status, job.Backend, job.Handle, job.MapCount, formatTime(job.CreatedAt))
	}
	return w.String()
}

func ethnicities(es []domain.Ethnicity) string {
	names := make([]string, len(es))
	for i, e := range es {
		names[i] = string(e)
	}
	return strings.Join(names, ", ")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
