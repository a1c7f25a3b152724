// Package redistrictctl implements the redistrict command line operations on top of a job service.
package redistrictctl

import (
	"context"
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/giants/redistrict/internal/redistrict/domain"
	"github.com/giants/redistrict/internal/redistrict/service"
)

// Client is the part of service.Service the command line uses.
type Client interface {
	CreateJob(
		ctx context.Context,
		state string,
		compactness int,
		populationDifferenceLimit float64,
		ethnicities []string,
		mapCount int,
	) (*domain.Job, error)
	CancelJob(ctx context.Context, id string) (bool, error)
	DeleteJob(ctx context.Context, id string) (bool, error)
	ListJobs(ctx context.Context) ([]*domain.Job, error)
	GetJob(ctx context.Context, id string) (*domain.Job, error)
	GetJobResults(ctx context.Context, id string) (*service.JobResults, error)
	GetDistrictingGeography(ctx context.Context, stateId string) (string, error)
	Reconcile(ctx context.Context) ([]*domain.Job, error)
}

// App is the redistrict cli. Each command connects through Params.Connect and writes its report to Out.
type App struct {
	// Parameters passed to the CLI by the user.
	Params *Params
	// Out is where the output of the CLI is written.
	Out io.Writer
}

// Params struct holds all user-customizable parameters.
// Using a single struct for all CLI commands ensures that all flags are distinct
// and that they can be provided either dynamically on a command line, or
// statically in a config file that's reused between command runs.
type Params struct {
	// Connect opens the job service. The returned function releases it.
	Connect func(ctx context.Context) (Client, func(), error)
}

// New instantiates an App with default parameters, including standard output.
func New() *App {
	return &App{
		Params: &Params{},
		Out:    os.Stdout,
	}
}

func (a *App) withClient(ctx context.Context, action func(Client) error) error {
	if a.Params.Connect == nil {
		return errors.New("no job service configured")
	}
	client, release, err := a.Params.Connect(ctx)
	if err != nil {
		return err
	}
	defer release()
	return action(client)
}
