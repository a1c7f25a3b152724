package backend

import (
	"context"
	"os/exec"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/giants/redistrict/internal/redistrict/domain"
	"github.com/giants/redistrict/internal/redistrict/plans"
)

// Generator runs the redistricting algorithm for job, leaving a plan set in outputDir.
type Generator interface {
	Generate(ctx context.Context, job *domain.Job, outputDir string) error
}

// CommandGenerator runs an external generator executable.
type CommandGenerator struct {
	Command string
	Args    []string
}

func (g *CommandGenerator) Generate(ctx context.Context, job *domain.Job, outputDir string) error {
	args := append(jobArguments(job), "--output", outputDir)
	args = append(args, g.Args...)
	cmd := exec.CommandContext(ctx, g.Command, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return errors.Wrapf(err, "%s: %s", g.Command, strings.TrimSpace(string(out)))
	}
	return nil
}

func jobArguments(job *domain.Job) []string {
	ethnicities := make([]string, len(job.Ethnicities))
	for i, e := range job.Ethnicities {
		ethnicities[i] = string(e)
	}
	return []string{
		"--job-id", job.Id,
		"--state", string(job.State),
		"--compactness", strconv.Itoa(job.Compactness),
		"--population-difference-limit", strconv.FormatFloat(job.PopulationDifferenceLimit, 'f', -1, 64),
		"--ethnicities", strings.Join(ethnicities, ","),
		"--map-count", strconv.Itoa(job.MapCount),
	}
}

// SyntheticGenerator writes a deterministic plan set without running any external program.
type SyntheticGenerator struct{}

func (SyntheticGenerator) Generate(ctx context.Context, job *domain.Job, outputDir string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return plans.Write(outputDir, plans.Synthesize(job))
}
