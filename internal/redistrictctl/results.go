package redistrictctl

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/giants/redistrict/internal/common/util"
	"github.com/giants/redistrict/internal/redistrict/domain"
)

// Results prints the summary of a completed job followed by its county counts and box whiskers.
func (a *App) Results(ctx context.Context, jobId string) error {
	if err := validateId("jobId", jobId); err != nil {
		return err
	}
	return a.withClient(ctx, func(c Client) error {
		results, err := c.GetJobResults(ctx, jobId)
		if err != nil {
			return errors.WithMessagef(err, "error getting results of job %s", jobId)
		}

		summary := util.NewTabbedStringBuilder(1, 1, 1, ' ', 0)
		summary.Writef("Job:\t%s\n", results.Job.Id)
		summary.Writef("Plans:\t%d\n", results.PlanCount)
		summary.Writef("Average state:\t%s\n", describeState(results.Average))
		summary.Writef("Extreme state:\t%s\n", describeState(results.Extreme))
		fmt.Fprint(a.Out, summary.String())

		counties := util.NewTabbedStringBuilder(1, 1, 2, ' ', 0)
		counties.Row("COUNTY", "DISTRICTS")
		for _, count := range results.CountyCounts {
			counties.Row(count.County, count.Occurrences)
		}
		fmt.Fprintln(a.Out)
		fmt.Fprint(a.Out, counties.String())

		whiskers := util.NewTabbedStringBuilder(1, 1, 2, ' ', 0)
		whiskers.Row("ETHNICITY", "RANK", "MIN", "Q1", "MEDIAN", "Q3", "MAX")
		for _, bw := range results.BoxWhiskers {
			whiskers.Writef("%s\t%d\t%.4f\t%.4f\t%.4f\t%.4f\t%.4f\n",
				bw.Ethnicity, bw.DistrictRank, bw.Minimum, bw.LowerQuartile, bw.Median, bw.UpperQuartile, bw.Maximum)
		}
		fmt.Fprintln(a.Out)
		fmt.Fprint(a.Out, whiskers.String())
		return nil
	})
}

// Geography prints the concatenated district geography of a state.
func (a *App) Geography(ctx context.Context, stateId string) error {
	if err := validateId("stateId", stateId); err != nil {
		return err
	}
	return a.withClient(ctx, func(c Client) error {
		geography, err := c.GetDistrictingGeography(ctx, stateId)
		if err != nil {
			return errors.WithMessagef(err, "error getting geography of state %s", stateId)
		}
		if geography == "" {
			fmt.Fprintf(a.Out, "State %s has no districts\n", stateId)
			return nil
		}
		fmt.Fprintln(a.Out, geography)
		return nil
	})
}

func describeState(state *domain.State) string {
	return fmt.Sprintf(
		"%s (%d districts, max population difference %.4f, compactness %.4f)",
		state.Id, len(state.Districts), state.MaxPopulationDifference, state.OverallCompactness,
	)
}
