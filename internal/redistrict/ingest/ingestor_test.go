package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giants/redistrict/internal/common/redistricterrors"
	"github.com/giants/redistrict/internal/redistrict/domain"
	"github.com/giants/redistrict/internal/redistrict/plans"
)

func testJob() *domain.Job {
	return domain.NewJob("01gh5b7k1xq4dfzj4q9ghn0p1c", domain.JobConfig{
		State:                     "MD",
		Compactness:               2,
		PopulationDifferenceLimit: 0.1,
		Ethnicities:               []domain.Ethnicity{domain.Hispanic, domain.Black},
		MapCount:                  3,
	}, domain.ClusterBackend, domain.JobRunning, 77, time.Now())
}

func district(number int, population int64, black int64, hispanic int64, counties ...string) plans.District {
	return plans.District{
		Number:       number,
		Population:   population,
		Demographics: map[domain.Ethnicity]int64{domain.Black: black, domain.Hispanic: hispanic},
		Counties:     counties,
		GeoJson:      json.RawMessage(fmt.Sprintf(`{"n":%d}`, number)),
	}
}

func testPlanSet(jobId string) *plans.PlanSet {
	return &plans.PlanSet{
		JobId: jobId,
		State: "MD",
		Plans: []plans.Plan{
			{
				MaxPopulationDifference: 0.05,
				OverallCompactness:      0.5,
				Districts: []plans.District{
					district(2, 100, 10, 40, "Kent", "Talbot"),
					district(1, 100, 50, 10, "Kent"),
				},
			},
			{
				MaxPopulationDifference: 0.01,
				OverallCompactness:      0.2,
				Districts: []plans.District{
					district(1, 100, 20, 20, "Howard"),
					district(2, 100, 30, 30, "Kent", "Kent"),
				},
			},
			{
				MaxPopulationDifference: 0.09,
				OverallCompactness:      0.9,
				Districts: []plans.District{
					district(1, 200, 20, 100, "Talbot"),
					district(2, 0, 0, 0, "Howard"),
				},
			},
		},
	}
}

func writePlans(t *testing.T, planSet *plans.PlanSet) string {
	dir := filepath.Join(t.TempDir(), "output")
	require.NoError(t, plans.Write(dir, planSet))
	return dir
}

func TestIngest(t *testing.T) {
	job := testJob()
	dir := writePlans(t, testPlanSet(job.Id))

	results, err := NewIngestor().Ingest(context.Background(), job, dir)
	require.NoError(t, err)

	assert.Equal(t, 3, results.PlanCount)

	// Sort keys are 0.21, 0.55 and 0.99.
	assert.Equal(t, 0.05, results.Average.MaxPopulationDifference)
	assert.Equal(t, 0.09, results.Extreme.MaxPopulationDifference)
	assert.Equal(t, job.Id, results.Average.JobId)
	assert.NotEqual(t, results.Average.Id, results.Extreme.Id)

	require.Len(t, results.Average.Districts, 2)
	assert.Equal(t, 1, results.Average.Districts[0].Number)
	assert.Equal(t, 2, results.Average.Districts[1].Number)
	assert.Equal(t, results.Average.Id, results.Average.Districts[0].StateId)
	assert.Equal(t, `{"n":1}`, results.Average.Districts[0].GeoJson)
	assert.Equal(t, []string{"Kent", "Talbot"}, results.Average.Districts[1].Counties)

	assert.Equal(t, []domain.CountyCount{
		{County: "Howard", Occurrences: 2},
		{County: "Kent", Occurrences: 3},
		{County: "Talbot", Occurrences: 2},
	}, results.CountyCounts)
}

func TestIngest_BoxWhiskers(t *testing.T) {
	job := testJob()
	dir := writePlans(t, testPlanSet(job.Id))

	results, err := NewIngestor().Ingest(context.Background(), job, dir)
	require.NoError(t, err)

	// Black shares per plan, ascending: [0.1 0.5], [0.2 0.3], [0 0.1].
	// Hispanic shares per plan, ascending: [0.1 0.4], [0.2 0.3], [0 0.5].
	expected := []domain.BoxWhisker{
		{Ethnicity: domain.Black, DistrictRank: 1, Minimum: 0, LowerQuartile: 0.05, Median: 0.1, UpperQuartile: 0.15, Maximum: 0.2},
		{Ethnicity: domain.Black, DistrictRank: 2, Minimum: 0.1, LowerQuartile: 0.2, Median: 0.3, UpperQuartile: 0.4, Maximum: 0.5},
		{Ethnicity: domain.Hispanic, DistrictRank: 1, Minimum: 0, LowerQuartile: 0.05, Median: 0.1, UpperQuartile: 0.15, Maximum: 0.2},
		{Ethnicity: domain.Hispanic, DistrictRank: 2, Minimum: 0.3, LowerQuartile: 0.35, Median: 0.4, UpperQuartile: 0.45, Maximum: 0.5},
	}
	require.Len(t, results.BoxWhiskers, len(expected))
	for i, e := range expected {
		actual := results.BoxWhiskers[i]
		assert.Equal(t, e.Ethnicity, actual.Ethnicity)
		assert.Equal(t, e.DistrictRank, actual.DistrictRank)
		assert.InDelta(t, e.Minimum, actual.Minimum, 1e-9)
		assert.InDelta(t, e.LowerQuartile, actual.LowerQuartile, 1e-9)
		assert.InDelta(t, e.Median, actual.Median, 1e-9)
		assert.InDelta(t, e.UpperQuartile, actual.UpperQuartile, 1e-9)
		assert.InDelta(t, e.Maximum, actual.Maximum, 1e-9)
	}
}

func TestIngest_Document(t *testing.T) {
	job := testJob()
	dir := writePlans(t, testPlanSet(job.Id))

	results, err := NewIngestor().Ingest(context.Background(), job, dir)
	require.NoError(t, err)

	doc, err := ParseDocument(results.ResultDocument)
	require.NoError(t, err)
	assert.Equal(t, job.Id, doc.JobId)
	assert.Equal(t, domain.StateAbbreviation("MD"), doc.State)
	assert.Equal(t, []domain.Ethnicity{domain.Black, domain.Hispanic}, doc.Ethnicities)
	assert.Equal(t, 3, doc.PlanCount)
	assert.Equal(t, results.Average.Id, doc.Average.Id)
	assert.Equal(t, results.Extreme.Id, doc.Extreme.Id)
	assert.InDelta(t, 0.99, doc.Extreme.SortKey, 1e-9)
	assert.Equal(t, 2, doc.Average.Districts)
	assert.Len(t, doc.CountyCounts, 3)
	assert.Len(t, doc.BoxWhiskers, 4)

	again, err := NewDocument(job, results).Marshal()
	require.NoError(t, err)
	assert.Equal(t, results.ResultDocument, again)
}

func TestIngest_SinglePlan(t *testing.T) {
	job := testJob()
	planSet := testPlanSet(job.Id)
	planSet.Plans = planSet.Plans[:1]
	dir := writePlans(t, planSet)

	results, err := NewIngestor().Ingest(context.Background(), job, dir)
	require.NoError(t, err)
	assert.Same(t, results.Average, results.Extreme)
	assert.Len(t, results.Average.Districts, 2)
}

func TestIngest_SyntheticPlans(t *testing.T) {
	job := testJob()
	job.MapCount = 25
	dir := writePlans(t, plans.Synthesize(job))

	results, err := NewIngestor().Ingest(context.Background(), job, dir)
	require.NoError(t, err)
	assert.Equal(t, 25, results.PlanCount)
	assert.LessOrEqual(t, results.Average.SortKey(), results.Extreme.SortKey())
	assert.NotEmpty(t, results.CountyCounts)
	for _, b := range results.BoxWhiskers {
		assert.LessOrEqual(t, b.Minimum, b.LowerQuartile)
		assert.LessOrEqual(t, b.LowerQuartile, b.Median)
		assert.LessOrEqual(t, b.Median, b.UpperQuartile)
		assert.LessOrEqual(t, b.UpperQuartile, b.Maximum)
	}
}

func TestIngest_Failures(t *testing.T) {
	job := testJob()
	tests := map[string]func(t *testing.T) string{
		"no output location": func(t *testing.T) string { return "" },
		"missing plan set":   func(t *testing.T) string { return t.TempDir() },
		"malformed plan set": func(t *testing.T) string {
			dir := t.TempDir()
			require.NoError(t, os.WriteFile(filepath.Join(dir, plans.FileName), []byte("{"), 0o644))
			return dir
		},
		"no plans": func(t *testing.T) string {
			return writePlans(t, &plans.PlanSet{JobId: job.Id})
		},
		"plan without districts": func(t *testing.T) string {
			return writePlans(t, &plans.PlanSet{JobId: job.Id, Plans: []plans.Plan{{OverallCompactness: 1}}})
		},
		"plans of another job": func(t *testing.T) string {
			return writePlans(t, testPlanSet("01gh5b7k1xq4dfzj4q9ghn0zzz"))
		},
	}
	for name, setup := range tests {
		t.Run(name, func(t *testing.T) {
			results, err := NewIngestor().Ingest(context.Background(), job, setup(t))
			assert.Nil(t, results)
			var ingestionErr *redistricterrors.ErrIngestion
			require.True(t, errors.As(err, &ingestionErr))
			assert.Equal(t, job.Id, ingestionErr.JobId)
		})
	}
}

func TestIngest_CancelledContext(t *testing.T) {
	job := testJob()
	dir := writePlans(t, testPlanSet(job.Id))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewIngestor().Ingest(ctx, job, dir)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestQuantile(t *testing.T) {
	assert.Equal(t, 3.0, quantile([]float64{3}, 0.75))
	assert.Equal(t, 2.5, quantile([]float64{1, 2, 3, 4}, 0.5))
	assert.Equal(t, 1.75, quantile([]float64{1, 2, 3, 4}, 0.25))
}
