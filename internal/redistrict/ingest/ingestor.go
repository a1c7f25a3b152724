// Package ingest turns the plan set a finished job left behind into the results stored with the job.
package ingest

import (
	"context"
	"encoding/json"
	"math"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/giants/redistrict/internal/common/redistricterrors"
	"github.com/giants/redistrict/internal/common/util"
	"github.com/giants/redistrict/internal/redistrict/domain"
	"github.com/giants/redistrict/internal/redistrict/plans"
)

// Ingestor reads plan sets from the filesystem. It never writes to the job store.
type Ingestor struct{}

func NewIngestor() *Ingestor {
	return &Ingestor{}
}

// Ingest reads the plan set in the directory named by outputToken and derives the job's results: the average
// and extreme states with their districts, county counts, box whiskers and the result document.
func (i *Ingestor) Ingest(ctx context.Context, job *domain.Job, outputToken string) (*domain.JobResults, error) {
	results, err := i.ingest(ctx, job, outputToken)
	if err != nil {
		return nil, errors.WithStack(&redistricterrors.ErrIngestion{JobId: job.Id, Cause: err})
	}
	log.WithField("jobId", job.Id).
		WithField("plans", results.PlanCount).
		Debugf("ingested results from %s", outputToken)
	return results, nil
}

func (i *Ingestor) ingest(ctx context.Context, job *domain.Job, outputToken string) (*domain.JobResults, error) {
	if outputToken == "" {
		return nil, errors.New("backend reported no output location")
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.WithStack(err)
	}
	planSet, err := plans.Read(outputToken)
	if err != nil {
		return nil, err
	}
	if planSet.JobId != "" && planSet.JobId != job.Id {
		return nil, errors.Errorf("plan set in %s belongs to job %s", outputToken, planSet.JobId)
	}
	if len(planSet.Plans) == 0 {
		return nil, errors.Errorf("plan set in %s contains no plans", outputToken)
	}

	states := make([]*domain.State, len(planSet.Plans))
	planByState := make(map[string]*plans.Plan, len(planSet.Plans))
	for n := range planSet.Plans {
		plan := &planSet.Plans[n]
		if len(plan.Districts) == 0 {
			return nil, errors.Errorf("plan %d has no districts", n)
		}
		states[n] = &domain.State{
			Id:                      util.NewULID(),
			JobId:                   job.Id,
			MaxPopulationDifference: plan.MaxPopulationDifference,
			OverallCompactness:      plan.OverallCompactness,
		}
		planByState[states[n].Id] = plan
	}
	domain.SortStates(states)
	average := states[(len(states)-1)/2]
	extreme := states[len(states)-1]
	for _, s := range []*domain.State{average, extreme} {
		if s.Districts == nil {
			s.Districts = toDistricts(s.Id, planByState[s.Id].Districts)
		}
	}

	results := &domain.JobResults{
		PlanCount:    len(planSet.Plans),
		Average:      average,
		Extreme:      extreme,
		CountyCounts: countyCounts(planSet.Plans),
		BoxWhiskers:  boxWhiskers(planSet.Plans, job.Ethnicities),
	}
	results.ResultDocument, err = NewDocument(job, results).Marshal()
	if err != nil {
		return nil, err
	}
	return results, nil
}

func toDistricts(stateId string, planDistricts []plans.District) []*domain.District {
	districts := make([]*domain.District, len(planDistricts))
	for n, d := range planDistricts {
		districts[n] = &domain.District{
			Id:           util.NewULID(),
			StateId:      stateId,
			Number:       d.Number,
			Population:   d.Population,
			Demographics: maps.Clone(d.Demographics),
			Counties:     append([]string(nil), d.Counties...),
			GeoJson:      string(d.GeoJson),
		}
	}
	slices.SortStableFunc(districts, func(a, b *domain.District) bool { return a.Number < b.Number })
	return districts
}

// countyCounts counts, for every county, the districts across all plans that touch it.
func countyCounts(planList []plans.Plan) []domain.CountyCount {
	occurrences := map[string]int{}
	for _, plan := range planList {
		for _, d := range plan.Districts {
			seen := map[string]bool{}
			for _, county := range d.Counties {
				if county == "" || seen[county] {
					continue
				}
				seen[county] = true
				occurrences[county]++
			}
		}
	}
	counties := maps.Keys(occurrences)
	slices.Sort(counties)
	counts := make([]domain.CountyCount, len(counties))
	for n, county := range counties {
		counts[n] = domain.CountyCount{County: county, Occurrences: occurrences[county]}
	}
	return counts
}

// boxWhiskers ranks the districts of every plan by an ethnicity's population share and summarises each rank
// across the plan set. Plans with fewer districts only contribute to the ranks they have.
func boxWhiskers(planList []plans.Plan, ethnicities []domain.Ethnicity) []domain.BoxWhisker {
	sorted := append([]domain.Ethnicity(nil), ethnicities...)
	slices.Sort(sorted)

	var result []domain.BoxWhisker
	for _, e := range sorted {
		var byRank [][]float64
		for _, plan := range planList {
			shares := make([]float64, len(plan.Districts))
			for n, d := range plan.Districts {
				shares[n] = share(d, e)
			}
			slices.Sort(shares)
			for rank, s := range shares {
				if rank == len(byRank) {
					byRank = append(byRank, nil)
				}
				byRank[rank] = append(byRank[rank], s)
			}
		}
		for rank, values := range byRank {
			result = append(result, summarise(e, rank+1, values))
		}
	}
	return result
}

func share(d plans.District, e domain.Ethnicity) float64 {
	if d.Population <= 0 {
		return 0
	}
	return float64(d.Demographics[e]) / float64(d.Population)
}

func summarise(e domain.Ethnicity, rank int, values []float64) domain.BoxWhisker {
	slices.Sort(values)
	return domain.BoxWhisker{
		Ethnicity:     e,
		DistrictRank:  rank,
		Minimum:       values[0],
		LowerQuartile: quantile(values, 0.25),
		Median:        quantile(values, 0.5),
		UpperQuartile: quantile(values, 0.75),
		Maximum:       values[len(values)-1],
	}
}

// quantile interpolates linearly between the closest ranks of sorted.
func quantile(sorted []float64, p float64) float64 {
	pos := p * float64(len(sorted)-1)
	lower := int(math.Floor(pos))
	upper := int(math.Ceil(pos))
	if lower == upper {
		return sorted[lower]
	}
	return sorted[lower] + (pos-float64(lower))*(sorted[upper]-sorted[lower])
}

// Document is the canonical summary of a completed job.
type Document struct {
	JobId                     string                   `json:"jobId"`
	State                     domain.StateAbbreviation `json:"state"`
	Compactness               int                      `json:"compactness"`
	PopulationDifferenceLimit float64                  `json:"populationDifferenceLimit"`
	Ethnicities               []domain.Ethnicity       `json:"ethnicities"`
	MapCount                  int                      `json:"mapCount"`
	PlanCount                 int                      `json:"planCount"`
	Average                   StateSummary             `json:"average"`
	Extreme                   StateSummary             `json:"extreme"`
	CountyCounts              []CountyCount            `json:"countyCounts"`
	BoxWhiskers               []BoxWhisker             `json:"boxWhiskers"`
}

type StateSummary struct {
	Id                      string  `json:"id"`
	MaxPopulationDifference float64 `json:"maxPopulationDifference"`
	OverallCompactness      float64 `json:"overallCompactness"`
	SortKey                 float64 `json:"sortKey"`
	Districts               int     `json:"districts"`
}

type CountyCount struct {
	County      string `json:"county"`
	Occurrences int    `json:"occurrences"`
}

type BoxWhisker struct {
	Ethnicity     domain.Ethnicity `json:"ethnicity"`
	DistrictRank  int              `json:"districtRank"`
	Minimum       float64          `json:"minimum"`
	LowerQuartile float64          `json:"lowerQuartile"`
	Median        float64          `json:"median"`
	UpperQuartile float64          `json:"upperQuartile"`
	Maximum       float64          `json:"maximum"`
}

func NewDocument(job *domain.Job, results *domain.JobResults) *Document {
	ethnicities := append([]domain.Ethnicity(nil), job.Ethnicities...)
	slices.Sort(ethnicities)
	doc := &Document{
		JobId:                     job.Id,
		State:                     job.State,
		Compactness:               job.Compactness,
		PopulationDifferenceLimit: job.PopulationDifferenceLimit,
		Ethnicities:               ethnicities,
		MapCount:                  job.MapCount,
		PlanCount:                 results.PlanCount,
		Average:                   summariseState(results.Average),
		Extreme:                   summariseState(results.Extreme),
		CountyCounts:              make([]CountyCount, len(results.CountyCounts)),
		BoxWhiskers:               make([]BoxWhisker, len(results.BoxWhiskers)),
	}
	for n, c := range results.CountyCounts {
		doc.CountyCounts[n] = CountyCount(c)
	}
	for n, b := range results.BoxWhiskers {
		doc.BoxWhiskers[n] = BoxWhisker(b)
	}
	return doc
}

func summariseState(s *domain.State) StateSummary {
	return StateSummary{
		Id:                      s.Id,
		MaxPopulationDifference: s.MaxPopulationDifference,
		OverallCompactness:      s.OverallCompactness,
		SortKey:                 s.SortKey(),
		Districts:               len(s.Districts),
	}
}

func (d *Document) Marshal() (string, error) {
	contents, err := json.Marshal(d)
	if err != nil {
		return "", errors.WithStack(err)
	}
	return string(contents), nil
}

// ParseDocument reads a document produced by Marshal.
func ParseDocument(s string) (*Document, error) {
	doc := &Document{}
	if err := json.Unmarshal([]byte(s), doc); err != nil {
		return nil, errors.WithStack(err)
	}
	return doc, nil
}
