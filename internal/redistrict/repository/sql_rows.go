package repository

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/pkg/errors"

	"github.com/giants/redistrict/internal/redistrict/domain"
)

const (
	jobsTable         = "jobs"
	statesTable       = "states"
	districtsTable    = "districts"
	countyCountsTable = "county_counts"
	boxWhiskersTable  = "box_whiskers"
)

type jobRow struct {
	Id                        string  `db:"id"`
	State                     string  `db:"state"`
	Compactness               int     `db:"compactness"`
	PopulationDifferenceLimit float64 `db:"population_difference_limit"`
	MapCount                  int     `db:"map_count"`
	Ethnicities               string  `db:"ethnicities"`
	Status                    string  `db:"status"`
	Backend                   string  `db:"backend"`
	Handle                    int64   `db:"handle"`
	AverageStateId            string  `db:"average_state_id"`
	ExtremeStateId            string  `db:"extreme_state_id"`
	CancelRequestedAt         int64   `db:"cancel_requested_at"`
	FailureReason             string  `db:"failure_reason"`
	ResultDocument            string  `db:"result_document"`
	CreatedAt                 int64   `db:"created_at"`
	UpdatedAt                 int64   `db:"updated_at"`
}

type stateRow struct {
	Id                      string  `db:"id"`
	JobId                   string  `db:"job_id"`
	MaxPopulationDifference float64 `db:"max_population_difference"`
	OverallCompactness      float64 `db:"overall_compactness"`
}

type districtRow struct {
	Id           string `db:"id"`
	StateId      string `db:"state_id"`
	Number       int    `db:"number"`
	Population   int64  `db:"population"`
	Demographics string `db:"demographics"`
	Counties     string `db:"counties"`
	GeoJson      string `db:"geo_json"`
}

type countyCountRow struct {
	JobId       string `db:"job_id"`
	County      string `db:"county"`
	Occurrences int    `db:"occurrences"`
}

type boxWhiskerRow struct {
	JobId         string  `db:"job_id"`
	Ethnicity     string  `db:"ethnicity"`
	DistrictRank  int     `db:"district_rank"`
	Minimum       float64 `db:"minimum"`
	LowerQuartile float64 `db:"lower_quartile"`
	Median        float64 `db:"median"`
	UpperQuartile float64 `db:"upper_quartile"`
	Maximum       float64 `db:"maximum"`
}

func toUnixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func joinEthnicities(ethnicities []domain.Ethnicity) string {
	s := make([]string, len(ethnicities))
	for i, e := range ethnicities {
		s[i] = string(e)
	}
	return strings.Join(s, ",")
}

func splitEthnicities(s string) []domain.Ethnicity {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	ethnicities := make([]domain.Ethnicity, len(parts))
	for i, p := range parts {
		ethnicities[i] = domain.Ethnicity(p)
	}
	return ethnicities
}

func jobRecord(job *domain.Job) goqu.Record {
	var cancelRequestedAt int64
	if job.CancelRequestedAt != nil {
		cancelRequestedAt = toUnixNano(*job.CancelRequestedAt)
	}
	return goqu.Record{
		"id":                          job.Id,
		"state":                       string(job.State),
		"compactness":                 job.Compactness,
		"population_difference_limit": job.PopulationDifferenceLimit,
		"map_count":                   job.MapCount,
		"ethnicities":                 joinEthnicities(job.Ethnicities),
		"status":                      string(job.Status),
		"backend":                     string(job.Backend),
		"handle":                      int64(job.Handle),
		"average_state_id":            job.AverageStateId,
		"extreme_state_id":            job.ExtremeStateId,
		"cancel_requested_at":         cancelRequestedAt,
		"failure_reason":              job.FailureReason,
		"result_document":             job.ResultDocument,
		"created_at":                  toUnixNano(job.CreatedAt),
		"updated_at":                  toUnixNano(job.UpdatedAt),
	}
}

func (r *jobRow) toJob() *domain.Job {
	job := &domain.Job{
		Id:                        r.Id,
		State:                     domain.StateAbbreviation(r.State),
		Compactness:               r.Compactness,
		PopulationDifferenceLimit: r.PopulationDifferenceLimit,
		MapCount:                  r.MapCount,
		Ethnicities:               splitEthnicities(r.Ethnicities),
		Status:                    domain.JobStatus(r.Status),
		Backend:                   domain.BackendKind(r.Backend),
		Handle:                    domain.Handle(r.Handle),
		AverageStateId:            r.AverageStateId,
		ExtremeStateId:            r.ExtremeStateId,
		FailureReason:             r.FailureReason,
		ResultDocument:            r.ResultDocument,
		CreatedAt:                 fromUnixNano(r.CreatedAt),
		UpdatedAt:                 fromUnixNano(r.UpdatedAt),
	}
	if r.CancelRequestedAt != 0 {
		t := fromUnixNano(r.CancelRequestedAt)
		job.CancelRequestedAt = &t
	}
	return job
}

func districtRecord(d *domain.District, stateId string) (goqu.Record, error) {
	demographics, err := json.Marshal(d.Demographics)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	counties, err := json.Marshal(d.Counties)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return goqu.Record{
		"id":           d.Id,
		"state_id":     stateId,
		"number":       d.Number,
		"population":   d.Population,
		"demographics": string(demographics),
		"counties":     string(counties),
		"geo_json":     d.GeoJson,
	}, nil
}

func (r *districtRow) toDistrict() (*domain.District, error) {
	d := &domain.District{
		Id:         r.Id,
		StateId:    r.StateId,
		Number:     r.Number,
		Population: r.Population,
		GeoJson:    r.GeoJson,
	}
	if err := json.Unmarshal([]byte(r.Demographics), &d.Demographics); err != nil {
		return nil, errors.Wrapf(err, "district %s demographics", r.Id)
	}
	if err := json.Unmarshal([]byte(r.Counties), &d.Counties); err != nil {
		return nil, errors.Wrapf(err, "district %s counties", r.Id)
	}
	return d, nil
}
