package domain

import (
	"strings"

	"golang.org/x/exp/slices"
)

// State is one candidate districting solution for a job. It is unrelated to a US state.
type State struct {
	Id                      string
	JobId                   string
	MaxPopulationDifference float64
	OverallCompactness      float64
	Districts               []*District
}

// SortKey mixes a population fraction with a compactness score. The two are not normalised against each other.
func (s *State) SortKey() float64 {
	return s.MaxPopulationDifference + s.OverallCompactness
}

// Less orders states by ascending sort key, then by id.
func (s *State) Less(other *State) bool {
	if s.SortKey() != other.SortKey() {
		return s.SortKey() < other.SortKey()
	}
	return s.Id < other.Id
}

// SortStates sorts in place, best (lowest key) first.
func SortStates(states []*State) {
	slices.SortFunc(states, func(a, b *State) bool { return a.Less(b) })
}

// District is a geographic sub-unit of a State.
type District struct {
	Id           string
	StateId      string
	Number       int
	Population   int64
	Demographics map[Ethnicity]int64
	Counties     []string
	GeoJson      string
}

// Share returns the fraction of the district's population belonging to e, or 0 for an empty district.
func (d *District) Share(e Ethnicity) float64 {
	if d.Population <= 0 {
		return 0
	}
	return float64(d.Demographics[e]) / float64(d.Population)
}

// Geography concatenates the districts' geography documents in district number order.
// It returns the empty string when there are no districts.
func Geography(districts []*District) string {
	sorted := append([]*District(nil), districts...)
	slices.SortStableFunc(sorted, func(a, b *District) bool { return a.Number < b.Number })

	var sb strings.Builder
	for _, d := range sorted {
		sb.WriteString(d.GeoJson)
	}
	return sb.String()
}

// CountyCount is the number of districts across a job's plan set that touch a county.
type CountyCount struct {
	County      string
	Occurrences int
}

// BoxWhisker is the five number summary of one ethnicity's population share at one district rank,
// taken across every plan of a job. Rank 1 is the district with the lowest share.
type BoxWhisker struct {
	Ethnicity     Ethnicity
	DistrictRank  int
	Minimum       float64
	LowerQuartile float64
	Median        float64
	UpperQuartile float64
	Maximum       float64
}

// JobResults are the derived artifacts persisted together with a job's transition to COMPLETED.
type JobResults struct {
	PlanCount      int
	Average        *State
	Extreme        *State
	CountyCounts   []CountyCount
	BoxWhiskers    []BoxWhisker
	ResultDocument string
}
