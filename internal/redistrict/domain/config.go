package domain

import (
	"strings"

	"github.com/giants/redistrict/internal/common/redistricterrors"
)

type Ethnicity string

const (
	White           Ethnicity = "WHITE"
	Black           Ethnicity = "BLACK"
	Hispanic        Ethnicity = "HISPANIC"
	Asian           Ethnicity = "ASIAN"
	NativeAmerican  Ethnicity = "NATIVE_AMERICAN"
	PacificIslander Ethnicity = "PACIFIC_ISLANDER"
)

// AllEthnicities is also the canonical order ethnicities are stored and reported in.
var AllEthnicities = []Ethnicity{White, Black, Hispanic, Asian, NativeAmerican, PacificIslander}

func ParseEthnicity(s string) (Ethnicity, bool) {
	e := Ethnicity(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range AllEthnicities {
		if e == known {
			return e, true
		}
	}
	return "", false
}

type StateAbbreviation string

var stateAbbreviations = map[StateAbbreviation]bool{}

func init() {
	for _, s := range strings.Fields(`AL AK AZ AR CA CO CT DE FL GA HI ID IL IN IA KS KY LA ME MD
		MA MI MN MS MO MT NE NV NH NJ NM NY NC ND OH OK OR PA RI SC SD TN TX UT VT VA WA WV WI WY`) {
		stateAbbreviations[StateAbbreviation(s)] = true
	}
}

func ParseStateAbbreviation(s string) (StateAbbreviation, bool) {
	abbreviation := StateAbbreviation(strings.ToUpper(strings.TrimSpace(s)))
	return abbreviation, stateAbbreviations[abbreviation]
}

// JobConfig is the client's request for a redistricting job.
type JobConfig struct {
	State                     StateAbbreviation
	Compactness               int
	PopulationDifferenceLimit float64
	Ethnicities               []Ethnicity
	MapCount                  int
}

// Validate checks every field and returns a normalised copy: the state is upper-cased and
// ethnicities are de-duplicated into canonical order.
func (c JobConfig) Validate() (JobConfig, error) {
	state, ok := ParseStateAbbreviation(string(c.State))
	if !ok {
		return JobConfig{}, &redistricterrors.ErrValidation{Name: "state", Value: c.State, Message: "not a US state abbreviation"}
	}
	if c.Compactness <= 0 {
		return JobConfig{}, &redistricterrors.ErrValidation{Name: "compactness", Value: c.Compactness, Message: "must be positive"}
	}
	if !(c.PopulationDifferenceLimit > 0 && c.PopulationDifferenceLimit <= 1) {
		return JobConfig{}, &redistricterrors.ErrValidation{
			Name:    "populationDifferenceLimit",
			Value:   c.PopulationDifferenceLimit,
			Message: "must be a fraction in (0, 1]",
		}
	}
	if len(c.Ethnicities) == 0 {
		return JobConfig{}, &redistricterrors.ErrValidation{Name: "ethnicities", Value: c.Ethnicities, Message: "at least one is required"}
	}
	requested := make(map[Ethnicity]bool, len(c.Ethnicities))
	for _, e := range c.Ethnicities {
		parsed, ok := ParseEthnicity(string(e))
		if !ok {
			return JobConfig{}, &redistricterrors.ErrValidation{Name: "ethnicities", Value: e, Message: "unknown ethnicity"}
		}
		requested[parsed] = true
	}
	if c.MapCount <= 0 {
		return JobConfig{}, &redistricterrors.ErrValidation{Name: "mapCount", Value: c.MapCount, Message: "must be positive"}
	}

	ethnicities := make([]Ethnicity, 0, len(requested))
	for _, e := range AllEthnicities {
		if requested[e] {
			ethnicities = append(ethnicities, e)
		}
	}
	return JobConfig{
		State:                     state,
		Compactness:               c.Compactness,
		PopulationDifferenceLimit: c.PopulationDifferenceLimit,
		Ethnicities:               ethnicities,
		MapCount:                  c.MapCount,
	}, nil
}
