package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSortStates(t *testing.T) {
	states := []*State{
		{Id: "c", MaxPopulationDifference: 0.5, OverallCompactness: 2},
		{Id: "b", MaxPopulationDifference: 0.1, OverallCompactness: 0.2},
		{Id: "a", MaxPopulationDifference: 0.2, OverallCompactness: 0.1},
		{Id: "d", MaxPopulationDifference: 0.01, OverallCompactness: 0.1},
	}
	SortStates(states)

	ids := make([]string, len(states))
	for i, s := range states {
		ids[i] = s.Id
	}
	// a and b tie on key and are ordered by id; fractional differences are not truncated.
	assert.Equal(t, []string{"d", "a", "b", "c"}, ids)
}

func TestState_Less_Irreflexive(t *testing.T) {
	s := &State{Id: "a", MaxPopulationDifference: 1, OverallCompactness: 1}
	assert.False(t, s.Less(s))
}

func TestGeography(t *testing.T) {
	assert.Equal(t, "", Geography(nil))

	districts := []*District{
		{Number: 2, GeoJson: `{"d":2}`},
		{Number: 1, GeoJson: `{"d":1}`},
	}
	assert.Equal(t, `{"d":1}{"d":2}`, Geography(districts))
	assert.Equal(t, 2, districts[0].Number, "input order is untouched")
}

func TestDistrict_Share(t *testing.T) {
	d := &District{Population: 200, Demographics: map[Ethnicity]int64{Black: 50}}
	assert.Equal(t, 0.25, d.Share(Black))
	assert.Equal(t, 0.0, d.Share(Asian))
	assert.Equal(t, 0.0, (&District{}).Share(Black))
}
