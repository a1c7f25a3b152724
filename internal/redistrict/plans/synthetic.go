package plans

import (
	"fmt"
	"hash/fnv"
	"math/rand"

	"github.com/giants/redistrict/internal/redistrict/domain"
)

const (
	minDistricts      = 4
	maxExtraDistricts = 5
	countiesPerState  = 12
)

// Synthesize builds a deterministic plan set for job. It stands in for the real generator in development and tests.
func Synthesize(job *domain.Job) *PlanSet {
	h := fnv.New64a()
	_, _ = h.Write([]byte(job.Id))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))

	districtCount := minDistricts + rng.Intn(maxExtraDistricts)
	planSet := &PlanSet{JobId: job.Id, State: job.State, Plans: make([]Plan, 0, job.MapCount)}
	for i := 0; i < job.MapCount; i++ {
		plan := Plan{
			MaxPopulationDifference: rng.Float64() * job.PopulationDifferenceLimit,
			OverallCompactness:      rng.Float64() * float64(job.Compactness),
			Districts:               make([]District, 0, districtCount),
		}
		for n := 1; n <= districtCount; n++ {
			plan.Districts = append(plan.Districts, synthesizeDistrict(rng, job.State, n))
		}
		planSet.Plans = append(planSet.Plans, plan)
	}
	return planSet
}

func synthesizeDistrict(rng *rand.Rand, state domain.StateAbbreviation, number int) District {
	population := int64(500_000 + rng.Intn(250_000))
	demographics := make(map[domain.Ethnicity]int64, len(domain.AllEthnicities))
	remaining := population
	for i, e := range domain.AllEthnicities {
		if i == len(domain.AllEthnicities)-1 {
			demographics[e] = remaining
			break
		}
		n := rng.Int63n(remaining/2 + 1)
		demographics[e] = n
		remaining -= n
	}

	countyCount := 1 + rng.Intn(3)
	counties := make([]string, 0, countyCount)
	seen := map[string]bool{}
	for len(counties) < countyCount {
		c := fmt.Sprintf("%s County %d", state, 1+rng.Intn(countiesPerState))
		if !seen[c] {
			seen[c] = true
			counties = append(counties, c)
		}
	}

	geoJson := fmt.Sprintf(`{"type":"Feature","properties":{"state":%q,"district":%d},"geometry":null}`, state, number)
	return District{
		Number:       number,
		Population:   population,
		Demographics: demographics,
		Counties:     counties,
		GeoJson:      []byte(geoJson),
	}
}
