// Package plans reads and writes the plan set a generator run leaves in its output directory.
package plans

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/giants/redistrict/internal/redistrict/domain"
)

const FileName = "plans.json"

// PlanSet is every districting plan produced for one job.
type PlanSet struct {
	JobId string                   `json:"jobId"`
	State domain.StateAbbreviation `json:"state"`
	Plans []Plan                   `json:"plans"`
}

type Plan struct {
	MaxPopulationDifference float64    `json:"maxPopulationDifference"`
	OverallCompactness      float64    `json:"overallCompactness"`
	Districts               []District `json:"districts"`
}

type District struct {
	Number       int                        `json:"number"`
	Population   int64                      `json:"population"`
	Demographics map[domain.Ethnicity]int64 `json:"demographics"`
	Counties     []string                   `json:"counties"`
	GeoJson      json.RawMessage            `json:"geoJson"`
}

// Read loads the plan set from dir.
func Read(dir string) (*PlanSet, error) {
	path := filepath.Join(dir, FileName)
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	planSet := &PlanSet{}
	if err := json.Unmarshal(contents, planSet); err != nil {
		return nil, errors.Wrapf(err, "parsing %s", path)
	}
	return planSet, nil
}

// Write stores the plan set in dir, creating dir if needed. The file is renamed into place so readers never see
// a partial plan set.
func Write(dir string, planSet *PlanSet) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.WithStack(err)
	}
	contents, err := json.Marshal(planSet)
	if err != nil {
		return errors.WithStack(err)
	}
	tmp := filepath.Join(dir, FileName+".tmp")
	if err := os.WriteFile(tmp, contents, 0o644); err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(os.Rename(tmp, filepath.Join(dir, FileName)))
}
