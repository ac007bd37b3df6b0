package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/econpulse/econpulse/internal/models"
)

// Catalog is the operator-supplied collection input: which keywords to search
// and which indicator series to fetch.
type Catalog struct {
	Keywords   []string           `yaml:"keywords"`
	Indicators []models.Indicator `yaml:"indicators"`
}

// LoadCatalog parses the catalog YAML at path.
func LoadCatalog(path string) (Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("read catalog: %w", err)
	}

	var catalog Catalog
	if err := yaml.Unmarshal(raw, &catalog); err != nil {
		return Catalog{}, fmt.Errorf("parse catalog: %w", err)
	}

	if len(catalog.Keywords) == 0 {
		return Catalog{}, fmt.Errorf("catalog has no keywords")
	}

	seen := make(map[string]bool, len(catalog.Indicators))
	for _, ind := range catalog.Indicators {
		if ind.Code == "" || ind.StatCode == "" {
			return Catalog{}, fmt.Errorf("indicator %q: code and stat_code are required", ind.Name)
		}
		if seen[ind.Code] {
			return Catalog{}, fmt.Errorf("duplicate indicator code %q", ind.Code)
		}
		seen[ind.Code] = true
		switch ind.Cycle {
		case models.CycleDaily, models.CycleMonthly, models.CycleQuarterly:
		default:
			return Catalog{}, fmt.Errorf("indicator %q: cycle must be D, M or Q", ind.Code)
		}
	}

	return catalog, nil
}
