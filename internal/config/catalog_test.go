package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/econpulse/econpulse/internal/models"
)

func writeCatalog(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadCatalog(t *testing.T) {
	path := writeCatalog(t, `
keywords:
  - 금리
  - 환율
  - 물가

indicators:
  - code: base_rate
    name: 한국은행 기준금리
    stat_code: 722Y001
    cycle: D
    item_code1: "0101000"
    unit: "%"
  - code: cpi
    name: 소비자물가지수
    stat_code: 901Y009
    cycle: M
    item_code1: "0"
`)

	catalog, err := LoadCatalog(path)
	if err != nil {
		t.Fatalf("LoadCatalog failed: %v", err)
	}

	if len(catalog.Keywords) != 3 {
		t.Errorf("got %d keywords, want 3", len(catalog.Keywords))
	}
	if len(catalog.Indicators) != 2 {
		t.Fatalf("got %d indicators, want 2", len(catalog.Indicators))
	}

	base := catalog.Indicators[0]
	if base.Code != "base_rate" || base.StatCode != "722Y001" || base.Cycle != models.CycleDaily {
		t.Errorf("base rate parsed wrong: %+v", base)
	}
	if base.ItemCode1 != "0101000" {
		t.Errorf("item code %q", base.ItemCode1)
	}
}

func TestLoadCatalogRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"no_keywords", `
indicators:
  - code: base_rate
    stat_code: 722Y001
    cycle: D
`},
		{"missing_stat_code", `
keywords: [금리]
indicators:
  - code: base_rate
    cycle: D
`},
		{"duplicate_code", `
keywords: [금리]
indicators:
  - code: base_rate
    stat_code: 722Y001
    cycle: D
  - code: base_rate
    stat_code: 722Y002
    cycle: D
`},
		{"bad_cycle", `
keywords: [금리]
indicators:
  - code: base_rate
    stat_code: 722Y001
    cycle: W
`},
		{"not_yaml", `{{{`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeCatalog(t, tt.yaml)
			if _, err := LoadCatalog(path); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoadCatalogMissingFile(t *testing.T) {
	if _, err := LoadCatalog(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
