package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

const minimalYAML = `
inputs:
  sites: data/sites.csv
reference_land_use: broadleaved forests
context_columns: [bioregion]
`

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML), ".yaml")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if got := cfg.GetIndicator(); got != "otu_richness" {
		t.Errorf("GetIndicator() = %q, want otu_richness", got)
	}
	if got := cfg.GetJoin(); got != "left" {
		t.Errorf("GetJoin() = %q, want left", got)
	}
	if got := cfg.GetSiteIDColumn(); got != "site_id" {
		t.Errorf("GetSiteIDColumn() = %q, want site_id", got)
	}
	if got := cfg.GetLandUseColumn(); got != "land_use" {
		t.Errorf("GetLandUseColumn() = %q, want land_use", got)
	}
	if got := cfg.GetCollapsePolicy(); got != "none" {
		t.Errorf("GetCollapsePolicy() = %q, want none", got)
	}
	if got := cfg.GetCollapseLabel(); got != "Others" {
		t.Errorf("GetCollapseLabel() = %q, want Others", got)
	}
	if got := cfg.GetCollapseMinDistinct(); got != 10 {
		t.Errorf("GetCollapseMinDistinct() = %d, want 10", got)
	}
	if got := cfg.GetOutputDir(); got != "output" {
		t.Errorf("GetOutputDir() = %q, want output", got)
	}
	if !cfg.GetGeoJSON() || !cfg.GetCharts() {
		t.Errorf("GeoJSON and charts should default to enabled")
	}
	if got := cfg.GetOTUColumn(); got != "otu_id" {
		t.Errorf("GetOTUColumn() = %q, want otu_id", got)
	}
	if got := cfg.GetRichnessLayout(); got != "otus_as_rows" {
		t.Errorf("GetRichnessLayout() = %q, want otus_as_rows", got)
	}
	if got := cfg.GetTaxonomyColumn(); got != "SEQUENCE" {
		t.Errorf("GetTaxonomyColumn() = %q, want SEQUENCE", got)
	}
	if got := cfg.GetTaxonomyLevel(); got != "ORDER" {
		t.Errorf("GetTaxonomyLevel() = %q, want ORDER", got)
	}
	if cfg.NullUnmappedLandUse {
		t.Errorf("NullUnmappedLandUse should default to false")
	}
}

func TestParseLandUseRules(t *testing.T) {
	data := minimalYAML + `
land_use_rules:
  - column: desc_code_occupation1
    value: surfaces boisees
    sub_column: desc_code_occupation3
    keep: [forets caducifoliees]
    otherwise: forets de coniferes
null_unmapped_land_use: true
`
	cfg, err := Parse([]byte(data), ".yaml")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	want := LandUseRule{
		Column:    "desc_code_occupation1",
		Value:     "surfaces boisees",
		SubColumn: "desc_code_occupation3",
		Keep:      []string{"forets caducifoliees"},
		Otherwise: "forets de coniferes",
	}
	if len(cfg.LandUseRules) != 1 || !reflect.DeepEqual(cfg.LandUseRules[0], want) {
		t.Errorf("LandUseRules = %+v, want %+v", cfg.LandUseRules, want)
	}
	if !cfg.NullUnmappedLandUse {
		t.Errorf("NullUnmappedLandUse = false, want true")
	}
}

func TestParseJSON(t *testing.T) {
	data := `{
  "inputs": {"sites": "sites.csv", "tables": ["wrb.tsv"], "join": "outer"},
  "indicator": "shannon",
  "reference_land_use": "grasslands",
  "context_columns": ["bioregion", "wrb"],
  "collapse": {"policy": "top_cats", "param": 5, "label": "others", "min_distinct": 0}
}`
	cfg, err := Parse([]byte(data), ".json")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if cfg.GetIndicator() != "shannon" {
		t.Errorf("GetIndicator() = %q", cfg.GetIndicator())
	}
	if cfg.GetJoin() != "outer" {
		t.Errorf("GetJoin() = %q", cfg.GetJoin())
	}
	if cfg.GetCollapsePolicy() != "top_cats" || cfg.GetCollapseParam() != 5 {
		t.Errorf("collapse = %q(%v)", cfg.GetCollapsePolicy(), cfg.GetCollapseParam())
	}
	if cfg.GetCollapseLabel() != "others" || cfg.GetCollapseMinDistinct() != 0 {
		t.Errorf("label = %q, min distinct = %d", cfg.GetCollapseLabel(), cfg.GetCollapseMinDistinct())
	}
	if len(cfg.ContextColumns) != 2 || cfg.ContextColumns[1] != "wrb" {
		t.Errorf("ContextColumns = %v", cfg.ContextColumns)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"missing sites", "reference_land_use: x\ncontext_columns: [a]\n", "inputs.sites"},
		{"missing reference", "inputs: {sites: s.csv}\ncontext_columns: [a]\n", "reference_land_use"},
		{"no context", "inputs: {sites: s.csv}\nreference_land_use: x\n", "context_columns"},
		{"blank context", "inputs: {sites: s.csv}\nreference_land_use: x\ncontext_columns: [a, ' ']\n", "context_columns[1]"},
		{"unknown reference", "inputs: {sites: s.csv}\nreference_land_use: x\ncontext_columns: [a]\nland_uses: [y, z]\n", "not one of land_uses"},
		{"bad join", "inputs: {sites: s.csv, join: cross}\nreference_land_use: x\ncontext_columns: [a]\n", "inputs.join"},
		{"bad policy", "inputs: {sites: s.csv}\nreference_land_use: x\ncontext_columns: [a]\ncollapse: {policy: median}\n", "collapse.policy"},
		{"negative min distinct", "inputs: {sites: s.csv}\nreference_land_use: x\ncontext_columns: [a]\ncollapse: {min_distinct: -1}\n", "min_distinct"},
		{"negative depth", "inputs: {sites: s.csv}\nreference_land_use: x\ncontext_columns: [a]\nrichness: {min_depth: -5}\n", "min_depth"},
		{"bad layout", "inputs: {sites: s.csv}\nreference_land_use: x\ncontext_columns: [a]\nrichness: {layout: wide}\n", "richness.layout"},
		{"incomplete land use rule", "inputs: {sites: s.csv}\nreference_land_use: x\ncontext_columns: [a]\nland_use_rules: [{value: surfaces boisees, sub_column: occ3}]\n", "land_use_rules[0]"},
		{"taxonomy without abundance", "inputs: {sites: s.csv}\nreference_land_use: x\ncontext_columns: [a]\nrichness: {taxonomy: tax.tsv}\n", "richness.taxonomy"},
		{"empty level", "inputs: {sites: s.csv, abundance: otu.tsv}\nreference_land_use: x\ncontext_columns: [a]\nrichness: {taxonomy: tax.tsv, level: ''}\n", "richness.level"},
		{"incomplete region", "inputs: {sites: s.csv}\nreference_land_use: x\ncontext_columns: [a]\nregions: [{column: bioregion, path: b.geojson}]\n", "regions[0]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml), ".yaml")
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateUnknownLandUse(t *testing.T) {
	cfg := &Config{
		Inputs:           InputsConfig{Sites: "s.csv"},
		ReferenceLandUse: "broadleaved forests",
		ContextColumns:   []string{"bioregion"},
		LandUses:         []string{"annual crops", "pastures"},
	}
	if err := cfg.Validate(); !errors.Is(err, ErrUnknownLandUse) {
		t.Fatalf("Validate() = %v, want ErrUnknownLandUse", err)
	}
	cfg.LandUses = append(cfg.LandUses, "broadleaved forests")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}
}

func TestLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "pipeline.yaml")
	extra := "output:\n  dir: out\n  database: runs.db\nregions:\n  - {column: bioregion, path: gis/bioregions.geojson, property: code}\n" +
		"richness:\n  taxonomy: data/taxonomy.tsv\n"
	base := strings.Replace(minimalYAML, "  sites: data/sites.csv\n", "  sites: data/sites.csv\n  abundance: data/otu.tsv\n", 1)
	if err := os.WriteFile(path, []byte(base+extra), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if want := filepath.Join(tmpDir, "data", "sites.csv"); cfg.Inputs.Sites != want {
		t.Errorf("Inputs.Sites = %q, want %q", cfg.Inputs.Sites, want)
	}
	if want := filepath.Join(tmpDir, "out"); cfg.GetOutputDir() != want {
		t.Errorf("GetOutputDir() = %q, want %q", cfg.GetOutputDir(), want)
	}
	if want := filepath.Join(tmpDir, "runs.db"); cfg.Output.Database != want {
		t.Errorf("Output.Database = %q, want %q", cfg.Output.Database, want)
	}
	if want := filepath.Join(tmpDir, "gis", "bioregions.geojson"); len(cfg.Regions) != 1 || cfg.Regions[0].Path != want {
		t.Errorf("Regions = %+v, want path %q", cfg.Regions, want)
	}
	if want := filepath.Join(tmpDir, "data", "taxonomy.tsv"); cfg.Richness.Taxonomy != want {
		t.Errorf("Richness.Taxonomy = %q, want %q", cfg.Richness.Taxonomy, want)
	}
}

func TestLoadRejectsBadFiles(t *testing.T) {
	tmpDir := t.TempDir()

	txt := filepath.Join(tmpDir, "pipeline.txt")
	if err := os.WriteFile(txt, []byte(minimalYAML), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(txt); err == nil || !strings.Contains(err.Error(), "extension") {
		t.Errorf("expected extension error, got %v", err)
	}

	if _, err := Load(filepath.Join(tmpDir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	big := filepath.Join(tmpDir, "big.json")
	if err := os.WriteFile(big, make([]byte, maxFileSize+1), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(big); err == nil || !strings.Contains(err.Error(), "too large") {
		t.Errorf("expected size error, got %v", err)
	}

	broken := filepath.Join(tmpDir, "broken.json")
	if err := os.WriteFile(broken, []byte("{"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(broken); err == nil || !strings.Contains(err.Error(), "parse config JSON") {
		t.Errorf("expected parse error, got %v", err)
	}
}
