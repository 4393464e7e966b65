package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is where soilcf looks for its configuration when no
// --config flag is given.
const DefaultConfigPath = "config/pipeline.yaml"

const maxFileSize = 1 * 1024 * 1024 // 1MB

// ErrUnknownLandUse is returned when the reference land use is not one of
// the enumerated land uses.
var ErrUnknownLandUse = errors.New("unknown land use")

// Config is the root configuration of a counterfactual run. Optional scalar
// fields are pointers so that omitted keys fall back to the defaults
// returned by the Get* accessors.
type Config struct {
	Inputs  InputsConfig  `yaml:"inputs" json:"inputs"`
	Columns ColumnsConfig `yaml:"columns" json:"columns"`

	// Indicator is the ecological indicator column scored against the
	// reference, e.g. "otu_richness".
	Indicator *string `yaml:"indicator,omitempty" json:"indicator,omitempty"`

	// ReferenceLandUse is the land-use label whose sites provide the
	// per-context reference medians.
	ReferenceLandUse string `yaml:"reference_land_use" json:"reference_land_use"`

	// ContextColumns are the classifier columns concatenated into the
	// context key, in order.
	ContextColumns []string `yaml:"context_columns" json:"context_columns"`

	// LandUseRules split coarse land-use classes using a finer column.
	// They run before LandUseLabels.
	LandUseRules []LandUseRule `yaml:"land_use_rules,omitempty" json:"land_use_rules,omitempty"`

	// LandUseLabels relabels raw land-use codes (e.g. CORINE classes).
	LandUseLabels map[string]string `yaml:"land_use_labels,omitempty" json:"land_use_labels,omitempty"`

	// NullUnmappedLandUse turns land-use values missing from LandUseLabels
	// into nulls instead of passing them through.
	NullUnmappedLandUse bool `yaml:"null_unmapped_land_use,omitempty" json:"null_unmapped_land_use,omitempty"`

	// LandUses enumerates the valid land-use labels. Empty disables the check.
	LandUses []string `yaml:"land_uses,omitempty" json:"land_uses,omitempty"`

	// LandUseIntensity adds a land_use_intensity column scoring each
	// land-use label, e.g. 0 for natural sites and 100 for urban sites.
	LandUseIntensity map[string]float64 `yaml:"land_use_intensity,omitempty" json:"land_use_intensity,omitempty"`

	// Regions assign classifier columns from polygon layers.
	Regions []RegionConfig `yaml:"regions,omitempty" json:"regions,omitempty"`

	Collapse CollapseConfig `yaml:"collapse" json:"collapse"`
	Richness RichnessConfig `yaml:"richness" json:"richness"`
	Output   OutputConfig   `yaml:"output" json:"output"`
}

// InputsConfig lists the source tables merged on the site id.
type InputsConfig struct {
	// Sites is the site metadata table (ids, coordinates, land use).
	Sites string `yaml:"sites" json:"sites"`
	// Abundance is an optional OTU x sample abundance table from which
	// otu_richness is derived.
	Abundance string `yaml:"abundance,omitempty" json:"abundance,omitempty"`
	// Tables are extra per-site tables (bioregion, WRB class,
	// physico-chemistry) produced by the spatial joins.
	Tables []string `yaml:"tables,omitempty" json:"tables,omitempty"`
	// Join is the merge strategy: inner, left or outer.
	Join *string `yaml:"join,omitempty" json:"join,omitempty"`
	// Encoding is the character set of every input table, e.g.
	// "windows-1252". Empty means UTF-8.
	Encoding string `yaml:"encoding,omitempty" json:"encoding,omitempty"`
	// NAValues are extra spellings of a missing value, e.g. "ND".
	NAValues []string `yaml:"na_values,omitempty" json:"na_values,omitempty"`
	// KeepColumn, when set, keeps only the site rows whose value in this
	// column is true (e.g. "site_officiel").
	KeepColumn string `yaml:"keep_column,omitempty" json:"keep_column,omitempty"`
}

// RegionConfig assigns a classifier column by locating every site in a
// GeoJSON polygon layer.
type RegionConfig struct {
	// Column is the classifier column to create, e.g. "bioregion".
	Column string `yaml:"column" json:"column"`
	// Path is the GeoJSON FeatureCollection of Polygon or MultiPolygon
	// features, in the coordinate system of the site coordinates.
	Path string `yaml:"path" json:"path"`
	// Property is the feature property holding the region label.
	Property string `yaml:"property" json:"property"`
	// DropUnassigned removes sites falling outside every polygon instead
	// of leaving their label null.
	DropUnassigned bool `yaml:"drop_unassigned,omitempty" json:"drop_unassigned,omitempty"`
}

// LandUseRule replaces Value in Column by the SubColumn value when that
// value is in Keep, and by Otherwise (null when empty) when it is not.
type LandUseRule struct {
	// Column defaults to the land-use column.
	Column    string   `yaml:"column,omitempty" json:"column,omitempty"`
	Value     string   `yaml:"value" json:"value"`
	SubColumn string   `yaml:"sub_column" json:"sub_column"`
	Keep      []string `yaml:"keep" json:"keep"`
	Otherwise string   `yaml:"otherwise,omitempty" json:"otherwise,omitempty"`
}

// ColumnsConfig names the structural columns of the site table.
type ColumnsConfig struct {
	SiteID  *string `yaml:"site_id,omitempty" json:"site_id,omitempty"`
	LandUse *string `yaml:"land_use,omitempty" json:"land_use,omitempty"`
	X       *string `yaml:"x,omitempty" json:"x,omitempty"`
	Y       *string `yaml:"y,omitempty" json:"y,omitempty"`
}

// CollapseConfig selects the rare-category policy applied to every context
// column before the context key is built.
type CollapseConfig struct {
	Policy      *string  `yaml:"policy,omitempty" json:"policy,omitempty"`
	Param       *float64 `yaml:"param,omitempty" json:"param,omitempty"`
	Label       *string  `yaml:"label,omitempty" json:"label,omitempty"`
	MinDistinct *int     `yaml:"min_distinct,omitempty" json:"min_distinct,omitempty"`
}

// RichnessConfig controls OTU richness derivation from the abundance table.
type RichnessConfig struct {
	// Layout is otus_as_rows (one row per OTU) or samples_as_rows.
	Layout *string `yaml:"layout,omitempty" json:"layout,omitempty"`
	// OTUColumn holds the OTU ids of an otus_as_rows table.
	OTUColumn *string `yaml:"otu_column,omitempty" json:"otu_column,omitempty"`
	// SampleColumn holds the sample ids of a samples_as_rows table.
	// Empty means the site id column.
	SampleColumn string `yaml:"sample_column,omitempty" json:"sample_column,omitempty"`
	MinDepth     *int   `yaml:"min_depth,omitempty" json:"min_depth,omitempty"`

	// Taxonomy is an optional OTU taxonomy table. When set, a
	// mean_<level>_abundance column is derived.
	Taxonomy       string  `yaml:"taxonomy,omitempty" json:"taxonomy,omitempty"`
	TaxonomyColumn *string `yaml:"taxonomy_column,omitempty" json:"taxonomy_column,omitempty"`
	Level          *string `yaml:"level,omitempty" json:"level,omitempty"`
}

// OutputConfig controls where results go.
type OutputConfig struct {
	Dir      *string `yaml:"dir,omitempty" json:"dir,omitempty"`
	Database string  `yaml:"database,omitempty" json:"database,omitempty"`
	GeoJSON  *bool   `yaml:"geojson,omitempty" json:"geojson,omitempty"`
	Charts   *bool   `yaml:"charts,omitempty" json:"charts,omitempty"`
}

// Load reads a Config from a .yaml, .yml or .json file and validates it.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".yaml" && ext != ".yml" && ext != ".json" {
		return nil, fmt.Errorf("config file must have .yaml, .yml or .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data, ext)
	if err != nil {
		return nil, err
	}

	// Relative input and output paths are resolved against the config file.
	cfg.resolvePaths(filepath.Dir(cleanPath))
	return cfg, nil
}

// Parse decodes and validates configuration bytes. ext selects the decoder.
func Parse(data []byte, ext string) (*Config, error) {
	cfg := &Config{}
	switch ext {
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) resolvePaths(base string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}
	c.Inputs.Sites = abs(c.Inputs.Sites)
	c.Inputs.Abundance = abs(c.Inputs.Abundance)
	for i, p := range c.Inputs.Tables {
		c.Inputs.Tables[i] = abs(p)
	}
	for i := range c.Regions {
		c.Regions[i].Path = abs(c.Regions[i].Path)
	}
	c.Richness.Taxonomy = abs(c.Richness.Taxonomy)
	if c.Output.Dir != nil {
		d := abs(*c.Output.Dir)
		c.Output.Dir = &d
	}
	if c.Output.Database != "" && c.Output.Database != ":memory:" {
		c.Output.Database = abs(c.Output.Database)
	}
}

// Validate checks that the configuration values are usable. It does not
// look at the data; column presence is checked when the run starts.
func (c *Config) Validate() error {
	if c.Inputs.Sites == "" {
		return fmt.Errorf("inputs.sites is required")
	}
	if c.ReferenceLandUse == "" {
		return fmt.Errorf("reference_land_use is required")
	}
	if len(c.ContextColumns) == 0 {
		return fmt.Errorf("context_columns must name at least one classifier column")
	}
	for i, col := range c.ContextColumns {
		if strings.TrimSpace(col) == "" {
			return fmt.Errorf("context_columns[%d] is empty", i)
		}
	}

	if len(c.LandUses) > 0 {
		found := false
		for _, lu := range c.LandUses {
			if lu == c.ReferenceLandUse {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("reference_land_use %q is not one of land_uses %v: %w", c.ReferenceLandUse, c.LandUses, ErrUnknownLandUse)
		}
	}

	switch c.GetJoin() {
	case "inner", "left", "outer":
	default:
		return fmt.Errorf("inputs.join must be inner, left or outer, got %q", c.GetJoin())
	}

	switch c.GetCollapsePolicy() {
	case "none", "top_cats", "quantile", "min_count":
	default:
		return fmt.Errorf("collapse.policy must be none, top_cats, quantile or min_count, got %q", c.GetCollapsePolicy())
	}

	if c.Collapse.MinDistinct != nil && *c.Collapse.MinDistinct < 0 {
		return fmt.Errorf("collapse.min_distinct must be non-negative, got %d", *c.Collapse.MinDistinct)
	}
	switch c.GetRichnessLayout() {
	case "otus_as_rows", "samples_as_rows":
	default:
		return fmt.Errorf("richness.layout must be otus_as_rows or samples_as_rows, got %q", c.GetRichnessLayout())
	}

	for i, r := range c.LandUseRules {
		if r.Value == "" || r.SubColumn == "" || len(r.Keep) == 0 {
			return fmt.Errorf("land_use_rules[%d]: value, sub_column and keep are required", i)
		}
	}
	if c.Richness.Taxonomy != "" && c.Inputs.Abundance == "" {
		return fmt.Errorf("richness.taxonomy needs inputs.abundance")
	}
	if c.Richness.Level != nil && *c.Richness.Level == "" {
		return fmt.Errorf("richness.level is empty")
	}

	for i, r := range c.Regions {
		if r.Column == "" || r.Path == "" || r.Property == "" {
			return fmt.Errorf("regions[%d]: column, path and property are required", i)
		}
	}

	if c.Richness.MinDepth != nil && *c.Richness.MinDepth < 0 {
		return fmt.Errorf("richness.min_depth must be non-negative, got %d", *c.Richness.MinDepth)
	}

	return nil
}

// GetIndicator returns the indicator column or the default.
func (c *Config) GetIndicator() string {
	if c.Indicator == nil || *c.Indicator == "" {
		return "otu_richness"
	}
	return *c.Indicator
}

// GetJoin returns the merge strategy or the default.
func (c *Config) GetJoin() string {
	if c.Inputs.Join == nil {
		return "left"
	}
	return *c.Inputs.Join
}

// GetSiteIDColumn returns the site id column name or the default.
func (c *Config) GetSiteIDColumn() string {
	if c.Columns.SiteID == nil {
		return "site_id"
	}
	return *c.Columns.SiteID
}

// GetLandUseColumn returns the land-use column name or the default.
func (c *Config) GetLandUseColumn() string {
	if c.Columns.LandUse == nil {
		return "land_use"
	}
	return *c.Columns.LandUse
}

// GetXColumn returns the longitude column name or the default.
func (c *Config) GetXColumn() string {
	if c.Columns.X == nil {
		return "x"
	}
	return *c.Columns.X
}

// GetYColumn returns the latitude column name or the default.
func (c *Config) GetYColumn() string {
	if c.Columns.Y == nil {
		return "y"
	}
	return *c.Columns.Y
}

// GetCollapsePolicy returns the collapsing policy name or the default.
func (c *Config) GetCollapsePolicy() string {
	if c.Collapse.Policy == nil {
		return "none"
	}
	return *c.Collapse.Policy
}

// GetCollapseParam returns the policy parameter or 0.
func (c *Config) GetCollapseParam() float64 {
	if c.Collapse.Param == nil {
		return 0
	}
	return *c.Collapse.Param
}

// GetCollapseLabel returns the collapse bucket label or the default.
func (c *Config) GetCollapseLabel() string {
	if c.Collapse.Label == nil || *c.Collapse.Label == "" {
		return "Others"
	}
	return *c.Collapse.Label
}

// GetCollapseMinDistinct returns the distinct-value threshold below which
// collapsing is skipped.
func (c *Config) GetCollapseMinDistinct() int {
	if c.Collapse.MinDistinct == nil {
		return 10
	}
	return *c.Collapse.MinDistinct
}

// GetOTUColumn returns the OTU identifier column of the abundance table.
func (c *Config) GetOTUColumn() string {
	if c.Richness.OTUColumn == nil {
		return "otu_id"
	}
	return *c.Richness.OTUColumn
}

// GetMinDepth returns the minimum read depth for a sample to get a richness.
func (c *Config) GetMinDepth() int {
	if c.Richness.MinDepth == nil {
		return 0
	}
	return *c.Richness.MinDepth
}

// GetTaxonomyColumn returns the OTU id column of the taxonomy table.
func (c *Config) GetTaxonomyColumn() string {
	if c.Richness.TaxonomyColumn == nil {
		return "SEQUENCE"
	}
	return *c.Richness.TaxonomyColumn
}

// GetTaxonomyLevel returns the taxonomic rank of the mean abundance column.
func (c *Config) GetTaxonomyLevel() string {
	if c.Richness.Level == nil {
		return "ORDER"
	}
	return *c.Richness.Level
}

// GetRichnessLayout returns the abundance table layout or the default.
func (c *Config) GetRichnessLayout() string {
	if c.Richness.Layout == nil {
		return "otus_as_rows"
	}
	return *c.Richness.Layout
}

// GetOutputDir returns the output directory or the default.
func (c *Config) GetOutputDir() string {
	if c.Output.Dir == nil || *c.Output.Dir == "" {
		return "output"
	}
	return *c.Output.Dir
}

// GetGeoJSON reports whether the GeoJSON site export is enabled.
func (c *Config) GetGeoJSON() bool {
	if c.Output.GeoJSON == nil {
		return true
	}
	return *c.Output.GeoJSON
}

// GetCharts reports whether PNG and HTML charts are rendered.
func (c *Config) GetCharts() bool {
	if c.Output.Charts == nil {
		return true
	}
	return *c.Output.Charts
}
