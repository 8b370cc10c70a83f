// Package config loads and validates run configuration from YAML.
// Documents are checked structurally against an embedded JSON Schema, decoded
// over Default(), then checked semantically.
package config

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/talgya/gentrify/internal/agents"
	"github.com/talgya/gentrify/internal/world"
)

//go:embed schema.json
var schemaJSON string

// ErrInvalid wraps every semantic validation failure.
var ErrInvalid = errors.New("invalid config")

// Config is a complete run configuration.
type Config struct {
	Seed        int64             `yaml:"seed" json:"seed"`
	Grid        GridConfig        `yaml:"grid" json:"grid"`
	Density     float64           `yaml:"density" json:"density"`       // Chance a cell starts with a resident
	Preference  float64           `yaml:"preference" json:"preference"` // Quality vs. affinity weight
	Income      IncomeConfig      `yaml:"income" json:"income"`
	Happiness   HappinessConfig   `yaml:"happiness" json:"happiness"`
	Immigration ImmigrationConfig `yaml:"immigration" json:"immigration"`
	Relocation  RelocationConfig  `yaml:"relocation" json:"relocation"`
	Quality     QualityConfig     `yaml:"quality" json:"quality"`
	Run         RunConfig         `yaml:"run" json:"run"`
	Sweep       SweepConfig       `yaml:"sweep" json:"sweep"`
}

type GridConfig struct {
	Width  int `yaml:"width" json:"width"`
	Height int `yaml:"height" json:"height"`
}

type IncomeConfig struct {
	ResidentMean  float64 `yaml:"resident_mean" json:"resident_mean"`
	ImmigrantMean float64 `yaml:"immigrant_mean" json:"immigrant_mean"`
	Variance      float64 `yaml:"variance" json:"variance"` // Stddev as a fraction of the mean
	Floor         float64 `yaml:"floor" json:"floor"`
}

type HappinessConfig struct {
	Initial float64 `yaml:"initial" json:"initial"`
	Min     float64 `yaml:"min" json:"min"`
	Max     float64 `yaml:"max" json:"max"`
	Alpha   float64 `yaml:"alpha" json:"alpha"`
}

type ImmigrationConfig struct {
	Start   uint64 `yaml:"start" json:"start"`       // First arrival tick
	Count   int    `yaml:"count" json:"count"`       // Total arrivals
	PerTick int    `yaml:"per_tick" json:"per_tick"` // 0 = everyone arrives at Start
}

type RelocationConfig struct {
	Jitter        float64 `yaml:"jitter" json:"jitter"`                 // Perturbation as a fraction of income
	FallbackRatio float64 `yaml:"fallback_ratio" json:"fallback_ratio"` // Fallback cells need quality >= ratio*income
	MaxFailures   int     `yaml:"max_failures" json:"max_failures"`
}

type QualityConfig struct {
	Frequency float64 `yaml:"frequency" json:"frequency"`
	Octaves   int     `yaml:"octaves" json:"octaves"`
	Spread    float64 `yaml:"spread" json:"spread"`
}

type RunConfig struct {
	MaxSteps      int  `yaml:"max_steps" json:"max_steps"` // 0 = until converged or stopped
	StopWhenHappy bool `yaml:"stop_when_happy" json:"stop_when_happy"`
	IntervalMs    int  `yaml:"interval_ms" json:"interval_ms"` // Pacing between ticks (live runs)
	CollectEvery  int  `yaml:"collect_every" json:"collect_every"`
}

type SweepConfig struct {
	Iterations   int                  `yaml:"iterations" json:"iterations"`
	MaxSteps     int                  `yaml:"max_steps" json:"max_steps"`
	CollectEvery int                  `yaml:"collect_every" json:"collect_every"`
	Workers      int                  `yaml:"workers" json:"workers"`
	Params       map[string][]float64 `yaml:"params" json:"params"`
}

// Default returns the standard configuration.
func Default() Config {
	return Config{
		Seed:       42,
		Grid:       GridConfig{Width: 20, Height: 20},
		Density:    0.35,
		Preference: 0.5,
		Income: IncomeConfig{
			ResidentMean:  50000,
			ImmigrantMean: 25000,
			Variance:      0.25,
			Floor:         1000,
		},
		Happiness: HappinessConfig{
			Initial: 0.5,
			Min:     0,
			Max:     1,
			Alpha:   agents.DefaultAlpha,
		},
		Immigration: ImmigrationConfig{
			Start: 100,
			Count: 50,
		},
		Relocation: RelocationConfig{
			Jitter:        0.1,
			FallbackRatio: 0.8,
			MaxFailures:   agents.MaxFailedAttempts,
		},
		Quality: QualityConfig{
			Frequency: world.DefaultFieldConfig().Frequency,
			Octaves:   world.DefaultFieldConfig().Octaves,
			Spread:    world.DefaultFieldConfig().Spread,
		},
		Run: RunConfig{
			MaxSteps:      300,
			StopWhenHappy: true,
			CollectEvery:  1,
		},
		Sweep: SweepConfig{
			Iterations:   20,
			MaxSteps:     300,
			CollectEvery: 20,
			Workers:      4,
		},
	}
}

// DefaultSweepParams is the grid swept when a config names none.
func DefaultSweepParams() map[string][]float64 {
	return map[string][]float64{
		ParamIncomeVariance: {0, 0.5, 1},
		ParamPreference:     {0, 0.5, 1},
	}
}

// Grid returns the configured sweep parameters, or the defaults.
func (s SweepConfig) Grid() map[string][]float64 {
	if len(s.Params) == 0 {
		return DefaultSweepParams()
	}
	return s.Params
}

// Load reads a configuration file.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}
	cfg, err := Parse(raw)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes and validates a YAML document. Missing fields keep their
// defaults.
func Parse(data []byte) (Config, error) {
	if err := validateSchema(data); err != nil {
		return Config{}, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validateSchema(data []byte) error {
	schema, err := jsonschema.CompileString("config.schema.json", schemaJSON)
	if err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parsing config YAML: %w", err)
	}
	if doc == nil {
		doc = map[string]any{}
	}

	// Round-trip through JSON so the validator sees JSON types only.
	b, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("config is not JSON-compatible: %w", err)
	}
	var normalized any
	if err := json.Unmarshal(b, &normalized); err != nil {
		return err
	}
	if err := schema.Validate(normalized); err != nil {
		return fmt.Errorf("config schema: %w", err)
	}
	return nil
}

// Validate checks cross-field constraints the schema cannot express.
func (c Config) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if c.Grid.Width < 1 || c.Grid.Height < 1 {
		fail("grid must be at least 1x1 (got %dx%d)", c.Grid.Width, c.Grid.Height)
	}
	if c.Density < 0 || c.Density > 1 {
		fail("density must be in [0, 1] (got %v)", c.Density)
	}
	if c.Preference < 0 || c.Preference > 1 {
		fail("preference must be in [0, 1] (got %v)", c.Preference)
	}
	if c.Income.ResidentMean <= 0 || c.Income.ImmigrantMean <= 0 {
		fail("income means must be positive")
	}
	if c.Income.Variance < 0 {
		fail("income.variance must be non-negative (got %v)", c.Income.Variance)
	}
	if c.Income.Floor <= 0 {
		fail("income.floor must be positive (got %v)", c.Income.Floor)
	}
	h := c.Happiness
	if h.Min > h.Max {
		fail("happiness.min %v exceeds happiness.max %v", h.Min, h.Max)
	}
	if h.Min < 0 || h.Max > 1 {
		fail("happiness bounds must lie within [0, 1] (got [%v, %v])", h.Min, h.Max)
	}
	if h.Initial < h.Min || h.Initial > h.Max {
		fail("happiness.initial %v outside [%v, %v]", h.Initial, h.Min, h.Max)
	}
	if h.Alpha <= 0 || h.Alpha > 1 {
		fail("happiness.alpha must be in (0, 1] (got %v)", h.Alpha)
	}
	if c.Immigration.Count < 0 || c.Immigration.PerTick < 0 {
		fail("immigration count and per_tick must be non-negative")
	}
	if cells := c.Grid.Width * c.Grid.Height; c.Grid.Width > 0 && c.Grid.Height > 0 && c.Immigration.Count > cells {
		fail("immigration.count %d exceeds the %d houses on the grid", c.Immigration.Count, cells)
	}
	if c.Relocation.Jitter < 0 {
		fail("relocation.jitter must be non-negative (got %v)", c.Relocation.Jitter)
	}
	if c.Relocation.FallbackRatio <= 0 {
		fail("relocation.fallback_ratio must be positive (got %v)", c.Relocation.FallbackRatio)
	}
	if c.Relocation.MaxFailures < 1 {
		fail("relocation.max_failures must be at least 1 (got %d)", c.Relocation.MaxFailures)
	}
	if c.Run.MaxSteps < 0 {
		fail("run.max_steps must be non-negative")
	}
	if c.Run.CollectEvery < 1 {
		fail("run.collect_every must be at least 1")
	}
	if c.Sweep.Iterations < 1 || c.Sweep.Workers < 1 || c.Sweep.CollectEvery < 1 {
		fail("sweep iterations, workers and collect_every must be at least 1")
	}
	for name, values := range c.Sweep.Params {
		if !knownParam(name) {
			fail("unknown sweep parameter %q (known: %s)", name, strings.Join(ParamNames(), ", "))
			continue
		}
		if len(values) == 0 {
			fail("sweep parameter %q has no values", name)
		}
	}

	return errors.Join(errs...)
}

// Warnings reports settings that validate but are likely to stop a run
// early. Expected residents plus three standard deviations, plus every
// scheduled immigrant, must fit on the grid or immigration can run out of
// vacant houses.
func (c Config) Warnings() []string {
	var warns []string
	cells := float64(c.Grid.Width * c.Grid.Height)
	residents := c.Density*cells + 3*math.Sqrt(cells*c.Density*(1-c.Density))
	if need := residents + float64(c.Immigration.Count); need > cells {
		warns = append(warns, fmt.Sprintf(
			"density %.2f and immigration.count %d may need %.0f of %.0f houses; immigration can fail with no vacancy",
			c.Density, c.Immigration.Count, math.Ceil(need), cells))
	}
	return warns
}

// Sweepable parameter names.
const (
	ParamDensity        = "density"
	ParamPreference     = "preference"
	ParamIncomeVariance = "income_variance"
	ParamImmigrantCount = "immigrant_count"
	ParamImmigrantStart = "immigrant_start"
	ParamImmigrantMean  = "immigrant_income"
)

// ParamNames lists the sweepable parameters in sorted order.
func ParamNames() []string {
	names := []string{
		ParamDensity, ParamPreference, ParamIncomeVariance,
		ParamImmigrantCount, ParamImmigrantStart, ParamImmigrantMean,
	}
	sort.Strings(names)
	return names
}

func knownParam(name string) bool {
	for _, n := range ParamNames() {
		if n == name {
			return true
		}
	}
	return false
}

// With returns a copy of c with one sweep parameter overridden.
func (c Config) With(name string, value float64) (Config, error) {
	switch name {
	case ParamDensity:
		c.Density = value
	case ParamPreference:
		c.Preference = value
	case ParamIncomeVariance:
		c.Income.Variance = value
	case ParamImmigrantCount:
		c.Immigration.Count = int(value)
	case ParamImmigrantStart:
		if value < 0 {
			return c, fmt.Errorf("%w: immigrant_start must be non-negative", ErrInvalid)
		}
		c.Immigration.Start = uint64(value)
	case ParamImmigrantMean:
		c.Income.ImmigrantMean = value
	default:
		return c, fmt.Errorf("%w: unknown sweep parameter %q", ErrInvalid, name)
	}
	return c, nil
}

// FieldConfig returns the initial quality landscape settings.
func (c Config) FieldConfig() world.FieldConfig {
	return world.FieldConfig{
		Frequency: c.Quality.Frequency,
		Octaves:   c.Quality.Octaves,
		Spread:    c.Quality.Spread,
	}
}

// ResidentIncome returns the resident income distribution.
func (c Config) ResidentIncome() agents.IncomeParams {
	return agents.IncomeParams{Mean: c.Income.ResidentMean, Variance: c.Income.Variance, Floor: c.Income.Floor}
}

// ImmigrantIncome returns the immigrant income distribution.
func (c Config) ImmigrantIncome() agents.IncomeParams {
	return agents.IncomeParams{Mean: c.Income.ImmigrantMean, Variance: c.Income.Variance, Floor: c.Income.Floor}
}

// Thresholds returns the happiness threshold settings for new households.
func (c Config) Thresholds() agents.ThresholdParams {
	return agents.ThresholdParams{Initial: c.Happiness.Initial, Min: c.Happiness.Min, Max: c.Happiness.Max}
}
