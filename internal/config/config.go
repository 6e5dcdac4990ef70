// Package config provides configuration loading for pullsim.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nvandessel/pullsim/internal/experiment"
	"github.com/nvandessel/pullsim/internal/logging"
	"github.com/nvandessel/pullsim/internal/protocol"
	"github.com/nvandessel/pullsim/internal/store"
)

// maxExponentLimit bounds population sizes to 2^30 agents.
const maxExponentLimit = 30

// Config is the complete pullsim configuration.
type Config struct {
	// Experiment controls the sweep shared by all protocols.
	Experiment ExperimentConfig `json:"experiment" yaml:"experiment"`

	// Protocols lists the series to simulate, in plotting order.
	Protocols []ProtocolConfig `json:"protocols" yaml:"protocols"`

	Figure  FigureConfig  `json:"figure" yaml:"figure"`
	Output  OutputConfig  `json:"output" yaml:"output"`
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// ExperimentConfig controls population sizes, repetitions and seeding.
type ExperimentConfig struct {
	// Population sizes are 2^i for MinExponent <= i < MaxExponent.
	MinExponent int `json:"min_exponent" yaml:"min_exponent"`
	MaxExponent int `json:"max_exponent" yaml:"max_exponent"`

	// Iterations is the number of trials averaged per population size.
	Iterations int `json:"iterations" yaml:"iterations"`

	// MaxRounds caps every trial; 0 disables the cap.
	MaxRounds int `json:"max_rounds" yaml:"max_rounds"`

	// Seed is the master seed. Equal seeds give equal results.
	Seed uint64 `json:"seed" yaml:"seed"`

	// Workers bounds concurrent trials; 0 means one per CPU.
	Workers int `json:"workers" yaml:"workers"`
}

// ProtocolConfig describes one simulated series and how it is drawn.
type ProtocolConfig struct {
	Name           string  `json:"name" yaml:"name"`
	Rule           string  `json:"rule" yaml:"rule"`
	RandomOpinions bool    `json:"random_opinions" yaml:"random_opinions"`
	Opinions       int     `json:"opinions,omitempty" yaml:"opinions,omitempty"`
	SourceOpinion  int     `json:"source_opinion,omitempty" yaml:"source_opinion,omitempty"`
	Parallel       bool    `json:"parallel,omitempty" yaml:"parallel,omitempty"`
	Lazy           *bool   `json:"lazy,omitempty" yaml:"lazy,omitempty"`
	SampleFactor   float64 `json:"sample_factor,omitempty" yaml:"sample_factor,omitempty"`

	// MaxExponent, when positive, stops this series at population 2^MaxExponent
	// (inclusive) even if the sweep goes further.
	MaxExponent int `json:"max_exponent,omitempty" yaml:"max_exponent,omitempty"`

	// Plot styling, passed to the figure unchanged.
	Label     string `json:"label,omitempty" yaml:"label,omitempty"`
	Color     string `json:"color,omitempty" yaml:"color,omitempty"`
	LineStyle string `json:"line_style,omitempty" yaml:"line_style,omitempty"`
	Marker    string `json:"marker,omitempty" yaml:"marker,omitempty"`
}

// FigureConfig holds axis settings for the XML figure.
type FigureConfig struct {
	XScale string `json:"xscale" yaml:"xscale"`
	XLabel string `json:"xlabel" yaml:"xlabel"`
	YLabel string `json:"ylabel" yaml:"ylabel"`
	Title  string `json:"title,omitempty" yaml:"title,omitempty"`
}

// OutputConfig names the result files. An empty CSV path disables CSV output.
type OutputConfig struct {
	Figure string `json:"figure" yaml:"figure"`
	CSV    string `json:"csv,omitempty" yaml:"csv,omitempty"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is "info" (default), "debug" (also writes .pullsim/trials.jsonl)
	// or "trace" (also logs every trial).
	Level string `json:"level" yaml:"level"`
}

// Params converts the protocol entry to initialization parameters.
// Unset fields keep the values of protocol.DefaultParams.
func (p ProtocolConfig) Params() protocol.Params {
	params := protocol.DefaultParams()
	params.RandomOpinions = p.RandomOpinions
	params.SourceOpinion = p.SourceOpinion
	params.Parallel = p.Parallel
	if p.Opinions != 0 {
		params.Opinions = p.Opinions
	}
	if p.SampleFactor != 0 {
		params.SampleFactor = p.SampleFactor
	}
	if p.Lazy != nil {
		params.Lazy = *p.Lazy
	}
	return params
}

// Initializer looks up the protocol's rule with its parameters.
func (p ProtocolConfig) Initializer() (protocol.Initializer[int], error) {
	return protocol.Lookup(p.Rule, p.Params())
}

// PlotAttrs returns the figure attributes of the series as key/value pairs.
func (p ProtocolConfig) PlotAttrs() []string {
	label := p.Label
	if label == "" {
		label = p.Name
	}
	attrs := []string{"label", label}
	for _, kv := range [][2]string{{"color", p.Color}, {"ls", p.LineStyle}, {"marker", p.Marker}} {
		if kv[1] != "" {
			attrs = append(attrs, kv[0], kv[1])
		}
	}
	return attrs
}

// Sizes returns the population sizes simulated for p.
func (c *Config) Sizes(p ProtocolConfig) []int {
	hi := c.Experiment.MaxExponent
	if p.MaxExponent > 0 {
		hi = min(hi, p.MaxExponent+1)
	}
	return experiment.PopulationSizes(c.Experiment.MinExponent, hi)
}

// Select returns the protocols named in names, in configuration order.
// No names selects every protocol.
func (c *Config) Select(names []string) ([]ProtocolConfig, error) {
	if len(names) == 0 {
		return c.Protocols, nil
	}
	var out []ProtocolConfig
	for _, name := range names {
		if !slices.ContainsFunc(c.Protocols, func(p ProtocolConfig) bool { return p.Name == name }) {
			return nil, fmt.Errorf("unknown protocol %q", name)
		}
	}
	for _, p := range c.Protocols {
		if slices.Contains(names, p.Name) {
			out = append(out, p)
		}
	}
	return out, nil
}

func boolPtr(b bool) *bool { return &b }

// Default returns the configuration of the reference experiment: Follow the
// Trend and Voter, each from random opinions, from a pseudo-consensus, and
// from random opinions among 10, with Voter stopped at 2^10 agents.
func Default() *Config {
	return &Config{
		Experiment: ExperimentConfig{
			MinExponent: 3,
			MaxExponent: 12,
			Iterations:  1000,
			MaxRounds:   1_000_000,
			Seed:        1,
			Workers:     0,
		},
		Protocols: []ProtocolConfig{
			{Name: "ftt", Rule: protocol.RuleTrend, RandomOpinions: true, Opinions: 2, Lazy: boolPtr(true),
				Label: "Follow the Trend", Color: "tab:blue", LineStyle: "-", Marker: "o"},
			{Name: "ftt-pseudo", Rule: protocol.RuleTrend, RandomOpinions: false, Opinions: 2, Lazy: boolPtr(true),
				Label: "Follow the Trend (Pseudo-consensus)", Color: "tab:blue", LineStyle: "--", Marker: "o"},
			{Name: "ftt-10", Rule: protocol.RuleTrend, RandomOpinions: true, Opinions: 10, Lazy: boolPtr(true),
				Label: "Follow the Trend (10 opinions)", Color: "tab:blue", LineStyle: "dotted", Marker: "o"},
			{Name: "voter", Rule: protocol.RuleVoter, RandomOpinions: true, Opinions: 2, MaxExponent: 10,
				Label: "Voter", Color: "tab:orange", LineStyle: "-", Marker: "^"},
			{Name: "voter-pseudo", Rule: protocol.RuleVoter, RandomOpinions: false, Opinions: 2, MaxExponent: 10,
				Label: "Voter (Pseudo-consensus)", Color: "tab:orange", LineStyle: "--", Marker: "^"},
			{Name: "voter-10", Rule: protocol.RuleVoter, RandomOpinions: true, Opinions: 10, MaxExponent: 10,
				Label: "Voter (10 opinions)", Color: "tab:orange", LineStyle: "dotted", Marker: "^"},
		},
		Figure: FigureConfig{
			XScale: "log",
			XLabel: "Population size $n$",
			YLabel: "Convergence time (parallel rounds)",
		},
		Output: OutputConfig{
			Figure: "results.xml",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// DefaultPath returns ~/.pullsim/config.yaml.
func DefaultPath() (string, error) {
	dir, err := store.GlobalPath()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// Load loads configuration in order: defaults, then the YAML file at path
// (or ~/.pullsim/config.yaml when path is empty and that file exists), then
// environment variables. An explicit path that does not exist is an error.
func Load(path string) (*Config, error) {
	config := Default()

	if path == "" {
		if p, err := DefaultPath(); err == nil {
			if _, statErr := os.Stat(p); statErr == nil {
				path = p
			}
		}
	}
	if path != "" {
		fileConfig, err := LoadFromFile(path)
		if err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
		config = fileConfig
	}

	if err := applyEnvOverrides(config); err != nil {
		return nil, err
	}
	return config, nil
}

// LoadFromFile loads configuration from a YAML file on top of the defaults.
// A protocols list in the file replaces the default list.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	config.Output.Figure = expandEnvVars(config.Output.Figure)
	config.Output.CSV = expandEnvVars(config.Output.CSV)
	return config, nil
}

// Validate checks that the configuration describes a runnable experiment.
func (c *Config) Validate() error {
	e := c.Experiment
	if e.MinExponent < 0 {
		return fmt.Errorf("min_exponent must be non-negative, got %d", e.MinExponent)
	}
	if e.MaxExponent <= e.MinExponent || e.MaxExponent > maxExponentLimit+1 {
		return fmt.Errorf("max_exponent must be in (%d, %d], got %d", e.MinExponent, maxExponentLimit+1, e.MaxExponent)
	}
	if e.Iterations < 1 {
		return fmt.Errorf("iterations must be positive, got %d", e.Iterations)
	}
	if e.MaxRounds < 0 {
		return fmt.Errorf("max_rounds must be non-negative, got %d", e.MaxRounds)
	}
	if e.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", e.Workers)
	}

	if len(c.Protocols) == 0 {
		return fmt.Errorf("at least one protocol is required")
	}
	seen := make(map[string]bool, len(c.Protocols))
	for i, p := range c.Protocols {
		if p.Name == "" {
			return fmt.Errorf("protocols[%d]: name is required", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("protocols[%d]: duplicate name %q", i, p.Name)
		}
		seen[p.Name] = true
		if _, err := p.Initializer(); err != nil {
			return fmt.Errorf("protocol %s: %w", p.Name, err)
		}
		if p.MaxExponent < 0 {
			return fmt.Errorf("protocol %s: max_exponent must be non-negative, got %d", p.Name, p.MaxExponent)
		}
	}

	if c.Output.Figure == "" {
		return fmt.Errorf("output.figure is required")
	}
	if c.Logging.Level != "" && !logging.ValidLevel(c.Logging.Level) {
		return fmt.Errorf("invalid log level: %s (valid: info, debug, trace, or empty for default)", c.Logging.Level)
	}
	return nil
}

// applyEnvOverrides applies PULLSIM_* environment variables. Malformed
// numbers are reported rather than ignored.
func applyEnvOverrides(config *Config) error {
	if v := os.Getenv("PULLSIM_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
	if v := os.Getenv("PULLSIM_SEED"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("PULLSIM_SEED: %w", err)
		}
		config.Experiment.Seed = n
	}
	ints := []struct {
		env string
		dst *int
	}{
		{"PULLSIM_ITERATIONS", &config.Experiment.Iterations},
		{"PULLSIM_WORKERS", &config.Experiment.Workers},
		{"PULLSIM_MAX_ROUNDS", &config.Experiment.MaxRounds},
	}
	for _, o := range ints {
		v := os.Getenv(o.env)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", o.env, err)
		}
		*o.dst = n
	}
	return nil
}

// expandEnvVars expands ${VAR} patterns in a string with environment variable values.
func expandEnvVars(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, os.Getenv)
}
