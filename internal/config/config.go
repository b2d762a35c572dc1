// Package config loads fork configuration files and project settings.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dusk-indust/replaylab/internal/model"
)

// Settings bounds and defaults.
const (
	DefaultMaxTurns       = model.DefaultMaxTurns
	DefaultTimeoutSeconds = 300
	DefaultOutputDir      = "./results"
	MinMaxTurns           = 1
	MaxMaxTurns           = 100
	MinTimeoutSeconds     = 1
	MaxTimeoutSeconds     = 3600
)

// KnownModels are the model identifiers a fork configuration may name. A
// model may also carry a provider prefix, e.g. "openai/gpt-4o".
var KnownModels = map[string]struct{}{
	"claude-sonnet-4-20250514":   {},
	"claude-haiku-4-20250514":    {},
	"claude-opus-4-20250514":     {},
	"claude-sonnet-4-5":          {},
	"claude-opus-4-1":            {},
	"claude-3-5-sonnet-20241022": {},
	"claude-3-5-haiku-20241022":  {},
	"claude-3-opus-20240229":     {},
	"gpt-4o":                     {},
	"gpt-4o-mini":                {},
	"gpt-4.1":                    {},
	"o3-mini":                    {},
}

// Settings are the global options of a fork configuration.
type Settings struct {
	MaxTurns       int    `yaml:"max_turns"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	SaveResults    bool   `yaml:"save_results"`
	OutputDir      string `yaml:"output_dir"`
	MaxConcurrency int    `yaml:"max_concurrency,omitempty"`
	// Provider is the fallback provider for models that do not imply one.
	Provider string `yaml:"provider,omitempty"`
}

// ForkConfig is a parsed fork configuration file.
type ForkConfig struct {
	Branches []model.BranchConfig `yaml:"branches"`
	Settings Settings             `yaml:"settings"`
}

// ConfigError describes a configuration file that could not be loaded.
// Details lists each individual problem.
type ConfigError struct {
	Message string
	Details []string
}

func (e *ConfigError) Error() string {
	if len(e.Details) == 0 {
		return e.Message
	}
	return e.Message + "\n  - " + strings.Join(e.Details, "\n  - ")
}

// LoadFork reads, substitutes and validates a fork configuration file.
// Branches without max_turns inherit settings.max_turns.
func LoadFork(path string) (*ForkConfig, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, &ConfigError{Message: fmt.Sprintf("configuration file not found: %s", path)}
	}
	if err != nil {
		return nil, &ConfigError{Message: fmt.Sprintf("cannot read %s", path), Details: []string{err.Error()}}
	}
	if info.IsDir() {
		return nil, &ConfigError{Message: fmt.Sprintf("path is not a file: %s", path)}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Message: fmt.Sprintf("cannot read %s", path), Details: []string{err.Error()}}
	}
	cfg, err := ParseFork(data)
	if err != nil {
		var ce *ConfigError
		if errors.As(err, &ce) {
			ce.Message = fmt.Sprintf("%s in %s", ce.Message, path)
		}
		return nil, err
	}
	return cfg, nil
}

// ParseFork parses a fork configuration from YAML bytes.
func ParseFork(data []byte) (*ForkConfig, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, &ConfigError{Message: "invalid YAML syntax", Details: []string{err.Error()}}
	}
	if len(root.Content) == 0 {
		return nil, &ConfigError{Message: "configuration file is empty"}
	}
	doc := root.Content[0]
	if doc.Kind != yaml.MappingNode {
		return nil, &ConfigError{Message: "configuration must be a YAML mapping"}
	}
	substituteNode(doc)

	var raw struct {
		Branches []struct {
			Name          string `yaml:"name"`
			InjectMessage string `yaml:"inject_message"`
			Model         string `yaml:"model"`
			SystemPrompt  string `yaml:"system_prompt"`
			MaxTurns      *int   `yaml:"max_turns"`
		} `yaml:"branches"`
		Settings *Settings `yaml:"settings"`
	}
	if err := doc.Decode(&raw); err != nil {
		return nil, &ConfigError{Message: "invalid configuration", Details: []string{err.Error()}}
	}
	if raw.Branches == nil {
		return nil, &ConfigError{
			Message: "missing required field 'branches'",
			Details: []string{"configuration must define at least one branch"},
		}
	}

	cfg := &ForkConfig{Settings: DefaultSettings()}
	if raw.Settings != nil {
		cfg.Settings = mergeSettings(cfg.Settings, *raw.Settings, settingsKeys(doc))
	}
	for _, b := range raw.Branches {
		turns := cfg.Settings.MaxTurns
		if b.MaxTurns != nil {
			turns = *b.MaxTurns
		}
		cfg.Branches = append(cfg.Branches, model.BranchConfig{
			Name:          b.Name,
			InjectMessage: b.InjectMessage,
			Model:         b.Model,
			SystemPrompt:  b.SystemPrompt,
			MaxTurns:      turns,
		})
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultSettings returns the settings used when a file omits them.
func DefaultSettings() Settings {
	return Settings{
		MaxTurns:       DefaultMaxTurns,
		TimeoutSeconds: DefaultTimeoutSeconds,
		SaveResults:    true,
		OutputDir:      DefaultOutputDir,
	}
}

// Validate checks bounds, branch fields and model names, collecting every
// problem into one ConfigError.
func (c *ForkConfig) Validate() error {
	var details []string
	s := c.Settings
	if s.MaxTurns < MinMaxTurns || s.MaxTurns > MaxMaxTurns {
		details = append(details, fmt.Sprintf("settings.max_turns: must be between %d and %d", MinMaxTurns, MaxMaxTurns))
	}
	if s.TimeoutSeconds < MinTimeoutSeconds || s.TimeoutSeconds > MaxTimeoutSeconds {
		details = append(details, fmt.Sprintf("settings.timeout_seconds: must be between %d and %d", MinTimeoutSeconds, MaxTimeoutSeconds))
	}
	if s.MaxConcurrency < 0 {
		details = append(details, "settings.max_concurrency: must be >= 0")
	}
	if len(c.Branches) == 0 {
		details = append(details, "branches: must define at least one branch")
	}

	seen := make(map[string]bool)
	var unknown []string
	for i, b := range c.Branches {
		switch {
		case b.Name == "":
			details = append(details, fmt.Sprintf("branches[%d].name: required", i))
		case seen[b.Name]:
			details = append(details, fmt.Sprintf("branches[%d].name: duplicate branch name %q", i, b.Name))
		}
		seen[b.Name] = true
		if b.MaxTurns < MinMaxTurns || b.MaxTurns > MaxMaxTurns {
			details = append(details, fmt.Sprintf("branches[%d].max_turns: must be between %d and %d", i, MinMaxTurns, MaxMaxTurns))
		}
		if b.Model == "" {
			details = append(details, fmt.Sprintf("branches[%d].model: required", i))
		} else if !IsKnownModel(b.Model) {
			unknown = append(unknown, fmt.Sprintf("branches[%d].model: unknown model '%s'", i, b.Model))
		}
	}

	if len(details) > 0 {
		return &ConfigError{Message: "invalid configuration", Details: append(details, unknown...)}
	}
	if len(unknown) > 0 {
		return &ConfigError{
			Message: "invalid model specified",
			Details: append(unknown, "valid models: "+strings.Join(ModelNames(), ", ")),
		}
	}
	return nil
}

// IsKnownModel reports whether m, with any provider prefix removed, is in
// KnownModels.
func IsKnownModel(m string) bool {
	if i := strings.Index(m, "/"); i >= 0 {
		m = m[i+1:]
	}
	_, ok := KnownModels[m]
	return ok
}

// ModelNames returns KnownModels sorted.
func ModelNames() []string {
	names := make([]string, 0, len(KnownModels))
	for m := range KnownModels {
		names = append(names, m)
	}
	sort.Strings(names)
	return names
}

// envPattern matches ${VAR} and ${VAR:-default}.
var envPattern = regexp.MustCompile(`\$\{([A-Z_][A-Z0-9_]*)(?::-([^}]*))?\}`)

// SubstituteEnv expands ${VAR} and ${VAR:-default}. A reference to an unset
// variable without a default is left as written.
func SubstituteEnv(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		m := envPattern.FindStringSubmatch(match)
		if v, ok := os.LookupEnv(m[1]); ok {
			return v
		}
		if strings.Contains(match, ":-") {
			return m[2]
		}
		return match
	})
}

// substituteNode expands environment references in every scalar value.
func substituteNode(n *yaml.Node) {
	if n.Kind == yaml.ScalarNode {
		if strings.Contains(n.Value, "${") {
			n.Value = SubstituteEnv(n.Value)
			// Plain scalars are re-resolved so ${N} can fill an int
			// field. Quoted ones stay strings.
			if n.Tag == "!!str" && n.Style == 0 {
				n.Tag = ""
			}
		}
		return
	}
	for _, c := range n.Content {
		substituteNode(c)
	}
}

// settingsKeys returns the keys present under settings so explicit zero
// values are not mistaken for omissions.
func settingsKeys(doc *yaml.Node) map[string]bool {
	keys := map[string]bool{}
	for i := 0; i+1 < len(doc.Content); i += 2 {
		if doc.Content[i].Value != "settings" {
			continue
		}
		s := doc.Content[i+1]
		for j := 0; j+1 < len(s.Content); j += 2 {
			keys[s.Content[j].Value] = true
		}
	}
	return keys
}

func mergeSettings(base, file Settings, present map[string]bool) Settings {
	if present["max_turns"] {
		base.MaxTurns = file.MaxTurns
	}
	if present["timeout_seconds"] {
		base.TimeoutSeconds = file.TimeoutSeconds
	}
	if present["save_results"] {
		base.SaveResults = file.SaveResults
	}
	if present["output_dir"] {
		base.OutputDir = file.OutputDir
	}
	if present["max_concurrency"] {
		base.MaxConcurrency = file.MaxConcurrency
	}
	if present["provider"] {
		base.Provider = file.Provider
	}
	return base
}

// ProjectConfig holds project-level settings loaded from replaylab.yml.
// Environment variables override file values.
type ProjectConfig struct {
	ArchiveDir        string `yaml:"archiveDir,omitempty"`
	DBPath            string `yaml:"dbPath,omitempty"`
	OutputDir         string `yaml:"outputDir,omitempty"`
	TemporalAddress   string `yaml:"temporalAddress,omitempty"`
	TemporalNamespace string `yaml:"temporalNamespace,omitempty"`
	OpenAIBaseURL     string `yaml:"openaiBaseURL,omitempty"`
	LogLevel          string `yaml:"logLevel,omitempty"`
}

// Load attempts to read replaylab.yml or replaylab.yaml from the given
// directory, then applies environment overrides. A missing file yields a
// config built from the environment alone.
func Load(dir string) (*ProjectConfig, error) {
	cfg := &ProjectConfig{}
	for _, name := range []string{"replaylab.yml", "replaylab.yaml"} {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if err := yaml.Unmarshal([]byte(SubstituteEnv(string(data))), cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		break
	}
	cfg.applyEnv(os.LookupEnv)
	return cfg, nil
}

func (c *ProjectConfig) applyEnv(lookup func(string) (string, bool)) {
	for key, field := range map[string]*string{
		"REPLAYLAB_ARCHIVE":   &c.ArchiveDir,
		"REPLAYLAB_DB":        &c.DBPath,
		"REPLAYLAB_OUTPUT":    &c.OutputDir,
		"TEMPORAL_ADDRESS":    &c.TemporalAddress,
		"TEMPORAL_NAMESPACE":  &c.TemporalNamespace,
		"OPENAI_BASE_URL":     &c.OpenAIBaseURL,
		"REPLAYLAB_LOG_LEVEL": &c.LogLevel,
	} {
		if v, ok := lookup(key); ok && v != "" {
			*field = v
		}
	}
}
