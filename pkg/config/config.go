// Package config loads orchestra settings with koanf. Sources are layered,
// later ones winning: built-in defaults, the YAML file, the profile file
// next to it (config.<profile>.yaml), ORCHESTRA_ environment variables and
// --set key=value overrides.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/jllopis/orchestra/pkg/resilience"
	"github.com/jllopis/orchestra/pkg/telemetry"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "ORCHESTRA_"

type Config struct {
	Log       LogConfig        `koanf:"log"`
	Telemetry telemetry.Config `koanf:"telemetry"`
	Engine    EngineConfig     `koanf:"engine"`
	Executor  ExecutorConfig   `koanf:"executor"`
	Store     StoreConfig      `koanf:"store"`
	Roster    RosterConfig     `koanf:"roster"`
	Plans     PlansConfig      `koanf:"plans"`
	Guard     GuardConfig      `koanf:"guardrails"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

// EngineConfig mirrors the engine options. Zero values keep engine defaults.
type EngineConfig struct {
	MaxIterations     int                    `koanf:"max_iterations"`
	PollInterval      time.Duration          `koanf:"poll_interval"`
	MaxParallel       int                    `koanf:"max_parallel"`
	TaskTimeout       time.Duration          `koanf:"task_timeout"`
	AbandonDeadlocked bool                   `koanf:"abandon_deadlocked"`
	Backoff           resilience.RetryConfig `koanf:"backoff"`
}

type ExecutorConfig struct {
	// Mode is "llm" for provider-backed workers or "echo" for an offline
	// executor that answers with the task description.
	Mode string `koanf:"mode"`
	// Providers lists provider names in fallback order.
	Providers   []string        `koanf:"providers"`
	Fallback    bool            `koanf:"fallback"`
	Temperature float64         `koanf:"temperature"`
	MaxTokens   int             `koanf:"max_tokens"`
	RateLimit   RateLimitConfig `koanf:"rate_limit"`
	Breaker     BreakerConfig   `koanf:"breaker"`
	Anthropic   AnthropicConfig `koanf:"anthropic"`
	Ollama      OllamaConfig    `koanf:"ollama"`
}

type RateLimitConfig struct {
	PerSecond float64 `koanf:"per_second"`
	Burst     int     `koanf:"burst"`
}

type BreakerConfig struct {
	MaxFailures uint32        `koanf:"max_failures"`
	Timeout     time.Duration `koanf:"timeout"`
	Interval    time.Duration `koanf:"interval"`
}

type AnthropicConfig struct {
	Model   string `koanf:"model"`
	APIKey  string `koanf:"api_key"`
	BaseURL string `koanf:"base_url"`
}

type OllamaConfig struct {
	Model   string `koanf:"model"`
	BaseURL string `koanf:"base_url"`
}

type StoreConfig struct {
	Driver string `koanf:"driver"` // sqlite, memory, none
	DSN    string `koanf:"dsn"`
}

type RosterConfig struct {
	// File is an optional YAML roster merged over the built-in one.
	File string `koanf:"file"`
}

type PlansConfig struct {
	SweepInterval time.Duration `koanf:"sweep_interval"`
	Retention     time.Duration `koanf:"retention"`
}

// GuardConfig selects the request screeners and output scrubbers.
type GuardConfig struct {
	PromptInjection bool     `koanf:"prompt_injection"`
	Threshold       float64  `koanf:"threshold"`
	Patterns        []string `koanf:"patterns"`
	PII             string   `koanf:"pii"` // mask, hash, off
	PIIKinds        []string `koanf:"pii_kinds"`
}

var defaults = map[string]any{
	"log.level":  "info",
	"log.format": "text",

	"telemetry.exporter": telemetry.ExporterNone,

	"engine.max_iterations": 100,
	"engine.poll_interval":  "100ms",

	"executor.mode":                 "llm",
	"executor.providers":            []string{"ollama"},
	"executor.fallback":             true,
	"executor.temperature":          0.2,
	"executor.max_tokens":           2048,
	"executor.rate_limit.per_second": 2.0,
	"executor.rate_limit.burst":     4,
	"executor.breaker.max_failures": 5,
	"executor.breaker.timeout":      "30s",
	"executor.breaker.interval":     "1m",
	"executor.ollama.base_url":      "http://localhost:11434",
	"executor.ollama.model":         "llama3.1",
	"executor.anthropic.model":      "claude-sonnet-4-20250514",

	"store.driver": "sqlite",
	"store.dsn":    "orchestra.db",

	"plans.sweep_interval": "1m",
	"plans.retention":      "1h",

	"guardrails.prompt_injection": true,
	"guardrails.pii":              "off",
}

// Load reads defaults, the file at path (may be empty) and the environment.
func Load(path string) (*Config, error) {
	return LoadWithProfile(path, "")
}

// LoadWithProfile is Load plus the profile file next to path, if present.
func LoadWithProfile(path, profile string) (*Config, error) {
	return load(path, profile, nil)
}

// LoadWithCLI loads configuration from command line arguments. It
// understands --config, --profile (alias --env) and repeated --set
// key=value, in both "--flag value" and "--flag=value" forms. Values given
// to --set are decoded as JSON when possible.
func LoadWithCLI(args []string) (*Config, error) {
	opts, sets, err := parseCLIOverrides(args)
	if err != nil {
		return nil, err
	}
	return load(opts.path, opts.profile, sets)
}

func load(path, profile string, sets map[string]any) (*Config, error) {
	k := koanf.New(".")
	for key, value := range defaults {
		if err := k.Set(key, value); err != nil {
			return nil, err
		}
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
		if extra := profileConfigPath(path, profile); extra != "" {
			if err := k.Load(file.Provider(extra), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("load profile %s: %w", extra, err)
			}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, err
	}

	for key, value := range sets {
		if err := k.Set(key, value); err != nil {
			return nil, fmt.Errorf("apply --set %s: %w", key, err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps ORCHESTRA_ENGINE_MAX_ITERATIONS to engine.max_iterations.
// The first underscore separates the section; a double underscore nests
// deeper, as in ORCHESTRA_EXECUTOR_OLLAMA__BASE_URL.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	section, rest, ok := strings.Cut(s, "_")
	if !ok {
		return section
	}
	return section + "." + strings.ReplaceAll(rest, "__", ".")
}

// profileConfigPath returns config.<profile>.yaml next to base when it
// exists.
func profileConfigPath(base, profile string) string {
	if base == "" || profile == "" {
		return ""
	}
	ext := filepath.Ext(base)
	candidate := strings.TrimSuffix(base, ext) + "." + profile + ext
	if _, err := os.Stat(candidate); err != nil {
		return ""
	}
	return candidate
}

type cliOptions struct {
	path    string
	profile string
}

func parseCLIOverrides(args []string) (cliOptions, map[string]any, error) {
	var opts cliOptions
	sets := map[string]any{}

	for i := 0; i < len(args); i++ {
		name, value, inline := strings.Cut(args[i], "=")
		switch name {
		case "--config", "--profile", "--env", "--set":
		default:
			continue
		}
		if !inline {
			if i+1 >= len(args) {
				return opts, nil, fmt.Errorf("%s requires a value", name)
			}
			i++
			value = args[i]
		}
		switch name {
		case "--config":
			opts.path = value
		case "--profile", "--env":
			opts.profile = value
		case "--set":
			key, raw, ok := strings.Cut(value, "=")
			key = strings.TrimSpace(key)
			if !ok || key == "" {
				return opts, nil, fmt.Errorf("--set expects key=value, got %q", value)
			}
			sets[key] = decodeValue(raw)
		}
	}
	return opts, sets, nil
}

func decodeValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v
	}
	return raw
}
