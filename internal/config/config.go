package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/joelkehle/civic-associations/internal/extraction"
	"github.com/joelkehle/civic-associations/internal/sections"
	"github.com/joelkehle/civic-associations/internal/verify"
)

const (
	defaultConfigPath = "config/pipeline.yaml"
	defaultDBPath     = "data/civic_associations.db"
	defaultLogMode    = "prod"
	defaultTimeoutSec = 30
)

type LLMConfig struct {
	ModelName   string  `yaml:"model_name"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int64   `yaml:"max_tokens"`
	TimeoutSec  int     `yaml:"timeout_sec"`
}

type VerificationConfig struct {
	MinSimilarity     float64 `yaml:"min_similarity"`
	MinExactMatchRuns int     `yaml:"min_exact_match_runs"`
	MinNameLength     int     `yaml:"min_name_length"`
	Grouping          string  `yaml:"grouping"`
}

type ExtractionConfig struct {
	Repeats      int    `yaml:"repeats"`
	Concurrency  int    `yaml:"concurrency"`
	SystemPrompt string `yaml:"system_prompt"`
}

type OCRConfig struct {
	Backend             string   `yaml:"backend"`
	Languages           []string `yaml:"languages"`
	ConfidenceThreshold float64  `yaml:"confidence_threshold"`
}

type SectionsConfig struct {
	Keywords []string `yaml:"keywords"`
}

// Config is the pipeline configuration. It is loaded once per command and
// passed to constructors explicitly.
type Config struct {
	LLM          LLMConfig          `yaml:"llm"`
	Verification VerificationConfig `yaml:"verification"`
	Extraction   ExtractionConfig   `yaml:"extraction"`
	OCR          OCRConfig          `yaml:"ocr"`
	Sections     SectionsConfig     `yaml:"sections"`
	DBPath       string             `yaml:"db_path"`
	LogMode      string             `yaml:"log_mode"`

	AnthropicAPIKey string `yaml:"-"`
	StrictConfig    bool   `yaml:"-"`
	Path            string `yaml:"-"`
	// Warnings collects non-fatal load problems for the caller to log once a
	// logger exists.
	Warnings []string `yaml:"-"`
}

func Defaults() Config {
	return Config{
		LLM: LLMConfig{
			ModelName:   extraction.DefaultModelName,
			Temperature: extraction.DefaultTemperature,
			MaxTokens:   extraction.DefaultMaxTokens,
			TimeoutSec:  defaultTimeoutSec,
		},
		Verification: VerificationConfig{
			MinSimilarity:     verify.DefaultMinSimilarity,
			MinExactMatchRuns: verify.DefaultMinExactMatchRuns,
			MinNameLength:     verify.DefaultMinNameLength,
			Grouping:          string(verify.GroupByIdentity),
		},
		Extraction: ExtractionConfig{Repeats: 1, Concurrency: 1},
		OCR: OCRConfig{
			Backend:             "tesseract",
			Languages:           []string{"eng"},
			ConfidenceThreshold: 0.5,
		},
		Sections: SectionsConfig{Keywords: append([]string(nil), sections.DefaultKeywords...)},
		DBPath:   defaultDBPath,
		LogMode:  defaultLogMode,
	}
}

// Load reads the YAML file at path (or CIVIC_CONFIG_PATH, or the default
// location), then applies environment overrides and validates the result.
// A missing file falls back to defaults unless STRICT_CONFIG is set.
func Load(path string) (Config, error) {
	cfg := Defaults()
	cfg.StrictConfig = parseBoolEnv("STRICT_CONFIG")
	cfg.Path = firstNonEmpty(path, os.Getenv("CIVIC_CONFIG_PATH"), defaultConfigPath)

	if err := loadFile(cfg.Path, &cfg); err != nil {
		if !errors.Is(err, os.ErrNotExist) || cfg.StrictConfig {
			return cfg, fmt.Errorf("config load failed (%s): %w", cfg.Path, err)
		}
		cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("config file %s not found; using defaults", cfg.Path))
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	cfg.AnthropicAPIKey = strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY"))
	cfg.LLM.ModelName = firstNonEmpty(os.Getenv("LLM_MODEL"), cfg.LLM.ModelName)
	cfg.DBPath = firstNonEmpty(os.Getenv("DB_PATH"), cfg.DBPath)
	cfg.LogMode = firstNonEmpty(os.Getenv("LOG_MODE"), cfg.LogMode)

	if v := strings.TrimSpace(os.Getenv("MIN_SIMILARITY")); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			if cfg.StrictConfig {
				return fmt.Errorf("invalid MIN_SIMILARITY: %w", err)
			}
			cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("invalid MIN_SIMILARITY=%q ignored", v))
		} else {
			cfg.Verification.MinSimilarity = f
		}
	}
	if v := strings.TrimSpace(os.Getenv("MIN_EXACT_MATCH_RUNS")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			if cfg.StrictConfig {
				return fmt.Errorf("invalid MIN_EXACT_MATCH_RUNS: %w", err)
			}
			cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("invalid MIN_EXACT_MATCH_RUNS=%q ignored", v))
		} else {
			cfg.Verification.MinExactMatchRuns = n
		}
	}
	return nil
}

// Validate rejects settings the pipeline cannot run with.
func (c Config) Validate() error {
	var problems []string
	if c.Verification.MinSimilarity < 0 || c.Verification.MinSimilarity > 1 {
		problems = append(problems, fmt.Sprintf("verification.min_similarity must be in [0,1], got %v", c.Verification.MinSimilarity))
	}
	if c.Verification.MinExactMatchRuns < 1 {
		problems = append(problems, fmt.Sprintf("verification.min_exact_match_runs must be >= 1, got %d", c.Verification.MinExactMatchRuns))
	}
	if c.Verification.MinNameLength < 1 {
		problems = append(problems, fmt.Sprintf("verification.min_name_length must be >= 1, got %d", c.Verification.MinNameLength))
	}
	if _, err := verify.ParseGroupMode(c.Verification.Grouping); err != nil {
		problems = append(problems, "verification.grouping: "+err.Error())
	}
	if c.Extraction.Repeats < 1 {
		problems = append(problems, fmt.Sprintf("extraction.repeats must be >= 1, got %d", c.Extraction.Repeats))
	}
	if c.Extraction.Concurrency < 1 {
		problems = append(problems, fmt.Sprintf("extraction.concurrency must be >= 1, got %d", c.Extraction.Concurrency))
	}
	if c.LLM.MaxTokens < 1 {
		problems = append(problems, fmt.Sprintf("llm.max_tokens must be >= 1, got %d", c.LLM.MaxTokens))
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 1 {
		problems = append(problems, fmt.Sprintf("llm.temperature must be in [0,1], got %v", c.LLM.Temperature))
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func (c Config) Policy() verify.Policy {
	return verify.Policy{
		MinSimilarity:     c.Verification.MinSimilarity,
		MinExactMatchRuns: c.Verification.MinExactMatchRuns,
	}
}

// GroupMode returns the validated grouping mode.
func (c Config) GroupMode() verify.GroupMode {
	m, _ := verify.ParseGroupMode(c.Verification.Grouping)
	return m
}

func (c Config) LLMSettings() extraction.Settings {
	return extraction.Settings{
		ModelName:   c.LLM.ModelName,
		Temperature: c.LLM.Temperature,
		MaxTokens:   c.LLM.MaxTokens,
		Timeout:     time.Duration(c.LLM.TimeoutSec) * time.Second,
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func parseBoolEnv(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes"
}
