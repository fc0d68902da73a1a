// Package config collects the settings of the valuebench command from the environment and the sheets config file.
package config

import (
	"bytes"
	"log/slog"
	"os"
	"time"

	"github.com/myrjola/valuebench/internal/envstruct"
	"github.com/myrjola/valuebench/internal/errors"
	"github.com/myrjola/valuebench/internal/logging"
	"github.com/myrjola/valuebench/internal/models"
	"github.com/myrjola/valuebench/internal/sheets"
	"gopkg.in/yaml.v3"
)

var ErrInvalidConfig = errors.NewSentinel("invalid configuration")

type Config struct {
	SQLiteURL    string `env:"VALUEBENCH_SQLITE_URL" envDefault:"./valuebench.sqlite"`
	SessionsDir  string `env:"VALUEBENCH_SESSIONS_DIR" envDefault:"./data/sessions"`
	SheetsConfig string `env:"VALUEBENCH_SHEETS_CONFIG" envDefault:"./sheets_config.yaml"`
	// DecisionPolicy decides what happens when a decided case receives another decision.
	DecisionPolicy string `env:"VALUEBENCH_DECISION_POLICY" envDefault:"last-writer-wins"`
	LogLevel       string `env:"VALUEBENCH_LOG_LEVEL" envDefault:"info"`
	// MetricsFile receives the counters of a run in the textfile collector format. Empty disables it.
	MetricsFile string `env:"VALUEBENCH_METRICS_FILE" envDefault:""`
	// PprofAddr serves runtime profiles while a command runs, e.g. "localhost:6060". Empty disables it.
	PprofAddr string `env:"VALUEBENCH_PPROF_ADDR" envDefault:""`

	policy models.DecisionPolicy
	level  slog.Level
}

// Load reads the configuration through lookupEnv, which has the signature of [os.LookupEnv].
func Load(lookupEnv func(string) (string, bool)) (Config, error) {
	var cfg Config
	if err := envstruct.Populate(&cfg, lookupEnv); err != nil {
		return cfg, errors.Wrap(err, "populate config")
	}
	var err error
	if cfg.policy, err = models.ParseDecisionPolicy(cfg.DecisionPolicy); err != nil {
		return cfg, errors.Wrap(ErrInvalidConfig, err.Error())
	}
	if cfg.level, err = logging.ParseLevel(cfg.LogLevel); err != nil {
		return cfg, errors.Wrap(ErrInvalidConfig, err.Error())
	}
	return cfg, nil
}

func (c Config) Policy() models.DecisionPolicy {
	return c.policy
}

func (c Config) Level() slog.Level {
	return c.level
}

// Sheets describes the spreadsheet holding the review rows and how to talk to it.
type Sheets struct {
	SpreadsheetID   string        `yaml:"spreadsheet_id"`
	SheetName       string        `yaml:"sheet_name"`
	CredentialsPath string        `yaml:"credentials_path"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	Retry           Retry         `yaml:"retry"`
}

type Retry struct {
	MaxAttempts     int           `yaml:"max_attempts"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
}

func defaultSheets() Sheets {
	return Sheets{
		SpreadsheetID:   "",
		SheetName:       "Cases",
		CredentialsPath: "",
		RequestTimeout:  30 * time.Second,
		Retry: Retry{
			MaxAttempts:     5,
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     10 * time.Second,
		},
	}
}

// LoadSheets reads the YAML sheets config at path. Omitted keys keep their defaults and unknown keys are rejected.
func LoadSheets(path string) (Sheets, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Sheets{}, errors.Wrap(err, "read sheets config", slog.String("path", path))
	}
	return ParseSheets(data)
}

func ParseSheets(data []byte) (Sheets, error) {
	s := defaultSheets()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return Sheets{}, errors.Wrap(errors.Join(ErrInvalidConfig, err), "decode sheets config")
	}
	if s.SpreadsheetID == "" {
		return Sheets{}, errors.Wrap(ErrInvalidConfig, "spreadsheet_id is required")
	}
	if s.SheetName == "" {
		return Sheets{}, errors.Wrap(ErrInvalidConfig, "sheet_name is empty")
	}
	if s.RequestTimeout <= 0 || s.Retry.MaxAttempts < 1 {
		return Sheets{}, errors.Wrap(ErrInvalidConfig, "request_timeout and retry.max_attempts must be positive")
	}
	return s, nil
}

func (s Sheets) RetryConfig() sheets.RetryConfig {
	return sheets.RetryConfig{
		MaxAttempts:     s.Retry.MaxAttempts,
		InitialInterval: s.Retry.InitialInterval,
		MaxInterval:     s.Retry.MaxInterval,
		Timeout:         s.RequestTimeout,
	}
}
