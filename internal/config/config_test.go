package config_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/myrjola/valuebench/internal/config"
	"github.com/myrjola/valuebench/internal/models"
	"github.com/stretchr/testify/require"
)

func lookup(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestLoad(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		env     map[string]string
		policy  models.DecisionPolicy
		level   slog.Level
		wantErr bool
	}{
		{
			name:   "defaults",
			env:    map[string]string{},
			policy: models.LastWriterWins,
			level:  slog.LevelInfo,
		},
		{
			name: "overrides",
			env: map[string]string{
				"VALUEBENCH_DECISION_POLICY": "two-reviewers",
				"VALUEBENCH_LOG_LEVEL":       "debug",
			},
			policy: models.TwoReviewers,
			level:  slog.LevelDebug,
		},
		{
			name:    "unknown policy",
			env:     map[string]string{"VALUEBENCH_DECISION_POLICY": "loudest-wins"},
			wantErr: true,
		},
		{
			name:    "unknown level",
			env:     map[string]string{"VALUEBENCH_LOG_LEVEL": "chatty"},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg, err := config.Load(lookup(tt.env))
			if tt.wantErr {
				require.ErrorIs(t, err, config.ErrInvalidConfig)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.policy, cfg.Policy())
			require.Equal(t, tt.level, cfg.Level())
			require.Equal(t, "./valuebench.sqlite", cfg.SQLiteURL)
			require.Empty(t, cfg.MetricsFile)
		})
	}
}

func TestLoadSheets(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "sheets_config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`spreadsheet_id: abc123
retry:
  max_attempts: 3
  initial_interval: 250ms
`), 0o600))

	s, err := config.LoadSheets(path)
	require.NoError(t, err)
	require.Equal(t, "abc123", s.SpreadsheetID)
	require.Equal(t, "Cases", s.SheetName)
	rc := s.RetryConfig()
	require.Equal(t, 3, rc.MaxAttempts)
	require.Equal(t, 250*time.Millisecond, rc.InitialInterval)
	require.Equal(t, 10*time.Second, rc.MaxInterval)
	require.Equal(t, 30*time.Second, rc.Timeout)

	_, err = config.LoadSheets(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestParseSheets_Invalid(t *testing.T) {
	t.Parallel()
	for name, doc := range map[string]string{
		"missing id":   "sheet_name: Cases\n",
		"unknown key":  "spreadsheet_id: x\ncolour: blue\n",
		"zero retries": "spreadsheet_id: x\nretry:\n  max_attempts: 0\n",
		"bad duration": "spreadsheet_id: x\nrequest_timeout: soon\n",
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := config.ParseSheets([]byte(doc))
			require.ErrorIs(t, err, config.ErrInvalidConfig)
		})
	}
}
