package envstruct_test

import (
	"strings"
	"testing"
	"time"

	"github.com/myrjola/valuebench/internal/envstruct"
	"github.com/stretchr/testify/require"
)

func TestPopulate(t *testing.T) {
	type args struct {
		v         any
		lookupEnv func(string) (string, bool)
	}
	unset := func(_ string) (string, bool) { return "", false }
	tests := []struct {
		name    string
		args    args
		want    any
		wantErr error
	}{
		{
			name:    "nil",
			args:    args{v: nil, lookupEnv: unset},
			want:    nil,
			wantErr: envstruct.ErrInvalidValue,
		},
		{
			name:    "not pointer",
			args:    args{v: struct{}{}, lookupEnv: unset},
			want:    nil,
			wantErr: envstruct.ErrInvalidValue,
		},
		{
			name:    "empty struct",
			args:    args{v: &struct{}{}, lookupEnv: unset},
			want:    &struct{}{},
			wantErr: nil,
		},
		{
			name: "empty env",
			args: args{
				v: &struct { //nolint:exhaustruct // populated later
					EnvVar string `env:"ENV_VAR"`
				}{},
				lookupEnv: unset,
			},
			want:    nil,
			wantErr: envstruct.ErrEnvNotSet,
		},
		{
			name: "picks correct env variable",
			args: args{
				v: &struct { //nolint:exhaustruct // populated later
					EnvVar     string `env:"ENV_VAR"`
					EnvVar2    string `env:"ENV_VAR2"`
					OtherValue string
				}{},
				lookupEnv: func(s string) (string, bool) { return strings.ToLower(s), true },
			},
			want: &struct {
				EnvVar     string `env:"ENV_VAR"`
				EnvVar2    string `env:"ENV_VAR2"`
				OtherValue string
			}{EnvVar: "env_var", EnvVar2: "env_var2", OtherValue: ""},
			wantErr: nil,
		},
		{
			name: "handles default values of every supported type",
			args: args{
				v: &struct { //nolint:exhaustruct // populated later
					Name    string        `env:"NAME" envDefault:"cases"`
					Retries int           `env:"RETRIES" envDefault:"5"`
					Verbose bool          `env:"VERBOSE" envDefault:"true"`
					Timeout time.Duration `env:"TIMEOUT" envDefault:"30s"`
				}{},
				lookupEnv: unset,
			},
			want: &struct {
				Name    string        `env:"NAME" envDefault:"cases"`
				Retries int           `env:"RETRIES" envDefault:"5"`
				Verbose bool          `env:"VERBOSE" envDefault:"true"`
				Timeout time.Duration `env:"TIMEOUT" envDefault:"30s"`
			}{Name: "cases", Retries: 5, Verbose: true, Timeout: 30 * time.Second},
			wantErr: nil,
		},
		{
			name: "rejects malformed int",
			args: args{
				v: &struct { //nolint:exhaustruct // populated later
					Retries int `env:"RETRIES"`
				}{},
				lookupEnv: func(_ string) (string, bool) { return "many", true },
			},
			want:    nil,
			wantErr: envstruct.ErrParse,
		},
		{
			name: "rejects unsupported types",
			args: args{
				v: &struct { //nolint:exhaustruct // populated later
					Ratio float64 `env:"RATIO"`
				}{},
				lookupEnv: func(_ string) (string, bool) { return "0.5", true },
			},
			want:    nil,
			wantErr: envstruct.ErrInvalidValue,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			v := tt.args.v
			err := envstruct.Populate(v, tt.args.lookupEnv)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				require.EqualValues(t, tt.want, v)
			}
		})
	}
}
