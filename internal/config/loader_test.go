package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rperrors "github.com/flxbl-io/envlock/internal/errors"
	"github.com/flxbl-io/envlock/internal/lockclient"
)

// clearEnv unsets every variable the loader reads for the duration of t.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range Keys {
		for _, name := range []string{InputEnv(key), PrefixedEnv(key)} {
			t.Setenv(name, "")
			os.Unsetenv(name)
		}
	}
}

func TestLoader_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 60, cfg.Duration)
	assert.Equal(t, "0", cfg.WaitTimeout)
	assert.True(t, cfg.AutoUnlock)
	assert.Equal(t, lockclient.SFPServerDialect, cfg.Dialect)
	assert.Equal(t, "sf", cfg.AuthBinary)
	assert.False(t, cfg.AuthEnabled)
	assert.Equal(t, 1, cfg.UnlockAttempts)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Empty(t, cfg.SFPBinary)
}

func TestLoader_ActionInputs(t *testing.T) {
	clearEnv(t)
	t.Setenv("INPUT_ENVIRONMENT", " uat ")
	t.Setenv("INPUT_SFP-SERVER-URL", "https://sfp.example.com")
	t.Setenv("INPUT_SFP-SERVER-TOKEN", "tok")
	t.Setenv("INPUT_DURATION", "30")
	t.Setenv("INPUT_WAIT-TIMEOUT", "15")
	t.Setenv("INPUT_AUTO-UNLOCK", "false")
	t.Setenv("INPUT_AUTH-ENABLED", "true")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, "uat", cfg.Environment)
	assert.Equal(t, "https://sfp.example.com", cfg.ServerURL)
	assert.Equal(t, "tok", cfg.ServerToken)
	assert.Equal(t, 30, cfg.Duration)
	assert.Equal(t, "15", cfg.WaitTimeout)
	assert.False(t, cfg.AutoUnlock)
	assert.True(t, cfg.AuthEnabled)
}

func TestLoader_InputBeatsPrefixed(t *testing.T) {
	clearEnv(t)
	t.Setenv("ENVLOCK_ENVIRONMENT", "from-prefix")
	t.Setenv("ENVLOCK_SFP_SERVER_URL", "https://prefixed.example.com")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	assert.Equal(t, "from-prefix", cfg.Environment)
	assert.Equal(t, "https://prefixed.example.com", cfg.ServerURL)

	t.Setenv("INPUT_ENVIRONMENT", "from-input")
	cfg, err = NewLoader().Load()
	require.NoError(t, err)
	assert.Equal(t, "from-input", cfg.Environment)
}

func TestLoader_ConfigFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("TEST_SFP_TOKEN", "file-token")

	dir := t.TempDir()
	content := `environment: qa
sfp-server-url: https://sfp.example.com
sfp-server-token: ${TEST_SFP_TOKEN}
duration: 90
unlock-attempts: 3
log-level: DEBUG
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "envlock.yaml"), []byte(content), 0o600))

	l := NewLoader().WithSearchPaths(dir)
	cfg, err := l.Load()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "envlock.yaml"), l.GetConfigPath())
	assert.Equal(t, "qa", cfg.Environment)
	assert.Equal(t, "file-token", cfg.ServerToken)
	assert.Equal(t, 90, cfg.Duration)
	assert.Equal(t, 3, cfg.UnlockAttempts)
	assert.Equal(t, "debug", cfg.LogLevel)

	// Environment beats the file.
	t.Setenv("INPUT_ENVIRONMENT", "uat")
	cfg, err = NewLoader().WithSearchPaths(dir).Load()
	require.NoError(t, err)
	assert.Equal(t, "uat", cfg.Environment)
}

func TestLoader_ExplicitConfigPathMissing(t *testing.T) {
	clearEnv(t)

	_, err := NewLoader().WithConfigPath(filepath.Join(t.TempDir(), "nope.yaml")).Load()
	require.Error(t, err)
	assert.True(t, rperrors.IsKind(err, rperrors.KindConfig))
}

func TestLoader_InvalidNumber(t *testing.T) {
	clearEnv(t)
	t.Setenv("INPUT_DURATION", "an hour")

	_, err := NewLoader().Load()
	require.Error(t, err)
	assert.True(t, rperrors.IsKind(err, rperrors.KindConfig))
}

func TestLoader_BindFlags(t *testing.T) {
	clearEnv(t)
	t.Setenv("INPUT_ENVIRONMENT", "from-input")
	t.Setenv("INPUT_REASON", "nightly")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("environment", "", "")
	fs.String("reason", "", "")
	fs.Int("duration", 60, "")
	fs.Bool("unrelated", false, "")
	require.NoError(t, fs.Parse([]string{"--environment", "from-flag", "--duration", "5"}))

	l := NewLoader()
	require.NoError(t, l.BindFlags(fs))
	cfg, err := l.Load()
	require.NoError(t, err)

	assert.Equal(t, "from-flag", cfg.Environment)
	assert.Equal(t, 5, cfg.Duration)
	assert.Equal(t, "nightly", cfg.Reason, "unset flags do not mask the environment")
}

func TestExpandEnvVar(t *testing.T) {
	env := map[string]string{"TOKEN": "abc", "HOST": "sfp.example.com"}
	l := NewLoader()
	l.getenv = func(k string) string { return env[k] }

	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"plain", "plain"},
		{"${TOKEN}", "abc"},
		{"$TOKEN", "abc"},
		{"https://${HOST}/api", "https://sfp.example.com/api"},
		{"${MISSING:-fallback}", "fallback"},
		{"${MISSING}", ""},
		{"$MISSING", "$MISSING"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, l.expandEnvVar(tt.in))
		})
	}
}

func TestEnvNames(t *testing.T) {
	assert.Equal(t, "INPUT_SFP-SERVER-URL", InputEnv("sfp-server-url"))
	assert.Equal(t, "ENVLOCK_SFP_SERVER_URL", PrefixedEnv("sfp-server-url"))
}

func TestDefaultStateFile(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{
			name: "github run",
			env:  map[string]string{"RUNNER_TEMP": "/runner/tmp", "GITHUB_RUN_ID": "42", "GITHUB_RUN_ATTEMPT": "2"},
			want: filepath.Join("/runner/tmp", "envlock", "state-42-2.json"),
		},
		{
			name: "other ci",
			env:  map[string]string{"RUNNER_TEMP": "/runner/tmp", "CI_PIPELINE_ID": "p/7"},
			want: filepath.Join("/runner/tmp", "envlock", "state-p_7.json"),
		},
		{
			name: "local",
			env:  map[string]string{},
			want: filepath.Join(os.TempDir(), "envlock", "state-local.json"),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DefaultStateFile(func(k string) string { return tt.env[k] })
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConfig_LockRequest(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Environment = "uat"
	cfg.WaitTimeout = "15"
	cfg.Duration = 0

	req, err := cfg.LockRequest("acme/app")
	require.NoError(t, err)
	assert.Equal(t, lockclient.DefaultDurationMinutes, req.DurationMinutes)
	assert.Equal(t, 15, req.Wait.Minutes())

	_, err = cfg.LockRequest("")
	assert.True(t, rperrors.IsKind(err, rperrors.KindConfig))

	cfg.UnlockAttempts = 4
	assert.Equal(t, 4, cfg.UnlockRetry().Attempts)
}
