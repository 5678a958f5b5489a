package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	rperrors "github.com/flxbl-io/envlock/internal/errors"
)

var (
	// envVarPattern matches ${VAR} or ${VAR:-default} syntax
	envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)
	// simpleEnvVarPattern matches $VAR syntax
	simpleEnvVarPattern = regexp.MustCompile(`\$([A-Za-z_][A-Za-z0-9_]*)`)
)

// EnvPrefix prefixes the environment variables read outside GitHub Actions.
const EnvPrefix = "ENVLOCK"

// Loader handles configuration loading and merging.
type Loader struct {
	v           *viper.Viper
	configPath  string
	searchPaths []string
	getenv      func(string) string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		v:           viper.New(),
		searchPaths: []string{"."},
		getenv:      os.Getenv,
	}
}

// WithConfigPath sets an explicit config file path.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithSearchPaths adds directories to search for config files.
func (l *Loader) WithSearchPaths(paths ...string) *Loader {
	l.searchPaths = append(l.searchPaths, paths...)
	return l
}

// BindFlags binds command-line flags to their keys. Only flags registered
// under a configuration key are bound; a flag overrides every other source
// only when it was set.
func (l *Loader) BindFlags(fs *pflag.FlagSet) error {
	const op = "config.BindFlags"

	for _, key := range Keys {
		f := fs.Lookup(key)
		if f == nil {
			continue
		}
		if err := l.v.BindPFlag(key, f); err != nil {
			return rperrors.ConfigWrap(err, op, "failed to bind flag "+key)
		}
	}
	return nil
}

// Load loads the configuration. Sources in order of precedence: flags,
// action inputs (INPUT_*), ENVLOCK_* variables, config file, defaults.
func (l *Loader) Load() (*Config, error) {
	const op = "config.Load"

	l.setDefaults()

	if err := l.bindEnv(); err != nil {
		return nil, rperrors.ConfigWrap(err, op, "failed to bind environment")
	}

	if err := l.loadConfigFile(); err != nil {
		return nil, rperrors.ConfigWrap(err, op, "failed to load config file")
	}

	cfg := &Config{}
	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, rperrors.ConfigWrap(err, op, "failed to unmarshal config")
	}

	l.expandEnvVars(cfg)
	trim(cfg)

	return cfg, nil
}

// setDefaults sets default values using Viper.
func (l *Loader) setDefaults() {
	defaults := DefaultConfig()

	l.v.SetDefault("duration", defaults.Duration)
	l.v.SetDefault("wait-timeout", defaults.WaitTimeout)
	l.v.SetDefault("auto-unlock", defaults.AutoUnlock)
	l.v.SetDefault("dialect", defaults.Dialect)
	l.v.SetDefault("auth-enabled", defaults.AuthEnabled)
	l.v.SetDefault("auth-binary", defaults.AuthBinary)
	l.v.SetDefault("unlock-attempts", defaults.UnlockAttempts)
	l.v.SetDefault("log-level", defaults.LogLevel)
}

// bindEnv binds each key to its action input variable, then to its
// prefixed variable. The runner passes inputs as INPUT_<NAME> with the name
// upper-cased and hyphens kept.
func (l *Loader) bindEnv() error {
	for _, key := range Keys {
		if err := l.v.BindEnv(key, InputEnv(key), PrefixedEnv(key)); err != nil {
			return err
		}
	}
	return nil
}

// InputEnv returns the GitHub Actions input variable for key.
func InputEnv(key string) string {
	return "INPUT_" + strings.ToUpper(strings.ReplaceAll(key, " ", "_"))
}

// PrefixedEnv returns the ENVLOCK_ variable for key.
func PrefixedEnv(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
}

// FindConfigFile returns the first config file found in the search paths,
// or an empty string.
func (l *Loader) FindConfigFile() string {
	if l.configPath != "" {
		return l.configPath
	}

	for _, searchPath := range l.searchPaths {
		for _, name := range ConfigFileNames {
			for _, ext := range ConfigFileExtensions {
				configFile := filepath.Join(searchPath, name+"."+ext)
				if _, err := os.Stat(configFile); err == nil {
					return configFile
				}
			}
		}
	}
	return ""
}

// loadConfigFile loads the configuration file.
func (l *Loader) loadConfigFile() error {
	configFile := l.FindConfigFile()
	if configFile == "" {
		// No config file found - this is OK, we use defaults
		return nil
	}

	l.v.SetConfigFile(configFile)
	if err := l.v.ReadInConfig(); err != nil {
		return fmt.Errorf("reading config file %s: %w", configFile, err)
	}
	return nil
}

// GetConfigPath returns the path to the loaded config file, if any.
func (l *Loader) GetConfigPath() string {
	return l.v.ConfigFileUsed()
}

// expandEnvVars expands environment variables in fields a config file may
// reference indirectly.
func (l *Loader) expandEnvVars(cfg *Config) {
	cfg.ServerURL = l.expandEnvVar(cfg.ServerURL)
	cfg.ServerToken = l.expandEnvVar(cfg.ServerToken)
	cfg.StateFile = l.expandEnvVar(cfg.StateFile)
	cfg.SFPBinary = l.expandEnvVar(cfg.SFPBinary)
	cfg.AuthBinary = l.expandEnvVar(cfg.AuthBinary)
}

// expandEnvVar expands environment variables in a string.
// Supports both ${VAR} and $VAR syntax.
func (l *Loader) expandEnvVar(s string) string {
	if s == "" {
		return s
	}

	result := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		submatch := envVarPattern.FindStringSubmatch(match)
		if len(submatch) < 2 {
			return match
		}

		varName := submatch[1]
		defaultValue := ""
		if len(submatch) > 2 {
			defaultValue = submatch[2]
		}

		if value := l.getenv(varName); value != "" {
			return value
		}
		return defaultValue
	})

	// Unknown $VAR references are left as written.
	result = simpleEnvVarPattern.ReplaceAllStringFunc(result, func(match string) string {
		if value := l.getenv(match[1:]); value != "" {
			return value
		}
		return match
	})

	return result
}

func trim(cfg *Config) {
	for _, s := range []*string{
		&cfg.Environment,
		&cfg.ServerURL,
		&cfg.ServerToken,
		&cfg.Repository,
		&cfg.Reason,
		&cfg.WaitTimeout,
		&cfg.Dialect,
		&cfg.SFPBinary,
		&cfg.AuthBinary,
		&cfg.StateFile,
		&cfg.LogLevel,
	} {
		*s = strings.TrimSpace(*s)
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
}
