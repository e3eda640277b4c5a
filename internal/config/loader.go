package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"regexp"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/zero-day-ai/verdict/internal/finding"
	"github.com/zero-day-ai/verdict/internal/types"
)

// ConfigLoader loads configuration from files.
type ConfigLoader interface {
	Load(path string) (*Config, error)
	LoadWithDefaults(path string) (*Config, error)
}

type viperConfigLoader struct {
	validator ConfigValidator
}

// NewConfigLoader creates a loader that validates with validator.
func NewConfigLoader(validator ConfigValidator) ConfigLoader {
	return &viperConfigLoader{validator: validator}
}

// Load reads the YAML file at path, interpolates ${VAR} references, applies
// VERDICT_* environment overrides and defaults, and validates the result.
func (l *viperConfigLoader) Load(path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, types.NewError(types.CONFIG_NOT_FOUND, fmt.Sprintf("config file not found: %s", path))
		}
		return nil, types.WrapError(types.CONFIG_LOAD_FAILED, "failed to stat config file", err)
	}

	v := newViper()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, types.WrapError(types.CONFIG_LOAD_FAILED, "failed to read config file", err)
	}
	return l.decode(v)
}

// LoadWithDefaults behaves like Load but falls back to DefaultConfig, still
// subject to environment overrides, when path does not exist.
func (l *viperConfigLoader) LoadWithDefaults(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return l.decode(newViper())
	}
	return l.Load(path)
}

func (l *viperConfigLoader) decode(v *viper.Viper) (*Config, error) {
	for _, key := range v.AllKeys() {
		switch val := v.Get(key).(type) {
		case string:
			if strings.Contains(val, "${") {
				v.Set(key, interpolateString(val))
			}
		case []any:
			v.Set(key, interpolateEnvVars(val))
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHooks())); err != nil {
		return nil, types.WrapError(types.CONFIG_PARSE_FAILED, "failed to unmarshal config", err)
	}
	fillCollections(&cfg)
	if err := cfg.ExpandPaths(); err != nil {
		return nil, types.WrapError(types.CONFIG_PARSE_FAILED, "failed to expand paths", err)
	}

	if err := l.validator.Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// decodeHooks turns "30s" into durations, "HIGH,CRITICAL" (as set through
// the environment) into lists, and accepts any casing of the architecture.
func decodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		architectureHook,
	)
}

func architectureHook(from, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String || to != reflect.TypeOf(finding.ArchitectureMode("")) {
		return data, nil
	}
	return strings.ToLower(strings.TrimSpace(reflect.ValueOf(data).String())), nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// setDefaults registers the scalar defaults. Registering a key also makes it
// overridable through AutomaticEnv.
func setDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("audit.architecture", string(d.Audit.Architecture))
	v.SetDefault("audit.escalation_threshold", d.Audit.EscalationThreshold)
	v.SetDefault("audit.exploit_severity_gate", d.Audit.ExploitSeverityGate)
	v.SetDefault("audit.workers", d.Audit.Workers)
	v.SetDefault("audit.max_model_calls", d.Audit.MaxModelCalls)
	v.SetDefault("audit.call_timeout", d.Audit.CallTimeout)
	v.SetDefault("audit.retry.max_retries", d.Audit.Retry.MaxRetries)
	v.SetDefault("audit.retry.base_delay", d.Audit.Retry.BaseDelay)
	v.SetDefault("audit.retry.max_delay", d.Audit.Retry.MaxDelay)
	v.SetDefault("audit.chain", "")
	v.SetDefault("audit.project", "")
	v.SetDefault("audit.overlap_threshold", d.Audit.OverlapThreshold)

	v.SetDefault("exclusions.database", d.Exclusions.Database)
	v.SetDefault("exclusions.custom_file", "")

	v.SetDefault("coverage.full_ratio", d.Coverage.FullRatio)
	v.SetDefault("coverage.judge", false)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.output", d.Logging.Output)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.provider", d.Tracing.Provider)
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	v.SetDefault("tracing.insecure", false)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.provider", d.Metrics.Provider)
	v.SetDefault("metrics.listen", d.Metrics.Listen)
	v.SetDefault("metrics.endpoint", "")
}

// fillCollections supplies the default maps and lists the file left empty.
func fillCollections(cfg *Config) {
	d := DefaultConfig()
	if len(cfg.Providers) == 0 {
		cfg.Providers = d.Providers
	}
	if len(cfg.Roles) == 0 {
		cfg.Roles = d.Roles
	}
	if cfg.Audit.ExploitSeverityGate == nil {
		cfg.Audit.ExploitSeverityGate = d.Audit.ExploitSeverityGate
	}
	if len(cfg.Coverage.Risk.Buckets) == 0 {
		cfg.Coverage.Risk = d.Coverage.Risk
	}
	// An unresolved ${VAR} is not a credential.
	for name, pc := range cfg.Providers {
		if envRef.MatchString(pc.APIKey) {
			pc.APIKey = ""
			cfg.Providers[name] = pc
		}
	}
}

// interpolateEnvVars recursively interpolates ${VAR} references.
func interpolateEnvVars(data any) any {
	switch v := data.(type) {
	case map[string]any:
		result := make(map[string]any, len(v))
		for key, value := range v {
			result[key] = interpolateEnvVars(value)
		}
		return result
	case []any:
		result := make([]any, len(v))
		for i, value := range v {
			result[i] = interpolateEnvVars(value)
		}
		return result
	case string:
		return interpolateString(v)
	default:
		return v
	}
}

var envRef = regexp.MustCompile(`\$\{([^}]+)\}`)

// interpolateString replaces ${VAR} with the variable's value. Unset
// variables are left as written.
func interpolateString(s string) string {
	return envRef.ReplaceAllStringFunc(s, func(match string) string {
		name := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		if value := os.Getenv(name); value != "" {
			return value
		}
		return match
	})
}
