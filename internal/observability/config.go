// Package observability sets up structured logging with trace correlation,
// OpenTelemetry tracing and the pipeline metric instruments.
package observability

import (
	"fmt"
	"strings"
)

// TracingConfig configures span export.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled" mapstructure:"enabled"`
	Provider    string  `yaml:"provider" mapstructure:"provider"`
	Endpoint    string  `yaml:"endpoint" mapstructure:"endpoint"`
	ServiceName string  `yaml:"service_name" mapstructure:"service_name"`
	SampleRate  float64 `yaml:"sample_rate" mapstructure:"sample_rate"`
	Insecure    bool    `yaml:"insecure" mapstructure:"insecure"`
}

// Validate checks the provider, sample rate and endpoint of an enabled
// configuration.
func (c *TracingConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	provider := strings.ToLower(c.Provider)
	if provider != "otlp" && provider != "noop" {
		return fmt.Errorf("invalid tracing provider: %s (must be one of: otlp, noop)", c.Provider)
	}
	if c.SampleRate < 0.0 || c.SampleRate > 1.0 {
		return fmt.Errorf("invalid sample rate: %f (must be between 0.0 and 1.0)", c.SampleRate)
	}
	if provider == "otlp" && c.Endpoint == "" {
		return fmt.Errorf("endpoint is required when tracing is enabled")
	}
	return nil
}

// MetricsConfig configures metric export. The prometheus provider serves
// a scrape endpoint on Listen; otlp pushes to Endpoint.
type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
	Provider string `yaml:"provider" mapstructure:"provider"`
	Listen   string `yaml:"listen" mapstructure:"listen"`
	Endpoint string `yaml:"endpoint" mapstructure:"endpoint"`
}

// Validate checks the provider of an enabled configuration.
func (c *MetricsConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	switch strings.ToLower(c.Provider) {
	case "prometheus":
		if c.Listen == "" {
			return fmt.Errorf("listen address is required for the prometheus provider")
		}
	case "otlp":
		if c.Endpoint == "" {
			return fmt.Errorf("endpoint is required for the otlp provider")
		}
	default:
		return fmt.Errorf("invalid metrics provider: %s (must be one of: prometheus, otlp)", c.Provider)
	}
	return nil
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
	Output string `yaml:"output" mapstructure:"output"`
}

// Validate checks level, format and output.
func (c *LoggingConfig) Validate() error {
	if _, err := ParseLevel(c.Level); err != nil {
		return err
	}
	switch strings.ToLower(c.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format: %s (must be one of: json, text)", c.Format)
	}
	output := strings.ToLower(c.Output)
	if output != "" && output != "stdout" && output != "stderr" && !strings.HasPrefix(c.Output, "/") {
		return fmt.Errorf("invalid log output: %s (must be 'stdout', 'stderr', or an absolute file path)", c.Output)
	}
	return nil
}
