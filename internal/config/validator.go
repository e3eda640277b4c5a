package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/zero-day-ai/verdict/internal/types"
)

// ConfigValidator validates configuration values.
type ConfigValidator interface {
	Validate(cfg *Config) error
}

type validatorImpl struct {
	validate *validator.Validate
}

// NewValidator creates a ConfigValidator backed by go-playground/validator.
func NewValidator() ConfigValidator {
	return &validatorImpl{validate: validator.New()}
}

// Validate checks struct tags first and then the cross-field rules. All
// problems are reported together.
func (v *validatorImpl) Validate(cfg *Config) error {
	if cfg == nil {
		return types.NewError(types.CONFIG_VALIDATION_FAILED, "configuration is nil")
	}

	var problems []string
	if err := v.validate.Struct(cfg); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return types.WrapError(types.CONFIG_VALIDATION_FAILED, "validation error", err)
		}
		for _, e := range fieldErrs {
			problems = append(problems, formatValidationError(e))
		}
	}

	if _, err := cfg.Audit.SeverityGate(); err != nil {
		problems = append(problems, fmt.Sprintf("audit.exploit_severity_gate: %v", errors.Unwrap(err)))
	}
	if cfg.Audit.CallTimeout < 0 {
		problems = append(problems, "audit.call_timeout must not be negative")
	}
	if cfg.Audit.Retry.MaxDelay > 0 && cfg.Audit.Retry.BaseDelay > cfg.Audit.Retry.MaxDelay {
		problems = append(problems, "audit.retry.base_delay must not exceed audit.retry.max_delay")
	}

	if err := cfg.Coverage.Risk.Validate(); err != nil {
		problems = append(problems, fmt.Sprintf("coverage.risk: %s", messageOf(err)))
	}
	if err := cfg.Logging.Validate(); err != nil {
		problems = append(problems, fmt.Sprintf("logging: %v", err))
	}
	if err := cfg.Tracing.Validate(); err != nil {
		problems = append(problems, fmt.Sprintf("tracing: %v", err))
	}
	if err := cfg.Metrics.Validate(); err != nil {
		problems = append(problems, fmt.Sprintf("metrics: %v", err))
	}

	if len(problems) > 0 {
		return types.NewError(types.CONFIG_VALIDATION_FAILED,
			"configuration validation failed:\n  - "+strings.Join(problems, "\n  - "))
	}
	return nil
}

func messageOf(err error) string {
	var te *types.Error
	if errors.As(err, &te) {
		return te.Message
	}
	return err.Error()
}

// formatValidationError formats a single validation error with field path and details.
func formatValidationError(e validator.FieldError) string {
	fieldPath := formatFieldPath(e.Namespace())

	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fieldPath)
	case "min":
		return fmt.Sprintf("%s must be at least %s (got: %v)", fieldPath, e.Param(), e.Value())
	case "max":
		return fmt.Sprintf("%s must be at most %s (got: %v)", fieldPath, e.Param(), e.Value())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s] (got: %v)", fieldPath, e.Param(), e.Value())
	case "url":
		return fmt.Sprintf("%s must be a valid URL (got: %v)", fieldPath, e.Value())
	default:
		return fmt.Sprintf("%s failed validation '%s' (got: %v)", fieldPath, e.Tag(), e.Value())
	}
}

// formatFieldPath converts a validator namespace to a config key path.
// Example: "Config.Audit.EscalationThreshold" -> "audit.escalation_threshold"
func formatFieldPath(namespace string) string {
	parts := strings.Split(namespace, ".")
	if len(parts) <= 1 {
		return namespace
	}

	result := make([]string, 0, len(parts)-1)
	for _, part := range parts[1:] {
		// The embedded binding of a role is flattened in the file.
		if part == "Binding" {
			continue
		}
		result = append(result, camelToSnake(part))
	}
	return strings.Join(result, ".")
}

func camelToSnake(s string) string {
	var result strings.Builder
	for i, r := range s {
		if i > 0 && r >= 'A' && r <= 'Z' {
			result.WriteRune('_')
		}
		result.WriteRune(r)
	}
	return strings.ToLower(result.String())
}
