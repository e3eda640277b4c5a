package config

import (
	"fmt"

	"github.com/zero-day-ai/verdict/internal/llm"
	"github.com/zero-day-ai/verdict/internal/types"
)

// Preflight checks that every role the configured architecture calls can
// reach at least one provider with credentials. It runs before any finding
// is processed and returns the first problem in role order:
//
//   - CONFIG_VALIDATION_FAILED when a role is unbound or names an unknown provider
//   - CONFIG_NO_FALLBACK when the primary provider lacks credentials and no
//     fallback is configured
//   - CONFIG_NO_CREDENTIALS when neither the primary nor the fallback has
//     credentials
func Preflight(cfg *Config) error {
	bindings := cfg.Bindings()
	for _, role := range cfg.RequiredRoles() {
		if err := checkRole(cfg.Providers, role, bindings[role]); err != nil {
			return err
		}
	}
	return nil
}

func checkRole(providers map[string]llm.ProviderConfig, role string, rb llm.RoleBinding) error {
	if rb.Primary.IsZero() {
		return types.NewError(types.CONFIG_VALIDATION_FAILED,
			fmt.Sprintf("role %s has no provider binding", role))
	}
	primary, ok := providers[rb.Primary.Provider]
	if !ok {
		return types.NewError(types.CONFIG_VALIDATION_FAILED,
			fmt.Sprintf("role %s references unknown provider %s", role, rb.Primary.Provider))
	}

	var fallback *llm.ProviderConfig
	if rb.Fallback != nil {
		fb, ok := providers[rb.Fallback.Provider]
		if !ok {
			return types.NewError(types.CONFIG_VALIDATION_FAILED,
				fmt.Sprintf("role %s references unknown fallback provider %s", role, rb.Fallback.Provider))
		}
		fallback = &fb
	}

	if primary.HasCredentials() {
		return nil
	}
	if fallback == nil {
		return types.NewError(types.CONFIG_NO_FALLBACK,
			fmt.Sprintf("role %s: provider %s has no credentials and no fallback is configured", role, rb.Primary.Provider))
	}
	if !fallback.HasCredentials() {
		return types.NewError(types.CONFIG_NO_CREDENTIALS,
			fmt.Sprintf("role %s: neither %s nor fallback %s has credentials", role, rb.Primary.Provider, rb.Fallback.Provider))
	}
	return nil
}
