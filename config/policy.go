package config

import (
	"fmt"
	"strings"
)

// PolicyConfig holds the eligibility windows used by the rule evaluator.
type PolicyConfig struct {
	ReturnWindowDays    int      `mapstructure:"return_window_days"`
	RefundWindowDays    int      `mapstructure:"refund_window_days"`
	ExchangeWindowDays  int      `mapstructure:"exchange_window_days"`
	CancellableStatuses []string `mapstructure:"cancellable_statuses"`
}

// Normalize applies defaults and standardises status names.
func (c PolicyConfig) Normalize() PolicyConfig {
	cfg := c
	if cfg.ReturnWindowDays <= 0 {
		cfg.ReturnWindowDays = 45
		if cfg.RefundWindowDays <= 0 {
			cfg.RefundWindowDays = 30
		}
	}
	if cfg.RefundWindowDays <= 0 {
		cfg.RefundWindowDays = cfg.ReturnWindowDays
	}
	if cfg.ExchangeWindowDays <= 0 {
		cfg.ExchangeWindowDays = cfg.ReturnWindowDays
	}
	seen := make(map[string]struct{}, len(cfg.CancellableStatuses))
	var statuses []string
	for _, s := range cfg.CancellableStatuses {
		key := strings.TrimSpace(strings.ToLower(s))
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		statuses = append(statuses, key)
	}
	if len(statuses) == 0 {
		statuses = []string{"processing", "pending"}
	}
	cfg.CancellableStatuses = statuses
	return cfg
}

// Validate ensures configuration is internally consistent.
func (c PolicyConfig) Validate() error {
	if c.ReturnWindowDays > 365 || c.RefundWindowDays > 365 || c.ExchangeWindowDays > 365 {
		return fmt.Errorf("policy windows must not exceed 365 days")
	}
	for _, s := range c.CancellableStatuses {
		if s == "delivered" {
			return fmt.Errorf("policy.cancellable_statuses cannot include delivered")
		}
	}
	return nil
}
