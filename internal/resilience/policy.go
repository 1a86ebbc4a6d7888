package resilience

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml/v2"
)

// policyFile is the on-disk schema. Durations are strings ("30s", "500ms")
// so operators can edit files without counting nanoseconds.
type policyFile struct {
	Resources map[string]policySpec `json:"resources" yaml:"resources" toml:"resources"`
}

type policySpec struct {
	Breaker breakerSpec `json:"breaker" yaml:"breaker" toml:"breaker"`
	Retry   retrySpec   `json:"retry" yaml:"retry" toml:"retry"`
}

type breakerSpec struct {
	FailureThreshold int    `json:"failure_threshold" yaml:"failure_threshold" toml:"failure_threshold"`
	RecoveryTimeout  string `json:"recovery_timeout" yaml:"recovery_timeout" toml:"recovery_timeout"`
	SuccessThreshold int    `json:"success_threshold" yaml:"success_threshold" toml:"success_threshold"`
	CallTimeout      string `json:"call_timeout" yaml:"call_timeout" toml:"call_timeout"`
}

type retrySpec struct {
	MaxRetries   int     `json:"max_retries" yaml:"max_retries" toml:"max_retries"`
	InitialDelay string  `json:"initial_delay" yaml:"initial_delay" toml:"initial_delay"`
	MaxDelay     string  `json:"max_delay" yaml:"max_delay" toml:"max_delay"`
	Base         float64 `json:"base" yaml:"base" toml:"base"`
	Jitter       *bool   `json:"jitter" yaml:"jitter" toml:"jitter"`
}

// LoadPolicies reads per-resource policies from a YAML, TOML, or JSON file,
// selected by extension.
func LoadPolicies(path string) (map[string]Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}

	var file policyFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &file)
	case ".toml":
		err = toml.Unmarshal(data, &file)
	case ".json":
		err = sonic.Unmarshal(data, &file)
	default:
		return nil, fmt.Errorf("unsupported policy format: %s", filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("parse policy file %s: %w", path, err)
	}

	policies := make(map[string]Policy, len(file.Resources))
	for name, spec := range file.Resources {
		policy, err := spec.policy()
		if err != nil {
			return nil, fmt.Errorf("resource %q: %w", name, err)
		}
		policies[name] = policy
	}
	return policies, nil
}

func (s policySpec) policy() (Policy, error) {
	breaker := DefaultBreakerConfig()
	if s.Breaker.FailureThreshold > 0 {
		breaker.FailureThreshold = s.Breaker.FailureThreshold
	}
	if s.Breaker.SuccessThreshold > 0 {
		breaker.SuccessThreshold = s.Breaker.SuccessThreshold
	}
	if err := parseDuration(s.Breaker.RecoveryTimeout, &breaker.RecoveryTimeout); err != nil {
		return Policy{}, fmt.Errorf("recovery_timeout: %w", err)
	}
	if err := parseDuration(s.Breaker.CallTimeout, &breaker.CallTimeout); err != nil {
		return Policy{}, fmt.Errorf("call_timeout: %w", err)
	}

	retry := DefaultRetryConfig()
	if s.Retry.MaxRetries > 0 {
		retry.MaxRetries = s.Retry.MaxRetries
	}
	if s.Retry.Base > 1 {
		retry.Base = s.Retry.Base
	}
	if s.Retry.Jitter != nil {
		retry.Jitter = *s.Retry.Jitter
	}
	if err := parseDuration(s.Retry.InitialDelay, &retry.InitialDelay); err != nil {
		return Policy{}, fmt.Errorf("initial_delay: %w", err)
	}
	if err := parseDuration(s.Retry.MaxDelay, &retry.MaxDelay); err != nil {
		return Policy{}, fmt.Errorf("max_delay: %w", err)
	}

	return Policy{Breaker: breaker, Retry: retry}, nil
}

func parseDuration(s string, out *time.Duration) error {
	if s == "" {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*out = d
	return nil
}
