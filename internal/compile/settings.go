package compile

import (
	"fmt"

	"github.com/nextlevelbuilder/routegen/internal/faults"
	"github.com/nextlevelbuilder/routegen/internal/registry"
)

// Built-in operational defaults, applied when the policy document does
// not override them. Breaker and rate-limit defaults vary by provider
// type: local engines recover fast and get short cooldowns.
var (
	defaultTimeouts = registry.TimeoutSettings{
		PerHopMS:     30_000,
		PerRequestMS: 60_000,
		PerStreamMS:  300_000,
		OverallMS:    600_000,
	}

	defaultCache = registry.CacheSettings{
		TTLSeconds:           300,
		DegradeOnUnavailable: true,
	}

	defaultBreakers = map[registry.ProviderType]registry.CircuitBreakerSettings{
		registry.ProviderOpenAICompat:    {FailureThreshold: 5, CooldownSeconds: 30},
		registry.ProviderAnthropicNative: {FailureThreshold: 5, CooldownSeconds: 60},
		registry.ProviderOllama:          {FailureThreshold: 3, CooldownSeconds: 15},
		registry.ProviderVLLM:            {FailureThreshold: 3, CooldownSeconds: 15},
	}

	defaultRateLimits = map[registry.ProviderType]registry.RateLimits{
		registry.ProviderOpenAICompat:    {RequestsPerMinute: 600, TokensPerMinute: 200_000},
		registry.ProviderAnthropicNative: {RequestsPerMinute: 300, TokensPerMinute: 100_000},
		registry.ProviderOllama:          {RequestsPerMinute: 120, TokensPerMinute: 60_000},
		registry.ProviderVLLM:            {RequestsPerMinute: 240, TokensPerMinute: 120_000},
	}
)

// resolveSettings merges policy overrides over the defaults and
// enforces the timeout-layering constraint:
// per-hop <= per-request <= per-stream <= overall.
func resolveSettings(s *registry.Settings, file string) (ResolvedSettings, error) {
	out := ResolvedSettings{Timeouts: defaultTimeouts, Cache: defaultCache}
	if s != nil {
		if s.Timeouts != nil {
			out.Timeouts = *s.Timeouts
		}
		if s.Cache != nil {
			out.Cache = *s.Cache
		}
	}

	t := out.Timeouts
	if !(t.PerHopMS <= t.PerRequestMS && t.PerRequestMS <= t.PerStreamMS && t.PerStreamMS <= t.OverallMS) {
		return out, &faults.ConstraintError{
			File:  file,
			Path:  "settings.timeouts",
			Value: fmt.Sprintf("hop=%d request=%d stream=%d overall=%d", t.PerHopMS, t.PerRequestMS, t.PerStreamMS, t.OverallMS),
			Msg:   "timeouts must satisfy per_hop <= per_request <= per_stream <= overall",
		}
	}
	return out, nil
}

// breakerFor picks the circuit breaker for one binding: explicit policy
// override first, then the provider-type default.
func breakerFor(s *registry.Settings, ptype registry.ProviderType, file string) (registry.CircuitBreakerSettings, error) {
	cb, ok := registry.CircuitBreakerSettings{}, false
	if s != nil && s.CircuitBreaker != nil {
		cb, ok = *s.CircuitBreaker, true
	} else if d, found := defaultBreakers[ptype]; found {
		cb, ok = d, true
	}
	if !ok {
		cb = registry.CircuitBreakerSettings{FailureThreshold: 5, CooldownSeconds: 30}
	}
	if cb.FailureThreshold < 1 {
		return cb, &faults.ConstraintError{
			File:  file,
			Path:  "settings.circuit_breaker.failure_threshold",
			Value: cb.FailureThreshold,
			Msg:   "failure threshold must be at least 1",
		}
	}
	return cb, nil
}

// rateLimitsFor resolves per-model limits: model entry, then provider
// entry, then the provider-type default table.
func rateLimitsFor(m registry.ModelEntry, p *registry.ProviderEntry) registry.RateLimits {
	if m.RateLimits != nil {
		return *m.RateLimits
	}
	if p != nil && p.RateLimits != nil {
		return *p.RateLimits
	}
	if p != nil {
		if d, ok := defaultRateLimits[p.Type]; ok {
			return d
		}
	}
	return registry.RateLimits{RequestsPerMinute: 60, TokensPerMinute: 30_000}
}
