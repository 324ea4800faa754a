// Package registry defines the typed model behind the two declarative
// source documents (provider registry and routing policy) and loads
// them into a SourceGraph ready for compilation.
package registry

import "time"

// ProviderType identifies the wire protocol family a provider speaks.
type ProviderType string

const (
	ProviderOpenAICompat    ProviderType = "openai_compat"
	ProviderAnthropicNative ProviderType = "anthropic_native"
	ProviderOllama          ProviderType = "ollama"
	ProviderVLLM            ProviderType = "vllm"
)

// KnownProviderTypes lists every accepted provider type.
var KnownProviderTypes = []ProviderType{
	ProviderOpenAICompat,
	ProviderAnthropicNative,
	ProviderOllama,
	ProviderVLLM,
}

// ProviderStatus is the operator-declared availability of a provider.
type ProviderStatus string

const (
	StatusActive   ProviderStatus = "active"
	StatusDisabled ProviderStatus = "disabled"
	StatusCooldown ProviderStatus = "cooldown"
)

// RateLimits are requests/tokens per minute. Zero means "use the next
// fallback in the default chain", not unlimited.
type RateLimits struct {
	RequestsPerMinute int `yaml:"requests_per_minute,omitempty" json:"requests_per_minute,omitempty"`
	TokensPerMinute   int `yaml:"tokens_per_minute,omitempty" json:"tokens_per_minute,omitempty"`
}

// ProviderEntry is one inference-serving endpoint.
type ProviderEntry struct {
	ID             string         `yaml:"id" json:"id"`
	Type           ProviderType   `yaml:"type" json:"type"`
	BaseURL        string         `yaml:"base_url" json:"base_url"`
	Status         ProviderStatus `yaml:"status" json:"status"`
	Models         []string       `yaml:"models,omitempty" json:"models,omitempty"`
	HealthEndpoint string         `yaml:"health_endpoint,omitempty" json:"health_endpoint,omitempty"`
	RateLimits     *RateLimits    `yaml:"rate_limits,omitempty" json:"rate_limits,omitempty"`
}

// Capabilities are the functional flags a model advertises.
type Capabilities struct {
	Chat       bool `yaml:"chat,omitempty" json:"chat,omitempty"`
	Embeddings bool `yaml:"embeddings,omitempty" json:"embeddings,omitempty"`
	Vision     bool `yaml:"vision,omitempty" json:"vision,omitempty"`
	Tools      bool `yaml:"tools,omitempty" json:"tools,omitempty"`
	Streaming  bool `yaml:"streaming,omitempty" json:"streaming,omitempty"`
}

// ModelEntry is a named inference capability bound to one provider.
type ModelEntry struct {
	Name          string       `yaml:"name" json:"name"`
	ProviderID    string       `yaml:"provider_id" json:"provider_id"`
	Tags          []string     `yaml:"tags,omitempty" json:"tags,omitempty"`
	ContextLength int          `yaml:"context_length,omitempty" json:"context_length,omitempty"`
	Capabilities  Capabilities `yaml:"capabilities,omitempty" json:"capabilities,omitempty"`
	// QualityTier ranks capacity; higher is stronger. Used only by the
	// tier-drop advisory, thresholds come from the policy document.
	QualityTier int         `yaml:"quality_tier,omitempty" json:"quality_tier,omitempty"`
	RateLimits  *RateLimits `yaml:"rate_limits,omitempty" json:"rate_limits,omitempty"`
}

// RuleKind discriminates the RoutingRule tagged union.
type RuleKind string

const (
	RuleExact           RuleKind = "exact"
	RulePattern         RuleKind = "pattern"
	RuleCapabilityGroup RuleKind = "capability_group"
)

// RoutingRule is a tagged union: which fields are meaningful depends on
// Kind.
type RoutingRule struct {
	Kind RuleKind `yaml:"kind" json:"kind"`

	// exact
	ModelName string `yaml:"model_name,omitempty" json:"model_name,omitempty"`
	// pattern
	Pattern string `yaml:"pattern,omitempty" json:"pattern,omitempty"`
	// exact + pattern
	ProviderID      string `yaml:"provider_id,omitempty" json:"provider_id,omitempty"`
	FallbackChainID string `yaml:"fallback_chain,omitempty" json:"fallback_chain,omitempty"`
	// capability_group
	Group    string   `yaml:"group,omitempty" json:"group,omitempty"`
	Members  []string `yaml:"members,omitempty" json:"members,omitempty"`
	Strategy string   `yaml:"strategy,omitempty" json:"strategy,omitempty"`
}

// ChainRefPrefix marks a fallback hop that references another chain
// instead of a model, e.g. "chain:gpu-pool".
const ChainRefPrefix = "chain:"

// FallbackChain is an ordered list of alternatives. Hops name models, or
// other chains via the "chain:" prefix.
type FallbackChain struct {
	ID   string   `yaml:"id" json:"id"`
	Hops []string `yaml:"hops" json:"hops"`
}

// WeightedTarget is one (provider, weight, condition) entry of a
// load-balancing policy. Condition is an opaque predicate evaluated by
// the gateway, never here.
type WeightedTarget struct {
	ProviderID string  `yaml:"provider_id" json:"provider_id"`
	Weight     float64 `yaml:"weight" json:"weight"`
	Condition  string  `yaml:"condition,omitempty" json:"condition,omitempty"`
}

// LoadBalancingPolicy spreads one target (model or capability group)
// across providers. Weights must sum to 1.0 within 1e-3.
type LoadBalancingPolicy struct {
	Target  string           `yaml:"target" json:"target"`
	Entries []WeightedTarget `yaml:"providers" json:"providers"`
}

// AdvisorySettings holds soft-check policy knobs.
type AdvisorySettings struct {
	// MaxTierDrop is how many quality tiers the first fallback hop may
	// drop before the advisory fires. Default 1.
	MaxTierDrop int `yaml:"max_tier_drop,omitempty" json:"max_tier_drop,omitempty"`
}

// TimeoutSettings layer from innermost to outermost; each must not
// exceed the next.
type TimeoutSettings struct {
	PerHopMS     int `yaml:"per_hop_ms" json:"per_hop_ms"`
	PerRequestMS int `yaml:"per_request_ms" json:"per_request_ms"`
	PerStreamMS  int `yaml:"per_stream_ms" json:"per_stream_ms"`
	OverallMS    int `yaml:"overall_ms" json:"overall_ms"`
}

// CircuitBreakerSettings gate a provider after repeated failures.
type CircuitBreakerSettings struct {
	FailureThreshold int `yaml:"failure_threshold" json:"failure_threshold"`
	CooldownSeconds  int `yaml:"cooldown_seconds" json:"cooldown_seconds"`
}

// CacheSettings are a contract for the gateway's cache layer; nothing
// here enforces them.
type CacheSettings struct {
	TTLSeconds           int  `yaml:"ttl_seconds" json:"ttl_seconds"`
	DegradeOnUnavailable bool `yaml:"degrade_on_unavailable" json:"degrade_on_unavailable"`
}

// Settings are the operational overrides a policy document may set.
// Unset sections fall back to provider-type defaults at compile time.
type Settings struct {
	Timeouts       *TimeoutSettings        `yaml:"timeouts,omitempty" json:"timeouts,omitempty"`
	CircuitBreaker *CircuitBreakerSettings `yaml:"circuit_breaker,omitempty" json:"circuit_breaker,omitempty"`
	Cache          *CacheSettings          `yaml:"cache,omitempty" json:"cache,omitempty"`
}

// RegistryDoc is the provider-registry source document.
type RegistryDoc struct {
	Providers []ProviderEntry `yaml:"providers" json:"providers"`
	Models    []ModelEntry    `yaml:"models" json:"models"`
}

// PolicyDoc is the routing-policy source document.
type PolicyDoc struct {
	Rules           []RoutingRule         `yaml:"rules,omitempty" json:"rules,omitempty"`
	Chains          []FallbackChain       `yaml:"fallback_chains,omitempty" json:"fallback_chains,omitempty"`
	Balancing       []LoadBalancingPolicy `yaml:"load_balancing,omitempty" json:"load_balancing,omitempty"`
	DefaultProvider string                `yaml:"default_provider,omitempty" json:"default_provider,omitempty"`
	Advisory        *AdvisorySettings     `yaml:"advisory,omitempty" json:"advisory,omitempty"`
	Settings        *Settings             `yaml:"settings,omitempty" json:"settings,omitempty"`
}

// SourceFile records where a document came from, for staleness checks.
type SourceFile struct {
	Path    string    `json:"path"`
	SHA256  string    `json:"sha256"`
	ModTime time.Time `json:"mod_time"`
}

// SourceGraph is the composite parsed input handed to the compiler.
type SourceGraph struct {
	Registry RegistryDoc
	Policy   PolicyDoc
	Sources  []SourceFile // registry first, policy second
}
