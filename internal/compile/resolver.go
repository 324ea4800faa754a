package compile

import (
	"fmt"

	"github.com/nextlevelbuilder/routegen/internal/faults"
	"github.com/nextlevelbuilder/routegen/internal/registry"
)

// resolution is the outcome of binding one model to a provider.
type resolution struct {
	providerID string
	matchedBy  string
	strategy   string
	chainID    string
}

// resolverFunc tries one tier of the priority order. A nil resolution
// with nil error means "no match here, try the next tier".
type resolverFunc func(c *compilation, m registry.ModelEntry) (*resolution, error)

// resolvers is the priority order: exact > pattern > capability-group
// membership > default. First-declared-wins within a tier.
var resolvers = []resolverFunc{
	resolveExact,
	resolvePattern,
	resolveCapability,
	resolveDefault,
}

func (c *compilation) resolve(m registry.ModelEntry) (*resolution, error) {
	for _, r := range resolvers {
		res, err := r(c, m)
		if err != nil {
			return nil, err
		}
		if res != nil {
			return res, nil
		}
	}
	// Unreachable: resolveDefault always matches.
	return nil, fmt.Errorf("no resolver matched model %q", m.Name)
}

// resolveExact binds via exact rules. Two exact rules disagreeing on
// provider or chain for the same model is ambiguous routing and must
// not silently pick one.
func resolveExact(c *compilation, m registry.ModelEntry) (*resolution, error) {
	var first *registry.RoutingRule
	for i := range c.graph.Policy.Rules {
		r := &c.graph.Policy.Rules[i]
		if r.Kind != registry.RuleExact || r.ModelName != m.Name {
			continue
		}
		if first == nil {
			first = r
			continue
		}
		if r.ProviderID != first.ProviderID || r.FallbackChainID != first.FallbackChainID {
			return nil, &faults.SchemaError{
				File:  c.policyFile,
				Path:  "rules",
				Value: fmt.Sprintf("%s vs %s", first.ProviderID, r.ProviderID),
				Msg:   fmt.Sprintf("ambiguous routing: model %q has conflicting exact rules", m.Name),
			}
		}
	}
	if first == nil {
		return nil, nil
	}
	return &resolution{
		providerID: first.ProviderID,
		matchedBy:  "exact",
		chainID:    first.FallbackChainID,
	}, nil
}

func resolvePattern(c *compilation, m registry.ModelEntry) (*resolution, error) {
	for i := range c.graph.Policy.Rules {
		r := &c.graph.Policy.Rules[i]
		if r.Kind != registry.RulePattern {
			continue
		}
		re, err := compilePattern(r.Pattern)
		if err != nil {
			// Loader already rejected bad patterns.
			continue
		}
		if re.MatchString(m.Name) {
			return &resolution{
				providerID: r.ProviderID,
				matchedBy:  "pattern",
				chainID:    r.FallbackChainID,
			}, nil
		}
	}
	return nil, nil
}

// resolveCapability binds a group member to its declared provider, with
// the group's strategy recorded for the gateway.
func resolveCapability(c *compilation, m registry.ModelEntry) (*resolution, error) {
	for i := range c.graph.Policy.Rules {
		r := &c.graph.Policy.Rules[i]
		if r.Kind != registry.RuleCapabilityGroup {
			continue
		}
		for _, member := range r.Members {
			if member != m.Name {
				continue
			}
			strategy := r.Strategy
			if strategy == "" {
				strategy = "round_robin"
			}
			return &resolution{
				providerID: m.ProviderID,
				matchedBy:  "capability:" + r.Group,
				strategy:   strategy,
				chainID:    r.FallbackChainID,
			}, nil
		}
	}
	return nil, nil
}

// resolveDefault is the terminal tier: the policy's default provider if
// declared, otherwise the model's own registry binding.
func resolveDefault(c *compilation, m registry.ModelEntry) (*resolution, error) {
	providerID := c.graph.Policy.DefaultProvider
	if providerID == "" {
		providerID = m.ProviderID
	}
	return &resolution{providerID: providerID, matchedBy: "default"}, nil
}
