package compile

import (
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/routegen/internal/faults"
	"github.com/nextlevelbuilder/routegen/internal/registry"
)

type compilation struct {
	graph        *registry.SourceGraph
	policyFile   string
	providerByID map[string]*registry.ProviderEntry
	chainByID    map[string]*registry.FallbackChain
}

func newCompilation(g *registry.SourceGraph) *compilation {
	c := &compilation{
		graph:        g,
		policyFile:   policyFile(g),
		providerByID: make(map[string]*registry.ProviderEntry, len(g.Registry.Providers)),
		chainByID:    make(map[string]*registry.FallbackChain, len(g.Policy.Chains)),
	}
	for i := range g.Registry.Providers {
		p := &g.Registry.Providers[i]
		c.providerByID[p.ID] = p
	}
	for i := range g.Policy.Chains {
		ch := &g.Policy.Chains[i]
		c.chainByID[ch.ID] = ch
	}
	return c
}

// Compile resolves the source graph into a compiled configuration
// document. Pure: the clock is a parameter and nothing is written.
// Binding conflicts are batched so one run reports every ambiguity.
func Compile(g *registry.SourceGraph, now time.Time) (*Document, error) {
	c := newCompilation(g)

	settings, err := resolveSettings(g.Policy.Settings, c.policyFile)
	if err != nil {
		return nil, err
	}

	var errs []error
	seenCycles := map[string]bool{}
	bindings := make([]ModelBinding, 0, len(g.Registry.Models))
	for _, m := range g.Registry.Models {
		res, err := c.resolve(m)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		fallbacks, missing, cycles := c.flattenChain(res.chainID)
		for _, id := range missing {
			errs = append(errs, &faults.ReferenceError{
				File: c.policyFile,
				Path: "rules." + m.Name + ".fallback_chain", Kind: "chain", Ref: id,
			})
		}
		// bindings sharing a cyclic chain report the cycle once
		for _, cyc := range cycles {
			key := strings.Join(cyc.Path, " -> ")
			if !seenCycles[key] {
				seenCycles[key] = true
				errs = append(errs, cyc)
			}
		}

		p := c.providerByID[res.providerID] // nil for unknown ids; validator reports those
		cb, err := breakerFor(g.Policy.Settings, providerType(p), c.policyFile)
		if err != nil {
			return nil, err
		}

		bindings = append(bindings, ModelBinding{
			Model:          m.Name,
			ProviderID:     res.providerID,
			MatchedBy:      res.matchedBy,
			Strategy:       res.strategy,
			ChainID:        res.chainID,
			Fallbacks:      fallbacks,
			QualityTier:    m.QualityTier,
			RateLimits:     rateLimitsFor(m, p),
			CircuitBreaker: cb,
		})
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	doc := &Document{
		Providers: append([]registry.ProviderEntry(nil), g.Registry.Providers...),
		Bindings:  bindings,
		Balancing: append([]registry.LoadBalancingPolicy(nil), g.Policy.Balancing...),
		Settings:  settings,
	}

	hash := doc.ContentHash()
	doc.Meta = Meta{
		GeneratedBy:  GeneratedBy,
		RunID:        uuid.NewString(),
		Version:      VersionID(now, hash),
		ContentHash:  hash,
		GeneratedAt:  now.UTC(),
		SourceHashes: sourceHashes(g.Sources),
	}

	slog.Debug("compile finished",
		"bindings", len(doc.Bindings),
		"version", doc.Meta.Version,
		"content_hash", hash[:12])
	return doc, nil
}

// flattenChain expands a fallback chain into its ordered model hops,
// following chain references. Unknown chain ids come back in missing; a
// reference back to a chain still on the active walk comes back as a
// CycleError carrying the complete chain path, entry chain repeated at
// the end. Finished chains are skipped on revisit, so a diamond of
// references flattens once and the walk always terminates.
func (c *compilation) flattenChain(chainID string) (out, missing []string, cycles []*faults.CycleError) {
	if chainID == "" {
		return nil, nil, nil
	}
	done := map[string]bool{}
	onStack := map[string]bool{}
	seenModels := map[string]bool{}
	var stack []string

	var walk func(id string)
	walk = func(id string) {
		if onStack[id] {
			cycles = append(cycles, &faults.CycleError{Path: chainCycle(stack, id)})
			return
		}
		if done[id] {
			return
		}
		ch := c.chainByID[id]
		if ch == nil {
			done[id] = true
			missing = append(missing, id)
			return
		}
		onStack[id] = true
		stack = append(stack, id)
		for _, hop := range ch.Hops {
			if ref, ok := strings.CutPrefix(hop, registry.ChainRefPrefix); ok {
				walk(ref)
				continue
			}
			if !seenModels[hop] {
				seenModels[hop] = true
				out = append(out, hop)
			}
		}
		stack = stack[:len(stack)-1]
		onStack[id] = false
		done[id] = true
	}
	walk(chainID)
	return out, missing, cycles
}

// chainCycle slices the active walk from the first occurrence of the
// revisited chain and closes the loop, e.g. [c1 c2] + c1 -> [c1 c2 c1].
func chainCycle(stack []string, revisited string) []string {
	start := 0
	for i, id := range stack {
		if id == revisited {
			start = i
			break
		}
	}
	cycle := append([]string(nil), stack[start:]...)
	return append(cycle, revisited)
}

func providerType(p *registry.ProviderEntry) registry.ProviderType {
	if p == nil {
		return registry.ProviderOpenAICompat
	}
	return p.Type
}

// policyFile names the routing-policy source for error reporting.
// Sources are ordered registry first, policy second.
func policyFile(g *registry.SourceGraph) string {
	if len(g.Sources) >= 2 {
		return g.Sources[1].Path
	}
	return ""
}

func sourceHashes(sources []registry.SourceFile) map[string]string {
	if len(sources) == 0 {
		return nil
	}
	m := make(map[string]string, len(sources))
	for _, s := range sources {
		m[s.Path] = s.SHA256
	}
	return m
}
