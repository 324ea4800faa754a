// Package validate runs the static checks over a compiled configuration
// document. Checks run in a fixed order and accumulate every finding,
// so one invocation surfaces the complete problem set. A document is
// deployable iff the report has no errors; warnings never block.
package validate

import (
	"fmt"
	"math"

	"github.com/nextlevelbuilder/routegen/internal/compile"
	"github.com/nextlevelbuilder/routegen/internal/faults"
	"github.com/nextlevelbuilder/routegen/internal/registry"
)

const weightTolerance = 1e-3

// Options carry the context checks that need more than the document
// itself: source metadata for staleness, the previous compile's meta,
// and the advisory threshold from the policy document.
type Options struct {
	// Sources are the files the document was (or would be) compiled
	// from. Empty skips the staleness check.
	Sources []registry.SourceFile
	// Prev is the meta block of the last written artifact; nil skips
	// the staleness check.
	Prev *compile.Meta
	// MaxTierDrop is how many quality tiers the first fallback hop may
	// drop before the advisory fires.
	MaxTierDrop int
}

// Report is the accumulated outcome of a validation pass.
type Report struct {
	Errors   []error
	Warnings []faults.Warning
}

// OK reports whether the document is deployable.
func (r *Report) OK() bool { return len(r.Errors) == 0 }

func (r *Report) errorf(err error) {
	r.Errors = append(r.Errors, err)
}

func (r *Report) warnf(kind, format string, args ...any) {
	r.Warnings = append(r.Warnings, faults.Warning{Kind: kind, Msg: fmt.Sprintf(format, args...)})
}

// Run validates doc in place. References to disabled providers are
// pruned from the document (with a warning); everything else leaves the
// document untouched.
func Run(doc *compile.Document, opts Options) *Report {
	rep := &Report{}

	// Weight sums are judged against the authored policy, so snapshot
	// before the referential pass prunes disabled entries. The prune
	// filters entry slices in place, hence the deep copy.
	declaredBalancing := make([]registry.LoadBalancingPolicy, len(doc.Balancing))
	for i, pol := range doc.Balancing {
		declaredBalancing[i] = pol
		declaredBalancing[i].Entries = append([]registry.WeightedTarget(nil), pol.Entries...)
	}

	checkSchema(doc, rep)
	checkReferences(doc, rep)
	checkCycles(doc, rep)
	checkWeights(declaredBalancing, rep)
	checkPorts(doc, rep)
	checkStaleness(opts, rep)
	checkTierDrops(doc, opts.MaxTierDrop, rep)

	return rep
}

// checkSchema re-validates the compiled document's own shape. The
// compiler should never produce a document that fails here; this guards
// hand-edited or rolled-back artifacts.
func checkSchema(doc *compile.Document, rep *Report) {
	if doc.Meta.GeneratedBy == "" || doc.Meta.Version == "" || doc.Meta.ContentHash == "" {
		rep.errorf(&faults.SchemaError{Path: "meta", Msg: "missing generation metadata (generated_by, version, content_hash)"})
	}
	for i, p := range doc.Providers {
		at := fmt.Sprintf("providers[%d]", i)
		if p.ID == "" {
			rep.errorf(&faults.SchemaError{Path: at + ".id", Msg: "missing provider id"})
		}
		if err := registry.ValidateBaseURL(p.BaseURL); err != nil {
			rep.errorf(&faults.SchemaError{Path: at + ".base_url", Value: p.BaseURL, Msg: err.Error()})
		}
	}
	for i, b := range doc.Bindings {
		at := fmt.Sprintf("bindings[%d]", i)
		if b.Model == "" {
			rep.errorf(&faults.SchemaError{Path: at + ".model", Msg: "missing model name"})
		}
		if b.ProviderID == "" {
			rep.errorf(&faults.SchemaError{Path: at + ".provider", Value: b.Model, Msg: "missing provider binding"})
		}
		if b.CircuitBreaker.FailureThreshold < 1 {
			rep.errorf(&faults.ConstraintError{
				Path:  at + ".circuit_breaker.failure_threshold",
				Value: b.CircuitBreaker.FailureThreshold,
				Msg:   "failure threshold must be at least 1",
			})
		}
	}
}

// checkReferences enforces referential integrity. Unknown entities are
// hard errors; references to explicitly disabled providers are
// downgraded to warnings and pruned from the compiled output.
func checkReferences(doc *compile.Document, rep *Report) {
	providerByID := make(map[string]*registry.ProviderEntry, len(doc.Providers))
	for i := range doc.Providers {
		providerByID[doc.Providers[i].ID] = &doc.Providers[i]
	}
	knownModels := make(map[string]bool, len(doc.Bindings))
	disabledModels := make(map[string]string, 4) // model -> disabled provider id
	for _, b := range doc.Bindings {
		knownModels[b.Model] = true
		if p, ok := providerByID[b.ProviderID]; ok && p.Status == registry.StatusDisabled {
			disabledModels[b.Model] = b.ProviderID
		}
	}

	kept := doc.Bindings[:0]
	for _, b := range doc.Bindings {
		p, ok := providerByID[b.ProviderID]
		if !ok {
			rep.errorf(&faults.ReferenceError{Path: "bindings." + b.Model, Kind: "provider", Ref: b.ProviderID})
			kept = append(kept, b)
			continue
		}
		if p.Status == registry.StatusDisabled {
			rep.warnf(faults.WarnDroppedRule,
				"binding for model %q references disabled provider %s; binding dropped", b.Model, b.ProviderID)
			continue
		}

		hops := b.Fallbacks[:0]
		for _, hop := range b.Fallbacks {
			if !knownModels[hop] {
				rep.errorf(&faults.ReferenceError{Path: "bindings." + b.Model + ".fallbacks", Kind: "model", Ref: hop})
				continue
			}
			if disabledID, disabled := disabledModels[hop]; disabled {
				rep.warnf(faults.WarnDroppedRule,
					"reference to disabled provider %s dropped (fallback hop %q of model %q)", disabledID, hop, b.Model)
				continue
			}
			hops = append(hops, hop)
		}
		b.Fallbacks = hops
		kept = append(kept, b)
	}
	doc.Bindings = kept

	policies := doc.Balancing[:0]
	for _, pol := range doc.Balancing {
		entries := pol.Entries[:0]
		for _, e := range pol.Entries {
			p, ok := providerByID[e.ProviderID]
			if !ok {
				rep.errorf(&faults.ReferenceError{Path: "load_balancing." + pol.Target, Kind: "provider", Ref: e.ProviderID})
				entries = append(entries, e)
				continue
			}
			if p.Status == registry.StatusDisabled {
				rep.warnf(faults.WarnDroppedRule,
					"reference to disabled provider %s dropped (load balancing target %q)", e.ProviderID, pol.Target)
				continue
			}
			entries = append(entries, e)
		}
		pol.Entries = entries
		policies = append(policies, pol)
	}
	doc.Balancing = policies
}

// checkCycles builds the fallback graph (model A -> model B when B is a
// hop of A's chain) and reports every cycle with its complete path.
func checkCycles(doc *compile.Document, rep *Report) {
	adjacency := make(map[string][]string, len(doc.Bindings))
	for _, b := range doc.Bindings {
		if len(b.Fallbacks) > 0 {
			adjacency[b.Model] = b.Fallbacks
		}
	}
	for _, cyc := range detectCycles(adjacency) {
		rep.errorf(cyc)
	}
}

func checkWeights(policies []registry.LoadBalancingPolicy, rep *Report) {
	for _, pol := range policies {
		sum := 0.0
		for _, e := range pol.Entries {
			sum += e.Weight
		}
		if math.Abs(sum-1.0) > weightTolerance {
			rep.errorf(&faults.ConstraintError{
				Path:  "load_balancing." + pol.Target,
				Value: sum,
				Msg:   "weights must sum to 1.0 within 1e-3",
			})
		}
	}
}

// checkPorts rejects two distinct active providers binding the same
// host:port.
func checkPorts(doc *compile.Document, rep *Report) {
	claimed := map[string]string{} // host:port -> provider id
	for _, p := range doc.Providers {
		if p.Status != registry.StatusActive {
			continue
		}
		hp, ok := registry.HostPort(p.BaseURL)
		if !ok {
			continue // schema check already reported the bad URL
		}
		if prev, taken := claimed[hp]; taken && prev != p.ID {
			rep.errorf(&faults.ConstraintError{
				Path:  "providers." + p.ID,
				Value: hp,
				Msg:   fmt.Sprintf("port conflict with active provider %s", prev),
			})
			continue
		}
		claimed[hp] = p.ID
	}
}

// checkStaleness warns (never errors) when a source changed after the
// last recorded compile.
func checkStaleness(opts Options, rep *Report) {
	if opts.Prev == nil || len(opts.Sources) == 0 {
		return
	}
	for _, s := range opts.Sources {
		prevHash, recorded := opts.Prev.SourceHashes[s.Path]
		switch {
		case recorded && prevHash != s.SHA256:
			rep.warnf(faults.WarnStaleSource,
				"source %s changed since compile %s; active configuration is stale", s.Path, opts.Prev.Version)
		case !recorded && s.ModTime.After(opts.Prev.GeneratedAt):
			rep.warnf(faults.WarnStaleSource,
				"source %s is newer than compile %s; active configuration is stale", s.Path, opts.Prev.Version)
		}
	}
}

// checkTierDrops emits the soft quality-tier advisory: the first
// fallback hop dropping more than maxTierDrop declared tiers is worth a
// look, but tier thresholds are policy, so this never blocks.
func checkTierDrops(doc *compile.Document, maxTierDrop int, rep *Report) {
	tierByModel := make(map[string]int, len(doc.Bindings))
	for _, b := range doc.Bindings {
		tierByModel[b.Model] = b.QualityTier
	}
	for _, b := range doc.Bindings {
		if len(b.Fallbacks) == 0 || b.QualityTier == 0 {
			continue
		}
		first := b.Fallbacks[0]
		hopTier, ok := tierByModel[first]
		if !ok || hopTier == 0 {
			continue
		}
		if drop := b.QualityTier - hopTier; drop > maxTierDrop {
			rep.warnf(faults.WarnQualityTier,
				"fallback for model %q drops quality tier %d -> %d (first hop %q, allowed drop %d)",
				b.Model, b.QualityTier, hopTier, first, maxTierDrop)
		}
	}
}
