// Package compile turns a parsed SourceGraph into the single resolved
// configuration document consumed by the routing gateway. Compilation
// is a pure transform: no file or network I/O happens here.
package compile

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nextlevelbuilder/routegen/internal/registry"
)

// GeneratedBy is the generation marker embedded in every compiled
// document. It is a convention-based hint that the file is machine
// output, not a tamper-proof seal.
const GeneratedBy = "routegen"

// artifactHeader is prepended to the emitted YAML so hand editors see
// the marker before anything else.
const artifactHeader = "# Code generated by routegen. DO NOT EDIT.\n" +
	"# Hand edits are overwritten by the next generate run.\n"

// Meta identifies one generation run.
type Meta struct {
	GeneratedBy  string            `yaml:"generated_by" json:"generated_by"`
	RunID        string            `yaml:"run_id" json:"run_id"`
	Version      string            `yaml:"version" json:"version"`
	ContentHash  string            `yaml:"content_hash" json:"content_hash"`
	GeneratedAt  time.Time         `yaml:"generated_at" json:"generated_at"`
	SourceHashes map[string]string `yaml:"source_hashes,omitempty" json:"source_hashes,omitempty"`
}

// ModelBinding is one resolved model→provider route.
type ModelBinding struct {
	Model          string                          `yaml:"model" json:"model"`
	ProviderID     string                          `yaml:"provider" json:"provider"`
	MatchedBy      string                          `yaml:"matched_by" json:"matched_by"`
	Strategy       string                          `yaml:"strategy,omitempty" json:"strategy,omitempty"`
	ChainID        string                          `yaml:"fallback_chain,omitempty" json:"fallback_chain,omitempty"`
	Fallbacks      []string                        `yaml:"fallbacks,omitempty" json:"fallbacks,omitempty"`
	QualityTier    int                             `yaml:"quality_tier,omitempty" json:"quality_tier,omitempty"`
	RateLimits     registry.RateLimits             `yaml:"rate_limits" json:"rate_limits"`
	CircuitBreaker registry.CircuitBreakerSettings `yaml:"circuit_breaker" json:"circuit_breaker"`
}

// ResolvedSettings are the injected operational settings after merging
// policy overrides over the built-in defaults.
type ResolvedSettings struct {
	Timeouts registry.TimeoutSettings `yaml:"timeouts" json:"timeouts"`
	Cache    registry.CacheSettings   `yaml:"cache" json:"cache"`
}

// Document is the compiled configuration artifact. Immutable once
// written; regeneration always produces a new version.
type Document struct {
	Meta      Meta                           `yaml:"meta" json:"meta"`
	Providers []registry.ProviderEntry       `yaml:"providers" json:"providers"`
	Bindings  []ModelBinding                 `yaml:"bindings" json:"bindings"`
	Balancing []registry.LoadBalancingPolicy `yaml:"load_balancing,omitempty" json:"load_balancing,omitempty"`
	Settings  ResolvedSettings               `yaml:"settings" json:"settings"`
}

// ContentHash computes the stable hash over the document's resolved
// fields. Meta is excluded, and sections are sorted first, so two runs
// over identical sources hash identically no matter the clock or run id.
func (d *Document) ContentHash() string {
	providers := append([]registry.ProviderEntry(nil), d.Providers...)
	sort.Slice(providers, func(i, j int) bool { return providers[i].ID < providers[j].ID })

	bindings := append([]ModelBinding(nil), d.Bindings...)
	sort.Slice(bindings, func(i, j int) bool { return bindings[i].Model < bindings[j].Model })

	balancing := append([]registry.LoadBalancingPolicy(nil), d.Balancing...)
	sort.Slice(balancing, func(i, j int) bool { return balancing[i].Target < balancing[j].Target })

	canonical := struct {
		Providers []registry.ProviderEntry       `json:"providers"`
		Bindings  []ModelBinding                 `json:"bindings"`
		Balancing []registry.LoadBalancingPolicy `json:"balancing"`
		Settings  ResolvedSettings               `json:"settings"`
	}{providers, bindings, balancing, d.Settings}

	data, err := json.Marshal(canonical)
	if err != nil {
		// Only unserializable types can fail here, and the document is
		// built from plain structs.
		panic(fmt.Sprintf("canonicalize document: %v", err))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Encode renders the document as the YAML artifact, generation-marker
// header included.
func (d *Document) Encode() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(artifactHeader)
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(d); err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode parses a previously emitted artifact.
func Decode(data []byte) (*Document, error) {
	var d Document
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return &d, nil
}

// VersionID derives the monotonic version identifier for a run. The
// hash fragment disambiguates two runs within the same second.
func VersionID(now time.Time, contentHash string) string {
	frag := contentHash
	if len(frag) > 8 {
		frag = frag[:8]
	}
	return "v" + now.UTC().Format("20060102-150405") + "-" + frag
}
