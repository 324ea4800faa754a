package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/titanous/json5"
	"gopkg.in/yaml.v3"

	"github.com/nextlevelbuilder/routegen/internal/faults"
)

// Load parses the provider registry and routing policy documents into a
// SourceGraph. Malformed structure aborts immediately with a
// *faults.ParseError; semantic problems are batched into a joined error
// of *faults.SchemaError so one run surfaces them all.
func Load(registryPath, policyPath string) (*SourceGraph, error) {
	g := &SourceGraph{}

	src, err := readDocument(registryPath, &g.Registry)
	if err != nil {
		return nil, err
	}
	g.Sources = append(g.Sources, src)

	src, err = readDocument(policyPath, &g.Policy)
	if err != nil {
		return nil, err
	}
	g.Sources = append(g.Sources, src)

	var errs []error
	errs = append(errs, checkRegistry(registryPath, &g.Registry)...)
	errs = append(errs, checkPolicy(policyPath, &g.Policy)...)
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	slog.Debug("sources loaded",
		"providers", len(g.Registry.Providers),
		"models", len(g.Registry.Models),
		"rules", len(g.Policy.Rules),
		"chains", len(g.Policy.Chains))
	return g, nil
}

// readDocument reads and unmarshals one source file, YAML by default,
// JSON5 when the extension says so. Returns file metadata for the
// staleness check.
func readDocument(path string, out any) (SourceFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return SourceFile{}, &faults.ParseError{File: path, Err: err}
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json5", ".json":
		err = json5.Unmarshal(data, out)
	default:
		err = yaml.Unmarshal(data, out)
	}
	if err != nil {
		return SourceFile{}, &faults.ParseError{File: path, Err: err}
	}

	info, err := os.Stat(path)
	if err != nil {
		return SourceFile{}, &faults.ParseError{File: path, Err: err}
	}
	sum := sha256.Sum256(data)
	return SourceFile{
		Path:    path,
		SHA256:  hex.EncodeToString(sum[:]),
		ModTime: info.ModTime(),
	}, nil
}

func checkRegistry(file string, doc *RegistryDoc) []error {
	var errs []error
	bad := func(path string, value any, msg string) {
		errs = append(errs, &faults.SchemaError{File: file, Path: path, Value: value, Msg: msg})
	}

	if len(doc.Providers) == 0 {
		bad("providers", nil, "at least one provider is required")
	}

	seenProviders := map[string]bool{}
	for i, p := range doc.Providers {
		at := fmt.Sprintf("providers[%d]", i)
		if p.ID == "" {
			bad(at+".id", nil, "missing provider id")
		} else if seenProviders[p.ID] {
			bad(at+".id", p.ID, "duplicate provider id")
		}
		seenProviders[p.ID] = true

		if !validProviderType(p.Type) {
			bad(at+".type", string(p.Type), "unknown provider type")
		}
		if !validStatus(p.Status) {
			bad(at+".status", string(p.Status), "status must be active, disabled or cooldown")
		}
		checkBaseURL(at+".base_url", p.BaseURL, bad)
		if p.RateLimits != nil {
			if p.RateLimits.RequestsPerMinute < 0 || p.RateLimits.TokensPerMinute < 0 {
				bad(at+".rate_limits", *p.RateLimits, "rate limits must not be negative")
			}
		}
	}

	seenModels := map[string]bool{}
	for i, m := range doc.Models {
		at := fmt.Sprintf("models[%d]", i)
		if m.Name == "" {
			bad(at+".name", nil, "missing model name")
		} else if seenModels[m.Name] {
			bad(at+".name", m.Name, "duplicate model name")
		}
		seenModels[m.Name] = true

		if m.ProviderID == "" {
			bad(at+".provider_id", nil, "missing provider_id")
		}
		if m.ContextLength < 0 {
			bad(at+".context_length", m.ContextLength, "context_length must not be negative")
		}
		if m.QualityTier < 0 {
			bad(at+".quality_tier", m.QualityTier, "quality_tier must not be negative")
		}
	}

	return errs
}

func checkPolicy(file string, doc *PolicyDoc) []error {
	var errs []error
	bad := func(path string, value any, msg string) {
		errs = append(errs, &faults.SchemaError{File: file, Path: path, Value: value, Msg: msg})
	}

	for i, r := range doc.Rules {
		at := fmt.Sprintf("rules[%d]", i)
		switch r.Kind {
		case RuleExact:
			if r.ModelName == "" {
				bad(at+".model_name", nil, "exact rule requires model_name")
			}
			if r.ProviderID == "" {
				bad(at+".provider_id", nil, "exact rule requires provider_id")
			}
		case RulePattern:
			if r.Pattern == "" {
				bad(at+".pattern", nil, "pattern rule requires pattern")
			} else if _, err := regexp.Compile(r.Pattern); err != nil {
				bad(at+".pattern", r.Pattern, "invalid regex: "+err.Error())
			}
			if r.ProviderID == "" {
				bad(at+".provider_id", nil, "pattern rule requires provider_id")
			}
		case RuleCapabilityGroup:
			if r.Group == "" {
				bad(at+".group", nil, "capability_group rule requires group")
			}
			if len(r.Members) == 0 {
				bad(at+".members", nil, "capability_group rule requires members")
			}
			if r.Strategy != "" && !validStrategy(r.Strategy) {
				bad(at+".strategy", r.Strategy, "strategy must be round_robin, weighted or priority")
			}
		default:
			bad(at+".kind", string(r.Kind), "rule kind must be exact, pattern or capability_group")
		}
	}

	seenChains := map[string]bool{}
	for i, c := range doc.Chains {
		at := fmt.Sprintf("fallback_chains[%d]", i)
		if c.ID == "" {
			bad(at+".id", nil, "missing chain id")
		} else if seenChains[c.ID] {
			bad(at+".id", c.ID, "duplicate chain id")
		}
		seenChains[c.ID] = true

		if len(c.Hops) == 0 {
			bad(at+".hops", nil, "chain requires at least one hop")
		}
		for j, h := range c.Hops {
			if strings.TrimSpace(h) == "" {
				bad(fmt.Sprintf("%s.hops[%d]", at, j), nil, "empty hop")
			}
		}
	}

	for i, p := range doc.Balancing {
		at := fmt.Sprintf("load_balancing[%d]", i)
		if p.Target == "" {
			bad(at+".target", nil, "missing target")
		}
		if len(p.Entries) == 0 {
			bad(at+".providers", nil, "policy requires at least one provider entry")
		}
		for j, e := range p.Entries {
			eat := fmt.Sprintf("%s.providers[%d]", at, j)
			if e.ProviderID == "" {
				bad(eat+".provider_id", nil, "missing provider_id")
			}
			if e.Weight < 0 || e.Weight > 1 {
				bad(eat+".weight", e.Weight, "weight must be within [0, 1]")
			}
		}
	}

	if s := doc.Settings; s != nil {
		if t := s.Timeouts; t != nil {
			for name, v := range map[string]int{
				"per_hop_ms": t.PerHopMS, "per_request_ms": t.PerRequestMS,
				"per_stream_ms": t.PerStreamMS, "overall_ms": t.OverallMS,
			} {
				if v < 0 {
					bad("settings.timeouts."+name, v, "timeout must not be negative")
				}
			}
		}
		if c := s.Cache; c != nil && c.TTLSeconds < 0 {
			bad("settings.cache.ttl_seconds", c.TTLSeconds, "ttl must not be negative")
		}
	}
	if a := doc.Advisory; a != nil && a.MaxTierDrop < 0 {
		bad("advisory.max_tier_drop", a.MaxTierDrop, "max_tier_drop must not be negative")
	}

	return errs
}

func checkBaseURL(path, raw string, bad func(string, any, string)) {
	if raw == "" {
		bad(path, nil, "missing base_url")
		return
	}
	if err := ValidateBaseURL(raw); err != nil {
		bad(path, raw, err.Error())
	}
}

// ValidateBaseURL checks that a provider base URL is a well-formed
// http(s) URL with a host and an in-range port. Shared by the loader
// and the validator's schema pass.
func ValidateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("malformed URL: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https")
	}
	if u.Hostname() == "" {
		return fmt.Errorf("URL host is required")
	}
	if port := u.Port(); port != "" {
		n, err := strconv.Atoi(port)
		if err != nil || n < 1 || n > 65535 {
			return fmt.Errorf("port must be within 1..65535")
		}
	}
	return nil
}

// HostPort extracts the effective host:port a provider binds, applying
// the scheme default when the URL names no port.
func HostPort(raw string) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return "", false
	}
	port := u.Port()
	if port == "" {
		switch u.Scheme {
		case "https":
			port = "443"
		default:
			port = "80"
		}
	}
	return u.Hostname() + ":" + port, true
}

func validProviderType(t ProviderType) bool {
	for _, k := range KnownProviderTypes {
		if t == k {
			return true
		}
	}
	return false
}

func validStatus(s ProviderStatus) bool {
	switch s {
	case StatusActive, StatusDisabled, StatusCooldown:
		return true
	}
	return false
}

func validStrategy(s string) bool {
	switch s {
	case "round_robin", "weighted", "priority":
		return true
	}
	return false
}
