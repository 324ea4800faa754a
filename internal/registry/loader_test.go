package registry

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nextlevelbuilder/routegen/internal/faults"
)

const goodRegistry = `
providers:
  - id: openai-main
    type: openai_compat
    base_url: https://api.openai.example:8443
    status: active
    models: [gpt-large]
  - id: local-ollama
    type: ollama
    base_url: http://127.0.0.1:11434
    status: cooldown
models:
  - name: gpt-large
    provider_id: openai-main
    context_length: 128000
    quality_tier: 3
    capabilities:
      chat: true
      tools: true
  - name: llama-small
    provider_id: local-ollama
    quality_tier: 1
`

const goodPolicy = `
rules:
  - kind: exact
    model_name: gpt-large
    provider_id: openai-main
    fallback_chain: main-chain
  - kind: pattern
    pattern: "^llama-.*"
    provider_id: local-ollama
fallback_chains:
  - id: main-chain
    hops: [llama-small]
default_provider: openai-main
`

func writeSource(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoad_Valid(t *testing.T) {
	g, err := Load(writeSource(t, "providers.yaml", goodRegistry), writeSource(t, "routing.yaml", goodPolicy))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(g.Registry.Providers) != 2 || len(g.Registry.Models) != 2 {
		t.Errorf("unexpected registry sizes: %d providers, %d models",
			len(g.Registry.Providers), len(g.Registry.Models))
	}
	if len(g.Policy.Rules) != 2 || len(g.Policy.Chains) != 1 {
		t.Errorf("unexpected policy sizes: %d rules, %d chains",
			len(g.Policy.Rules), len(g.Policy.Chains))
	}
	if len(g.Sources) != 2 {
		t.Fatalf("expected 2 source files, got %d", len(g.Sources))
	}
	for _, s := range g.Sources {
		if s.SHA256 == "" || s.ModTime.IsZero() {
			t.Errorf("source %s missing metadata", s.Path)
		}
	}
}

func TestLoad_JSON5Registry(t *testing.T) {
	reg := `{
		// provider registry, JSON5 flavor
		providers: [
			{id: "p1", type: "openai_compat", base_url: "https://p1.example", status: "active"},
		],
		models: [
			{name: "m1", provider_id: "p1"},
		],
	}`
	g, err := Load(writeSource(t, "providers.json5", reg), writeSource(t, "routing.yaml", goodPolicy))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if g.Registry.Providers[0].ID != "p1" {
		t.Errorf("json5 provider not parsed: %+v", g.Registry.Providers[0])
	}
}

func TestLoad_MalformedYAMLIsParseError(t *testing.T) {
	_, err := Load(writeSource(t, "providers.yaml", "providers: [unclosed"), writeSource(t, "routing.yaml", goodPolicy))
	var pe *faults.ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ParseError, got %v", err)
	}
}

func TestLoad_MissingFileIsParseError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), writeSource(t, "routing.yaml", goodPolicy))
	var pe *faults.ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ParseError, got %v", err)
	}
}

func TestLoad_SchemaErrorsAreBatched(t *testing.T) {
	reg := `
providers:
  - id: dup
    type: openai_compat
    base_url: "ftp://wrong.example"
    status: active
  - id: dup
    type: mystery
    base_url: "https://ok.example:99999"
    status: active
models:
  - name: m1
    provider_id: ""
`
	_, err := Load(writeSource(t, "providers.yaml", reg), writeSource(t, "routing.yaml", goodPolicy))
	if err == nil {
		t.Fatal("expected schema errors")
	}
	var se *faults.SchemaError
	if !errors.As(err, &se) {
		t.Fatalf("expected SchemaError, got %v", err)
	}
	msg := err.Error()
	for _, want := range []string{"duplicate provider id", "unknown provider type", "scheme must be http or https", "1..65535", "missing provider_id"} {
		if !strings.Contains(msg, want) {
			t.Errorf("batched error missing %q in:\n%s", want, msg)
		}
	}
}

func TestLoad_BadRegexAndRuleKind(t *testing.T) {
	pol := `
rules:
  - kind: pattern
    pattern: "["
    provider_id: p1
  - kind: fuzzy
`
	_, err := Load(writeSource(t, "providers.yaml", goodRegistry), writeSource(t, "routing.yaml", pol))
	if err == nil {
		t.Fatal("expected schema errors")
	}
	msg := err.Error()
	if !strings.Contains(msg, "invalid regex") {
		t.Errorf("missing regex error in: %s", msg)
	}
	if !strings.Contains(msg, "rule kind must be") {
		t.Errorf("missing rule kind error in: %s", msg)
	}
}

func TestValidateBaseURL(t *testing.T) {
	cases := []struct {
		url string
		ok  bool
	}{
		{"https://host.example", true},
		{"http://host.example:8080", true},
		{"ftp://host.example", false},
		{"https://", false},
		{"http://host.example:70000", false},
	}
	for _, c := range cases {
		err := ValidateBaseURL(c.url)
		if c.ok && err != nil {
			t.Errorf("%s: unexpected error %v", c.url, err)
		}
		if !c.ok && err == nil {
			t.Errorf("%s: expected error", c.url)
		}
	}
}

func TestHostPort(t *testing.T) {
	if hp, ok := HostPort("https://a.example"); !ok || hp != "a.example:443" {
		t.Errorf("https default port: got %q %v", hp, ok)
	}
	if hp, ok := HostPort("http://a.example"); !ok || hp != "a.example:80" {
		t.Errorf("http default port: got %q %v", hp, ok)
	}
	if hp, ok := HostPort("http://a.example:9000"); !ok || hp != "a.example:9000" {
		t.Errorf("explicit port: got %q %v", hp, ok)
	}
}
