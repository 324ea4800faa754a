package cmd

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nextlevelbuilder/routegen/internal/compile"
	"github.com/nextlevelbuilder/routegen/internal/faults"
)

const e2eRegistry = `
providers:
  - id: provider-a
    type: openai_compat
    base_url: https://a.example
    status: active
  - id: provider-b
    type: ollama
    base_url: http://b.example:11434
    status: disabled
models:
  - name: a-model
    provider_id: provider-a
    quality_tier: 2
  - name: b-model
    provider_id: provider-b
    quality_tier: 2
  - name: x
    provider_id: provider-a
    quality_tier: 2
`

const e2ePolicy = `
rules:
  - kind: exact
    model_name: x
    provider_id: provider-a
    fallback_chain: degrade
fallback_chains:
  - id: degrade
    hops: [b-model, a-model]
`

// setFlags points the package flag state at a scratch directory and
// restores the old values when the test finishes.
func setFlags(t *testing.T, registry, policy string) string {
	t.Helper()
	dir := t.TempDir()
	write := func(name, content string) string {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
		return path
	}

	oldRegistry, oldPolicy := flagRegistry, flagPolicy
	oldOut, oldBackups, oldWait := flagOut, flagBackupDir, flagLockWait
	t.Cleanup(func() {
		flagRegistry, flagPolicy = oldRegistry, oldPolicy
		flagOut, flagBackupDir, flagLockWait = oldOut, oldBackups, oldWait
	})

	flagRegistry = write("providers.yaml", registry)
	flagPolicy = write("routing.yaml", policy)
	flagOut = filepath.Join(dir, "gateway.yaml")
	flagBackupDir = filepath.Join(dir, "backups")
	flagLockWait = time.Second
	return dir
}

// The disabled-provider scenario end to end: generate must succeed, drop
// the disabled hop with a warning, and write a deployable artifact.
func TestGenerate_DisabledProviderScenario(t *testing.T) {
	setFlags(t, e2eRegistry, e2ePolicy)

	if code := runGenerate(); code != exitOK {
		t.Fatalf("generate exit %d, want %d", code, exitOK)
	}

	data, err := os.ReadFile(flagOut)
	if err != nil {
		t.Fatalf("artifact not written: %v", err)
	}
	doc, err := compile.Decode(data)
	if err != nil {
		t.Fatalf("artifact not decodable: %v", err)
	}
	if doc.Meta.GeneratedBy != compile.GeneratedBy || doc.Meta.Version == "" {
		t.Errorf("incomplete meta: %+v", doc.Meta)
	}

	var x *compile.ModelBinding
	for i := range doc.Bindings {
		if doc.Bindings[i].Model == "b-model" {
			t.Error("binding to disabled provider survived into the artifact")
		}
		if doc.Bindings[i].Model == "x" {
			x = &doc.Bindings[i]
		}
	}
	if x == nil {
		t.Fatal("binding for x missing")
	}
	if x.ProviderID != "provider-a" || x.MatchedBy != "exact" {
		t.Errorf("x bound to %s via %s", x.ProviderID, x.MatchedBy)
	}
	if len(x.Fallbacks) != 1 || x.Fallbacks[0] != "a-model" {
		t.Errorf("x fallbacks %v, want [a-model]", x.Fallbacks)
	}
}

func TestPipeline_ParseFailureIsExitIO(t *testing.T) {
	setFlags(t, "providers: [unclosed", e2ePolicy)
	_, _, code := runPipeline()
	if code != exitIO {
		t.Fatalf("exit %d, want %d", code, exitIO)
	}
}

func TestPipeline_ValidationFailureIsExitValidation(t *testing.T) {
	// x's chain loops back through a cycle between two models
	registry := `
providers:
  - id: provider-a
    type: openai_compat
    base_url: https://a.example
    status: active
models:
  - name: m1
    provider_id: provider-a
  - name: m2
    provider_id: provider-a
`
	policy := `
rules:
  - kind: exact
    model_name: m1
    provider_id: provider-a
    fallback_chain: c1
  - kind: exact
    model_name: m2
    provider_id: provider-a
    fallback_chain: c2
fallback_chains:
  - id: c1
    hops: [m2]
  - id: c2
    hops: [m1]
`
	setFlags(t, registry, policy)
	_, rep, code := runPipeline()
	if code != exitValidation {
		t.Fatalf("exit %d, want %d", code, exitValidation)
	}
	found := false
	for _, e := range rep.Errors {
		if _, ok := e.(*faults.CycleError); ok {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a cycle error, got %v", rep.Errors)
	}
}

func TestGenerateThenRollback(t *testing.T) {
	dir := setFlags(t, e2eRegistry, e2ePolicy)

	if code := runGenerate(); code != exitOK {
		t.Fatalf("first generate exit %d", code)
	}
	firstArtifact, err := os.ReadFile(flagOut)
	if err != nil {
		t.Fatal(err)
	}
	firstDoc, err := compile.Decode(firstArtifact)
	if err != nil {
		t.Fatal(err)
	}

	// change a source so the second compile produces new content
	changed := e2eRegistry + `  - name: y
    provider_id: provider-a
`
	if err := os.WriteFile(filepath.Join(dir, "providers.yaml"), []byte(changed), 0644); err != nil {
		t.Fatal(err)
	}
	if code := runGenerate(); code != exitOK {
		t.Fatalf("second generate exit %d", code)
	}
	secondArtifact, _ := os.ReadFile(flagOut)
	if string(secondArtifact) == string(firstArtifact) {
		t.Fatal("second generate produced identical artifact")
	}

	if code := runRollback(firstDoc.Meta.Version); code != exitOK {
		t.Fatalf("rollback exit %d", code)
	}
	restored, err := os.ReadFile(flagOut)
	if err != nil {
		t.Fatal(err)
	}
	if string(restored) != string(firstArtifact) {
		t.Error("rollback did not restore the first artifact byte-for-byte")
	}
}

func TestRollback_UnknownVersionExitCode(t *testing.T) {
	setFlags(t, e2eRegistry, e2ePolicy)
	if code := runGenerate(); code != exitOK {
		t.Fatalf("generate exit %d", code)
	}
	if code := runRollback("v20200101-000000-00000000"); code != exitValidation {
		t.Fatalf("unknown version exit %d, want %d", code, exitValidation)
	}
}
