package backup

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nextlevelbuilder/routegen/internal/compile"
	"github.com/nextlevelbuilder/routegen/internal/registry"
)

func makeArtifact(t *testing.T, version, hash string, generatedAt time.Time) []byte {
	t.Helper()
	doc := &compile.Document{
		Meta: compile.Meta{
			GeneratedBy: compile.GeneratedBy,
			RunID:       "test-run",
			Version:     version,
			ContentHash: hash,
			GeneratedAt: generatedAt,
		},
		Providers: []registry.ProviderEntry{
			{ID: "p1", Type: registry.ProviderOpenAICompat, BaseURL: "https://p1.example", Status: registry.StatusActive},
		},
		Bindings: []compile.ModelBinding{
			{Model: "alpha", ProviderID: "p1", MatchedBy: "exact",
				CircuitBreaker: registry.CircuitBreakerSettings{FailureThreshold: 5, CooldownSeconds: 30}},
		},
		Settings: compile.ResolvedSettings{
			Timeouts: registry.TimeoutSettings{PerHopMS: 1, PerRequestMS: 2, PerStreamMS: 3, OverallMS: 4},
			Cache:    registry.CacheSettings{TTLSeconds: 300, DegradeOnUnavailable: true},
		},
	}
	data, err := doc.Encode()
	if err != nil {
		t.Fatalf("encode artifact: %v", err)
	}
	return data
}

func acceptAll(*compile.Document) error { return nil }

func TestCommitGenerate_FirstRunWritesWithoutSnapshot(t *testing.T) {
	dir := t.TempDir()
	active := filepath.Join(dir, "out", "gateway.yaml")
	m := NewManager(filepath.Join(dir, "backups"), 0)

	now := time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC)
	art := makeArtifact(t, compile.VersionID(now, "aaaaaaaa11"), "aaaaaaaa11", now)
	swept, err := m.CommitGenerate(active, art, now)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if len(swept) != 0 {
		t.Errorf("unexpected sweep on first run: %v", swept)
	}
	got, err := os.ReadFile(active)
	if err != nil || !bytes.Equal(got, art) {
		t.Fatalf("active artifact not written: %v", err)
	}
	records, err := m.List(now)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("first run must not snapshot: %+v", records)
	}
}

func TestCommitGenerate_SnapshotsPreviousArtifact(t *testing.T) {
	dir := t.TempDir()
	active := filepath.Join(dir, "gateway.yaml")
	m := NewManager(filepath.Join(dir, "backups"), 0)

	t0 := time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC)
	v0 := compile.VersionID(t0, "11111111ff")
	first := makeArtifact(t, v0, "11111111ff", t0)
	if _, err := m.CommitGenerate(active, first, t0); err != nil {
		t.Fatalf("first commit: %v", err)
	}

	t1 := t0.Add(time.Hour)
	second := makeArtifact(t, compile.VersionID(t1, "22222222ff"), "22222222ff", t1)
	if _, err := m.CommitGenerate(active, second, t1); err != nil {
		t.Fatalf("second commit: %v", err)
	}

	records, err := m.List(t1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 snapshot, got %+v", records)
	}
	r := records[0]
	if r.Version != v0 {
		t.Errorf("snapshot version %s, want %s", r.Version, v0)
	}
	if r.ContentHash != "11111111ff" {
		t.Errorf("snapshot hash %s", r.ContentHash)
	}
	if r.Tier != TierRecent {
		t.Errorf("snapshot tier %s", r.Tier)
	}
	snap, err := os.ReadFile(r.Path)
	if err != nil || !bytes.Equal(snap, first) {
		t.Errorf("snapshot bytes differ from the replaced artifact")
	}
}

func TestRollback_RestoresSnapshotBytes(t *testing.T) {
	dir := t.TempDir()
	active := filepath.Join(dir, "gateway.yaml")
	m := NewManager(filepath.Join(dir, "backups"), 0)

	t0 := time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC)
	v0 := compile.VersionID(t0, "33333333ff")
	first := makeArtifact(t, v0, "33333333ff", t0)
	if _, err := m.CommitGenerate(active, first, t0); err != nil {
		t.Fatalf("first commit: %v", err)
	}
	second := makeArtifact(t, compile.VersionID(t0.Add(time.Hour), "44444444ff"), "44444444ff", t0.Add(time.Hour))
	if _, err := m.CommitGenerate(active, second, t0.Add(time.Hour)); err != nil {
		t.Fatalf("second commit: %v", err)
	}

	if err := m.Rollback(v0, active, acceptAll); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	got, err := os.ReadFile(active)
	if err != nil || !bytes.Equal(got, first) {
		t.Fatalf("rollback must restore the snapshot byte-for-byte")
	}
}

func TestRollback_UnknownVersion(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(filepath.Join(dir, "backups"), 0)
	err := m.Rollback("v20260101-000000-deadbeef", filepath.Join(dir, "gateway.yaml"), acceptAll)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRollback_FailedRevalidationLeavesActiveUntouched(t *testing.T) {
	dir := t.TempDir()
	active := filepath.Join(dir, "gateway.yaml")
	m := NewManager(filepath.Join(dir, "backups"), 0)

	t0 := time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC)
	v0 := compile.VersionID(t0, "55555555ff")
	first := makeArtifact(t, v0, "55555555ff", t0)
	if _, err := m.CommitGenerate(active, first, t0); err != nil {
		t.Fatalf("first commit: %v", err)
	}
	second := makeArtifact(t, compile.VersionID(t0.Add(time.Hour), "66666666ff"), "66666666ff", t0.Add(time.Hour))
	if _, err := m.CommitGenerate(active, second, t0.Add(time.Hour)); err != nil {
		t.Fatalf("second commit: %v", err)
	}

	reject := func(*compile.Document) error { return fmt.Errorf("provider p1 no longer resolvable") }
	err := m.Rollback(v0, active, reject)
	if err == nil || !strings.Contains(err.Error(), "failed re-validation") {
		t.Fatalf("expected revalidation failure, got %v", err)
	}
	got, rerr := os.ReadFile(active)
	if rerr != nil || !bytes.Equal(got, second) {
		t.Fatalf("failed rollback must leave the active artifact untouched")
	}
}

func TestSweep_DeletesPendingDelete(t *testing.T) {
	dir := t.TempDir()
	backups := filepath.Join(dir, "backups")
	if err := os.MkdirAll(backups, 0755); err != nil {
		t.Fatal(err)
	}
	now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)

	// ten recent-window snapshots plus two in the same old ISO week:
	// the second old one has no tier to land in
	for i := 0; i < 10; i++ {
		ts := now.Add(-time.Duration(i) * time.Minute)
		writeSnapshot(t, backups, ts, fmt.Sprintf("%08x", i))
	}
	oldTS := now.AddDate(0, 0, -10)
	keptOld := writeSnapshot(t, backups, oldTS, "aaaa0000")
	doomed := writeSnapshot(t, backups, oldTS.Add(-time.Hour), "bbbb0000")

	m := NewManager(backups, 0)
	swept, err := m.Sweep(now)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(swept) != 1 || swept[0] != doomed {
		t.Fatalf("swept %v, want [%s]", swept, doomed)
	}
	if _, err := os.Stat(filepath.Join(backups, doomed+".yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("doomed snapshot still present")
	}
	if _, err := os.Stat(filepath.Join(backups, keptOld+".yaml")); err != nil {
		t.Errorf("weekly snapshot deleted: %v", err)
	}
}

func writeSnapshot(t *testing.T, dir string, ts time.Time, hash string) string {
	t.Helper()
	version := compile.VersionID(ts, hash)
	data := makeArtifact(t, version, hash, ts)
	if err := os.WriteFile(filepath.Join(dir, version+".yaml"), data, 0644); err != nil {
		t.Fatal(err)
	}
	return version
}

func TestScan_IgnoresForeignFiles(t *testing.T) {
	dir := t.TempDir()
	backups := filepath.Join(dir, "backups")
	if err := os.MkdirAll(backups, 0755); err != nil {
		t.Fatal(err)
	}
	now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	writeSnapshot(t, backups, now, "cafe0001")
	for _, name := range []string{"notes.txt", ".routegen.lock", "v123-bad.yaml"} {
		if err := os.WriteFile(filepath.Join(backups, name), []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	records, err := NewManager(backups, 0).List(now)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %+v", records)
	}
}
