package security

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/lynxforge/pluginrt/plugins"
)

func writeTempFile(t *testing.T, name string, size int) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// TestScenarioS6 matches spec.md §8 S6: validating a .exe file fails with
// is_valid==false, validated_level==None.
func TestScenarioS6(t *testing.T) {
	path := writeTempFile(t, "plugin.exe", 128)
	v := New(Config{Level: LevelBasic, AllowedExtensions: []string{".so", ".dll", ".dylib", ".qtplugin"}})

	res := v.Validate(path, "p", nil, LevelNone)
	if res.IsValid {
		t.Error("expected invalid result for .exe extension")
	}
	if res.ValidatedLevel != LevelNone {
		t.Errorf("expected ValidatedLevel None, got %v", res.ValidatedLevel)
	}
	if len(res.Errors) == 0 {
		t.Error("expected at least one error")
	}
}

func TestValidateBasicPasses(t *testing.T) {
	path := writeTempFile(t, "plugin.so", 128)
	v := New(Config{Level: LevelBasic, AllowedExtensions: []string{".so"}})

	res := v.Validate(path, "p", nil, LevelNone)
	if !res.IsValid {
		t.Fatalf("expected valid result, got errors: %v", res.Errors)
	}
	if res.ValidatedLevel != LevelBasic {
		t.Errorf("expected ValidatedLevel Basic, got %v", res.ValidatedLevel)
	}
}

func TestValidateStandardRequiresMetadata(t *testing.T) {
	path := writeTempFile(t, "plugin.so", 128)
	v := New(Config{AllowedExtensions: []string{".so"}})

	res := v.Validate(path, "p", nil, LevelStandard)
	if res.IsValid {
		t.Error("expected Standard validation to fail without metadata")
	}
}

func TestValidateStandardPassesWithMetadata(t *testing.T) {
	path := writeTempFile(t, "plugin.so", 128)
	v := New(Config{AllowedExtensions: []string{".so"}})
	meta := &plugins.Metadata{ID: "p", Name: "P", Version: "1.0.0"}

	res := v.Validate(path, "p", meta, LevelStandard)
	if !res.IsValid {
		t.Fatalf("expected valid, got errors: %v", res.Errors)
	}
	if res.ValidatedLevel != LevelStandard {
		t.Errorf("expected Standard, got %v", res.ValidatedLevel)
	}
}

func TestValidateStrictRejectsDisallowedCapability(t *testing.T) {
	path := writeTempFile(t, "plugin.so", 128)
	v := New(Config{
		AllowedExtensions:   []string{".so"},
		AllowedCapabilities: []plugins.Capability{plugins.CapabilityLogging},
	})
	meta := &plugins.Metadata{ID: "p", Name: "P", Version: "1.0.0", Capabilities: []plugins.Capability{plugins.CapabilityNetwork}}

	res := v.Validate(path, "p", meta, LevelStrict)
	if res.IsValid {
		t.Error("expected Strict validation to reject a disallowed capability")
	}
}

func TestTrustStoreRoundTrip(t *testing.T) {
	store := NewTrustStore()
	store.Add("a", LevelStandard)
	store.Add("b", LevelMaximum)

	data, err := store.MarshalJSON()
	if err != nil {
		t.Fatal(err)
	}

	restored := NewTrustStore()
	if err := restored.UnmarshalJSON(data); err != nil {
		t.Fatal(err)
	}

	for _, id := range []string{"a", "b"} {
		want, _ := store.Lookup(id)
		got, ok := restored.Lookup(id)
		if !ok || got != want {
			t.Errorf("id %s: got %v,%v want %v,true", id, got, ok, want)
		}
	}
}

func TestTrustStoreInvalidLevelDefaultsToBasic(t *testing.T) {
	store := NewTrustStore()
	err := store.UnmarshalJSON([]byte(`{"version":"1.0","trusted_plugins":[{"id":"x","trust_level":"bogus"}]}`))
	if err != nil {
		t.Fatal(err)
	}
	level, ok := store.Lookup("x")
	if !ok || level != LevelBasic {
		t.Errorf("expected invalid level to default to Basic, got %v,%v", level, ok)
	}
}
