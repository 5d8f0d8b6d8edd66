package schemacodec

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFixture(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing fixture %s: %v", name, err)
	}
	return path
}

func TestResolverInlinesFileReference(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "sensors.yaml", `
defs:
  temp_sensor:
    fields:
      - name: temp
        type: s16
        mult: 0.01
`)

	doc := map[string]any{
		"name": "main",
		"fields": []any{
			map[string]any{"$ref": "sensors.yaml#/defs/temp_sensor"},
			map[string]any{"name": "hum", "type": "u8"},
		},
	}

	r := NewReferenceResolver()
	resolved, err := r.Resolve(doc, dir)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	s, err := New(resolved)
	if err != nil {
		t.Fatalf("New after resolve: %v", err)
	}
	if len(s.Fields) != 2 {
		t.Fatalf("resolved schema has %d fields, want 2", len(s.Fields))
	}
	if s.Fields[0].Name() != "temp" {
		t.Fatalf("first field = %q, want temp", s.Fields[0].Name())
	}
}

func TestResolverRenameAndPrefix(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "common.yaml", `
fields:
  - name: value
    type: u8
`)

	doc := map[string]any{
		"name": "main",
		"fields": []any{
			map[string]any{
				"$ref":   "common.yaml",
				"prefix": "outer_",
				"rename": map[string]any{"value": "reading"},
			},
		},
	}

	r := NewReferenceResolver()
	resolved, err := r.Resolve(doc, dir)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	s, err := New(resolved)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := s.Fields[0].Name(); got != "outer_reading" {
		t.Fatalf("renamed+prefixed field = %q, want outer_reading", got)
	}
}

func TestResolverDetectsCircularReference(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "a.yaml", `
fields:
  - $ref: b.yaml
`)
	writeFixture(t, dir, "b.yaml", `
fields:
  - $ref: a.yaml
`)

	doc := map[string]any{
		"name":   "main",
		"fields": []any{map[string]any{"$ref": "a.yaml"}},
	}

	r := NewReferenceResolver()
	_, err := r.Resolve(doc, dir)
	if err == nil {
		t.Fatal("expected a circular reference error")
	}
	if Kind(err) != KindCircularReference {
		t.Fatalf("Kind(err) = %v, want KindCircularReference", Kind(err))
	}
}

func TestResolverRejectsUnresolvedReferenceAtConstruction(t *testing.T) {
	tree := map[string]any{
		"name":   "main",
		"fields": []any{map[string]any{"$ref": "never-resolved.yaml"}},
	}
	_, err := New(tree)
	if err == nil {
		t.Fatal("expected New to reject an unresolved reference entry")
	}
	if Kind(err) != KindStructuralError {
		t.Fatalf("Kind(err) = %v, want KindStructuralError", Kind(err))
	}
}
