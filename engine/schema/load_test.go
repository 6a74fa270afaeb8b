package schema

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleSchema = `
nodes:
  - kind: Car
    relationships:
      - name: owner
        label: Owner
        cardinality: one
        peer_kind: Person
      - name: tags
        label: Tags
        cardinality: many
        peer_kind: Tag
  - kind: Rack
    hierarchical: true
    parent_relationship: site
  - kind: Person
`

func writeSchemaFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "schema.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFile(t *testing.T) {
	nodes, err := LoadFile(writeSchemaFile(t, sampleSchema))
	if err != nil {
		t.Fatalf("LoadFile() error: %v", err)
	}
	if len(nodes) != 3 {
		t.Fatalf("got %d nodes, want 3", len(nodes))
	}

	sc := NewContext("main", nodes)
	if got := sc.Cardinality("Car", "owner"); got != CardinalityOne {
		t.Errorf("owner cardinality = %s, want one", got)
	}
	if got := sc.Cardinality("Car", "tags"); got != CardinalityMany {
		t.Errorf("tags cardinality = %s, want many", got)
	}
	rack, err := sc.Node("Rack")
	if err != nil {
		t.Fatal(err)
	}
	if !rack.Hierarchical || rack.ParentRelationship != "site" {
		t.Errorf("rack schema = %+v", rack)
	}
}

func TestLoadFileEmptyKind(t *testing.T) {
	if _, err := LoadFile(writeSchemaFile(t, "nodes:\n  - hierarchical: true\n")); err == nil {
		t.Fatal("expected error for node without kind")
	}
}

func TestLoadFileMissing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadFileInvalidYAML(t *testing.T) {
	if _, err := LoadFile(writeSchemaFile(t, "nodes: [whoops")); err == nil {
		t.Fatal("expected error for invalid yaml")
	}
}
