package diff

import (
	"errors"
	"reflect"
	"testing"

	"github.com/plexgraph/plexgraph/engine/schema"
)

func TestParseAttributeValueUpdate(t *testing.T) {
	rows := []PathRow{
		attrRow("feature", "car-1", "Car", "color", PropHasValue, Ptr("red"), Ptr("blue"), at(5)),
	}
	roots, err := mustParse(testSchema("feature"), "main", rows, at(0), at(10))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	root := roots["feature"]
	if root == nil {
		t.Fatal("no root for branch feature")
	}
	if root.BaseBranch != "main" || root.DiffBranch != "feature" {
		t.Fatalf("root branches = (%s, %s)", root.BaseBranch, root.DiffBranch)
	}

	node := root.GetNode("car-1")
	if node == nil {
		t.Fatal("node car-1 missing")
	}
	if node.Action != ActionUpdated {
		t.Errorf("node action = %s, want updated", node.Action)
	}
	attr := node.GetAttribute("color")
	if attr == nil {
		t.Fatal("attribute color missing")
	}
	if attr.Action != ActionUpdated {
		t.Errorf("attribute action = %s, want updated", attr.Action)
	}
	prop := attr.GetProperty(PropHasValue)
	if prop == nil {
		t.Fatal("HAS_VALUE property missing")
	}
	if prop.Action != ActionUpdated {
		t.Errorf("property action = %s, want updated", prop.Action)
	}
	if !ValueEqual(prop.PreviousValue, Ptr("red")) || !ValueEqual(prop.NewValue, Ptr("blue")) {
		t.Errorf("property values = (%v, %v)", prop.PreviousValue, prop.NewValue)
	}
}

func TestParseCollapsesMultipleEditsPerProperty(t *testing.T) {
	// red -> green at t+2, green -> blue at t+7: one property row pair.
	rows := []PathRow{
		attrRow("feature", "car-1", "Car", "color", PropHasValue, Ptr("green"), Ptr("blue"), at(7)),
		attrRow("feature", "car-1", "Car", "color", PropHasValue, Ptr("red"), Ptr("green"), at(2)),
	}
	roots, err := mustParse(testSchema("feature"), "main", rows, at(0), at(10))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	prop := roots["feature"].GetNode("car-1").GetAttribute("color").GetProperty(PropHasValue)
	if !ValueEqual(prop.PreviousValue, Ptr("red")) || !ValueEqual(prop.NewValue, Ptr("blue")) {
		t.Fatalf("collapsed values = (%v, %v), want (red, blue)", prop.PreviousValue, prop.NewValue)
	}
	if !prop.ChangedAt.Equal(at(7)) {
		t.Errorf("changed_at = %s, want %s", prop.ChangedAt, at(7))
	}
}

func TestParseNullSentinelNormalized(t *testing.T) {
	rows := []PathRow{
		attrRow("feature", "car-1", "Car", "color", PropHasValue, Ptr("NULL"), Ptr("blue"), at(1)),
	}
	roots, err := mustParse(testSchema("feature"), "main", rows, at(0), at(10))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	prop := roots["feature"].GetNode("car-1").GetAttribute("color").GetProperty(PropHasValue)
	if prop.PreviousValue != nil {
		t.Errorf("previous value = %q, want absent", *prop.PreviousValue)
	}
	if prop.Action != ActionAdded {
		t.Errorf("action = %s, want added after normalization", prop.Action)
	}
}

func TestParseNodeCreationForcesChildren(t *testing.T) {
	rows := []PathRow{
		nodeRow("feature", "car-1", "Car", nil, Ptr("active"), at(1)),
		attrRow("feature", "car-1", "Car", "color", PropHasValue, nil, Ptr("red"), at(1)),
		attrRow("feature", "car-1", "Car", "color", PropIsVisible, nil, Ptr("true"), at(1)),
		relRow("feature", "car-1", "Car", "owner", "person-1", PropIsRelated, nil, Ptr("person-1"), at(1)),
	}
	roots, err := mustParse(testSchema("feature"), "main", rows, at(0), at(10))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	node := roots["feature"].GetNode("car-1")
	if node.Action != ActionAdded {
		t.Fatalf("node action = %s, want added", node.Action)
	}
	for _, attr := range node.Attributes {
		if attr.Action != ActionAdded {
			t.Errorf("attribute %s action = %s, want added", attr.Name, attr.Action)
		}
		for _, p := range attr.Properties {
			if p.Action != ActionAdded {
				t.Errorf("property %s action = %s, want added", p.Type, p.Action)
			}
		}
	}
	for _, rel := range node.Relationships {
		if rel.Action != ActionAdded {
			t.Errorf("relationship %s action = %s, want added", rel.Name, rel.Action)
		}
	}
}

func TestParseNodeDeletionForcesChildren(t *testing.T) {
	// The color edit alone would read as an update; the node deletion
	// overrides everything underneath to removed.
	rows := []PathRow{
		nodeRow("feature", "car-1", "Car", Ptr("active"), nil, at(5)),
		attrRow("feature", "car-1", "Car", "color", PropHasValue, Ptr("red"), Ptr("blue"), at(3)),
	}
	roots, err := mustParse(testSchema("feature"), "main", rows, at(0), at(10))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	node := roots["feature"].GetNode("car-1")
	if node.Action != ActionRemoved {
		t.Fatalf("node action = %s, want removed", node.Action)
	}
	prop := node.GetAttribute("color").GetProperty(PropHasValue)
	if prop.Action != ActionRemoved {
		t.Errorf("property action = %s, want removed", prop.Action)
	}
}

func TestParseRelationshipElement(t *testing.T) {
	rows := []PathRow{
		relRow("feature", "car-1", "Car", "owner", "person-1", PropIsRelated, Ptr("person-1"), nil, at(3)),
		relRow("feature", "car-1", "Car", "owner", "person-2", PropIsRelated, nil, Ptr("person-2"), at(3)),
	}
	roots, err := mustParse(testSchema("feature"), "main", rows, at(0), at(10))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	rel := roots["feature"].GetNode("car-1").GetRelationship("owner")
	if rel == nil {
		t.Fatal("relationship owner missing")
	}
	if rel.Cardinality != schema.CardinalityOne {
		t.Errorf("cardinality = %s, want one", rel.Cardinality)
	}
	if got := rel.GetElement("person-1").Action; got != ActionRemoved {
		t.Errorf("person-1 action = %s, want removed", got)
	}
	if got := rel.GetElement("person-2").Action; got != ActionAdded {
		t.Errorf("person-2 action = %s, want added", got)
	}
	if rel.Action != ActionUpdated {
		t.Errorf("relationship action = %s, want updated", rel.Action)
	}
}

func TestParseDropsAttributeAddedAndRemovedInWindow(t *testing.T) {
	rows := []PathRow{
		attrRow("feature", "car-1", "Car", "color", PropHasValue, Ptr("red"), Ptr("blue"), at(2)),
		attrRow("feature", "car-1", "Car", "nickname", PropHasAttribute, nil, Ptr("nickname"), at(3)),
		attrRow("feature", "car-1", "Car", "nickname", PropHasValue, nil, Ptr("rusty"), at(3)),
		attrRow("feature", "car-1", "Car", "nickname", PropHasAttribute, Ptr("nickname"), nil, at(8)),
		attrRow("feature", "car-1", "Car", "nickname", PropHasValue, Ptr("rusty"), nil, at(8)),
	}
	roots, err := mustParse(testSchema("feature"), "main", rows, at(0), at(10))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	node := roots["feature"].GetNode("car-1")
	if node.GetAttribute("nickname") != nil {
		t.Fatal("attribute added and removed in the window should vanish")
	}
	if node.Action != ActionUpdated {
		t.Errorf("node action = %s, want updated", node.Action)
	}
	if !node.ChangedAt.Equal(at(8)) {
		t.Errorf("changed_at = %s, want %s", node.ChangedAt, at(8))
	}
}

func TestParseDropsNodeCreatedAndDeletedInWindow(t *testing.T) {
	rows := []PathRow{
		nodeRow("feature", "car-9", "Car", nil, Ptr("active"), at(2)),
		attrRow("feature", "car-9", "Car", "color", PropHasValue, nil, Ptr("red"), at(2)),
		nodeRow("feature", "car-9", "Car", Ptr("active"), nil, at(7)),
		attrRow("feature", "car-9", "Car", "color", PropHasValue, Ptr("red"), nil, at(7)),
		attrRow("feature", "car-1", "Car", "color", PropHasValue, Ptr("red"), Ptr("blue"), at(4)),
	}
	roots, err := mustParse(testSchema("feature"), "main", rows, at(0), at(10))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	root := roots["feature"]
	if root.GetNode("car-9") != nil {
		t.Fatal("node created and deleted in the window should vanish")
	}
	if len(root.Nodes) != 1 || root.GetNode("car-1") == nil {
		t.Fatalf("got %d nodes, want only car-1", len(root.Nodes))
	}
}

func TestParseDropsElementLinkedAndUnlinkedInWindow(t *testing.T) {
	transient := []PathRow{
		relRow("feature", "car-1", "Car", "tags", "tag-1", PropIsRelated, nil, Ptr("tag-1"), at(2)),
		relRow("feature", "car-1", "Car", "tags", "tag-1", PropIsRelated, Ptr("tag-1"), nil, at(6)),
	}
	rows := append(append([]PathRow{}, transient...),
		relRow("feature", "car-1", "Car", "tags", "tag-2", PropIsRelated, nil, Ptr("tag-2"), at(4)),
	)
	roots, err := mustParse(testSchema("feature"), "main", rows, at(0), at(10))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	rel := roots["feature"].GetNode("car-1").GetRelationship("tags")
	if rel.GetElement("tag-1") != nil {
		t.Fatal("element linked and unlinked in the window should vanish")
	}
	if rel.GetElement("tag-2") == nil {
		t.Fatal("surviving element missing")
	}

	// With only the transient element left, the relationship vanishes too.
	roots, err = mustParse(testSchema("feature"), "main", transient, at(0), at(10))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	node := roots["feature"].GetNode("car-1")
	if node == nil {
		t.Fatal("node car-1 missing")
	}
	if node.GetRelationship("tags") != nil {
		t.Fatal("relationship with no surviving elements should vanish")
	}
	if node.Action != ActionUnchanged {
		t.Errorf("node action = %s, want unchanged", node.Action)
	}
}

func TestParseSplitsBranches(t *testing.T) {
	rows := []PathRow{
		attrRow("main", "car-1", "Car", "color", PropHasValue, Ptr("red"), Ptr("green"), at(1)),
		attrRow("feature", "car-1", "Car", "color", PropHasValue, Ptr("red"), Ptr("blue"), at(2)),
	}
	roots, err := mustParse(testSchema("feature"), "main", rows, at(0), at(10))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if len(roots) != 2 {
		t.Fatalf("got %d roots, want 2", len(roots))
	}
	if roots["main"] == nil || roots["feature"] == nil {
		t.Fatal("missing a per-branch root")
	}
}

func TestParseUnknownKind(t *testing.T) {
	rows := []PathRow{
		attrRow("feature", "x-1", "Spaceship", "name", PropHasValue, nil, Ptr("v"), at(1)),
	}
	_, err := mustParse(testSchema("feature"), "main", rows, at(0), at(10))
	if !errors.Is(err, schema.ErrKindNotFound) {
		t.Fatalf("error = %v, want ErrKindNotFound", err)
	}
	var nf *schema.NotFoundError
	if !errors.As(err, &nf) || nf.Kind != "Spaceship" {
		t.Fatalf("error = %v, want NotFoundError for Spaceship", err)
	}
}

func TestParseMalformedRows(t *testing.T) {
	tests := []struct {
		name string
		row  PathRow
		want error
	}{
		{
			name: "missing branch",
			row:  attrRow("", "car-1", "Car", "color", PropHasValue, nil, Ptr("v"), at(1)),
			want: ErrMalformedPath,
		},
		{
			name: "missing node uuid",
			row:  attrRow("feature", "", "Car", "color", PropHasValue, nil, Ptr("v"), at(1)),
			want: ErrMalformedPath,
		},
		{
			name: "unknown property type",
			row:  attrRow("feature", "car-1", "Car", "color", "HAS_FLAVOR", nil, Ptr("v"), at(1)),
			want: ErrUnknownProperty,
		},
		{
			name: "relationship without peer",
			row:  relRow("feature", "car-1", "Car", "owner", "", PropIsRelated, nil, Ptr("v"), at(1)),
			want: ErrMalformedPath,
		},
		{
			name: "membership row with element name",
			row: PathRow{
				Branch: "feature", NodeUUID: "car-1", NodeKind: "Car",
				ElementName: "color", PropertyType: PropIsPartOf,
				NewValue: Ptr("active"), ChangedAt: at(1), ValidFrom: at(1),
			},
			want: ErrMalformedPath,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := mustParse(testSchema("feature"), "main", []PathRow{tc.row}, at(0), at(10))
			if !errors.Is(err, tc.want) {
				t.Fatalf("error = %v, want %v", err, tc.want)
			}
			var mp *MalformedPathError
			if !errors.As(err, &mp) {
				t.Fatalf("error = %v, want MalformedPathError", err)
			}
		})
	}
}

func TestParseDeterministic(t *testing.T) {
	rows := []PathRow{
		attrRow("feature", "car-2", "Car", "color", PropHasValue, nil, Ptr("red"), at(1)),
		relRow("feature", "car-1", "Car", "tags", "tag-2", PropIsRelated, nil, Ptr("tag-2"), at(1)),
		attrRow("feature", "car-1", "Car", "name", PropHasValue, nil, Ptr("a"), at(1)),
		attrRow("feature", "car-1", "Car", "color", PropIsVisible, nil, Ptr("true"), at(1)),
		attrRow("feature", "car-1", "Car", "color", PropHasValue, nil, Ptr("blue"), at(1)),
		relRow("feature", "car-1", "Car", "tags", "tag-1", PropIsRelated, nil, Ptr("tag-1"), at(1)),
	}
	sc := testSchema("feature")

	first, err := mustParse(sc, "main", rows, at(0), at(10))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	// Shuffled input must produce an identical tree.
	shuffled := []PathRow{rows[4], rows[1], rows[5], rows[0], rows[3], rows[2]}
	second, err := mustParse(sc, "main", shuffled, at(0), at(10))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatal("parse output depends on input order")
	}

	node := first["feature"].GetNode("car-1")
	if node.Attributes[0].Name != "color" || node.Attributes[1].Name != "name" {
		t.Error("attributes not sorted by name")
	}
	rel := node.GetRelationship("tags")
	if rel.Elements[0].PeerID != "tag-1" || rel.Elements[1].PeerID != "tag-2" {
		t.Error("elements not sorted by peer id")
	}
}
