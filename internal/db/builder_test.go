package db

import (
	"strings"
	"testing"
)

func TestIndexBuilder_WorkoutShape(t *testing.T) {
	idx, err := NewIndex("wc:workouts").
		Prefix("wc:midx:").
		Tag("sport_type").
		Numeric("distance_meters").
		VectorHNSW("__vector", "vector", 768, DistanceCosine, 16, 200).
		Build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(idx.Fields) != 3 {
		t.Fatalf("fields count = %d, want 3", len(idx.Fields))
	}
	v := idx.Fields[2]
	if v.Alias != "vector" || v.VectorDim != 768 || v.VectorAlgo != VectorHNSW {
		t.Errorf("vector field = %+v", v)
	}
	if v.VectorM != 16 || v.VectorEFConstruct != 200 {
		t.Errorf("hnsw params = %d/%d", v.VectorM, v.VectorEFConstruct)
	}

	s := idx.String()
	for _, part := range []string{"FT.CREATE wc:workouts ON HASH", "PREFIX wc:midx:", "__vector AS vector VECTOR HNSW"} {
		if !strings.Contains(s, part) {
			t.Errorf("String() = %q, missing %q", s, part)
		}
	}
}

func TestIndexBuilder_TagWithOpts(t *testing.T) {
	idx, err := NewIndex("idx").TagWithOpts("sport_type", "|", true).Build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f := idx.Fields[0]
	if f.Type != IndexFieldTag || f.TagSeparator != "|" || !f.TagCaseSensitive {
		t.Errorf("tag field = %+v", f)
	}
	if s := idx.String(); !strings.Contains(s, "sport_type TAG SEPARATOR | CASESENSITIVE") {
		t.Errorf("String() = %q", s)
	}
}

func TestIndexBuilder_Invalid(t *testing.T) {
	tests := []struct {
		name string
		b    *IndexBuilder
		want string
	}{
		{"empty name", NewIndex("").Tag("a"), "name is required"},
		{"bad name", NewIndex("a b").Tag("a"), "invalid characters"},
		{"no fields", NewIndex("idx"), "at least one field"},
		{"duplicate", NewIndex("idx").Tag("a").Numeric("a"), "duplicate"},
		{"long separator", NewIndex("idx").TagWithOpts("a", "||", false), "single character"},
		{"zero dim", NewIndex("idx").VectorHNSW("v", "", 0, DistanceCosine, 0, 0), "positive DIM"},
		{
			"two vectors",
			NewIndex("idx").VectorHNSW("v1", "", 4, DistanceCosine, 0, 0).VectorHNSW("v2", "", 4, DistanceCosine, 0, 0),
			"at most one",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.b.Build()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want substring %q", err, tt.want)
			}
		})
	}
}

func TestIsValidIdentifier(t *testing.T) {
	valid := []string{"idx", "wc:workouts", "a-b_c"}
	invalid := []string{"", "a b", "a/b", "a.b"}
	for _, s := range valid {
		if !IsValidIdentifier(s) {
			t.Errorf("IsValidIdentifier(%q) = false", s)
		}
	}
	for _, s := range invalid {
		if IsValidIdentifier(s) {
			t.Errorf("IsValidIdentifier(%q) = true", s)
		}
	}
}
