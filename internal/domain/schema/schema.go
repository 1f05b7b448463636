// Package schema describes the typed attribute set shared by ingestion and query.
package schema

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/kailas-cloud/workoutcache/internal/domain"
	"github.com/kailas-cloud/workoutcache/internal/domain/search/filter"
)

// Type is the indexing type of an attribute.
type Type string

// Attribute type constants.
const (
	// Tag is an exact-match attribute.
	Tag     Type = "tag"
	Numeric Type = "numeric"
)

// TagSeparator splits multi-value tags in the managed index. Tag values may not
// contain it, so a tag is always matched as one exact, case-sensitive value.
const TagSeparator = "|"

// Workout attribute names.
const (
	SportType       = "sport_type"
	Difficulty      = "difficulty"
	GenerationModel = "generation_model"
	Source          = "source"
	Version         = "version"
	DurationSeconds = "duration_seconds"
	DistanceMeters  = "distance_meters"
)

var reservedFieldNames = map[string]bool{
	"id": true, "text": true, "score": true, "vector": true, "embedding": true,
}

// Field is an immutable value object describing one typed attribute.
type Field struct {
	name      string
	fieldType Type
}

// NewField validates and creates a Field.
// Name must be non-empty, max 64 chars, and not reserved.
func NewField(name string, ft Type) (Field, error) {
	if name == "" {
		return Field{}, fmt.Errorf("field name is required")
	}
	if len(name) > 64 {
		return Field{}, fmt.Errorf("field name %q too long (max 64)", name)
	}
	if reservedFieldNames[name] {
		return Field{}, fmt.Errorf("field name %q is reserved", name)
	}
	if ft != Tag && ft != Numeric {
		return Field{}, fmt.Errorf("invalid field type %q for %q", ft, name)
	}
	return Field{name: name, fieldType: ft}, nil
}

// Name returns the attribute name.
func (f Field) Name() string { return f.name }

// FieldType returns the attribute's indexing type.
func (f Field) FieldType() Type { return f.fieldType }

// Schema is the fixed set of attributes items may carry and queries may filter on.
type Schema struct {
	fields map[string]Field
	order  []string
}

// New builds a Schema, rejecting duplicate names.
func New(fields ...Field) (Schema, error) {
	s := Schema{fields: make(map[string]Field, len(fields)), order: make([]string, 0, len(fields))}
	for _, f := range fields {
		if _, dup := s.fields[f.name]; dup {
			return Schema{}, fmt.Errorf("duplicate field %q", f.name)
		}
		s.fields[f.name] = f
		s.order = append(s.order, f.name)
	}
	return s, nil
}

// Workout returns the workout attribute schema.
func Workout() Schema {
	s, err := New(
		Field{name: SportType, fieldType: Tag},
		Field{name: Difficulty, fieldType: Tag},
		Field{name: GenerationModel, fieldType: Tag},
		Field{name: Source, fieldType: Tag},
		Field{name: Version, fieldType: Tag},
		Field{name: DurationSeconds, fieldType: Numeric},
		Field{name: DistanceMeters, fieldType: Numeric},
	)
	if err != nil {
		panic(err)
	}
	return s
}

// Fields returns attributes in declaration order.
func (s Schema) Fields() []Field {
	out := make([]Field, 0, len(s.order))
	for _, n := range s.order {
		out = append(out, s.fields[n])
	}
	return out
}

// Lookup returns the attribute with the given name.
func (s Schema) Lookup(name string) (Field, bool) {
	f, ok := s.fields[name]
	return f, ok
}

// ValidateFilters checks that every condition names a known attribute with a matching type.
func (s Schema) ValidateFilters(expr filter.Expression) error {
	for _, cond := range expr.Conditions() {
		f, ok := s.fields[cond.Key()]
		if !ok {
			return fmt.Errorf("%w: unknown filter attribute %q", domain.ErrInvalidQuery, cond.Key())
		}
		if cond.IsMatch() && f.fieldType != Tag {
			return fmt.Errorf("%w: attribute %q is numeric, use a range filter", domain.ErrInvalidQuery, cond.Key())
		}
		if cond.IsRange() && f.fieldType != Numeric {
			return fmt.Errorf("%w: attribute %q is a tag, use a match filter", domain.ErrInvalidQuery, cond.Key())
		}
	}
	return nil
}

// ValidateAttributes checks item metadata against the schema.
func (s Schema) ValidateAttributes(tags map[string]string, numerics map[string]float64) error {
	for _, k := range sortedKeys(tags) {
		f, ok := s.fields[k]
		if !ok {
			return fmt.Errorf("%w: unknown attribute %q", domain.ErrInvalidItem, k)
		}
		if f.fieldType != Tag {
			return fmt.Errorf("%w: attribute %q must be numeric", domain.ErrInvalidItem, k)
		}
		if v := tags[k]; strings.Contains(v, TagSeparator) || strings.TrimSpace(v) != v {
			return fmt.Errorf("%w: attribute %q must not contain %q or surrounding spaces",
				domain.ErrInvalidItem, k, TagSeparator)
		}
	}
	for _, k := range sortedKeys(numerics) {
		f, ok := s.fields[k]
		if !ok {
			return fmt.Errorf("%w: unknown attribute %q", domain.ErrInvalidItem, k)
		}
		if f.fieldType != Numeric {
			return fmt.Errorf("%w: attribute %q must be a string", domain.ErrInvalidItem, k)
		}
		if v := numerics[k]; math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: attribute %q must be finite", domain.ErrInvalidItem, k)
		}
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
