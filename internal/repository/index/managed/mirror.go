package managed

import (
	"fmt"
	"strconv"
	"time"

	"github.com/kailas-cloud/workoutcache/internal/db"
	"github.com/kailas-cloud/workoutcache/internal/domain/item"
	"github.com/kailas-cloud/workoutcache/internal/domain/schema"
	"github.com/kailas-cloud/workoutcache/internal/domain/vector"
)

// Mirror hash fields. Attribute fields use their schema names so filters apply as-is.
const (
	fieldVector    = "__vector"
	fieldDigest    = "__digest"
	fieldModel     = "__model"
	fieldUpdatedAt = "__updated_at"
)

func buildIndex(name, prefix string, cfg Config) (*db.IndexDefinition, error) {
	b := db.NewIndex(name).Prefix(prefix)
	for _, f := range cfg.Schema.Fields() {
		switch f.FieldType() {
		case schema.Tag:
			b.TagWithOpts(f.Name(), schema.TagSeparator, true)
		case schema.Numeric:
			b.Numeric(f.Name())
		default:
			return nil, fmt.Errorf("unknown attribute type: %s", f.FieldType())
		}
	}
	b.VectorHNSW(fieldVector, "vector", cfg.Dimensions, db.DistanceCosine, cfg.HNSWM, cfg.HNSWEF)
	return b.Build()
}

// mirrorFields builds the mirror hash. rawVector is the already encoded embedding.
func mirrorFields(it item.Item, rawVector, model string) map[string]string {
	fields := make(map[string]string, len(it.Tags())+len(it.Numerics())+4)
	for k, v := range it.Tags() {
		fields[k] = v
	}
	for k, v := range it.Numerics() {
		fields[k] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	fields[fieldVector] = rawVector
	fields[fieldDigest] = it.TextDigest()
	fields[fieldModel] = model
	fields[fieldUpdatedAt] = it.UpdatedAt().UTC().Format(time.RFC3339Nano)
	return fields
}

func encodeVector(v []float32) string {
	return string(vector.Encode(v))
}

// mirrorState classifies what a refresh must do for one item.
type mirrorState int

const (
	mirrorCurrent mirrorState = iota
	mirrorStaleMetadata
	mirrorStaleVector
)

func classify(it item.Item, existing map[string]string, model string) mirrorState {
	if len(existing) == 0 || existing[fieldVector] == "" {
		return mirrorStaleVector
	}
	if existing[fieldDigest] != it.TextDigest() || existing[fieldModel] != model {
		return mirrorStaleVector
	}
	if existing[fieldUpdatedAt] != it.UpdatedAt().UTC().Format(time.RFC3339Nano) {
		return mirrorStaleMetadata
	}
	return mirrorCurrent
}
