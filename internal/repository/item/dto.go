package item

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	domitem "github.com/kailas-cloud/workoutcache/internal/domain/item"
	"github.com/kailas-cloud/workoutcache/internal/domain/vector"
)

// Hash field layout. Attribute fields carry a type prefix so tags and numerics
// never collide with the fixed fields.
const (
	fieldID             = "id"
	fieldText           = "text"
	fieldEmbedding      = "embedding"
	fieldEmbeddingModel = "embedding_model"
	fieldPayload        = "payload"
	fieldCreatedAt      = "created_at"
	fieldUpdatedAt      = "updated_at"
	tagPrefix           = "tag:"
	numPrefix           = "num:"
)

// buildHashFields flattens an item into a field map for HSET.
func buildHashFields(it domitem.Item) map[string]string {
	m := make(map[string]string, 7+len(it.Tags())+len(it.Numerics()))
	m[fieldID] = it.ID()
	m[fieldText] = it.Text()
	m[fieldCreatedAt] = it.CreatedAt().Format(time.RFC3339Nano)
	m[fieldUpdatedAt] = it.UpdatedAt().Format(time.RFC3339Nano)
	if it.HasEmbedding() {
		m[fieldEmbedding] = string(vector.Encode(it.Embedding()))
		m[fieldEmbeddingModel] = it.EmbeddingModel()
	}
	if len(it.Payload()) > 0 {
		m[fieldPayload] = string(it.Payload())
	}
	for k, v := range it.Tags() {
		m[tagPrefix+k] = v
	}
	for k, v := range it.Numerics() {
		m[numPrefix+k] = strconv.FormatFloat(v, 'f', -1, 64)
	}
	return m
}

// parseHashFields rebuilds an item from its hash fields.
func parseHashFields(m map[string]string) (domitem.Item, error) {
	s := domitem.State{
		ID:             m[fieldID],
		Text:           m[fieldText],
		EmbeddingModel: m[fieldEmbeddingModel],
	}
	if s.ID == "" {
		return domitem.Item{}, fmt.Errorf("hash has no %q field", fieldID)
	}

	var err error
	if s.CreatedAt, err = parseTime(m[fieldCreatedAt]); err != nil {
		return domitem.Item{}, fmt.Errorf("item %s created_at: %w", s.ID, err)
	}
	if s.UpdatedAt, err = parseTime(m[fieldUpdatedAt]); err != nil {
		return domitem.Item{}, fmt.Errorf("item %s updated_at: %w", s.ID, err)
	}
	if raw, ok := m[fieldEmbedding]; ok && raw != "" {
		if s.Embedding, err = vector.Decode([]byte(raw)); err != nil {
			return domitem.Item{}, fmt.Errorf("item %s embedding: %w", s.ID, err)
		}
	}
	if raw, ok := m[fieldPayload]; ok {
		s.Payload = []byte(raw)
	}

	for k, v := range m {
		switch {
		case strings.HasPrefix(k, tagPrefix):
			if s.Tags == nil {
				s.Tags = make(map[string]string)
			}
			s.Tags[strings.TrimPrefix(k, tagPrefix)] = v
		case strings.HasPrefix(k, numPrefix):
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return domitem.Item{}, fmt.Errorf("item %s attribute %s: %w", s.ID, k, err)
			}
			if s.Numerics == nil {
				s.Numerics = make(map[string]float64)
			}
			s.Numerics[strings.TrimPrefix(k, numPrefix)] = f
		}
	}

	return domitem.Reconstruct(s), nil
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time: %w", err)
	}
	return t, nil
}
