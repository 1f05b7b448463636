// Package item holds the Item aggregate: a stored workout with its searchable text.
package item

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"maps"
	"regexp"
	"time"
)

var (
	idRegex     = regexp.MustCompile(`^[a-zA-Z0-9_.:-]+$`)
	reservedIDs = map[string]bool{"batch": true}
)

const (
	// MaxTextSize is the maximum text size in bytes.
	MaxTextSize = 32768
	// MaxPayloadSize is the maximum raw payload size in bytes.
	MaxPayloadSize = 1 << 20
)

// Item is the item aggregate (immutable value object).
type Item struct {
	id             string
	text           string
	tags           map[string]string
	numerics       map[string]float64
	embedding      []float32
	embeddingModel string
	payload        []byte
	createdAt      time.Time
	updatedAt      time.Time
}

// New validates and creates an Item.
// ID: ^[a-zA-Z0-9_.:-]+$, 1-256 chars, not reserved. Text: non-empty, max 32KB.
// Attribute schema validation happens in the ingestion layer.
func New(id, text string, tags map[string]string, numerics map[string]float64, payload []byte) (Item, error) {
	if id == "" {
		return Item{}, fmt.Errorf("item ID is required")
	}
	if len(id) > 256 {
		return Item{}, fmt.Errorf("item ID too long (max 256)")
	}
	if !idRegex.MatchString(id) {
		return Item{}, fmt.Errorf("item ID must be alphanumeric with '_', '-', '.', ':'")
	}
	if reservedIDs[id] {
		return Item{}, fmt.Errorf("item ID %q is reserved", id)
	}
	if text == "" {
		return Item{}, fmt.Errorf("text is required")
	}
	if len(text) > MaxTextSize {
		return Item{}, fmt.Errorf("text too large (max %d bytes)", MaxTextSize)
	}
	if len(payload) > MaxPayloadSize {
		return Item{}, fmt.Errorf("payload too large (max %d bytes)", MaxPayloadSize)
	}

	return Item{
		id:       id,
		text:     text,
		tags:     maps.Clone(tags),
		numerics: maps.Clone(numerics),
		payload:  clonePayload(payload),
	}, nil
}

// State is the full stored representation of an Item, used for hydration from storage.
type State struct {
	ID             string
	Text           string
	Tags           map[string]string
	Numerics       map[string]float64
	Embedding      []float32
	EmbeddingModel string
	Payload        []byte
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Reconstruct creates an Item without validation (storage hydration).
func Reconstruct(s State) Item {
	return Item{
		id: s.ID, text: s.Text, tags: s.Tags, numerics: s.Numerics,
		embedding: s.Embedding, embeddingModel: s.EmbeddingModel, payload: s.Payload,
		createdAt: s.CreatedAt, updatedAt: s.UpdatedAt,
	}
}

// State returns the item's stored representation.
func (i Item) State() State {
	return State{
		ID: i.id, Text: i.text, Tags: i.tags, Numerics: i.numerics,
		Embedding: i.embedding, EmbeddingModel: i.embeddingModel, Payload: i.payload,
		CreatedAt: i.createdAt, UpdatedAt: i.updatedAt,
	}
}

// ID returns the item identifier.
func (i Item) ID() string { return i.id }

// Text returns the searchable description.
func (i Item) Text() string { return i.text }

// Tags returns the tag attributes.
func (i Item) Tags() map[string]string { return i.tags }

// Numerics returns the numeric attributes.
func (i Item) Numerics() map[string]float64 { return i.numerics }

// Embedding returns the embedding vector, nil when not yet embedded.
func (i Item) Embedding() []float32 { return i.embedding }

// HasEmbedding reports whether an embedding is attached.
func (i Item) HasEmbedding() bool { return len(i.embedding) > 0 }

// EmbeddingModel returns the model that produced the embedding.
func (i Item) EmbeddingModel() string { return i.embeddingModel }

// Payload returns the opaque raw payload.
func (i Item) Payload() []byte { return i.payload }

// CreatedAt returns the first-ingest timestamp.
func (i Item) CreatedAt() time.Time { return i.createdAt }

// UpdatedAt returns the latest-ingest timestamp.
func (i Item) UpdatedAt() time.Time { return i.updatedAt }

// TextDigest returns a stable hex digest of the text, used to detect text changes.
func (i Item) TextDigest() string {
	return Digest(i.text)
}

// Digest hashes a text the same way TextDigest does.
func Digest(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:16])
}

// WithEmbedding returns a copy carrying the given embedding.
func (i Item) WithEmbedding(v []float32, model string) Item {
	c := i
	c.embedding = v
	c.embeddingModel = model
	return c
}

// WithTimestamps returns a copy with the given creation and update times.
func (i Item) WithTimestamps(created, updated time.Time) Item {
	c := i
	c.createdAt = created.UTC()
	c.updatedAt = updated.UTC()
	return c
}

func clonePayload(b []byte) []byte {
	if b == nil {
		return nil
	}
	c := make([]byte, len(b))
	copy(c, b)
	return c
}
