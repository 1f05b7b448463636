package workoutcache

import (
	"time"

	"github.com/kailas-cloud/workoutcache/internal/domain/batch"
	"github.com/kailas-cloud/workoutcache/internal/domain/decision"
	"github.com/kailas-cloud/workoutcache/internal/domain/item"
	"github.com/kailas-cloud/workoutcache/internal/domain/schema"
	searchuc "github.com/kailas-cloud/workoutcache/internal/usecase/search"
)

// Workout attribute names usable in Workout.Tags, Workout.Numerics and query filters.
const (
	SportType       = schema.SportType
	Difficulty      = schema.Difficulty
	GenerationModel = schema.GenerationModel
	Source          = schema.Source
	Version         = schema.Version
	DurationSeconds = schema.DurationSeconds
	DistanceMeters  = schema.DistanceMeters
)

// Decision is the cache verdict for a similarity score.
type Decision = decision.Label

// Decision values, ordered from worst to best.
const (
	Miss      = decision.Miss
	Good      = decision.Good
	VeryGood  = decision.VeryGood
	Excellent = decision.Excellent
)

// Workout is a cached generated workout.
type Workout struct {
	ID       string
	Text     string
	Tags     map[string]string
	Numerics map[string]float64
	// Payload is the opaque generated workout, returned verbatim.
	Payload []byte

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Match is a cached workout with its similarity score and decision.
type Match struct {
	Workout  Workout
	Score    float64
	Decision Decision
}

// Verdict is the outcome of Lookup.
type Verdict struct {
	// Decision is the decision of the best match, or Miss when there is none.
	Decision Decision
	Matches  []Match
	// Degraded is set when a dependency failure forced a Miss; Cause holds the error.
	Degraded bool
	Cause    error
}

// Hit reports whether the best match may be reused.
func (v Verdict) Hit() bool { return v.Decision.IsHit() }

// Best returns the highest scoring match.
func (v Verdict) Best() (Match, bool) {
	if len(v.Matches) == 0 {
		return Match{}, false
	}
	return v.Matches[0], true
}

// BatchResult is the outcome of storing one workout of a batch.
type BatchResult struct {
	ID      string
	Created bool
	Err     error
}

// IndexInfo describes the active index backend.
type IndexInfo struct {
	Strategy    Strategy
	Consistency string
	TargetLag   time.Duration
	EmbedsQuery bool
	// LastRefresh is zero for backends without background refresh.
	LastRefresh time.Time
}

func (w Workout) toItem() (item.Item, error) {
	return item.New(w.ID, w.Text, w.Tags, w.Numerics, w.Payload) //nolint:wrapcheck // wrapped by caller
}

func workoutFromItem(it item.Item) Workout {
	return Workout{
		ID:        it.ID(),
		Text:      it.Text(),
		Tags:      it.Tags(),
		Numerics:  it.Numerics(),
		Payload:   it.Payload(),
		CreatedAt: it.CreatedAt(),
		UpdatedAt: it.UpdatedAt(),
	}
}

func matchesFrom(ms []searchuc.Match) []Match {
	out := make([]Match, len(ms))
	for i, m := range ms {
		out[i] = Match{
			Workout:  workoutFromItem(m.Result.Item()),
			Score:    m.Result.Score(),
			Decision: m.Decision,
		}
	}
	return out
}

func batchResultsFrom(rs []batch.Result) []BatchResult {
	out := make([]BatchResult, len(rs))
	for i, r := range rs {
		out[i] = BatchResult{ID: r.ID(), Created: r.Status() == batch.StatusCreated, Err: r.Err()}
	}
	return out
}
