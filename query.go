package workoutcache

import (
	"errors"
	"fmt"

	"github.com/kailas-cloud/workoutcache/internal/domain"
	"github.com/kailas-cloud/workoutcache/internal/domain/search/filter"
	"github.com/kailas-cloud/workoutcache/internal/domain/search/request"
)

// DefaultLimit is the number of matches returned when Limit is not called.
const DefaultLimit = request.DefaultLimit

// Query describes a cache lookup. Build it with NewQuery and the chained
// methods; the first invalid condition is reported by Lookup or FindCached.
type Query struct {
	text       string
	conditions []filter.Condition
	limit      int
	minScore   *float64
	err        error
}

// NewQuery starts a query for the given workout description.
func NewQuery(text string) *Query {
	return &Query{text: text, limit: DefaultLimit}
}

// Where requires the tag attribute to equal value.
func (q *Query) Where(attr, value string) *Query {
	c, err := filter.NewMatch(attr, value)
	return q.add(c, err)
}

// Between requires the numeric attribute to lie in [lo, hi].
func (q *Query) Between(attr string, lo, hi float64) *Query {
	return q.addRange(attr, nil, &lo, nil, &hi)
}

// AtLeast requires the numeric attribute to be >= v.
func (q *Query) AtLeast(attr string, v float64) *Query {
	return q.addRange(attr, nil, &v, nil, nil)
}

// AtMost requires the numeric attribute to be <= v.
func (q *Query) AtMost(attr string, v float64) *Query {
	return q.addRange(attr, nil, nil, nil, &v)
}

// Limit sets the maximum number of matches. Zero returns no matches.
func (q *Query) Limit(n int) *Query {
	q.limit = n
	return q
}

// MinScore drops matches scoring below s.
func (q *Query) MinScore(s float64) *Query {
	q.minScore = &s
	return q
}

func (q *Query) addRange(attr string, gt, gte, lt, lte *float64) *Query {
	r, err := filter.NewRangeFilter(gt, gte, lt, lte)
	if err != nil {
		return q.add(filter.Condition{}, err)
	}
	c, err := filter.NewRange(attr, r)
	return q.add(c, err)
}

func (q *Query) add(c filter.Condition, err error) *Query {
	if q.err != nil {
		return q
	}
	if err != nil {
		q.err = err
		return q
	}
	q.conditions = append(q.conditions, c)
	return q
}

func (q *Query) build() (request.Request, error) {
	if q == nil {
		return request.Request{}, fmt.Errorf("%w: query is nil", ErrInvalidQuery)
	}
	if q.err != nil {
		return request.Request{}, wrapInvalid(q.err)
	}
	expr, err := filter.NewExpression(q.conditions, nil, nil)
	if err != nil {
		return request.Request{}, wrapInvalid(err)
	}
	req, err := request.New(q.text, expr, q.limit, q.minScore)
	if err != nil {
		return request.Request{}, fmt.Errorf("build query: %w", err)
	}
	return req, nil
}

func wrapInvalid(err error) error {
	if errors.Is(err, domain.ErrInvalidQuery) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrInvalidQuery, err)
}
