// Package decision maps similarity scores onto cache verdicts.
package decision

import (
	"fmt"
)

// Label is a cache verdict for a single score. Labels are ordered: Miss < Good < VeryGood < Excellent.
type Label int

// Label values.
const (
	Miss Label = iota
	Good
	VeryGood
	Excellent
)

// String returns the wire form of the label.
func (l Label) String() string {
	switch l {
	case Excellent:
		return "EXCELLENT"
	case VeryGood:
		return "VERY_GOOD"
	case Good:
		return "GOOD"
	default:
		return "MISS"
	}
}

// IsHit reports whether the label allows reusing the cached item.
func (l Label) IsHit() bool { return l > Miss }

// ParseLabel converts the wire form back into a Label.
func ParseLabel(s string) (Label, error) {
	switch s {
	case "EXCELLENT":
		return Excellent, nil
	case "VERY_GOOD":
		return VeryGood, nil
	case "GOOD":
		return Good, nil
	case "MISS":
		return Miss, nil
	}
	return Miss, fmt.Errorf("unknown decision label %q", s)
}

// Thresholds are the lower bounds (inclusive) of each hit label.
type Thresholds struct {
	Excellent float64
	VeryGood  float64
	Good      float64
}

// DefaultThresholds returns 0.90 / 0.80 / 0.70.
func DefaultThresholds() Thresholds {
	return Thresholds{Excellent: 0.90, VeryGood: 0.80, Good: 0.70}
}

// Validate checks 0 <= good <= very_good <= excellent <= 1.
func (t Thresholds) Validate() error {
	if t.Good < 0 || t.Excellent > 1 {
		return fmt.Errorf("thresholds must lie in [0,1]")
	}
	if t.Good > t.VeryGood || t.VeryGood > t.Excellent {
		return fmt.Errorf("thresholds must satisfy good <= very_good <= excellent (got %.2f/%.2f/%.2f)",
			t.Good, t.VeryGood, t.Excellent)
	}
	return nil
}

// Policy labels scores with fixed thresholds. It is a pure value, safe for concurrent use.
type Policy struct {
	t Thresholds
}

// NewPolicy validates thresholds and builds a Policy.
func NewPolicy(t Thresholds) (Policy, error) {
	if err := t.Validate(); err != nil {
		return Policy{}, err
	}
	return Policy{t: t}, nil
}

// DefaultPolicy returns a Policy with DefaultThresholds.
func DefaultPolicy() Policy {
	return Policy{t: DefaultThresholds()}
}

// Thresholds returns the configured thresholds.
func (p Policy) Thresholds() Thresholds { return p.t }

// Decide labels a single score.
func (p Policy) Decide(score float64) Label {
	switch {
	case score >= p.t.Excellent:
		return Excellent
	case score >= p.t.VeryGood:
		return VeryGood
	case score >= p.t.Good:
		return Good
	default:
		return Miss
	}
}
