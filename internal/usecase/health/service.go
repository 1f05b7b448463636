// Package health aggregates component checks for the health endpoint.
package health

import (
	"context"
	"time"

	"github.com/kailas-cloud/workoutcache/internal/domain"
)

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded indicates the cache answers but some dependency is failing or stale.
	Degraded Status = "degraded"
	// Unhealthy indicates the item store is unreachable.
	Unhealthy Status = "error"
)

// CheckResult represents an individual component health check outcome.
type CheckResult string

const (
	// CheckOK indicates a passing health check.
	CheckOK CheckResult = "ok"
	// CheckError indicates a failing health check.
	CheckError CheckResult = "error"
	// CheckStale indicates an index that missed its target lag.
	CheckStale CheckResult = "stale"
)

// staleFactor is how many target lags may pass before the index counts as stale.
const staleFactor = 2

const checkTimeout = 3 * time.Second

// Report aggregates health check results.
type Report struct {
	Status      Status
	Checks      map[string]CheckResult
	Index       domain.RefreshPolicy
	LastRefresh time.Time
}

// Service coordinates health checks.
type Service struct {
	db        DBPinger
	embedding EmbeddingChecker
	index     IndexReporter
	now       func() time.Time
}

// New creates a Service. embedding and index can be nil.
func New(db DBPinger, embedding EmbeddingChecker, index IndexReporter) *Service {
	return &Service{db: db, embedding: embedding, index: index, now: time.Now}
}

// Check runs health checks against all components.
func (s *Service) Check(ctx context.Context) Report {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	checks := make(map[string]CheckResult)
	status := Healthy

	if err := s.db.Ping(ctx); err != nil {
		checks["database"] = CheckError
		status = Unhealthy
	} else {
		checks["database"] = CheckOK
	}

	if s.embedding != nil {
		if err := s.embedding.HealthCheck(ctx); err != nil {
			checks["embedding"] = CheckError
		} else {
			checks["embedding"] = CheckOK
		}
	}

	report := Report{Checks: checks}
	if s.index != nil {
		report.Index = s.index.RefreshPolicy()
		checks["index"] = CheckOK
		if tr, ok := s.index.(RefreshTracker); ok && report.Index.Consistency == domain.ConsistencyEventual {
			report.LastRefresh = tr.LastRefresh()
			if s.stale(report.LastRefresh, report.Index.TargetLag) {
				checks["index"] = CheckStale
			}
		}
	}

	if status == Healthy {
		for _, v := range checks {
			if v != CheckOK {
				status = Degraded
				break
			}
		}
	}
	report.Status = status
	return report
}

func (s *Service) stale(last time.Time, lag time.Duration) bool {
	if last.IsZero() {
		return true
	}
	if lag <= 0 {
		return false
	}
	return s.now().Sub(last) > staleFactor*lag
}
