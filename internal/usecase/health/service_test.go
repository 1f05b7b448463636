package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kailas-cloud/workoutcache/internal/domain"
	"github.com/kailas-cloud/workoutcache/internal/domain/search/mode"
)

// --- Mocks ---

type mockDBPinger struct {
	err error
}

func (m *mockDBPinger) Ping(_ context.Context) error { return m.err }

type mockEmbeddingChecker struct {
	err error
}

func (m *mockEmbeddingChecker) HealthCheck(_ context.Context) error { return m.err }

type mockDirectIndex struct{}

func (mockDirectIndex) RefreshPolicy() domain.RefreshPolicy {
	return domain.RefreshPolicy{Strategy: mode.Direct, Consistency: domain.ConsistencySynchronous}
}

type mockManagedIndex struct {
	last time.Time
}

func (m mockManagedIndex) RefreshPolicy() domain.RefreshPolicy {
	return domain.RefreshPolicy{
		Strategy: mode.Managed, Consistency: domain.ConsistencyEventual,
		TargetLag: time.Minute, EmbedsQuery: true,
	}
}

func (m mockManagedIndex) LastRefresh() time.Time { return m.last }

var now = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func newService(db DBPinger, emb EmbeddingChecker, idx IndexReporter) *Service {
	s := New(db, emb, idx)
	s.now = func() time.Time { return now }
	return s
}

// --- Tests ---

func TestCheck_AllHealthy(t *testing.T) {
	r := newService(&mockDBPinger{}, &mockEmbeddingChecker{}, mockDirectIndex{}).Check(context.Background())

	if r.Status != Healthy {
		t.Errorf("expected %q, got %q", Healthy, r.Status)
	}
	for _, name := range []string{"database", "embedding", "index"} {
		if r.Checks[name] != CheckOK {
			t.Errorf("expected %s %q, got %q", name, CheckOK, r.Checks[name])
		}
	}
	if r.Index.Strategy != mode.Direct {
		t.Errorf("index strategy = %q", r.Index.Strategy)
	}
}

func TestCheck_DBErrorIsUnhealthy(t *testing.T) {
	r := newService(&mockDBPinger{err: errors.New("conn refused")}, &mockEmbeddingChecker{}, nil).Check(context.Background())

	if r.Status != Unhealthy {
		t.Errorf("expected %q, got %q", Unhealthy, r.Status)
	}
	if r.Checks["database"] != CheckError {
		t.Errorf("expected database %q, got %q", CheckError, r.Checks["database"])
	}
}

func TestCheck_EmbeddingErrorIsDegraded(t *testing.T) {
	r := newService(&mockDBPinger{}, &mockEmbeddingChecker{err: errors.New("timeout")}, nil).Check(context.Background())

	if r.Status != Degraded {
		t.Errorf("expected %q, got %q", Degraded, r.Status)
	}
	if r.Checks["embedding"] != CheckError {
		t.Errorf("expected embedding %q, got %q", CheckError, r.Checks["embedding"])
	}
}

func TestCheck_NilOptionalChecks(t *testing.T) {
	r := newService(&mockDBPinger{}, nil, nil).Check(context.Background())

	if r.Status != Healthy {
		t.Errorf("expected %q, got %q", Healthy, r.Status)
	}
	if len(r.Checks) != 1 {
		t.Errorf("expected only the database check, got %v", r.Checks)
	}
}

func TestCheck_ManagedIndexStaleness(t *testing.T) {
	tests := []struct {
		name   string
		last   time.Time
		check  CheckResult
		status Status
	}{
		{"fresh", now.Add(-30 * time.Second), CheckOK, Healthy},
		{"within tolerance", now.Add(-110 * time.Second), CheckOK, Healthy},
		{"stale", now.Add(-3 * time.Minute), CheckStale, Degraded},
		{"never refreshed", time.Time{}, CheckStale, Degraded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newService(&mockDBPinger{}, nil, mockManagedIndex{last: tt.last}).Check(context.Background())
			if r.Checks["index"] != tt.check {
				t.Errorf("index = %q, want %q", r.Checks["index"], tt.check)
			}
			if r.Status != tt.status {
				t.Errorf("status = %q, want %q", r.Status, tt.status)
			}
			if !r.LastRefresh.Equal(tt.last) {
				t.Errorf("last refresh = %v", r.LastRefresh)
			}
		})
	}
}
