// Package batch holds per-item outcomes of a bulk ingest.
package batch

// ItemStatus is the processing outcome of a single batch item.
type ItemStatus string

// Batch item status values.
const (
	StatusCreated ItemStatus = "created"
	StatusUpdated ItemStatus = "updated"
	StatusError   ItemStatus = "error"
)

// Result is the outcome of ingesting one item of a batch, at its original position.
type Result struct {
	index  int
	id     string
	status ItemStatus
	err    error
}

// NewStored creates a successful result; created reports whether the id was new.
func NewStored(index int, id string, created bool) Result {
	st := StatusUpdated
	if created {
		st = StatusCreated
	}
	return Result{index: index, id: id, status: st}
}

// NewError creates a failed result.
func NewError(index int, id string, err error) Result {
	return Result{index: index, id: id, status: StatusError, err: err}
}

// Index returns the item's position in the submitted batch.
func (r Result) Index() int { return r.index }

// ID returns the item identifier.
func (r Result) ID() string { return r.id }

// Status returns the processing outcome.
func (r Result) Status() ItemStatus { return r.status }

// Err returns the error, if any.
func (r Result) Err() error { return r.err }

// OK reports whether the item was stored.
func (r Result) OK() bool { return r.status != StatusError }

// Summary counts outcomes across results.
func Summary(rs []Result) (stored, failed int) {
	for _, r := range rs {
		if r.OK() {
			stored++
		} else {
			failed++
		}
	}
	return stored, failed
}
