package batch

import (
	"context"
	"fmt"
)

// Resolution kinds. Each kind is raised at most once per batch, carrying
// every affected entry in a single consolidated request.
const (
	KindDuplicate = "duplicate"
	KindMismatch  = "mismatch"
)

// Entry is one conflicted item inside a resolution request.
type Entry struct {
	Key      string
	FileName string
	// Declared and Detected are set for mismatch entries only.
	Declared string
	Detected string
}

// Request is a consolidated decision request covering all entries of one
// conflict kind in a batch.
type Request struct {
	Kind    string
	Entries []Entry
}

// Decision maps each entry key to true (proceed) or false (skip).
type Decision map[string]bool

// Resolver answers consolidated resolution requests. Implementations block
// until the user decided or the context is cancelled; a cancelled context
// returns an error and the coordinator skips the affected entries.
type Resolver interface {
	Resolve(ctx context.Context, req *Request) (Decision, error)
}

// Validate checks that the decision covers every entry of the request.
func (r *Request) Validate(d Decision) error {
	for _, entry := range r.Entries {
		if _, ok := d[entry.Key]; !ok {
			return fmt.Errorf("%s decision missing entry %q", r.Kind, entry.FileName)
		}
	}
	return nil
}

// ProceedAll returns a decision accepting every entry.
func (r *Request) ProceedAll() Decision {
	d := make(Decision, len(r.Entries))
	for _, entry := range r.Entries {
		d[entry.Key] = true
	}
	return d
}

// SkipAll returns a decision skipping every entry.
func (r *Request) SkipAll() Decision {
	d := make(Decision, len(r.Entries))
	for _, entry := range r.Entries {
		d[entry.Key] = false
	}
	return d
}
