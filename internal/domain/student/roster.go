// Package student defines where the set of students to evaluate comes from.
package student

import "context"

// Roster lists the students the Batch Runner iterates.
type Roster interface {
	// ListStudentIDs returns every active student ID.
	ListStudentIDs(ctx context.Context) ([]string, error)

	// Ping confirms the roster source is reachable. Used by health checks.
	Ping(ctx context.Context) error
}

// StaticRoster is a fixed, in-process roster.
type StaticRoster []string

// ListStudentIDs implements Roster.
func (r StaticRoster) ListStudentIDs(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]string, len(r))
	copy(out, r)
	return out, nil
}

// Ping implements Roster.
func (StaticRoster) Ping(ctx context.Context) error { return ctx.Err() }
