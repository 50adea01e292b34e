package stage

import (
	"context"
	"time"

	"stagehand/internal/stagefs"
)

// Decision is the successor chosen for one entry. The zero value leaves the
// entry where it is.
type Decision struct {
	// Outcome labels the transition for logs, metrics, and the journal
	// (for example "accepted" or "dropped").
	Outcome string
	// Dir is the successor stage directory. Empty means stay.
	Dir string
}

// Stay leaves the entry in its current stage for a later tick.
func Stay() Decision { return Decision{} }

// MoveTo routes the entry into dir, labelled with outcome.
func MoveTo(outcome, dir string) Decision {
	return Decision{Outcome: outcome, Dir: dir}
}

// Stays reports whether the decision leaves the entry in place.
func (d Decision) Stays() bool { return d.Dir == "" }

// Classifier picks the successor stage of one entry. Implementations must not
// depend on the outcome of any other entry in the same tick. Returning an
// error routes the entry to the stage's failure directory.
type Classifier interface {
	Classify(ctx context.Context, entry stagefs.Entry) (Decision, error)
}

// ClassifierFunc adapts a plain function to Classifier.
type ClassifierFunc func(ctx context.Context, entry stagefs.Entry) (Decision, error)

// Classify calls f.
func (f ClassifierFunc) Classify(ctx context.Context, entry stagefs.Entry) (Decision, error) {
	return f(ctx, entry)
}

// Preparer is implemented by classifiers that keep tick-scoped state. Prepare
// runs once per tick with the full snapshot before any Classify call.
type Preparer interface {
	Prepare(ctx context.Context, snapshot []stagefs.Entry) error
}

// Handler describes the contract the workflow manager needs from each stage.
type Handler interface {
	Name() string
	Tick(ctx context.Context) (Stats, error)
	HealthCheck(ctx context.Context) Health
}

// Stats summarizes one tick.
type Stats struct {
	Stage    string
	Started  time.Time
	Duration time.Duration
	Scanned  int
	Moved    int
	Stayed   int
	Skipped  int
	Failed   int
	// Outcomes counts moves per outcome label.
	Outcomes map[string]int
}

// Count records one move under outcome.
func (s *Stats) Count(outcome string) {
	if s.Outcomes == nil {
		s.Outcomes = make(map[string]int)
	}
	s.Outcomes[outcome]++
	s.Moved++
}
