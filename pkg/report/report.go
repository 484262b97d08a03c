// Package report collects unit results and the evidence attached to them.
package report

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Outcome is how an execution unit ended.
type Outcome string

const (
	OutcomePassed  Outcome = "passed"
	OutcomeFailed  Outcome = "failed"
	OutcomeSkipped Outcome = "skipped"
)

// Attachment is evidence embedded in a unit's report entry: either a file
// path or inline text.
type Attachment struct {
	Name      string `json:"name"`
	MediaType string `json:"mediaType"`
	Path      string `json:"path,omitempty"`
	Data      []byte `json:"data,omitempty"`
}

// UnitResult is the record of one finished unit.
type UnitResult struct {
	RunID       string        `json:"runId"`
	UnitID      string        `json:"unitId"`
	Name        string        `json:"name"`
	Outcome     Outcome       `json:"outcome"`
	StartedAt   time.Time     `json:"startedAt"`
	Duration    time.Duration `json:"duration"`
	Err         error         `json:"-"`
	Attachments []Attachment  `json:"attachments,omitempty"`
}

// Error returns the failure message, or "" for a passing unit.
func (r UnitResult) Error() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// Sink receives finished unit results. Implementations must be safe for
// concurrent use; units finish on many goroutines.
type Sink interface {
	Record(ctx context.Context, result UnitResult) error
}

// Summary counts outcomes.
type Summary struct {
	Total   int
	Passed  int
	Failed  int
	Skipped int
}

// OK reports whether no unit failed.
func (s Summary) OK() bool {
	return s.Failed == 0
}

// Collector is an in-memory, append-only Sink.
type Collector struct {
	mu      sync.Mutex
	results []UnitResult
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{}
}

// Record appends result.
func (c *Collector) Record(_ context.Context, result UnitResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = append(c.results, result)
	return nil
}

// Results returns a copy of every recorded result in arrival order.
func (c *Collector) Results() []UnitResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]UnitResult(nil), c.results...)
}

// Summary counts the recorded outcomes.
func (c *Collector) Summary() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Summary{Total: len(c.results)}
	for _, r := range c.results {
		switch r.Outcome {
		case OutcomePassed:
			s.Passed++
		case OutcomeFailed:
			s.Failed++
		case OutcomeSkipped:
			s.Skipped++
		}
	}
	return s
}

// Multi fans a result out to several sinks and joins their errors.
type Multi []Sink

// Record implements Sink.
func (m Multi) Record(ctx context.Context, result UnitResult) error {
	var errs []error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Record(ctx, result); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
