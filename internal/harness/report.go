package harness

import (
	"time"

	"github.com/google/uuid"
)

// Status is the outcome of one test.
type Status string

const (
	StatusPassed  Status = "PASSED"
	StatusFailed  Status = "FAILED"
	StatusSkipped Status = "SKIPPED"
	StatusError   Status = "ERROR"
)

// TestResult is the recorded outcome of one test entry.
type TestResult struct {
	ID         string        `json:"id"`
	Suite      string        `json:"suite"`
	Test       string        `json:"test"`
	Status     Status        `json:"status"`
	Message    string        `json:"message,omitempty"`
	SkipReason string        `json:"skip_reason,omitempty"`
	Duration   time.Duration `json:"duration_ns"`
}

// RunReport aggregates one harness run for reporters and machine consumers.
type RunReport struct {
	RunID     string        `json:"run_id"`
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration_ns"`
	Suites    int           `json:"suites"`
	Tests     int           `json:"tests"`
	Passed    int           `json:"passed"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Errors    int           `json:"errors"`
	Results   []TestResult  `json:"results"`
}

func newReport() *RunReport {
	return &RunReport{
		RunID:     uuid.New().String(),
		StartTime: time.Now(),
	}
}

func (r *RunReport) record(result TestResult) {
	r.Results = append(r.Results, result)
	r.Tests++
	switch result.Status {
	case StatusPassed:
		r.Passed++
	case StatusFailed:
		r.Failed++
	case StatusSkipped:
		r.Skipped++
	case StatusError:
		r.Errors++
	}
}

func (r *RunReport) finish() {
	r.EndTime = time.Now()
	r.Duration = r.EndTime.Sub(r.StartTime)
}

// Success reports whether the run had no failures or errors.
func (r *RunReport) Success() bool {
	return r.Failed == 0 && r.Errors == 0
}
