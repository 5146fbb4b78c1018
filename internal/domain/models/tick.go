package models

import "time"

// PairAction is what a tick did with one pair.
type PairAction string

const (
	ActionNone     PairAction = "none"
	ActionRetrain  PairAction = "retrain"
	ActionForecast PairAction = "forecast"
)

// PairResult is how that action ended.
type PairResult string

const (
	ResultOK        PairResult = "ok"
	ResultSkipped   PairResult = "skipped"
	ResultFailed    PairResult = "failed"
	ResultCancelled PairResult = "cancelled"
)

// StepOutcome describes one retrain or forecast attempt within a tick.
type StepOutcome struct {
	Action    PairAction `json:"action"`
	Result    PairResult `json:"result"`
	Reason    string     `json:"reason,omitempty"`
	ErrorKind string     `json:"error_kind,omitempty"`
}

// PairOutcome is the per-pair line of a tick report.
type PairOutcome struct {
	Series   SeriesID      `json:"series"`
	Model    string        `json:"model"`
	Steps    []StepOutcome `json:"steps"`
	Duration time.Duration `json:"duration"`
}

// Did reports whether the pair completed the given action successfully.
func (o PairOutcome) Did(a PairAction) bool {
	for _, s := range o.Steps {
		if s.Action == a && s.Result == ResultOK {
			return true
		}
	}
	return false
}

// Failed reports whether any step failed.
func (o PairOutcome) Failed() bool {
	for _, s := range o.Steps {
		if s.Result == ResultFailed {
			return true
		}
	}
	return false
}

// SeriesFetch is the outcome of the extended fetch for one series.
type SeriesFetch struct {
	Series  SeriesID `json:"series"`
	Missing int      `json:"missing"`
	Fetched int      `json:"fetched"`
	Points  int      `json:"points"`
	Error   string   `json:"error,omitempty"`
}

// TickReport summarises one tick.
type TickReport struct {
	Now        time.Time     `json:"now"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Skipped    string        `json:"skipped,omitempty"`
	Fetches    []SeriesFetch `json:"fetches"`
	Outcomes   []PairOutcome `json:"outcomes"`
}

// Count returns how many pairs completed action a.
func (r TickReport) Count(a PairAction) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Did(a) {
			n++
		}
	}
	return n
}

// Outcome finds the outcome of one pair.
func (r TickReport) Outcome(series SeriesID, model string) (PairOutcome, bool) {
	for _, o := range r.Outcomes {
		if o.Series == series && o.Model == model {
			return o, true
		}
	}
	return PairOutcome{}, false
}

// Failures counts pairs with at least one failed step.
func (r TickReport) Failures() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Failed() {
			n++
		}
	}
	return n
}

// TickRequestType is the queue message type for manually requested ticks.
const TickRequestType = "tick.run"

// TickRequest asks any running instance to run a tick for Hour.
type TickRequest struct {
	Hour        time.Time `json:"hour"`
	RequestedAt time.Time `json:"requested_at"`
	Source      string    `json:"source,omitempty"`
}
