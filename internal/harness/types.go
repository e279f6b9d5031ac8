package harness

// Step kinds recorded in the trace besides message types.
const (
	StepCheck = "check"
	StepPut   = "put"
)

// TraceEvent records one executed step.
type TraceEvent struct {
	Seq    int    `json:"seq"`
	At     string `json:"at"`
	Device string `json:"device,omitempty"`

	// Step is the message type, "check" or "put". Messages without a
	// usable messageType are recorded as "".
	Step string `json:"step"`

	// Error is the dispatch error code, or the error text for failures
	// that carry no code. Empty on success.
	Error string `json:"error,omitempty"`

	// Fired lists the commands whose notifications the step produced,
	// newest first.
	Fired []string `json:"fired,omitempty"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass is true when every step met its expectation and every
	// assertion held.
	Pass bool `json:"pass"`

	// Trace contains one event per step, in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends ev, numbering it.
func (r *Result) AddTrace(ev TraceEvent) {
	ev.Seq = len(r.Trace) + 1
	r.Trace = append(r.Trace, ev)
}
