package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/growline/internal/clock"
	"github.com/roach88/growline/internal/notify"
)

// Scenario defines a device conversation and the state it must leave
// behind. Steps run in order against fresh in-memory collaborators and a
// fake clock, so a scenario always produces the same trace.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Start is the fake clock's initial time. Defaults to DefaultStart.
	Start string `yaml:"start,omitempty"`

	// TestingHours shifts the scheduler's notion of now.
	TestingHours int `yaml:"testing_hours,omitempty"`

	// MaxLen overrides the property list cap.
	MaxLen int `yaml:"max_len,omitempty"`

	// Commands replaces the built-in command set.
	Commands []notify.Command `yaml:"commands,omitempty"`

	// Steps are the device messages and clock moves to replay.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace and state.
	// Supported types: trace_contains, fired_count, queue_len, latest,
	// schedule, run, notifications, rows
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one scenario action. Exactly one of Message, Check and Put is
// set; AdvanceHours moves the clock before the action runs.
type Step struct {
	// Device is the device the step acts for. Put ignores it.
	Device string `yaml:"device,omitempty"`

	// AdvanceHours moves the fake clock forward before the action.
	AdvanceHours int `yaml:"advance_hours,omitempty"`

	// Message is dispatched exactly as a device would send it.
	Message map[string]any `yaml:"message,omitempty"`

	// Check runs the device's due-command check without a message.
	Check bool `yaml:"check,omitempty"`

	// Put drops an object into a bucket, standing in for a device upload.
	Put *PutStep `yaml:"put,omitempty"`

	// Expect is the error code the step must fail with. Empty means the
	// step must succeed.
	Expect string `yaml:"expect,omitempty"`
}

// PutStep seeds one blob.
type PutStep struct {
	// Bucket defaults to the uploads bucket.
	Bucket string `yaml:"bucket,omitempty"`
	Name   string `yaml:"name"`
	Data   string `yaml:"data"`
}

// Assertion validates the trace or the final device state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "trace_contains": a step of Step kind ended with Error
	// - "fired_count": Command fired exactly Count times
	// - "queue_len": Property of Device holds Count items
	// - "latest": newest item of Property matches Expect (subset)
	// - "schedule": Device's schedule holds exactly Commands
	// - "run": latest run matches Expect (subset); Count runs in total
	// - "notifications": Count notifications, Unacked unacknowledged
	// - "rows": Count analytics rows whose key starts with Prefix
	Type string `yaml:"type"`

	Device   string `yaml:"device,omitempty"`
	Property string `yaml:"property,omitempty"`
	Step     string `yaml:"step,omitempty"`
	Error    string `yaml:"error,omitempty"`
	Command  string `yaml:"command,omitempty"`
	Prefix   string `yaml:"prefix,omitempty"`

	// Commands is the expected schedule, in any order.
	Commands []string `yaml:"commands,omitempty"`

	// Expect contains expected field values. Subset match.
	Expect map[string]any `yaml:"expect,omitempty"`

	// Count and Unacked are pointers so that zero can be asserted.
	Count   *int `yaml:"count,omitempty"`
	Unacked *int `yaml:"unacked,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertFiredCount    = "fired_count"
	AssertQueueLen      = "queue_len"
	AssertLatest        = "latest"
	AssertSchedule      = "schedule"
	AssertRun           = "run"
	AssertNotifications = "notifications"
	AssertRows          = "rows"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // catches "assertion:" vs "assertions:"
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Start != "" {
		if _, err := clock.Parse(s.Start); err != nil {
			return fmt.Errorf("start: %w", err)
		}
	}
	if s.TestingHours < 0 {
		return fmt.Errorf("testing_hours must be non-negative")
	}
	if s.MaxLen < 0 {
		return fmt.Errorf("max_len must be non-negative")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}
	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, st *Step) error {
	actions := 0
	if st.Message != nil {
		actions++
	}
	if st.Check {
		actions++
	}
	if st.Put != nil {
		actions++
	}
	if actions != 1 {
		return fmt.Errorf("steps[%d]: exactly one of message, check or put is required", index)
	}
	if st.AdvanceHours < 0 {
		return fmt.Errorf("steps[%d]: advance_hours must be non-negative", index)
	}
	if st.Put != nil {
		if st.Put.Name == "" {
			return fmt.Errorf("steps[%d].put: name is required", index)
		}
		return nil
	}
	if st.Device == "" {
		return fmt.Errorf("steps[%d]: device is required", index)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	needDevice := func() error {
		if a.Device == "" {
			return fmt.Errorf("assertions[%d]: device is required for %s", index, a.Type)
		}
		return nil
	}
	needCount := func() error {
		if a.Count == nil {
			return fmt.Errorf("assertions[%d]: count is required for %s", index, a.Type)
		}
		if *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for %s", index, a.Type)
		}
		return nil
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Step == "" {
			return fmt.Errorf("assertions[%d]: step is required for trace_contains", index)
		}
	case AssertFiredCount:
		if a.Command == "" {
			return fmt.Errorf("assertions[%d]: command is required for fired_count", index)
		}
		return needCount()
	case AssertQueueLen:
		if err := needDevice(); err != nil {
			return err
		}
		if a.Property == "" {
			return fmt.Errorf("assertions[%d]: property is required for queue_len", index)
		}
		return needCount()
	case AssertLatest:
		if err := needDevice(); err != nil {
			return err
		}
		if a.Property == "" {
			return fmt.Errorf("assertions[%d]: property is required for latest", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for latest", index)
		}
	case AssertSchedule:
		return needDevice()
	case AssertRun:
		if err := needDevice(); err != nil {
			return err
		}
		if a.Count == nil && len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect or count is required for run", index)
		}
	case AssertNotifications:
		if err := needDevice(); err != nil {
			return err
		}
		if a.Count == nil && a.Unacked == nil {
			return fmt.Errorf("assertions[%d]: count or unacked is required for notifications", index)
		}
	case AssertRows:
		return needCount()
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
