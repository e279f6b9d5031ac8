package harness

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/roach88/growline/internal/analytics"
	"github.com/roach88/growline/internal/notify"
	"github.com/roach88/growline/internal/queue"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s %s", event.Seq, event.At, event.Device, event.Step)
			if event.Error != "" {
				fmt.Fprintf(&buf, " error=%s", event.Error)
			}
			if len(event.Fired) > 0 {
				fmt.Fprintf(&buf, " fired=%v", event.Fired)
			}
			buf.WriteByte('\n')
		}
	}

	return buf.String()
}

// AssertionContext provides access to the final state for assertions.
type AssertionContext struct {
	Ctx     context.Context
	Queue   *queue.Store
	Service *notify.Service
	Sink    *analytics.Memory
}

// assertTraceContains checks that some step of the given kind ended with
// the given error ("" meaning success).
func assertTraceContains(trace []TraceEvent, a Assertion) error {
	for _, event := range trace {
		if event.Step == a.Step && event.Error == a.Error && (a.Device == "" || event.Device == a.Device) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("step %s with error %q", a.Step, a.Error),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertFiredCount checks how often a command fired across the trace.
func assertFiredCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, event := range trace {
		if a.Device != "" && event.Device != a.Device {
			continue
		}
		for _, name := range event.Fired {
			if name == a.Command {
				count++
			}
		}
	}
	if count != *a.Count {
		return &AssertionError{
			Type:     AssertFiredCount,
			Expected: fmt.Sprintf("%s fired %d times", a.Command, *a.Count),
			Actual:   fmt.Sprintf("%d times", count),
			Trace:    trace,
		}
	}
	return nil
}

func assertQueueLen(actx *AssertionContext, a Assertion) error {
	items, err := actx.Queue.Get(actx.Ctx, a.Device, a.Property)
	if err != nil {
		return fmt.Errorf("queue_len: %w", err)
	}
	if len(items) != *a.Count {
		return &AssertionError{
			Type:     AssertQueueLen,
			Expected: fmt.Sprintf("%s/%s holds %d items", a.Device, a.Property, *a.Count),
			Actual:   fmt.Sprintf("%d items", len(items)),
		}
	}
	return nil
}

// assertLatest matches the newest item of a property list.
func assertLatest(actx *AssertionContext, a Assertion) error {
	items, err := actx.Queue.Get(actx.Ctx, a.Device, a.Property)
	if err != nil {
		return fmt.Errorf("latest: %w", err)
	}
	if len(items) == 0 {
		return &AssertionError{
			Type:     AssertLatest,
			Expected: fmt.Sprintf("%s/%s newest item matching %v", a.Device, a.Property, a.Expect),
			Actual:   "property is empty",
		}
	}
	decoded, err := queue.DecodeAny(items[:1])
	if err != nil {
		return fmt.Errorf("latest: %w", err)
	}
	if !matchFields(decoded[0], a.Expect) {
		return &AssertionError{
			Type:     AssertLatest,
			Expected: fmt.Sprintf("%s/%s newest item matching %v", a.Device, a.Property, a.Expect),
			Actual:   fmt.Sprintf("%v", decoded[0]),
		}
	}
	return nil
}

// assertSchedule compares the scheduled command names as a set.
func assertSchedule(actx *AssertionContext, a Assertion) error {
	entries, err := actx.Service.Scheduler.Entries(actx.Ctx, a.Device)
	if err != nil {
		return fmt.Errorf("schedule: %w", err)
	}
	actual := make([]string, 0, len(entries))
	for _, e := range entries {
		actual = append(actual, e.Command)
	}
	expected := append([]string(nil), a.Commands...)
	sort.Strings(actual)
	sort.Strings(expected)

	if len(actual) != len(expected) || (len(actual) > 0 && !reflect.DeepEqual(actual, expected)) {
		return &AssertionError{
			Type:     AssertSchedule,
			Expected: fmt.Sprintf("%s scheduled %v", a.Device, expected),
			Actual:   fmt.Sprintf("%v", actual),
		}
	}
	return nil
}

// assertRun checks the run count and the latest run. An "open" key in
// Expect is compared against Run.Open.
func assertRun(actx *AssertionContext, a Assertion) error {
	runs, err := actx.Service.Runs.All(actx.Ctx, a.Device)
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}
	if a.Count != nil && len(runs) != *a.Count {
		return &AssertionError{
			Type:     AssertRun,
			Expected: fmt.Sprintf("%s has %d runs", a.Device, *a.Count),
			Actual:   fmt.Sprintf("%d runs", len(runs)),
		}
	}
	if len(a.Expect) == 0 {
		return nil
	}
	if len(runs) == 0 {
		return &AssertionError{
			Type:     AssertRun,
			Expected: fmt.Sprintf("latest run matching %v", a.Expect),
			Actual:   "no runs",
		}
	}
	latest := runs[0]
	actual := map[string]any{
		"start":       latest.Start,
		"end":         latest.End,
		"recipe_name": latest.RecipeName,
		"open":        latest.Open(),
	}
	if !matchFields(actual, a.Expect) {
		return &AssertionError{
			Type:     AssertRun,
			Expected: fmt.Sprintf("latest run matching %v", a.Expect),
			Actual:   fmt.Sprintf("%v", actual),
		}
	}
	return nil
}

func assertNotifications(actx *AssertionContext, a Assertion) error {
	all, err := actx.Service.Notifications.All(actx.Ctx, a.Device)
	if err != nil {
		return fmt.Errorf("notifications: %w", err)
	}
	unacked := 0
	for _, n := range all {
		if n.Acknowledged == "" {
			unacked++
		}
	}
	if a.Count != nil && len(all) != *a.Count {
		return &AssertionError{
			Type:     AssertNotifications,
			Expected: fmt.Sprintf("%s has %d notifications", a.Device, *a.Count),
			Actual:   fmt.Sprintf("%d notifications", len(all)),
		}
	}
	if a.Unacked != nil && unacked != *a.Unacked {
		return &AssertionError{
			Type:     AssertNotifications,
			Expected: fmt.Sprintf("%s has %d unacknowledged", a.Device, *a.Unacked),
			Actual:   fmt.Sprintf("%d unacknowledged", unacked),
		}
	}
	return nil
}

func assertRows(actx *AssertionContext, a Assertion) error {
	count := 0
	for _, row := range actx.Sink.Rows() {
		if strings.HasPrefix(row.ID, a.Prefix) {
			count++
		}
	}
	if count != *a.Count {
		return &AssertionError{
			Type:     AssertRows,
			Expected: fmt.Sprintf("%d rows with prefix %q", *a.Count, a.Prefix),
			Actual:   fmt.Sprintf("%d rows", count),
		}
	}
	return nil
}

// matchFields checks if actual contains all expected fields with matching
// values (subset semantics). Extra fields in actual are ignored.
func matchFields(actual any, expected map[string]any) bool {
	m, ok := actual.(map[string]any)
	if !ok {
		return len(expected) == 0
	}
	for key, want := range expected {
		got, exists := m[key]
		if !exists || !valuesEqual(got, want) {
			return false
		}
	}
	return true
}

// valuesEqual compares scalars loosely: YAML integers and decoded numbers
// of any width compare by value.
func valuesEqual(actual, expected any) bool {
	if a, ok := toFloat(actual); ok {
		if e, ok := toFloat(expected); ok {
			return a == e
		}
	}
	return reflect.DeepEqual(actual, expected)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, assertion)
		case AssertFiredCount:
			err = assertFiredCount(result.Trace, assertion)
		case AssertQueueLen, AssertLatest, AssertSchedule, AssertRun, AssertNotifications, AssertRows:
			if actx == nil {
				err = fmt.Errorf("assertion[%d]: %s requires state context", i, assertion.Type)
				break
			}
			err = evaluateState(actx, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}

func evaluateState(actx *AssertionContext, a Assertion) error {
	switch a.Type {
	case AssertQueueLen:
		return assertQueueLen(actx, a)
	case AssertLatest:
		return assertLatest(actx, a)
	case AssertSchedule:
		return assertSchedule(actx, a)
	case AssertRun:
		return assertRun(actx, a)
	case AssertNotifications:
		return assertNotifications(actx, a)
	default:
		return assertRows(actx, a)
	}
}
