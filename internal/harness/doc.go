// Package harness replays device conversations against growline and
// checks what they leave behind.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: recipe_start_stop
//	description: "What this scenario validates"
//	testing_hours: 0            # optional scheduler offset
//	max_len: 100                # optional property list cap
//	commands: [...]             # optional command set override
//	steps:
//	  - device: dev-1
//	    message: { messageType: RecipeEvent, action: start, name: basil }
//	  - device: dev-1
//	    advance_hours: 48
//	    check: true
//	  - put: { name: leaf.jpg, data: "..." }
//	  - device: dev-1
//	    message: { messageType: EnvVar, var: temp }
//	    expect: MISSING_FIELD
//	assertions:
//	  - type: schedule
//	    device: dev-1
//	    commands: [check_fluid, take_measurements]
//	  - type: fired_count
//	    command: check_fluid
//	    count: 1
//
// # Assertion Types
//
//   - trace_contains: some step of a kind ended with a given error code
//   - fired_count: a command fired exactly N times
//   - queue_len: a property list holds N items
//   - latest: the newest item of a property list matches fields
//   - schedule: the scheduled command names, as a set
//   - run: run count and fields of the latest run
//   - notifications: total and unacknowledged notification counts
//   - rows: analytics rows by key prefix
//
// # Deterministic Testing
//
// Every scenario runs against an in-memory SQLite store, in-memory blob
// buckets and analytics sink, a fake clock starting at DefaultStart and
// notification ids 000001, 000002, and so on. The trace is therefore
// identical across runs and is compared against golden files.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/recipe_start_stop.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, e := range result.Errors {
//	    log.Println(e)
//	}
package harness
