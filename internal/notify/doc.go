// Package notify turns recipe lifecycle events into time-based reminders.
//
// Three per-device lists back it, all kept in the bounded queue store:
//   - "schedule": at most one Entry per command, fired by Scheduler.Check
//   - "runs": newest-first Run records; only the head may be open
//   - "notifications": newest-first Notification records shown to users
//
// Nothing here ticks on its own. Check runs at the tail of every
// dispatched message, and "now" is the injected clock plus an optional
// testing offset (SetTestingHours), so schedules can be exercised without
// waiting days.
//
// Service ties the pieces together for recipe events:
//
//	recipe_start: add check_fluid and take_measurements, start a run
//	recipe_stop:  clear the schedule, stop the run
//	recipe_end:   clear the schedule, add harvest_plant, stop the run
package notify
