// Package reset runs the scheduled monthly rollover: stale quota
// counters are archived, fresh counters are opened for the current
// period, and due add-on instances are expired or auto-renewed.
//
// The scheduler fires on a cron expression (default daily at 03:00) and
// each firing is idempotent: a counter already rolled into the current
// period is untouched, so a missed firing is simply caught up by the
// next one and an operator can trigger RunNow at any time without
// double-resetting.
package reset
