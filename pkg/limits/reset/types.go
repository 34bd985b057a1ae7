package reset

// DefaultSchedule is the cron expression used when none is configured.
// Daily at 03:00 keeps the catch-up window for a missed rollover under
// a day while staying off peak traffic hours.
const DefaultSchedule = "0 3 * * *"

// Result summarizes one rollover run.
type Result struct {
	// Processed is the number of stale counters examined.
	Processed int

	// Succeeded is the number of counters rolled into the current
	// period and archived.
	Succeeded int

	// Failed is the number of counters that could not be rolled.
	// Failed counters stay unarchived and are retried next run.
	Failed int

	// AddOnsProcessed is the number of due add-on instances handled.
	AddOnsProcessed int

	// AddOnsFailed is the number of add-on instances whose expiry or
	// renewal failed.
	AddOnsFailed int
}
