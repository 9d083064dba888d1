// Package cron submits scrape jobs on recurring schedules.
//
// Entries come from service configuration and are fixed for the life of
// the process. Each firing submits through the engine with the
// idempotency key
//
//	cron:<entry name>:<scheduled time, unix seconds>
//
// so a firing that is retried, or replayed after a restart, never creates
// a second job for the same scheduled time.
//
// Schedules use the standard five-field cron syntax or descriptors such as
// "@hourly" and "@every 30m".
package cron
