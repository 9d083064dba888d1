package cron

import (
	"fmt"
	"time"
)

// Entry is a recurring submission.
type Entry struct {
	// Name identifies the entry in logs and idempotency keys. It must be
	// unique.
	Name string `json:"name" toml:"name"`

	// Schedule is a cron expression, e.g. "0 6 * * 1-5" or "@every 1h".
	Schedule string `json:"schedule" toml:"schedule"`

	// Supplier and Parameters are submitted on every firing.
	Supplier   string            `json:"supplier" toml:"supplier"`
	Parameters map[string]string `json:"parameters,omitempty" toml:"parameters"`
}

// IdempotencyKey returns the key used for the firing scheduled at at.
func (e Entry) IdempotencyKey(at time.Time) string {
	return fmt.Sprintf("cron:%s:%d", e.Name, at.Unix())
}
