// Package health builds the read-only status snapshot served on /healthz and
// consumed by the CLI.
package health

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

type Status struct {
	DatabaseReachable bool      `json:"database_reachable"`
	UptimeSeconds     int64     `json:"uptime_seconds"`
	StartedAt         time.Time `json:"started_at"`
	Healthy           bool      `json:"healthy"`
	Issues            []string  `json:"issues,omitempty"`
}

// Check pings the database and reports process uptime. It has no side effects
// on request handling state.
func Check(db *gorm.DB, startedAt time.Time) *Status {
	status := &Status{
		StartedAt:     startedAt,
		UptimeSeconds: int64(time.Since(startedAt).Seconds()),
		Healthy:       true,
		Issues:        []string{},
	}

	sqlDB, err := db.DB()
	if err == nil {
		err = sqlDB.Ping()
	}
	if err != nil {
		status.DatabaseReachable = false
		status.Healthy = false
		status.Issues = append(status.Issues, fmt.Sprintf("database unreachable: %v", err))
	} else {
		status.DatabaseReachable = true
	}

	return status
}
