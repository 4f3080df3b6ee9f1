// Package cron runs the periodic maintenance jobs: snapshot export, idle
// conversation pruning and rate limiter sweeps.
package cron

import "context"

// Job defines a periodic background task.
type Job interface {
	// Name returns a unique identifier for this job.
	Name() string

	// Schedule returns a standard 5-field cron expression or a descriptor
	// such as "@every 10m".
	Schedule() string

	Run(ctx context.Context) error
}
