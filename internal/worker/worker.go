// Package worker holds the gateway's background tasks: async cost entry
// persistence, daily cost rollups and the budget alert sweep.
package worker

import "context"

// Worker is a long-running background task owned by the Runner.
type Worker interface {
	// Run blocks until ctx is cancelled or an unrecoverable error occurs.
	Run(ctx context.Context) error
}
