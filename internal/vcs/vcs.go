// Package vcs commits and pushes the runner data directory.
package vcs

import "context"

// VersionControl is the capability the push flow needs. CommitAndPush returns
// false when there was nothing to commit. Implementations own retries.
type VersionControl interface {
	IsAvailable(ctx context.Context) bool
	IsRepository(ctx context.Context, path string) bool
	CommitAndPush(ctx context.Context, message, branch string) (bool, error)
}
