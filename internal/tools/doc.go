// Package tools provides the local command execution used by the overlay,
// remote shell, rsync, and git adapters.
//
// Ownership boundary:
// - process spawning and exit code capture
// - timeout enforcement through the caller's context
package tools
