// Package cli implements the lease-claim command line: flag and environment
// handling, the run command that claims the lease and runs the leader job,
// and the version command.
package cli
