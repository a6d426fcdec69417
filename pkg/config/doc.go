// Package config loads the lease-claim configuration from a YAML file and
// turns it into claim parameters.
package config
