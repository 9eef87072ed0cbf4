// Package idgen provides pluggable ID generation for uiheal records.
//
// Element ids are assigned by the perception service and are opaque to this
// module; idgen only mints identifiers for rows uiheal itself creates
// (runs, steps, healing events, drift alerts).
package idgen

import "github.com/google/uuid"

// Generator produces unique string identifiers.
type Generator func() string

// UUIDv7 returns a Generator producing RFC 9562 UUID v7 strings:
// time-sortable, so trajectory rows order naturally by id.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Prefixed wraps a Generator and prepends a fixed prefix to every ID, for
// type-scoped identifiers ("run_", "stp_", "evt_", "alr_").
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

// Default is the repository-wide default strategy.
var Default Generator = UUIDv7()

// New produces an ID using the Default generator.
func New() string {
	return Default()
}
