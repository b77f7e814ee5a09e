// Package id provides identifier generation for diplomas and service instances.
package id

import (
	"strings"

	"github.com/google/uuid"
)

// New returns a diploma identifier: a time-ordered UUIDv7, so that ids sort
// roughly by creation.
func New() string {
	u, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return u.String()
}

// Generate creates a short identifier with the given prefix.
// Format: <prefix>_<12 hex chars> (e.g., "inst_0c6f2d81a9b4").
func Generate(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// Valid reports whether s parses as a UUID.
func Valid(s string) bool {
	return uuid.Validate(s) == nil
}
