// Package uuid wraps github.com/google/uuid for record and key identifiers.
package uuid

import "github.com/google/uuid"

// New returns a random (version 4) UUID string.
func New() string {
	return uuid.NewString()
}

