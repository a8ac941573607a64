package model

import (
	"strings"

	"github.com/google/uuid"
)

// ExecutableID is a 128-bit random identifier used to correlate logging
// and tracing for a single execution node. Its hex form (no dashes) is
// what appears in logs and trace span names.
type ExecutableID uuid.UUID

// NewExecutableID generates a fresh random ExecutableID.
func NewExecutableID() ExecutableID {
	return ExecutableID(uuid.New())
}

// String returns the dash-free lowercase hex form used for log
// correlation, e.g. "a1b2c3d4e5f6...".
func (id ExecutableID) String() string {
	return strings.ReplaceAll(uuid.UUID(id).String(), "-", "")
}

// IsZero reports whether the id is the zero value (never assigned).
func (id ExecutableID) IsZero() bool {
	return id == ExecutableID(uuid.Nil)
}
