// Package uuid issues run and object identifiers.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator implements catalog.IDGenerator with time-ordered UUIDs.
type Generator struct{}

// New creates a Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a UUIDv7 string. Run IDs sort by start time.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}
