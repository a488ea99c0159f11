// Package uuid generates run identifiers.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator hands out UUIDv7 strings. Version 7 embeds the creation time, so
// run history ordered by ID is ordered by start.
type Generator struct{}

// New returns a Generator.
func New() *Generator { return &Generator{} }

// NewID implements gist.IDGenerator.
func (*Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("new run id: %w", err)
	}
	return id.String(), nil
}
