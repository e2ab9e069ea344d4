package core

import (
	"fmt"

	"github.com/google/uuid"
)

// NewIdentifier returns a unique debug label for a device resource, e.g.
// "blas-3f1c...". Labels only show up in logs.
func NewIdentifier(kind string) string {
	return fmt.Sprintf("%s-%s", kind, uuid.NewString())
}
