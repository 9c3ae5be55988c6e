// Package catalog validates that comment targets exist in the marketplace
// catalog. The catalog itself is owned elsewhere; this package only answers
// existence questions.
package catalog

import (
	"context"
	"errors"

	"github.com/example/tutorhub/services/comments/internal/store"
)

// ErrTargetNotFound is returned when a (kind, id) pair has no catalog entry.
var ErrTargetNotFound = errors.New("target not found")

// Resolver checks that the tutor or course a thread attaches to exists.
type Resolver interface {
	Resolve(ctx context.Context, t store.Target) error
}
