// Package oracle defines the interfaces and shared types of the
// reconciliation engine.
package oracle

import (
	"context"
)

// Oracle is a worker that keeps a slice of on-chain state converged with an
// external source of truth.
type Oracle interface {
	// Start runs the oracle until the context is canceled.
	Start(ctx context.Context)

	// Name returns the name of the oracle.
	Name() string
}
