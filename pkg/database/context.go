package database

import (
	"context"
)

type contextKey string

const (
	// ScopeKey is the context key for storing the request or transaction scoped Querier.
	ScopeKey contextKey = "dbScope"
)

// GetScope retrieves the scoped Querier from context.
// Returns nil and false if not present.
func GetScope(ctx context.Context) (Querier, bool) {
	q, ok := ctx.Value(ScopeKey).(Querier)
	return q, ok && q != nil
}

// SetScope stores a Querier in context for repositories to use.
func SetScope(ctx context.Context, q Querier) context.Context {
	return context.WithValue(ctx, ScopeKey, q)
}

// ScopeProvider creates database-scoped contexts for code running outside
// HTTP requests (tasks and the importer).
type ScopeProvider interface {
	WithScope(ctx context.Context) (context.Context, func(), error)
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

var _ ScopeProvider = (*DB)(nil)
