package rat

import (
	"context"
	"errors"
)

// ErrNotFound is returned by a Lookup that found no matching RAT.
var ErrNotFound = errors.New("rat: not found")

// Lookup resolves a status token for one occurrence/product pair.
type Lookup interface {
	Lookup(ctx context.Context, occurrence, product string) (string, error)
}

// LookupFunc adapts a function to Lookup.
type LookupFunc func(ctx context.Context, occurrence, product string) (string, error)

func (f LookupFunc) Lookup(ctx context.Context, occurrence, product string) (string, error) {
	return f(ctx, occurrence, product)
}
