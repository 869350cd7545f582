package prices

import (
	"context"
	"errors"
)

// Source wraps one external quote provider. A source either returns a price
// for the base symbol quoted in USD or an error; it never retries. The
// aggregator absorbs individual source failures.
type Source interface {
	Name() string
	// Weight is the static confidence weight applied when averaging.
	Weight() float64
	FetchPrice(ctx context.Context, symbol string) (float64, error)
}

var (
	// ErrNoPrice is returned when every source failed and no cached value
	// exists for the token.
	ErrNoPrice = errors.New("prices: no price available")

	// ErrSymbolNotFound is returned by an adapter when the provider does
	// not list the requested symbol.
	ErrSymbolNotFound = errors.New("prices: symbol not found")
)
