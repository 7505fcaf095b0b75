package ethwallet

import (
	"context"
	"math/big"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// CachingGasOracle wraps a node-backed GasPriceOracle with a rate limiter
// and a short-lived cache, so a burst of sends (the ERC-20 funding flow
// issues two back to back) doesn't hammer the node's eth_gasPrice
// endpoint. The limiter also paces retries when the node is flapping.
type CachingGasOracle struct {
	source  GasPriceOracle
	limiter *rate.Limiter

	mu      sync.Mutex
	cached  *big.Int
	fetched time.Time
	maxAge  time.Duration
}

// NewCachingGasOracle wraps source, refreshing at most once per interval
// and serving the cached price for up to maxAge.
func NewCachingGasOracle(source GasPriceOracle, interval, maxAge time.Duration) *CachingGasOracle {
	return &CachingGasOracle{
		source:  source,
		limiter: rate.NewLimiter(rate.Every(interval), 1),
		maxAge:  maxAge,
	}
}

// SuggestGasPrice returns the cached price when fresh, and otherwise
// fetches a new one, pacing fetches through the limiter.
//
// NOTE: Part of the GasPriceOracle interface.
func (o *CachingGasOracle) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.cached != nil && time.Since(o.fetched) < o.maxAge {
		return new(big.Int).Set(o.cached), nil
	}

	if err := o.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	price, err := o.source.SuggestGasPrice(ctx)
	if err != nil {
		// A stale price beats no price while the node recovers.
		if o.cached != nil {
			return new(big.Int).Set(o.cached), nil
		}
		return nil, err
	}

	o.cached = new(big.Int).Set(price)
	o.fetched = time.Now()
	return new(big.Int).Set(price), nil
}
