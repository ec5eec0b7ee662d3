// Package oracle is the price feed boundary. The engine only ever asks for
// the latest 18-decimal collateral price; how it is computed is out of scope.
package oracle

import (
	"errors"
	"sync"

	"github.com/holiman/uint256"
)

var ErrNoPrice = errors.New("no price available")

// PriceFeed returns the latest collateral price at 18-decimal scale.
type PriceFeed interface {
	Price() (*uint256.Int, error)
}

// StaticFeed holds a manually set price. Used in tests and as the fallback
// feed when no NATS price subject is configured.
type StaticFeed struct {
	mu    sync.RWMutex
	price *uint256.Int
}

func NewStaticFeed(price *uint256.Int) *StaticFeed {
	f := &StaticFeed{}
	if price != nil {
		f.price = new(uint256.Int).Set(price)
	}
	return f
}

func (f *StaticFeed) SetPrice(price *uint256.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.price = new(uint256.Int).Set(price)
}

func (f *StaticFeed) Price() (*uint256.Int, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.price == nil || f.price.IsZero() {
		return nil, ErrNoPrice
	}
	return new(uint256.Int).Set(f.price), nil
}
