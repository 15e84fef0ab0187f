package engine

import (
	"errors"
	"fmt"
)

var (
	ErrMarketNotFound = errors.New("market not found")
	ErrMarketExists   = errors.New("market already exists")
)

// MarketNotFoundError is returned when an order targets a pair that has no
// orderbook. errors.Is(err, ErrMarketNotFound) holds for it.
type MarketNotFoundError struct {
	Market string
}

func (e *MarketNotFoundError) Error() string {
	return fmt.Sprintf("no orderbook exists for market %s", e.Market)
}

func (e *MarketNotFoundError) Is(target error) bool {
	return target == ErrMarketNotFound
}
