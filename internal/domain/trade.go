package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Trade struct {
	ID           string          `json:"id"`
	Market       string          `json:"market"`
	MakerOrderID string          `json:"maker_order_id"`
	TakerOrderID string          `json:"taker_order_id"`
	TakerSide    Side            `json:"taker_side"`
	Price        decimal.Decimal `json:"price"`
	Quantity     decimal.Decimal `json:"quantity"`
	Timestamp    time.Time       `json:"timestamp"`
}
