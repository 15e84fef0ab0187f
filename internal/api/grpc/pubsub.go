package grpc

import (
	"context"
	"sync"

	"github.com/olyamironova/matching-core/internal/domain"
	"github.com/olyamironova/matching-core/internal/port"
)

var _ port.Publisher = (*TradeHub)(nil)

// TradeHub fans executed trades out to live stream subscribers. Subscribers
// that fall behind lose trades rather than stalling the book.
type TradeHub struct {
	mu   sync.RWMutex
	subs map[string]map[chan *domain.Trade]struct{}
	buf  int
}

func NewTradeHub(buf int) *TradeHub {
	if buf <= 0 {
		buf = 64
	}
	return &TradeHub{
		subs: make(map[string]map[chan *domain.Trade]struct{}),
		buf:  buf,
	}
}

// Subscribe registers for trades of market; an empty market means all
// markets. The returned func unsubscribes and closes the channel.
func (h *TradeHub) Subscribe(market string) (<-chan *domain.Trade, func()) {
	ch := make(chan *domain.Trade, h.buf)
	h.mu.Lock()
	if _, ok := h.subs[market]; !ok {
		h.subs[market] = make(map[chan *domain.Trade]struct{})
	}
	h.subs[market][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[market], ch)
			if len(h.subs[market]) == 0 {
				delete(h.subs, market)
			}
			h.mu.Unlock()
			close(ch)
		})
	}
}

func (h *TradeHub) PublishTrades(_ context.Context, trades []*domain.Trade) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, t := range trades {
		h.send(h.subs[t.Market], t)
		h.send(h.subs[""], t)
	}
	return nil
}

func (h *TradeHub) send(subs map[chan *domain.Trade]struct{}, t *domain.Trade) {
	for ch := range subs {
		select {
		case ch <- t:
		default:
		}
	}
}
