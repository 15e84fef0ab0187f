package in_memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/olyamironova/matching-core/internal/domain"
	"github.com/olyamironova/matching-core/internal/port"
	"github.com/shopspring/decimal"
)

var ErrOrderNotFound = errors.New("order not found")

type MemoryRepo struct {
	mu     sync.Mutex
	orders map[string]*domain.Order
	trades map[string][]*domain.Trade
	seq    map[string]uint64 // insertion order, breaks Seq ties
	next   uint64
}

var _ port.Repository = (*MemoryRepo)(nil)

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		orders: make(map[string]*domain.Order),
		trades: make(map[string][]*domain.Trade),
		seq:    make(map[string]uint64),
	}
}

func (r *MemoryRepo) SaveOrder(ctx context.Context, o *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *o
	if _, ok := r.orders[o.ID]; !ok {
		r.next++
		r.seq[o.ID] = r.next
	}
	r.orders[o.ID] = &cp
	return nil
}

func (r *MemoryRepo) LoadOpenOrders(ctx context.Context, market string) ([]*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var res []*domain.Order
	for _, o := range r.orders {
		if o.Market == market && o.Remaining.IsPositive() {
			cp := *o
			res = append(res, &cp)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].Seq != res[j].Seq {
			return res[i].Seq < res[j].Seq
		}
		return r.seq[res[i].ID] < r.seq[res[j].ID]
	})
	return res, nil
}

func (r *MemoryRepo) LoadTradesForOrder(ctx context.Context, orderID string) ([]*domain.Trade, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*domain.Trade(nil), r.trades[orderID]...), nil
}

func (r *MemoryRepo) Order(id string) (*domain.Order, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, false
	}
	cp := *o
	return &cp, true
}

// BeginTx buffers writes until Commit, so a rolled back transaction leaves
// no trace.
func (r *MemoryRepo) BeginTx(ctx context.Context) (port.Tx, error) {
	return &memoryTx{repo: r, remaining: make(map[string]decimal.Decimal)}, nil
}

type memoryTx struct {
	repo      *MemoryRepo
	trades    []*domain.Trade
	remaining map[string]decimal.Decimal
	done      bool
}

func (tx *memoryTx) SaveTrade(ctx context.Context, t *domain.Trade) error {
	tx.trades = append(tx.trades, t)
	return nil
}

func (tx *memoryTx) UpdateRemaining(ctx context.Context, orderID string, remaining decimal.Decimal) error {
	tx.remaining[orderID] = remaining
	return nil
}

func (tx *memoryTx) Commit(ctx context.Context) error {
	if tx.done {
		return errors.New("transaction already closed")
	}
	r := tx.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	for id := range tx.remaining {
		if _, ok := r.orders[id]; !ok {
			return ErrOrderNotFound
		}
	}
	for id, rem := range tx.remaining {
		o := r.orders[id]
		o.Remaining = rem
		o.Status = domain.StatusFor(o.Size, rem)
	}
	for _, t := range tx.trades {
		r.trades[t.MakerOrderID] = append(r.trades[t.MakerOrderID], t)
		r.trades[t.TakerOrderID] = append(r.trades[t.TakerOrderID], t)
	}
	tx.done = true
	return nil
}

func (tx *memoryTx) Rollback(ctx context.Context) error {
	tx.done = true
	return nil
}
