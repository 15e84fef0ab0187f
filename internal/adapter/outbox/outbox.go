package outbox

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/olyamironova/matching-core/internal/domain"
	"github.com/olyamironova/matching-core/internal/port"
	"github.com/segmentio/encoding/json"
)

var _ port.Publisher = (*Outbox)(nil)

var prefix = []byte("trade/")

// Record is one trade waiting to be relayed. Key is the market, used as the
// partition key downstream.
type Record struct {
	Seq     uint64
	Key     []byte
	Payload []byte
}

type entry struct {
	Market  string `json:"m"`
	Payload []byte `json:"p"`
}

// Outbox is a durable FIFO of executed trades backed by pebble. Trades are
// written synchronously under a monotonically increasing sequence and stay
// until acknowledged.
type Outbox struct {
	db *pebble.DB

	mu  sync.Mutex
	seq uint64
}

// Open opens or creates the outbox in dir. A nil fs means the OS filesystem.
func Open(dir string, fs vfs.FS) (*Outbox, error) {
	opts := &pebble.Options{}
	if fs != nil {
		opts.FS = fs
	}
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("outbox: open %s: %w", dir, err)
	}
	o := &Outbox{db: db}
	if o.seq, err = o.lastSeq(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return o, nil
}

func (o *Outbox) Close() error {
	return o.db.Close()
}

func (o *Outbox) lastSeq() (uint64, error) {
	iter, err := o.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: upperBound(),
	})
	if err != nil {
		return 0, fmt.Errorf("outbox: iter: %w", err)
	}
	defer iter.Close()
	if !iter.Last() {
		return 0, iter.Error()
	}
	return parseKey(iter.Key())
}

// PublishTrades appends trades in one synced batch.
func (o *Outbox) PublishTrades(_ context.Context, trades []*domain.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	b := o.db.NewBatch()
	defer b.Close()
	seq := o.seq
	for _, t := range trades {
		payload, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("outbox: encode trade %s: %w", t.ID, err)
		}
		val, err := json.Marshal(entry{Market: t.Market, Payload: payload})
		if err != nil {
			return fmt.Errorf("outbox: encode entry: %w", err)
		}
		seq++
		if err := b.Set(keyFor(seq), val, nil); err != nil {
			return fmt.Errorf("outbox: stage: %w", err)
		}
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("outbox: commit: %w", err)
	}
	o.seq = seq
	return nil
}

// Pending returns up to limit unacknowledged records, oldest first.
func (o *Outbox) Pending(limit int) ([]Record, error) {
	iter, err := o.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: upperBound(),
	})
	if err != nil {
		return nil, fmt.Errorf("outbox: iter: %w", err)
	}
	defer iter.Close()

	var out []Record
	for iter.First(); iter.Valid(); iter.Next() {
		if limit > 0 && len(out) >= limit {
			break
		}
		seq, err := parseKey(iter.Key())
		if err != nil {
			return nil, err
		}
		var e entry
		if err := json.Unmarshal(iter.Value(), &e); err != nil {
			return nil, fmt.Errorf("outbox: decode %d: %w", seq, err)
		}
		out = append(out, Record{Seq: seq, Key: []byte(e.Market), Payload: e.Payload})
	}
	return out, iter.Error()
}

// Ack removes delivered records.
func (o *Outbox) Ack(seqs ...uint64) error {
	if len(seqs) == 0 {
		return nil
	}
	b := o.db.NewBatch()
	defer b.Close()
	for _, s := range seqs {
		if err := b.Delete(keyFor(s), nil); err != nil {
			return fmt.Errorf("outbox: stage delete: %w", err)
		}
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("outbox: ack: %w", err)
	}
	return nil
}

// key layout: "trade/" + 8-byte big-endian sequence, so byte order is FIFO order.
func keyFor(seq uint64) []byte {
	k := make([]byte, len(prefix)+8)
	copy(k, prefix)
	binary.BigEndian.PutUint64(k[len(prefix):], seq)
	return k
}

func parseKey(k []byte) (uint64, error) {
	if len(k) != len(prefix)+8 {
		return 0, errors.New("outbox: malformed key")
	}
	return binary.BigEndian.Uint64(k[len(prefix):]), nil
}

func upperBound() []byte {
	ub := append([]byte(nil), prefix...)
	ub[len(ub)-1]++
	return ub
}
