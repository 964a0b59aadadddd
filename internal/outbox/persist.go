package outbox

import (
	"sort"
	"sync"
	"time"

	"github.com/emberapp/ember/internal/store"
)

// Record is the persisted form of an Entry.
type Record struct {
	Seq        uint64
	Kind       string
	Frame      []byte
	EnqueuedAt time.Time
}

// Persister stores queued events so they survive a daemon restart.
type Persister interface {
	Load() ([]Record, error)
	Append(Record) error
	Remove(seq uint64) error
	Close() error
}

// MemoryPersister keeps records in memory only.
type MemoryPersister struct {
	mu      sync.Mutex
	records map[uint64]Record
}

func NewMemoryPersister() *MemoryPersister {
	return &MemoryPersister{records: make(map[uint64]Record)}
}

func (p *MemoryPersister) Load() ([]Record, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Record, 0, len(p.records))
	for _, r := range p.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (p *MemoryPersister) Append(r Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.records[r.Seq] = r
	return nil
}

func (p *MemoryPersister) Remove(seq uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.records, seq)
	return nil
}

func (p *MemoryPersister) Close() error { return nil }

// SQLitePersister stores records in the session database's outbox table.
type SQLitePersister struct {
	db *store.DB
}

func NewSQLitePersister(db *store.DB) *SQLitePersister {
	return &SQLitePersister{db: db}
}

func (p *SQLitePersister) Load() ([]Record, error) {
	rows, err := p.db.LoadOutbox()
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(rows))
	for _, r := range rows {
		out = append(out, Record{Seq: r.Seq, Kind: r.Kind, Frame: r.Frame, EnqueuedAt: r.EnqueuedAt})
	}
	return out, nil
}

func (p *SQLitePersister) Append(r Record) error {
	return p.db.AppendOutbox(store.OutboxRecord{Seq: r.Seq, Kind: r.Kind, Frame: r.Frame, EnqueuedAt: r.EnqueuedAt})
}

func (p *SQLitePersister) Remove(seq uint64) error {
	return p.db.RemoveOutbox(seq)
}

// Close is a no-op; the database is owned by the daemon.
func (p *SQLitePersister) Close() error { return nil }
