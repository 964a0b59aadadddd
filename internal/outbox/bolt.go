package outbox

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketName = []byte("outbox")

// BoltPersister stores records in a dedicated bbolt file, keyed by the
// big-endian sequence number so cursor order equals enqueue order.
type BoltPersister struct {
	db *bolt.DB
}

type boltValue struct {
	Kind       string    `json:"kind"`
	Frame      []byte    `json:"frame"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// OpenBolt opens (or creates) the queue file at path.
func OpenBolt(path string) (*BoltPersister, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt queue: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}
	return &BoltPersister{db: db}, nil
}

func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}

func (p *BoltPersister) Load() ([]Record, error) {
	var out []Record
	err := p.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).ForEach(func(k, v []byte) error {
			var bv boltValue
			if err := json.Unmarshal(v, &bv); err != nil {
				return fmt.Errorf("decode record %x: %w", k, err)
			}
			out = append(out, Record{
				Seq:        binary.BigEndian.Uint64(k),
				Kind:       bv.Kind,
				Frame:      bv.Frame,
				EnqueuedAt: bv.EnqueuedAt,
			})
			return nil
		})
	})
	return out, err
}

func (p *BoltPersister) Append(r Record) error {
	v, err := json.Marshal(boltValue{Kind: r.Kind, Frame: r.Frame, EnqueuedAt: r.EnqueuedAt})
	if err != nil {
		return err
	}
	return p.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put(seqKey(r.Seq), v)
	})
}

func (p *BoltPersister) Remove(seq uint64) error {
	return p.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Delete(seqKey(seq))
	})
}

func (p *BoltPersister) Close() error {
	return p.db.Close()
}
