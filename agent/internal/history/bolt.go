package history

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.etcd.io/bbolt"

	"github.com/pilot-net/cachet-agent/pkg/types"
)

var (
	resultsBucket = []byte("results") // component id -> nested bucket of seq -> result
	latestBucket  = []byte("latest")  // component id -> result
)

// BoltRecorder keeps results in a local bbolt file.
type BoltRecorder struct {
	db         *bbolt.DB
	path       string
	maxEntries int
	logger     *slog.Logger
}

// NewBoltRecorder opens (or creates) the database at path. maxEntries bounds
// the results kept per component; 0 keeps everything.
func NewBoltRecorder(path string, maxEntries int, logger *slog.Logger) (*BoltRecorder, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating history directory: %w", err)
		}
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening history database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{resultsBucket, latestBucket} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("creating bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("history database opened", "backend", "bolt", "path", path)
	return &BoltRecorder{db: db, path: path, maxEntries: maxEntries, logger: logger}, nil
}

// Record appends r to its component's bucket and trims old entries.
func (b *BoltRecorder) Record(ctx context.Context, r types.CheckResult) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshaling result: %w", err)
	}
	key := componentKey(r.ComponentID)

	return b.db.Update(func(tx *bbolt.Tx) error {
		comp, err := tx.Bucket(resultsBucket).CreateBucketIfNotExists(key)
		if err != nil {
			return err
		}

		seq, err := comp.NextSequence()
		if err != nil {
			return err
		}
		if err := comp.Put(seqKey(seq), data); err != nil {
			return err
		}

		if b.maxEntries > 0 {
			n := 0
			c := comp.Cursor()
			for k, _ := c.First(); k != nil; k, _ = c.Next() {
				n++
			}
			var stale [][]byte
			for k, _ := c.First(); k != nil && n-len(stale) > b.maxEntries; k, _ = c.Next() {
				stale = append(stale, append([]byte(nil), k...))
			}
			for _, k := range stale {
				if err := comp.Delete(k); err != nil {
					return err
				}
			}
		}

		return tx.Bucket(latestBucket).Put(key, data)
	})
}

// Recent returns up to limit results for the component, newest first.
func (b *BoltRecorder) Recent(ctx context.Context, componentID int, limit int) ([]types.CheckResult, error) {
	var out []types.CheckResult

	err := b.db.View(func(tx *bbolt.Tx) error {
		comp := tx.Bucket(resultsBucket).Bucket(componentKey(componentID))
		if comp == nil {
			return nil
		}
		c := comp.Cursor()
		for k, v := c.Last(); k != nil && (limit <= 0 || len(out) < limit); k, v = c.Prev() {
			var r types.CheckResult
			if err := json.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("decoding result %x: %w", k, err)
			}
			out = append(out, r)
		}
		return nil
	})

	return out, err
}

// Latest returns the newest result of every component.
func (b *BoltRecorder) Latest(ctx context.Context) ([]types.CheckResult, error) {
	var out []types.CheckResult
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(latestBucket).ForEach(func(k, v []byte) error {
			var r types.CheckResult
			if err := json.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("decoding latest %s: %w", k, err)
			}
			out = append(out, r)
			return nil
		})
	})
	return out, err
}

func (b *BoltRecorder) Backend() string { return "bolt" }

func (b *BoltRecorder) Close() error {
	return b.db.Close()
}

func componentKey(id int) []byte {
	return []byte(strconv.Itoa(id))
}

// seqKey encodes a sequence big-endian so cursor order is insertion order.
func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}
