package cache

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/y0ug/contentscan/internal/models"
	"go.etcd.io/bbolt"
)

var (
	verdictsBucket = []byte("Verdicts")
	orderBucket    = []byte("Order")
)

type boltRecord struct {
	Verdict  models.ScanVerdict `json:"verdict"`
	StoredAt time.Time          `json:"stored_at"`
	Seq      uint64             `json:"seq"`
}

// BoltCache keeps verdicts in a bbolt file instead of on the heap. The file
// is truncated on open and removed on Close, so its contents live exactly as
// long as the process. Order maps insertion sequence to fingerprint and is
// used to drop the oldest entries when MaxEntries is exceeded.
type BoltCache struct {
	db     *bbolt.DB
	path   string
	policy EvictionPolicy
	logger *logrus.Logger

	mu    sync.Mutex // serializes Put so count stays exact
	count int
	now   func() time.Time
}

// NewBoltCache creates a fresh bolt file at path.
func NewBoltCache(path string, policy EvictionPolicy, logger *logrus.Logger) (*BoltCache, error) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to remove stale cache file: %w", err)
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}

	b := &BoltCache{
		db:     db,
		path:   path,
		policy: policy,
		logger: logger,
		now:    time.Now,
	}

	if err := b.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return b, nil
}

func (b *BoltCache) initialize() error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(verdictsBucket); err != nil {
			return fmt.Errorf("create Verdicts bucket: %v", err)
		}
		if _, err := tx.CreateBucketIfNotExists(orderBucket); err != nil {
			return fmt.Errorf("create Order bucket: %v", err)
		}
		return nil
	})
}

// Get retrieves a verdict, dropping it if it has expired.
func (b *BoltCache) Get(ctx context.Context, f models.Fingerprint) (models.ScanVerdict, bool, error) {
	var record boltRecord
	found := false

	err := b.db.View(func(tx *bbolt.Tx) error {
		val := tx.Bucket(verdictsBucket).Get([]byte(f))
		if val == nil {
			return nil
		}
		found = true
		return json.Unmarshal(val, &record)
	})
	if err != nil {
		return models.ScanVerdict{}, false, fmt.Errorf("failed to read verdict: %w", err)
	}
	if !found {
		return models.ScanVerdict{}, false, nil
	}

	if b.policy.Expired(record.StoredAt, b.now()) {
		b.mu.Lock()
		defer b.mu.Unlock()
		removed := 0
		err := b.db.Update(func(tx *bbolt.Tx) error {
			deleted, err := deleteRecord(tx, f, record.Seq)
			if deleted {
				removed = 1
			}
			return err
		})
		if err != nil {
			b.logger.WithError(err).WithField("secret", f.Redact()).Warn("Failed to drop expired verdict")
		} else {
			b.count -= removed
		}
		return models.ScanVerdict{}, false, nil
	}
	return record.Verdict, true, nil
}

// Put stores a verdict unless a live one exists, then trims the oldest
// entries down to MaxEntries.
func (b *BoltCache) Put(ctx context.Context, f models.Fingerprint, verdict models.ScanVerdict) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	count := b.count
	err := b.db.Update(func(tx *bbolt.Tx) error {
		verdicts := tx.Bucket(verdictsBucket)
		order := tx.Bucket(orderBucket)

		if val := verdicts.Get([]byte(f)); val != nil {
			var existing boltRecord
			if err := json.Unmarshal(val, &existing); err != nil {
				return fmt.Errorf("failed to unmarshal existing verdict: %w", err)
			}
			if !b.policy.Expired(existing.StoredAt, now) {
				return nil
			}
			deleted, err := deleteRecord(tx, f, existing.Seq)
			if err != nil {
				return err
			}
			if deleted {
				count--
			}
		}

		seq, err := order.NextSequence()
		if err != nil {
			return err
		}
		data, err := json.Marshal(boltRecord{Verdict: verdict, StoredAt: now, Seq: seq})
		if err != nil {
			return fmt.Errorf("failed to marshal ScanVerdict: %w", err)
		}
		if err := verdicts.Put([]byte(f), data); err != nil {
			return err
		}
		if err := order.Put(seqKey(seq), []byte(f)); err != nil {
			return err
		}
		count++

		c := order.Cursor()
		for b.policy.Overflow(count) > 0 {
			k, v := c.First()
			if k == nil {
				break
			}
			oldest := append([]byte(nil), k...)
			deleted, err := deleteRecord(tx, models.Fingerprint(v), binary.BigEndian.Uint64(oldest))
			if err != nil {
				return err
			}
			if deleted {
				count--
				continue
			}
			// Order entry with no matching verdict.
			if err := order.Delete(oldest); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store verdict: %w", err)
	}
	b.count = count
	return nil
}

// deleteRecord removes f only if it is still the record written at seq.
func deleteRecord(tx *bbolt.Tx, f models.Fingerprint, seq uint64) (bool, error) {
	verdicts := tx.Bucket(verdictsBucket)
	val := verdicts.Get([]byte(f))
	if val == nil {
		return false, nil
	}
	var current boltRecord
	if err := json.Unmarshal(val, &current); err != nil {
		return false, fmt.Errorf("failed to unmarshal verdict: %w", err)
	}
	if current.Seq != seq {
		return false, nil
	}
	if err := verdicts.Delete([]byte(f)); err != nil {
		return false, err
	}
	if err := tx.Bucket(orderBucket).Delete(seqKey(seq)); err != nil {
		return false, err
	}
	return true, nil
}

// Clear recreates both buckets.
func (b *BoltCache) Clear(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	err := b.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{verdictsBucket, orderBucket} {
			if err := tx.DeleteBucket(name); err != nil && err != bbolt.ErrBucketNotFound {
				return err
			}
			if _, err := tx.CreateBucket(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to clear bolt cache: %w", err)
	}
	b.count = 0
	return nil
}

// Len returns the number of stored entries.
func (b *BoltCache) Len(ctx context.Context) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count, nil
}

// Close closes the database and removes its file.
func (b *BoltCache) Close(ctx context.Context) error {
	if err := b.db.Close(); err != nil {
		return err
	}
	return os.Remove(b.path)
}

func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}
