package marketdata

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const cacheBucket = "series_cache"

// Cache is the TTL'd series store consulted before any live fetch.
type Cache interface {
	// Get returns the cached series for the key if it exists and is still
	// within its freshness window.
	Get(ticker string, iv Interval) (Series, bool, error)

	// Put stores a freshly fetched series, overwriting any existing entry
	// with the same (ticker, interval, params) key.
	Put(ticker string, iv Interval, series Series, fetchedAt time.Time) error

	// PruneOlderThan deletes every entry fetched more than the given number
	// of days ago and returns how many were removed.
	PruneOlderThan(days int) (int, error)

	// Close closes the underlying store
	Close() error
}

// freshnessWindow is the maximum age at which a cached series is usable
// without re-fetching. Coarser granularities change more slowly and get
// longer windows.
func freshnessWindow(iv Interval) time.Duration {
	switch iv.Granularity {
	case "m":
		return 30 * 24 * time.Hour
	case "w":
		return 7 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// cacheEntry is the stored value for one composite key.
type cacheEntry struct {
	FetchedAt time.Time `json:"fetched_at"`
	Points    Series    `json:"points"`
}

// BoltCache implements the Cache interface using BoltDB
type BoltCache struct {
	db  *bbolt.DB
	now func() time.Time
}

// NewBoltCache creates a new BoltCache instance
func NewBoltCache(path string) (*BoltCache, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening cache db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(cacheBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating cache bucket: %w", err)
	}

	return &BoltCache{db: db, now: time.Now}, nil
}

// Get returns the cached series for the key when present and fresh
func (b *BoltCache) Get(ticker string, iv Interval) (Series, bool, error) {
	var entry cacheEntry
	found := false
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(cacheBucket))
		data := bucket.Get([]byte(iv.Key(ticker)))
		if data == nil {
			return nil
		}
		if err := json.Unmarshal(data, &entry); err != nil {
			return fmt.Errorf("unmarshaling cache entry: %w", err)
		}
		found = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if !found || b.now().Sub(entry.FetchedAt) > freshnessWindow(iv) {
		return nil, false, nil
	}
	return entry.Points, true, nil
}

// Put stores a series under the composite key, overwriting any existing
// entry
func (b *BoltCache) Put(ticker string, iv Interval, series Series, fetchedAt time.Time) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(cacheBucket))
		data, err := json.Marshal(cacheEntry{FetchedAt: fetchedAt, Points: series})
		if err != nil {
			return fmt.Errorf("marshaling cache entry: %w", err)
		}
		return bucket.Put([]byte(iv.Key(ticker)), data)
	})
}

// PruneOlderThan deletes entries fetched more than days ago
func (b *BoltCache) PruneOlderThan(days int) (int, error) {
	cutoff := b.now().AddDate(0, 0, -days)
	removed := 0
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(cacheBucket))
		stale := make([][]byte, 0)
		err := bucket.ForEach(func(k, v []byte) error {
			var entry cacheEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				// An unreadable entry is useless; sweep it too
				stale = append(stale, append([]byte(nil), k...))
				return nil
			}
			if entry.FetchedAt.Before(cutoff) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
		removed = len(stale)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("pruning series cache: %w", err)
	}
	return removed, nil
}

// Close closes the underlying store
func (b *BoltCache) Close() error {
	return b.db.Close()
}
