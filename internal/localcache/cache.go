// Package localcache is the cross-checkpoint cache for local-model
// judgements: classification verdicts from the Semantic Detector (§4.2) and
// extraction results from the PII Extractor (§4.4). Both are expensive,
// latency-sensitive calls to the local model; caching by a hash of the
// input content means a recurring message body or tool result is judged
// once, not on every checkpoint that sees it.
//
// Two implementations are provided:
//   - memoryCache — in-memory only, used in tests and when no path is configured.
//   - bboltCache  — embedded key-value store (bbolt), used in production so
//     the cache survives process restarts.
//
// The interface is intentionally minimal: entries are written one at a time
// as local-model calls complete, and read one at a time from the detector/
// extractor hot path. Batch operations and iteration are not needed.
package localcache

import (
	"fmt"
	"sync"

	bolt "go.etcd.io/bbolt"

	"privacygate/internal/logger"
)

// Cache is the local-model judgement cache interface. All implementations
// must be safe for concurrent use.
type Cache interface {
	// Get returns the cached JSON-encoded result for the given content hash,
	// if present.
	Get(hash string) (value string, ok bool)

	// Set stores hash → value. Overwrites any existing entry silently.
	Set(hash, value string)

	// Delete removes hash from the cache, if present.
	Delete(hash string)

	// Close releases any resources held by the cache (e.g. file handles).
	Close() error
}

// --- memoryCache ---------------------------------------------------------

type memoryCache struct {
	store map[string]string
	mu    sync.RWMutex
}

func newMemoryCache() Cache {
	return &memoryCache{store: make(map[string]string)}
}

func (c *memoryCache) Get(hash string) (string, bool) {
	c.mu.RLock()
	v, ok := c.store[hash]
	c.mu.RUnlock()
	return v, ok
}

func (c *memoryCache) Set(hash, value string) {
	c.mu.Lock()
	c.store[hash] = value
	c.mu.Unlock()
}

func (c *memoryCache) Delete(hash string) {
	c.mu.Lock()
	delete(c.store, hash)
	c.mu.Unlock()
}

func (c *memoryCache) Close() error { return nil }

// --- bboltCache ----------------------------------------------------------

const bboltBucket = "localmodel_cache"

// bboltCache is a Cache backed by an embedded bbolt database. Entries
// survive process restarts. The database file is created at the given path
// if it does not exist.
type bboltCache struct {
	db  *bolt.DB
	log *logger.Logger
}

// newBboltCache opens (or creates) the bbolt database at path and ensures
// the bucket exists.
func newBboltCache(path string, log *logger.Logger) (Cache, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open bbolt cache %q: %w", path, err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bboltBucket))
		return err
	}); err != nil {
		db.Close() //nolint:errcheck // best-effort close on init failure
		return nil, fmt.Errorf("create bbolt bucket: %w", err)
	}

	if log != nil {
		log.Infof("open", "persistent local-model cache opened at %s", path)
	}
	return &bboltCache{db: db, log: log}, nil
}

func (c *bboltCache) Get(hash string) (string, bool) {
	var value string
	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bboltBucket))
		if b == nil {
			return nil
		}
		v := b.Get([]byte(hash))
		if v != nil {
			value = string(v)
		}
		return nil
	})
	if err != nil {
		if c.log != nil {
			c.log.Errorf("get", "bbolt Get error: %v", err)
		}
		return "", false
	}
	return value, value != ""
}

func (c *bboltCache) Set(hash, value string) {
	if err := c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bboltBucket))
		if b == nil {
			return fmt.Errorf("bucket %q not found", bboltBucket)
		}
		return b.Put([]byte(hash), []byte(value))
	}); err != nil && c.log != nil {
		c.log.Errorf("set", "bbolt Set error: %v", err)
	}
}

func (c *bboltCache) Delete(hash string) {
	if err := c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bboltBucket))
		if b == nil {
			return nil
		}
		return b.Delete([]byte(hash))
	}); err != nil && c.log != nil {
		c.log.Errorf("delete", "bbolt Delete error: %v", err)
	}
}

func (c *bboltCache) Close() error {
	return c.db.Close()
}
