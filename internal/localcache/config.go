package localcache

import "privacygate/internal/logger"

// Config controls how New builds a Cache.
type Config struct {
	// Path is the bbolt database file path. Empty means in-memory only
	// (used in tests and when persistence is not configured).
	Path string

	// Capacity is the maximum number of items the S3-FIFO layer keeps hot.
	// Zero or negative disables the S3-FIFO wrapper entirely; the returned
	// Cache then talks to the backing store directly on every call.
	Capacity int
}

// New builds a Cache per cfg. If cfg.Path is empty the backing store is an
// in-memory map; otherwise it is a bbolt database at cfg.Path. If
// cfg.Capacity > 0 the backing store is wrapped with an S3-FIFO in-memory
// eviction layer.
func New(cfg Config, log *logger.Logger) (Cache, error) {
	var backing Cache
	if cfg.Path == "" {
		backing = newMemoryCache()
	} else {
		var err error
		backing, err = newBboltCache(cfg.Path, log)
		if err != nil {
			return nil, err
		}
	}

	if cfg.Capacity > 0 {
		return newS3FIFOCache(backing, cfg.Capacity, log), nil
	}
	return backing, nil
}
