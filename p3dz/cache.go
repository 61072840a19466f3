package p3dz

import (
	"context"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/opencontainers/go-digest"

	"github.com/flaneur2020/p3dz-get/p3dz/logger"
)

// DefaultCacheSize is the number of decompressed files a Cache keeps.
const DefaultCacheSize = 64

// Cache remembers decompressed containers by the digest of their compressed
// bytes. Game dumps often ship the same container under several names; those
// are decoded once.
type Cache struct {
	decoder ContainerDecoder
	entries *lru.Cache[digest.Digest, []byte]

	hits   atomic.Int64
	misses atomic.Int64
}

var _ ContainerDecoder = (*Cache)(nil)

// NewCache wraps decoder with an LRU holding up to size results.
func NewCache(decoder ContainerDecoder, size int) (*Cache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	entries, err := lru.New[digest.Digest, []byte](size)
	if err != nil {
		return nil, err
	}
	return &Cache{
		decoder: decoder,
		entries: entries,
	}, nil
}

// Decompress returns the cached result for data or decodes it. Callers own
// the returned slice.
func (c *Cache) Decompress(ctx context.Context, data []byte) ([]byte, error) {
	key := digest.FromBytes(data)
	if out, ok := c.entries.Get(key); ok {
		c.hits.Add(1)
		logger.Debug("cache hit for %s", key)
		return append([]byte(nil), out...), nil
	}

	c.misses.Add(1)
	out, err := c.decoder.Decompress(ctx, data)
	if err != nil {
		return nil, err
	}
	c.entries.Add(key, append([]byte(nil), out...))
	return out, nil
}

// Stats returns the number of cache hits and misses so far.
func (c *Cache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Len returns the number of cached results.
func (c *Cache) Len() int {
	return c.entries.Len()
}
