package exr

import (
	"encoding/binary"
	"sync/atomic"

	"github.com/coocood/freecache"

	"github.com/mrjoshuak/go-openexr-deep/internal/log"
)

// sampleCountCache keeps the decoded per-pixel counts of chunks, keyed by
// chunk index. Entries too large for the cache are simply not kept.
type sampleCountCache struct {
	cache  *freecache.Cache
	hits   uint64
	misses uint64
}

func newSampleCountCache(bytes int) *sampleCountCache {
	log.Debugf("exr: sample count cache of %d bytes", bytes)
	return &sampleCountCache{cache: freecache.NewCache(bytes)}
}

func chunkKey(idx int) []byte {
	var k [8]byte
	binary.LittleEndian.PutUint64(k[:], uint64(idx))
	return k[:]
}

// get returns the counts of a chunk, or nil.
func (c *sampleCountCache) get(idx int) []uint32 {
	if c == nil {
		return nil
	}
	b, err := c.cache.Get(chunkKey(idx))
	if err != nil {
		atomic.AddUint64(&c.misses, 1)
		return nil
	}
	atomic.AddUint64(&c.hits, 1)
	counts := make([]uint32, len(b)/4)
	for i := range counts {
		counts[i] = binary.LittleEndian.Uint32(b[4*i:])
	}
	return counts
}

func (c *sampleCountCache) put(idx int, counts []uint32) {
	if c == nil {
		return
	}
	b := make([]byte, 4*len(counts))
	for i, n := range counts {
		binary.LittleEndian.PutUint32(b[4*i:], n)
	}
	if err := c.cache.Set(chunkKey(idx), b, 0); err != nil {
		log.Debugf("exr: not caching counts of chunk %d: %v", idx, err)
	}
}

// stats returns the hit and miss counts.
func (c *sampleCountCache) stats() (hits, misses uint64) {
	if c == nil {
		return 0, 0
	}
	return atomic.LoadUint64(&c.hits), atomic.LoadUint64(&c.misses)
}
