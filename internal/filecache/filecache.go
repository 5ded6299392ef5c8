// Package filecache implements the server's local, mmap-backed cache of
// segment and group files (spec.md section 4.6): a bounded pool of
// recently-read objects, fetched from the object store at most once per
// key even when many client connections ask for the same segment at once.
package filecache

import (
	"context"
	"encoding/hex"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/edsrzf/mmap-go"
	lru "github.com/hashicorp/golang-lru"
	"github.com/minio/sha256-simd"
	bolt "go.etcd.io/bbolt"

	"github.com/apibara/dna/internal/dnaerr"
	"github.com/apibara/dna/internal/objectstore"
)

var manifestBucket = []byte("entries")

// localName derives the on-disk file name for a cache key. Segment and
// group keys are arbitrarily deep ("segment/<name>/<fragment>"), so hashing
// them keeps the cache directory flat and every file name a fixed length,
// rather than mirroring the object store's key hierarchy on local disk.
func localName(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// Entry is a cached object: its mmap'd bytes plus the backing file, kept
// open for the entry's lifetime. Bytes is only valid while the entry is
// referenced; callers must not retain it past Release.
type Entry struct {
	key  string
	data mmap.MMap
	file *os.File
	size int64
}

// Bytes returns the entry's memory-mapped contents.
func (e *Entry) Bytes() []byte { return e.data }

func (e *Entry) close() error {
	if e.data != nil {
		if err := e.data.Unmap(); err != nil {
			return err
		}
	}
	return e.file.Close()
}

// Cache is a bounded, on-disk, mmap-backed cache in front of an
// objectstore.Store, the way the teacher's validator client caches
// attestation aggregates with `github.com/hashicorp/golang-lru`. The
// library's own Cache tracks recency and membership; since its capacity is
// an entry count rather than a byte budget, it is opened with an
// effectively unbounded count and entry eviction is driven explicitly by
// usedBytes against maxBytes instead. Concurrent Get calls for the same
// key share one fetch.
type Cache struct {
	store    objectstore.Store
	dir      string
	maxBytes int64
	manifest *bolt.DB

	mu        sync.Mutex
	lru       *lru.Cache
	usedBytes int64
	inflight  map[string]chan struct{} // key -> closed when fetch completes
}

// New creates a cache that stores downloaded files under dir (created if
// missing) and keeps at most maxBytes resident before evicting. A small
// manifest database under dir records which keys were resident at the last
// clean shutdown, so a restarted server can warm-start from files already
// on local disk instead of re-downloading everything on the first request.
func New(store objectstore.Store, dir string, maxBytes int64) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, dnaerr.Wrap(dnaerr.Configuration, err, "filecache: create cache dir")
	}

	manifest, err := bolt.Open(filepath.Join(dir, "manifest.db"), 0o644, nil)
	if err != nil {
		return nil, dnaerr.Wrap(dnaerr.Configuration, err, "filecache: open manifest")
	}
	if err := manifest.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(manifestBucket)
		return err
	}); err != nil {
		manifest.Close()
		return nil, dnaerr.Wrap(dnaerr.Configuration, err, "filecache: init manifest bucket")
	}

	c := &Cache{
		store:    store,
		dir:      dir,
		maxBytes: maxBytes,
		manifest: manifest,
		inflight: make(map[string]chan struct{}),
	}
	// math.MaxInt32 entries is not a real cap (byte eviction below always
	// fires first); NewWithEvict just wants a size so golang-lru can size
	// its backing map, and its onEvicted hook is what actually reclaims
	// space and closes entries.
	cache, err := lru.NewWithEvict(math.MaxInt32, c.onEvicted)
	if err != nil {
		manifest.Close()
		return nil, dnaerr.Wrap(dnaerr.Configuration, err, "filecache: create lru")
	}
	c.lru = cache

	c.warmStart()
	return c, nil
}

// onEvicted is golang-lru's eviction callback. It always runs synchronously
// from inside a call the caller made with c.mu held (insertLocked's budget
// loop, or warmStart dropping a stale manifest entry), never concurrently.
func (c *Cache) onEvicted(key, value interface{}) {
	k := key.(string)
	entry := value.(*Entry)
	c.usedBytes -= entry.size
	_ = entry.close()
	_ = os.Remove(filepath.Join(c.dir, localName(k)))
	_ = c.manifest.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(manifestBucket).Delete([]byte(k))
	})
}

// warmStart reopens every entry the manifest lists whose backing file is
// still present on disk, skipping anything that was partially written or
// has since been removed out-of-band.
func (c *Cache) warmStart() {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Collect keys from a read-only manifest pass first: insertLocked below
	// opens its own writable manifest transaction, and bbolt cannot nest a
	// writable transaction inside a read-only one on the same goroutine.
	var keys []string
	_ = c.manifest.View(func(tx *bolt.Tx) error {
		return tx.Bucket(manifestBucket).ForEach(func(k, v []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})

	var stale []string
	for _, key := range keys {
		path := filepath.Join(c.dir, localName(key))
		f, err := os.Open(path)
		if err != nil {
			stale = append(stale, key)
			continue
		}
		info, err := f.Stat()
		if err != nil {
			f.Close()
			stale = append(stale, key)
			continue
		}
		entry := &Entry{key: key, file: f, size: info.Size()}
		if info.Size() > 0 {
			data, err := mmap.Map(f, mmap.RDONLY, 0)
			if err != nil {
				f.Close()
				stale = append(stale, key)
				continue
			}
			entry.data = data
		}
		c.insertLocked(key, entry)
	}
	if len(stale) > 0 {
		_ = c.manifest.Update(func(tx *bolt.Tx) error {
			b := tx.Bucket(manifestBucket)
			for _, key := range stale {
				if err := b.Delete([]byte(key)); err != nil {
					return err
				}
			}
			return nil
		})
	}
}

// Get returns the cached entry for key, downloading it from the object
// store on a miss. Concurrent callers for the same key block behind a
// single download. hit reports whether the entry was already resident
// (false for both a fresh download and a download another goroutine's
// concurrent call deduplicated into).
func (c *Cache) Get(ctx context.Context, key string) (entry *Entry, hit bool, err error) {
	for {
		c.mu.Lock()
		if v, ok := c.lru.Get(key); ok {
			c.mu.Unlock()
			return v.(*Entry), true, nil
		}
		if wait, ok := c.inflight[key]; ok {
			c.mu.Unlock()
			select {
			case <-wait:
				continue
			case <-ctx.Done():
				return nil, false, ctx.Err()
			}
		}
		done := make(chan struct{})
		c.inflight[key] = done
		c.mu.Unlock()

		entry, err := c.fetch(ctx, key)

		c.mu.Lock()
		delete(c.inflight, key)
		close(done)
		if err == nil {
			c.insertLocked(key, entry)
		}
		c.mu.Unlock()

		return entry, false, err
	}
}

func (c *Cache) fetch(ctx context.Context, key string) (*Entry, error) {
	body, _, err := c.store.Get(ctx, key, objectstore.GetOptions{})
	if err != nil {
		return nil, fmt.Errorf("filecache: fetch %s: %w", key, err)
	}

	path := filepath.Join(c.dir, localName(key))
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return nil, dnaerr.Wrap(dnaerr.Temporary, err, "filecache: write cache file")
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, dnaerr.Wrap(dnaerr.Temporary, err, "filecache: reopen cache file")
	}
	if len(body) == 0 {
		return &Entry{key: key, file: f, size: 0}, nil
	}
	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, dnaerr.Wrap(dnaerr.Temporary, err, "filecache: mmap cache file")
	}
	return &Entry{key: key, data: data, file: f, size: int64(len(body))}, nil
}

// insertLocked must be called with c.mu held.
func (c *Cache) insertLocked(key string, entry *Entry) {
	if c.lru.Contains(key) {
		return
	}
	c.lru.Add(key, entry)
	c.usedBytes += entry.size
	_ = c.manifest.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(manifestBucket).Put([]byte(key), []byte{})
	})

	for c.usedBytes > c.maxBytes && c.lru.Len() > 1 {
		c.lru.RemoveOldest() // synchronously invokes onEvicted
	}
}

// Close unmaps and closes every resident entry and the manifest database.
// Entries are left on disk and in the manifest so the next New can warm-
// start from them; Close must not trigger golang-lru's eviction callback,
// which deletes the backing file and manifest entry on every removal.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var firstErr error
	for _, k := range c.lru.Keys() {
		v, ok := c.lru.Peek(k)
		if !ok {
			continue
		}
		if err := v.(*Entry).close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := c.manifest.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
