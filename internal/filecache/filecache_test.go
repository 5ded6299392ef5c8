package filecache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/apibara/dna/internal/objectstore"
)

type fakeStore struct {
	mu     sync.Mutex
	data   map[string][]byte
	fetches int32
}

func newFakeStore(data map[string][]byte) *fakeStore {
	return &fakeStore{data: data}
}

func (s *fakeStore) Get(ctx context.Context, key string, opts objectstore.GetOptions) ([]byte, objectstore.ETag, error) {
	atomic.AddInt32(&s.fetches, 1)
	s.mu.Lock()
	defer s.mu.Unlock()
	body, ok := s.data[key]
	if !ok {
		return nil, "", objectstore.ErrNotFound
	}
	return body, "", nil
}

func (s *fakeStore) Put(ctx context.Context, key string, body []byte, opts objectstore.PutOptions) (objectstore.ETag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = body
	return "", nil
}

func (s *fakeStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *fakeStore) List(ctx context.Context, prefix string) ([]string, error) { return nil, nil }

var _ objectstore.Store = (*fakeStore)(nil)

func TestGetFetchesOnceAndCachesThereafter(t *testing.T) {
	store := newFakeStore(map[string][]byte{"segment/a": []byte("hello")})
	dir := t.TempDir()
	cache, err := New(store, dir, 1<<20)
	require.NoError(t, err)
	defer cache.Close()

	entry, hit, err := cache.Get(context.Background(), "segment/a")
	require.NoError(t, err)
	require.False(t, hit)
	require.Equal(t, []byte("hello"), entry.Bytes())

	entry2, hit, err := cache.Get(context.Background(), "segment/a")
	require.NoError(t, err)
	require.True(t, hit)
	require.Equal(t, []byte("hello"), entry2.Bytes())

	require.EqualValues(t, 1, atomic.LoadInt32(&store.fetches))
}

func TestGetDeduplicatesConcurrentFetches(t *testing.T) {
	store := newFakeStore(map[string][]byte{"segment/a": []byte("hello")})
	dir := t.TempDir()
	cache, err := New(store, dir, 1<<20)
	require.NoError(t, err)
	defer cache.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := cache.Get(context.Background(), "segment/a")
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	require.EqualValues(t, 1, atomic.LoadInt32(&store.fetches))
}

func TestInsertEvictsLeastRecentlyUsedOverBudget(t *testing.T) {
	store := newFakeStore(map[string][]byte{
		"a": []byte("12345"),
		"b": []byte("12345"),
		"c": []byte("12345"),
	})
	dir := t.TempDir()
	cache, err := New(store, dir, 12)
	require.NoError(t, err)
	defer cache.Close()

	_, _, err = cache.Get(context.Background(), "a")
	require.NoError(t, err)
	_, _, err = cache.Get(context.Background(), "b")
	require.NoError(t, err)
	// touch "a" again so it is more recently used than "b"
	_, _, err = cache.Get(context.Background(), "a")
	require.NoError(t, err)
	_, _, err = cache.Get(context.Background(), "c")
	require.NoError(t, err)

	cache.mu.Lock()
	hasA := cache.lru.Contains("a")
	hasB := cache.lru.Contains("b")
	hasC := cache.lru.Contains("c")
	cache.mu.Unlock()

	require.True(t, hasA)
	require.False(t, hasB)
	require.True(t, hasC)
}

func TestWarmStartReopensEntriesAfterRestart(t *testing.T) {
	store := newFakeStore(map[string][]byte{"segment/a": []byte("hello")})
	dir := t.TempDir()

	cache, err := New(store, dir, 1<<20)
	require.NoError(t, err)
	_, _, err = cache.Get(context.Background(), "segment/a")
	require.NoError(t, err)
	require.NoError(t, cache.Close())

	reopened, err := New(store, dir, 1<<20)
	require.NoError(t, err)
	defer reopened.Close()

	entry, hit, err := reopened.Get(context.Background(), "segment/a")
	require.NoError(t, err)
	require.True(t, hit)
	require.Equal(t, []byte("hello"), entry.Bytes())

	// the warm-started entry must come from disk, not a second fetch
	require.EqualValues(t, 1, atomic.LoadInt32(&store.fetches))
}
