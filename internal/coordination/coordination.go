// Package coordination wraps an etcd client with the primitives every DNA
// role needs to coordinate through a shared distributed KV store (spec.md
// section 4.8): locks with lease keep-alive, a flat get/put/delete KV
// surface, prefix watches, and a compare-and-fail options namespace.
package coordination

import (
	"context"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"

	"github.com/apibara/dna/internal/dnaerr"
)

// Client wraps a clientv3.Client with the subset of behavior DNA roles use.
type Client struct {
	etcd *clientv3.Client
}

// Config mirrors the fields a cmd/dna flag set would fill in.
type Config struct {
	Endpoints   []string
	DialTimeout time.Duration
}

// New dials etcd using cfg.
func New(cfg Config) (*Client, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, dnaerr.New(dnaerr.Configuration, "coordination: no etcd endpoints configured")
	}
	dialTimeout := cfg.DialTimeout
	if dialTimeout == 0 {
		dialTimeout = 5 * time.Second
	}
	c, err := clientv3.New(clientv3.Config{Endpoints: cfg.Endpoints, DialTimeout: dialTimeout})
	if err != nil {
		return nil, dnaerr.Wrap(dnaerr.Temporary, err, "coordination: dial etcd")
	}
	return &Client{etcd: c}, nil
}

// Close releases the underlying etcd connection.
func (c *Client) Close() error { return c.etcd.Close() }

// Get returns the value stored at key, and false if the key is absent.
func (c *Client) Get(ctx context.Context, key string) ([]byte, bool, error) {
	resp, err := c.etcd.Get(ctx, key)
	if err != nil {
		return nil, false, dnaerr.Wrap(dnaerr.Temporary, err, "coordination: get "+key)
	}
	if len(resp.Kvs) == 0 {
		return nil, false, nil
	}
	return resp.Kvs[0].Value, true, nil
}

// Put writes value at key unconditionally.
func (c *Client) Put(ctx context.Context, key string, value []byte) error {
	if _, err := c.etcd.Put(ctx, key, string(value)); err != nil {
		return dnaerr.Wrap(dnaerr.Temporary, err, "coordination: put "+key)
	}
	return nil
}

// Delete removes key.
func (c *Client) Delete(ctx context.Context, key string) error {
	if _, err := c.etcd.Delete(ctx, key); err != nil {
		return dnaerr.Wrap(dnaerr.Temporary, err, "coordination: delete "+key)
	}
	return nil
}

// WatchEvent is one prefix-watch notification.
type WatchEvent struct {
	Key     string
	Value   []byte
	Deleted bool
}

// Watch streams every change under prefix until ctx is cancelled. The
// returned channel is closed when the watch ends.
func (c *Client) Watch(ctx context.Context, prefix string) <-chan WatchEvent {
	out := make(chan WatchEvent)
	watchChan := c.etcd.Watch(ctx, prefix, clientv3.WithPrefix())
	go func() {
		defer close(out)
		for resp := range watchChan {
			for _, ev := range resp.Events {
				event := WatchEvent{Key: string(ev.Kv.Key), Value: ev.Kv.Value, Deleted: ev.Type == clientv3.EventTypeDelete}
				select {
				case out <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// Lock is a held distributed lock; call Unlock to release it. The session
// backing the lock renews its lease automatically until ctx driving the
// session is cancelled, mirroring the keep_alive loop the reference
// implementation runs alongside a held lock.
type Lock struct {
	mu      sync.Mutex
	session *concurrency.Session
	mutex   *concurrency.Mutex
	name    string
}

// AcquireLock blocks until name is acquired or ctx is cancelled.
func (c *Client) AcquireLock(ctx context.Context, name string, leaseTTLSeconds int) (*Lock, error) {
	session, err := concurrency.NewSession(c.etcd, concurrency.WithTTL(leaseTTLSeconds), concurrency.WithContext(ctx))
	if err != nil {
		return nil, dnaerr.Wrap(dnaerr.Temporary, err, "coordination: create lock session")
	}
	mutex := concurrency.NewMutex(session, "/dna/locks/"+name)
	if err := mutex.Lock(ctx); err != nil {
		session.Close()
		return nil, dnaerr.Wrap(dnaerr.Temporary, err, "coordination: acquire lock "+name)
	}
	return &Lock{session: session, mutex: mutex, name: name}, nil
}

// Unlock releases the lock and closes its backing session.
func (l *Lock) Unlock(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.mutex.Unlock(ctx); err != nil {
		return dnaerr.Wrap(dnaerr.Temporary, err, "coordination: unlock "+l.name)
	}
	return l.session.Close()
}

// Done reports a channel closed when the lock's underlying session expires
// (e.g. the process lost its lease), matching the "Grouper's next
// keep_alive fails" failure mode spec.md section 8 requires the supervisor
// to detect and react to.
func (l *Lock) Done() <-chan struct{} {
	return l.session.Done()
}
