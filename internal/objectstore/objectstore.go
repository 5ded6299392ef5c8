// Package objectstore abstracts the content-addressed object storage used
// for per-block blobs, segments, and segment groups (spec.md section 3).
// A Store is safe for concurrent use; backends wrap a cloud SDK client the
// teacher's stack already favors for this kind of I/O-bound facade.
package objectstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/apibara/dna/internal/dnaerr"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("objectstore: not found")

// ErrPreconditionFailed is returned by Put when a Create or Update
// precondition does not hold (the object already exists, or its etag does
// not match), mirroring the If-None-Match/If-Match semantics spec.md
// section 4.8 requires of the options namespace and of idempotent
// segment/group uploads.
var ErrPreconditionFailed = errors.New("objectstore: precondition failed")

// ETag is an opaque, backend-assigned object version identifier.
type ETag string

// PutMode selects the conditional-write behavior of Put.
type PutMode int

const (
	// Overwrite writes unconditionally.
	Overwrite PutMode = iota
	// Create fails if an object already exists at the key (If-None-Match: *).
	Create
	// Update fails unless the stored object's etag matches MatchETag (If-Match).
	Update
)

// PutOptions configures a single Put call.
type PutOptions struct {
	Mode     PutMode
	MatchETag ETag // only consulted when Mode == Update
}

// GetOptions configures a single Get call.
type GetOptions struct {
	MatchETag ETag // if set, only return the object if its etag matches
}

// Store is the facade every DNA role uses to read and write objects,
// independent of the concrete backend (local disk, S3, Azure Blob, or any
// S3-compatible endpoint via minio).
type Store interface {
	// Get fetches an object's bytes and current etag.
	Get(ctx context.Context, key string, opts GetOptions) ([]byte, ETag, error)
	// Put writes an object, honoring opts.Mode, and returns its new etag.
	Put(ctx context.Context, key string, body []byte, opts PutOptions) (ETag, error)
	// Delete removes an object. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// List returns every key with the given prefix, sorted ascending.
	List(ctx context.Context, prefix string) ([]string, error)
}

// wrapErr tags backend errors with a dnaerr.Kind so callers up the stack
// (ingestor, compactor, datastream loops) can decide retry vs. abort
// without knowing which backend is in use.
func wrapErr(op, key string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrPreconditionFailed) {
		return dnaerr.Wrapf(dnaerr.Client, err, "objectstore: %s %s", op, key)
	}
	return dnaerr.Wrapf(dnaerr.Temporary, err, "objectstore: %s %s", op, key)
}

// New constructs a Store for the given backend kind and DSN-like target,
// used by cmd/dna to build a Store from a single --storage flag (e.g.
// "file:///var/dna/data", "s3://bucket", "az://account/container",
// "minio://endpoint/bucket").
func New(ctx context.Context, target string) (Store, error) {
	scheme, rest, err := splitTarget(target)
	if err != nil {
		return nil, err
	}
	switch scheme {
	case "file":
		return NewLocalStore(rest)
	case "s3":
		return NewS3Store(ctx, rest)
	case "az":
		return NewAzureStore(ctx, rest)
	case "minio":
		return NewMinioStore(ctx, rest)
	default:
		return nil, dnaerr.New(dnaerr.Configuration, fmt.Sprintf("objectstore: unknown scheme %q", scheme))
	}
}

func splitTarget(target string) (scheme, rest string, err error) {
	for i := 0; i+2 < len(target); i++ {
		if target[i] == ':' && target[i+1] == '/' && target[i+2] == '/' {
			return target[:i], target[i+3:], nil
		}
	}
	return "", "", dnaerr.New(dnaerr.Configuration, fmt.Sprintf("objectstore: malformed target %q, expected scheme://rest", target))
}
