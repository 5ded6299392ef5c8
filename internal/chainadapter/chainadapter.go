// Package chainadapter defines the narrow interface the core pipeline uses
// to fetch chain data. Concrete chain-specific RPC bindings (EVM, Starknet,
// Beacon) are explicitly out of scope (spec.md section 1): this package
// only specifies the shape every adapter must implement, plus the index/
// join metadata an adapter attaches to its fragments so the generic
// indexing engine never needs chain-specific knowledge.
package chainadapter

import (
	"context"

	"github.com/apibara/dna/internal/cursor"
	"github.com/apibara/dna/internal/fragment"
)

// HeadEvent is one head announcement from the chain-specific provider,
// consumed by the Ingestor to drive chain-view reconciliation.
type HeadEvent struct {
	Cursor     cursor.Cursor
	ParentHash []byte
}

// Adapter fetches blocks and head announcements for one chain. Every
// method is safe to call concurrently; fetch errors should be classified
// with dnaerr so the ingestor's retry loop can tell transient RPC hiccups
// from configuration problems.
type Adapter interface {
	// FetchBlock retrieves one block's full fragment set (header + body +
	// index + join) at the given cursor.
	FetchBlock(ctx context.Context, c cursor.Cursor) (*fragment.Block, error)

	// FetchParent retrieves the parent cursor of the block at c, used by
	// the chain view to walk back competing branches during reorg
	// resolution without needing its own chain-specific RPC knowledge.
	FetchParent(ctx context.Context, c cursor.Cursor) (cursor.Cursor, error)

	// Heads streams head announcements until ctx is cancelled. The channel
	// is closed when the adapter stops producing events, whether due to
	// cancellation or a fatal error (reported separately via the returned
	// error channel).
	Heads(ctx context.Context) (<-chan HeadEvent, <-chan error)

	// FinalizedCursor returns the chain's current finalized cursor.
	FinalizedCursor(ctx context.Context) (cursor.Cursor, error)
}
