package datastream

import (
	"context"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/apibara/dna/internal/chainview"
	"github.com/apibara/dna/internal/cursor"
	"github.com/apibara/dna/internal/fragment"
	"github.com/apibara/dna/internal/metrics"
	"github.com/apibara/dna/internal/segment"
	dna "github.com/apibara/dna/proto/dna"
)

const defaultHeartbeatInterval = 30 * time.Second

// Sender abstracts the transport a Stream writes responses to, so the core
// tick loop below never depends on grpc directly; internal/rpcserver adapts
// a grpc.ServerStream to this interface. Send must block until the message
// is queued for delivery, giving the stream's backpressure (spec.md section
// 4.7's "reserve-then-send") real meaning.
type Sender interface {
	Send(ctx context.Context, resp dna.StreamDataResponse) error
}

// groupPayload is what gets msgpack-encoded into one element of a Data
// message's Data slice, one per matched filter group: the raw fragment
// bytes a client needs to decode the entries the group matched, plus which
// entries (and their joined entries) actually matched, so a thin client SDK
// can pick them out without re-running the bitmap search.
type groupPayload struct {
	FilterID uint32
	Header   []byte          `msgpack:",omitempty"`
	Matches  []EntryMatch    `msgpack:",omitempty"`
	Bodies   map[uint8][]byte `msgpack:",omitempty"` // fragment.Tag -> raw fragment bytes
}

// Stream drives one client connection's tick loop: resolve the next
// cursor against the chain view, pick the cheapest available tier, check
// candidacy before paying for a full decode, and emit exactly one message
// per matching block (spec.md section 4.7).
type Stream struct {
	id      uint64
	reader  *cachedReader
	view    *chainview.ChainView
	opts    segment.Options
	filter  Filter
	matcher EntryMatcher
	tags    []fragment.Tag // body fragment tags the filter ever needs to load

	heartbeatInterval time.Duration
	sender            Sender

	current cursor.Cursor
}

// NewStream builds a Stream starting just after startingCursor (or from
// genesis if startingCursor is the zero cursor).
func NewStream(id uint64, reader *cachedReader, view *chainview.ChainView, opts segment.Options, filter Filter, matcher EntryMatcher, heartbeatInterval time.Duration, sender Sender, startingCursor cursor.Cursor) *Stream {
	if heartbeatInterval <= 0 {
		heartbeatInterval = defaultHeartbeatInterval
	}
	return &Stream{
		id:                id,
		reader:            reader,
		view:              view,
		opts:              opts,
		filter:            filter,
		matcher:           matcher,
		tags:              bodyTagsFor(filter),
		heartbeatInterval: heartbeatInterval,
		sender:            sender,
		current:           startingCursor,
	}
}

// bodyTagsFor collects every fragment tag a filter's conditions or
// include_joined lists could ever need loaded, plus the header when any
// group asks for it.
func bodyTagsFor(filter Filter) []fragment.Tag {
	seen := make(map[fragment.Tag]bool)
	if filter.AlwaysIncludeHeader {
		seen[fragment.TagHeader] = true
	}
	for _, g := range filter.Groups {
		for _, c := range g.Conditions {
			seen[c.FragmentTag] = true
		}
		for _, t := range g.IncludeJoined {
			seen[t] = true
		}
	}
	seen[fragment.TagJoin] = true
	tags := make([]fragment.Tag, 0, len(seen))
	for t := range seen {
		tags = append(tags, t)
	}
	return tags
}

// Run starts the background prefetch loop (overlapping segment/group I/O
// with filter evaluation, per spec.md section 4.7) and drains it, matching
// and sending at most one message per item until ctx is cancelled or the
// sender returns an error.
func (s *Stream) Run(ctx context.Context) error {
	metrics.ActiveStreams.Inc()
	defer metrics.ActiveStreams.Dec()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	items := make(chan candidateItem, prefetchDepth)
	go runPrefetch(ctx, s, s.current, true, items)

	heartbeat := time.NewTicker(s.heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-heartbeat.C:
			if err := s.sender.Send(ctx, dna.NewHeartbeatResponse()); err != nil {
				return err
			}
			metrics.StreamedMessages.WithLabelValues("heartbeat").Inc()

		case item, ok := <-items:
			if !ok {
				return nil
			}
			if item.err != nil {
				return item.err
			}
			s.current = item.cursor
			if item.invalidate {
				if err := s.sender.Send(ctx, dna.NewInvalidateResponse(item.cursor)); err != nil {
					return err
				}
				metrics.StreamedMessages.WithLabelValues("invalidate").Inc()
				continue
			}
			if err := s.evaluate(ctx, item.cursor, item.block); err != nil {
				return err
			}
		}
	}
}

// evaluate runs full entry matching against an already-loaded candidate
// block, sending a Data message when at least one filter group matches.
func (s *Stream) evaluate(ctx context.Context, c cursor.Cursor, block *fragment.Block) error {
	timer := time.Now()

	var joins fragment.JoinSet
	var err error
	if joinFrag, ok := block.FragmentByTag(fragment.TagJoin); ok {
		joins, err = fragment.DecodeJoinFragment(joinFrag.Data)
		if err != nil {
			return err
		}
	}

	groupByID := make(map[uint32]FilterGroup, len(s.filter.Groups))
	for _, g := range s.filter.Groups {
		groupByID[g.ID] = g
	}

	payloads := make([][]byte, 0, len(s.filter.Groups))
	for _, group := range s.filter.Groups {
		matches, err := s.matcher.Match(block, group)
		if err != nil {
			return err
		}
		if len(matches) == 0 && !s.filter.AlwaysIncludeHeader {
			continue
		}
		matches = resolveJoins(matches, groupByID, joins)

		gp := groupPayload{FilterID: group.ID, Matches: matches, Bodies: make(map[uint8][]byte)}
		if s.filter.AlwaysIncludeHeader {
			if h, ok := block.FragmentByTag(fragment.TagHeader); ok {
				gp.Header = h.Data
			}
		}
		for _, tag := range bodyTagsForMatches(matches) {
			if f, ok := block.FragmentByTag(tag); ok {
				gp.Bodies[uint8(tag)] = f.Data
			}
		}

		encoded, err := msgpack.Marshal(gp)
		if err != nil {
			return fmt.Errorf("datastream: marshal group payload: %w", err)
		}
		payloads = append(payloads, encoded)
	}
	metrics.FilterEvaluationSeconds.Observe(time.Since(timer).Seconds())

	if len(payloads) == 0 {
		return nil
	}

	production := dna.ProductionLive
	if grouped, ok := s.view.Get(chainview.Grouped); ok && c.Number <= grouped.Number {
		production = dna.ProductionBackfill
	}

	resp := dna.NewDataResponse(c, true, c, production, payloads)
	if err := s.sender.Send(ctx, resp); err != nil {
		return err
	}
	metrics.StreamedMessages.WithLabelValues("data").Inc()
	return nil
}

func bodyTagsForMatches(matches []EntryMatch) []fragment.Tag {
	seen := make(map[fragment.Tag]bool)
	for _, m := range matches {
		seen[m.FragmentTag] = true
		for tag := range m.Joined {
			seen[tag] = true
		}
	}
	tags := make([]fragment.Tag, 0, len(seen))
	for t := range seen {
		tags = append(tags, t)
	}
	return tags
}
