// Package dna holds the wire-message shapes for the streaming RPC described
// in spec.md section 6. The reference implementation generates these from a
// .proto schema via tonic-build; this module hand-keeps the equivalent Go
// structs and pairs them with a msgpack-based grpc.Codec (see codec.go) so
// the same structs serve as both the in-process message type and the wire
// format, without requiring a protoc toolchain in this environment.
package dna

import "github.com/apibara/dna/internal/cursor"

// DataFinality tags how far a Data message's blocks are from the chain tip.
type DataFinality int32

const (
	DataFinalityFinalized DataFinality = iota
	DataFinalityAccepted
	DataFinalityPending
)

// Cursor is the wire shape of internal/cursor.Cursor.
type Cursor struct {
	OrderKey  uint64
	UniqueKey []byte
}

func fromCursor(c cursor.Cursor) *Cursor {
	if c.Number == 0 && len(c.Hash) == 0 {
		return nil
	}
	return &Cursor{OrderKey: c.Number, UniqueKey: c.Hash}
}

// Condition is one scalar-value match within a FilterGroup, keyed by the
// fragment it applies to and the index kind a chain adapter registered for
// it.
type Condition struct {
	FragmentTag uint8
	IndexID     uint8
	Kind        uint8
	Bytes       []byte
	Num         uint64
	Bool        bool
}

// FilterGroup is one top-level filter: a set of conditions plus which
// joined fragments to include for anything it matches.
type FilterGroup struct {
	ID                 uint32
	Conditions         []Condition
	IncludeJoined      []uint8 // fragment tags to resolve and include transitively
	AdditionalFragments []uint8
}

// Filter is a client's full filter set: up to 5 groups, per spec.md section
// 4.7.
type Filter struct {
	Groups              []FilterGroup
	AlwaysIncludeHeader bool
}

// StreamDataRequest is the StreamData{} request message.
type StreamDataRequest struct {
	StartingCursor    *Cursor
	Finality          DataFinality
	Filter            []Filter
	HeartbeatInterval uint32 // seconds, 0 means "use server default"
}

// StatusRequest is the Status{} request message.
type StatusRequest struct{}

// Production tags whether a Data message's blocks are historical or live.
type Production int32

const (
	ProductionBackfill Production = iota
	ProductionLive
)

// Data is one data message: the block range [cursor, end_cursor] and one
// serialized payload per matching filter group, in filter-group order.
type Data struct {
	Cursor     *Cursor
	EndCursor  Cursor
	Production Production
	Data       [][]byte
}

// Invalidate announces a reorg: the client must discard anything after
// cursor and resume from it.
type Invalidate struct {
	Cursor *Cursor
}

// Heartbeat carries no data; its arrival alone tells the client the stream
// is alive.
type Heartbeat struct{}

// SystemMessageOutput tags a SystemMessage's channel.
type SystemMessageOutput int32

const (
	SystemMessageStdout SystemMessageOutput = iota
	SystemMessageStderr
	SystemMessageExitWithError
)

// SystemMessage is a terminal or informational out-of-band message.
type SystemMessage struct {
	Output  SystemMessageOutput
	Message string
}

// StreamDataResponseKind tags which variant of StreamDataResponse is set.
type StreamDataResponseKind int

const (
	MessageData StreamDataResponseKind = iota
	MessageInvalidate
	MessageHeartbeat
	MessageSystem
)

// StreamDataResponse is the tagged-union response message (spec.md section
// 6): exactly one of Data/Invalidate/Heartbeat/System is meaningful,
// selected by Kind.
type StreamDataResponse struct {
	Kind       StreamDataResponseKind
	Data       *Data
	Invalidate *Invalidate
	Heartbeat  *Heartbeat
	System     *SystemMessage
}

func NewDataResponse(current cursor.Cursor, hasCurrent bool, end cursor.Cursor, production Production, payloads [][]byte) StreamDataResponse {
	var cur *Cursor
	if hasCurrent {
		cur = fromCursor(current)
	}
	return StreamDataResponse{
		Kind: MessageData,
		Data: &Data{
			Cursor:     cur,
			EndCursor:  Cursor{OrderKey: end.Number, UniqueKey: end.Hash},
			Production: production,
			Data:       payloads,
		},
	}
}

func NewInvalidateResponse(ancestor cursor.Cursor) StreamDataResponse {
	return StreamDataResponse{
		Kind:       MessageInvalidate,
		Invalidate: &Invalidate{Cursor: fromCursor(ancestor)},
	}
}

func NewHeartbeatResponse() StreamDataResponse {
	return StreamDataResponse{Kind: MessageHeartbeat, Heartbeat: &Heartbeat{}}
}

func NewSystemErrorResponse(message string) StreamDataResponse {
	return StreamDataResponse{
		Kind:   MessageSystem,
		System: &SystemMessage{Output: SystemMessageExitWithError, Message: message},
	}
}

// StatusResponse reports the three headline cursors, per spec.md section 6.
type StatusResponse struct {
	LastIngested  *Cursor
	LastFinalized *Cursor
	ChainTip      *Cursor
}
