// Package wire defines InputLayer's external request/response shapes (spec
// §6 "Request payloads"), field-exact, with no transport code of its own —
// transport (RPC framing, WebSocket, HTTP) is out of scope and owned by
// whatever front door embeds this package.
package wire

import "github.com/inputlayer/inputlayer-sub003/pkg/value"

// WireValue is the externally-visible encoding of a value.Value: the same
// closed variant set, named the way spec §6 names it rather than the way
// pkg/value names its Kind constants.
type WireValue struct {
	Null       bool      `json:"null,omitempty"`
	Int32      *int32    `json:"int32,omitempty"`
	Int64      *int64    `json:"int64,omitempty"`
	Float64    *float64  `json:"float64,omitempty"`
	String     *string   `json:"string,omitempty"`
	Bool       *bool     `json:"bool,omitempty"`
	Timestamp  *int64    `json:"timestamp,omitempty"`
	Vector     []float32 `json:"vector,omitempty"`
	VectorInt8 []int8    `json:"vector_int8,omitempty"`
	Bytes      []byte    `json:"bytes,omitempty"`
}

// WireTuple is an ordered sequence of WireValues (spec §6 "WireTuple {
// values }").
type WireTuple struct {
	Values []WireValue `json:"values"`
}

// ToWireValue converts a value.Value to its wire form.
func ToWireValue(v value.Value) WireValue {
	switch v.Kind() {
	case value.KindNull:
		return WireValue{Null: true}
	case value.KindInt32:
		i := v.Int32()
		return WireValue{Int32: &i}
	case value.KindInt64:
		i := v.Int64()
		return WireValue{Int64: &i}
	case value.KindFloat64:
		f := v.Float64()
		return WireValue{Float64: &f}
	case value.KindBool:
		b := v.Bool()
		return WireValue{Bool: &b}
	case value.KindString:
		s := v.String_()
		return WireValue{String: &s}
	case value.KindTimestamp:
		t := v.Timestamp()
		return WireValue{Timestamp: &t}
	case value.KindVector:
		return WireValue{Vector: v.Vector()}
	case value.KindVectorInt8:
		return WireValue{VectorInt8: v.VectorInt8()}
	case value.KindBytes:
		return WireValue{Bytes: v.Bytes()}
	default:
		return WireValue{Null: true}
	}
}

// FromWireValue recovers a value.Value from its wire form. The wire form is
// a tagged union in practice (exactly one field set); the non-Null fields
// are checked in WireValue's declared order, and a value with none of them
// set decodes as Null.
func FromWireValue(w WireValue) value.Value {
	switch {
	case w.Int32 != nil:
		return value.Int32(*w.Int32)
	case w.Int64 != nil:
		return value.Int64(*w.Int64)
	case w.Float64 != nil:
		return value.Float64(*w.Float64)
	case w.String != nil:
		return value.String(*w.String)
	case w.Bool != nil:
		return value.Bool(*w.Bool)
	case w.Timestamp != nil:
		return value.Timestamp(*w.Timestamp)
	case w.Vector != nil:
		return value.Vector(w.Vector)
	case w.VectorInt8 != nil:
		return value.VectorInt8(w.VectorInt8)
	case w.Bytes != nil:
		return value.Bytes(w.Bytes)
	default:
		return value.Null
	}
}

// ToWireTuple converts a value.Tuple to its wire form.
func ToWireTuple(t value.Tuple) WireTuple {
	out := WireTuple{Values: make([]WireValue, len(t))}
	for i, v := range t {
		out.Values[i] = ToWireValue(v)
	}
	return out
}

// FromWireTuple recovers a value.Tuple from its wire form.
func FromWireTuple(w WireTuple) value.Tuple {
	out := make(value.Tuple, len(w.Values))
	for i, v := range w.Values {
		out[i] = FromWireValue(v)
	}
	return out
}

// InsertRequest asks a knowledge graph to add tuples to a relation (spec §6).
type InsertRequest struct {
	Database *string     `json:"database,omitempty"`
	Relation string      `json:"relation"`
	Tuples   []WireTuple `json:"tuples"`
}

// InsertResponse reports how many rows an InsertRequest affected.
type InsertResponse struct {
	RowsAffected uint64 `json:"rows_affected"`
}

// DeleteRequest asks a knowledge graph to remove tuples from a relation.
type DeleteRequest struct {
	Database *string     `json:"database,omitempty"`
	Relation string      `json:"relation"`
	Tuples   []WireTuple `json:"tuples"`
}

// DeleteResponse reports how many rows a DeleteRequest affected.
type DeleteResponse struct {
	RowsAffected uint64 `json:"rows_affected"`
}

// QueryRequest submits a program (facts, rules, and/or a query) for
// evaluation (spec §6). TimeoutMs overrides the configured default deadline
// when set.
type QueryRequest struct {
	Database  *string `json:"database,omitempty"`
	Program   string  `json:"program"`
	TimeoutMs *uint64 `json:"timeout_ms,omitempty"`
}

// QueryStats accompanies a QueryResponse with evaluation metadata.
type QueryStats struct {
	Rounds     int   `json:"rounds"`
	DurationMs int64 `json:"duration_ms"`
}

// QueryResponse is the result of a QueryRequest.
type QueryResponse struct {
	Columns []string    `json:"columns"`
	Rows    []WireTuple `json:"rows"`
	Stats   QueryStats  `json:"stats"`
}

// ExplainRequest asks for a pretty-printed evaluation trace instead of
// results (spec §4.8).
type ExplainRequest struct {
	Database *string `json:"database,omitempty"`
	Program  string  `json:"program"`
}

// ExplainResponse carries the pretty-printed trace text.
type ExplainResponse struct {
	Trace string `json:"trace"`
}

// HealthResponse is an admin liveness/readiness payload.
type HealthResponse struct {
	Status           string   `json:"status"`
	UptimeSeconds    uint64   `json:"uptime_seconds"`
	MemoryUsedBytes  uint64   `json:"memory_used_bytes"`
	ActiveQueries    int      `json:"active_queries"`
	DatabasesLoaded  []string `json:"databases_loaded"`
}

// StatsResponse is an admin aggregate-metrics payload.
type StatsResponse struct {
	TotalQueries   uint64  `json:"total_queries"`
	TotalInserts   uint64  `json:"total_inserts"`
	CacheHitRate   float64 `json:"cache_hit_rate"`
	AvgQueryTimeMs float64 `json:"avg_query_time_ms"`
}

// BackupRequest asks the storage engine to snapshot one KG to path.
type BackupRequest struct {
	Database string `json:"database"`
	Path     string `json:"path"`
}
