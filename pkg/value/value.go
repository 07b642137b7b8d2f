// Package value implements InputLayer's tagged primitive value and the
// fixed-arity tuple built from it.
//
// Values are compared and hashed by bit pattern where the underlying
// representation is floating point, so that NaN-bearing tuples participate
// in multiset consolidation instead of comparing unequal to themselves
// (spec §3, §9: "Float equality for consolidation").
package value

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Kind tags the variant a Value holds.
type Kind uint8

const (
	KindNull Kind = iota
	KindInt32
	KindInt64
	KindFloat64
	KindBool
	KindString
	KindTimestamp
	KindVector
	KindVectorInt8
	KindBytes
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "Null"
	case KindInt32:
		return "Int32"
	case KindInt64:
		return "Int64"
	case KindFloat64:
		return "Float64"
	case KindBool:
		return "Bool"
	case KindString:
		return "String"
	case KindTimestamp:
		return "Timestamp"
	case KindVector:
		return "Vector"
	case KindVectorInt8:
		return "VectorInt8"
	case KindBytes:
		return "Bytes"
	default:
		return "Unknown"
	}
}

// Value is a tagged primitive. Only the field matching Kind is meaningful.
// Value is intentionally a plain struct (not an interface) so that
// comparisons and hashing are explicit and exhaustive over a closed set of
// kinds (spec §9: "avoid open polymorphism").
type Value struct {
	kind   Kind
	i      int64   // Int32, Int64, Timestamp, Bool (0/1)
	f      float64 // Float64
	s      string  // String
	vec    []float32
	vecI8  []int8
	bytes  []byte
}

// Null is the sole Null value.
var Null = Value{kind: KindNull}

func Int32(v int32) Value    { return Value{kind: KindInt32, i: int64(v)} }
func Int64(v int64) Value    { return Value{kind: KindInt64, i: v} }
func Float64(v float64) Value { return Value{kind: KindFloat64, f: v} }
func Bool(v bool) Value {
	var i int64
	if v {
		i = 1
	}
	return Value{kind: KindBool, i: i}
}
func String(v string) Value    { return Value{kind: KindString, s: v} }
func Timestamp(v int64) Value  { return Value{kind: KindTimestamp, i: v} }
func Vector(v []float32) Value { return Value{kind: KindVector, vec: append([]float32(nil), v...)} }
func VectorInt8(v []int8) Value {
	return Value{kind: KindVectorInt8, vecI8: append([]int8(nil), v...)}
}
func Bytes(v []byte) Value { return Value{kind: KindBytes, bytes: append([]byte(nil), v...)} }

// Kind returns the tag of v.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is the Null value.
func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) Int32() int32    { return int32(v.i) }
func (v Value) Int64() int64    { return v.i }
func (v Value) Float64() float64 { return v.f }
func (v Value) Bool() bool      { return v.i != 0 }
func (v Value) String_() string { return v.s }
func (v Value) Timestamp() int64 { return v.i }
func (v Value) Vector() []float32 { return v.vec }
func (v Value) VectorInt8() []int8 { return v.vecI8 }
func (v Value) Bytes() []byte   { return v.bytes }

// Equal compares two values for multiset/consolidation purposes: floats
// compare by bit pattern so NaN == NaN, matching spec §3/§9.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindInt32, KindInt64, KindTimestamp, KindBool:
		return v.i == o.i
	case KindFloat64:
		return math.Float64bits(v.f) == math.Float64bits(o.f)
	case KindString:
		return v.s == o.s
	case KindVector:
		return equalFloat32Slice(v.vec, o.vec)
	case KindVectorInt8:
		return equalInt8Slice(v.vecI8, o.vecI8)
	case KindBytes:
		return string(v.bytes) == string(o.bytes)
	default:
		return false
	}
}

func equalFloat32Slice(a, b []float32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if math.Float32bits(a[i]) != math.Float32bits(b[i]) {
			return false
		}
	}
	return true
}

func equalInt8Slice(a, b []int8) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Compare gives a total order over values of the same kind: -1, 0, 1.
// Values of differing kinds order by Kind tag, making the order total
// across a heterogeneous tuple component (spec §3: "totally orderable").
func (v Value) Compare(o Value) int {
	if v.kind != o.kind {
		if v.kind < o.kind {
			return -1
		}
		return 1
	}
	switch v.kind {
	case KindNull:
		return 0
	case KindInt32, KindInt64, KindTimestamp:
		switch {
		case v.i < o.i:
			return -1
		case v.i > o.i:
			return 1
		default:
			return 0
		}
	case KindBool:
		switch {
		case v.i < o.i:
			return -1
		case v.i > o.i:
			return 1
		default:
			return 0
		}
	case KindFloat64:
		// Bitwise-stable ordering: NaN sorts after all non-NaN floats but
		// equal to itself, so it never breaks total ordering.
		vb, ob := math.Float64bits(v.f), math.Float64bits(o.f)
		if vb == ob {
			return 0
		}
		vNaN, oNaN := math.IsNaN(v.f), math.IsNaN(o.f)
		switch {
		case vNaN && oNaN:
			if vb < ob {
				return -1
			}
			return 1
		case vNaN:
			return 1
		case oNaN:
			return -1
		case v.f < o.f:
			return -1
		case v.f > o.f:
			return 1
		default:
			return 0
		}
	case KindString:
		switch {
		case v.s < o.s:
			return -1
		case v.s > o.s:
			return 1
		default:
			return 0
		}
	case KindVector:
		return compareFloat32Slice(v.vec, o.vec)
	case KindVectorInt8:
		return compareInt8Slice(v.vecI8, o.vecI8)
	case KindBytes:
		return compareBytes(v.bytes, o.bytes)
	default:
		return 0
	}
}

func compareFloat32Slice(a, b []float32) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		ab, bb := math.Float32bits(a[i]), math.Float32bits(b[i])
		if ab != bb {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

func compareInt8Slice(a, b []int8) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

func compareBytes(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

// String renders v for diagnostics and trace output.
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindInt32:
		return fmt.Sprintf("%d", int32(v.i))
	case KindInt64:
		return fmt.Sprintf("%d", v.i)
	case KindFloat64:
		return fmt.Sprintf("%v", v.f)
	case KindBool:
		return fmt.Sprintf("%v", v.i != 0)
	case KindString:
		return fmt.Sprintf("%q", v.s)
	case KindTimestamp:
		return fmt.Sprintf("@%d", v.i)
	case KindVector:
		return fmt.Sprintf("%v", v.vec)
	case KindVectorInt8:
		return fmt.Sprintf("%v", v.vecI8)
	case KindBytes:
		return fmt.Sprintf("0x%x", v.bytes)
	default:
		return "?"
	}
}

// appendKey writes a canonical byte encoding of v to buf, used to build
// comparable Go map keys for tuples (see Tuple.Key). The encoding is
// type-tagged so values of differing kinds never collide. It is for
// equality only: the byte order of encodings does not follow Compare.
func (v Value) appendKey(buf []byte) []byte {
	buf = append(buf, byte(v.kind))
	switch v.kind {
	case KindNull:
		// no payload
	case KindInt32, KindInt64, KindTimestamp, KindBool:
		var tmp [8]byte
		binary.BigEndian.PutUint64(tmp[:], uint64(v.i))
		buf = append(buf, tmp[:]...)
	case KindFloat64:
		var tmp [8]byte
		binary.BigEndian.PutUint64(tmp[:], math.Float64bits(v.f))
		buf = append(buf, tmp[:]...)
	case KindString:
		buf = appendLenPrefixed(buf, []byte(v.s))
	case KindVector:
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(v.vec)))
		buf = append(buf, lenBuf[:]...)
		for _, f := range v.vec {
			var tmp [4]byte
			binary.BigEndian.PutUint32(tmp[:], math.Float32bits(f))
			buf = append(buf, tmp[:]...)
		}
	case KindVectorInt8:
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(v.vecI8)))
		buf = append(buf, lenBuf[:]...)
		for _, b := range v.vecI8 {
			buf = append(buf, byte(b))
		}
	case KindBytes:
		buf = appendLenPrefixed(buf, v.bytes)
	}
	return buf
}

func appendLenPrefixed(buf, data []byte) []byte {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	buf = append(buf, lenBuf[:]...)
	return append(buf, data...)
}
