package value

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// wireValue is the self-describing JSON shape a Value marshals to for the
// WAL and shard files (spec §4.7: "JSON-encoded, self-describing,
// versionable"). Only the field matching Kind is populated.
type wireValue struct {
	Kind   string    `json:"k"`
	Int    *int64    `json:"i,omitempty"`
	Float  *float64  `json:"f,omitempty"`
	Str    *string   `json:"s,omitempty"`
	Vec    []float32 `json:"vec,omitempty"`
	VecI8  []int8    `json:"veci8,omitempty"`
	Bytes  *string   `json:"b,omitempty"` // base64
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	w := wireValue{Kind: v.kind.String()}
	switch v.kind {
	case KindNull:
	case KindInt32, KindInt64, KindTimestamp, KindBool:
		i := v.i
		w.Int = &i
	case KindFloat64:
		f := v.f
		w.Float = &f
	case KindString:
		s := v.s
		w.Str = &s
	case KindVector:
		w.Vec = v.vec
	case KindVectorInt8:
		w.VecI8 = v.vecI8
	case KindBytes:
		b := base64.StdEncoding.EncodeToString(v.bytes)
		w.Bytes = &b
	default:
		return nil, fmt.Errorf("value: cannot marshal kind %v", v.kind)
	}
	return json.Marshal(w)
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	var w wireValue
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	switch w.Kind {
	case "Null":
		*v = Null
	case "Int32":
		*v = Int32(int32(derefInt(w.Int)))
	case "Int64":
		*v = Int64(derefInt(w.Int))
	case "Float64":
		*v = Float64(derefFloat(w.Float))
	case "Bool":
		*v = Bool(derefInt(w.Int) != 0)
	case "String":
		*v = String(derefStr(w.Str))
	case "Timestamp":
		*v = Timestamp(derefInt(w.Int))
	case "Vector":
		*v = Vector(w.Vec)
	case "VectorInt8":
		*v = VectorInt8(w.VecI8)
	case "Bytes":
		raw, err := base64.StdEncoding.DecodeString(derefStr(w.Bytes))
		if err != nil {
			return err
		}
		*v = Bytes(raw)
	default:
		return fmt.Errorf("value: unknown wire kind %q", w.Kind)
	}
	return nil
}

func derefInt(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}

func derefFloat(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

func derefStr(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
