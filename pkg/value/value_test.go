package value

import (
	"math"
	"testing"
)

func TestEqualNaN(t *testing.T) {
	t.Run("NaN equals NaN by bit pattern", func(t *testing.T) {
		a := Float64(math.NaN())
		b := Float64(math.NaN())
		if !a.Equal(b) {
			t.Error("expected NaN to equal NaN under bitwise comparison")
		}
	})

	t.Run("identical non-default NaN payloads equal", func(t *testing.T) {
		a := Float64(math.Float64frombits(0x7ff8000000000001))
		b := Float64(math.Float64frombits(0x7ff8000000000001))
		if !a.Equal(b) {
			t.Error("expected identical NaN bit patterns to be equal")
		}
	})

	t.Run("different kinds never equal", func(t *testing.T) {
		if Int32(1).Equal(Int64(1)) {
			t.Error("Int32(1) should not equal Int64(1)")
		}
	})
}

func TestTupleKeyConsolidatesNaN(t *testing.T) {
	a := Tuple{Int32(1), Float64(math.NaN())}
	b := Tuple{Int32(1), Float64(math.NaN())}
	if a.Key() != b.Key() {
		t.Error("expected tuples with bit-identical NaN to share a map key")
	}
}

func TestTupleKeyDistinguishesArityAndKind(t *testing.T) {
	a := Tuple{Int32(1)}
	b := Tuple{Int64(1)}
	if a.Key() == b.Key() {
		t.Error("tuples with same value but different kind must have different keys")
	}

	c := Tuple{Int32(1), Int32(2)}
	d := Tuple{Int32(1)}
	if c.Key() == d.Key() {
		t.Error("tuples of differing arity must have different keys")
	}
}

func TestTupleCompareLexicographic(t *testing.T) {
	cases := []struct {
		name string
		a, b Tuple
		want int
	}{
		{"equal", Tuple{Int32(1), Int32(2)}, Tuple{Int32(1), Int32(2)}, 0},
		{"first component decides", Tuple{Int32(1), Int32(9)}, Tuple{Int32(2), Int32(0)}, -1},
		{"second component decides", Tuple{Int32(1), Int32(1)}, Tuple{Int32(1), Int32(2)}, -1},
		{"shorter tuple sorts first when equal prefix", Tuple{Int32(1)}, Tuple{Int32(1), Int32(2)}, -1},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := c.a.Compare(c.b)
			if got != c.want {
				t.Errorf("Compare(%v, %v) = %d, want %d", c.a, c.b, got, c.want)
			}
		})
	}
}

func TestValueStringRoundTripish(t *testing.T) {
	vals := []Value{
		Null,
		Int32(42),
		Int64(-7),
		Float64(3.5),
		Bool(true),
		String("hi"),
		Timestamp(100),
		Vector([]float32{1, 2, 3}),
		VectorInt8([]int8{1, -1}),
		Bytes([]byte{0xde, 0xad}),
	}
	for _, v := range vals {
		if v.String() == "" {
			t.Errorf("Kind %v produced empty string representation", v.Kind())
		}
	}
}
