package engine

import (
	"fmt"
	"math"

	"github.com/inputlayer/inputlayer-sub003/pkg/ir"
	"github.com/inputlayer/inputlayer-sub003/pkg/kgerrors"
	"github.com/inputlayer/inputlayer-sub003/pkg/value"
)

// evalExpr resolves an IR expression against a concrete tuple.
func evalExpr(e ir.Expr, t value.Tuple) (value.Value, error) {
	switch expr := e.(type) {
	case *ir.ColRef:
		return t[expr.Index], nil
	case *ir.ConstExpr:
		return expr.Value, nil
	case *ir.ArithExpr:
		l, err := evalExpr(expr.Left, t)
		if err != nil {
			return value.Value{}, err
		}
		r, err := evalExpr(expr.Right, t)
		if err != nil {
			return value.Value{}, err
		}
		return applyArith(expr.Op, l, r, t)
	default:
		return value.Value{}, fmt.Errorf("engine: unknown expression %T", e)
	}
}

// evalPred resolves a comparison predicate against a concrete tuple.
// Ordering comparisons use Value.Compare's total order; equality uses
// Value.Equal's bitwise float semantics (spec §3/§9).
func evalPred(p ir.Pred, t value.Tuple) (bool, error) {
	l, err := evalExpr(p.Left, t)
	if err != nil {
		return false, err
	}
	r, err := evalExpr(p.Right, t)
	if err != nil {
		return false, err
	}
	switch p.Op {
	case "<":
		return l.Compare(r) < 0, nil
	case "<=":
		return l.Compare(r) <= 0, nil
	case ">":
		return l.Compare(r) > 0, nil
	case ">=":
		return l.Compare(r) >= 0, nil
	case "==":
		return l.Equal(r), nil
	case "!=":
		return !l.Equal(r), nil
	default:
		return false, fmt.Errorf("engine: unknown comparison operator %q", p.Op)
	}
}

func isFloatKind(v value.Value) bool { return v.Kind() == value.KindFloat64 }

func toFloat(v value.Value) float64 {
	if isFloatKind(v) {
		return v.Float64()
	}
	return float64(v.Int64())
}

// applyArith evaluates a binary arithmetic operator, promoting to float64
// when either operand is a float, and otherwise performing checked int64
// arithmetic that raises ErrArithmetic(Overflow) or ErrArithmetic(DivByZero)
// (spec §7) instead of wrapping or panicking.
func applyArith(op string, l, r value.Value, t value.Tuple) (value.Value, error) {
	if isFloatKind(l) || isFloatKind(r) {
		lf, rf := toFloat(l), toFloat(r)
		switch op {
		case "+":
			return value.Float64(lf + rf), nil
		case "-":
			return value.Float64(lf - rf), nil
		case "*":
			return value.Float64(lf * rf), nil
		case "/":
			if rf == 0 {
				return value.Value{}, arithErr(kgerrors.DivByZero, op, l, r, t)
			}
			return value.Float64(lf / rf), nil
		default:
			return value.Value{}, fmt.Errorf("engine: unknown arithmetic operator %q", op)
		}
	}

	li, ri := l.Int64(), r.Int64()
	switch op {
	case "+":
		sum := li + ri
		if overflowAdd(li, ri, sum) {
			return value.Value{}, arithErr(kgerrors.Overflow, op, l, r, t)
		}
		return value.Int64(sum), nil
	case "-":
		diff := li - ri
		if overflowSub(li, ri, diff) {
			return value.Value{}, arithErr(kgerrors.Overflow, op, l, r, t)
		}
		return value.Int64(diff), nil
	case "*":
		prod, overflow := checkedMul(li, ri)
		if overflow {
			return value.Value{}, arithErr(kgerrors.Overflow, op, l, r, t)
		}
		return value.Int64(prod), nil
	case "/":
		if ri == 0 {
			return value.Value{}, arithErr(kgerrors.DivByZero, op, l, r, t)
		}
		if li == math.MinInt64 && ri == -1 {
			return value.Value{}, arithErr(kgerrors.Overflow, op, l, r, t)
		}
		return value.Int64(li / ri), nil
	default:
		return value.Value{}, fmt.Errorf("engine: unknown arithmetic operator %q", op)
	}
}

func arithErr(kind kgerrors.ArithmeticKind, op string, l, r value.Value, t value.Tuple) error {
	return kgerrors.ErrArithmetic.New(kind.String(), fmt.Sprintf("%s %s %s", l.String(), op, r.String()), t.String())
}

func overflowAdd(a, b, sum int64) bool {
	return (b > 0 && sum < a) || (b < 0 && sum > a)
}

func overflowSub(a, b, diff int64) bool {
	return (b < 0 && diff < a) || (b > 0 && diff > a)
}

// checkedMul multiplies two int64s, reporting overflow via division
// back-check (the standard portable technique; math/bits.Mul64 only
// covers unsigned operands).
func checkedMul(a, b int64) (int64, bool) {
	if a == 0 || b == 0 {
		return 0, false
	}
	prod := a * b
	if prod/a != b {
		return 0, true
	}
	if a == -1 && b == math.MinInt64 {
		return 0, true
	}
	return prod, false
}
