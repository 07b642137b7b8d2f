// Package kgerrors defines InputLayer's error kinds (spec §7: "Error kinds
// (not type names)"). Each kind is a package-level *errors.Kind from
// gopkg.in/src-d/go-errors.v1; call sites construct an error with
// ErrXxx.New(args...) and callers recover the kind with errors.Is /
// errors.KindForError, never by type-asserting a concrete Go type.
package kgerrors

import (
	goerrors "gopkg.in/src-d/go-errors.v1"
)

var (
	// ErrParse is surfaced verbatim for a syntactic failure; never retried.
	ErrParse = goerrors.NewKind("parse error at %s: expected %s, found %s")

	// ErrUnresolvedVariable, ErrArityMismatch, ErrUnstratifiedAggregate are
	// IR-build failures (spec §4.3); surfaced, not retried.
	ErrUnresolvedVariable   = goerrors.NewKind("unresolved variable %q in rule %q")
	ErrArityMismatch        = goerrors.NewKind("relation %q expects arity %d, got %d")
	ErrUnstratifiedAggregate = goerrors.NewKind("relation %q aggregates over itself inside a recursive cycle")

	// ErrSchemaViolation, ErrTypeMismatch, ErrRelationNotFound,
	// ErrDatabaseNotFound are storage-level failures surfaced to the caller.
	ErrSchemaViolation  = goerrors.NewKind("relation %q: schema violation: %s")
	ErrTypeMismatch     = goerrors.NewKind("column %d of relation %q: expected kind %s, got %s")
	ErrRelationNotFound = goerrors.NewKind("relation %q not found in knowledge graph %q")
	ErrDatabaseNotFound = goerrors.NewKind("knowledge graph %q not found")

	// ErrArithmetic aborts the enclosing query; the offending tuple is
	// carried as an argument for caller-side context (spec §7).
	ErrArithmetic = goerrors.NewKind("arithmetic error (%s) evaluating %s over tuple %s")

	// ErrRecursionDiverged fires when the semi-naïve round cap is exceeded.
	ErrRecursionDiverged = goerrors.NewKind("recursion over relation %q exceeded round cap %d without reaching a fixpoint")

	// ErrQueryTimeout fires when a query's deadline expires between rounds
	// or at a join/aggregate batch boundary. The caller may retry.
	ErrQueryTimeout = goerrors.NewKind("query exceeded timeout of %d ms")

	// ErrStoragePoisoned surfaces from mutating calls after a panicking
	// writer leaves the guard poisoned, until an operator-initiated repair.
	ErrStoragePoisoned = goerrors.NewKind("knowledge graph %q is in degraded read-only mode after a writer panic; repair required")

	// ErrPersistIO, ErrWalCorrupt, ErrShardCorrupt, ErrPersistSerde are the
	// PersistError variants of spec §7.
	ErrPersistIO      = goerrors.NewKind("persistence I/O error: %s")
	ErrWalCorrupt     = goerrors.NewKind("WAL %q is corrupt: %s")
	ErrShardCorrupt   = goerrors.NewKind("shard file %q is corrupt: %s")
	ErrPersistSerde   = goerrors.NewKind("serialization error: %s")
)

// ArithmeticKind distinguishes the two ArithmeticError sub-cases spec §7
// names explicitly.
type ArithmeticKind uint8

const (
	DivByZero ArithmeticKind = iota
	Overflow
)

func (k ArithmeticKind) String() string {
	if k == Overflow {
		return "overflow"
	}
	return "div-by-zero"
}
