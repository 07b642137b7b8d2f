// Package catalog implements InputLayer's relation registry: the map from
// relation name to schema, and from view name to the rule(s) that maintain
// it (spec §4.2).
package catalog

import (
	"sync"

	"github.com/inputlayer/inputlayer-sub003/pkg/kgerrors"
)

// Schema is a relation's name plus its ordered column names.
type Schema struct {
	Name    string
	Columns []string
}

// Arity returns the number of columns in the schema.
func (s Schema) Arity() int { return len(s.Columns) }

// Kind distinguishes base (insertable) relations from derived
// (rule-maintained) ones.
type Kind uint8

const (
	KindBase Kind = iota
	KindDerived
)

// entry is the catalog's internal bookkeeping for one relation.
type entry struct {
	schema Schema
	kind   Kind
}

// Catalog is the per-knowledge-graph registry of relation schemas and view
// definitions. It is safe for concurrent use; callers normally hold the
// enclosing KG's write/read guard already, but the catalog defends itself
// independently so it can be exercised directly in tests.
type Catalog struct {
	mu        sync.RWMutex
	relations map[string]*entry
	views     map[string][]string // view name -> rule text(s)
}

// New returns an empty catalog.
func New() *Catalog {
	return &Catalog{
		relations: make(map[string]*entry),
		views:     make(map[string][]string),
	}
}

// Register fixes a relation's arity. If the relation already exists with a
// different arity, Register fails with ErrSchemaViolation — arity, once
// fixed, cannot change (spec §4.2).
func (c *Catalog) Register(schema Schema, kind Kind) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.relations[schema.Name]; ok {
		if existing.schema.Arity() != schema.Arity() {
			return kgerrors.ErrSchemaViolation.New(schema.Name,
				"arity already fixed")
		}
		return nil
	}
	c.relations[schema.Name] = &entry{schema: schema, kind: kind}
	return nil
}

// EnsureBase registers relation as base with the given arity if it is not
// yet known (first-insert implicit creation, spec §3 Lifecycle), or
// validates the arity of an existing relation.
func (c *Catalog) EnsureBase(name string, arity int) (Schema, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.relations[name]; ok {
		if existing.schema.Arity() != arity {
			return Schema{}, kgerrors.ErrArityMismatch.New(name, existing.schema.Arity(), arity)
		}
		return existing.schema, nil
	}

	cols := make([]string, arity)
	for i := range cols {
		cols[i] = columnDefaultName(i)
	}
	schema := Schema{Name: name, Columns: cols}
	c.relations[name] = &entry{schema: schema, kind: KindBase}
	return schema, nil
}

func columnDefaultName(i int) string {
	const letters = "abcdefghijklmnopqrstuvwxyz"
	if i < len(letters) {
		return string(letters[i])
	}
	return "col" + itoa(i)
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}

// Lookup returns the schema and kind for name, or ok=false.
func (c *Catalog) Lookup(name string) (Schema, Kind, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.relations[name]
	if !ok {
		return Schema{}, 0, false
	}
	return e.schema, e.kind, true
}

// Arity returns the arity of name, or an error if unknown.
func (c *Catalog) Arity(name string) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.relations[name]
	if !ok {
		return 0, kgerrors.ErrRelationNotFound.New(name, "")
	}
	return e.schema.Arity(), nil
}

// MarkDerived records that name is maintained by rules (a view), not
// directly insertable.
func (c *Catalog) MarkDerived(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.relations[name]; ok {
		e.kind = KindDerived
	}
}

// IsBase reports whether name is a base (insertable) relation.
func (c *Catalog) IsBase(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.relations[name]
	return ok && e.kind == KindBase
}

// RegisterView records ruleText as (one of) the rule(s) defining view name.
func (c *Catalog) RegisterView(name string, ruleText string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.views[name] = append(c.views[name], ruleText)
}

// Views returns the rule texts registered for name.
func (c *Catalog) Views(name string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.views[name]...)
}

// Names returns all known relation names, sorted is not guaranteed.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.relations))
	for n := range c.relations {
		out = append(out, n)
	}
	return out
}
