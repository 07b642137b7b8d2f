// Package storage implements InputLayer's storage engine (spec §4.6): a
// named map of knowledge graphs, each an isolated namespace of relations,
// rules, and persistence, guarded by a per-KG reader/writer lock with
// lock-poisoning recovery into a degraded read-only mode.
package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/sirupsen/logrus"

	"github.com/inputlayer/inputlayer-sub003/internal/parallel"
	"github.com/inputlayer/inputlayer-sub003/pkg/catalog"
	"github.com/inputlayer/inputlayer-sub003/pkg/engine"
	"github.com/inputlayer/inputlayer-sub003/pkg/ir"
	"github.com/inputlayer/inputlayer-sub003/pkg/kgerrors"
	"github.com/inputlayer/inputlayer-sub003/pkg/persist"
	"github.com/inputlayer/inputlayer-sub003/pkg/trace"
	"github.com/inputlayer/inputlayer-sub003/pkg/value"
)

// DefaultKG is the reserved knowledge graph that always exists and cannot
// be dropped (spec §3 "A reserved default KG always exists").
const DefaultKG = "default"

// Storage owns every knowledge graph under one data directory (spec
// §4.6). KG lifecycle operations (create/drop/use/list) take Storage's
// own lock; everything else is dispatched to the named KG's own guard so
// concurrent operations on different KGs never contend.
type Storage struct {
	mu         sync.RWMutex
	dataDir    string
	numThreads int
	logger     *logrus.Logger
	eval       *engine.Evaluator
	pool       *parallel.WorkerPool
	kgs        map[string]*kgState
	current    string
}

// Option configures a Storage.
type Option func(*Storage)

// WithLogger attaches a logger propagated to the evaluator and persistence
// layer.
func WithLogger(l *logrus.Logger) Option { return func(s *Storage) { s.logger = l } }

// New opens (or creates) a storage root at dataDir and the default KG
// within it. numThreads bounds intra-query parallelism (spec §5); 0
// detects the number of CPUs.
func New(dataDir string, numThreads int, opts ...Option) (*Storage, error) {
	if numThreads <= 0 {
		numThreads = runtime.NumCPU()
	}
	s := &Storage{
		dataDir:    dataDir,
		numThreads: numThreads,
		kgs:        map[string]*kgState{},
		current:    DefaultKG,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.pool = parallel.NewWorkerPool(numThreads)
	evalOpts := []engine.Option{engine.WithWorkerPool(s.pool)}
	if s.logger != nil {
		evalOpts = append(evalOpts, engine.WithLogger(s.logger))
	}
	s.eval = engine.New(evalOpts...)

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, kgerrors.ErrPersistIO.New(err.Error())
	}
	if err := s.openKG(DefaultKG); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Storage) kgRoot(name string) string {
	return filepath.Join(s.dataDir, name)
}

// openKG loads (or initializes) the named KG from disk and registers it in
// s.kgs. Caller must hold s.mu for writing.
func (s *Storage) openKG(name string) error {
	root := s.kgRoot(name)
	cat := catalog.New()
	if err := persist.LoadMeta(root, cat); err != nil {
		return err
	}

	handle, base, err := persist.Open(root, persist.Immediate, 0, s.logger)
	if err != nil {
		return err
	}

	k := &kgState{
		name:     name,
		root:     root,
		cat:      cat,
		base:     base,
		ruleDefs: map[string][]*ir.Definition{},
		persist:  handle,
		builder:  ir.NewBuilder(cat),
	}
	s.kgs[name] = k
	return nil
}

// CreateKnowledgeGraph creates a new, empty KG named name (spec §4.6).
func (s *Storage) CreateKnowledgeGraph(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.kgs[name]; ok {
		return fmt.Errorf("storage: knowledge graph %q already exists", name)
	}
	return s.openKG(name)
}

// DropKnowledgeGraph destroys name and its on-disk data. Dropping the
// default KG is forbidden (spec §4.6).
func (s *Storage) DropKnowledgeGraph(name string) error {
	if name == DefaultKG {
		return fmt.Errorf("storage: the default knowledge graph cannot be dropped")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.kgs[name]
	if !ok {
		return kgerrors.ErrDatabaseNotFound.New(name)
	}
	if err := k.persist.Close(); err != nil {
		return err
	}
	delete(s.kgs, name)
	if s.current == name {
		s.current = DefaultKG
	}
	return os.RemoveAll(s.kgRoot(name))
}

// UseKnowledgeGraph sets name as the session's current KG.
func (s *Storage) UseKnowledgeGraph(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.kgs[name]; !ok {
		return kgerrors.ErrDatabaseNotFound.New(name)
	}
	s.current = name
	return nil
}

// ListKnowledgeGraphs returns every known KG name.
func (s *Storage) ListKnowledgeGraphs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.kgs))
	for n := range s.kgs {
		out = append(out, n)
	}
	return out
}

func (s *Storage) lookupKG(name string) (*kgState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.kgs[name]
	if !ok {
		return nil, kgerrors.ErrDatabaseNotFound.New(name)
	}
	return k, nil
}

func (s *Storage) currentName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Insert writes tuples into rel on the current KG.
func (s *Storage) Insert(rel string, tuples []value.Tuple) error {
	return s.InsertInto(s.currentName(), rel, tuples)
}

// InsertInto writes tuples into rel on kg (spec §4.6 "insert_into").
func (s *Storage) InsertInto(kg, rel string, tuples []value.Tuple) error {
	k, err := s.lookupKG(kg)
	if err != nil {
		return err
	}
	return k.mutate(func() error { return k.applyUpdates(rel, tuples, 1) })
}

// Delete removes tuples from rel on the current KG.
func (s *Storage) Delete(rel string, tuples []value.Tuple) error {
	return s.DeleteFrom(s.currentName(), rel, tuples)
}

// DeleteFrom removes tuples from rel on kg.
func (s *Storage) DeleteFrom(kg, rel string, tuples []value.Tuple) error {
	k, err := s.lookupKG(kg)
	if err != nil {
		return err
	}
	return k.mutate(func() error { return k.applyUpdates(rel, tuples, -1) })
}

// RegisterRule compiles and persistently registers one rule's source text
// against kg's catalog (spec §3 "rules are registered persistently").
func (s *Storage) RegisterRule(kg, ruleText string) error {
	k, err := s.lookupKG(kg)
	if err != nil {
		return err
	}
	return k.mutate(func() error { return k.registerRule(ruleText) })
}

// ExecuteQuery evaluates queryText against the current KG.
func (s *Storage) ExecuteQuery(ctx context.Context, queryText string) (*engine.Multiset, error) {
	return s.ExecuteQueryOn(ctx, s.currentName(), queryText)
}

// ExecuteQueryOn evaluates queryText against kg (spec §4.5 "implicit
// ?__result__ relation").
func (s *Storage) ExecuteQueryOn(ctx context.Context, kg, queryText string) (*engine.Multiset, error) {
	k, err := s.lookupKG(kg)
	if err != nil {
		return nil, err
	}
	var result *engine.Multiset
	err = k.read(func() error {
		var evalErr error
		result, evalErr = k.executeQuery(ctx, s.eval, queryText)
		return evalErr
	})
	return result, err
}

// Explain returns the pretty-printed evaluation trace for queryText against
// the current KG, without evaluating it for real effect.
func (s *Storage) Explain(ctx context.Context, queryText string) (*trace.Trace, error) {
	return s.ExplainOn(ctx, s.currentName(), queryText)
}

// ExplainOn returns the pretty-printed evaluation trace for queryText
// against kg (spec §4.8).
func (s *Storage) ExplainOn(ctx context.Context, kg, queryText string) (*trace.Trace, error) {
	k, err := s.lookupKG(kg)
	if err != nil {
		return nil, err
	}
	var result *trace.Trace
	err = k.read(func() error {
		var evalErr error
		result, evalErr = k.explain(ctx, queryText)
		return evalErr
	})
	return result, err
}

// SaveKnowledgeGraph consolidates kg's relations to shard files and
// truncates its WAL (spec §4.6 "save_knowledge_graph").
func (s *Storage) SaveKnowledgeGraph(ctx context.Context, kg string) error {
	k, err := s.lookupKG(kg)
	if err != nil {
		return err
	}
	return k.mutate(func() error { return k.save(ctx, s.eval) })
}

// SaveAll consolidates every KG concurrently, stopping at the first error
// (spec §4.6 "save_all").
func (s *Storage) SaveAll(ctx context.Context) error {
	s.mu.RLock()
	kgs := make([]*kgState, 0, len(s.kgs))
	for _, k := range s.kgs {
		kgs = append(kgs, k)
	}
	s.mu.RUnlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, k := range kgs {
		k := k
		g.Go(func() error {
			return k.mutate(func() error { return k.save(ctx, s.eval) })
		})
	}
	return g.Wait()
}

// Stats returns per-relation row counts for kg.
func (s *Storage) Stats(kg string) (map[string]int, error) {
	k, err := s.lookupKG(kg)
	if err != nil {
		return nil, err
	}
	var out map[string]int
	err = k.read(func() error {
		out = k.stats()
		return nil
	})
	return out, err
}

// Repair clears kg's poisoned flag after an operator has verified its
// on-disk state (spec §5 "operator-initiated repair reopens the KG").
func (s *Storage) Repair(kg string) error {
	k, err := s.lookupKG(kg)
	if err != nil {
		return err
	}
	k.poisoned.Store(false)
	return nil
}

// Close flushes and closes every open KG, then shuts down the evaluator's
// worker pool. Without this, every Storage opened via New leaks its fixed
// pool of worker goroutines.
func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for _, k := range s.kgs {
		if err := k.persist.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.pool != nil {
		s.pool.Shutdown()
	}
	return firstErr
}
