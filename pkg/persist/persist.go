// Package persist implements InputLayer's per-knowledge-graph durability
// layer (spec §4.7): an append-only NDJSON WAL, periodic consolidation to
// length-prefixed shard files, and crash recovery with a three-tier
// corruption policy.
package persist

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/inputlayer/inputlayer-sub003/pkg/engine"
	"github.com/inputlayer/inputlayer-sub003/pkg/kgerrors"
	"github.com/inputlayer/inputlayer-sub003/pkg/value"
)

// DurabilityMode governs when Handle.AppendBatch fsyncs the WAL (spec §4.7
// point 2).
type DurabilityMode int

const (
	// Immediate fsyncs after every append — the only mode that guarantees
	// no acknowledged write is lost.
	Immediate DurabilityMode = iota
	// Periodic fsyncs on a timer.
	Periodic
	// Batched fsyncs only on an explicit Flush.
	Batched
)

// Update is one tuple's multiplicity delta within a committed batch.
type Update struct {
	Tuple value.Tuple
	Diff  int64
}

// walRecord is one line of wal/current.wal (spec §4.7 point 1, §6
// "first field of each WAL record is v:1").
type walRecord struct {
	V       int         `json:"v"`
	Shard   string      `json:"shard"`
	Updates []walUpdate `json:"updates"`
	LSN     uint64      `json:"lsn"`
}

type walUpdate struct {
	Tuple value.Tuple `json:"tuple"`
	Diff  int64       `json:"diff"`
}

// Handle owns one knowledge graph's wal/, shards/, and meta.json under
// root. It is safe for concurrent AppendBatch calls (serialized internally);
// callers are expected to already hold the KG's write guard (spec §5), so
// Handle's own mutex only protects the file handles and LSN counter.
type Handle struct {
	root            string
	mode            DurabilityMode
	bufferThreshold int
	logger          *logrus.Logger

	mu         sync.Mutex
	walFile    *os.File
	walWriter  *bufio.Writer
	lsn        uint64
	pending    int
	periodicStop chan struct{}
}

// Open opens (creating if absent) the persistence root for one knowledge
// graph, recovers its relations by loading shard files and replaying the
// WAL (spec §4.7 "Recovery on open"), and returns a Handle ready for
// further appends plus the recovered relation snapshot.
func Open(root string, mode DurabilityMode, bufferThreshold int, logger *logrus.Logger) (*Handle, map[string]*engine.Multiset, error) {
	for _, sub := range []string{"wal", "shards", "batches"} {
		if err := os.MkdirAll(filepath.Join(root, sub), 0o755); err != nil {
			return nil, nil, kgerrors.ErrPersistIO.New(err.Error())
		}
	}

	relations, err := loadShards(filepath.Join(root, "shards"))
	if err != nil {
		return nil, nil, err
	}

	walPath := filepath.Join(root, "wal", "current.wal")
	records, maxLSN, err := recoverWAL(walPath)
	if err != nil {
		return nil, nil, err
	}
	for _, rec := range records {
		rel, ok := relations[rec.Shard]
		if !ok {
			rel = engine.NewMultiset()
			relations[rec.Shard] = rel
		}
		for _, u := range rec.Updates {
			rel.Add(u.Tuple, u.Diff)
		}
	}

	f, err := os.OpenFile(walPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, kgerrors.ErrPersistIO.New(err.Error())
	}

	h := &Handle{
		root:            root,
		mode:            mode,
		bufferThreshold: bufferThreshold,
		logger:          logger,
		walFile:         f,
		walWriter:       bufio.NewWriter(f),
		lsn:             maxLSN,
	}
	if mode == Periodic {
		h.startPeriodicFlush(time.Second)
	}
	return h, relations, nil
}

func (h *Handle) startPeriodicFlush(interval time.Duration) {
	h.periodicStop = make(chan struct{})
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				_ = h.Flush()
			case <-h.periodicStop:
				return
			}
		}
	}()
}

// AppendBatch writes one WAL record for shard's updates (spec §4.7 point
// 1), honoring the configured durability mode.
func (h *Handle) AppendBatch(shard string, updates []Update) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.lsn++
	rec := walRecord{V: 1, Shard: shard, LSN: h.lsn, Updates: make([]walUpdate, len(updates))}
	for i, u := range updates {
		rec.Updates[i] = walUpdate{Tuple: u.Tuple, Diff: u.Diff}
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return kgerrors.ErrPersistSerde.New(err.Error())
	}
	if _, err := h.walWriter.Write(line); err != nil {
		return kgerrors.ErrPersistIO.New(err.Error())
	}
	if err := h.walWriter.WriteByte('\n'); err != nil {
		return kgerrors.ErrPersistIO.New(err.Error())
	}

	h.pending += len(updates)
	if h.logger != nil {
		h.logger.WithFields(logrus.Fields{"shard": shard, "lsn": h.lsn, "updates": len(updates)}).Debug("wal append")
	}

	switch h.mode {
	case Immediate:
		return h.syncLocked()
	case Batched, Periodic:
		if h.bufferThreshold > 0 && h.pending >= h.bufferThreshold {
			return h.syncLocked()
		}
	}
	return nil
}

// Flush forces the WAL buffer to disk (spec §4.7 point 2, "Batched...
// fsyncs only on explicit flush").
func (h *Handle) Flush() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.syncLocked()
}

func (h *Handle) syncLocked() error {
	if err := h.walWriter.Flush(); err != nil {
		return kgerrors.ErrPersistIO.New(err.Error())
	}
	if err := h.walFile.Sync(); err != nil {
		return kgerrors.ErrPersistIO.New(err.Error())
	}
	h.pending = 0
	return nil
}

// Consolidate serializes every relation in relations to its shard file,
// then truncates the WAL and begins a new segment (spec §4.7 point 3).
func (h *Handle) Consolidate(relations map[string]*engine.Multiset) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.syncLocked(); err != nil {
		return err
	}

	shardsDir := filepath.Join(h.root, "shards")
	for name, rel := range relations {
		if err := writeShard(shardsDir, name, rel); err != nil {
			return err
		}
	}

	if err := h.walFile.Close(); err != nil {
		return kgerrors.ErrPersistIO.New(err.Error())
	}
	walPath := filepath.Join(h.root, "wal", "current.wal")
	f, err := os.OpenFile(walPath, os.O_TRUNC|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return kgerrors.ErrPersistIO.New(err.Error())
	}
	h.walFile = f
	h.walWriter = bufio.NewWriter(f)

	segmentID := uuid.New().String()
	if h.logger != nil {
		h.logger.WithFields(logrus.Fields{"segment": segmentID, "shards": len(relations)}).Info("consolidated")
	}
	return nil
}

// Close flushes and closes the WAL file handle.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.periodicStop != nil {
		close(h.periodicStop)
		h.periodicStop = nil
	}
	if err := h.syncLocked(); err != nil {
		return err
	}
	if err := h.walFile.Close(); err != nil {
		return kgerrors.ErrPersistIO.New(err.Error())
	}
	return nil
}

func (h *Handle) String() string {
	return fmt.Sprintf("persist.Handle{root=%s, mode=%d}", h.root, h.mode)
}
