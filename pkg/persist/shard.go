package persist

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/inputlayer/inputlayer-sub003/pkg/engine"
	"github.com/inputlayer/inputlayer-sub003/pkg/kgerrors"
	"github.com/inputlayer/inputlayer-sub003/pkg/value"
)

// shardRow is one consolidated tuple within a shard file.
type shardRow struct {
	Tuple value.Tuple `json:"tuple"`
	Mult  int64       `json:"mult"`
}

// writeShard serializes rel to shardsDir/<name>.dat as a sequence of
// 4-byte big-endian length prefixes each followed by a JSON-encoded
// shardRow (spec §6: "length-prefixed serialized relations"). The file is
// written to a temp path and renamed into place so a crash mid-write never
// leaves a torn shard visible to the next Open.
func writeShard(shardsDir, name string, rel *engine.Multiset) error {
	tmpPath := filepath.Join(shardsDir, name+".dat.tmp")
	finalPath := filepath.Join(shardsDir, name+".dat")

	f, err := os.OpenFile(tmpPath, os.O_TRUNC|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return kgerrors.ErrPersistIO.New(err.Error())
	}
	w := bufio.NewWriter(f)

	var writeErr error
	rel.Each(func(t value.Tuple, m int64) {
		if writeErr != nil {
			return
		}
		row := shardRow{Tuple: t, Mult: m}
		b, err := json.Marshal(row)
		if err != nil {
			writeErr = err
			return
		}
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
		if _, err := w.Write(lenBuf[:]); err != nil {
			writeErr = err
			return
		}
		if _, err := w.Write(b); err != nil {
			writeErr = err
		}
	})
	if writeErr == nil {
		writeErr = w.Flush()
	}
	if writeErr == nil {
		writeErr = f.Sync()
	}
	f.Close()
	if writeErr != nil {
		os.Remove(tmpPath)
		return kgerrors.ErrPersistIO.New(writeErr.Error())
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return kgerrors.ErrPersistIO.New(err.Error())
	}
	return nil
}

// loadShards reads every <name>.dat file in shardsDir into a fresh
// Multiset keyed by relation name.
func loadShards(shardsDir string) (map[string]*engine.Multiset, error) {
	out := map[string]*engine.Multiset{}
	entries, err := os.ReadDir(shardsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return out, nil
		}
		return nil, kgerrors.ErrPersistIO.New(err.Error())
	}

	for _, ent := range entries {
		if ent.IsDir() || !strings.HasSuffix(ent.Name(), ".dat") {
			continue
		}
		name := strings.TrimSuffix(ent.Name(), ".dat")
		rel, err := readShard(filepath.Join(shardsDir, ent.Name()))
		if err != nil {
			return nil, kgerrors.ErrShardCorrupt.New(ent.Name(), err.Error())
		}
		out[name] = rel
	}
	return out, nil
}

func readShard(path string) (*engine.Multiset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rel := engine.NewMultiset()
	r := bufio.NewReader(f)
	for {
		var lenBuf [4]byte
		_, err := io.ReadFull(r, lenBuf[:])
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		n := binary.BigEndian.Uint32(lenBuf[:])
		buf := make([]byte, n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		var row shardRow
		if err := json.Unmarshal(buf, &row); err != nil {
			return nil, err
		}
		rel.Add(row.Tuple, row.Mult)
	}
	return rel, nil
}
