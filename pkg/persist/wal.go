package persist

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/inputlayer/inputlayer-sub003/pkg/kgerrors"
)

// recoverWAL reads path's NDJSON records in order, applying the three-tier
// corruption policy of spec §4.7:
//
//   - the file doesn't end with a newline (the writer crashed mid-append,
//     before the trailing '\n' landed) — its last line is a torn write;
//     drop it silently, this is the only silent truncation.
//   - any other unparseable line — including the very first record, or a
//     garbage record buried after otherwise-valid ones — fails the open
//     with ErrWalCorrupt.
//
// On a torn tail, the file on disk is rewritten to just the valid
// records so subsequent appends start from a clean boundary.
func recoverWAL(path string) ([]walRecord, uint64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, nil
		}
		return nil, 0, kgerrors.ErrPersistIO.New(err.Error())
	}
	if len(data) == 0 {
		return nil, 0, nil
	}

	endsClean := data[len(data)-1] == '\n'
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")

	var records []walRecord
	var validLines []string
	var maxLSN uint64
	torn := false

	for i, line := range lines {
		if line == "" {
			continue
		}
		if i == len(lines)-1 && !endsClean {
			torn = true
			break
		}
		var rec walRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return nil, 0, kgerrors.ErrWalCorrupt.New(path, err.Error())
		}
		records = append(records, rec)
		validLines = append(validLines, line)
		if rec.LSN > maxLSN {
			maxLSN = rec.LSN
		}
	}

	if torn {
		rewritten := strings.Join(validLines, "\n")
		if len(validLines) > 0 {
			rewritten += "\n"
		}
		if err := os.WriteFile(path, []byte(rewritten), 0o644); err != nil {
			return nil, 0, kgerrors.ErrPersistIO.New(err.Error())
		}
	}

	return records, maxLSN, nil
}
