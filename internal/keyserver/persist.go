package keyserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

type snapshot struct {
	Records []Record `json:"records"`
	Stats   Stats    `json:"stats"`
}

// Save writes every record and the counters to path. The file is replaced
// atomically.
func (s *Store) Save(path string) error {
	snap := snapshot{Records: s.List(), Stats: s.Stats()}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	path = filepath.Clean(path)
	tempFile := path + ".tmp"
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tempFile, path); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// LoadStore reads a store written by Save. A missing file yields an empty
// store. Every record is decoded again so a damaged entry fails the load
// instead of being served.
func LoadStore(path string) (*Store, error) {
	s := NewStore()

	data, err := os.ReadFile(filepath.Clean(path))
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load data: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal data: %w", err)
	}

	for i := range snap.Records {
		rec := snap.Records[i]
		if _, err := Decode(rec.Txt); err != nil {
			return nil, fmt.Errorf("record %s: %w", rec.Name, err)
		}
		rec.Name = canonical(rec.Name)
		s.records[rec.Name] = &rec
	}
	s.stats = snap.Stats
	s.stats.Keys = len(s.records)
	return s, nil
}
