package memory

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"

	"warungpos/backend/internal/schema"
)

type snapshot struct {
	Version     int                           `json:"version"`
	Collections map[string]snapshotCollection `json:"collections"`
}

type snapshotCollection struct {
	Seq     int64           `json:"seq"`
	Records []schema.Record `json:"records"`
}

func (s *Store) load() error {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}

	var snap snapshot
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&snap); err != nil {
		return fmt.Errorf("decode snapshot %s: %w", s.path, err)
	}

	version, known := schema.Lookup(snap.Version)
	collections := make(map[string]*collection, len(snap.Collections))
	for name, sc := range snap.Collections {
		spec, ok := version.Collection(name)
		if !known || !ok {
			// Written by a newer build or holding a collection this build no
			// longer declares; keep the data unindexed.
			spec = schema.Collection{Name: name, AutoIncrement: sc.Seq > 0}
		}
		c := newCollection(spec)
		c.seq = sc.Seq
		for _, rec := range sc.Records {
			rec = schema.Normalize(rec)
			k, err := c.keyOf(rec[schema.KeyField])
			if err != nil {
				return fmt.Errorf("snapshot %s: %w", name, err)
			}
			c.records[k] = rec
		}
		if err := c.rebuild(spec); err != nil {
			return fmt.Errorf("snapshot %s: %w", name, err)
		}
		collections[name] = c
	}

	s.collections = collections
	s.version = snap.Version
	s.logger.Infow("snapshot loaded", "path", s.path, "version", snap.Version, "collections", len(collections))
	return nil
}

// persist writes the current state to the snapshot file through a temporary
// file and a rename, so a crash leaves either the old or the new snapshot.
// The caller holds the write lock.
func (s *Store) persist() error {
	if s.path == "" {
		return nil
	}
	snap := snapshot{
		Version:     s.version,
		Collections: make(map[string]snapshotCollection, len(s.collections)),
	}
	for name, c := range s.collections {
		recs := make([]schema.Record, 0, len(c.records))
		for _, k := range c.sortedKeys() {
			recs = append(recs, c.records[k])
		}
		snap.Collections[name] = snapshotCollection{Seq: c.seq, Records: recs}
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".snapshot-*.tmp")
	if err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}
