package core

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// FileStore implements Store on the filesystem so cache entries survive
// across runs.
//
// Structure:
//
//	{Root}/
//	  {stage}/
//	    {core}/[{pdk}/]{benchmark}/
//	      entry.json  (coordinate, fingerprint, payload)
//
// entry.json is written to a temp file and renamed into place, so a reader
// either sees a complete entry or none at all.
type FileStore struct {
	// Root is the cache directory.
	Root string

	ledger *writeLedger
}

type fileEntry struct {
	Stage       Stage           `json:"stage"`
	Coordinate  Coordinate      `json:"coordinate"`
	Fingerprint Fingerprint     `json:"fingerprint"`
	Payload     json.RawMessage `json:"payload"`
}

// NewFileStore creates a filesystem-backed store rooted at root.
func NewFileStore(root string) *FileStore {
	return &FileStore{Root: root, ledger: newWriteLedger()}
}

// Get reads the entry for (c, stage) from disk.
func (s *FileStore) Get(c Coordinate, stage Stage) (Entry, bool, error) {
	path, err := s.entryPath(c, stage)
	if err != nil {
		return Entry{}, false, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("reading cache entry: %w", err)
	}

	var fe fileEntry
	if err := json.Unmarshal(data, &fe); err != nil {
		return Entry{}, false, fmt.Errorf("parsing cache entry %s %s: %w", stage, c, err)
	}
	if fe.Stage != stage || fe.Coordinate != c {
		return Entry{}, false, fmt.Errorf("cache entry at %s belongs to %s %s", path, fe.Stage, fe.Coordinate)
	}
	p, err := DecodePayload(stage, fe.Payload)
	if err != nil {
		return Entry{}, false, err
	}
	return Entry{Coordinate: c, Stage: stage, Fingerprint: fe.Fingerprint, Payload: p}, true, nil
}

// Put writes p for (c, stage) under fp.
func (s *FileStore) Put(c Coordinate, stage Stage, fp Fingerprint, p Payload) error {
	if p == nil {
		return fmt.Errorf("payload is nil")
	}
	path, err := s.entryPath(c, stage)
	if err != nil {
		return err
	}
	raw, err := EncodePayload(p)
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}
	id, err := PayloadIdentity(p)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(fileEntry{Stage: stage, Coordinate: c, Fingerprint: fp, Payload: raw}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling cache entry: %w", err)
	}

	return s.ledger.admit(storeKey{coord: c, stage: stage}, fp, id, func() error {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("creating cache directory: %w", err)
		}
		if err := WriteFileAtomic(path, data, 0o644); err != nil {
			return fmt.Errorf("writing cache entry: %w", err)
		}
		return nil
	})
}

// Clear removes every entry from disk.
func (s *FileStore) Clear() error {
	if s.Root == "" || filepath.Clean(s.Root) == "/" {
		return fmt.Errorf("refusing to clear cache root %q", s.Root)
	}
	return os.RemoveAll(s.Root)
}

// entryPath refuses coordinates that would not map to their own directory
// below Root.
func (s *FileStore) entryPath(c Coordinate, stage Stage) (string, error) {
	if err := c.Validate(); err != nil {
		return "", fmt.Errorf("cache key: %w", err)
	}
	rel := filepath.Join(string(stage), c.Path())
	if !filepath.IsLocal(rel) {
		return "", fmt.Errorf("cache key %s %s escapes the cache root", stage, c)
	}
	return filepath.Join(s.Root, rel, "entry.json"), nil
}

// WriteFileAtomic writes data to a temp file beside path and renames it into
// place.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	tmp, err := os.CreateTemp(dir, base+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	_ = tmp.Sync() // best-effort durability
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
