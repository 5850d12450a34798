package core

import (
	"fmt"
	"sync"
)

// Entry is a cached payload together with the fingerprint it is valid for.
type Entry struct {
	Coordinate  Coordinate
	Stage       Stage
	Fingerprint Fingerprint
	Payload     Payload
}

// Store is the artifact cache.
//
// Get never triggers computation. Put is atomic: an entry is either fully
// visible or absent. Writing a key again with the same fingerprint replaces
// it silently. Writing a key that this Store already wrote during its
// lifetime with a different fingerprint AND a different payload fails with
// a *ConflictError, since two producers disagree about the same coordinate.
// Entries inherited from earlier runs are simply replaced when their
// fingerprint changes.
type Store interface {
	Get(c Coordinate, stage Stage) (Entry, bool, error)
	Put(c Coordinate, stage Stage, fp Fingerprint, p Payload) error
}

type storeKey struct {
	coord Coordinate
	stage Stage
}

type writeRecord struct {
	fp       Fingerprint
	identity string
}

// keyLedger serializes the writers of one key.
type keyLedger struct {
	mu      sync.Mutex
	written *writeRecord
}

// writeLedger tracks what the owning store wrote during its lifetime to
// detect conflicting writers. Writers of different keys do not wait for
// each other.
type writeLedger struct {
	mu   sync.Mutex
	keys map[storeKey]*keyLedger
}

func newWriteLedger() *writeLedger {
	return &writeLedger{keys: make(map[storeKey]*keyLedger)}
}

func (l *writeLedger) key(k storeKey) *keyLedger {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl, ok := l.keys[k]
	if !ok {
		kl = &keyLedger{}
		l.keys[k] = kl
	}
	return kl
}

// admit records a write or rejects it as a conflict. commit runs under the
// key's lock so that admission and publication are a single step.
func (l *writeLedger) admit(key storeKey, fp Fingerprint, identity string, commit func() error) error {
	kl := l.key(key)
	kl.mu.Lock()
	defer kl.mu.Unlock()

	if prev := kl.written; prev != nil && prev.fp != fp && prev.identity != identity {
		return &ConflictError{
			Stage:      key.stage,
			Coordinate: key.coord,
			Existing:   string(prev.fp),
			Incoming:   string(fp),
		}
	}
	if err := commit(); err != nil {
		return err
	}
	kl.written = &writeRecord{fp: fp, identity: identity}
	return nil
}

type memoryEntry struct {
	fp   Fingerprint
	data []byte
}

// MemoryStore implements Store in memory. Payloads are stored encoded, so
// callers can never mutate a cached value through a shared map or slice.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[storeKey]memoryEntry
	ledger  *writeLedger
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[storeKey]memoryEntry),
		ledger:  newWriteLedger(),
	}
}

// Get returns the entry cached for (c, stage).
func (s *MemoryStore) Get(c Coordinate, stage Stage) (Entry, bool, error) {
	s.mu.RLock()
	e, ok := s.entries[storeKey{coord: c, stage: stage}]
	s.mu.RUnlock()
	if !ok {
		return Entry{}, false, nil
	}
	p, err := DecodePayload(stage, e.data)
	if err != nil {
		return Entry{}, false, err
	}
	return Entry{Coordinate: c, Stage: stage, Fingerprint: e.fp, Payload: p}, true, nil
}

// Put stores p for (c, stage) under fp.
func (s *MemoryStore) Put(c Coordinate, stage Stage, fp Fingerprint, p Payload) error {
	if p == nil {
		return fmt.Errorf("payload is nil")
	}
	data, err := EncodePayload(p)
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}
	id, err := PayloadIdentity(p)
	if err != nil {
		return err
	}
	key := storeKey{coord: c, stage: stage}
	return s.ledger.admit(key, fp, id, func() error {
		s.mu.Lock()
		s.entries[key] = memoryEntry{fp: fp, data: data}
		s.mu.Unlock()
		return nil
	})
}

// Len returns the number of cached entries.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// NopStore never caches anything. It backs clean runs.
type NopStore struct{}

func (NopStore) Get(Coordinate, Stage) (Entry, bool, error) { return Entry{}, false, nil }
func (NopStore) Put(Coordinate, Stage, Fingerprint, Payload) error { return nil }
