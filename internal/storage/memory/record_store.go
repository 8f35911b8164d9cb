package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/JakeFAU/omnicrawler/internal/clock/system"
	"github.com/JakeFAU/omnicrawler/internal/crawler"
)

// Entry is the persisted state of one identity.
type Entry struct {
	Record      crawler.RawRecord
	Fingerprint crawler.Fingerprint
	Features    crawler.FeatureSet
	LastSeen    time.Time
	UpdatedAt   time.Time
	// Writes counts payload rewrites; touches do not increment it.
	Writes int
}

// RecordStore is an in-memory crawler.StoreGateway for fake runs and tests.
type RecordStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
	clock   crawler.Clock
	touches int
}

// NewRecordStore constructs a RecordStore. A nil clock uses the system clock.
func NewRecordStore(clock crawler.Clock) *RecordStore {
	if clock == nil {
		clock = system.New()
	}
	return &RecordStore{
		entries: make(map[string]Entry),
		clock:   clock,
	}
}

// LookupFingerprint returns the stored fingerprint for identity.
func (s *RecordStore) LookupFingerprint(_ context.Context, identity string) (crawler.Fingerprint, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[identity]
	return e.Fingerprint, ok, nil
}

// Touch refreshes LastSeen. Unknown identities are ignored.
func (s *RecordStore) Touch(_ context.Context, identity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touchLocked(identity)
	return nil
}

// Upsert writes req unless the stored fingerprint already matches, in which
// case only LastSeen moves.
func (s *RecordStore) Upsert(_ context.Context, req crawler.UpsertRequest) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	identity := req.Record.Identity
	current, found := s.entries[identity]
	if found && current.Fingerprint == req.Fingerprint {
		s.touchLocked(identity)
		return false, nil
	}
	if err := crawler.CheckExpected(req.Expected, current.Fingerprint, found); err != nil {
		return false, err
	}

	now := s.clock.Now()
	s.entries[identity] = Entry{
		Record:      cloneRecord(req.Record),
		Fingerprint: req.Fingerprint,
		Features:    req.Features,
		LastSeen:    now,
		UpdatedAt:   now,
		Writes:      current.Writes + 1,
	}
	return true, nil
}

// Ping always succeeds.
func (s *RecordStore) Ping(context.Context) error {
	return nil
}

// Get returns a copy of the entry for identity.
func (s *RecordStore) Get(identity string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[identity]
	return e, ok
}

// Len reports how many identities are stored.
func (s *RecordStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Touches reports how many freshness-only updates were applied.
func (s *RecordStore) Touches() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.touches
}

func (s *RecordStore) touchLocked(identity string) {
	e, ok := s.entries[identity]
	if !ok {
		return
	}
	e.LastSeen = s.clock.Now()
	s.entries[identity] = e
	s.touches++
}

func cloneRecord(r crawler.RawRecord) crawler.RawRecord {
	r.Captions = slices.Clone(r.Captions)
	r.Images = slices.Clone(r.Images)
	r.LinkDomains = slices.Clone(r.LinkDomains)
	return r
}
