package api

import (
	"cmp"
	"crypto/rand"
	"encoding/hex"
	"slices"
	"sync"
	"time"

	"github.com/samcharles93/xisf/internal/inspect"
)

type unitRecord struct {
	Unit UnitObject
	Data []byte
	seq  uint64
}

// UnitStore keeps uploaded units in memory. When full, the oldest unit is
// evicted to make room.
type UnitStore struct {
	mu       sync.Mutex
	units    map[string]*unitRecord
	maxUnits int
	seq      uint64
}

// NewUnitStore returns a store holding at most maxUnits units. A
// non-positive maxUnits means no limit.
func NewUnitStore(maxUnits int) *UnitStore {
	return &UnitStore{
		units:    make(map[string]*unitRecord),
		maxUnits: maxUnits,
	}
}

func (s *UnitStore) Create(name string, data []byte, report *inspect.Report, now time.Time) UnitObject {
	unit := UnitObject{
		ID:        newUnitID(),
		Object:    "xisf.unit",
		CreatedAt: now.Unix(),
		Name:      name,
		Bytes:     int64(len(data)),
		Report:    report,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.maxUnits > 0 {
		for len(s.units) >= s.maxUnits {
			s.evictOldest()
		}
	}
	s.seq++
	s.units[unit.ID] = &unitRecord{Unit: unit, Data: data, seq: s.seq}
	return unit
}

func (s *UnitStore) evictOldest() {
	var oldest *unitRecord
	for _, rec := range s.units {
		if oldest == nil || rec.seq < oldest.seq {
			oldest = rec
		}
	}
	if oldest != nil {
		delete(s.units, oldest.Unit.ID)
	}
}

func (s *UnitStore) Get(id string) (*unitRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.units[id]
	return rec, ok
}

// List returns the stored units, oldest first.
func (s *UnitStore) List() []UnitObject {
	s.mu.Lock()
	recs := make([]*unitRecord, 0, len(s.units))
	for _, rec := range s.units {
		recs = append(recs, rec)
	}
	s.mu.Unlock()

	slices.SortFunc(recs, func(a, b *unitRecord) int { return cmp.Compare(a.seq, b.seq) })
	out := make([]UnitObject, len(recs))
	for i, rec := range recs {
		out[i] = rec.Unit
	}
	return out
}

func (s *UnitStore) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.units[id]; !ok {
		return false
	}
	delete(s.units, id)
	return true
}

func newUnitID() string {
	b := make([]byte, 12)
	_, _ = rand.Read(b)
	return "unit_" + hex.EncodeToString(b)
}
