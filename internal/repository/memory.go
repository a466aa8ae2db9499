package repository

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"tracked-mail-relay-go/internal/model"
)

// MemoryStore is a thread-safe in-process Store. Records are deep-copied on
// the way in and out so callers never share state with the store.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]model.EventRecord
	nextID  uint
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]model.EventRecord)}
}

func (s *MemoryStore) GetOrCreate(_ context.Context, messageID string) (*model.EventRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if rec, ok := s.records[messageID]; ok {
		return clone(rec)
	}
	return model.NewEventRecord(messageID), nil
}

func (s *MemoryStore) Save(_ context.Context, record *model.EventRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if existing, ok := s.records[record.MessageID]; ok {
		record.ID = existing.ID
		record.CreatedAt = existing.CreatedAt
	} else {
		s.nextID++
		record.ID = s.nextID
		record.CreatedAt = now
	}
	record.UpdatedAt = now

	stored, err := clone(*record)
	if err != nil {
		return err
	}
	s.records[record.MessageID] = *stored
	return nil
}

func (s *MemoryStore) MostRecentByWatermark(_ context.Context) (*model.EventRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *model.EventRecord
	for _, rec := range s.records {
		if rec.LatestEvent == nil {
			continue
		}
		if best == nil || *rec.LatestEvent > *best.LatestEvent {
			r := rec
			best = &r
		}
	}
	if best == nil {
		return nil, nil
	}
	return clone(*best)
}

func (s *MemoryStore) Get(_ context.Context, messageID string) (*model.EventRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[messageID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(rec)
}

func (s *MemoryStore) List(_ context.Context, offset, limit int) ([]model.EventRecord, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]model.EventRecord, 0, len(s.records))
	for _, rec := range s.records {
		all = append(all, rec)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Watermark() != all[j].Watermark() {
			return all[i].Watermark() > all[j].Watermark()
		}
		return all[i].ID < all[j].ID
	})

	total := int64(len(all))
	if offset >= len(all) {
		return []model.EventRecord{}, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(all) {
		end = len(all)
	}

	page := make([]model.EventRecord, 0, end-offset)
	for _, rec := range all[offset:end] {
		c, err := clone(rec)
		if err != nil {
			return nil, 0, err
		}
		page = append(page, *c)
	}
	return page, total, nil
}

func clone(rec model.EventRecord) (*model.EventRecord, error) {
	b, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	var out model.EventRecord
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
