package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/docucrawl/internal/crawler"
)

// ReportStore indexes report records in memory.
type ReportStore struct {
	mu      sync.RWMutex
	records map[string]crawler.ReportRecord
	byRun   map[string]string
}

// NewReportStore constructs an empty ReportStore.
func NewReportStore() *ReportStore {
	return &ReportStore{
		records: make(map[string]crawler.ReportRecord),
		byRun:   make(map[string]string),
	}
}

// StoreReport records the row; re-storing an ID is a no-op.
func (s *ReportStore) StoreReport(_ context.Context, record crawler.ReportRecord) error {
	if record.ID == "" {
		return fmt.Errorf("record id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[record.ID]; exists {
		return nil
	}
	s.records[record.ID] = record
	s.byRun[record.RunID] = record.ID
	return nil
}

// ForRun returns the report indexed for runID.
func (s *ReportStore) ForRun(runID string) (crawler.ReportRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byRun[runID]
	if !ok {
		return crawler.ReportRecord{}, false
	}
	return s.records[id], true
}
