// Package history adapts the sqlite-backed ledger into engine.HistorySink,
// the same write-behind role greg's internal/history.Service played for its
// TUI: upserted by DownloadID, queried back only by the CLI, never by the
// engine itself.
package history

import (
	"fmt"

	"github.com/justchokingaround/segfetch/internal/database"
	"github.com/justchokingaround/segfetch/internal/engine"
)

// SortOrder selects how List orders results.
type SortOrder int

const (
	SortByCreatedDesc SortOrder = iota
	SortByCreatedAsc
)

// FilterOptions narrows List results.
type FilterOptions struct {
	Status string
	Sort   SortOrder
	Limit  int
}

// Stats summarizes the ledger for the CLI's history stats subcommand.
type Stats struct {
	Total     int64
	Completed int64
	Failed    int64
	Canceled  int64
}

// Service is a gorm-backed engine.HistorySink.
type Service struct {
	db *database.DB
}

// NewService wraps an opened database.DB.
func NewService(db *database.DB) *Service {
	return &Service{db: db}
}

// RecordTerminal upserts state's terminal outcome, keyed by DownloadID. It
// implements engine.HistorySink and is called on every terminal transition,
// from the engine's fail/Cancel/runTask completion paths; a later terminal
// transition of the same download (e.g. after Resume) overwrites its row.
func (s *Service) RecordTerminal(state engine.DownloadState) {
	record := database.HistoryRecord{
		DownloadID:      string(state.DownloadID),
		URL:             state.URL,
		OutputPath:      state.OutputPath,
		Status:          string(state.Status),
		MediaType:       state.MediaType.String(),
		TotalSegments:   state.TotalSegments,
		DownloadedBytes: state.DownloadedBytes,
	}
	if state.Error != nil {
		record.ErrorCode = string(state.Error.Code)
		record.ErrorMessage = state.Error.TechnicalMessage
	}

	gdb := s.db.GormDB()
	var existing database.HistoryRecord
	err := gdb.Where("download_id = ?", record.DownloadID).First(&existing).Error
	if err == nil {
		record.ID = existing.ID
		gdb.Save(&record)
		return
	}
	gdb.Create(&record)
}

// List returns history records matching opts, most recent first by default.
func (s *Service) List(opts FilterOptions) ([]database.HistoryRecord, error) {
	q := s.db.GormDB().Model(&database.HistoryRecord{})
	if opts.Status != "" {
		q = q.Where("status = ?", opts.Status)
	}
	if opts.Sort == SortByCreatedAsc {
		q = q.Order("created_at asc")
	} else {
		q = q.Order("created_at desc")
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}

	var records []database.HistoryRecord
	if err := q.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	return records, nil
}

// GetByDownloadID returns a single record, or false if none matches.
func (s *Service) GetByDownloadID(id string) (database.HistoryRecord, bool) {
	var record database.HistoryRecord
	err := s.db.GormDB().Where("download_id = ?", id).First(&record).Error
	return record, err == nil
}

// DeleteByDownloadID removes a record. Returns false if none matched.
func (s *Service) DeleteByDownloadID(id string) bool {
	res := s.db.GormDB().Where("download_id = ?", id).Delete(&database.HistoryRecord{})
	return res.Error == nil && res.RowsAffected > 0
}

// Stats aggregates counts by terminal status.
func (s *Service) Stats() (Stats, error) {
	gdb := s.db.GormDB()
	var stats Stats
	if err := gdb.Model(&database.HistoryRecord{}).Count(&stats.Total).Error; err != nil {
		return Stats{}, fmt.Errorf("count history: %w", err)
	}
	gdb.Model(&database.HistoryRecord{}).Where("status = ?", "COMPLETED").Count(&stats.Completed)
	gdb.Model(&database.HistoryRecord{}).Where("status = ?", "FAILED").Count(&stats.Failed)
	gdb.Model(&database.HistoryRecord{}).Where("status = ?", "CANCELED").Count(&stats.Canceled)
	return stats, nil
}

// Cleanup deletes every record whose status is not a terminal success, used
// by the CLI to prune failed/canceled noise from the ledger.
func (s *Service) Cleanup() (int64, error) {
	res := s.db.GormDB().Where("status != ?", "COMPLETED").Delete(&database.HistoryRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("cleanup history: %w", res.Error)
	}
	return res.RowsAffected, nil
}
