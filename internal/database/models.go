package database

import "time"

// HistoryRecord is the terminal-outcome row greg's history service wrote on
// every completed or failed download, trimmed to what the engine's
// DownloadState carries: no provider/media-list columns, since segfetch has
// no streaming-provider registry to join against.
type HistoryRecord struct {
	ID              uint `gorm:"primarykey"`
	DownloadID      string `gorm:"uniqueIndex;size:64"`
	URL             string `gorm:"size:2048"`
	OutputPath      string `gorm:"size:1024"`
	Status          string `gorm:"size:32;index"`
	MediaType       string `gorm:"size:16"`
	TotalSegments   int
	DownloadedBytes int64
	ErrorCode       string `gorm:"size:32"`
	ErrorMessage    string `gorm:"size:2048"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
