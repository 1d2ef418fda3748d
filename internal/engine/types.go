// Package engine implements a segmented HTTP media downloader: it resolves
// a URL into a set of segments (an HLS playlist, or byte ranges of a plain
// file), fetches them under bounded concurrency, and merges them into a
// single output file, exposing pause/resume/cancel and a progress stream.
package engine

import (
	"fmt"
	"strings"
)

// DownloadID uniquely identifies a download for the lifetime of an Engine.
type DownloadID string

// MediaType is the kind of resource a download resolves to.
type MediaType int

const (
	MediaM3U8 MediaType = iota
	MediaMP4
	MediaMKV
)

func (t MediaType) String() string {
	switch t {
	case MediaMP4:
		return "mp4"
	case MediaMKV:
		return "mkv"
	default:
		return "m3u8"
	}
}

// DetectMediaType infers a MediaType from a URL path suffix, case-insensitive.
// Anything that doesn't match a known container extension is treated as M3U8.
func DetectMediaType(rawURL string) MediaType {
	path := rawURL
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if i := strings.IndexByte(path, '#'); i >= 0 {
		path = path[:i]
	}
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".mp4"):
		return MediaMP4
	case strings.HasSuffix(lower, ".mkv"):
		return MediaMKV
	default:
		return MediaM3U8
	}
}

// DownloadStatus is a node in the download state machine.
type DownloadStatus string

const (
	StatusInitializing DownloadStatus = "INITIALIZING"
	StatusDownloading  DownloadStatus = "DOWNLOADING"
	StatusPaused       DownloadStatus = "PAUSED"
	StatusMerging      DownloadStatus = "MERGING"
	StatusCompleted    DownloadStatus = "COMPLETED"
	StatusFailed       DownloadStatus = "FAILED"
	StatusCanceled     DownloadStatus = "CANCELED"
)

// IsTerminal reports whether no further transitions follow this status
// without a fresh resume/download call.
func (s DownloadStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCanceled
}

// IsActive reports whether the status corresponds to a live or startable task.
func (s DownloadStatus) IsActive() bool {
	return s == StatusInitializing || s == StatusDownloading || s == StatusMerging
}

// DownloadErrorCode classifies a terminal failure.
type DownloadErrorCode string

const (
	ErrCodeUnexpected  DownloadErrorCode = "UNEXPECTED_ERROR"
	ErrCodeNoMediaList DownloadErrorCode = "NO_MEDIA_LIST"
)

// DownloadError is the public, serializable error carried by DownloadState
// and DownloadProgress once a download reaches FAILED.
type DownloadError struct {
	Code             DownloadErrorCode
	TechnicalMessage string
}

func (e *DownloadError) Error() string {
	if e == nil {
		return ""
	}
	if e.TechnicalMessage == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.TechnicalMessage)
}

// SegmentInfo describes one fetchable unit of the final artifact.
type SegmentInfo struct {
	Index        int
	URL          string
	RangeStart   int64 // -1 when absent
	RangeEnd     int64 // -1 when absent
	ByteSize     int64 // -1 when unknown
	TempFilePath string
	IsDownloaded bool
}

// HasRange reports whether both range endpoints are set.
func (s SegmentInfo) HasRange() bool {
	return s.RangeStart >= 0 && s.RangeEnd >= 0
}

// DownloadState is an immutable snapshot of a download. A new value replaces
// the old one atomically in the State Store on every mutation; callers must
// never mutate a State they read back.
type DownloadState struct {
	DownloadID      DownloadID
	URL             string
	OutputPath      string
	SegmentCacheDir string
	Segments        []SegmentInfo
	TotalSegments   int
	DownloadedBytes int64
	TimestampMillis int64
	Status          DownloadStatus
	MediaType       MediaType
	Error           *DownloadError
}

// clone returns a deep-enough copy: the Segments slice is copied so a
// subsequent update cannot be observed by holders of the old snapshot.
func (s DownloadState) clone() DownloadState {
	segs := make([]SegmentInfo, len(s.Segments))
	copy(segs, s.Segments)
	s.Segments = segs
	return s
}

// DownloadOptions configures a single download call.
type DownloadOptions struct {
	Headers               map[string]string
	MaxConcurrentSegments int
	// MinFreeSpaceBytes, when > 0, is checked against the segment cache
	// directory's filesystem before planning begins; insufficient space
	// fails the download with UNEXPECTED_ERROR instead of starting it.
	MinFreeSpaceBytes int64
}

// DefaultDownloadOptions returns sane defaults: no extra headers, four
// concurrent segment fetches, no disk-space precheck.
func DefaultDownloadOptions() DownloadOptions {
	return DownloadOptions{
		Headers:               map[string]string{},
		MaxConcurrentSegments: 4,
	}
}

// DownloadProgress is a point-in-time summary shipped to progress subscribers.
type DownloadProgress struct {
	DownloadID         DownloadID
	URL                string
	TotalSegments      int
	DownloadedSegments int
	DownloadedBytes    int64
	TotalBytes         int64
	Status             DownloadStatus
	Error              *DownloadError
}

func progressFromState(s DownloadState) DownloadProgress {
	downloaded := 0
	var byteTotal int64
	for _, seg := range s.Segments {
		if seg.IsDownloaded {
			downloaded++
		}
		if seg.ByteSize >= 0 {
			byteTotal += seg.ByteSize
		}
	}
	if byteTotal < s.DownloadedBytes {
		byteTotal = s.DownloadedBytes
	}
	return DownloadProgress{
		DownloadID:         s.DownloadID,
		URL:                s.URL,
		TotalSegments:      s.TotalSegments,
		DownloadedSegments: downloaded,
		DownloadedBytes:    s.DownloadedBytes,
		TotalBytes:         byteTotal,
		Status:             s.Status,
		Error:              s.Error,
	}
}
