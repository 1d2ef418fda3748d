package history

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justchokingaround/segfetch/internal/database"
	"github.com/justchokingaround/segfetch/internal/engine"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	db, err := database.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewService(db)
}

func TestRecordTerminalInsertsThenUpdatesOnReplay(t *testing.T) {
	svc := newTestService(t)

	state := engine.DownloadState{
		DownloadID: "dl-1",
		URL:        "https://example.com/video.mp4",
		OutputPath: "/tmp/video.mp4",
		Status:     engine.StatusCompleted,
		MediaType:  engine.MediaMP4,
	}
	svc.RecordTerminal(state)

	records, err := svc.List(FilterOptions{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "COMPLETED", records[0].Status)

	state.Status = engine.StatusFailed
	state.Error = &engine.DownloadError{Code: engine.ErrCodeUnexpected, TechnicalMessage: "boom"}
	svc.RecordTerminal(state)

	records, err = svc.List(FilterOptions{})
	require.NoError(t, err)
	require.Len(t, records, 1, "same DownloadID must update, not duplicate")
	assert.Equal(t, "FAILED", records[0].Status)
	assert.Equal(t, "boom", records[0].ErrorMessage)
}

func TestListFiltersByStatus(t *testing.T) {
	svc := newTestService(t)
	svc.RecordTerminal(engine.DownloadState{DownloadID: "a", Status: engine.StatusCompleted})
	svc.RecordTerminal(engine.DownloadState{DownloadID: "b", Status: engine.StatusFailed})

	completed, err := svc.List(FilterOptions{Status: "COMPLETED"})
	require.NoError(t, err)
	require.Len(t, completed, 1)
	assert.Equal(t, "a", completed[0].DownloadID)
}

func TestStatsCountsByStatus(t *testing.T) {
	svc := newTestService(t)
	svc.RecordTerminal(engine.DownloadState{DownloadID: "a", Status: engine.StatusCompleted})
	svc.RecordTerminal(engine.DownloadState{DownloadID: "b", Status: engine.StatusFailed})
	svc.RecordTerminal(engine.DownloadState{DownloadID: "c", Status: engine.StatusCanceled})

	stats, err := svc.Stats()
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Total)
	assert.Equal(t, int64(1), stats.Completed)
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, int64(1), stats.Canceled)
}

func TestDeleteByDownloadID(t *testing.T) {
	svc := newTestService(t)
	svc.RecordTerminal(engine.DownloadState{DownloadID: "a", Status: engine.StatusCompleted})

	assert.True(t, svc.DeleteByDownloadID("a"))
	assert.False(t, svc.DeleteByDownloadID("a"))
}

func TestCleanupRemovesNonCompletedRecords(t *testing.T) {
	svc := newTestService(t)
	svc.RecordTerminal(engine.DownloadState{DownloadID: "a", Status: engine.StatusCompleted})
	svc.RecordTerminal(engine.DownloadState{DownloadID: "b", Status: engine.StatusFailed})

	n, err := svc.Cleanup()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	records, err := svc.List(FilterOptions{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "a", records[0].DownloadID)
}
