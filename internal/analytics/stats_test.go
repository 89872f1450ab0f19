package analytics

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func mockDownloadPathFn() (string, error) {
	return "/tmp", nil
}

func TestStatsManager(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "analytics.db"))
	require.NoError(t, err)

	require.NoError(t, store.RecordCompletion(CompletedJob{
		JobID: "job-1", URL: "https://example.com/a", Status: "completed", Bytes: 4096,
	}))

	sm := NewStatsManager(store, mockDownloadPathFn)
	require.NotNil(t, sm)

	sm.UpdateDownloadSpeed(1024)
	require.EqualValues(t, 1024, sm.GetCurrentSpeed())

	lifetime, err := sm.GetLifetimeBytes()
	require.NoError(t, err)
	require.EqualValues(t, 4096, lifetime)

	totalFiles, err := sm.GetTotalFiles()
	require.NoError(t, err)
	require.EqualValues(t, 1, totalFiles)

	daily, err := sm.GetDailyStats(7)
	require.NoError(t, err)
	require.LessOrEqual(t, len(daily), 7)

	usage := sm.GetDiskUsage()
	require.GreaterOrEqual(t, usage.Percent, 0.0)
	require.LessOrEqual(t, usage.Percent, 100.0)

	summary := sm.GetSummary()
	require.EqualValues(t, 4096, summary.TotalBytes)
	require.EqualValues(t, 1, summary.TotalFiles)
}
