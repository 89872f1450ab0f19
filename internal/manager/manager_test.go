package manager

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"tachyon-core/internal/analytics"
	"tachyon-core/internal/hostevent"
)

func newTestManager(t *testing.T) (*Manager, context.Context) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	dir := t.TempDir()
	m := New(ctx, Options{
		MaxConcurrentDownloads: 2,
		MaxTotalInstances:      4,
		TempDir:                filepath.Join(dir, "temp_downloads"),
		BinDir:                 filepath.Join(dir, "bin"),
		JobsFilePath:           filepath.Join(dir, "jobs.json"),
		Sink:                   hostevent.NopSink{},
	})
	m.Start(ctx)
	return m, ctx
}

func TestAddJobRejectsDuplicateID(t *testing.T) {
	m, _ := newTestManager(t)
	job := QueuedJob{ID: uuid.New(), URL: "https://example.com/a", FormatPreset: FormatBest}

	require.NoError(t, m.AddJob(job))
	err := m.AddJob(job)
	require.Error(t, err)
}

func TestAddJobRejectsDuplicateURLWhilePending(t *testing.T) {
	m, _ := newTestManager(t)
	job1 := QueuedJob{ID: uuid.New(), URL: "https://example.com/a", FormatPreset: FormatBest}
	job2 := QueuedJob{ID: uuid.New(), URL: "https://example.com/a", FormatPreset: FormatBest}

	require.NoError(t, m.AddJob(job1))
	err := m.AddJob(job2)
	require.Error(t, err)
}

func TestCancelJobIsAbsorbing(t *testing.T) {
	m, _ := newTestManager(t)
	job := QueuedJob{ID: uuid.New(), URL: "https://example.com/a", FormatPreset: FormatBest}
	require.NoError(t, m.AddJob(job))

	m.CancelJob(job.ID)

	require.Eventually(t, func() bool {
		states := m.SyncState()
		for _, d := range states {
			if d.ID == job.ID {
				return d.Status == StatusCancelled
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	// A late JobError for the same id must not move it out of cancelled.
	m.JobError(job.ID, "boom", "", nil, 1)
	time.Sleep(50 * time.Millisecond)

	states := m.SyncState()
	for _, d := range states {
		if d.ID == job.ID {
			require.Equal(t, StatusCancelled, d.Status)
		}
	}
}

func TestGetPendingCount(t *testing.T) {
	m, _ := newTestManager(t)
	require.Equal(t, 0, m.GetPendingCount())
}

func TestJobCompletedRecordsAnalytics(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	dir := t.TempDir()
	store, err := analytics.Open(filepath.Join(dir, "analytics.db"))
	require.NoError(t, err)

	m := New(ctx, Options{
		TempDir: filepath.Join(dir, "temp_downloads"), BinDir: filepath.Join(dir, "bin"),
		JobsFilePath: filepath.Join(dir, "jobs.json"), Sink: hostevent.NopSink{}, Analytics: store,
	})
	m.Start(ctx)

	job := QueuedJob{ID: uuid.New(), URL: "https://example.com/a", FormatPreset: FormatBest}
	require.NoError(t, m.AddJob(job))
	m.JobCompleted(job.ID, "/tmp/a.mp4")

	require.Eventually(t, func() bool {
		recent, err := store.RecentCompletions(10)
		return err == nil && len(recent) == 1 && recent[0].JobID == job.ID.String()
	}, time.Second, 5*time.Millisecond)
}

func TestRetryJobRejectsUnknownID(t *testing.T) {
	m, _ := newTestManager(t)
	require.Error(t, m.RetryJob(uuid.New()))
}

func TestRetryJobRequeuesErroredJob(t *testing.T) {
	m, _ := newTestManager(t)
	job := QueuedJob{ID: uuid.New(), URL: "https://example.com/a", FormatPreset: FormatBest}
	require.NoError(t, m.AddJob(job))

	m.JobError(job.ID, "transient failure", "", nil, 1)
	require.Eventually(t, func() bool {
		for _, d := range m.SyncState() {
			if d.ID == job.ID {
				return d.Status == StatusError
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, m.RetryJob(job.ID))
	require.Eventually(t, func() bool {
		for _, d := range m.SyncState() {
			if d.ID == job.ID {
				return d.Status == StatusPending || d.Status == StatusDownloading
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}
