package orchestrate

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"tachyon-core/internal/history"
	"tachyon-core/internal/hostevent"
	"tachyon-core/internal/manager"
	"tachyon-core/internal/probe"
)

func TestToSet(t *testing.T) {
	require.Nil(t, toSet(nil))
	require.Nil(t, toSet([]string{}))

	set := toSet([]string{"a", "b", "a"})
	require.True(t, set["a"])
	require.True(t, set["b"])
	require.False(t, set["c"])
}

// fakeProber returns a fixed entry list without shelling out to a real
// extraction tool, so StartDownload/ExpandPlaylist's own composition
// logic can be exercised in isolation.
type fakeProber struct {
	entries []probe.Entry
	err     error
}

func (f *fakeProber) Probe(ctx context.Context, url string, cookies probe.CookieConfig) ([]probe.Entry, error) {
	return f.entries, f.err
}

func newTestCoordinator(t *testing.T, entries []probe.Entry) *Coordinator {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	dir := t.TempDir()
	mgr := manager.New(ctx, manager.Options{
		TempDir: dir, BinDir: dir, JobsFilePath: filepath.Join(dir, "jobs.json"), Sink: hostevent.NopSink{},
	})
	mgr.Start(ctx)

	hist, err := history.Open(ctx, filepath.Join(dir, "downloads.txt"))
	require.NoError(t, err)
	t.Cleanup(hist.Close)

	return &Coordinator{Manager: mgr, Prober: &fakeProber{entries: entries}, History: hist}
}

func TestStartDownloadEnqueuesEveryNewEntry(t *testing.T) {
	entries := []probe.Entry{
		{URL: "https://example.com/a", Title: "A"},
		{URL: "https://example.com/b", Title: "B"},
	}
	c := newTestCoordinator(t, entries)

	resp, err := c.StartDownload(context.Background(), StartDownloadRequest{URL: "https://example.com/playlist"})
	require.NoError(t, err)
	require.Equal(t, uint32(2), resp.TotalFound)
	require.Equal(t, uint32(0), resp.SkippedCount)
	require.Len(t, resp.JobIDs, 2)
	require.Empty(t, resp.SkippedURLs)
}

func TestStartDownloadSkipsEntriesAlreadyInHistory(t *testing.T) {
	entries := []probe.Entry{
		{URL: "https://example.com/a", Title: "A"},
		{URL: "https://example.com/b", Title: "B"},
	}
	c := newTestCoordinator(t, entries)
	c.History.Add("https://example.com/a")
	// Add is fire-and-forget; Get goes through the same writer mailbox,
	// so once it returns the Add has been applied.
	_, err := c.History.Get()
	require.NoError(t, err)

	resp, err := c.StartDownload(context.Background(), StartDownloadRequest{URL: "https://example.com/playlist"})
	require.NoError(t, err)
	require.Equal(t, uint32(2), resp.TotalFound)
	require.Equal(t, uint32(1), resp.SkippedCount)
	require.Equal(t, []string{"https://example.com/a"}, resp.SkippedURLs)
	require.Len(t, resp.JobIDs, 1)
}

func TestStartDownloadWhitelistDropsEntriesSilentlyWithoutCountingAsSkipped(t *testing.T) {
	entries := []probe.Entry{
		{URL: "https://example.com/a", Title: "A"},
		{URL: "https://example.com/b", Title: "B"},
		{URL: "https://example.com/c", Title: "C"},
	}
	c := newTestCoordinator(t, entries)

	resp, err := c.StartDownload(context.Background(), StartDownloadRequest{
		URL:          "https://example.com/playlist",
		URLWhitelist: []string{"https://example.com/b"},
	})
	require.NoError(t, err)
	require.Equal(t, uint32(3), resp.TotalFound)
	require.Equal(t, uint32(0), resp.SkippedCount, "whitelist drops must not count as history skips")
	require.Empty(t, resp.SkippedURLs)
	require.Len(t, resp.JobIDs, 1)
}

func TestExpandPlaylistReturnsEntriesWithoutEnqueueing(t *testing.T) {
	entries := []probe.Entry{{URL: "https://example.com/a", Title: "A"}}
	c := newTestCoordinator(t, entries)

	got, err := c.ExpandPlaylist(context.Background(), "https://example.com/playlist", probe.CookieConfig{})
	require.NoError(t, err)
	require.Equal(t, entries, got)
	require.Equal(t, 0, c.Manager.GetPendingCount())
}
