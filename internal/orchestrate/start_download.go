// Package orchestrate implements the host-facing StartDownload and
// ExpandPlaylist commands: the composition of the Probe, the History
// Deduplicator, and the Job Manager Actor that a playlist submission
// actually walks through, none of which own this sequencing themselves.
package orchestrate

import (
	"context"

	"github.com/google/uuid"

	"tachyon-core/internal/history"
	"tachyon-core/internal/manager"
	"tachyon-core/internal/probe"
)

// StartDownloadRequest mirrors the original command's parameters.
type StartDownloadRequest struct {
	URL               string
	DownloadPath      string
	FormatPreset      manager.FormatPreset
	VideoResolution   string
	EmbedMetadata     bool
	EmbedThumbnail    bool
	RestrictFilenames bool
	FilenameTemplate  string
	LiveFromStart     bool
	Cookies           probe.CookieConfig

	// URLWhitelist restricts a playlist resubmission to only the named
	// entry URLs (a manual partial retry). Entries outside the
	// whitelist are silently skipped and do not count against
	// SkippedCount, which is reserved for history-dedup skips. A nil
	// or empty slice means "no restriction".
	URLWhitelist []string
}

// prober is the subset of *probe.Prober the Coordinator depends on,
// accepted as an interface so the whitelist/dedup/fan-out logic below
// can be exercised without shelling out to a real extraction tool.
type prober interface {
	Probe(ctx context.Context, url string, cookies probe.CookieConfig) ([]probe.Entry, error)
}

// Coordinator wires the Probe, History Deduplicator, and Job Manager
// Actor together for the two host commands that span all three.
type Coordinator struct {
	Manager *manager.Manager
	Prober  prober
	History *history.History
}

// StartDownload expands req.URL via the Probe, skips any entry already
// present in history (or outside an explicit whitelist), and enqueues
// one job per surviving entry.
func (c *Coordinator) StartDownload(ctx context.Context, req StartDownloadRequest) (manager.StartDownloadResponse, error) {
	entries, err := c.Prober.Probe(ctx, req.URL, req.Cookies)
	if err != nil {
		return manager.StartDownloadResponse{}, err
	}

	whitelist := toSet(req.URLWhitelist)

	resp := manager.StartDownloadResponse{TotalFound: uint32(len(entries))}
	for _, e := range entries {
		if whitelist != nil && !whitelist[e.URL] {
			continue
		}
		if c.History.Exists(e.URL) {
			resp.SkippedCount++
			resp.SkippedURLs = append(resp.SkippedURLs, e.URL)
			continue
		}

		job := manager.QueuedJob{
			ID: uuid.New(), URL: e.URL, DownloadPath: req.DownloadPath,
			FormatPreset: req.FormatPreset, VideoResolution: req.VideoResolution,
			EmbedMetadata: req.EmbedMetadata, EmbedThumbnail: req.EmbedThumbnail,
			RestrictFilenames: req.RestrictFilenames, FilenameTemplate: req.FilenameTemplate,
			LiveFromStart: req.LiveFromStart,
		}
		if err := c.Manager.AddJob(job); err != nil {
			continue // duplicate in-flight URL; not a history skip, not a hard error
		}
		c.History.Add(e.URL)
		resp.JobIDs = append(resp.JobIDs, job.ID)
	}

	return resp, nil
}

// ExpandPlaylist probes url and returns its entries without creating
// any jobs — useful for a host that wants to show playlist contents
// before committing to a download.
func (c *Coordinator) ExpandPlaylist(ctx context.Context, url string, cookies probe.CookieConfig) ([]probe.Entry, error) {
	return c.Prober.Probe(ctx, url, cookies)
}

func toSet(items []string) map[string]bool {
	if len(items) == 0 {
		return nil
	}
	set := make(map[string]bool, len(items))
	for _, it := range items {
		set[it] = true
	}
	return set
}
