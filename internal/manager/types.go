// Package manager implements the Job Manager Actor: the single-writer
// owner of the job table, FIFO queue, persistence registry, and
// concurrency counters.
package manager

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// FormatPreset enumerates the extraction format/quality choices a
// queued job may request.
type FormatPreset string

const (
	FormatBest      FormatPreset = "best"
	FormatBestMP4   FormatPreset = "best_mp4"
	FormatBestMKV   FormatPreset = "best_mkv"
	FormatBestWebM  FormatPreset = "best_webm"
	FormatAudioBest FormatPreset = "audio_best"
	FormatAudioMP3  FormatPreset = "audio_mp3"
	FormatAudioFLAC FormatPreset = "audio_flac"
	FormatAudioM4A  FormatPreset = "audio_m4a"
)

// Status is a Live Job's lifecycle state.
type Status string

const (
	StatusPending     Status = "pending"
	StatusDownloading Status = "downloading"
	StatusCompleted   Status = "completed"
	StatusCancelled   Status = "cancelled"
	StatusError       Status = "error"
)

// QueuedJob is the declared intent persisted to jobs.json.
type QueuedJob struct {
	ID                 uuid.UUID    `json:"id"`
	URL                string       `json:"url"`
	DownloadPath       string       `json:"download_path,omitempty"`
	FormatPreset       FormatPreset `json:"format_preset"`
	VideoResolution    string       `json:"video_resolution"`
	EmbedMetadata      bool         `json:"embed_metadata"`
	EmbedThumbnail     bool         `json:"embed_thumbnail"`
	RestrictFilenames  bool         `json:"restrict_filenames"`
	FilenameTemplate   string       `json:"filename_template"`
	LiveFromStart      bool         `json:"live_from_start"`

	// Set only for jobs reloaded from disk that ended in error, so the
	// host can display the prior failure without re-running anything.
	LastStatus Status `json:"status,omitempty"`
	LastError  string `json:"error,omitempty"`
	LastStderr string `json:"stderr,omitempty"`
}

// LiveJob is runtime state keyed by UUID, never persisted directly.
type LiveJob struct {
	ID       uuid.UUID
	URL      string
	Status   Status
	Percent  float64
	SeqID    uint64
	Speed    string
	ETA      string
	Filename string
	Phase    string
	PID      int
	ExitCode int
	Error    string
	Stderr   string
	LogTail  []string
	OutputPath string
	StartedAt time.Time

	Preset FormatPreset
}

// Download is the host-facing snapshot shape returned by SyncState,
// distinct from the internal LiveJob representation.
type Download struct {
	ID       uuid.UUID `json:"id"`
	URL      string    `json:"url"`
	Status   Status    `json:"status"`
	Percent  float64   `json:"percent"`
	Speed    string    `json:"speed"`
	ETA      string    `json:"eta"`
	Filename string    `json:"filename"`
	Phase    string    `json:"phase"`
}

func (j *LiveJob) toDownload() Download {
	return Download{
		ID: j.ID, URL: j.URL, Status: j.Status, Percent: j.Percent,
		Speed: j.Speed, ETA: j.ETA, Filename: j.Filename, Phase: j.Phase,
	}
}

// ProgressUpdate is what a worker sends to the manager on each tick.
type ProgressUpdate struct {
	ID       uuid.UUID
	Percent  float64
	Speed    string
	ETA      string
	Filename string
	Phase    string
}

// StartDownloadResponse mirrors the original command's response shape.
type StartDownloadResponse struct {
	JobIDs       []uuid.UUID `json:"job_ids"`
	SkippedCount uint32      `json:"skipped_count"`
	TotalFound   uint32      `json:"total_found"`
	SkippedURLs  []string    `json:"skipped_urls"`
}

var fatalErrorSubstrings = []string{
	"video unavailable",
	"video has been removed",
	"http error 404",
}

// fatalFragmentErrorRe matches yt-dlp's "fragment ... not received"
// class of message as the single phrase it is, not as two
// independently-triggering words (an ordinary progress line can
// contain the bare word "fragment" without being an error at all).
var fatalFragmentErrorRe = regexp.MustCompile(`(?i)fragment.{0,80}not received`)

// isFatalError reports whether combined carries one of the
// substrings that mean the job should never be retried, and so is
// dropped from the persistence registry rather than kept for retry.
func isFatalError(combined string) bool {
	lower := strings.ToLower(combined)
	for _, s := range fatalErrorSubstrings {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return fatalFragmentErrorRe.MatchString(combined)
}
