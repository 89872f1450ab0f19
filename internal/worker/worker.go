// Package worker implements the per-job subprocess supervisor: it
// launches the extraction tool, parses its interleaved stdout/stderr
// streams, applies a one-shot filesystem-sanitization retry, and
// performs a robust move of the finished artefact into the library.
package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Job is everything the worker needs to know about a single admitted
// download; it is a plain copy of the manager's QueuedJob fields so
// this package has no dependency on the manager package.
type Job struct {
	ID                uuid.UUID
	URL               string
	DownloadPath      string
	FormatPreset      string
	VideoResolution   string
	EmbedMetadata     bool
	EmbedThumbnail    bool
	RestrictFilenames bool
	FilenameTemplate  string
	LiveFromStart     bool
}

// Hooks receives the worker's outbound messages. The manager
// implements this to fold worker events into its own mailbox; tests
// can supply a recording fake.
type Hooks interface {
	ProcessStarted(id uuid.UUID, pid int)
	UpdateProgress(id uuid.UUID, percent float64, speed, eta, filename, phase string)
	JobCompleted(id uuid.UUID, outputPath string)
	JobError(id uuid.UUID, message, stderr string, logTail []string, exitCode int)
	FileConflict(id uuid.UUID, stagingPath, destPath string)
	WorkerFinished(id uuid.UUID)
}

// Config carries process-wide paths the worker needs but that aren't
// part of a specific job's declared intent.
type Config struct {
	BinDir  string // managed helper binaries, preferred over PATH
	TempDir string // parent of every job's stage directory
}

var mediaExtensions = map[string]bool{
	".mp4": true, ".mkv": true, ".webm": true,
	".mp3": true, ".flac": true, ".m4a": true, ".wav": true,
}

var fsErrorRe = regexp.MustCompile(`(?i)(No such file|Invalid argument|cannot be written|WinError 123|Postprocessing: Error opening input files)`)

// Run supervises one job end-to-end. It never returns an error itself:
// all outcomes are reported through hooks, and WorkerFinished is
// always sent exactly once, from a defer, regardless of exit path.
func Run(ctx context.Context, cfg Config, job Job, hooks Hooks) {
	defer hooks.WorkerFinished(job.ID)

	hooks.UpdateProgress(job.ID, 0, "", "", "", "Initializing Process...")

	stageDir := filepath.Join(cfg.TempDir, job.ID.String())
	if err := os.RemoveAll(stageDir); err != nil {
		hooks.JobError(job.ID, "failed to clear stage directory", err.Error(), nil, -1)
		return
	}
	if err := os.MkdirAll(stageDir, 0o755); err != nil {
		hooks.JobError(job.ID, "failed to create stage directory", err.Error(), nil, -1)
		return
	}
	restrictFilenames := job.RestrictFilenames
	for attempt := 0; attempt < 2; attempt++ {
		outcome := runOnce(ctx, cfg, job, stageDir, restrictFilenames, hooks)
		if outcome.retryWithRestrictedNames && attempt == 0 {
			restrictFilenames = true
			continue
		}
		if outcome.conflict {
			return
		}
		cleanupStageDir(stageDir)
		return
	}
}

type runResult struct {
	retryWithRestrictedNames bool
	// conflict is set when finalizeSuccess left the staged artefact in
	// place for FileConflict; the stage directory must survive so the
	// manager can still reach it.
	conflict bool
}

func runOnce(ctx context.Context, cfg Config, job Job, stageDir string, restrictFilenames bool, hooks Hooks) runResult {
	binary := resolveBinary(cfg.BinDir)
	args := buildArgs(job, restrictFilenames)

	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Dir = stageDir
	cmd.Env = append(os.Environ(),
		"PATH="+cfg.BinDir+string(os.PathListSeparator)+os.Getenv("PATH"),
		"PYTHONUTF8=1",
		"PYTHONIOENCODING=UTF-8",
	)
	setProcessGroup(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		hooks.JobError(job.ID, "failed to start process", err.Error(), nil, -1)
		return runResult{}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		hooks.JobError(job.ID, "failed to start process", err.Error(), nil, -1)
		return runResult{}
	}

	if err := cmd.Start(); err != nil {
		hooks.JobError(job.ID, "failed to spawn process", err.Error(), nil, -1)
		return runResult{}
	}
	hooks.ProcessStarted(job.ID, cmd.Process.Pid)

	state := &streamState{}
	var stderrTail []string
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		scanLines(stdout, 2048, func(line string) {
			handleStdoutLine(job.ID, line, stageDir, state, hooks)
		})
	}()
	go func() {
		defer wg.Done()
		scanLines(stderr, 2048, func(line string) {
			stderrTail = append(stderrTail, line)
			if len(stderrTail) > 50 {
				stderrTail = stderrTail[len(stderrTail)-50:]
			}
		})
	}()
	wg.Wait()

	waitErr := cmd.Wait()
	exitCode := 0
	if waitErr != nil {
		if ee, ok := waitErr.(*exec.ExitError); ok {
			exitCode = ee.ExitCode()
		} else {
			exitCode = -1
		}
	}

	if exitCode == 0 {
		return finalizeSuccess(job, stageDir, state, hooks)
	}

	combined := strings.Join(stderrTail, "\n") + "\n" + strings.Join(state.logTail, "\n")
	if fsErrorRe.MatchString(combined) && !restrictFilenames {
		return runResult{retryWithRestrictedNames: true}
	}

	hooks.JobError(job.ID, shortMessage(combined, exitCode), strings.Join(stderrTail, "\n"), state.logTail, exitCode)
	return runResult{}
}

func shortMessage(combined string, exitCode int) string {
	lower := strings.ToLower(combined)
	switch {
	case strings.Contains(lower, "requested format is not available") || strings.Contains(lower, "js runtime"):
		return "Missing compliant JS Runtime"
	case strings.Contains(lower, "sign in") || strings.Contains(lower, "authentication"):
		return "Authentication Required"
	default:
		return fmt.Sprintf("process exited with code %d", exitCode)
	}
}

type streamState struct {
	percentage       float64
	phase            string
	detectedFilename string
	detectedOutput   string
	logTail          []string
}

func handleStdoutLine(id uuid.UUID, line string, stageDir string, state *streamState, hooks Hooks) {
	state.logTail = append(state.logTail, line)
	if len(state.logTail) > 100 {
		state.logTail = state.logTail[len(state.logTail)-100:]
	}

	if filepath.IsAbs(line) && strings.HasPrefix(line, stageDir) {
		state.detectedOutput = line
		return
	}

	if strings.HasPrefix(line, "{") {
		var payload struct {
			DownloadedBytes    float64 `json:"downloaded_bytes"`
			TotalBytes         float64 `json:"total_bytes"`
			TotalBytesEstimate float64 `json:"total_bytes_estimate"`
			Speed              float64 `json:"speed"`
			ETA                float64 `json:"eta"`
			Filename           string  `json:"filename"`
		}
		if err := json.Unmarshal([]byte(line), &payload); err == nil {
			total := payload.TotalBytes
			if total == 0 {
				total = payload.TotalBytesEstimate
			}
			if total > 0 {
				state.percentage = payload.DownloadedBytes / total * 100
			}
			if payload.Filename != "" {
				state.detectedFilename = payload.Filename
			}
			if !isTerminalPhase(state.phase) {
				state.phase = "Downloading"
			}
			hooks.UpdateProgress(id, state.percentage, formatSpeed(payload.Speed), formatETA(payload.ETA), state.detectedFilename, state.phase)
		}
		return
	}

	switch {
	case strings.HasPrefix(line, "[download] Destination:"):
		state.phase = "Starting Download"
	case strings.HasPrefix(line, "[Metadata]"):
		state.phase, state.percentage = "Writing Metadata", 99
	case strings.HasPrefix(line, "[Thumbnails]"), strings.HasPrefix(line, "[EmbedThumbnail]"):
		state.phase, state.percentage = "Embedding Thumbnail", 99
	case strings.HasPrefix(line, "[Merger]"):
		state.phase, state.percentage = "Merging Formats", 100
	case strings.HasPrefix(line, "[ExtractAudio]"):
		state.phase, state.percentage = "Extracting Audio", 100
	case strings.HasPrefix(line, "[Fixup"):
		state.phase, state.percentage = "Fixing Container", 100
	case strings.HasPrefix(line, "[MoveFiles]"):
		state.phase = "Finalizing"
	case strings.HasPrefix(line, "[ffmpeg]"):
		if !isTerminalPhase(state.phase) {
			state.phase = "Processing (FFmpeg)"
		}
	default:
		return
	}
	hooks.UpdateProgress(id, state.percentage, "", "", state.detectedFilename, state.phase)
}

func isTerminalPhase(phase string) bool {
	switch phase {
	case "Merging Formats", "Extracting Audio", "Fixing Container", "Finalizing", "Moving to Library":
		return true
	}
	return false
}

func formatSpeed(bytesPerSec float64) string {
	if bytesPerSec <= 0 {
		return ""
	}
	return fmt.Sprintf("%.1f KiB/s", bytesPerSec/1024)
}

func formatETA(seconds float64) string {
	if seconds <= 0 {
		return ""
	}
	d := time.Duration(seconds) * time.Second
	return d.String()
}

func finalizeSuccess(job Job, stageDir string, state *streamState, hooks Hooks) runResult {
	artefact := state.detectedOutput
	if artefact == "" && state.detectedFilename != "" {
		candidate := filepath.Join(stageDir, state.detectedFilename)
		if _, err := os.Stat(candidate); err == nil {
			artefact = candidate
		}
	}
	if artefact == "" {
		artefact = walkForMediaFile(stageDir, 3)
	}
	if artefact == "" {
		hooks.JobError(job.ID, "could not locate output file after successful run", "", state.logTail, 0)
		return runResult{}
	}

	hooks.UpdateProgress(job.ID, 100, "", "", filepath.Base(artefact), "Moving to Library")

	destDir := job.DownloadPath
	if destDir == "" {
		destDir, _ = os.UserHomeDir()
	}
	dest := filepath.Join(destDir, filepath.Base(artefact))

	if _, err := os.Stat(dest); err == nil {
		hooks.FileConflict(job.ID, artefact, dest)
		return runResult{conflict: true}
	}

	if err := robustMove(artefact, dest); err != nil {
		hooks.JobError(job.ID, "failed to move file to library", err.Error(), state.logTail, 0)
		return runResult{}
	}

	hooks.JobCompleted(job.ID, dest)
	return runResult{}
}

func walkForMediaFile(root string, maxDepth int) string {
	var found string
	_ = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || found != "" {
			return nil
		}
		rel, _ := filepath.Rel(root, path)
		if depth := strings.Count(rel, string(filepath.Separator)); depth > maxDepth {
			return filepath.SkipDir
		}
		if info.IsDir() {
			return nil
		}
		if mediaExtensions[strings.ToLower(filepath.Ext(path))] {
			found = path
		}
		return nil
	})
	return found
}

// robustMove refuses to clobber an existing destination, retries
// transient failures, and falls back to copy+delete.
func robustMove(src, dest string) error {
	if _, err := os.Stat(dest); err == nil {
		return fmt.Errorf("destination already exists: %s", dest)
	}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if err := os.Rename(src, dest); err == nil {
			return nil
		} else {
			lastErr = err
		}
		time.Sleep(200 * time.Millisecond)
	}

	if err := copyThenDelete(src, dest); err != nil {
		return fmt.Errorf("rename failed (%v), copy fallback failed: %w", lastErr, err)
	}
	return nil
}

func copyThenDelete(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return os.Remove(src)
}

func cleanupStageDir(stageDir string) {
	for attempt := 0; attempt < 5; attempt++ {
		if err := os.RemoveAll(stageDir); err == nil {
			return
		}
		time.Sleep(time.Duration(100*(1<<attempt)) * time.Millisecond)
	}
}

func scanLines(r io.Reader, maxLen int, fn func(string)) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || len(line) > maxLen {
			continue
		}
		fn(line)
	}
}

func resolveBinary(binDir string) string {
	name := "yt-dlp"
	candidate := filepath.Join(binDir, name)
	if _, err := os.Stat(candidate); err == nil {
		return candidate
	}
	return name
}

func buildArgs(job Job, restrictFilenames bool) []string {
	template := job.FilenameTemplate
	if template == "" {
		template = "%(title)s.%(ext)s"
	}

	args := []string{
		job.URL,
		"-o", template,
		"--no-playlist",
		"--newline",
		"--windows-filenames",
		"--encoding", "utf-8",
		"--progress-template", "download:%(progress)j",
		"--print", "after_move:filepath",
	}

	switch job.FormatPreset {
	case "best_mp4", "best_mkv", "best_webm":
		container := strings.TrimPrefix(job.FormatPreset, "best_")
		h := job.VideoResolution
		if h == "" || h == "best" {
			args = append(args, "-f", "bestvideo+bestaudio/best")
		} else {
			args = append(args, "-f", fmt.Sprintf("bestvideo[height<=%s]+bestaudio", h))
		}
		args = append(args, "--merge-output-format", container)
	case "audio_best":
		args = append(args, "-f", "bestaudio/best")
	case "audio_mp3", "audio_flac", "audio_m4a":
		codec := strings.TrimPrefix(job.FormatPreset, "audio_")
		args = append(args, "-x", "--audio-format", codec, "--audio-quality", "0")
	default: // "best"
		h := job.VideoResolution
		if h == "" || h == "best" {
			args = append(args, "-f", "best")
		} else {
			args = append(args, "-f", fmt.Sprintf("bestvideo[height<=%s]+bestaudio/best[height<=%s]", h, h))
		}
	}

	if job.EmbedMetadata {
		args = append(args, "--embed-metadata")
	}
	if job.EmbedThumbnail {
		args = append(args, "--embed-thumbnail")
	}
	if job.LiveFromStart {
		args = append(args, "--live-from-start")
	}
	if restrictFilenames {
		args = append(args, "--restrict-filenames", "--trim-filenames", "200")
	}

	return args
}
