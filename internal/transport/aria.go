package transport

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
)

// statusLineRe extracts current/total size, percentage, and speed from
// an aria2c summary line such as:
//   [#1fa1b2 4.0MiB/10MiB(40%) CN:8 DL:1.2MiB ETA:6s]
var statusLineRe = regexp.MustCompile(`([\d.]+)(K|M|G)?iB/([\d.]+)(K|M|G)?iB\((?P<percent>[\d.]+)%\).*DL:([\d.]+)(K|M|G)?iB`)

// percentOnlyRe is the fallback used when the full line shape does not
// match (e.g. total size unknown).
var percentOnlyRe = regexp.MustCompile(`\((?P<percent>[\d.]+)%\)`)

// Adapter wraps a managed aria2c binary and reports its status lines
// through a ProgressFunc. Unlike the native Engine it does not report
// byte counts or speed: downloaded and total are always 0, and the
// third argument carries the percentage parsed from the status line.
type Adapter struct {
	binaryPath string
}

// NewAdapter returns nil if the binary is not present — callers should
// fall back to the native Engine in that case.
func NewAdapter(binaryPath string) *Adapter {
	if _, err := os.Stat(binaryPath); err != nil {
		return nil
	}
	return &Adapter{binaryPath: binaryPath}
}

// Download shells out to aria2c. On non-zero exit or a parse stall, it
// removes any partial file and returns a validation error so the
// caller can fall back to the native Engine. The adapter must never be
// used to fetch the adapter binary itself.
func (a *Adapter) Download(ctx context.Context, url, dest string, progress ProgressFunc) error {
	dir := filepath.Dir(dest)
	name := filepath.Base(dest)

	cmd := exec.CommandContext(ctx, a.binaryPath,
		"-s", "8",
		"-x", "8",
		"-j", "1",
		"--min-split-size=1M",
		"--allow-overwrite=true",
		"--summary-interval=1",
		"-d", dir,
		"-o", name,
		url,
	)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &Error{Kind: ErrValidation, Err: err}
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return &Error{Kind: ErrValidation, Err: err}
	}

	sawAnyProgress := false
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		line := scanner.Text()
		if pct, ok := parseAriaLine(line); ok {
			sawAnyProgress = true
			if progress != nil {
				progress(0, 0, float64(pct))
			}
		}
	}

	err = cmd.Wait()
	if err != nil || !sawAnyProgress {
		os.Remove(dest)
		return &Error{Kind: ErrValidation, Err: fmt.Errorf("aria2 adapter failed or stalled: %w", err)}
	}
	return nil
}

// parseAriaLine returns the percentage reported by a status line, if any.
func parseAriaLine(line string) (float64, bool) {
	if m := statusLineRe.FindStringSubmatch(line); m != nil {
		idx := statusLineRe.SubexpIndex("percent")
		if idx >= 0 {
			if pct, err := strconv.ParseFloat(m[idx], 64); err == nil {
				return pct, true
			}
		}
	}
	if m := percentOnlyRe.FindStringSubmatch(line); m != nil {
		idx := percentOnlyRe.SubexpIndex("percent")
		if pct, err := strconv.ParseFloat(m[idx], 64); err == nil {
			return pct, true
		}
	}
	return 0, false
}
