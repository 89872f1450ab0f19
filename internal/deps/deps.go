// Package deps implements the Dependency Installer: per-binary install
// procedures that fetch, extract, and version-check the helper
// binaries (yt-dlp, ffmpeg, aria2) the core drives.
package deps

import (
	"archive/zip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"tachyon-core/internal/hostevent"
	"tachyon-core/internal/transport"
)

// Provider declares a managed binary's install and update-check
// procedures. Mirrors the source's DependencyProvider trait.
type Provider interface {
	Name() string
	Binaries() []string
	Install(ctx context.Context, binDir string, sink hostevent.Sink) error
	CheckUpdateAvailable(ctx context.Context, binDir string) (bool, error)
}

// Installer serialises concurrent installs per binary name and reuses
// the Transport Engine to fetch archives.
type Installer struct {
	engine *transport.Engine
	sink   hostevent.Sink

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewInstaller(engine *transport.Engine, sink hostevent.Sink) *Installer {
	return &Installer{engine: engine, sink: sink, locks: make(map[string]*sync.Mutex)}
}

func (in *Installer) lockFor(name string) *sync.Mutex {
	in.mu.Lock()
	defer in.mu.Unlock()
	if l, ok := in.locks[name]; ok {
		return l
	}
	l := &sync.Mutex{}
	in.locks[name] = l
	return l
}

// Install runs name's install procedure under a per-binary mutex,
// forbidding two concurrent installs of the same binary.
func (in *Installer) Install(ctx context.Context, name, binDir string) error {
	p, ok := providers[strings.ToLower(name)]
	if !ok {
		return fmt.Errorf("deps: unknown dependency %q", name)
	}
	l := in.lockFor(p.Name())
	l.Lock()
	defer l.Unlock()

	in.sink.Emit("install-progress", map[string]any{"name": p.Name(), "percentage": 0, "status": fmt.Sprintf("Starting install for %s...", p.Name())})
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		return err
	}
	return p.Install(ctx, binDir, in.sink)
}

var providers = map[string]Provider{}

func register(p Provider) { providers[strings.ToLower(p.Name())] = p }

// ---- version comparison helpers ----

var semverRe = regexp.MustCompile(`(\d+)\.(\d+)\.(\d+)`)
var dateRe = regexp.MustCompile(`(\d{4})-(\d{2})-(\d{2})`)

// CompareSemver reports whether current >= required.
func CompareSemver(current, required string) bool {
	c, r := semverRe.FindStringSubmatch(current), semverRe.FindStringSubmatch(required)
	if c == nil || r == nil {
		return false
	}
	for i := 1; i <= 3; i++ {
		cv, _ := strconv.Atoi(c[i])
		rv, _ := strconv.Atoi(r[i])
		if cv != rv {
			return cv > rv
		}
	}
	return true
}

// CompareDate reports whether current >= required, both YYYY-MM-DD.
func CompareDate(current, required string) bool {
	c, r := dateRe.FindStringSubmatch(current), dateRe.FindStringSubmatch(required)
	if c == nil || r == nil {
		return false
	}
	for i := 1; i <= 3; i++ {
		cv, _ := strconv.Atoi(c[i])
		rv, _ := strconv.Atoi(r[i])
		if cv != rv {
			return cv > rv
		}
	}
	return true
}

func getLatestGitHubTag(ctx context.Context, repo string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://api.github.com/repos/"+repo+"/releases/latest", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("User-Agent", "tachyon-core/1.0")

	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("network error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests {
		return "", fmt.Errorf("rate limited by GitHub API: %d", resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("GitHub API error: %d", resp.StatusCode)
	}

	var payload struct {
		TagName string `json:"tag_name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", err
	}
	if payload.TagName == "" {
		return "", fmt.Errorf("could not find tag_name")
	}
	return payload.TagName, nil
}

func localVersion(path, arg string) (string, bool) {
	if _, err := os.Stat(path); err != nil {
		return "", false
	}
	out, err := exec.Command(path, arg).Output()
	if err != nil {
		return "", false
	}
	return strings.TrimSpace(string(out)), true
}

func extractZipFindingBinary(zipPath, targetDir string, binaryNames []string) error {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return err
	}
	defer r.Close()

	want := make(map[string]bool, len(binaryNames))
	for _, n := range binaryNames {
		want[n] = true
	}

	for _, f := range r.File {
		name := filepath.Base(f.Name)
		if !want[name] {
			continue
		}
		src, err := f.Open()
		if err != nil {
			return err
		}
		dst, err := os.Create(filepath.Join(targetDir, name))
		if err != nil {
			src.Close()
			return err
		}
		_, cerr := io.Copy(dst, src)
		src.Close()
		dst.Close()
		if cerr != nil {
			return cerr
		}
	}
	return nil
}

// extractTarBz2 extracts a bzip2-compressed tarball (aria2's release
// archives on Linux and macOS).
func extractTarBz2(archivePath, targetDir string, binaryNames []string) error {
	return extractTar(archivePath, targetDir, binaryNames, "j")
}

// extractTarXz extracts an xz-compressed tarball (ffmpeg's static Linux
// builds) — bzip2's "-j" flag cannot decompress xz, it needs "-J".
func extractTarXz(archivePath, targetDir string, binaryNames []string) error {
	return extractTar(archivePath, targetDir, binaryNames, "J")
}

func extractTar(archivePath, targetDir string, binaryNames []string, compressFlag string) error {
	cmd := exec.Command("tar", "-x"+compressFlag+"f", archivePath, "-C", targetDir)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("tar extraction failed: %s", out)
	}

	want := make(map[string]bool, len(binaryNames))
	for _, n := range binaryNames {
		want[n] = true
	}

	var found bool
	_ = filepath.Walk(targetDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		name := filepath.Base(path)
		if !want[name] {
			return nil
		}
		dest := filepath.Join(targetDir, name)
		if path != dest {
			if rerr := os.Rename(path, dest); rerr != nil {
				return rerr
			}
		}
		found = true
		return nil
	})
	if !found {
		return fmt.Errorf("binary not found in archive")
	}
	return nil
}
