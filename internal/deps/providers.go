package deps

import (
	"context"
	"os"
	"path/filepath"
	"runtime"

	"tachyon-core/internal/hostevent"
	"tachyon-core/internal/transport"
)

func platformURL(windows, darwin, linux string) string {
	switch runtime.GOOS {
	case "windows":
		return windows
	case "darwin":
		return darwin
	default:
		return linux
	}
}

func binaryName(base string) string {
	if runtime.GOOS == "windows" {
		return base + ".exe"
	}
	return base
}

// downloadArchive fetches url to dest, preferring the managed aria2c
// binary over the native Transport Engine when one is already
// installed under binDir, and falling back to the Engine otherwise —
// the same preference order the External Downloader Adapter exists
// for. Never used by the aria2 provider itself, which would have
// nothing to prefer on a first install.
func downloadArchive(ctx context.Context, engine *transport.Engine, binDir, url, dest string, fallbackTotal int64, onPercent func(pct float64)) error {
	if adapter := transport.NewAdapter(filepath.Join(binDir, binaryName("aria2c"))); adapter != nil {
		return adapter.Download(ctx, url, dest, func(_, _ int64, pct float64) {
			onPercent(pct)
		})
	}
	return engine.Download(ctx, url, dest, fallbackTotal, func(downloaded, total int64, _ float64) {
		onPercent(float64(percentOf(downloaded, total)))
	})
}

// ytDlpProvider downloads the latest yt-dlp release build directly
// (the binary itself, not an archive).
type ytDlpProvider struct{ engine *transport.Engine }

func (p *ytDlpProvider) Name() string       { return "yt-dlp" }
func (p *ytDlpProvider) Binaries() []string { return []string{binaryName("yt-dlp")} }

func (p *ytDlpProvider) Install(ctx context.Context, binDir string, sink hostevent.Sink) error {
	url := platformURL(
		"https://github.com/yt-dlp/yt-dlp/releases/latest/download/yt-dlp.exe",
		"https://github.com/yt-dlp/yt-dlp/releases/latest/download/yt-dlp_macos",
		"https://github.com/yt-dlp/yt-dlp/releases/latest/download/yt-dlp_linux",
	)
	dest := filepath.Join(binDir, p.Binaries()[0])
	return downloadArchive(ctx, p.engine, binDir, url, dest, 15*1024*1024, func(pct float64) {
		sink.Emit("install-progress", map[string]any{"name": p.Name(), "percentage": int(pct), "status": "Downloading yt-dlp..."})
	})
}

func (p *ytDlpProvider) CheckUpdateAvailable(ctx context.Context, binDir string) (bool, error) {
	local := filepath.Join(binDir, p.Binaries()[0])
	if _, err := os.Stat(local); err != nil {
		return true, nil
	}
	remoteTag, err := getLatestGitHubTag(ctx, "yt-dlp/yt-dlp")
	if err != nil {
		return false, err
	}
	v, ok := localVersion(local, "--version")
	if !ok {
		return true, nil
	}
	return v != remoteTag, nil
}

// ffmpegProvider downloads a platform build archive and extracts the
// binary. No reliable cross-platform "latest version" API exists for
// the builds used here, so CheckUpdateAvailable is always false —
// matching the source, which leaves ffmpeg unmanaged once installed.
type ffmpegProvider struct{ engine *transport.Engine }

func (p *ffmpegProvider) Name() string       { return "FFmpeg" }
func (p *ffmpegProvider) Binaries() []string { return []string{binaryName("ffmpeg")} }

func (p *ffmpegProvider) Install(ctx context.Context, binDir string, sink hostevent.Sink) error {
	url := platformURL(
		"https://www.gyan.dev/ffmpeg/builds/ffmpeg-release-essentials.zip",
		"https://evermeet.cx/ffmpeg/ffmpeg-113374-g80f9281204.zip",
		"https://johnvansickle.com/ffmpeg/releases/ffmpeg-release-amd64-static.tar.xz",
	)
	archive := filepath.Join(os.TempDir(), "ffmpeg_tmp")
	if err := downloadArchive(ctx, p.engine, binDir, url, archive, 0, func(pct float64) {
		sink.Emit("install-progress", map[string]any{"name": p.Name(), "percentage": int(pct), "status": "Downloading FFmpeg..."})
	}); err != nil {
		return err
	}
	defer os.Remove(archive)

	sink.Emit("install-progress", map[string]any{"name": p.Name(), "percentage": 100, "status": "Extracting FFmpeg..."})
	switch runtime.GOOS {
	case "windows", "darwin":
		// Both platform builds above are .zip archives.
		return extractZipFindingBinary(archive, binDir, p.Binaries())
	default:
		// The Linux static build is a .tar.xz archive, not bzip2.
		return extractTarXz(archive, binDir, p.Binaries())
	}
}

func (p *ffmpegProvider) CheckUpdateAvailable(ctx context.Context, binDir string) (bool, error) {
	return false, nil
}

// aria2Provider installs the optional multi-connection downloader used
// by the External Downloader Adapter. Never used to fetch itself.
type aria2Provider struct{ engine *transport.Engine }

func (p *aria2Provider) Name() string       { return "Aria2" }
func (p *aria2Provider) Binaries() []string { return []string{binaryName("aria2c")} }

func (p *aria2Provider) Install(ctx context.Context, binDir string, sink hostevent.Sink) error {
	url := platformURL(
		"https://github.com/aria2/aria2/releases/download/release-1.37.0/aria2-1.37.0-win-64bit-build1.zip",
		"https://github.com/aria2/aria2/releases/download/release-1.37.0/aria2-1.37.0-osx-darwin.tar.bz2",
		"https://github.com/aria2/aria2/releases/download/release-1.37.0/aria2-1.37.0-linux-gnu-64bit-build1.tar.bz2",
	)
	ext := "tar.bz2"
	if runtime.GOOS == "windows" {
		ext = "zip"
	}
	archive := filepath.Join(os.TempDir(), "aria2."+ext)

	if err := p.engine.Download(ctx, url, archive, 0, func(downloaded, total int64, bps float64) {
		sink.Emit("install-progress", map[string]any{"name": p.Name(), "percentage": percentOf(downloaded, total), "status": "Downloading Aria2..."})
	}); err != nil {
		return err
	}
	defer os.Remove(archive)

	sink.Emit("install-progress", map[string]any{"name": p.Name(), "percentage": 100, "status": "Extracting Aria2..."})
	if runtime.GOOS == "windows" {
		return extractZipFindingBinary(archive, binDir, p.Binaries())
	}
	return extractTarBz2(archive, binDir, p.Binaries())
}

func (p *aria2Provider) CheckUpdateAvailable(ctx context.Context, binDir string) (bool, error) {
	return false, nil // static version, matching the source
}

func percentOf(downloaded, total int64) int {
	if total <= 0 {
		return 0
	}
	return int(float64(downloaded) / float64(total) * 100)
}

// RegisterDefaultProviders wires yt-dlp, ffmpeg, and aria2 into the
// package-level provider registry, all backed by the same Transport
// Engine instance.
func RegisterDefaultProviders(engine *transport.Engine) {
	register(&ytDlpProvider{engine: engine})
	register(&ffmpegProvider{engine: engine})
	register(&aria2Provider{engine: engine})
}
