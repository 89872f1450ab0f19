package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"tachyon-core/internal/analytics"
	"tachyon-core/internal/config"
	"tachyon-core/internal/control"
	"tachyon-core/internal/deps"
	"tachyon-core/internal/history"
	"tachyon-core/internal/hostevent"
	"tachyon-core/internal/logger"
	"tachyon-core/internal/manager"
	"tachyon-core/internal/orchestrate"
	"tachyon-core/internal/probe"
	"tachyon-core/internal/transport"
)

func main() {
	probeURL := flag.String("probe", "", "resolve a URL to its entries and exit")
	installDep := flag.String("install", "", "install a managed dependency (yt-dlp, ffmpeg, aria2) and exit")
	dataDir := flag.String("data-dir", defaultDataDir(), "directory for config, logs, jobs.json, and the bin/ directory")
	listenAddr := flag.String("listen", "127.0.0.1:8743", "control surface listen address")
	flag.Parse()

	if err := os.MkdirAll(*dataDir, 0o755); err != nil {
		fmt.Fprintln(os.Stderr, "tachyon: creating data dir:", err)
		os.Exit(1)
	}
	binDir := filepath.Join(*dataDir, "bin")
	_ = os.MkdirAll(binDir, 0o755)

	log, err := logger.New(filepath.Join(*dataDir, "logs"), os.Stdout, hostevent.NopSink{})
	if err != nil {
		fmt.Fprintln(os.Stderr, "tachyon: initializing logger:", err)
		os.Exit(1)
	}

	engine := transport.New()

	if *probeURL != "" {
		runProbe(log, binDir, *probeURL)
		return
	}
	if *installDep != "" {
		runInstall(log, engine, binDir, *installDep)
		return
	}

	runServer(log, engine, *dataDir, binDir, *listenAddr)
}

func defaultDataDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".tachyon"
	}
	return filepath.Join(dir, "tachyon")
}

func runProbe(log *slog.Logger, binDir, url string) {
	p := probe.New(binDir)
	entries, err := p.Probe(context.Background(), url, probe.CookieConfig{})
	if err != nil {
		log.Error("probe failed", "url", url, "error", err)
		os.Exit(1)
	}
	out, _ := json.MarshalIndent(entries, "", "  ")
	fmt.Println(string(out))
}

func runInstall(log *slog.Logger, engine *transport.Engine, binDir, name string) {
	deps.RegisterDefaultProviders(engine)
	installer := deps.NewInstaller(engine, hostevent.NopSink{})
	if err := installer.Install(context.Background(), name, binDir); err != nil {
		log.Error("install failed", "dependency", name, "error", err)
		os.Exit(1)
	}
	log.Info("install complete", "dependency", name)
}

// runServer starts the Job Manager Actor and the loopback control
// surface and blocks until an OS signal requests shutdown.
func runServer(log *slog.Logger, engine *transport.Engine, dataDir, binDir, listenAddr string) {
	deps.RegisterDefaultProviders(engine)

	cfg := config.Load(filepath.Join(dataDir, "config.json"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hist, err := history.Open(ctx, filepath.Join(dataDir, "downloads.txt"))
	if err != nil {
		log.Error("opening history", "error", err)
		os.Exit(1)
	}
	defer hist.Close()

	store, err := analytics.Open(filepath.Join(dataDir, "analytics.db"))
	if err != nil {
		log.Error("opening analytics store", "error", err)
		os.Exit(1)
	}

	sink := hostevent.NewChannelSink(256)

	mgr := manager.New(ctx, manager.Options{
		MaxConcurrentDownloads: cfg.General.MaxConcurrentDownloads,
		MaxTotalInstances:      cfg.General.MaxTotalInstances,
		TempDir:                filepath.Join(dataDir, "tmp"),
		BinDir:                 binDir,
		JobsFilePath:           filepath.Join(dataDir, "jobs.json"),
		Log:                    log,
		Sink:                   sink,
		History:                hist,
		Analytics:              store,
	})
	mgr.Start(ctx)

	coord := &orchestrate.Coordinator{Manager: mgr, Prober: probe.New(binDir), History: hist}
	stats := analytics.NewStatsManager(store, func() (string, error) { return dataDir, nil })

	audit, err := control.NewAuditLogger(filepath.Join(dataDir, "logs", "control-access.log"), sink)
	if err != nil {
		log.Error("opening audit log", "error", err)
		os.Exit(1)
	}
	defer audit.Close()

	httpServer := &http.Server{
		Addr:    listenAddr,
		Handler: control.New(mgr, coord, sink, audit, stats),
	}

	go func() {
		log.Info("control surface listening", "addr", listenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("control surface stopped", "error", err)
		}
	}()

	waitForSignal(func() {
		log.Info("shutdown signal received")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = httpServer.Shutdown(shutdownCtx)
		mgr.Shutdown()
		cancel()
	})
}

// waitForSignal blocks until SIGINT or SIGTERM arrives, then runs onSignal.
func waitForSignal(onSignal func()) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	onSignal()
}
