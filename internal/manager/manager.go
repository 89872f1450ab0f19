package manager

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"tachyon-core/internal/analytics"
	"tachyon-core/internal/history"
	"tachyon-core/internal/hostevent"
	"tachyon-core/internal/persistence"
	"tachyon-core/internal/worker"
)

const (
	tickInterval     = 100 * time.Millisecond
	mailboxCapacity  = 1000
	shutdownDrainMax = 3 * time.Second
)

// Options configures a Manager at construction time.
type Options struct {
	MaxConcurrentDownloads int
	MaxTotalInstances      int
	TempDir                string
	BinDir                 string
	JobsFilePath           string
	Log                    *slog.Logger
	Sink                   hostevent.Sink
	History                *history.History
	// Analytics, if non-nil, receives one RecordCompletion call per
	// JobCompleted. Supplemental; absence never blocks a download.
	Analytics *analytics.Store
}

// Manager is the Job Manager Actor: a single goroutine owning the job
// table, FIFO queue, persistence registry, and concurrency counters.
// Every field below is touched only from run(); all external access
// goes through the mailbox.
type Manager struct {
	opts Options

	jobs     map[uuid.UUID]*LiveJob
	queue    []QueuedJob
	registry map[uuid.UUID]QueuedJob
	dirty    bool

	activeNetworkJobs     int
	activeProcessInstances int

	pending          map[uuid.UUID]ProgressUpdate
	sessionCompleted int

	pids map[uuid.UUID]int

	mailbox chan any
	persist *persistence.Writer

	stopped chan struct{}
}

// New constructs a Manager without starting it. Callers must call
// Start before sending it any message.
func New(ctx context.Context, opts Options) *Manager {
	if opts.MaxConcurrentDownloads <= 0 {
		opts.MaxConcurrentDownloads = 4
	}
	if opts.MaxTotalInstances <= 0 {
		opts.MaxTotalInstances = 10
	}
	m := &Manager{
		opts:     opts,
		jobs:     make(map[uuid.UUID]*LiveJob),
		registry: make(map[uuid.UUID]QueuedJob),
		pending:  make(map[uuid.UUID]ProgressUpdate),
		pids:     make(map[uuid.UUID]int),
		mailbox:  make(chan any, mailboxCapacity),
		persist:  persistence.NewWriter(ctx, opts.JobsFilePath),
		stopped:  make(chan struct{}),
	}

	var onDisk []QueuedJob
	_ = persistence.Load(opts.JobsFilePath, &onDisk)
	for _, j := range onDisk {
		m.registry[j.ID] = j
	}

	return m
}

// Start runs the actor's main loop in a new goroutine.
func (m *Manager) Start(ctx context.Context) {
	go m.run(ctx)
}

func (m *Manager) log() *slog.Logger {
	if m.opts.Log != nil {
		return m.opts.Log
	}
	return slog.Default()
}

func (m *Manager) emit(event string, payload any) {
	if m.opts.Sink != nil {
		m.opts.Sink.Emit(event, payload)
	}
}

// ---- mailbox message types ----

type msgAddJob struct {
	job  QueuedJob
	resp chan error
}
type msgCancelJob struct{ id uuid.UUID }
type msgProcessStarted struct {
	id  uuid.UUID
	pid int
}
type msgUpdateProgress struct{ update ProgressUpdate }
type msgJobCompleted struct {
	id         uuid.UUID
	outputPath string
}
type msgJobError struct {
	id       uuid.UUID
	message  string
	stderr   string
	logTail  []string
	exitCode int
}
type msgFileConflict struct {
	id          uuid.UUID
	stagingPath string
	destPath    string
}
type msgWorkerFinished struct{ id uuid.UUID }
type msgRetryJob struct {
	id   uuid.UUID
	resp chan error
}
type msgGetPendingCount struct{ resp chan int }
type msgResumePending struct{ resp chan []QueuedJob }
type msgClearPending struct{ resp chan error }
type msgSyncState struct{ resp chan []Download }
type msgShutdown struct{ resp chan struct{} }

// ---- public API (send + wait for response) ----

func (m *Manager) AddJob(job QueuedJob) error {
	resp := make(chan error, 1)
	m.mailbox <- msgAddJob{job: job, resp: resp}
	return <-resp
}

func (m *Manager) CancelJob(id uuid.UUID) {
	m.mailbox <- msgCancelJob{id: id}
}

func (m *Manager) GetPendingCount() int {
	resp := make(chan int, 1)
	m.mailbox <- msgGetPendingCount{resp: resp}
	return <-resp
}

func (m *Manager) ResumePending() []QueuedJob {
	resp := make(chan []QueuedJob, 1)
	m.mailbox <- msgResumePending{resp: resp}
	return <-resp
}

func (m *Manager) ClearPending() error {
	resp := make(chan error, 1)
	m.mailbox <- msgClearPending{resp: resp}
	return <-resp
}

func (m *Manager) SyncState() []Download {
	resp := make(chan []Download, 1)
	m.mailbox <- msgSyncState{resp: resp}
	return <-resp
}

// RetryJob re-queues a persisted job that last ended in error. Unlike
// AddJob it reuses the existing UUID and the queued fields already on
// file rather than minting a new job.
func (m *Manager) RetryJob(id uuid.UUID) error {
	resp := make(chan error, 1)
	m.mailbox <- msgRetryJob{id: id, resp: resp}
	return <-resp
}

func (m *Manager) Shutdown() {
	resp := make(chan struct{})
	m.mailbox <- msgShutdown{resp: resp}
	<-resp
}

// ---- worker.Hooks implementation: forwards into our own mailbox ----

func (m *Manager) ProcessStarted(id uuid.UUID, pid int) {
	m.mailbox <- msgProcessStarted{id: id, pid: pid}
}

func (m *Manager) UpdateProgress(id uuid.UUID, percent float64, speed, eta, filename, phase string) {
	m.mailbox <- msgUpdateProgress{update: ProgressUpdate{ID: id, Percent: percent, Speed: speed, ETA: eta, Filename: filename, Phase: phase}}
}

func (m *Manager) JobCompleted(id uuid.UUID, outputPath string) {
	m.mailbox <- msgJobCompleted{id: id, outputPath: outputPath}
}

func (m *Manager) JobError(id uuid.UUID, message, stderr string, logTail []string, exitCode int) {
	m.mailbox <- msgJobError{id: id, message: message, stderr: stderr, logTail: logTail, exitCode: exitCode}
}

func (m *Manager) FileConflict(id uuid.UUID, stagingPath, destPath string) {
	m.mailbox <- msgFileConflict{id: id, stagingPath: stagingPath, destPath: destPath}
}

func (m *Manager) WorkerFinished(id uuid.UUID) {
	m.mailbox <- msgWorkerFinished{id: id}
}

// ---- main loop ----

func (m *Manager) run(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.onTick()
		case raw := <-m.mailbox:
			m.dispatch(ctx, raw)
		}
	}
}

func (m *Manager) dispatch(ctx context.Context, raw any) {
	switch msg := raw.(type) {
	case msgAddJob:
		msg.resp <- m.handleAddJob(ctx, msg.job)
	case msgCancelJob:
		m.handleCancelJob(msg.id)
	case msgProcessStarted:
		m.handleProcessStarted(msg.id, msg.pid)
	case msgUpdateProgress:
		m.handleUpdateProgress(msg.update)
	case msgJobCompleted:
		m.handleJobCompleted(msg.id, msg.outputPath)
	case msgJobError:
		m.handleJobError(msg)
	case msgFileConflict:
		m.handleFileConflict(msg)
	case msgWorkerFinished:
		m.handleWorkerFinished(ctx, msg.id)
	case msgRetryJob:
		msg.resp <- m.handleRetryJob(ctx, msg.id)
	case msgGetPendingCount:
		msg.resp <- len(m.queue)
	case msgResumePending:
		msg.resp <- m.handleResumePending()
	case msgClearPending:
		msg.resp <- m.handleClearPending()
	case msgSyncState:
		msg.resp <- m.handleSyncState()
	case msgShutdown:
		m.handleShutdown()
		close(msg.resp)
	}
}

func (m *Manager) handleAddJob(ctx context.Context, job QueuedJob) error {
	if _, exists := m.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	for _, lj := range m.jobs {
		if lj.URL == job.URL && (lj.Status == StatusPending || lj.Status == StatusDownloading) {
			return fmt.Errorf("URL already queued or downloading: %s", job.URL)
		}
	}

	m.jobs[job.ID] = &LiveJob{ID: job.ID, URL: job.URL, Status: StatusPending, Preset: job.FormatPreset}
	m.registry[job.ID] = job
	m.queue = append(m.queue, job)
	m.dirty = true

	m.processQueue(ctx)
	return nil
}

func (m *Manager) handleCancelJob(id uuid.UUID) {
	if pid, ok := m.pids[id]; ok {
		_ = worker.KillProcessGroup(pid)
	}
	lj, ok := m.jobs[id]
	if !ok {
		return
	}
	lj.Status = StatusCancelled
	lj.SeqID++
	delete(m.registry, id)
	m.dirty = true
	m.emit("download-cancelled", map[string]any{"id": id})
}

func (m *Manager) handleProcessStarted(id uuid.UUID, pid int) {
	lj, ok := m.jobs[id]
	if !ok {
		return
	}
	if lj.Status == StatusCancelled {
		_ = worker.KillProcessGroup(pid)
		return
	}
	m.pids[id] = pid
	lj.PID = pid
	lj.Status = StatusDownloading
	lj.StartedAt = time.Now()
	lj.SeqID++
}

func (m *Manager) handleUpdateProgress(u ProgressUpdate) {
	lj, ok := m.jobs[u.ID]
	if !ok || lj.Status == StatusCancelled {
		return
	}
	lj.Percent = u.Percent
	lj.Speed = u.Speed
	lj.ETA = u.ETA
	if u.Filename != "" {
		lj.Filename = u.Filename
	}
	lj.Phase = u.Phase
	lj.SeqID++
	m.pending[u.ID] = u
}

func (m *Manager) handleJobCompleted(id uuid.UUID, outputPath string) {
	lj, ok := m.jobs[id]
	if !ok || lj.Status == StatusCancelled {
		return
	}
	lj.Status = StatusCompleted
	lj.Percent = 100
	lj.OutputPath = outputPath
	lj.Phase = "Done"
	lj.SeqID++
	delete(m.registry, id)
	m.dirty = true
	m.emit("download-complete", map[string]any{"id": id, "path": outputPath})
	m.recordCompletion(lj)
}

// recordCompletion appends an enrichment row to the supplemental
// analytics store. Runs off the actor goroutine so a slow disk never
// delays the next mailbox message; failures are not retried, since
// jobs.json/downloads.txt remain the jobs of record regardless.
func (m *Manager) recordCompletion(lj *LiveJob) {
	if m.opts.Analytics == nil {
		return
	}
	var durationMS int64
	if !lj.StartedAt.IsZero() {
		durationMS = time.Since(lj.StartedAt).Milliseconds()
	}
	rec := analytics.CompletedJob{
		JobID: lj.ID.String(), URL: lj.URL, OutputPath: lj.OutputPath,
		Status: string(lj.Status), DurationMS: durationMS,
	}
	store := m.opts.Analytics
	go func() { _ = store.RecordCompletion(rec) }()
}

func (m *Manager) handleJobError(msg msgJobError) {
	lj, ok := m.jobs[msg.id]
	if !ok || lj.Status == StatusCancelled {
		return
	}
	lj.Status = StatusError
	lj.Error = msg.message
	lj.Stderr = msg.stderr
	lj.LogTail = msg.logTail
	lj.ExitCode = msg.exitCode
	lj.SeqID++

	combined := msg.message + "\n" + msg.stderr
	if isFatalError(combined) {
		delete(m.registry, msg.id)
	} else if qj, ok := m.registry[msg.id]; ok {
		qj.LastStatus = StatusError
		qj.LastError = msg.message
		qj.LastStderr = msg.stderr
		m.registry[msg.id] = qj
	}
	m.dirty = true
	m.emit("download-error", map[string]any{
		"id": msg.id, "message": msg.message, "exit_code": msg.exitCode,
		"stderr": msg.stderr, "log_tail": msg.logTail,
	})
}

func (m *Manager) handleFileConflict(msg msgFileConflict) {
	m.emit("download-conflict", map[string]any{
		"id": msg.id, "staging_path": msg.stagingPath, "dest_path": msg.destPath,
	})
}

func (m *Manager) handleWorkerFinished(ctx context.Context, id uuid.UUID) {
	if m.activeNetworkJobs > 0 {
		m.activeNetworkJobs--
	}
	if m.activeProcessInstances > 0 {
		m.activeProcessInstances--
	}
	delete(m.pids, id)
	m.sessionCompleted++

	if m.activeProcessInstances == 0 {
		m.emit("session-notification", map[string]any{"handled": m.sessionCompleted})
		m.sessionCompleted = 0
		if len(m.queue) == 0 && len(m.registry) == 0 {
			_ = os.RemoveAll(m.opts.TempDir)
			_ = os.MkdirAll(m.opts.TempDir, 0o755)
		}
	}

	m.processQueue(ctx)
}

func (m *Manager) handleRetryJob(ctx context.Context, id uuid.UUID) error {
	qj, ok := m.registry[id]
	if !ok || qj.LastStatus != StatusError {
		return fmt.Errorf("job %s is not a retryable error job", id)
	}
	qj.LastStatus = ""
	qj.LastError = ""
	qj.LastStderr = ""
	m.registry[id] = qj

	m.jobs[id] = &LiveJob{ID: id, URL: qj.URL, Status: StatusPending, Preset: qj.FormatPreset}
	m.queue = append(m.queue, qj)
	m.dirty = true
	m.processQueue(ctx)
	return nil
}

func (m *Manager) handleResumePending() []QueuedJob {
	var resumed []QueuedJob
	for id, qj := range m.registry {
		if _, exists := m.jobs[id]; exists {
			continue
		}
		status := StatusPending
		if qj.LastStatus == StatusError {
			status = StatusError
		}
		m.jobs[id] = &LiveJob{ID: id, URL: qj.URL, Status: status, Preset: qj.FormatPreset, Error: qj.LastError}
		if status != StatusError {
			m.queue = append(m.queue, qj)
		}
		resumed = append(resumed, qj)
	}
	return resumed
}

func (m *Manager) handleClearPending() error {
	m.queue = nil
	m.registry = make(map[uuid.UUID]QueuedJob)
	m.dirty = true
	return nil
}

func (m *Manager) handleSyncState() []Download {
	out := make([]Download, 0, len(m.jobs))
	for _, lj := range m.jobs {
		out = append(out, lj.toDownload())
	}
	return out
}

func (m *Manager) handleShutdown() {
	for _, pid := range m.pids {
		_ = worker.KillProcessGroup(pid)
	}
	deadline := time.After(shutdownDrainMax)
	for m.activeProcessInstances > 0 {
		select {
		case raw := <-m.mailbox:
			if wf, ok := raw.(msgWorkerFinished); ok {
				m.activeProcessInstances--
				m.activeNetworkJobs--
				if m.activeNetworkJobs < 0 {
					m.activeNetworkJobs = 0
				}
				delete(m.pids, wf.id)
			}
		case <-deadline:
			m.activeProcessInstances = 0
		}
	}
	_ = os.RemoveAll(m.opts.TempDir)
}

// processQueue dispatches queued jobs to worker goroutines while
// capacity allows, dropping any queue entry whose live state has
// already moved to cancelled.
func (m *Manager) processQueue(ctx context.Context) {
	for m.activeNetworkJobs < m.opts.MaxConcurrentDownloads && m.activeProcessInstances < m.opts.MaxTotalInstances {
		if len(m.queue) == 0 {
			return
		}
		qj := m.queue[0]
		m.queue = m.queue[1:]

		lj, ok := m.jobs[qj.ID]
		if ok && lj.Status == StatusCancelled {
			continue
		}

		m.activeNetworkJobs++
		m.activeProcessInstances++

		job := worker.Job{
			ID: qj.ID, URL: qj.URL, DownloadPath: qj.DownloadPath,
			FormatPreset: string(qj.FormatPreset), VideoResolution: qj.VideoResolution,
			EmbedMetadata: qj.EmbedMetadata, EmbedThumbnail: qj.EmbedThumbnail,
			RestrictFilenames: qj.RestrictFilenames, FilenameTemplate: qj.FilenameTemplate,
			LiveFromStart: qj.LiveFromStart,
		}
		wcfg := worker.Config{BinDir: m.opts.BinDir, TempDir: m.opts.TempDir}
		go worker.Run(ctx, wcfg, job, m)
	}
}

func (m *Manager) onTick() {
	if len(m.pending) > 0 {
		batch := make([]ProgressUpdate, 0, len(m.pending))
		for _, u := range m.pending {
			batch = append(batch, u)
		}
		m.pending = make(map[uuid.UUID]ProgressUpdate)
		m.emit("download-progress-batch", batch)
	}

	if m.dirty {
		snapshot := make([]QueuedJob, 0, len(m.registry))
		for _, qj := range m.registry {
			snapshot = append(snapshot, qj)
		}
		if m.persist.Submit(snapshot) {
			m.dirty = false
		}
	}
}
