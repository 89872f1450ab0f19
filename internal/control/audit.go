package control

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"tachyon-core/internal/hostevent"
)

// AccessLogEntry is one line of the control surface's access log.
type AccessLogEntry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	SourceIP  string    `json:"source_ip"`
	UserAgent string    `json:"user_agent"`
	Action    string    `json:"action"`
	Status    int       `json:"status"`
}

// AuditLogger appends every control-surface request to a JSON-lines
// file and forwards it to the host event sink for a live admin view.
type AuditLogger struct {
	mu      sync.Mutex
	logFile *os.File
	sink    hostevent.Sink
}

// NewAuditLogger opens (creating if needed) logPath for append.
func NewAuditLogger(logPath string, sink hostevent.Sink) (*AuditLogger, error) {
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &AuditLogger{logFile: f, sink: sink}, nil
}

func (a *AuditLogger) Close() error {
	return a.logFile.Close()
}

func (a *AuditLogger) log(entry AccessLogEntry) {
	a.mu.Lock()
	if b, err := json.Marshal(entry); err == nil {
		a.logFile.Write(append(b, '\n'))
	}
	a.mu.Unlock()

	if a.sink != nil {
		a.sink.Emit("control-access", entry)
	}
}

// Middleware records method, path, remote address, and final status
// for every request the control surface serves.
func (a *AuditLogger) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		a.log(AccessLogEntry{
			ID:        uuid.New().String(),
			Timestamp: time.Now(),
			SourceIP:  r.RemoteAddr,
			UserAgent: r.UserAgent(),
			Action:    r.Method + " " + r.URL.Path,
			Status:    rec.status,
		})
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
