package control

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"tachyon-core/internal/hostevent"
)

func TestAuditLoggerRecordsRequest(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "access.log")
	sink := hostevent.NewChannelSink(4)
	audit, err := NewAuditLogger(logPath, sink)
	require.NoError(t, err)
	defer audit.Close()

	handler := audit.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/jobs/pending", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusTeapot, rec.Code)

	content, err := os.ReadFile(logPath)
	require.NoError(t, err)
	require.True(t, strings.Contains(string(content), "GET /jobs/pending"))

	event, _, ok := sink.TryNext()
	require.True(t, ok)
	require.Equal(t, "control-access", event)
}
