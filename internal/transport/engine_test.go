package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDownloadLinearSmallFile(t *testing.T) {
	body := strings.Repeat("a", 1024)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1024")
		w.Write([]byte(body))
	}))
	defer srv.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "out.bin")

	e := New()
	var lastDownloaded, lastTotal int64
	err := e.Download(context.Background(), srv.URL, dest, 0, func(downloaded, total int64, bps float64) {
		lastDownloaded, lastTotal = downloaded, total
	})
	require.NoError(t, err)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.Equal(t, body, string(data))
	require.Equal(t, int64(1024), lastDownloaded)
	require.Equal(t, int64(1024), lastTotal)
}

func TestDownload404Fatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "out.bin")

	e := New()
	err := e.Download(context.Background(), srv.URL, dest, 0, nil)
	require.Error(t, err)

	var te *Error
	require.ErrorAs(t, err, &te)
	require.Equal(t, ErrHTTPStatus, te.Kind)
	require.Equal(t, 404, te.StatusCode)
}

func TestDownloadConcurrentRanges(t *testing.T) {
	size := 20 * 1024 * 1024 // above the 10 MiB threshold, so concurrent mode is used
	body := make([]byte, size)
	for i := range body {
		body[i] = byte(i % 251)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Accept-Ranges", "bytes")
		rangeHdr := r.Header.Get("Range")
		if rangeHdr == "" {
			w.Header().Set("Content-Length", strconv.Itoa(size))
			w.Write(body)
			return
		}
		start, end := parseRange(rangeHdr)
		if end >= size {
			end = size - 1
		}
		w.WriteHeader(http.StatusPartialContent)
		w.Write(body[start : end+1])
	}))
	defer srv.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "out.bin")

	e := New()
	err := e.Download(context.Background(), srv.URL, dest, 0, nil)
	require.NoError(t, err)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.Equal(t, size, len(data))
	require.Equal(t, body, data)
}

func TestDownloadHonorsBandwidthLimit(t *testing.T) {
	body := strings.Repeat("a", 4096)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		w.Write([]byte(body))
	}))
	defer srv.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "out.bin")

	e := New()
	e.SetBandwidthLimit(1024) // 1 KiB/s, body is 4x that

	start := time.Now()
	err := e.Download(context.Background(), srv.URL, dest, 0, nil)
	require.NoError(t, err)
	require.GreaterOrEqual(t, time.Since(start), 2*time.Second)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.Equal(t, body, string(data))
}

func parseRange(hdr string) (start, end int) {
	hdr = strings.TrimPrefix(hdr, "bytes=")
	parts := strings.SplitN(hdr, "-", 2)
	start, _ = strconv.Atoi(parts[0])
	if len(parts) > 1 && parts[1] != "" {
		end, _ = strconv.Atoi(parts[1])
	}
	return start, end
}
