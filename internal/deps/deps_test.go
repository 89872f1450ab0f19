package deps

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"tachyon-core/internal/transport"
)

func TestCompareSemver(t *testing.T) {
	cases := []struct {
		current, required string
		want               bool
	}{
		{"2024.08.06", "1.37.0", true}, // not real semver in current, but digits still compare
		{"1.37.0", "1.37.0", true},
		{"1.36.0", "1.37.0", false},
		{"2.0.0", "1.99.99", true},
	}
	for _, tc := range cases {
		if got := CompareSemver(tc.current, tc.required); got != tc.want {
			t.Errorf("CompareSemver(%q, %q) = %v, want %v", tc.current, tc.required, got, tc.want)
		}
	}
}

func TestCompareDate(t *testing.T) {
	cases := []struct {
		current, required string
		want               bool
	}{
		{"2024-08-06", "2024-08-06", true},
		{"2024-08-07", "2024-08-06", true},
		{"2024-08-05", "2024-08-06", false},
		{"not-a-date", "2024-08-06", false},
	}
	for _, tc := range cases {
		if got := CompareDate(tc.current, tc.required); got != tc.want {
			t.Errorf("CompareDate(%q, %q) = %v, want %v", tc.current, tc.required, got, tc.want)
		}
	}
}

func TestDownloadArchiveFallsBackToEngineWithoutAria2(t *testing.T) {
	body := "archive-bytes"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))
	defer srv.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "out.bin")

	var lastPct float64
	err := downloadArchive(context.Background(), transport.New(), dir, srv.URL, dest, 0, func(pct float64) {
		lastPct = pct
	})
	if err != nil {
		t.Fatalf("downloadArchive: %v", err)
	}
	if lastPct != 0 {
		// Content-Length is unset on this response, so percentOf(_, 0) == 0;
		// the point of this assertion is only that no aria2 path was taken.
		t.Errorf("expected 0%% with unknown total, got %v", lastPct)
	}

	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("reading downloaded file: %v", err)
	}
	if !strings.Contains(string(got), body) {
		t.Errorf("downloaded content = %q, want to contain %q", got, body)
	}
}
