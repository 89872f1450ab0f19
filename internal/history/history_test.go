package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNormalise(t *testing.T) {
	cases := map[string]string{
		"https://www.youtube.com/watch?v=abc&feature=share&si=xyz": "youtube.com/watch?v=abc",
		"http://youtu.be/abc?t=5":                                   "youtube.com/watch?v=abc",
		"https://m.youtube.com/watch?v=abc":                        "youtube.com/watch?v=abc",
		"https://example.com/x?utm_source=a&q=1":                   "example.com/x?q=1",
	}
	for in, want := range cases {
		got := Normalise(in)
		if got != want {
			t.Errorf("Normalise(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormaliseIdempotent(t *testing.T) {
	urls := []string{
		"https://www.youtube.com/watch?v=abc&si=xyz",
		"http://youtu.be/abc",
		"https://example.com/a/b/?q=1",
	}
	for _, u := range urls {
		once := Normalise(u)
		twice := Normalise(once)
		if once != twice {
			t.Errorf("Normalise not idempotent for %q: %q != %q", u, once, twice)
		}
	}
}

func TestAddAndExists(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h, err := Open(ctx, filepath.Join(dir, "downloads.txt"))
	require.NoError(t, err)
	defer h.Close()

	require.False(t, h.Exists("https://youtu.be/xyz"))
	h.Add("https://youtu.be/xyz")

	require.Eventually(t, func() bool {
		return h.Exists("https://youtube.com/watch?v=xyz")
	}, time.Second, 5*time.Millisecond)

	content, err := h.Get()
	require.NoError(t, err)
	require.Contains(t, content, "https://youtu.be/xyz")
}

func TestClear(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h, err := Open(ctx, filepath.Join(dir, "downloads.txt"))
	require.NoError(t, err)
	defer h.Close()

	h.Add("https://example.com/a")
	require.Eventually(t, func() bool { return h.Exists("https://example.com/a") }, time.Second, 5*time.Millisecond)

	require.NoError(t, h.Clear())
	require.False(t, h.Exists("https://example.com/a"))
}
