// Package history implements the URL history deduplicator: a
// normalised in-memory set backed by an append-only log file, with an
// optimistic lock-free-ish read path and a single serial writer task.
package history

import (
	"bufio"
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
)

var youtubeAllow = map[string]bool{"v": true, "list": true, "id": true}

var genericBlock = map[string]bool{
	"utm_source": true, "utm_medium": true, "utm_campaign": true,
	"si": true, "feature": true, "ab_channel": true,
}

// Normalise canonicalises a raw URL per the declared rewrite rules. If
// parsing fails, the trimmed raw string is returned unchanged.
func Normalise(raw string) string {
	trimmed := strings.TrimSpace(raw)
	u, err := url.Parse(trimmed)
	if err != nil || u.Host == "" {
		return trimmed
	}

	host := u.Host
	path := u.Path

	if host == "youtu.be" && path != "" && path != "/" {
		vid := strings.Trim(path, "/")
		host = "youtube.com"
		path = "/watch"
		u.RawQuery = "v=" + vid
	}
	if host == "m.youtube.com" {
		host = "youtube.com"
	}
	host = strings.TrimPrefix(host, "www.")

	q := u.Query()
	kept := url.Values{}
	if strings.Contains(host, "youtube") {
		for k, v := range q {
			if youtubeAllow[k] {
				kept[k] = v
			}
		}
	} else {
		for k, v := range q {
			if !genericBlock[k] {
				kept[k] = v
			}
		}
	}

	result := host + path
	if encoded := kept.Encode(); encoded != "" {
		result += "?" + encoded
	}
	return strings.TrimSuffix(result, "/")
}

type msgKind int

const (
	msgAdd msgKind = iota
	msgReplace
	msgClear
	msgGet
)

type message struct {
	kind    msgKind
	raw     string
	content string
	resp    chan any
}

// History is the deduplicator: a read-mostly set guarded by an RWMutex,
// plus a single writer goroutine owning the on-disk log.
type History struct {
	path string

	mu  sync.RWMutex
	set map[string]struct{}

	mailbox chan message
	done    chan struct{}
}

// Open loads the existing log (if any) and starts the writer task.
func Open(ctx context.Context, path string) (*History, error) {
	h := &History{
		path:    path,
		set:     make(map[string]struct{}),
		mailbox: make(chan message, 100),
		done:    make(chan struct{}),
	}

	if f, err := os.Open(path); err == nil {
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := scanner.Text()
			if line == "" {
				continue
			}
			h.set[Normalise(line)] = struct{}{}
		}
		f.Close()
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("history: reading %s: %w", path, err)
	}

	go h.run(ctx)
	return h, nil
}

// Exists checks membership of the canonicalised form. Safe for
// concurrent callers; never blocked meaningfully by the writer.
func (h *History) Exists(rawURL string) bool {
	canon := Normalise(rawURL)
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.set[canon]
	return ok
}

// Add canonicalises rawURL; if already present, returns silently.
// Otherwise fire-and-forget sends Add to the writer task.
func (h *History) Add(rawURL string) {
	if h.Exists(rawURL) {
		return
	}
	select {
	case h.mailbox <- message{kind: msgAdd, raw: rawURL}:
	default:
		// Mailbox full: drop rather than block the caller. A later Add
		// for the same URL will retry the canonicalisation check.
	}
}

// Get returns the raw file content.
func (h *History) Get() (string, error) {
	resp := make(chan any, 1)
	h.mailbox <- message{kind: msgGet, resp: resp}
	v := <-resp
	if err, ok := v.(error); ok {
		return "", err
	}
	return v.(string), nil
}

// Replace truncates the log, writes newContent verbatim, and rebuilds
// the in-memory set from its lines.
func (h *History) Replace(newContent string) error {
	resp := make(chan any, 1)
	h.mailbox <- message{kind: msgReplace, content: newContent, resp: resp}
	v := <-resp
	if err, ok := v.(error); ok {
		return err
	}
	return nil
}

// Clear truncates the log and empties the in-memory set.
func (h *History) Clear() error {
	resp := make(chan any, 1)
	h.mailbox <- message{kind: msgClear, resp: resp}
	v := <-resp
	if err, ok := v.(error); ok {
		return err
	}
	return nil
}

// Close stops the writer task. Pending mailbox sends after Close is
// called will block forever; callers must stop using the History first.
func (h *History) Close() {
	close(h.done)
}

func (h *History) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case msg := <-h.mailbox:
			h.handle(msg)
		}
	}
}

func (h *History) handle(msg message) {
	switch msg.kind {
	case msgAdd:
		f, err := os.OpenFile(h.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return
		}
		_, werr := f.WriteString(msg.raw + "\n")
		f.Close()
		if werr != nil {
			return
		}
		h.mu.Lock()
		h.set[Normalise(msg.raw)] = struct{}{}
		h.mu.Unlock()

	case msgReplace:
		err := os.WriteFile(h.path, []byte(msg.content), 0o644)
		if err != nil {
			msg.resp <- err
			return
		}
		newSet := make(map[string]struct{})
		for _, line := range strings.Split(msg.content, "\n") {
			if line == "" {
				continue
			}
			newSet[Normalise(line)] = struct{}{}
		}
		h.mu.Lock()
		h.set = newSet
		h.mu.Unlock()
		msg.resp <- nil

	case msgClear:
		err := os.WriteFile(h.path, []byte{}, 0o644)
		if err != nil {
			msg.resp <- err
			return
		}
		h.mu.Lock()
		h.set = make(map[string]struct{})
		h.mu.Unlock()
		msg.resp <- nil

	case msgGet:
		b, err := os.ReadFile(h.path)
		if err != nil {
			if os.IsNotExist(err) {
				msg.resp <- ""
				return
			}
			msg.resp <- err
			return
		}
		msg.resp <- string(b)
	}
}
