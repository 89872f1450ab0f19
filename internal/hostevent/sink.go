// Package hostevent abstracts the boundary between the core engine and
// whatever front-end transport is bound to it. The GUI shell and the
// transport that marshals requests from it are out of scope for this
// module; components here only ever see this interface.
package hostevent

import "sync"

// Sink receives named, JSON-serialisable payloads emitted by the core.
// Event names match §6: "download-progress-batch", "download-complete",
// "download-cancelled", "download-error", "install-progress", "log:entry".
type Sink interface {
	Emit(event string, payload any)
}

// NopSink discards every event. Useful for tests and headless runs.
type NopSink struct{}

func (NopSink) Emit(string, any) {}

// record pairs an event name with its payload for ChannelSink consumers.
type record struct {
	Event   string
	Payload any
}

// ChannelSink buffers emitted events onto a channel. A bridge process
// (HTTP/websocket server, CLI printer, test harness) drains it.
type ChannelSink struct {
	mu sync.Mutex
	ch chan record
}

// NewChannelSink creates a sink with the given buffer capacity. Emits
// beyond capacity are dropped rather than blocking the caller — the
// manager actor must never stall on a slow observer.
func NewChannelSink(capacity int) *ChannelSink {
	return &ChannelSink{ch: make(chan record, capacity)}
}

func (s *ChannelSink) Emit(event string, payload any) {
	select {
	case s.ch <- record{Event: event, Payload: payload}:
	default:
	}
}

// Next blocks for the next emitted (event, payload) pair.
func (s *ChannelSink) Next() (string, any) {
	r := <-s.ch
	return r.Event, r.Payload
}

// TryNext returns immediately with ok=false if nothing is buffered.
func (s *ChannelSink) TryNext() (event string, payload any, ok bool) {
	select {
	case r := <-s.ch:
		return r.Event, r.Payload, true
	default:
		return "", nil, false
	}
}
