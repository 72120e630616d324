package scripting

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"
)

// LogEntry is a captured log record.
type LogEntry struct {
	Time    time.Time         `json:"time"`
	Level   slog.Level        `json:"level"`
	Message string            `json:"message"`
	Attrs   map[string]string `json:"attrs"`
}

// String renders the entry on one line, attributes sorted by key.
func (e LogEntry) String() string {
	var b strings.Builder
	b.WriteString(e.Level.String())
	b.WriteByte(' ')
	b.WriteString(e.Message)
	for _, k := range slices.Sorted(maps.Keys(e.Attrs)) {
		b.WriteByte(' ')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(e.Attrs[k])
	}
	return b.String()
}

// RingHandler is a slog.Handler keeping the most recent records in memory,
// optionally forwarding every record to another handler. The test runner
// uses it to print the log tail of a failing test.
type RingHandler struct {
	ring  *ring
	next  slog.Handler
	level slog.Leveler
	attrs []slog.Attr // keys already qualified by their group
	group string
}

type ring struct {
	mu      sync.RWMutex
	entries []LogEntry
	maxSize int
}

// NewRingHandler returns a handler retaining maxEntries records (1000 when
// maxEntries <= 0) at or above level. next may be nil.
func NewRingHandler(maxEntries int, level slog.Leveler, next slog.Handler) *RingHandler {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	if level == nil {
		level = slog.LevelInfo
	}
	return &RingHandler{
		ring:  &ring{entries: make([]LogEntry, 0, maxEntries), maxSize: maxEntries},
		next:  next,
		level: level,
	}
}

// Enabled implements slog.Handler.
func (h *RingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	if level >= h.level.Level() {
		return true
	}
	return h.next != nil && h.next.Enabled(ctx, level)
}

// Handle implements slog.Handler.
func (h *RingHandler) Handle(ctx context.Context, record slog.Record) error {
	if record.Level >= h.level.Level() {
		attrs := make(map[string]string, len(h.attrs)+record.NumAttrs())
		for _, a := range h.attrs {
			attrs[a.Key] = a.Value.String()
		}
		record.Attrs(func(a slog.Attr) bool {
			attrs[h.key(a.Key)] = a.Value.String()
			return true
		})
		h.ring.add(LogEntry{
			Time:    record.Time,
			Level:   record.Level,
			Message: record.Message,
			Attrs:   attrs,
		})
	}
	if h.next != nil && h.next.Enabled(ctx, record.Level) {
		return h.next.Handle(ctx, record)
	}
	return nil
}

func (h *RingHandler) key(k string) string {
	if h.group == "" {
		return k
	}
	return h.group + "." + k
}

// WithAttrs implements slog.Handler.
func (h *RingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append([]slog.Attr(nil), h.attrs...)
	for _, a := range attrs {
		clone.attrs = append(clone.attrs, slog.Attr{Key: h.key(a.Key), Value: a.Value})
	}
	if h.next != nil {
		clone.next = h.next.WithAttrs(attrs)
	}
	return &clone
}

// WithGroup implements slog.Handler.
func (h *RingHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.group = h.key(name)
	if h.next != nil {
		clone.next = h.next.WithGroup(name)
	}
	return &clone
}

// Entries returns a copy of every retained record, oldest first.
func (h *RingHandler) Entries() []LogEntry {
	h.ring.mu.RLock()
	defer h.ring.mu.RUnlock()
	out := make([]LogEntry, len(h.ring.entries))
	copy(out, h.ring.entries)
	return out
}

// Len returns the number of retained records.
func (h *RingHandler) Len() int {
	h.ring.mu.RLock()
	defer h.ring.mu.RUnlock()
	return len(h.ring.entries)
}

// Clear drops every retained record.
func (h *RingHandler) Clear() {
	h.ring.mu.Lock()
	defer h.ring.mu.Unlock()
	h.ring.entries = h.ring.entries[:0]
}

func (r *ring) add(e LogEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	if len(r.entries) > r.maxSize {
		r.entries = r.entries[1:]
	}
}
