package action

import "time"

// LogEntry is one recorded execution: the action, its outcome, timing, and
// an optional screenshot reference held only in memory. ScreenshotRef is
// dropped whenever an entry crosses to disk serialization.
type LogEntry struct {
	ID            uint64    `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	Action        Action    `json:"action"`
	Success       bool      `json:"success"`
	Message       string    `json:"message,omitempty"`
	Data          *string   `json:"data,omitempty"`
	ScreenshotRef []byte    `json:"-"`
	DurationMs    int64     `json:"duration_ms"`
	WaitMs        *int64    `json:"wait_ms,omitempty"`
	TapMs         *int64    `json:"tap_ms,omitempty"`
	Tag           *string   `json:"tag,omitempty"`
}

// ForDisk returns a copy of the entry with its screenshot reference
// elided, matching the persistent append-only log's field set.
func (e LogEntry) ForDisk() LogEntry {
	e.ScreenshotRef = nil
	return e
}

// Ring is a fixed-capacity FIFO buffer of log entries; inserting past
// capacity silently evicts the oldest entry. Not safe for concurrent use
// without external synchronization — callers (the session) hold a mutex.
type Ring struct {
	capacity int
	entries  []LogEntry
	nextID   uint64
}

// NewRing returns a ring buffer bounded at capacity entries.
func NewRing(capacity int) *Ring {
	return &Ring{capacity: capacity, entries: make([]LogEntry, 0, capacity)}
}

// Push appends entry, assigning it the next monotonic id, evicting the
// oldest entry first if the ring is already at capacity. Returns the
// entry as stored (with its assigned id).
func (r *Ring) Push(entry LogEntry) LogEntry {
	r.nextID++
	entry.ID = r.nextID
	if len(r.entries) >= r.capacity {
		r.entries = r.entries[1:]
	}
	r.entries = append(r.entries, entry)
	return entry
}

// SetData finds the entry with the given id and sets its Data field,
// returning false if the entry has already been evicted. Used to attach
// an artifact store object key to an entry after an async screenshot
// upload completes, since the upload can finish after the entry's
// initial Push.
func (r *Ring) SetData(id uint64, data string) bool {
	for i := range r.entries {
		if r.entries[i].ID == id {
			r.entries[i].Data = &data
			return true
		}
	}
	return false
}

// Snapshot returns a copy of the current buffered entries, oldest first.
func (r *Ring) Snapshot() []LogEntry {
	out := make([]LogEntry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Len returns the number of entries currently buffered.
func (r *Ring) Len() int { return len(r.entries) }
