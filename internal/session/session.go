// Package session ties a bounded action log, an append-only JSONL audit
// trail, a latest-screenshot slot, and a lag-aware event broadcast bus
// together under one identifier, mirroring how the daemon's IPC and
// optional WebSocket mirror both observe live execution.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qorvex/qorvex-host/internal/action"
	"github.com/qorvex/qorvex-host/pkg/log"
)

// ActionLogCapacity bounds the in-memory ring buffer of recent actions.
const ActionLogCapacity = 1000

// sessionIndex is the subset of *sessionindex.Index a Session needs.
// Declared locally so this package does not import internal/sessionindex
// directly, matching the driver package's pattern of depending on
// narrow interfaces for its optional collaborators.
type sessionIndex interface {
	Create(sessionID, name string, deviceID *string, startedAt time.Time, logPath string) error
	End(sessionID string, endedAt time.Time) error
}

// artifactStore is the subset of *artifactstore.Store a Session needs.
type artifactStore interface {
	UploadAsync(sessionID string, actionLogID uint64, data []byte, onSuccess func(key string))
}

// Option configures optional Session collaborators.
type Option func(*Session)

// WithSessionIndex records session start/end in idx. A write failure is
// logged and swallowed; the index is metadata-only, never the source of
// truth for session history.
func WithSessionIndex(idx sessionIndex) Option {
	return func(s *Session) { s.sessionIndex = idx }
}

// WithArtifactStore uploads each logged screenshot to store in the
// background, attaching the resulting object key to the originating log
// entry's Data field once the upload completes.
func WithArtifactStore(store artifactStore) Option {
	return func(s *Session) { s.artifactStore = store }
}

// Session is one automation run: identifier, optional bound device,
// bounded action history, latest screenshot, and the broadcast bus that
// lets subscribers observe both live.
type Session struct {
	logger log.Logger

	ID        string
	Name      string
	DeviceID  *string
	CreatedAt time.Time

	mu         sync.RWMutex
	ring       *action.Ring
	screenshot []byte
	ended      bool

	logFile   *logFile
	broadcast *Broadcaster

	sessionIndex  sessionIndex
	artifactStore artifactStore
}

// New creates a session named name, optionally bound to deviceID, with
// its append-only log written under logDir. Optional collaborators
// (sessionindex, artifactstore) are supplied via opts.
func New(logger log.Logger, name string, deviceID *string, logDir string, opts ...Option) (*Session, error) {
	createdAt := time.Now()
	lf, err := openLogFile(logDir, name, createdAt)
	if err != nil {
		return nil, err
	}

	s := &Session{
		logger:    logger,
		ID:        uuid.NewString(),
		Name:      name,
		DeviceID:  deviceID,
		CreatedAt: createdAt,
		ring:      action.NewRing(ActionLogCapacity),
		logFile:   lf,
		broadcast: NewBroadcaster(logger),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.sessionIndex != nil {
		if err := s.sessionIndex.Create(s.ID, s.Name, s.DeviceID, s.CreatedAt, lf.path); err != nil {
			s.logger.Warn().Err(err).Msg("session: sessionindex create failed")
		}
	}

	s.broadcast.Publish(Event{Kind: EventStarted, SessionID: s.ID})
	return s, nil
}

// Subscribe registers a new event subscriber on this session's bus.
func (s *Session) Subscribe() *Subscriber {
	return s.broadcast.Subscribe()
}

// Unsubscribe removes sub from this session's bus.
func (s *Session) Unsubscribe(sub *Subscriber) {
	s.broadcast.Unsubscribe(sub)
}

// Broadcaster returns the session's broadcast bus, for collaborators
// (health checks, metrics) that need to observe its subscriber count and
// lag statistics without going through Subscribe/Unsubscribe.
func (s *Session) Broadcaster() *Broadcaster {
	return s.broadcast
}

// LogAction appends entry fields into the bounded ring, persists it
// (screenshot elided) to the append-only log, updates the latest
// screenshot slot when screenshot is non-nil, and broadcasts
// ActionLogged (and, if the screenshot changed, ScreenshotUpdated).
func (s *Session) LogAction(act action.Action, result action.Result, screenshot []byte, durationMs int64, tag *string) (action.LogEntry, error) {
	return s.logActionTimed(act, result, screenshot, durationMs, nil, nil, tag)
}

// LogActionTimed is LogAction plus per-phase timing breakdown, used by
// gestures that combine a wait-for poll with a tap.
func (s *Session) LogActionTimed(act action.Action, result action.Result, screenshot []byte, durationMs int64, waitMs, tapMs *int64, tag *string) (action.LogEntry, error) {
	return s.logActionTimed(act, result, screenshot, durationMs, waitMs, tapMs, tag)
}

func (s *Session) logActionTimed(act action.Action, result action.Result, screenshot []byte, durationMs int64, waitMs, tapMs *int64, tag *string) (action.LogEntry, error) {
	entry := action.LogEntry{
		Timestamp:     time.Now(),
		Action:        act,
		Success:       result.Success,
		Message:       result.Message,
		Data:          result.Data,
		ScreenshotRef: screenshot,
		DurationMs:    durationMs,
		WaitMs:        waitMs,
		TapMs:         tapMs,
		Tag:           tag,
	}

	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return action.LogEntry{}, fmt.Errorf("session: %s has already ended", s.ID)
	}
	stored := s.ring.Push(entry)
	if screenshot != nil {
		s.screenshot = screenshot
	}
	s.mu.Unlock()

	if err := s.logFile.append(stored); err != nil {
		s.logger.Warn().Err(err).Msg("session: append-only log write failed")
	}

	s.broadcast.Publish(Event{
		Kind:      EventActionLogged,
		SessionID: s.ID,
		Action:    toLogEntryEvent(stored),
	})
	if screenshot != nil {
		s.broadcast.Publish(Event{Kind: EventScreenshotUpdated, SessionID: s.ID, Screenshot: screenshot})
		if s.artifactStore != nil {
			s.artifactStore.UploadAsync(s.ID, stored.ID, screenshot, func(key string) {
				s.mu.Lock()
				s.ring.SetData(stored.ID, key)
				s.mu.Unlock()
			})
		}
	}
	return stored, nil
}

// ActionLog returns a snapshot of the currently buffered log entries,
// oldest first.
func (s *Session) ActionLog() []action.LogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ring.Snapshot()
}

// LatestScreenshot returns the most recently recorded screenshot
// reference, or nil if none has been captured yet. The returned slice is
// shared, not copied; callers must not mutate it.
func (s *Session) LatestScreenshot() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.screenshot
}

// End marks the session finished, broadcasts Ended, and closes the
// append-only log. Further LogAction calls fail.
func (s *Session) End() error {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return nil
	}
	s.ended = true
	s.mu.Unlock()

	if s.sessionIndex != nil {
		if err := s.sessionIndex.End(s.ID, time.Now()); err != nil {
			s.logger.Warn().Err(err).Msg("session: sessionindex end failed")
		}
	}

	s.broadcast.Publish(Event{Kind: EventEnded, SessionID: s.ID})
	return s.logFile.close()
}

func toLogEntryEvent(e action.LogEntry) *LogEntryEvent {
	return &LogEntryEvent{
		ID:         e.ID,
		Success:    e.Success,
		Message:    e.Message,
		DurationMs: e.DurationMs,
		WaitMs:     e.WaitMs,
		TapMs:      e.TapMs,
		Tag:        e.Tag,
	}
}
