package session

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/qorvex/qorvex-host/internal/action"
	"github.com/qorvex/qorvex-host/internal/element"
	"github.com/qorvex/qorvex-host/pkg/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tapButton() action.Action {
	return action.Tap(element.Selector{Value: "btn"}, nil)
}

func newTestSession(t *testing.T) *Session {
	t.Helper()
	s, err := New(log.NewNop(), "smoke-test", nil, t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.End() })
	return s
}

func TestNewCreatesLogFile(t *testing.T) {
	dir := t.TempDir()
	s, err := New(log.NewNop(), "mysession", nil, dir)
	require.NoError(t, err)
	defer s.End()

	matches, err := filepath.Glob(filepath.Join(dir, "mysession_*.jsonl"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
}

func TestLogActionAppendsToRingAndFile(t *testing.T) {
	dir := t.TempDir()
	s, err := New(log.NewNop(), "ring-test", nil, dir)
	require.NoError(t, err)

	act := tapButton()
	_, err = s.LogAction(act, action.Ok(), nil, 12, nil)
	require.NoError(t, err)

	require.NoError(t, s.End())

	entries := s.ActionLog()
	require.Len(t, entries, 1)
	assert.Equal(t, uint64(1), entries[0].ID)
	assert.True(t, entries[0].Success)

	matches, err := filepath.Glob(filepath.Join(dir, "ring-test_*.jsonl"))
	require.NoError(t, err)
	require.Len(t, matches, 1)

	f, err := os.Open(matches[0])
	require.NoError(t, err)
	defer f.Close()
	scanner := bufio.NewScanner(f)
	require.True(t, scanner.Scan())
	var decoded action.LogEntry
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &decoded))
	assert.Equal(t, uint64(1), decoded.ID)
	assert.Nil(t, decoded.ScreenshotRef)
}

func TestLogActionElidesScreenshotOnDiskButKeepsLatestInMemory(t *testing.T) {
	s := newTestSession(t)
	shot := []byte{0xFF, 0xD8, 0xFF}

	_, err := s.LogAction(tapButton(), action.Ok(), shot, 5, nil)
	require.NoError(t, err)

	assert.Equal(t, shot, s.LatestScreenshot())
	entries := s.ActionLog()
	require.Len(t, entries, 1)
	assert.Equal(t, shot, entries[0].ScreenshotRef)
}

func TestRingEvictsOldestAtCapacityViaSession(t *testing.T) {
	s := newTestSession(t)
	for i := 0; i < ActionLogCapacity+5; i++ {
		_, err := s.LogAction(tapButton(), action.Ok(), nil, 1, nil)
		require.NoError(t, err)
	}
	entries := s.ActionLog()
	require.Len(t, entries, ActionLogCapacity)
	assert.Equal(t, uint64(6), entries[0].ID)
}

func TestLogActionFailsAfterEnd(t *testing.T) {
	s := newTestSession(t)
	require.NoError(t, s.End())

	_, err := s.LogAction(tapButton(), action.Ok(), nil, 1, nil)
	assert.Error(t, err)
}

func TestBroadcastFanOutToMultipleSubscribers(t *testing.T) {
	s := newTestSession(t)
	sub1 := s.Subscribe()
	sub2 := s.Subscribe()
	defer s.Unsubscribe(sub1)
	defer s.Unsubscribe(sub2)

	// Started was published in New, before these subscribers existed, so
	// the first event each one receives is the ActionLogged below.
	_, err := s.LogAction(tapButton(), action.Ok(), nil, 1, nil)
	require.NoError(t, err)

	select {
	case ev := <-sub1.Events():
		assert.Equal(t, EventActionLogged, ev.Kind)
	case <-time.After(time.Second):
		t.Fatal("subscriber 1 did not receive event")
	}
	select {
	case ev := <-sub2.Events():
		assert.Equal(t, EventActionLogged, ev.Kind)
	case <-time.After(time.Second):
		t.Fatal("subscriber 2 did not receive event")
	}
}

func TestLaggingSubscriberDropsEventsAndSignalsLag(t *testing.T) {
	s := newTestSession(t)
	sub := s.Subscribe()
	defer s.Unsubscribe(sub)

	for i := 0; i < subscriberCapacity+10; i++ {
		_, err := s.LogAction(tapButton(), action.Ok(), nil, 1, nil)
		require.NoError(t, err)
	}

	assert.True(t, sub.TryLagged())
	assert.False(t, sub.TryLagged(), "TryLagged should clear the flag once read")
	assert.Greater(t, s.broadcast.LaggedTotal(), uint64(0))
}

type fakeSessionIndex struct {
	created bool
	ended   bool
}

func (f *fakeSessionIndex) Create(sessionID, name string, deviceID *string, startedAt time.Time, logPath string) error {
	f.created = true
	return nil
}

func (f *fakeSessionIndex) End(sessionID string, endedAt time.Time) error {
	f.ended = true
	return nil
}

type fakeArtifactStore struct {
	uploaded chan uint64
}

func (f *fakeArtifactStore) UploadAsync(sessionID string, actionLogID uint64, data []byte, onSuccess func(key string)) {
	onSuccess("key-for-" + string(rune(actionLogID)))
	f.uploaded <- actionLogID
}

func TestWithSessionIndexRecordsCreateAndEnd(t *testing.T) {
	idx := &fakeSessionIndex{}
	s, err := New(log.NewNop(), "idx-test", nil, t.TempDir(), WithSessionIndex(idx))
	require.NoError(t, err)

	assert.True(t, idx.created)
	require.NoError(t, s.End())
	assert.True(t, idx.ended)
}

func TestWithArtifactStoreUploadsScreenshotAndAttachesKey(t *testing.T) {
	store := &fakeArtifactStore{uploaded: make(chan uint64, 1)}
	s, err := New(log.NewNop(), "store-test", nil, t.TempDir(), WithArtifactStore(store))
	require.NoError(t, err)
	defer s.End()

	_, err = s.LogAction(tapButton(), action.Ok(), []byte{0xFF}, 1, nil)
	require.NoError(t, err)

	select {
	case <-store.uploaded:
	case <-time.After(time.Second):
		t.Fatal("artifact store was never asked to upload")
	}

	entries := s.ActionLog()
	require.Len(t, entries, 1)
	require.NotNil(t, entries[0].Data)
}

