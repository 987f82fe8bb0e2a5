package sessionindex

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestIndex(t *testing.T) *Index {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sessions.db")
	idx, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return idx
}

func TestCreateAndGet(t *testing.T) {
	idx := openTestIndex(t)
	device := "iPhone-15-Sim"
	started := time.Now().Truncate(time.Second)

	require.NoError(t, idx.Create("sess-1", "smoke", &device, started, "/logs/smoke_20260101_000000.jsonl"))

	rec, err := idx.Get("sess-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "sess-1", rec.SessionID)
	assert.Equal(t, "smoke", rec.Name)
	require.NotNil(t, rec.DeviceID)
	assert.Equal(t, device, *rec.DeviceID)
	assert.Nil(t, rec.EndedAt)
}

func TestGetUnknownSessionReturnsNil(t *testing.T) {
	idx := openTestIndex(t)
	rec, err := idx.Get("nope")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestEndSetsEndedAt(t *testing.T) {
	idx := openTestIndex(t)
	started := time.Now().Truncate(time.Second)
	require.NoError(t, idx.Create("sess-2", "run", nil, started, "/logs/run.jsonl"))

	ended := started.Add(5 * time.Minute)
	require.NoError(t, idx.End("sess-2", ended))

	rec, err := idx.Get("sess-2")
	require.NoError(t, err)
	require.NotNil(t, rec.EndedAt)
	assert.True(t, rec.EndedAt.Equal(ended))
}

func TestListReturnsNRowsWithMEnded(t *testing.T) {
	idx := openTestIndex(t)
	started := time.Now().Truncate(time.Second)

	for i := 0; i < 5; i++ {
		id := "sess-" + string(rune('a'+i))
		require.NoError(t, idx.Create(id, "batch", nil, started.Add(time.Duration(i)*time.Second), "/logs/"+id+".jsonl"))
	}
	for i := 0; i < 3; i++ {
		id := "sess-" + string(rune('a'+i))
		require.NoError(t, idx.End(id, started.Add(time.Minute)))
	}

	rows, err := idx.List()
	require.NoError(t, err)
	require.Len(t, rows, 5)

	ended := 0
	for _, r := range rows {
		if r.EndedAt != nil {
			ended++
		}
	}
	assert.Equal(t, 3, ended)
}
