package action

import "testing"

func TestRingEvictsOldestAtCapacity(t *testing.T) {
	r := NewRing(3)
	for i := 0; i < 5; i++ {
		r.Push(LogEntry{Message: "entry"})
	}

	if r.Len() != 3 {
		t.Fatalf("expected 3 entries, got %d", r.Len())
	}

	snapshot := r.Snapshot()
	if snapshot[0].ID != 3 || snapshot[2].ID != 5 {
		t.Errorf("expected ids [3,4,5], got %v, %v, %v", snapshot[0].ID, snapshot[1].ID, snapshot[2].ID)
	}
}

func TestRingAssignsMonotonicIDs(t *testing.T) {
	r := NewRing(10)
	first := r.Push(LogEntry{})
	second := r.Push(LogEntry{})

	if first.ID != 1 || second.ID != 2 {
		t.Errorf("expected sequential ids 1, 2; got %d, %d", first.ID, second.ID)
	}
}

func TestForDiskElidesScreenshot(t *testing.T) {
	entry := LogEntry{ScreenshotRef: []byte{1, 2, 3}}
	disk := entry.ForDisk()

	if disk.ScreenshotRef != nil {
		t.Error("expected screenshot ref elided for disk serialization")
	}
	if entry.ScreenshotRef == nil {
		t.Error("original entry's screenshot ref should be unaffected")
	}
}

func TestSnapshotIsIndependentCopy(t *testing.T) {
	r := NewRing(5)
	r.Push(LogEntry{Message: "one"})

	snap := r.Snapshot()
	snap[0].Message = "mutated"

	if r.Snapshot()[0].Message != "one" {
		t.Error("mutating a snapshot must not affect the ring's stored entries")
	}
}
