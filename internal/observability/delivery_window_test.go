package observability

import (
	"testing"
	"time"
)

func TestDeliveryWindowSnapshotStats(t *testing.T) {
	w := NewDeliveryWindow(8)
	for _, ms := range []int{10, 20, 30, 40} {
		w.Observe("update", time.Duration(ms)*time.Millisecond, false)
	}
	w.Observe("create", 100*time.Millisecond, true)

	snap := w.Snapshot()
	if snap.WindowSize != 8 {
		t.Fatalf("window size = %d, want 8", snap.WindowSize)
	}
	if len(snap.Ops) != 2 {
		t.Fatalf("ops = %d, want 2", len(snap.Ops))
	}
	// Snapshot is sorted by op name.
	create, update := snap.Ops[0], snap.Ops[1]
	if create.Op != "create" || update.Op != "update" {
		t.Fatalf("op order = %s, %s, want create, update", create.Op, update.Op)
	}
	if create.Failures != 1 {
		t.Fatalf("create failures = %d, want 1", create.Failures)
	}
	if update.Samples != 4 || update.AvgMS != 25 {
		t.Fatalf("update samples/avg = %d/%v, want 4/25", update.Samples, update.AvgMS)
	}
	if update.LastMS != 40 {
		t.Fatalf("update last = %v, want 40", update.LastMS)
	}
}

func TestDeliveryWindowRingOverwrite(t *testing.T) {
	w := NewDeliveryWindow(2)
	w.Observe("update", 10*time.Millisecond, false)
	w.Observe("update", 20*time.Millisecond, false)
	w.Observe("update", 30*time.Millisecond, false)

	snap := w.Snapshot()
	if len(snap.Ops) != 1 {
		t.Fatalf("ops = %d, want 1", len(snap.Ops))
	}
	got := snap.Ops[0]
	if got.Samples != 2 {
		t.Fatalf("samples = %d, want 2 (bounded ring)", got.Samples)
	}
	if got.AvgMS != 25 {
		t.Fatalf("avg = %v, want 25 after the oldest sample is overwritten", got.AvgMS)
	}
}

func TestDeliveryWindowIgnoresInvalidObservations(t *testing.T) {
	w := NewDeliveryWindow(4)
	w.Observe("", 10*time.Millisecond, false)
	w.Observe("update", -time.Millisecond, false)
	if snap := w.Snapshot(); len(snap.Ops) != 0 {
		t.Fatalf("ops = %d, want 0", len(snap.Ops))
	}
}
