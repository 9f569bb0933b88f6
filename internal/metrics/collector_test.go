package metrics

import (
	"testing"
	"time"
)

func TestCollector_RecordTiming(t *testing.T) {
	c := NewCollector()

	c.RecordTiming(OpDecode, 10*time.Millisecond)
	c.RecordTiming(OpDecode, 30*time.Millisecond)

	snap := c.Snapshot()
	if snap.Decode == nil {
		t.Fatal("decode snapshot missing")
	}
	if snap.Decode.Count != 2 {
		t.Errorf("count = %d, want 2", snap.Decode.Count)
	}
	if snap.Decode.MinTimeMs != 10 || snap.Decode.MaxTimeMs != 30 {
		t.Errorf("min/max = %d/%d, want 10/30", snap.Decode.MinTimeMs, snap.Decode.MaxTimeMs)
	}
	if snap.Decode.AvgTimeMs != 20 {
		t.Errorf("avg = %v, want 20", snap.Decode.AvgTimeMs)
	}
}

func TestCollector_RecordRows(t *testing.T) {
	c := NewCollector()

	c.RecordRows(OpPersist, time.Second, 5000)
	c.RecordRows(OpPersist, time.Second, 2345)

	snap := c.Snapshot()
	if snap.Persist == nil {
		t.Fatal("persist snapshot missing")
	}
	if snap.Persist.TotalRows == nil || *snap.Persist.TotalRows != 7345 {
		t.Errorf("total rows = %v, want 7345", snap.Persist.TotalRows)
	}
	if *snap.Persist.MinRows != 2345 || *snap.Persist.MaxRows != 5000 {
		t.Errorf("min/max rows = %d/%d", *snap.Persist.MinRows, *snap.Persist.MaxRows)
	}
}

func TestCollector_EmptyOperationsOmitted(t *testing.T) {
	c := NewCollector()
	snap := c.Snapshot()
	if snap.Decode != nil || snap.Persist != nil {
		t.Error("unrecorded operations should be nil in snapshot")
	}
}
