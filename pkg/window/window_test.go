package window

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/streamwin/streamwin/pkg/measurement"
)

func mustStore(t *testing.T, size time.Duration) *Store {
	t.Helper()
	s, err := NewStore(size)
	if err != nil {
		t.Fatalf("NewStore returned error: %v", err)
	}
	return s
}

func TestNewAssignerRejectsBadSize(t *testing.T) {
	if _, err := NewAssigner(0); err == nil {
		t.Errorf("Expected error for zero window size")
	}
	if _, err := NewAssigner(-time.Second); err == nil {
		t.Errorf("Expected error for negative window size")
	}
}

func TestAssignTumbling(t *testing.T) {
	assigner, err := NewAssigner(time.Second)
	if err != nil {
		t.Fatalf("NewAssigner returned error: %v", err)
	}

	tests := []struct {
		eventTime int64
		start     int64
		end       int64
	}{
		{0, 0, 1000},
		{1, 0, 1000},
		{999, 0, 1000},
		{1000, 1000, 2000},
		{1500, 1000, 2000},
		{123_456_789, 123_456_000, 123_457_000},
		{-1, -1000, 0},
		{-1000, -1000, 0},
		{-1001, -2000, -1000},
	}

	for _, tt := range tests {
		span := assigner.Assign(tt.eventTime)
		if span.Start != tt.start || span.End != tt.end {
			t.Errorf("Assign(%d) = [%d,%d), want [%d,%d)",
				tt.eventTime, span.Start, span.End, tt.start, tt.end)
		}
	}
}

func TestAssignCoversEveryTimestampOnce(t *testing.T) {
	assigner, err := NewAssigner(250 * time.Millisecond)
	if err != nil {
		t.Fatalf("NewAssigner returned error: %v", err)
	}

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 10_000; i++ {
		ts := rng.Int63n(2_000_000) - 1_000_000
		span := assigner.Assign(ts)
		if ts < span.Start || ts >= span.End {
			t.Fatalf("Assign(%d) = [%d,%d) does not contain the timestamp", ts, span.Start, span.End)
		}
		if span.End-span.Start != 250 {
			t.Fatalf("Assign(%d) span has size %d, want 250", ts, span.End-span.Start)
		}
		if span.Start%250 != 0 {
			t.Fatalf("Assign(%d) start %d is not aligned", ts, span.Start)
		}
	}
}

func TestAdmitAcceptsAndFolds(t *testing.T) {
	store := mustStore(t, time.Second)

	records := []measurement.Measurement{
		{Location: "A", Timestamp: 100, Value: 5.0},
		{Location: "A", Timestamp: 500, Value: 3.0},
	}
	for _, m := range records {
		if v := store.Admit(m, math.MinInt64); v != Accepted {
			t.Fatalf("Expected record at %d to be accepted", m.Timestamp)
		}
	}

	closed := store.CloseReady(1000)
	if len(closed) != 1 {
		t.Fatalf("Expected 1 closed bucket, got %d", len(closed))
	}

	b := closed[0]
	if b.Location != "A" || b.Start != 0 || b.End != 1000 {
		t.Errorf("Unexpected bucket identity: %+v", b)
	}
	if b.Sum != 8.0 {
		t.Errorf("Expected sum 8.0, got %f", b.Sum)
	}
	if b.Count != 2 {
		t.Errorf("Expected count 2, got %d", b.Count)
	}
}

func TestAdmitLateRecord(t *testing.T) {
	store := mustStore(t, time.Second)

	// Watermark passed 2000: window [0,1000) is closed.
	if v := store.Admit(measurement.Measurement{Location: "A", Timestamp: 500, Value: 1.0}, 2000); v != Late {
		t.Errorf("Expected record behind the watermark to be late")
	}
	if store.Open() != 0 {
		t.Errorf("Late record must not create a bucket, %d open", store.Open())
	}

	// Behind the watermark but its window [2000,3000) is still open.
	if v := store.Admit(measurement.Measurement{Location: "A", Timestamp: 2100, Value: 1.0}, 2500); v != Accepted {
		t.Errorf("Expected record in an open window to be accepted")
	}

	// Window end exactly at the watermark counts as closed.
	if v := store.Admit(measurement.Measurement{Location: "A", Timestamp: 1500, Value: 1.0}, 2000); v != Late {
		t.Errorf("Expected record whose window end equals the watermark to be late")
	}
}

func TestLateRecordNeverContributes(t *testing.T) {
	store := mustStore(t, time.Second)

	store.Admit(measurement.Measurement{Location: "A", Timestamp: 2100, Value: 4.0}, 2000)
	store.Admit(measurement.Measurement{Location: "A", Timestamp: 500, Value: 100.0}, 2000) // late

	closed := store.CloseReady(3000)
	if len(closed) != 1 {
		t.Fatalf("Expected 1 closed bucket, got %d", len(closed))
	}
	if closed[0].Sum != 4.0 || closed[0].Count != 1 {
		t.Errorf("Late record leaked into the bucket: sum=%f count=%d", closed[0].Sum, closed[0].Count)
	}
}

func TestCloseReadyAscendingOrder(t *testing.T) {
	store := mustStore(t, time.Second)

	// Create buckets out of order across several windows and keys.
	timestamps := []int64{5_500, 1_500, 3_500, 500, 2_500, 4_500}
	for _, ts := range timestamps {
		store.Admit(measurement.Measurement{Location: "A", Timestamp: ts, Value: 1.0}, math.MinInt64)
		store.Admit(measurement.Measurement{Location: "B", Timestamp: ts, Value: 1.0}, math.MinInt64)
	}

	closed := store.CloseReady(4_000)
	if len(closed) != 8 {
		t.Fatalf("Expected 8 closed buckets (4 windows x 2 keys), got %d", len(closed))
	}
	for i := 1; i < len(closed); i++ {
		if closed[i].End < closed[i-1].End {
			t.Errorf("Buckets not in ascending end order: %d before %d", closed[i-1].End, closed[i].End)
		}
	}

	// The remaining windows close later, exactly once.
	if store.Open() != 4 {
		t.Errorf("Expected 4 buckets still open, got %d", store.Open())
	}
	if again := store.CloseReady(4_000); len(again) != 0 {
		t.Errorf("Expected no buckets on repeated drain, got %d", len(again))
	}
	rest := store.CloseReady(10_000)
	if len(rest) != 4 {
		t.Errorf("Expected 4 remaining buckets, got %d", len(rest))
	}
}

func TestKeysAreIndependent(t *testing.T) {
	store := mustStore(t, time.Second)

	store.Admit(measurement.Measurement{Location: "A", Timestamp: 100, Value: 1.0}, math.MinInt64)
	store.Admit(measurement.Measurement{Location: "B", Timestamp: 100, Value: 10.0}, math.MinInt64)
	store.Admit(measurement.Measurement{Location: "B", Timestamp: 200, Value: 10.0}, math.MinInt64)

	closed := store.CloseReady(1000)
	if len(closed) != 2 {
		t.Fatalf("Expected 2 closed buckets, got %d", len(closed))
	}

	byLocation := make(map[string]*Bucket)
	for _, b := range closed {
		byLocation[b.Location] = b
	}
	if byLocation["A"].Sum != 1.0 || byLocation["A"].Count != 1 {
		t.Errorf("Unexpected bucket for A: %+v", byLocation["A"])
	}
	if byLocation["B"].Sum != 20.0 || byLocation["B"].Count != 2 {
		t.Errorf("Unexpected bucket for B: %+v", byLocation["B"])
	}
}

func TestFoldOrderIndependence(t *testing.T) {
	values := []float64{1.5, -2.25, 7.0}
	permutations := [][]int{
		{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0},
	}

	var wantSum float64
	for _, v := range values {
		wantSum += v
	}

	for _, perm := range permutations {
		store := mustStore(t, time.Second)
		for _, idx := range perm {
			store.Admit(measurement.Measurement{Location: "A", Timestamp: 100, Value: values[idx]}, math.MinInt64)
		}

		closed := store.CloseReady(1000)
		if len(closed) != 1 {
			t.Fatalf("Expected 1 bucket for permutation %v, got %d", perm, len(closed))
		}
		if closed[0].Sum != wantSum || closed[0].Count != int64(len(values)) {
			t.Errorf("Permutation %v yielded sum=%f count=%d, want sum=%f count=%d",
				perm, closed[0].Sum, closed[0].Count, wantSum, len(values))
		}
	}
}

func TestEmptyWindowsNeverExist(t *testing.T) {
	store := mustStore(t, time.Second)

	// Watermark sweeps over many window boundaries with no input at all.
	for wm := int64(0); wm <= 100_000; wm += 1000 {
		if closed := store.CloseReady(wm); len(closed) != 0 {
			t.Fatalf("Expected no buckets at watermark %d, got %d", wm, len(closed))
		}
	}
	if store.Open() != 0 {
		t.Errorf("Expected no open buckets, got %d", store.Open())
	}
}

func TestCloseIndexDrainBoundaries(t *testing.T) {
	var idx closeIndex
	idx.add(3000, bucketKey{location: "c", start: 2000})
	idx.add(1000, bucketKey{location: "a", start: 0})
	idx.add(2000, bucketKey{location: "b", start: 1000})

	if got := idx.drain(999); len(got) != 0 {
		t.Errorf("Expected no keys below the first end, got %d", len(got))
	}

	got := idx.drain(2000)
	if len(got) != 2 {
		t.Fatalf("Expected 2 keys at watermark 2000, got %d", len(got))
	}
	if got[0].location != "a" || got[1].location != "b" {
		t.Errorf("Expected ascending end order a,b; got %s,%s", got[0].location, got[1].location)
	}

	if got := idx.drain(10_000); len(got) != 1 || got[0].location != "c" {
		t.Errorf("Expected remaining key c, got %v", got)
	}
}
