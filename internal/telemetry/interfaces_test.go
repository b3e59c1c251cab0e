package telemetry

import (
	"bytes"
	"log"
	"reflect"
	"testing"
)

func TestLoggerFuncNilSafe(t *testing.T) {
	var f LoggerFunc
	f.Printf("should not panic: %d", 1)
}

func TestWrapLoggerForwards(t *testing.T) {
	var buf bytes.Buffer
	wrapped := WrapLogger(log.New(&buf, "", 0))
	wrapped.Printf("hello %s", "world")
	if got := buf.String(); got != "hello world\n" {
		t.Fatalf("unexpected log output %q", got)
	}
}

func TestCountersAddStore(t *testing.T) {
	c := NewCounters()
	c.Add("drops", 2)
	c.Add("drops", 3)
	c.Store("window", 7)
	c.Add("", 99)

	if got := c.Value("drops"); got != 5 {
		t.Fatalf("expected drops=5, got %d", got)
	}
	if got := c.Value("window"); got != 7 {
		t.Fatalf("expected window=7, got %d", got)
	}
	want := map[string]uint64{"drops": 5, "window": 7}
	if got := c.Snapshot(); !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected snapshot %v", got)
	}
	if got := c.Keys(); !reflect.DeepEqual(got, []string{"drops", "window"}) {
		t.Fatalf("unexpected keys %v", got)
	}
}

func TestCountersSnapshotIsCopy(t *testing.T) {
	c := NewCounters()
	c.Add("x", 1)
	snapshot := c.Snapshot()
	snapshot["x"] = 100
	if got := c.Value("x"); got != 1 {
		t.Fatalf("snapshot mutation leaked into counters: %d", got)
	}
}

func TestNilCountersSafe(t *testing.T) {
	var c *Counters
	c.Add("x", 1)
	c.Store("x", 1)
	if c.Value("x") != 0 || c.Snapshot() != nil || c.Keys() != nil {
		t.Fatalf("nil counters should be inert")
	}
}
