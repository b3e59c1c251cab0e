package seq

import (
	"sync"
	"testing"
)

func TestIssueIsMonotonicPerFamily(t *testing.T) {
	s := New()

	if got := s.Issue("state"); got != 1 {
		t.Fatalf("expected first state ticket to be 1, got %d", got)
	}
	if got := s.Issue("state"); got != 2 {
		t.Fatalf("expected second state ticket to be 2, got %d", got)
	}
	if got := s.Issue("events"); got != 1 {
		t.Fatalf("expected families to count independently, got %d", got)
	}
	if got := s.Latest("state"); got != 2 {
		t.Fatalf("expected latest state ticket 2, got %d", got)
	}
	if got := s.Latest("unknown"); got != 0 {
		t.Fatalf("expected zero for unknown family, got %d", got)
	}
}

func TestIsLatestDetectsSupersededTickets(t *testing.T) {
	s := New()

	first := s.Issue("events")
	second := s.Issue("events")

	if s.IsLatest("events", first) {
		t.Fatalf("ticket %d should be stale after ticket %d was issued", first, second)
	}
	if !s.IsLatest("events", second) {
		t.Fatalf("ticket %d should still be the latest", second)
	}
}

func TestOutOfOrderCompletionOrdering(t *testing.T) {
	// A later-issued request may complete first; the earlier one must then
	// observe itself as stale regardless of completion order.
	s := New()

	slow := s.Issue("state")
	fast := s.Issue("state")

	// Fast completes first and commits.
	if !s.IsLatest("state", fast) {
		t.Fatalf("fast ticket should commit")
	}
	// Slow completes afterwards and is discarded.
	if s.IsLatest("state", slow) {
		t.Fatalf("slow ticket should be discarded")
	}
}

func TestConcurrentIssueUnique(t *testing.T) {
	s := New()
	const n = 200

	var wg sync.WaitGroup
	tickets := make(chan uint64, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tickets <- s.Issue("events")
		}()
	}
	wg.Wait()
	close(tickets)

	seen := make(map[uint64]bool, n)
	for ticket := range tickets {
		if seen[ticket] {
			t.Fatalf("duplicate ticket %d issued", ticket)
		}
		seen[ticket] = true
	}
	if got := s.Latest("events"); got != n {
		t.Fatalf("expected latest ticket %d, got %d", n, got)
	}
}
