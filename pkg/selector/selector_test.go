package selector

import (
	"errors"
	"testing"
	"time"

	"agentbus/pkg/models"
)

func TestSelectWithNoClients(t *testing.T) {
	s := New(RoundRobin)
	if _, err := s.Select(""); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("want not-found, got %v", err)
	}
}

func TestRoundRobinCycles(t *testing.T) {
	s := New(RoundRobin)
	s.Register("a", 1)
	s.Register("b", 1)
	var got []string
	for i := 0; i < 4; i++ {
		c, err := s.Select("")
		if err != nil {
			t.Fatalf("select: %v", err)
		}
		got = append(got, c)
	}
	if got[0] == got[1] || got[0] != got[2] || got[1] != got[3] {
		t.Fatalf("round robin order: %v", got)
	}
}

func TestLeastPendingPrefersIdle(t *testing.T) {
	// pile pending work onto "busy" by completing only "idle"'s work
	s2 := New(LeastPending)
	s2.Register("busy", 1)
	s2.Register("idle", 1)
	for i := 0; i < 3; i++ {
		c, err := s2.Select("")
		if err != nil {
			t.Fatalf("select: %v", err)
		}
		if c == "idle" {
			s2.ReportResult("idle", true, time.Millisecond)
		}
	}
	c, err := s2.Select("")
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if c != "idle" {
		t.Fatalf("least pending picked %s", c)
	}
}

func TestFailuresMarkUnhealthyUntilReadmitted(t *testing.T) {
	s := New(RoundRobin)
	s.Register("flaky", 1)
	s.Register("solid", 1)

	// moving average: 1.0 -> 0.7 -> 0.49, crossing the 0.5 threshold
	s.ReportResult("flaky", false, time.Millisecond)
	if !s.Healthy("flaky") {
		t.Fatalf("one failure must not exclude")
	}
	s.ReportResult("flaky", false, time.Millisecond)
	if s.Healthy("flaky") {
		t.Fatalf("success rate below 0.5 must exclude")
	}
	for i := 0; i < 4; i++ {
		c, err := s.Select("")
		if err != nil {
			t.Fatalf("select: %v", err)
		}
		if c != "solid" {
			t.Fatalf("unhealthy client selected")
		}
	}

	s.MarkHealthy("flaky")
	if !s.Healthy("flaky") {
		t.Fatalf("explicit re-mark must readmit")
	}
}

func TestStickySessionBindsAndFailsOver(t *testing.T) {
	s := New(Sticky)
	s.Register("a", 1)
	s.Register("b", 1)

	first, err := s.Select("sess-1")
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	for i := 0; i < 3; i++ {
		c, err := s.Select("sess-1")
		if err != nil || c != first {
			t.Fatalf("sticky session moved: %s -> %s (%v)", first, c, err)
		}
	}

	next, err := s.Failover("sess-1", first)
	if err != nil {
		t.Fatalf("failover: %v", err)
	}
	if next == first {
		t.Fatalf("failover re-selected the failed client")
	}
	c, err := s.Select("sess-1")
	if err != nil || c != next {
		t.Fatalf("session not rebound: got %s want %s (%v)", c, next, err)
	}
}

func TestWeightedRandomStaysInPool(t *testing.T) {
	s := New(WeightedRandom)
	s.Register("heavy", 10)
	s.Register("light", 1)
	counts := map[string]int{}
	for i := 0; i < 200; i++ {
		c, err := s.Select("")
		if err != nil {
			t.Fatalf("select: %v", err)
		}
		counts[c]++
		s.ReportResult(c, true, time.Millisecond)
	}
	if counts["heavy"]+counts["light"] != 200 {
		t.Fatalf("selected outside pool: %v", counts)
	}
	if counts["heavy"] <= counts["light"] {
		t.Fatalf("weights ignored: %v", counts)
	}
}

func TestUnregisterDropsStickySessions(t *testing.T) {
	s := New(Sticky)
	s.Register("only", 1)
	if _, err := s.Select("sess"); err != nil {
		t.Fatalf("select: %v", err)
	}
	s.Unregister("only")
	if _, err := s.Select("sess"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("want not-found after unregister, got %v", err)
	}
}

func TestLowestLatencyPrefersFastClient(t *testing.T) {
	s := New(LowestLatency)
	s.Register("fast", 1)
	s.Register("slow", 1)
	s.ReportResult("fast", true, 5*time.Millisecond)
	s.ReportResult("slow", true, 500*time.Millisecond)
	for i := 0; i < 3; i++ {
		c, err := s.Select("")
		if err != nil {
			t.Fatalf("select: %v", err)
		}
		if c != "fast" {
			t.Fatalf("lowest latency picked %s", c)
		}
		s.ReportResult(c, true, 5*time.Millisecond)
	}
}
