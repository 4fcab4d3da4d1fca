package session

import (
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"
)

func TestAcquireCreatesAndReuses(t *testing.T) {
	m := NewManager(0, 0)

	s1, release := m.Acquire("")
	if s1.ID == "" {
		t.Fatalf("generated session id is empty")
	}
	release()

	s2, release := m.Acquire(s1.ID)
	defer release()
	if s1 != s2 {
		t.Fatalf("same id yielded a different session")
	}
	if m.Len() != 1 {
		t.Errorf("Len = %d, want 1", m.Len())
	}
}

func TestCommitUpdatesSelectors(t *testing.T) {
	m := NewManager(0, 0)

	s, release := m.Acquire("conv-1")
	s.Commit(TurnRecord{Question: "how is mrr trending?", Timestamp: time.Now()},
		[]string{"total_mrr"}, []string{"snapshot_month"}, "trend_analysis", &Snapshot{Metric: "total_mrr"})
	release()

	// The next turn observes exactly what the previous one committed.
	s, release = m.Acquire("conv-1")
	defer release()
	if !reflect.DeepEqual(s.LastMetrics, []string{"total_mrr"}) {
		t.Errorf("LastMetrics = %v, want [total_mrr]", s.LastMetrics)
	}
	if !reflect.DeepEqual(s.LastDimensions, []string{"snapshot_month"}) {
		t.Errorf("LastDimensions = %v, want [snapshot_month]", s.LastDimensions)
	}
	if s.LastIntent != "trend_analysis" {
		t.Errorf("LastIntent = %q, want trend_analysis", s.LastIntent)
	}
	if len(s.History) != 1 {
		t.Errorf("History length = %d, want 1", len(s.History))
	}
}

func TestHistoryBounded(t *testing.T) {
	m := NewManager(0, 0)
	s, release := m.Acquire("conv-1")
	defer release()

	for i := 0; i < historySize+2; i++ {
		s.Commit(TurnRecord{Question: fmt.Sprintf("q%d", i)}, nil, nil, "metric_query", nil)
	}
	if len(s.History) != historySize {
		t.Fatalf("History length = %d, want %d", len(s.History), historySize)
	}
	if got, want := s.History[0].Question, "q2"; got != want {
		t.Errorf("oldest kept turn = %q, want %q", got, want)
	}
	if got, want := s.History[historySize-1].Question, fmt.Sprintf("q%d", historySize+1); got != want {
		t.Errorf("newest turn = %q, want %q", got, want)
	}
}

func TestTTLSweep(t *testing.T) {
	m := NewManager(30*time.Millisecond, 0)
	_, release := m.Acquire("conv-1")
	release()

	time.Sleep(60 * time.Millisecond)
	if got := m.Len(); got != 0 {
		t.Fatalf("Len = %d after TTL, want 0", got)
	}
}

func TestLRUBound(t *testing.T) {
	m := NewManager(0, 2)

	_, r1 := m.Acquire("a")
	r1()
	_, r2 := m.Acquire("b")
	r2()
	_, r3 := m.Acquire("c")
	r3()

	if got := m.Len(); got != 2 {
		t.Fatalf("Len = %d, want 2", got)
	}

	// a was least recently used; acquiring it now creates a fresh session.
	s, release := m.Acquire("a")
	defer release()
	if len(s.History) != 0 || !s.LastAccessedAt.After(s.CreatedAt.Add(-time.Second)) {
		t.Errorf("evicted session resurrected with state: %+v", s)
	}
}

func TestTurnsSerialized(t *testing.T) {
	m := NewManager(0, 0)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, release := m.Acquire("shared")
			defer release()
			// Simulate a turn body long enough to overlap without the lock.
			h := len(s.History)
			time.Sleep(2 * time.Millisecond)
			s.Commit(TurnRecord{Question: fmt.Sprintf("q%d", i)}, nil, nil, "metric_query", nil)
			if len(s.History) != h+1 {
				t.Errorf("turn observed a concurrent mutation")
			}
		}(i)
	}
	wg.Wait()

	s, release := m.Acquire("shared")
	defer release()
	if len(s.History) != 8 {
		t.Fatalf("History length = %d, want 8", len(s.History))
	}
}
