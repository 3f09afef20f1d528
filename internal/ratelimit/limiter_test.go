package ratelimit

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func newTestLimiter(readLimit, writeLimit int, window time.Duration) (*Limiter, *time.Time) {
	l := NewLimiter(Config{
		Enabled:    true,
		Window:     window,
		ReadLimit:  readLimit,
		WriteLimit: writeLimit,
	})
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	return l, &now
}

func TestAdmit_LimitEnforced(t *testing.T) {
	l, _ := newTestLimiter(3, 1, time.Minute)

	for i := 0; i < 3; i++ {
		if !l.Admit("agents.list", "ip:10.0.0.1", false) {
			t.Fatalf("attempt %d should be admitted", i+1)
		}
	}
	if l.Admit("agents.list", "ip:10.0.0.1", false) {
		t.Error("4th attempt within window should be denied")
	}

	// Other buckets are unaffected.
	if !l.Admit("agents.list", "ip:10.0.0.2", false) {
		t.Error("different client should have its own bucket")
	}
	if !l.Admit("leaderboard.get", "ip:10.0.0.1", false) {
		t.Error("different action should have its own bucket")
	}
}

func TestAdmit_WindowExpiry(t *testing.T) {
	l, now := newTestLimiter(2, 1, time.Minute)

	l.Admit("agents.list", "ip:10.0.0.1", false)
	l.Admit("agents.list", "ip:10.0.0.1", false)
	if l.Admit("agents.list", "ip:10.0.0.1", false) {
		t.Fatal("3rd attempt should be denied")
	}

	*now = now.Add(61 * time.Second)

	if !l.Admit("agents.list", "ip:10.0.0.1", false) {
		t.Fatal("attempt after window elapsed should be admitted")
	}
	if got := l.Count("agents.list", "ip:10.0.0.1"); got != 1 {
		t.Errorf("bucket should contain only the new entry, got %d", got)
	}
}

func TestAdmit_WriteClassUsesWriteLimit(t *testing.T) {
	l, _ := newTestLimiter(10, 1, time.Minute)

	if !l.Admit("simulation.start", "ip:10.0.0.1", true) {
		t.Fatal("first write should be admitted")
	}
	if l.Admit("simulation.start", "ip:10.0.0.1", true) {
		t.Error("second write should be denied by the write limit")
	}
}

func TestAdmit_Disabled(t *testing.T) {
	l := NewLimiter(Config{Enabled: false})

	for i := 0; i < 100; i++ {
		if !l.Admit("agents.list", "ip:10.0.0.1", false) {
			t.Fatal("disabled limiter must always admit")
		}
	}
	if got := l.Buckets(); got != 0 {
		t.Errorf("disabled limiter must not record, got %d buckets", got)
	}
}

func TestSweep_DropsExpiredBuckets(t *testing.T) {
	l, now := newTestLimiter(5, 5, time.Minute)

	l.Admit("agents.list", "ip:10.0.0.1", false)
	l.Admit("agents.list", "ip:10.0.0.2", false)
	if got := l.Buckets(); got != 2 {
		t.Fatalf("expected 2 buckets, got %d", got)
	}

	*now = now.Add(2 * time.Minute)
	l.Admit("agents.list", "ip:10.0.0.2", false)
	l.sweep()

	if got := l.Buckets(); got != 1 {
		t.Errorf("expected fully expired bucket to be swept, got %d", got)
	}
}

func TestAdmit_Concurrent(t *testing.T) {
	l := NewLimiter(Config{
		Enabled:   true,
		Window:    time.Minute,
		ReadLimit: 50,
		// Write limit unused here.
		WriteLimit: 1,
	})

	var wg sync.WaitGroup
	admitted := make([]bool, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			admitted[i] = l.Admit("agents.list", "ip:10.0.0.1", false)
		}(i)
	}
	wg.Wait()

	count := 0
	for _, ok := range admitted {
		if ok {
			count++
		}
	}
	if count != 50 {
		t.Errorf("expected exactly 50 admissions under concurrency, got %d", count)
	}
}

func TestCount_MultipleClients(t *testing.T) {
	l, _ := newTestLimiter(10, 10, time.Minute)

	for i := 0; i < 4; i++ {
		l.Admit("agents.list", fmt.Sprintf("ip:10.0.0.%d", i%2), false)
	}
	if got := l.Count("agents.list", "ip:10.0.0.0"); got != 2 {
		t.Errorf("expected 2 entries, got %d", got)
	}
}
