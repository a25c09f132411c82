package limiter

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/voicegrid/voicegrid/internal/types"
)

func newTestLimiter(t *testing.T, globalRPM, ipRPM, concurrent int) *Limiter {
	t.Helper()
	return New(globalRPM, ipRPM, concurrent, nil, zap.NewNop())
}

func wantRateLimited(t *testing.T, err error) {
	t.Helper()
	var derr *types.Error
	if !errors.As(err, &derr) || derr.Code != types.CodeRateLimitExceeded {
		t.Fatalf("err = %v, want code %s", err, types.CodeRateLimitExceeded)
	}
}

func TestIPWindowBoundary(t *testing.T) {
	l := newTestLimiter(t, 1000, 5, 50)

	for i := 0; i < 5; i++ {
		if err := l.Check("10.0.0.1", "/api/synthesize"); err != nil {
			t.Fatalf("request %d rejected: %v", i+1, err)
		}
	}
	wantRateLimited(t, l.Check("10.0.0.1", "/api/synthesize"))

	// Another IP still has its own budget.
	if err := l.Check("10.0.0.2", "/api/synthesize"); err != nil {
		t.Errorf("second IP rejected: %v", err)
	}
}

func TestGlobalWindowCountsAllClients(t *testing.T) {
	l := newTestLimiter(t, 3, 100, 50)

	for i := 0; i < 3; i++ {
		ip := fmt.Sprintf("10.0.0.%d", i)
		if err := l.Check(ip, ""); err != nil {
			t.Fatalf("request %d rejected: %v", i+1, err)
		}
	}
	wantRateLimited(t, l.Check("10.0.0.99", ""))
}

func TestEndpointWindow(t *testing.T) {
	l := New(1000, 100, 50, map[string]int{"/api/extract_voice": 2}, zap.NewNop())

	for i := 0; i < 2; i++ {
		if err := l.Check("10.0.0.1", "/api/extract_voice"); err != nil {
			t.Fatalf("request %d rejected: %v", i+1, err)
		}
	}
	wantRateLimited(t, l.Check("10.0.0.1", "/api/extract_voice"))

	// Unlisted endpoints are not subject to the endpoint layer.
	if err := l.Check("10.0.0.1", "/api/synthesize"); err != nil {
		t.Errorf("unlisted endpoint rejected: %v", err)
	}
}

func TestWindowSlides(t *testing.T) {
	w := newWindow(50*time.Millisecond, 2)

	if !w.allow() || !w.allow() {
		t.Fatal("first two requests rejected")
	}
	if w.allow() {
		t.Fatal("third request allowed inside full window")
	}

	time.Sleep(70 * time.Millisecond)
	if !w.allow() {
		t.Error("request rejected after window slid past old hits")
	}
}

func TestConcurrentGate(t *testing.T) {
	l := newTestLimiter(t, 1000, 100, 2)

	if err := l.AcquireConcurrent(); err != nil {
		t.Fatal(err)
	}
	if err := l.AcquireConcurrent(); err != nil {
		t.Fatal(err)
	}
	wantRateLimited(t, l.AcquireConcurrent())

	l.ReleaseConcurrent()
	if err := l.AcquireConcurrent(); err != nil {
		t.Errorf("acquire after release: %v", err)
	}
}

func TestConcurrentGateUnderRace(t *testing.T) {
	const limit = 10
	l := newTestLimiter(t, 100000, 100000, limit)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		held    int
		maxHeld int
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.AcquireConcurrent(); err != nil {
				return
			}
			mu.Lock()
			held++
			if held > maxHeld {
				maxHeld = held
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			held--
			mu.Unlock()
			l.ReleaseConcurrent()
		}()
	}
	wg.Wait()

	if maxHeld > limit {
		t.Errorf("max concurrent = %d, want <= %d", maxHeld, limit)
	}
	if got := l.Stats().CurrentConcurrent; got != 0 {
		t.Errorf("CurrentConcurrent after drain = %d, want 0", got)
	}
}

func TestReleaseNeverGoesNegative(t *testing.T) {
	l := newTestLimiter(t, 1000, 100, 5)
	l.ReleaseConcurrent()
	l.ReleaseConcurrent()
	if got := l.Stats().CurrentConcurrent; got != 0 {
		t.Errorf("CurrentConcurrent = %d, want 0", got)
	}
}

func TestStatsAndRemaining(t *testing.T) {
	l := newTestLimiter(t, 1000, 5, 50)

	for i := 0; i < 6; i++ {
		_ = l.Check("10.0.0.1", "")
	}

	stats := l.Stats()
	if stats.TotalRequests != 6 {
		t.Errorf("TotalRequests = %d, want 6", stats.TotalRequests)
	}
	if stats.RejectedRequests != 1 {
		t.Errorf("RejectedRequests = %d, want 1", stats.RejectedRequests)
	}

	rem := l.Remaining("10.0.0.1")
	if rem.IPRemaining != 0 {
		t.Errorf("IPRemaining = %d, want 0", rem.IPRemaining)
	}
	if rem.ConcurrentAvailable != 50 {
		t.Errorf("ConcurrentAvailable = %d, want 50", rem.ConcurrentAvailable)
	}

	// Unseen IPs report the full budget.
	if got := l.Remaining("10.9.9.9").IPRemaining; got != 5 {
		t.Errorf("unseen IPRemaining = %d, want 5", got)
	}
}

func TestCleanupWipesOnlyAboveThreshold(t *testing.T) {
	l := newTestLimiter(t, 1<<20, 100, 50)

	for i := 0; i < 10; i++ {
		_ = l.Check(fmt.Sprintf("10.0.0.%d", i), "")
	}
	l.Cleanup()
	l.mu.Lock()
	small := len(l.ips)
	l.mu.Unlock()
	if small != 10 {
		t.Errorf("ips after cleanup below threshold = %d, want 10", small)
	}

	for i := 0; i <= ipEvictionThreshold; i++ {
		_ = l.Check(fmt.Sprintf("10.1.%d.%d", i/256, i%256), "")
	}
	l.Cleanup()
	l.mu.Lock()
	wiped := len(l.ips)
	l.mu.Unlock()
	if wiped != 0 {
		t.Errorf("ips after cleanup above threshold = %d, want 0", wiped)
	}
}
