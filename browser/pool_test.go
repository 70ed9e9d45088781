package browser

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/JakeLiuMe/webpeel-sub001/config"
	"github.com/JakeLiuMe/webpeel-sub001/models"
)

// These tests exercise the pool's bookkeeping paths that need no live
// browser process: slot accounting, stats, shutdown, and launch
// parameter helpers.

func testBrowserConfig() config.Browser {
	return config.Browser{
		Headless:           true,
		WarmPages:          3,
		MaxConcurrentPages: 5,
	}
}

func TestNewPool_ClampsConcurrencyFloor(t *testing.T) {
	p := NewPool(config.Browser{MaxConcurrentPages: 0})
	if got := p.Stats().MaxConcurrentPages; got != 1 {
		t.Errorf("MaxConcurrentPages = %d, want floor of 1", got)
	}
}

func TestStats_EmptyPool(t *testing.T) {
	p := NewPool(testBrowserConfig())
	s := p.Stats()
	if s.ActivePages != 0 || s.IdlePages != 0 || s.Browsers != 0 {
		t.Errorf("fresh pool stats = %+v, want all zero", s)
	}
	if s.MaxConcurrentPages != 5 {
		t.Errorf("MaxConcurrentPages = %d, want 5", s.MaxConcurrentPages)
	}
}

func TestSlots_CeilingAndRelease(t *testing.T) {
	p := NewPool(config.Browser{MaxConcurrentPages: 2})

	if err := p.acquireSlot(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := p.acquireSlot(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Third checkout must block until its deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := p.acquireSlot(ctx)
	if models.CodeOf(err) != models.ErrCodeTimeout {
		t.Fatalf("error code = %q, want timeout at the ceiling", models.CodeOf(err))
	}

	// Releasing one slot makes the next checkout succeed.
	p.releaseSlot()
	if err := p.acquireSlot(context.Background()); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
}

func TestSlots_CancellationIsNetworkError(t *testing.T) {
	p := NewPool(config.Browser{MaxConcurrentPages: 1})
	if err := p.acquireSlot(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := p.acquireSlot(ctx)
	if models.CodeOf(err) != models.ErrCodeNetwork {
		t.Fatalf("error code = %q, want network on cancellation", models.CodeOf(err))
	}
}

func TestReleaseSlot_NeverBlocksWhenEmpty(t *testing.T) {
	p := NewPool(testBrowserConfig())
	done := make(chan struct{})
	go func() {
		p.releaseSlot()
		p.releaseSlot()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("releaseSlot blocked on an empty semaphore")
	}
}

func TestRelease_NilPageIsNoOp(t *testing.T) {
	p := NewPool(testBrowserConfig())
	p.Release(nil, true)
	p.Discard(nil)
	if s := p.Stats(); s.ActivePages != 0 {
		t.Errorf("ActivePages = %d after nil releases", s.ActivePages)
	}
}

func TestCleanup_SafeWithoutLaunchAndIdempotent(t *testing.T) {
	p := NewPool(testBrowserConfig())
	p.Cleanup()
	p.Cleanup()

	if !p.closed {
		t.Error("pool not marked closed")
	}
	// Checkout paths must refuse a closed pool without launching
	// anything.
	_, err := p.Acquire(context.Background())
	if models.CodeOf(err) != models.ErrCodeNetwork {
		t.Fatalf("Acquire on closed pool: code = %q, want network", models.CodeOf(err))
	}
	_, err = p.StealthPage(context.Background())
	if models.CodeOf(err) != models.ErrCodeNetwork {
		t.Fatalf("StealthPage on closed pool: code = %q, want network", models.CodeOf(err))
	}
	_, err = p.ProfilePage(context.Background(), t.TempDir())
	if models.CodeOf(err) != models.ErrCodeNetwork {
		t.Fatalf("ProfilePage on closed pool: code = %q, want network", models.CodeOf(err))
	}
	if s := p.Stats(); s.Browsers != 0 {
		t.Errorf("Browsers = %d after closed-pool checkouts, want 0", s.Browsers)
	}
}

func TestCloseProfile_UnknownProfileIsNoOp(t *testing.T) {
	p := NewPool(testBrowserConfig())
	p.CloseProfile("/nonexistent/profile")
}

func TestRandomViewport_StaysRealistic(t *testing.T) {
	for i := 0; i < 100; i++ {
		w, h := randomViewport()
		if w < 1366-15 || w > 1920 {
			t.Fatalf("width %d outside expected range", w)
		}
		if h < 768-15 || h > 1080 {
			t.Fatalf("height %d outside expected range", h)
		}
	}
}

func TestTopUp_ConcurrentCallsAreSafeWithoutBrowser(t *testing.T) {
	p := NewPool(testBrowserConfig())

	// Release hands the warm-fill to a fresh goroutine, so overlapping
	// fills must coordinate through the filling flag and leave it
	// cleared.
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.topUp()
		}()
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("topUp did not return without a launched browser")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.filling {
		t.Error("filling flag left set after fills finished")
	}
}
