package admission

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"

	"voice-receptionist/pkg/utils"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestSlidingWindow_AdmitsExactlyLimitThenResets(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	g := NewSlidingWindow(2, time.Minute, clock.Now)
	ctx := context.Background()

	var admitted int
	for i := 0; i < 3; i++ {
		ok, _ := g.Allow(ctx, "a1")
		if ok {
			admitted++
		}
		clock.Advance(5 * time.Second)
	}
	if admitted != 2 {
		t.Fatalf("expected 2 admitted, got %d", admitted)
	}

	if ok, _ := g.Allow(ctx, "a2"); !ok {
		t.Fatalf("limits must be per agent")
	}

	clock.Advance(time.Minute)
	if ok, _ := g.Allow(ctx, "a1"); !ok {
		t.Fatalf("expected admission after window elapsed")
	}
}

func TestSlidingWindow_BoundaryIsExclusive(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	g := NewSlidingWindow(1, time.Minute, clock.Now)
	ctx := context.Background()

	if ok, _ := g.Allow(ctx, "a1"); !ok {
		t.Fatalf("first call should be admitted")
	}
	clock.Advance(time.Minute - time.Millisecond)
	if ok, _ := g.Allow(ctx, "a1"); ok {
		t.Fatalf("call inside the window should be rejected")
	}
	clock.Advance(time.Millisecond)
	if ok, _ := g.Allow(ctx, "a1"); !ok {
		t.Fatalf("admission exactly one window old should no longer count")
	}
}

func TestSlidingWindow_ConcurrentCallersNeverExceedLimit(t *testing.T) {
	g := NewSlidingWindow(20, time.Minute, nil)
	ctx := context.Background()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := g.Allow(ctx, "a1"); ok {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if admitted != 20 {
		t.Fatalf("expected exactly 20 admitted, got %d", admitted)
	}
}

func TestSlidingWindow_SweepDropsIdleAgents(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	g := NewSlidingWindow(5, time.Minute, clock.Now)
	_, _ = g.Allow(context.Background(), "a1")
	clock.Advance(2 * time.Minute)
	if n := g.Sweep(); n != 1 {
		t.Fatalf("expected 1 swept, got %d", n)
	}
}

func TestRedisGate_UsesSlidingWindowScript(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	now := time.UnixMilli(1700000000000)

	g := NewRedisGate(rdb, 2, time.Minute)
	g.now = func() time.Time { return now }
	g.newMember = func() string { return "m1" }

	mock.ExpectEvalSha(utils.SlidingWindowScript.Hash(), []string{"admission:agent:a1"}, 2, int64(60000), now.UnixMilli(), "m1").SetVal(int64(0))
	ok, err := g.Allow(context.Background(), "a1")
	if err != nil || ok {
		t.Fatalf("expected rejection, ok=%v err=%v", ok, err)
	}

	mock.ExpectEvalSha(utils.SlidingWindowScript.Hash(), []string{"admission:agent:a1"}, 2, int64(60000), now.UnixMilli(), "m1").SetErr(errors.New("redis down"))
	if _, err := g.Allow(context.Background(), "a1"); err == nil {
		t.Fatalf("expected redis error to surface")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
