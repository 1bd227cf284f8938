package config

import (
	"sync"
	"testing"
	"time"
)

func testDefaults() Defaults {
	d := DefaultConfig().Defaults
	d.CronTimezone = "UTC"
	return d
}

func TestRuntimeConfigSnapshotsNeverTear(t *testing.T) {
	rc := NewRuntimeConfig(testDefaults())

	// Writers swap paired values; readers must always observe a pair from
	// the same swap, never a mix.
	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			d := testDefaults()
			d.MaxConcurrentBranches = i
			d.MaxConcurrentWorkers = i
			rc.Apply(d)
		}
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			deadline := time.Now().Add(200 * time.Millisecond)
			for time.Now().Before(deadline) {
				l := rc.Limits()
				if l.MaxConcurrentBranches != l.MaxConcurrentWorkers {
					t.Errorf("torn read: branches=%d workers=%d",
						l.MaxConcurrentBranches, l.MaxConcurrentWorkers)
					return
				}
			}
		}()
	}

	time.Sleep(250 * time.Millisecond)
	close(stop)
	wg.Wait()
}

func TestRuntimeConfigSwapVisible(t *testing.T) {
	rc := NewRuntimeConfig(testDefaults())
	d := testDefaults()
	d.Routing.Channel = "openai/gpt-5"
	rc.Apply(d)
	if got := rc.Routing().Channel; got != "openai/gpt-5" {
		t.Errorf("expected swapped routing visible, got %q", got)
	}
}

func TestReadinessContract(t *testing.T) {
	rc := NewRuntimeConfig(testDefaults())

	r := rc.Readiness()
	if r.Ready {
		t.Error("cold agent should not be ready")
	}
	if r.Reason != "not_warm" {
		t.Errorf("expected not_warm, got %s", r.Reason)
	}

	rc.SetWarmState(WarmupWarm)
	r = rc.Readiness()
	if r.Ready {
		t.Error("warm agent with no bulletin should not be ready")
	}
	if r.Reason != "bulletin_stale" {
		t.Errorf("expected bulletin_stale, got %s", r.Reason)
	}

	rc.SetMemoryBulletin("facts")
	r = rc.Readiness()
	if !r.Ready {
		t.Errorf("expected ready, got reason %s", r.Reason)
	}
}

func TestReadinessEmbeddingGateOnlyWhenEager(t *testing.T) {
	d := testDefaults()
	d.Warmup.EagerEmbeddingLoad = true
	rc := NewRuntimeConfig(d)
	rc.SetWarmState(WarmupWarm)
	rc.SetMemoryBulletin("facts")

	r := rc.Readiness()
	if r.Ready {
		t.Error("eager embedding load should gate readiness until ready")
	}
	if r.Reason != "embedding_not_ready" {
		t.Errorf("expected embedding_not_ready, got %s", r.Reason)
	}

	rc.SetEmbeddingReady(true)
	if r := rc.Readiness(); !r.Ready {
		t.Errorf("expected ready, got reason %s", r.Reason)
	}
}

func TestReadinessStaleFloor(t *testing.T) {
	d := testDefaults()
	d.Warmup.BulletinRefreshSecs = 1 // 2× = 2s, below the 60s floor
	rc := NewRuntimeConfig(d)
	if got := rc.Readiness().StaleAfter; got != time.Minute {
		t.Errorf("expected 60s floor, got %s", got)
	}
}
