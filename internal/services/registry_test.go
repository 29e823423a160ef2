package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/yungbote/counselbridge-backend/internal/config"
)

func TestRegistrySerializesPerSession(t *testing.T) {
	r := NewSessionRegistry(config.Default(), nil, testLogger(t))

	release, err := r.Acquire("a")
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if _, err := r.Acquire("a"); !errors.Is(err, ErrSessionBusy) {
		t.Fatalf("second acquire should be busy, got %v", err)
	}
	releaseB, err := r.Acquire("b")
	if err != nil {
		t.Fatalf("other sessions must not block: %v", err)
	}
	releaseB()
	release()
	release2, err := r.Acquire("a")
	if err != nil {
		t.Fatalf("reacquire after release: %v", err)
	}
	release2()
}

func TestRegistryAcquireUnderContention(t *testing.T) {
	r := NewSessionRegistry(config.Default(), nil, testLogger(t))
	var mu sync.Mutex
	acquired := 0
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := r.Acquire("hot")
			if err != nil {
				return
			}
			mu.Lock()
			acquired++
			mu.Unlock()
			time.Sleep(5 * time.Millisecond)
			release()
		}()
	}
	wg.Wait()
	if acquired < 1 {
		t.Fatalf("at least one goroutine must win the lock")
	}
	if r.Len() != 1 {
		t.Fatalf("registry should hold one entry, got %d", r.Len())
	}
}

func TestSweepSkipsHeldSessions(t *testing.T) {
	policy := config.Default()
	policy.SessionTTL = config.Duration(time.Millisecond)
	r := NewSessionRegistry(policy, nil, testLogger(t))

	release, err := r.Acquire("held")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	releaseIdle, err := r.Acquire("idle")
	if err != nil {
		t.Fatalf("acquire idle: %v", err)
	}
	releaseIdle()
	time.Sleep(5 * time.Millisecond)

	expired := r.Sweep(context.Background())
	if expired != 1 {
		t.Fatalf("only the idle session should be swept, expired=%d", expired)
	}
	release()
	time.Sleep(5 * time.Millisecond)
	expired = r.Sweep(context.Background())
	if expired != 1 {
		t.Fatalf("released session should be swept, expired=%d", expired)
	}
	if r.Len() != 0 {
		t.Fatalf("registry should be empty, got %d", r.Len())
	}
}
