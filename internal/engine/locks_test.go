package engine

import (
	"sync"
	"testing"
	"time"
)

func TestKeyedLocksSerializeSameKey(t *testing.T) {
	k := newKeyedLocks()
	var (
		mu      sync.Mutex
		active  int
		maxSeen int
		wg      sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.lock("same")
			defer unlock()
			mu.Lock()
			active++
			if active > maxSeen {
				maxSeen = active
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Fatalf("expected exclusive access, saw %d concurrent holders", maxSeen)
	}
	if k.len() != 0 {
		t.Fatalf("expected lock entries to be released, got %d", k.len())
	}
}

func TestKeyedLocksIndependentKeys(t *testing.T) {
	k := newKeyedLocks()
	unlockA := k.lock("a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlock := k.lock("b")
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on a different key blocked")
	}
}
