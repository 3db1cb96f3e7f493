package mqtt

import (
	"runtime"
	"testing"
	"time"
)

func TestPoolGetOrCreateDeduplicatesByFingerprint(t *testing.T) {
	pool := NewPool(0)
	defer pool.Close()

	a, err := pool.GetOrCreate(URL("mqtt://broker.local:1883"), ClientID("fixed"))
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	b, err := pool.GetOrCreate(URL("mqtt://broker.local:1883"), ClientID("fixed"))
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if a != b {
		t.Fatal("GetOrCreate with identical settings should return the same Client")
	}
}

func TestPoolGetOrCreateDiffersByFingerprint(t *testing.T) {
	pool := NewPool(0)
	defer pool.Close()

	a, err := pool.GetOrCreate(URL("mqtt://broker-a.local:1883"))
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	b, err := pool.GetOrCreate(URL("mqtt://broker-b.local:1883"))
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if a == b {
		t.Fatal("GetOrCreate with different settings should return distinct Clients")
	}
}

func TestPoolReleaseEvictsFingerprintImmediately(t *testing.T) {
	pool := NewPool(0)
	defer pool.Close()

	a, err := pool.GetOrCreate(URL("mqtt://broker-d.local:1883"), ClientID("fixed"))
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	pool.Release(a.Fingerprint())

	if n := pool.Len(); n != 0 {
		t.Fatalf("Len() = %d, want 0 immediately after Release, not waiting on GC", n)
	}

	b, err := pool.GetOrCreate(URL("mqtt://broker-d.local:1883"), ClientID("fixed"))
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if a == b {
		t.Fatal("GetOrCreate after Release should construct a fresh Client")
	}
}

func TestPoolTickerStopsWithLastClient(t *testing.T) {
	pool := NewPool(time.Millisecond)
	defer pool.Close()

	a, err := pool.GetOrCreate(URL("mqtt://broker-e.local:1883"), ClientID("fixed"))
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	pool.mu.Lock()
	ticking := pool.ticking
	pool.mu.Unlock()
	if !ticking {
		t.Fatal("ticker should be running while a client is pooled")
	}

	pool.Release(a.Fingerprint())

	deadline := time.Now().Add(time.Second)
	for {
		pool.mu.Lock()
		ticking = pool.ticking
		pool.mu.Unlock()
		if !ticking {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("ticker should stop once the last client is released")
		}
		time.Sleep(time.Millisecond)
	}

	// A new client restarts the shared ticker.
	b, err := pool.GetOrCreate(URL("mqtt://broker-e.local:1883"), ClientID("fixed"))
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	pool.mu.Lock()
	ticking = pool.ticking
	pool.mu.Unlock()
	if !ticking {
		t.Fatal("ticker should restart for a new pooled client")
	}
	runtime.KeepAlive(b)
}

func TestPoolLenPrunesCollectedClients(t *testing.T) {
	pool := NewPool(0)
	defer pool.Close()

	func() {
		if _, err := pool.GetOrCreate(URL("mqtt://broker-c.local:1883")); err != nil {
			t.Fatalf("GetOrCreate: %v", err)
		}
	}()

	runtime.GC()
	runtime.GC()
	time.Sleep(10 * time.Millisecond)

	if n := pool.Len(); n > 1 {
		t.Fatalf("Len() = %d, want at most 1 after the only reference went out of scope", n)
	}
}
