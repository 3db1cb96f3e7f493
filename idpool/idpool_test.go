package idpool

import "testing"

func TestAllocateNeverReturnsZero(t *testing.T) {
	p := New()
	for i := 0; i < 1000; i++ {
		id, err := p.Allocate()
		if err != nil {
			t.Fatalf("Allocate: %v", err)
		}
		if id == 0 {
			t.Fatalf("Allocate returned reserved identifier 0")
		}
	}
}

func TestAllocateIsUnique(t *testing.T) {
	p := New()
	seen := make(map[uint16]bool)
	for i := 0; i < 5000; i++ {
		id, err := p.Allocate()
		if err != nil {
			t.Fatalf("Allocate: %v", err)
		}
		if seen[id] {
			t.Fatalf("Allocate returned duplicate identifier %d", id)
		}
		seen[id] = true
	}
}

func TestReleaseAllowsReuse(t *testing.T) {
	p := New()
	id, err := p.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	p.Release(id)
	if p.InUse(id) {
		t.Fatalf("id %d still marked in use after Release", id)
	}
	if p.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", p.Len())
	}
}

func TestReleaseUnknownIsNoop(t *testing.T) {
	p := New()
	p.Release(42) // never allocated
	if p.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", p.Len())
	}
	p.Release(0) // reserved value
}

func TestExhaustion(t *testing.T) {
	p := New()
	for i := 0; i < 65535; i++ {
		if _, err := p.Allocate(); err != nil {
			t.Fatalf("Allocate #%d: %v", i, err)
		}
	}
	if _, err := p.Allocate(); err != ErrExhausted {
		t.Fatalf("Allocate on exhausted pool: got %v, want ErrExhausted", err)
	}
	// releasing one identifier must free up exactly one slot
	p.Release(1)
	id, err := p.Allocate()
	if err != nil {
		t.Fatalf("Allocate after Release: %v", err)
	}
	if id != 1 {
		t.Fatalf("Allocate after Release = %d, want 1 (FIFO order)", id)
	}
}

func TestConservationInvariant(t *testing.T) {
	p := New()
	allocated := make([]uint16, 0, 100)
	for i := 0; i < 100; i++ {
		id, err := p.Allocate()
		if err != nil {
			t.Fatalf("Allocate: %v", err)
		}
		allocated = append(allocated, id)
	}
	if p.Len() != 100 {
		t.Fatalf("Len() = %d, want 100", p.Len())
	}
	for _, id := range allocated {
		p.Release(id)
	}
	if p.Len() != 0 {
		t.Fatalf("Len() = %d, want 0 after releasing all", p.Len())
	}
}
