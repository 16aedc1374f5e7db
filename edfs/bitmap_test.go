package edfs_test

import (
	"testing"

	"github.com/leiden-edu/edfs/edfs"
)

func TestAllocBlockFirstFit(t *testing.T) {
	img := newFixture(t, 1024, 8, 16)

	a, err := img.AllocBlock()
	if err != nil {
		t.Fatalf("alloc 1: %v", err)
	}
	b, err := img.AllocBlock()
	if err != nil {
		t.Fatalf("alloc 2: %v", err)
	}
	if a == b {
		t.Fatalf("two allocations returned the same block %d", a)
	}
	if b <= a {
		t.Fatalf("second alloc %d did not advance past first %d", b, a)
	}
}

func TestFreeBlockThenRealloc(t *testing.T) {
	img := newFixture(t, 1024, 8, 16)

	a, err := img.AllocBlock()
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	if err := img.FreeBlock(a); err != nil {
		t.Fatalf("free: %v", err)
	}

	b, err := img.AllocBlock()
	if err != nil {
		t.Fatalf("realloc: %v", err)
	}
	if b != a {
		t.Fatalf("realloc returned %d, want first-fit to reuse freed block %d", b, a)
	}
}

func TestAllocBlockExhaustion(t *testing.T) {
	img := newFixture(t, 1024, 8, 16)

	for i := 0; i < 8; i++ {
		if _, err := img.AllocBlock(); err != nil {
			t.Fatalf("alloc %d: %v", i, err)
		}
	}

	if _, err := img.AllocBlock(); err != edfs.ErrNoSpace {
		t.Fatalf("alloc past capacity = %v, want ErrNoSpace", err)
	}
}

func TestDoubleFreeFails(t *testing.T) {
	img := newFixture(t, 1024, 8, 16)

	a, err := img.AllocBlock()
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	if err := img.FreeBlock(a); err != nil {
		t.Fatalf("first free: %v", err)
	}
	if err := img.FreeBlock(a); err == nil {
		t.Fatalf("second free of the same block succeeded, want an error")
	}
}
