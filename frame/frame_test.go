package frame

import (
	"testing"

	"github.com/shvisor/vcore/hal"
)

func TestAllocZeroIsZeroFilled(t *testing.T) {
	t.Parallel()

	mem := hal.NewKVMMemoryHAL()

	f, err := AllocZero(mem)
	if err != nil {
		t.Fatalf("AllocZero: %v", err)
	}
	defer f.Release()

	buf := f.AsSlice()
	if len(buf) != 4096 {
		t.Fatalf("AsSlice() length = %d, want 4096", len(buf))
	}

	for i, b := range buf {
		if b != 0 {
			t.Fatalf("byte %d = %#x, want 0", i, b)
		}
	}
}

func TestFrameReleaseIsIdempotent(t *testing.T) {
	t.Parallel()

	mem := hal.NewKVMMemoryHAL()

	f, err := AllocZero(mem)
	if err != nil {
		t.Fatalf("AllocZero: %v", err)
	}

	f.Release()
	f.Release() // must not panic or double-free
}

func TestContiguousFramesSpanRequestedSize(t *testing.T) {
	t.Parallel()

	mem := hal.NewKVMMemoryHAL()

	cf, err := AllocContiguous(mem, 3)
	if err != nil {
		t.Fatalf("AllocContiguous: %v", err)
	}
	defer cf.Release()

	buf := cf.AsSlice()
	if len(buf) != 3*4096 {
		t.Fatalf("AsSlice() length = %d, want %d", len(buf), 3*4096)
	}

	cf.Fill(0xAA)
	for i, b := range buf {
		if b != 0xAA {
			t.Fatalf("byte %d = %#x, want 0xAA", i, b)
		}
	}
}

func TestFramesFromDifferentAllocationsDoNotOverlap(t *testing.T) {
	t.Parallel()

	mem := hal.NewKVMMemoryHAL()

	a, err := Alloc(mem)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	defer a.Release()

	b, err := Alloc(mem)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	defer b.Release()

	if a.StartPAddr() == b.StartPAddr() {
		t.Fatal("two live allocations returned the same address")
	}
}
