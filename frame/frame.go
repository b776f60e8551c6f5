// Package frame implements RAII-style guards over host-physical pages
// obtained from a hal.MemoryHAL, grounded on the Rust original's
// PhysFrame/ContiguousPhysFrames (src/frame.rs) and adapted to Go's
// explicit-release idiom: there is no Drop, so callers must call
// Release exactly once (or rely on it being a no-op the second time).
package frame

import (
	"github.com/shvisor/vcore/hal"
	"github.com/shvisor/vcore/verror"
)

// Frame is a single 4 KiB host-physical page uniquely owned by its
// holder.
type Frame struct {
	mem      hal.MemoryHAL
	phys     hal.HostPhysAddr
	released bool
}

// Alloc allocates one frame, left with unspecified contents.
func Alloc(mem hal.MemoryHAL) (*Frame, error) {
	addr, ok := mem.AllocFrame()
	if !ok {
		return nil, verror.NoMemory
	}

	return &Frame{mem: mem, phys: addr}, nil
}

// AllocZero allocates one frame and zero-fills it.
func AllocZero(mem hal.MemoryHAL) (*Frame, error) {
	f, err := Alloc(mem)
	if err != nil {
		return nil, err
	}

	f.Fill(0)

	return f, nil
}

// StartPAddr returns the frame's host-physical base address.
func (f *Frame) StartPAddr() hal.HostPhysAddr { return f.phys }

// AsSlice returns the frame's contents as a byte slice of length 4096,
// mapped through the owning HAL.
func (f *Frame) AsSlice() []byte {
	v := f.mem.PhysToVirt(f.phys)

	return unsafeSlice(v, 4096)
}

// Fill sets every byte of the frame to b.
func (f *Frame) Fill(b byte) {
	buf := f.AsSlice()
	for i := range buf {
		buf[i] = b
	}
}

// Release returns the frame to its HAL. Calling it more than once is
// a no-op, matching "drop releases it exactly once".
func (f *Frame) Release() {
	if f.released {
		return
	}

	f.mem.DeallocFrame(f.phys)
	f.released = true
}

// ContiguousFrames is a run of count physically-contiguous frames,
// used by the I/O and MSR permission bitmaps, which each span two or
// three contiguous pages.
type ContiguousFrames struct {
	mem      hal.MemoryHAL
	phys     hal.HostPhysAddr
	count    int
	released bool
}

// AllocContiguous allocates count contiguous frames.
func AllocContiguous(mem hal.MemoryHAL, count int) (*ContiguousFrames, error) {
	addr, ok := mem.AllocContiguousFrames(count)
	if !ok {
		return nil, verror.NoMemory
	}

	return &ContiguousFrames{mem: mem, phys: addr, count: count}, nil
}

// StartPAddr returns the run's host-physical base address.
func (f *ContiguousFrames) StartPAddr() hal.HostPhysAddr { return f.phys }

// AsSlice returns the run's contents as one contiguous byte slice.
func (f *ContiguousFrames) AsSlice() []byte {
	v := f.mem.PhysToVirt(f.phys)

	return unsafeSlice(v, f.count*4096)
}

// Fill sets every byte of the run to b.
func (f *ContiguousFrames) Fill(b byte) {
	buf := f.AsSlice()
	for i := range buf {
		buf[i] = b
	}
}

// Release returns the run to its HAL. Idempotent.
func (f *ContiguousFrames) Release() {
	if f.released {
		return
	}

	f.mem.DeallocContiguousFrames(f.phys, f.count)
	f.released = true
}
