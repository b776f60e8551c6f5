package hal

import (
	"sync"
	"unsafe"

	"github.com/shvisor/vcore/kvmhal"
)

const frameSize = 4096

// KVMMemoryHAL is the default MemoryHAL: it carves fixed-size frames
// out of anonymous-mmap arenas for the core's own host-only
// structures (control structures, I/O/MSR bitmaps). It never installs
// these frames as guest-visible memory; guest RAM is a second-level
// (EPT/NPT) concern the caller owns. Frame-granular since callers
// request individual 4 KiB and multi-frame runs rather than one
// VM-sized region.
type KVMMemoryHAL struct {
	mu     sync.Mutex
	arenas []*arena
	free   []HostPhysAddr
}

type arena struct {
	base HostPhysAddr
	buf  []byte
}

// NewKVMMemoryHAL creates an empty memory HAL; arenas are grown
// lazily as frames are requested.
func NewKVMMemoryHAL() *KVMMemoryHAL {
	return &KVMMemoryHAL{}
}

func hostVirtOf(buf []byte) uintptr { return uintptr(unsafe.Pointer(&buf[0])) }

func (h *KVMMemoryHAL) growLocked(frames int) error {
	size := frames * frameSize

	buf, err := kvmhal.AllocAnonMemory(size)
	if err != nil {
		return err
	}

	base := HostPhysAddr(hostVirtOf(buf))

	h.arenas = append(h.arenas, &arena{base: base, buf: buf})

	for i := 0; i < frames; i++ {
		h.free = append(h.free, base+HostPhysAddr(i*frameSize))
	}

	return nil
}

// AllocFrame returns one free 4 KiB frame, growing the backing arena
// in 256-frame (1 MiB) increments when exhausted.
func (h *KVMMemoryHAL) AllocFrame() (HostPhysAddr, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.free) == 0 {
		if err := h.growLocked(256); err != nil {
			return 0, false
		}
	}

	addr := h.free[len(h.free)-1]
	h.free = h.free[:len(h.free)-1]

	return addr, true
}

// DeallocFrame returns a frame to the free list.
func (h *KVMMemoryHAL) DeallocFrame(addr HostPhysAddr) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.free = append(h.free, addr)
}

// AllocContiguousFrames allocates count physically-contiguous frames
// by growing a fresh dedicated arena; this keeps the implementation
// simple at the cost of never reusing a partially-freed run.
func (h *KVMMemoryHAL) AllocContiguousFrames(count int) (HostPhysAddr, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	before := len(h.arenas)

	if err := h.growLocked(count); err != nil {
		return 0, false
	}

	base := h.arenas[before].base
	h.free = h.free[:len(h.free)-count]

	return base, true
}

// DeallocContiguousFrames returns count frames starting at addr to
// the free list.
func (h *KVMMemoryHAL) DeallocContiguousFrames(addr HostPhysAddr, count int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i := 0; i < count; i++ {
		h.free = append(h.free, addr+HostPhysAddr(i*frameSize))
	}
}

// PhysToVirt resolves a host-physical address back to the mmap'd
// host-virtual pointer inside whichever arena contains it. Since
// arenas are identity-mapped (base is itself the mmap return value
// reinterpreted as a physical address), this is the identity function
// within an owned range.
func (h *KVMMemoryHAL) PhysToVirt(addr HostPhysAddr) HostVirtAddr {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, a := range h.arenas {
		if addr >= a.base && uint64(addr-a.base) < uint64(len(a.buf)) {
			return HostVirtAddr(uintptr(addr))
		}
	}

	return 0
}

// VirtToPhys resolves a host-virtual pointer inside an owned arena
// back to its host-physical address.
func (h *KVMMemoryHAL) VirtToPhys(v HostVirtAddr) HostPhysAddr {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, a := range h.arenas {
		start := hostVirtOf(a.buf)
		if uintptr(v) >= start && uintptr(v)-start < uintptr(len(a.buf)) {
			return HostPhysAddr(v)
		}
	}

	return 0
}
