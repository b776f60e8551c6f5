// Package hal declares the external collaborator interfaces the core
// consumes: physical-frame allocation and second-level address
// translation. Concrete implementations live outside the core; this
// module ships one default, KVM-backed implementation so the core is
// usable standalone (see KVMMemoryHAL).
package hal

// GuestPhysAddr is a guest-physical address.
type GuestPhysAddr uint64

// GuestVirtAddr is a guest-virtual address.
type GuestVirtAddr uint64

// HostPhysAddr is a host-physical address.
type HostPhysAddr uint64

// HostVirtAddr is a host-virtual address, valid in this process.
type HostVirtAddr uintptr

// PageSize names the granularity a translation resolved to.
type PageSize int

const (
	Page4K PageSize = 1 << 12
	Page2M PageSize = 1 << 21
	Page4M PageSize = 1 << 22
	Page1G PageSize = 1 << 30
)

// MappingFlags combine present/writable/user/no-execute/accessed/dirty
// bits from a guest or nested page-table entry.
type MappingFlags uint32

const (
	FlagPresent MappingFlags = 1 << iota
	FlagWrite
	FlagUser
	FlagNoExecute
	FlagAccessed
	FlagDirty
	FlagHuge
)

func (f MappingFlags) Has(bit MappingFlags) bool { return f&bit != 0 }

// MemoryHAL allocates and translates host-physical memory backing
// frames and control structures.
type MemoryHAL interface {
	AllocFrame() (HostPhysAddr, bool)
	DeallocFrame(HostPhysAddr)
	AllocContiguousFrames(count int) (HostPhysAddr, bool)
	DeallocContiguousFrames(addr HostPhysAddr, count int)
	PhysToVirt(HostPhysAddr) HostVirtAddr
	VirtToPhys(HostVirtAddr) HostPhysAddr
}

// EPTTranslator resolves guest-physical addresses through the
// second-level (EPT/NPT) page tables to host-physical addresses.
type EPTTranslator interface {
	GuestPhysToHostPhys(GuestPhysAddr) (HostPhysAddr, MappingFlags, PageSize, bool)
}

// GuestMemoryReader reads raw bytes of guest memory addressed by
// guest-physical address, used by the guest page-table walker to read
// page-table pages without a separate mapping step.
type GuestMemoryReader interface {
	ReadGuestPhys(addr GuestPhysAddr, buf []byte) error
}
