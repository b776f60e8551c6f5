package kvmhal

import "unsafe"

// UserspaceMemoryRegion installs a slice of userspace memory as guest
// physical memory (KVM_SET_USER_MEMORY_REGION). cmd/vcored installs
// its flat guest RAM through it; frame.Frame and hal.KVMMemoryHAL do
// not use it.
type UserspaceMemoryRegion struct {
	Slot          uint32
	Flags         uint32
	GuestPhysAddr uint64
	MemorySize    uint64
	UserspaceAddr uint64
}

// SetMemLogDirtyPages marks a region for dirty-page tracking.
func (r *UserspaceMemoryRegion) SetMemLogDirtyPages() {
	r.Flags |= 1 << 0
}

// SetMemReadonly marks a region read-only from the guest's view.
func (r *UserspaceMemoryRegion) SetMemReadonly() {
	r.Flags |= 1 << 1
}

// SetUserMemoryRegion adds or updates a memory slot on a VM.
func SetUserMemoryRegion(vmFd uintptr, region *UserspaceMemoryRegion) error {
	_, err := Ioctl(vmFd, IIOW(nrSetUserMemoryRegion, unsafe.Sizeof(*region)), uintptr(unsafe.Pointer(region)))

	return err
}

// SetTSSAddr sets the 3-page TSS region address used by real-mode
// emulation on Intel hosts.
func SetTSSAddr(vmFd uintptr, addr uint32) error {
	_, err := Ioctl(vmFd, IIO(nrSetTSSAddr), uintptr(addr))

	return err
}

// SetIdentityMapAddr sets the address of the one-page identity map
// region used by real-mode emulation on Intel hosts.
func SetIdentityMapAddr(vmFd uintptr, addr uint32) error {
	_, err := Ioctl(vmFd, IIOW(nrSetIdentityMapAddr, 8), uintptr(unsafe.Pointer(&addr)))

	return err
}

// CheckExtension reports whether the host KVM build supports the
// named capability, and if so, to what extent (a capability-specific
// integer, often just 0/1).
func CheckExtension(kvmFd uintptr, cap Capability) (int, error) {
	r, err := Ioctl(kvmFd, IIO(nrCheckExtension), uintptr(cap))

	return int(r), err
}
