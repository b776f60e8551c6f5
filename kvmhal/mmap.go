package kvmhal

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// MapRunData mmaps the shared kvm_run page for a vCPU fd. The returned
// RunData aliases kernel memory directly; reads/writes to its fields
// are the kernel<->userspace side-channel for the current exit.
func MapRunData(kvmFd, vcpuFd uintptr) (*RunData, []byte, error) {
	size, err := GetVCPUMMapSize(kvmFd)
	if err != nil {
		return nil, nil, err
	}

	buf, err := unix.Mmap(int(vcpuFd), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, nil, err
	}

	return (*RunData)(unsafe.Pointer(&buf[0])), buf, nil
}

// UnmapRunData releases a mapping returned by MapRunData.
func UnmapRunData(buf []byte) error {
	return unix.Munmap(buf)
}

// AllocAnonMemory mmaps an anonymous, zero-filled region usable as
// guest physical memory backing.
func AllocAnonMemory(size int) ([]byte, error) {
	return unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_SHARED|unix.MAP_ANONYMOUS)
}

// FreeAnonMemory releases a mapping returned by AllocAnonMemory.
func FreeAnonMemory(buf []byte) error {
	return unix.Munmap(buf)
}
