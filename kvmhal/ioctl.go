// Package kvmhal is the thin userspace binding to Linux's /dev/kvm ioctl
// interface. It gives the rest of this module the same world-switch and
// control-structure primitives a ring -1 core gets natively: entering the
// guest, reading back why it exited, and shaping the registers, CPUID
// leaves and MSRs the guest sees.
package kvmhal

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// KVM ioctl direction bits, matching Linux's asm-generic/ioctl.h.
const (
	iocNone  = 0
	iocWrite = 1
	iocRead  = 2

	iocNRBits   = 8
	iocTypeBits = 8
	iocSizeBits = 14

	iocNRShift   = 0
	iocTypeShift = iocNRShift + iocNRBits
	iocSizeShift = iocTypeShift + iocTypeBits
	iocDirShift  = iocSizeShift + iocSizeBits

	kvmio = 0xAE
)

func ioc(dir, nr, size uintptr) uintptr {
	return (dir << iocDirShift) | (kvmio << iocTypeShift) | (nr << iocNRShift) | (size << iocSizeShift)
}

// IIO builds a KVM ioctl number carrying no argument payload (_IO).
func IIO(nr uintptr) uintptr { return ioc(iocNone, nr, 0) }

// IIOR builds a KVM ioctl number for a kernel-to-user read (_IOR).
func IIOR(nr, size uintptr) uintptr { return ioc(iocRead, nr, size) }

// IIOW builds a KVM ioctl number for a user-to-kernel write (_IOW).
func IIOW(nr, size uintptr) uintptr { return ioc(iocWrite, nr, size) }

// IIOWR builds a KVM ioctl number for a bidirectional transfer (_IOWR).
func IIOWR(nr, size uintptr) uintptr { return ioc(iocRead|iocWrite, nr, size) }

// Ioctl issues a KVM ioctl, retrying locally on EINTR. Nothing else about
// a /dev/kvm ioctl is safe to retry: a half-applied KVM_SET_SREGS or a
// re-entered KVM_RUN would desynchronize our shadow state from the
// kernel's, so only the well-defined "interrupted before starting" case
// is handled here.
func Ioctl(fd, op, arg uintptr) (uintptr, error) {
	for {
		res, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, op, arg)
		if errno == unix.EINTR {
			continue
		}

		if errno != 0 {
			return res, errno
		}

		return res, nil
	}
}

// base ioctl command numbers, matching Linux's linux/kvm.h.
const (
	nrGetAPIVersion       = 0x00
	nrCreateVM            = 0x01
	nrGetMSRIndexList     = 0x02
	nrGetSupportedCPUID   = 0x05
	nrGetVCPUMMapSize     = 0x04
	nrCreateVCPU          = 0x41
	nrGetDirtyLog         = 0x42
	nrSetTSSAddr          = 0x47
	nrSetIdentityMapAddr  = 0x48
	nrCreateIRQChip       = 0x60
	nrIRQLine             = 0x61
	nrCreatePIT2          = 0x77
	nrGetRegs             = 0x81
	nrSetRegs             = 0x82
	nrGetSregs            = 0x83
	nrSetSregs            = 0x84
	nrSetCPUID2           = 0x90
	nrSetUserMemoryRegion = 0x46
	nrRun                 = 0x80
	nrGetDebugRegs        = 0xa1
	nrSetDebugRegs        = 0xa2
	nrGetMSRs             = 0x88
	nrSetMSRs             = 0x89
	nrCheckExtension      = 0x03
	nrSingleStep          = 0x82 // unused: SingleStep issues KVM_SET_GUEST_DEBUG instead
	nrTranslate           = 0x85
	nrGetXCRs             = 0xa6
	nrSetXCRs             = 0xa7
)

// GetAPIVersion returns the KVM API version. Callers must check it equals
// APIVersion before trusting any other ioctl on this fd.
func GetAPIVersion(kvmFd uintptr) (int, error) {
	r, err := Ioctl(kvmFd, IIO(nrGetAPIVersion), 0)

	return int(r), err
}

// APIVersion is the only KVM userspace API version this module speaks.
const APIVersion = 12

// CreateVM creates a new VM and returns its file descriptor.
func CreateVM(kvmFd uintptr) (uintptr, error) {
	r, err := Ioctl(kvmFd, IIO(nrCreateVM), 0)

	return r, err
}

// CreateVCPU creates a new vCPU bound to vmFd and returns its descriptor.
func CreateVCPU(vmFd uintptr, id int) (uintptr, error) {
	r, err := Ioctl(vmFd, IIO(nrCreateVCPU), uintptr(id))

	return r, err
}

// GetVCPUMMapSize returns the size, in bytes, of the shared kvm_run
// mmap region that must be established on every vCPU fd.
func GetVCPUMMapSize(kvmFd uintptr) (int, error) {
	r, err := Ioctl(kvmFd, IIO(nrGetVCPUMMapSize), 0)

	return int(r), err
}

// Run is the world switch: it enters the guest and does not return
// until the next vmexit. This is the one point at which a vCPU's run
// loop suspends.
func Run(vcpuFd uintptr) error {
	_, err := Ioctl(vcpuFd, IIO(nrRun), 0)

	return err
}

// SingleStep arms or disarms guest single-stepping via the debug-exit
// path, used by tests that need one instruction at a time.
func SingleStep(vcpuFd uintptr, enable bool) error {
	dbg := struct {
		Control  uint32
		_        uint32
		DR       [4]uint64
		DR6, DR7 uint64
	}{}
	if enable {
		const kvmGuestDebugEnable = 1
		const kvmGuestDebugSingleStep = 1 << 16
		dbg.Control = kvmGuestDebugEnable | kvmGuestDebugSingleStep
	}

	const nrSetGuestDebug = 0x9b
	_, err := Ioctl(vcpuFd, IIOW(nrSetGuestDebug, unsafe.Sizeof(dbg)), uintptr(unsafe.Pointer(&dbg)))

	return err
}
