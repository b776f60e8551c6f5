package kvmhal

import "unsafe"

// MaxMSRs bounds the MSR index list and per-call MSRS transfers.
const MaxMSRs = 100

// MSRList is the set of MSR indices KVM_GET_MSR_INDEX_LIST returns.
// This varies with host CPU and kernel version but not otherwise.
type MSRList struct {
	NMSRs   uint32
	Indices [MaxMSRs]uint32
}

// GetMSRIndexList returns the guest MSRs this KVM build understands.
func GetMSRIndexList(kvmFd uintptr, list *MSRList) error {
	// The ioctl number encodes only the size of the kvm_msr_list header
	// (probe's NMSRs field); the kernel reads list.NMSRs on entry as the
	// capacity of list.Indices. probe itself is not passed to the kernel.
	probe := struct{ NMSRs uint32 }{NMSRs: MaxMSRs}
	_, err := Ioctl(kvmFd, IIOWR(nrGetMSRIndexList, unsafe.Sizeof(probe)), uintptr(unsafe.Pointer(list)))

	return err
}

// MSREntry is one index/value pair exchanged with KVM_GET_MSRS/KVM_SET_MSRS.
type MSREntry struct {
	Index    uint32
	Reserved uint32
	Data     uint64
}

// MSRS is the variable-length array KVM_GET_MSRS/KVM_SET_MSRS exchange.
type MSRS struct {
	NMSRs   uint32
	Pad     uint32
	Entries [MaxMSRs]MSREntry
}

// GetMSRs reads the MSRs named in msrs.Entries[i].Index, filling in Data.
func GetMSRs(vcpuFd uintptr, msrs *MSRS) error {
	_, err := Ioctl(vcpuFd, IIOWR(nrGetMSRs, unsafe.Sizeof(*msrs)), uintptr(unsafe.Pointer(msrs)))

	return err
}

// SetMSRs writes the MSRs named in msrs.Entries.
func SetMSRs(vcpuFd uintptr, msrs *MSRS) error {
	_, err := Ioctl(vcpuFd, IIOW(nrSetMSRs, unsafe.Sizeof(*msrs)), uintptr(unsafe.Pointer(msrs)))

	return err
}

// XCRs mirrors KVM_GET_XCRS/KVM_SET_XCRS, used by xstate to read back
// the host's real XCR0 as seen by the vCPU.
type XCRs struct {
	NXCRs uint32
	Flags uint32
	XCRs  [16]struct {
		XCR   uint32
		Pad   uint32
		Value uint64
	}
}

// GetXCRs reads the extended control registers (XCR0) of a vCPU.
func GetXCRs(vcpuFd uintptr, xcrs *XCRs) error {
	_, err := Ioctl(vcpuFd, IIOR(nrGetXCRs, unsafe.Sizeof(*xcrs)), uintptr(unsafe.Pointer(xcrs)))

	return err
}

// SetXCRs writes the extended control registers (XCR0) of a vCPU.
func SetXCRs(vcpuFd uintptr, xcrs *XCRs) error {
	_, err := Ioctl(vcpuFd, IIOW(nrSetXCRs, unsafe.Sizeof(*xcrs)), uintptr(unsafe.Pointer(xcrs)))

	return err
}
