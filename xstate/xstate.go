// Package xstate captures and restores the host/guest XCR0 and
// IA32_XSS pair a vCpu must save across the world switch: New reads
// the host's current xcr0 and IA32_XSS, and EnableHostXsave is a no-op
// that relies on the host kernel already running with CR4.OSXSAVE set.
// Under the KVM-mediated world switch the host CPU's
// xcr0 is read back through the vCPU's KVM_GET_XCRS/KVM_GET_MSRS
// views rather than a direct xgetbv, since only the kernel executes
// that instruction.
package xstate

import (
	"github.com/shvisor/vcore/kvmhal"
	"github.com/shvisor/vcore/msr"
)

// State holds the host and guest halves of the extended state control
// registers that must be swapped around guest entry/exit.
type State struct {
	HostXCR0  uint64
	GuestXCR0 uint64
	HostXSS   uint64
	GuestXSS  uint64
}

// New reads the current host xcr0/IA32_XSS for vcpuFd and seeds the
// guest half with the same values, matching the Rust XState::new,
// which starts guest_xcr0/guest_xss equal to the host's.
func New(vcpuFd uintptr) (*State, error) {
	xcrs := kvmhal.XCRs{NXCRs: 1}
	xcrs.XCRs[0].XCR = 0

	if err := kvmhal.GetXCRs(vcpuFd, &xcrs); err != nil {
		return nil, err
	}

	hostXCR0 := xcrs.XCRs[0].Value

	m := kvmhal.MSRS{NMSRs: 1}
	m.Entries[0].Index = uint32(msr.IA32_XSS)

	var hostXSS uint64
	if err := kvmhal.GetMSRs(vcpuFd, &m); err == nil {
		hostXSS = m.Entries[0].Data
	}

	return &State{
		HostXCR0:  hostXCR0,
		GuestXCR0: hostXCR0,
		HostXSS:   hostXSS,
		GuestXSS:  hostXSS,
	}, nil
}

// EnableHostXsave does nothing and checks nothing: it relies on the
// host kernel already running with CR4.OSXSAVE set — true of every
// Linux kernel new enough to expose KVM_CAP_XCRS — since a userspace
// KVM client cannot itself toggle the host's live CR4.
func (s *State) EnableHostXsave() {}

// SwapToGuest writes GuestXCR0/GuestXSS into the vCPU ahead of entry.
func (s *State) SwapToGuest(vcpuFd uintptr) error {
	xcrs := kvmhal.XCRs{NXCRs: 1}
	xcrs.XCRs[0].XCR = 0
	xcrs.XCRs[0].Value = s.GuestXCR0

	if err := kvmhal.SetXCRs(vcpuFd, &xcrs); err != nil {
		return err
	}

	m := kvmhal.MSRS{NMSRs: 1}
	m.Entries[0].Index = uint32(msr.IA32_XSS)
	m.Entries[0].Data = s.GuestXSS

	return kvmhal.SetMSRs(vcpuFd, &m)
}

// SwapToHost writes HostXCR0/HostXSS back into the vCPU after an exit.
// The vcpu package calls neither SwapToGuest nor SwapToHost.
func (s *State) SwapToHost(vcpuFd uintptr) error {
	xcrs := kvmhal.XCRs{NXCRs: 1}
	xcrs.XCRs[0].XCR = 0
	xcrs.XCRs[0].Value = s.HostXCR0

	if err := kvmhal.SetXCRs(vcpuFd, &xcrs); err != nil {
		return err
	}

	m := kvmhal.MSRS{NMSRs: 1}
	m.Entries[0].Index = uint32(msr.IA32_XSS)
	m.Entries[0].Data = s.HostXSS

	return kvmhal.SetMSRs(vcpuFd, &m)
}
