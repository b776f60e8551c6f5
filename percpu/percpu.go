// Package percpu implements PerCpuState: the per-logical-CPU
// enable/disable of hardware virtualization. Under the KVM-mediated
// world switch, "enabling virtualization on this CPU" is realized as
// opening /dev/kvm and creating the one VM all of this CPU's vCpus
// will be created against — the kernel module itself owns the
// per-physical-CPU VMXON/HSAVE region.
package percpu

import (
	"os"

	"github.com/shvisor/vcore/kvmhal"
	"github.com/shvisor/vcore/verror"
)

// requiredCapabilities are the KVM extensions this core depends on;
// HardwareEnable fails Unsupported if any is absent.
var requiredCapabilities = []kvmhal.Capability{
	kvmhal.CapUserMemory,
	kvmhal.CapSetTSSAddr,
	kvmhal.CapExtCPUID,
	kvmhal.CapIRQChip,
}

// State owns one logical CPU's virtualization-enable scope.
type State struct {
	cpuID      int
	kvmFile    *os.File
	vmFd       uintptr
	revisionID uint32
	enabled    bool
}

// New returns an unconfigured, disabled PerCpuState for cpuID.
func New(cpuID int) *State {
	return &State{cpuID: cpuID}
}

// CPUID returns the logical CPU identifier this state is bound to.
func (s *State) CPUID() int { return s.cpuID }

// IsEnabled reports whether HardwareEnable has succeeded without a
// matching HardwareDisable.
func (s *State) IsEnabled() bool { return s.enabled }

// RevisionID returns the KVM API version cached at enable time, the
// analogue of a VMCS revision id read at enable time.
func (s *State) RevisionID() uint32 { return s.revisionID }

// VMFd exposes the VM-scoped file descriptor vCpu.Bind needs to
// create a vCPU against this CPU's enable scope.
func (s *State) VMFd() uintptr { return s.vmFd }

// HardwareEnable brings this logical CPU into virtualization-capable
// state.
func (s *State) HardwareEnable() error {
	if s.enabled {
		return verror.AlreadyEnabled
	}

	f, err := os.OpenFile("/dev/kvm", os.O_RDWR, 0)
	if err != nil {
		return verror.Unsupported
	}

	version, err := kvmhal.GetAPIVersion(f.Fd())
	if err != nil || version != kvmhal.APIVersion {
		f.Close()

		return verror.Unsupported
	}

	for _, cap := range requiredCapabilities {
		ok, err := kvmhal.CheckExtension(f.Fd(), cap)
		if err != nil || ok <= 0 {
			f.Close()

			return verror.Unsupported
		}
	}

	vmFd, err := kvmhal.CreateVM(f.Fd())
	if err != nil {
		f.Close()

		return verror.Unsupported
	}

	if err := kvmhal.SetTSSAddr(vmFd, 0xffffd000); err != nil {
		f.Close()

		return err
	}

	if err := kvmhal.SetIdentityMapAddr(vmFd, 0xffffc000); err != nil {
		f.Close()

		return err
	}

	if err := kvmhal.CreateIRQChip(vmFd); err != nil {
		f.Close()

		return err
	}

	if err := kvmhal.CreatePIT2(vmFd); err != nil {
		f.Close()

		return err
	}

	s.kvmFile = f
	s.vmFd = vmFd
	s.revisionID = uint32(version)
	s.enabled = true

	return nil
}

// HardwareDisable releases this logical CPU's enable scope, closing
// the VM fd and the /dev/kvm fd.
func (s *State) HardwareDisable() error {
	if !s.enabled {
		return verror.NotEnabled
	}

	vmErr := os.NewFile(s.vmFd, "kvm-vm").Close()
	err := s.kvmFile.Close()
	if err == nil {
		err = vmErr
	}
	s.kvmFile = nil
	s.vmFd = 0
	s.enabled = false

	return err
}
