package vcpu

import "github.com/shvisor/vcore/kvmhal"

// CPUID leaves and the sub-fields this module shapes.
const (
	leafFeatures     = 0x1
	leafStructuredExt = 0x7
	leafXState       = 0xD
	leafTSCInfo      = 0x16
	leafHypervisorBase = 0x40000000
	leafHypervisorInfo = 0x40000001
)

const (
	featECXVMXBit        = 1 << 5
	featECXHypervisorBit = 1 << 31
	featEDXMCEBit        = 1 << 7

	ext7ECXWaitpkgBit = 1 << 5
	ext7ECXLA57Bit    = 1 << 16
)

// hypervisorVendorString is the fixed leaf 0x40000000 signature,
// "RVMRVMRVMRVM" split across EBX/ECX/EDX.
const hypervisorVendorString = "RVMRVMRVMRVM"

// defaultTSCFrequencyMHz seeds CPUID leaf 0x16 when the host reports
// zero.
const defaultTSCFrequencyMHz = 3000

// programCPUID reads the host's supported CPUID leaf list, patches the
// subset this module cares about, and installs the result with
// KVM_SET_CPUID2. Leaf 0xD keeps the host's values unless
// xs.GuestXCR0 is zero at setup time, in which case its entries are
// zeroed; a guest that changes XCR0 afterward sees the
// setup-time shape until the vCpu is torn down and set up again, since
// vanilla KVM answers CPUID from this static list rather than
// trapping each execution.
func (v *VCpu) programCPUID() error {
	kvmFd := v.pcpu.VMFd()

	supported := kvmhal.CPUID{Nent: kvmhal.MaxCPUIDEntries}
	if err := kvmhal.GetSupportedCPUID(kvmFd, &supported); err != nil {
		return err
	}

	haveHypervisorLeaf := false

	for i := uint32(0); i < supported.Nent; i++ {
		e := &supported.Entries[i]

		switch e.Function {
		case leafFeatures:
			if e.Index == 0 {
				e.Edx &^= featEDXMCEBit
				e.Ecx = (e.Ecx &^ featECXVMXBit) | featECXHypervisorBit
			}
		case leafStructuredExt:
			if e.Index == 0 {
				e.Ecx &^= ext7ECXWaitpkgBit
				e.Ecx &^= ext7ECXLA57Bit
			}
		case leafXState:
			if v.xs != nil && v.xs.GuestXCR0 == 0 {
				e.Eax, e.Ebx, e.Ecx, e.Edx = 0, 0, 0, 0
			}
		case leafTSCInfo:
			if e.Eax == 0 {
				e.Eax = defaultTSCFrequencyMHz
			}
		case leafHypervisorBase:
			e.Eax = leafHypervisorInfo
			e.Ebx, e.Ecx, e.Edx = hypervisorVendorBytes()
			haveHypervisorLeaf = true
		case leafHypervisorInfo:
			e.Eax, e.Ebx, e.Ecx, e.Edx = 0, 0, 0, 0
		}
	}

	if !haveHypervisorLeaf && supported.Nent < kvmhal.MaxCPUIDEntries {
		eb, ec, ed := hypervisorVendorBytes()
		supported.Entries[supported.Nent] = kvmhal.CPUIDEntry2{
			Function: leafHypervisorBase,
			Eax:      leafHypervisorInfo,
			Ebx:      eb,
			Ecx:      ec,
			Edx:      ed,
		}
		supported.Nent++
	}

	return kvmhal.SetCPUID2(v.vcpuFd, &supported)
}

func hypervisorVendorBytes() (ebx, ecx, edx uint32) {
	b := []byte(hypervisorVendorString)

	return u32le(b[0:4]), u32le(b[4:8]), u32le(b[8:12])
}

func u32le(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
