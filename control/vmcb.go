package control

import (
	"encoding/binary"

	"github.com/shvisor/vcore/hal"
)

// VMCB is the AMD-V control structure: a plain memory-mapped record
// with fixed byte offsets (AMD APM Vol-2 Appendix B), accessed
// through typed field accessors rather than raw pointer arithmetic —
// the Go analogue of the Rust original's register_bitfields! layout
// (src/svm/vmcb.rs).
type VMCB struct {
	raw  []byte // 0x1000 bytes, backed by a Frame
	phys hal.HostPhysAddr
}

const (
	vmcbControlAreaSize = 0x400
	vmcbStateAreaSize   = 0xC00
	vmcbTotalSize       = vmcbControlAreaSize + vmcbStateAreaSize
)

// Byte offsets from AMD APM Vol-2 Appendix B.
const (
	offCRIntercept     = 0x00
	offDRIntercept     = 0x04
	offEXCIntercept    = 0x08
	offMisc1           = 0x0C
	offMisc2           = 0x10
	offMisc3           = 0x14
	offIOPermBitmap    = 0x40
	offMSRPermBitmap   = 0x48
	offTSCOffset       = 0x50
	offGuestASIDField  = 0x58
	offTLBControl      = 0x5C
	offIntrControl     = 0x60
	offExitCode        = 0x70
	offExitInfo1       = 0x78
	offExitInfo2       = 0x80
	offExitIntInfo     = 0x88
	offNestedCtl       = 0x90
	offEventInj        = 0xA8
	offNestedCR3       = 0xB0
	offCleanBits       = 0xC0
	offNextRIP         = 0xC8
	offInsnLen         = 0xD0
	offInsnBytes       = 0xD1

	offSaveArea  = 0x400
	offSegES     = offSaveArea + 0x00
	offSegCS     = offSaveArea + 0x10
	offSegSS     = offSaveArea + 0x20
	offSegDS     = offSaveArea + 0x30
	offSegFS     = offSaveArea + 0x40
	offSegGS     = offSaveArea + 0x50
	offGDTR      = offSaveArea + 0x60
	offLDTR      = offSaveArea + 0x70
	offIDTR      = offSaveArea + 0x80
	offTR        = offSaveArea + 0x90
	offEFER      = offSaveArea + 0xD0
	offCR4       = offSaveArea + 0x148
	offCR3       = offSaveArea + 0x150
	offCR0       = offSaveArea + 0x158
	offDR7       = offSaveArea + 0x160
	offDR6       = offSaveArea + 0x168
	offRFLAGS    = offSaveArea + 0x170
	offRIP       = offSaveArea + 0x178
	offRSP       = offSaveArea + 0x1D8
	offRAX       = offSaveArea + 0x1F8
	offGPAT      = offSaveArea + 0x268
)

// mustOffset is the Go analogue of a Rust static_assert over
// offset_of!: it panics at init time if a field table entry drifts
// from the AMD APM-mandated byte offset.
func mustOffset(name string, got, want uintptr) {
	if got != want {
		panic("control: vmcb field " + name + " at wrong offset")
	}
}

func init() {
	mustOffset("control_area", 0, 0)
	mustOffset("state_save_area", offSaveArea, 0x400)

	var total uintptr = vmcbTotalSize
	mustOffset("vmcb_total_size", total, 0x1000)
}

// NewVMCB wraps a 4 KiB frame as a VMCB view.
func NewVMCB(raw []byte, phys hal.HostPhysAddr) *VMCB {
	if len(raw) < vmcbTotalSize {
		panic("control: vmcb buffer too small")
	}

	return &VMCB{raw: raw, phys: phys}
}

func (v *VMCB) u16(off int) uint16     { return binary.LittleEndian.Uint16(v.raw[off:]) }
func (v *VMCB) setU16(off int, x uint16) { binary.LittleEndian.PutUint16(v.raw[off:], x) }
func (v *VMCB) u32(off int) uint32     { return binary.LittleEndian.Uint32(v.raw[off:]) }
func (v *VMCB) setU32(off int, x uint32) { binary.LittleEndian.PutUint32(v.raw[off:], x) }
func (v *VMCB) u64(off int) uint64     { return binary.LittleEndian.Uint64(v.raw[off:]) }
func (v *VMCB) setU64(off int, x uint64) { binary.LittleEndian.PutUint64(v.raw[off:], x) }

// StartPAddr implements ControlStructure.
func (v *VMCB) StartPAddr() hal.HostPhysAddr { return v.phys }

// InstallIOBitmap implements ControlStructure.
func (v *VMCB) InstallIOBitmap(addr hal.HostPhysAddr) { v.setU64(offIOPermBitmap, uint64(addr)) }

// InstallMSRBitmap implements ControlStructure.
func (v *VMCB) InstallMSRBitmap(addr hal.HostPhysAddr) { v.setU64(offMSRPermBitmap, uint64(addr)) }

// InstallNestedRoot implements ControlStructure.
func (v *VMCB) InstallNestedRoot(addr hal.HostPhysAddr) {
	v.setU64(offNestedCR3, uint64(addr))
	v.setU32(offNestedCtl, 1) // NP_ENABLE
}

// ExitInfo implements ControlStructure.
func (v *VMCB) ExitInfo() (code uint64, info1, info2 uint64, entryFailed bool) {
	code = v.u64(offExitCode)
	info1 = v.u64(offExitInfo1)
	info2 = v.u64(offExitInfo2)
	// AMD signals an invalid VMRUN via exit code 0xFFFFFFFF rather
	// than a dedicated bit; treat it as the entry-failure case that
	// surfaces as FailEntry.
	entryFailed = code == 0xFFFFFFFFFFFFFFFF

	return code, info1, info2, entryFailed
}

// SetExitInfo implements ControlStructure. Real hardware would have
// written these fields itself during VMRUN's exit; mediated by KVM,
// the vCpu run loop writes the kernel-reported equivalents here after
// each KVM_RUN so ExitInfo observes the same shape VMCS does.
func (v *VMCB) SetExitInfo(code uint32, qualification uint64, intrInfo uint32, entryFailed bool) {
	exitCode := uint64(code)
	if entryFailed {
		exitCode = 0xFFFFFFFFFFFFFFFF
	}

	v.setU64(offExitCode, exitCode)
	v.setU64(offExitInfo1, qualification)
	v.setU64(offExitInfo2, uint64(intrInfo))
}

// interceptBit returns the (dword offset, bit) location of i within
// the control area's six intercept groups.
func interceptBit(i Intercept) (off int, bit uint32, ok bool) {
	switch i {
	case InterceptCR0Read:
		return offCRIntercept, 1 << 0, true
	case InterceptCR0Write:
		return offCRIntercept, 1 << 16, true
	case InterceptCR3Read:
		return offCRIntercept, 1 << 3, true
	case InterceptCR3Write:
		return offCRIntercept, 1 << 19, true
	case InterceptCR4Read:
		return offCRIntercept, 1 << 4, true
	case InterceptCR4Write:
		return offCRIntercept, 1 << 20, true
	case InterceptCR8Read:
		return offCRIntercept, 1 << 8, true
	case InterceptCR8Write:
		return offCRIntercept, 1 << 24, true
	case InterceptDRRead, InterceptDRWrite:
		return offDRIntercept, 0xFFFFFFFF, true
	case InterceptException:
		return offEXCIntercept, 0xFFFFFFFF, true
	case InterceptIntr:
		return offMisc1, 1 << 0, true
	case InterceptNMI:
		return offMisc1, 1 << 1, true
	case InterceptSMI:
		return offMisc1, 1 << 2, true
	case InterceptCPUID:
		return offMisc1, 1 << 18, true
	case InterceptHLT:
		return offMisc1, 1 << 24, true
	case InterceptINVLPG:
		return offMisc1, 1 << 22, true
	case InterceptIO:
		return offMisc1, 1 << 27, true
	case InterceptMSR:
		return offMisc1, 1 << 28, true
	case InterceptTaskSwitch:
		return offMisc1, 1 << 29, true
	case InterceptShutdown:
		return offMisc1, 1 << 31, true
	case InterceptVMRUN:
		return offMisc2, 1 << 0, true
	case InterceptVMMCALL:
		return offMisc2, 1 << 1, true
	case InterceptVMLOAD:
		return offMisc2, 1 << 2, true
	case InterceptVMSAVE:
		return offMisc2, 1 << 3, true
	case InterceptSTGI:
		return offMisc2, 1 << 4, true
	case InterceptCLGI:
		return offMisc2, 1 << 5, true
	case InterceptSKINIT:
		return offMisc2, 1 << 6, true
	case InterceptXSETBV:
		return offMisc3, 1 << 4, true
	default:
		return 0, 0, false
	}
}

// SetIntercept implements ControlStructure.
func (v *VMCB) SetIntercept(i Intercept, enabled bool) {
	off, bit, ok := interceptBit(i)
	if !ok {
		return
	}

	cur := v.u32(off)
	if enabled {
		cur |= bit
	} else {
		cur &^= bit
	}

	v.setU32(off, cur)
}

// HasIntercept implements ControlStructure.
func (v *VMCB) HasIntercept(i Intercept) bool {
	off, bit, ok := interceptBit(i)
	if !ok {
		return false
	}

	return v.u32(off)&bit != 0
}

// Guest-state accessors used by vCPU setup/run.

func (v *VMCB) CR0() uint64       { return v.u64(offCR0) }
func (v *VMCB) SetCR0(x uint64)   { v.setU64(offCR0, x) }
func (v *VMCB) CR3() uint64       { return v.u64(offCR3) }
func (v *VMCB) SetCR3(x uint64)   { v.setU64(offCR3, x) }
func (v *VMCB) CR4() uint64       { return v.u64(offCR4) }
func (v *VMCB) SetCR4(x uint64)   { v.setU64(offCR4, x) }
func (v *VMCB) EFER() uint64      { return v.u64(offEFER) }
func (v *VMCB) SetEFER(x uint64)  { v.setU64(offEFER, x) }
func (v *VMCB) RIP() uint64       { return v.u64(offRIP) }
func (v *VMCB) SetRIP(x uint64)   { v.setU64(offRIP, x) }
func (v *VMCB) RSP() uint64       { return v.u64(offRSP) }
func (v *VMCB) SetRSP(x uint64)   { v.setU64(offRSP, x) }
func (v *VMCB) RFLAGS() uint64    { return v.u64(offRFLAGS) }
func (v *VMCB) SetRFLAGS(x uint64) { v.setU64(offRFLAGS, x) }
func (v *VMCB) SetGuestASID(x uint32) { v.setU32(offGuestASIDField, x) }

func (v *VMCB) SetCleanBits(x uint32) { v.setU32(offCleanBits, x) }
func (v *VMCB) SetTLBControl(x uint8) { v.raw[offTLBControl] = x }
func (v *VMCB) SetEventInjection(vector uint8, typ uint8, hasErr bool, errCode uint32, valid bool) {
	var lo uint64
	lo = uint64(vector) | uint64(typ)<<8

	if hasErr {
		lo |= 1 << 11
	}

	if valid {
		lo |= 1 << 31
	}

	lo |= uint64(errCode) << 32
	v.setU64(offEventInj, lo)
}
