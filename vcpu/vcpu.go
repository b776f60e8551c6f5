// Package vcpu is the core's largest component: per-vCpu lifecycle,
// guest-state setup, the world-switch trampoline mediated by KVM_RUN,
// pending-event injection, and exit classification into either a
// built-in handler or a neutral exitreason.Reason. A vCpu is vendor-
// neutral and reusable: it can be bound to any PerCpuState in turn
// rather than hard-coding one boot flow for one logical CPU.
package vcpu

import (
	"sync/atomic"
	"unsafe"

	"github.com/shvisor/vcore/control"
	"github.com/shvisor/vcore/eventqueue"
	"github.com/shvisor/vcore/frame"
	"github.com/shvisor/vcore/gpr"
	"github.com/shvisor/vcore/hal"
	"github.com/shvisor/vcore/kvmhal"
	"github.com/shvisor/vcore/percpu"
	"github.com/shvisor/vcore/verror"
	"github.com/shvisor/vcore/xstate"
)

// body is the part of VCpu the world-switch trampoline touches.
// Placing it as VCpu's first field keeps the compile-time layout
// contract ("guest_regs at offset 0, host_stack_top immediately
// after") true without a second Offsetof check against VCpu itself.
type body struct {
	guestRegs    gpr.Block
	hostStackTop uint64
}

func init() {
	var b body
	if unsafe.Offsetof(b.guestRegs) != 0 {
		panic("vcpu: guest_regs must be at offset 0")
	}

	if unsafe.Offsetof(b.hostStackTop) != unsafe.Sizeof(b.guestRegs) {
		panic("vcpu: host_stack_top must immediately follow guest_regs")
	}
}

const unbound = -1

// VCpu owns one virtual CPU: its control structure, permission
// bitmaps, pending-event queue and extended-state swap pair, bound to
// at most one PerCpuState at a time.
type VCpu struct {
	body

	id       int
	launched bool
	vendor   control.Vendor

	pcpu    *percpu.State
	vcpuFd  uintptr
	runData *kvmhal.RunData
	runBuf  []byte

	mem hal.MemoryHAL
	ept hal.EPTTranslator

	cs        control.ControlStructure
	csFrame   *frame.Frame
	ioBitmap  *frame.ContiguousFrames
	msrBitmap *frame.ContiguousFrames

	pending eventqueue.Queue
	xs      *xstate.State

	hasEntry bool
	entry    hal.GuestPhysAddr
	hasEPTRoot bool
	eptRoot  hal.HostPhysAddr

	exitPort             uint16
	exitMagic            uint32
	preemptionTimerValue uint32

	boundCPU int32 // atomic; unbound when no PerCpuState owns this vCpu
}

// New constructs an unbound vCpu for the given vendor. id is a
// caller-assigned identifier, not the logical CPU number (see Bind).
func New(id int, vendor control.Vendor, mem hal.MemoryHAL, ept hal.EPTTranslator) *VCpu {
	v := &VCpu{
		id:                   id,
		vendor:               vendor,
		mem:                  mem,
		ept:                  ept,
		exitPort:             0x604,
		exitMagic:            0x2000,
		preemptionTimerValue: 1_000_000,
		xs:                   &xstate.State{},
	}
	v.boundCPU = unbound

	return v
}

// ID returns this vCpu's caller-assigned identifier.
func (v *VCpu) ID() int { return v.id }

// ControlStructure exposes the typed control-structure shadow for
// tests and callers that need vendor-specific detail beyond the
// generic setters below.
func (v *VCpu) ControlStructure() control.ControlStructure { return v.cs }

// SetEntry records the guest-physical entry point used by Setup's
// "fresh start" real-mode path.
func (v *VCpu) SetEntry(addr hal.GuestPhysAddr) {
	v.entry = addr
	v.hasEntry = true
}

// SetEPTRoot records the second-level (EPT/NPT) page-table root.
// Setup fails InvalidInput if this was never called.
func (v *VCpu) SetEPTRoot(addr hal.HostPhysAddr) {
	v.eptRoot = addr
	v.hasEPTRoot = true
}

// ExitPort and ExitMagic override the default I/O-port shutdown
// convention (0x604 / 0x2000) that the built-in handler recognizes as
// SystemDown.
func (v *VCpu) SetExitPort(port uint16, magic uint32) {
	v.exitPort = port
	v.exitMagic = magic
}

// SetPreemptionTimerValue overrides the default preemption-timer
// reload value (default 1_000_000) used when the Intel preemption
// timer intercept is armed.
func (v *VCpu) SetPreemptionTimerValue(x uint32) {
	v.preemptionTimerValue = x
	if vmcs, ok := v.cs.(*control.VMCS); ok {
		vmcs.SetPreemptionTimerValue(x)
	}
}

// Bind creates the underlying KVM vCPU against pcpu's VM scope, maps
// its kvm_run page and allocates the control structure and permission
// bitmaps. It fails BadState if this vCpu is already bound elsewhere:
// binding requires the vCpu not be bound on any other CPU.
func (v *VCpu) Bind(pcpu *percpu.State) error {
	if atomic.LoadInt32(&v.boundCPU) != unbound {
		return verror.BadState
	}

	if !pcpu.IsEnabled() {
		return verror.NotEnabled
	}

	fd, err := kvmhal.CreateVCPU(pcpu.VMFd(), v.id)
	if err != nil {
		return err
	}

	runData, buf, err := kvmhal.MapRunData(pcpu.VMFd(), fd)
	if err != nil {
		return err
	}

	xs, err := xstate.New(fd)
	if err != nil {
		_ = kvmhal.UnmapRunData(buf)

		return err
	}

	csFrame, err := frame.AllocZero(v.mem)
	if err != nil {
		_ = kvmhal.UnmapRunData(buf)

		return err
	}

	// VMX wants two 4 KiB I/O bitmap pages; SVM wants three contiguous
	// pages. Both wants two pages for the MSR permission bitmap.
	ioBitmapPages := 2
	if v.vendor == control.VendorAMD {
		ioBitmapPages = 3
	}

	ioBitmap, err := frame.AllocContiguous(v.mem, ioBitmapPages)
	if err != nil {
		csFrame.Release()
		_ = kvmhal.UnmapRunData(buf)

		return err
	}

	msrBitmap, err := frame.AllocContiguous(v.mem, 2)
	if err != nil {
		ioBitmap.Release()
		csFrame.Release()
		_ = kvmhal.UnmapRunData(buf)

		return err
	}

	var cs control.ControlStructure
	if v.vendor == control.VendorAMD {
		cs = control.NewVMCB(csFrame.AsSlice(), csFrame.StartPAddr())
	} else {
		rev := pcpu.RevisionID()
		raw := csFrame.AsSlice()
		raw[0], raw[1], raw[2], raw[3] = byte(rev), byte(rev>>8), byte(rev>>16), byte(rev>>24)
		cs = control.NewVMCS(csFrame.StartPAddr())
	}

	cs.InstallIOBitmap(ioBitmap.StartPAddr())
	cs.InstallMSRBitmap(msrBitmap.StartPAddr())
	cs.SetIntercept(control.InterceptIO, true)
	cs.SetIntercept(control.InterceptMSR, true)

	v.pcpu = pcpu
	v.vcpuFd = fd
	v.runData = runData
	v.runBuf = buf
	v.xs = xs
	v.csFrame = csFrame
	v.ioBitmap = ioBitmap
	v.msrBitmap = msrBitmap
	v.cs = cs
	v.launched = false
	atomic.StoreInt32(&v.boundCPU, int32(pcpu.CPUID()))

	return nil
}

// Unbind releases the kvm_run mapping, the control structure and the
// permission bitmaps, and clears launched: a rebind always starts from
// a fresh vmlaunch rather than a vmresume.
func (v *VCpu) Unbind() error {
	if atomic.LoadInt32(&v.boundCPU) == unbound {
		return verror.NotEnabled
	}

	err := kvmhal.UnmapRunData(v.runBuf)

	if v.msrBitmap != nil {
		v.msrBitmap.Release()
	}

	if v.ioBitmap != nil {
		v.ioBitmap.Release()
	}

	if v.csFrame != nil {
		v.csFrame.Release()
	}

	v.runBuf = nil
	v.runData = nil
	v.cs = nil
	v.csFrame = nil
	v.ioBitmap = nil
	v.msrBitmap = nil
	v.launched = false
	atomic.StoreInt32(&v.boundCPU, unbound)

	return err
}

// SetGPR writes GPR i (x86-64 ModRM/SIB numbering) into the vCPU.
func (v *VCpu) SetGPR(i int, val uint64) error {
	regs, err := kvmhal.GetRegs(v.vcpuFd)
	if err != nil {
		return err
	}

	gpr.Set(regs, i, val)

	return kvmhal.SetRegs(v.vcpuFd, regs)
}

// GPR reads GPR i using the same numbering as SetGPR.
func (v *VCpu) GPR(i int) (uint64, error) {
	regs, err := kvmhal.GetRegs(v.vcpuFd)
	if err != nil {
		return 0, err
	}

	return gpr.Get(regs, i), nil
}

// SetReturnValue writes RAX, the hypercall/IO handler return-value
// convention.
func (v *VCpu) SetReturnValue(val uint64) error {
	return v.SetGPR(0, val)
}

// QueueEvent enqueues a pending injectable event. Errors with
// InvalidInput once eventqueue.Capacity pending events are already
// queued.
func (v *VCpu) QueueEvent(vector uint8, errCode *uint32) error {
	return v.pending.Push(vector, errCode)
}

// PendingEvents reports how many events are queued for injection.
func (v *VCpu) PendingEvents() int { return v.pending.Len() }

// SetInterruptWindow arms or disarms interrupt-window-exiting
// directly; Run also does this internally whenever an event is queued
// but cannot yet be injected.
func (v *VCpu) SetInterruptWindow(enabled bool) {
	v.cs.SetIntercept(control.InterceptInterruptWindow, enabled)
}

// SetIOInterceptOfRange and SetMSRInterceptOfRange set (trap) or
// clear the permission-bitmap bits for [start, start+count): a set
// bit traps the access, a clear bit lets it through. Bind does not
// fill the bitmaps, so they start with whatever the MemoryHAL's
// frames hold.
func (v *VCpu) SetIOInterceptOfRange(startPort uint16, count int, trap bool) {
	setBitmapRange(v.ioBitmap.AsSlice(), uint(startPort), count, trap)
}

func (v *VCpu) SetMSRInterceptOfRange(startIndex uint32, count int, trap bool) {
	setBitmapRange(v.msrBitmap.AsSlice(), uint(startIndex)%2048, count, trap)
}

func setBitmapRange(bitmap []byte, start uint, count int, trap bool) {
	for i := 0; i < count; i++ {
		bit := start + uint(i)
		byteIdx := bit / 8
		bitIdx := bit % 8

		if int(byteIdx) >= len(bitmap) {
			return
		}

		if trap {
			bitmap[byteIdx] |= 1 << bitIdx
		} else {
			bitmap[byteIdx] &^= 1 << bitIdx
		}
	}
}
