package vcpu

import (
	"sync/atomic"

	"github.com/shvisor/vcore/control"
	"github.com/shvisor/vcore/eventqueue"
	"github.com/shvisor/vcore/exitreason"
	"github.com/shvisor/vcore/hal"
	"github.com/shvisor/vcore/kvmhal"
	"github.com/shvisor/vcore/verror"
)

// Run is the world switch: inject or defer one pending event, enter
// the guest via KVM_RUN — the one point at which this goroutine
// suspends into the guest — and classify the exit, handling the
// built-in set internally and returning everything else as a neutral
// exitreason.Reason.
func (v *VCpu) Run() (exitreason.Reason, error) {
	if atomic.LoadInt32(&v.boundCPU) == unbound {
		return exitreason.Reason{}, verror.NotEnabled
	}

	if v.launched {
		if err := v.injectPendingEvent(); err != nil {
			return exitreason.Reason{}, err
		}
	}

	runErr := kvmhal.Run(v.vcpuFd)
	v.launched = true

	exit := kvmhal.ExitType(v.runData.ExitReason)

	v.cs.SetExitInfo(v.runData.ExitReason, v.runData.Data[0], uint32(v.runData.Data[1]), exit == kvmhal.EXITFAILENTRY)

	switch exit {
	case kvmhal.EXITINTR:
		// A signal interrupted KVM_RUN before any guest state
		// changed; re-enter is always safe.
		return exitreason.Nothing(), nil
	case kvmhal.EXITIRQWINDOWOPEN:
		return v.handleInterruptWindow(), nil
	case kvmhal.EXITHLT:
		return exitreason.Halt(), nil
	case kvmhal.EXITIO:
		return v.classifyIO(), nil
	case kvmhal.EXITMMIO:
		return v.classifyMMIO(), nil
	case kvmhal.EXITHYPERCALL:
		return v.classifyHypercall()
	case kvmhal.EXITSHUTDOWN:
		return exitreason.SystemDown(), nil
	case kvmhal.EXITFAILENTRY:
		return exitreason.FailEntry(uint32(v.runData.FailEntry())), nil
	case kvmhal.EXITEXCEPTION, kvmhal.EXITNMI:
		return v.handleExceptionNMI()
	default:
		if runErr != nil {
			return exitreason.Reason{}, runErr
		}

		return exitreason.Halt(), nil
	}
}

// handleInterruptWindow implements the INTERRUPT_WINDOW built-in:
// clear the control an earlier Run call armed and let the
// caller retry injection on its next entry.
func (v *VCpu) handleInterruptWindow() exitreason.Reason {
	v.cs.SetIntercept(control.InterceptInterruptWindow, false)
	v.runData.RequestInterruptWindow = 0

	return exitreason.Nothing()
}

// handleExceptionNMI implements the EXCEPTION_NMI built-in: vector 2
// (NMI) is injected back into the guest through KVM_SET_VCPU_EVENTS
// (it is not raised on the host) and absorbed; any other vector
// reaching here is a contract violation in this core and is fatal.
func (v *VCpu) handleExceptionNMI() (exitreason.Reason, error) {
	const nmiVector = 2

	vector, _ := v.runData.Exception()
	if kvmhal.ExitType(v.runData.ExitReason) == kvmhal.EXITNMI {
		vector = nmiVector
	}

	if vector != nmiVector {
		panic("vcpu: unhandled exception vector reached EXCEPTION_NMI")
	}

	var ev kvmhal.VCPUEvents

	ev.NMIInjected = 1
	if err := kvmhal.SetVCPUEvents(v.vcpuFd, &ev); err != nil {
		return exitreason.Reason{}, err
	}

	return exitreason.Nothing(), nil
}

// classifyIO turns EXITIO into IoRead/IoWrite/SystemDown: the faulting
// port, access width and, for writes, the data. String/repeat
// accesses (count > 1) surface as Halt rather than being decoded,
// since the core leaves string I/O emulation to the caller.
func (v *VCpu) classifyIO() exitreason.Reason {
	direction, size, port, count, offset := v.runData.IO()
	if count != 1 {
		return exitreason.Halt()
	}

	width := exitreason.Width(size)

	if direction == kvmhal.IODirectionIn {
		return exitreason.IoRead(uint16(port), width)
	}

	var data uint32
	for i := uint64(0); i < size && i < 4; i++ {
		data |= uint32(v.runBuf[offset+i]) << (8 * i)
	}

	if uint16(port) == v.exitPort && data == v.exitMagic {
		return exitreason.SystemDown()
	}

	return exitreason.IoWrite(uint16(port), width, data)
}

// classifyMMIO turns EXITMMIO into NestedPageFault: the faulting
// guest-physical address and access flags, the same shape
// EPT_VIOLATION/NPF takes on bare metal. The
// Present flag reflects whether the second-level translator already
// maps this address (a fault on a present mapping, e.g. a permission
// violation, vs. one that is simply unmapped).
func (v *VCpu) classifyMMIO() exitreason.Reason {
	addr, _, _, isWrite := v.runData.MMIO()

	var flags hal.MappingFlags
	if isWrite {
		flags |= hal.FlagWrite
	}

	if v.ept != nil {
		if _, mapped, _, ok := v.ept.GuestPhysToHostPhys(hal.GuestPhysAddr(addr)); ok {
			flags |= hal.FlagPresent | (mapped & hal.FlagWrite)
		}
	}

	return exitreason.NestedPageFault(hal.GuestPhysAddr(addr), flags)
}

// classifyHypercall turns EXITHYPERCALL into Hypercall, advancing RIP
// past the VMCALL/VMMCALL instruction first.
func (v *VCpu) classifyHypercall() (exitreason.Reason, error) {
	nr, args, _ := v.runData.Hypercall()

	if err := v.advanceRIP(hypercallInsnLen); err != nil {
		return exitreason.Reason{}, err
	}

	var full [6]uint64
	copy(full[:], args[:])

	return exitreason.Hypercall(nr, full), nil
}

// hypercallInsnLen is the fixed VMCALL/VMMCALL encoding length (3
// bytes on both Intel and AMD).
const hypercallInsnLen = 3

// advanceRIP moves the guest's RIP forward by n bytes;
// classifyHypercall uses it to step past VMCALL/VMMCALL.
func (v *VCpu) advanceRIP(n uint64) error {
	regs, err := kvmhal.GetRegs(v.vcpuFd)
	if err != nil {
		return err
	}

	regs.RIP += n

	return kvmhal.SetRegs(v.vcpuFd, regs)
}

// injectPendingEvent peeks the FIFO head, injects it if it is an
// exception or the guest currently accepts interrupts,
// otherwise arm interrupt-window-exiting so the next safe moment
// retries it.
func (v *VCpu) injectPendingEvent() error {
	ev, ok := v.pending.Peek()
	if !ok {
		v.cs.SetIntercept(control.InterceptInterruptWindow, false)

		return nil
	}

	rflagsIF := v.runData.IfFlag != 0

	interruptibility := uint32(0)
	if v.runData.ReadyForInterruptInjection == 0 {
		interruptibility = 1
	}

	if ev.IsException() || eventqueue.AllowInterrupt(rflagsIF, interruptibility) {
		if err := v.injectEvent(ev); err != nil {
			return err
		}

		v.pending.Pop()
		v.cs.SetIntercept(control.InterceptInterruptWindow, false)

		return nil
	}

	v.cs.SetIntercept(control.InterceptInterruptWindow, true)
	v.runData.RequestInterruptWindow = 1

	return nil
}

// injectEvent writes one pending event into the kernel's own
// injection slots via KVM_SET_VCPU_EVENTS, the mechanism by which
// this core's eventqueue FIFO head reaches the guest.
func (v *VCpu) injectEvent(ev eventqueue.Event) error {
	var kev kvmhal.VCPUEvents

	if ev.IsException() {
		kev.ExceptionInjected = 1
		kev.ExceptionNr = ev.Vector

		if ev.ErrCode != nil {
			kev.ExceptionHasCode = 1
			kev.ExceptionErrorCode = *ev.ErrCode
		}
	} else {
		kev.InterruptInjected = 1
		kev.InterruptNr = ev.Vector
	}

	return kvmhal.SetVCPUEvents(v.vcpuFd, &kev)
}
