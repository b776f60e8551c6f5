// Package control implements the two concrete control-structure
// realizations (VMCS for Intel, VMCB for AMD) behind one logical role.
// Both are compiled into every build; VCpu.Bind picks which one to
// instantiate at runtime from its Vendor field and stores the result
// behind the ControlStructure interface, so one binary can host both
// kinds of vCpu side by side.
package control

import "github.com/shvisor/vcore/hal"

// Intercept is the unified enumeration of events a control structure
// can be told to trap on, spanning CR/DR read-write, exception
// vectors, and the vendor-3/4/5 instruction groups.
type Intercept int

const (
	InterceptCR0Read Intercept = iota
	InterceptCR0Write
	InterceptCR3Read
	InterceptCR3Write
	InterceptCR4Read
	InterceptCR4Write
	InterceptCR8Read
	InterceptCR8Write
	InterceptDRRead
	InterceptDRWrite
	InterceptException
	InterceptIntr
	InterceptNMI
	InterceptSMI
	InterceptCPUID
	InterceptHLT
	InterceptINVLPG
	InterceptIO
	InterceptMSR
	InterceptTaskSwitch
	InterceptShutdown
	InterceptVMRUN
	InterceptVMMCALL
	InterceptVMLOAD
	InterceptVMSAVE
	InterceptSTGI
	InterceptCLGI
	InterceptSKINIT
	InterceptXSETBV
	InterceptPreemptionTimer
	InterceptInterruptWindow
)

// ControlStructure is the capability set both VMCS and VMCB satisfy:
// intercept programming, bitmap pointer installation, guest/host
// field access, and exit-info decode.
type ControlStructure interface {
	// SetIntercept arms or disarms an intercept. Idempotent.
	SetIntercept(i Intercept, enabled bool)
	HasIntercept(i Intercept) bool

	// InstallIOBitmap / InstallMSRBitmap point the structure at the
	// physical address of the corresponding permission bitmap.
	InstallIOBitmap(addr hal.HostPhysAddr)
	InstallMSRBitmap(addr hal.HostPhysAddr)

	// InstallNestedRoot points the structure at the second-level
	// (EPT/NPT) page-table root.
	InstallNestedRoot(addr hal.HostPhysAddr)

	// ExitInfo decodes the vendor-neutral parts of the last exit:
	// exit code/reason, the two generic info fields, and whether the
	// "entry failed" bit is set.
	ExitInfo() (code uint64, info1, info2 uint64, entryFailed bool)

	// SetExitInfo records the kernel-reported outcome of the last
	// KVM_RUN onto the typed shadow, so ExitInfo observes it the same
	// way regardless of vendor.
	SetExitInfo(code uint32, qualification uint64, intrInfo uint32, entryFailed bool)

	// StartPAddr returns the control structure's own host-physical
	// address (the Frame backing it).
	StartPAddr() hal.HostPhysAddr
}

// Vendor identifies which concrete realization this build provides.
type Vendor int

const (
	VendorIntel Vendor = iota
	VendorAMD
)
