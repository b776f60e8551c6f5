// Package config holds the tunable options for a PerCpuState/VCpu
// pair. cmd/vcored exposes Vendor, ExitPort and ExitMagic as kong flags
// on its boot subcommand; PreemptionTimerValue has no flag.
package config

import "github.com/shvisor/vcore/control"

// Options configures a PerCpuState/VCpu pair.
type Options struct {
	// Vendor selects which ControlStructure realization the core
	// runs: VMCS (Intel) or VMCB (AMD). Kept a runtime field dispatched
	// through one ControlStructure interface rather than a compile-time
	// choice, since every other knob here is already a runtime value
	// and a single test binary exercising both vendor shapes is worth
	// more than enforcing the split at compile time.
	Vendor control.Vendor

	// ExitPort and ExitMagic are the I/O-port shutdown convention the
	// built-in handler maps to exitreason.SystemDown.
	ExitPort  uint16
	ExitMagic uint32

	// PreemptionTimerValue is the Intel VMX preemption timer reload
	// value, in TSC-tick units.
	PreemptionTimerValue uint32
}

// Default returns the conventional defaults: exit port 0x604, exit
// magic 0x2000, preemption timer 1_000_000, vendor Intel.
func Default() Options {
	return Options{
		Vendor:               control.VendorIntel,
		ExitPort:             0x604,
		ExitMagic:            0x2000,
		PreemptionTimerValue: 1_000_000,
	}
}
