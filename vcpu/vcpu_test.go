package vcpu

import (
	"os"
	"testing"

	"github.com/shvisor/vcore/control"
	"github.com/shvisor/vcore/hal"
	"github.com/shvisor/vcore/percpu"
)

func requireRootKVM(t *testing.T) {
	t.Helper()

	if os.Getuid() != 0 {
		t.Skipf("Skipping test since we are not root")
	}

	if _, err := os.Stat("/dev/kvm"); err != nil {
		t.Skipf("Skipping test since /dev/kvm is unavailable: %v", err)
	}
}

// identityEPT is a minimal always-present translator used only to
// satisfy vcpu.Setup's "EPT root was configured" precondition; it
// never needs to resolve a real address for these lifecycle tests.
type identityEPT struct{}

func (identityEPT) GuestPhysToHostPhys(addr hal.GuestPhysAddr) (hal.HostPhysAddr, hal.MappingFlags, hal.PageSize, bool) {
	return hal.HostPhysAddr(addr), hal.FlagPresent, hal.Page4K, true
}

func TestNewUnboundVCpuRejectsRun(t *testing.T) {
	t.Parallel()

	v := New(0, control.VendorIntel, hal.NewKVMMemoryHAL(), identityEPT{})
	if _, err := v.Run(); err == nil {
		t.Fatal("Run on an unbound vCpu: got nil error, want NotEnabled")
	}
}

func TestSetupBeforeBindFails(t *testing.T) {
	t.Parallel()

	v := New(0, control.VendorIntel, hal.NewKVMMemoryHAL(), identityEPT{})
	v.SetEntry(0)
	v.SetEPTRoot(0)

	if err := v.Setup(); err == nil {
		t.Fatal("Setup before Bind: got nil error, want NotEnabled")
	}
}

func TestSetupWithoutEntryOrEPTRootFails(t *testing.T) {
	requireRootKVM(t)

	pcpu := percpu.New(0)
	if err := pcpu.HardwareEnable(); err != nil {
		t.Fatalf("HardwareEnable: %v", err)
	}
	defer pcpu.HardwareDisable()

	v := New(0, control.VendorIntel, hal.NewKVMMemoryHAL(), identityEPT{})
	if err := v.Bind(pcpu); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	defer v.Unbind()

	if err := v.Setup(); err == nil {
		t.Fatal("Setup without SetEntry/SetEPTRoot: got nil error, want InvalidInput")
	}
}

func TestBindUnbindLifecycle(t *testing.T) {
	requireRootKVM(t)

	pcpu := percpu.New(0)
	if err := pcpu.HardwareEnable(); err != nil {
		t.Fatalf("HardwareEnable: %v", err)
	}
	defer pcpu.HardwareDisable()

	v := New(0, control.VendorIntel, hal.NewKVMMemoryHAL(), identityEPT{})

	if err := v.Bind(pcpu); err != nil {
		t.Fatalf("Bind: %v", err)
	}

	if err := v.Bind(pcpu); err == nil {
		t.Fatal("second Bind on an already-bound vCpu: got nil error, want BadState")
	}

	if err := v.Unbind(); err != nil {
		t.Fatalf("Unbind: %v", err)
	}

	if err := v.Unbind(); err == nil {
		t.Fatal("second Unbind: got nil error, want NotEnabled")
	}
}

func TestQueueEventRespectsCapacity(t *testing.T) {
	t.Parallel()

	v := New(0, control.VendorIntel, hal.NewKVMMemoryHAL(), identityEPT{})

	for i := 0; i < 8; i++ {
		if err := v.QueueEvent(uint8(i), nil); err != nil {
			t.Fatalf("QueueEvent(%d): %v", i, err)
		}
	}

	if err := v.QueueEvent(99, nil); err == nil {
		t.Fatal("QueueEvent beyond capacity: got nil error")
	}

	if got := v.PendingEvents(); got != 8 {
		t.Errorf("PendingEvents() = %d, want 8", got)
	}
}

func TestSetGuestXCR0ValidationRejectsInconsistentState(t *testing.T) {
	t.Parallel()

	v := New(0, control.VendorIntel, hal.NewKVMMemoryHAL(), identityEPT{})

	if err := v.SetGuestXCR0(0, 0); err == nil {
		t.Fatal("SetGuestXCR0 without FPU/MMX bits: got nil error")
	}

	// AVX requires SSE.
	if err := v.SetGuestXCR0(0, 0x1|0x4); err == nil {
		t.Fatal("SetGuestXCR0 with AVX but not SSE: got nil error")
	}

	if err := v.SetGuestXCR0(1, 0x3); err == nil {
		t.Fatal("SetGuestXCR0 with a non-zero index: got nil error, want InvalidInput")
	}

	if err := v.SetGuestXCR0(0, 0x3); err != nil {
		t.Fatalf("SetGuestXCR0 with a minimal valid value: %v", err)
	}
}
