package percpu

import (
	"os"
	"testing"
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

func TestHardwareEnableDisable(t *testing.T) {
	requireRootKVM(t)

	s := New(0)

	if s.IsEnabled() {
		t.Fatal("fresh PerCpuState already enabled")
	}

	if err := s.HardwareEnable(); err != nil {
		t.Fatalf("HardwareEnable: %v", err)
	}

	if !s.IsEnabled() {
		t.Fatal("IsEnabled false after a successful HardwareEnable")
	}

	if s.VMFd() == 0 {
		t.Fatal("VMFd is zero after HardwareEnable")
	}

	if err := s.HardwareDisable(); err != nil {
		t.Fatalf("HardwareDisable: %v", err)
	}

	if s.IsEnabled() {
		t.Fatal("IsEnabled true after HardwareDisable")
	}
}

func TestHardwareEnableTwiceFails(t *testing.T) {
	requireRootKVM(t)

	s := New(0)

	if err := s.HardwareEnable(); err != nil {
		t.Fatalf("HardwareEnable: %v", err)
	}
	defer s.HardwareDisable()

	if err := s.HardwareEnable(); err == nil {
		t.Fatal("second HardwareEnable: got nil error, want AlreadyEnabled")
	}
}

func TestHardwareDisableWithoutEnableFails(t *testing.T) {
	t.Parallel()

	s := New(0)
	if err := s.HardwareDisable(); err == nil {
		t.Fatal("HardwareDisable on a fresh state: got nil error, want NotEnabled")
	}
}

func TestCPUID(t *testing.T) {
	t.Parallel()

	s := New(3)
	if got := s.CPUID(); got != 3 {
		t.Errorf("CPUID() = %d, want 3", got)
	}
}
