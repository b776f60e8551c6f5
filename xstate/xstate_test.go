package xstate

import (
	"os"
	"testing"

	"github.com/shvisor/vcore/kvmhal"
	"github.com/shvisor/vcore/percpu"
)

func TestNewSeedsGuestFromHost(t *testing.T) {
	if os.Getuid() != 0 {
		t.Skipf("Skipping test since we are not root")
	}

	if _, err := os.Stat("/dev/kvm"); err != nil {
		t.Skipf("Skipping test since /dev/kvm is unavailable: %v", err)
	}

	pcpu := percpu.New(0)
	if err := pcpu.HardwareEnable(); err != nil {
		t.Fatalf("HardwareEnable: %v", err)
	}
	defer pcpu.HardwareDisable()

	fd, err := kvmhal.CreateVCPU(pcpu.VMFd(), 0)
	if err != nil {
		t.Fatalf("CreateVCPU: %v", err)
	}

	s, err := New(fd)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if s.GuestXCR0 != s.HostXCR0 {
		t.Errorf("GuestXCR0 = %#x, want it seeded from HostXCR0 = %#x", s.GuestXCR0, s.HostXCR0)
	}

	if s.GuestXSS != s.HostXSS {
		t.Errorf("GuestXSS = %#x, want it seeded from HostXSS = %#x", s.GuestXSS, s.HostXSS)
	}
}
