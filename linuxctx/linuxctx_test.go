package linuxctx

import (
	"os"
	"testing"

	"github.com/shvisor/vcore/kvmhal"
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

func TestLoadFromRoundTripsThroughRestore(t *testing.T) {
	requireRootKVM(t)

	pcpu := percpu.New(0)
	if err := pcpu.HardwareEnable(); err != nil {
		t.Fatalf("HardwareEnable: %v", err)
	}
	defer pcpu.HardwareDisable()

	fd, err := kvmhal.CreateVCPU(pcpu.VMFd(), 0)
	if err != nil {
		t.Fatalf("CreateVCPU: %v", err)
	}

	ctx, err := LoadFrom(fd)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}

	before, err := kvmhal.GetRegs(fd)
	if err != nil {
		t.Fatalf("GetRegs: %v", err)
	}

	if err := ctx.Restore(); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	after, err := kvmhal.GetRegs(fd)
	if err != nil {
		t.Fatalf("GetRegs: %v", err)
	}

	if *before != *after {
		t.Errorf("Restore() changed register state: before=%+v after=%+v", before, after)
	}

	if ctx.Regs() != *after {
		t.Errorf("Context.Regs() = %+v, want %+v", ctx.Regs(), *after)
	}
}
