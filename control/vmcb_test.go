package control

import "testing"

func newTestVMCB() *VMCB {
	return NewVMCB(make([]byte, vmcbTotalSize), 0x2000)
}

func TestVMCBInterceptRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []Intercept{
		InterceptHLT, InterceptIO, InterceptMSR, InterceptNMI,
		InterceptVMRUN, InterceptVMMCALL, InterceptCR0Write, InterceptXSETBV,
	}

	for _, i := range tests {
		v := newTestVMCB()

		v.SetIntercept(i, true)
		if !v.HasIntercept(i) {
			t.Fatalf("SetIntercept(%d, true) did not stick", i)
		}

		v.SetIntercept(i, false)
		if v.HasIntercept(i) {
			t.Fatalf("SetIntercept(%d, false) did not clear", i)
		}
	}
}

func TestVMCBUnknownInterceptIsNoop(t *testing.T) {
	t.Parallel()

	v := newTestVMCB()
	v.SetIntercept(InterceptPreemptionTimer, true) // VMX-only, has no VMCB bit

	if v.HasIntercept(InterceptPreemptionTimer) {
		t.Fatal("HasIntercept reported a bit that SetIntercept could not have set")
	}
}

func TestVMCBExitInfoEntryFailedSentinel(t *testing.T) {
	t.Parallel()

	v := newTestVMCB()
	v.SetExitInfo(0x64, 0, 0, true)

	code, _, _, failed := v.ExitInfo()
	if !failed {
		t.Fatal("ExitInfo() entryFailed = false, want true")
	}

	if code != 0xFFFFFFFFFFFFFFFF {
		t.Errorf("ExitInfo() code = %#x, want the all-ones sentinel", code)
	}
}

func TestVMCBInstallNestedRootSetsEnableBit(t *testing.T) {
	t.Parallel()

	v := newTestVMCB()
	v.InstallNestedRoot(0x3000)

	if got := v.u64(offNestedCR3); got != 0x3000 {
		t.Errorf("nCR3 = %#x, want 0x3000", got)
	}

	if got := v.u32(offNestedCtl); got != 1 {
		t.Errorf("NP_ENABLE = %d, want 1", got)
	}
}

func TestNewVMCBPanicsOnShortBuffer(t *testing.T) {
	t.Parallel()

	defer func() {
		if recover() == nil {
			t.Fatal("NewVMCB with an undersized buffer: did not panic")
		}
	}()

	NewVMCB(make([]byte, 16), 0)
}

func TestVMCBFieldOffsetsAreDisjointFromSaveArea(t *testing.T) {
	t.Parallel()

	if offSaveArea != vmcbControlAreaSize {
		t.Fatalf("offSaveArea = %#x, want control area size %#x", offSaveArea, vmcbControlAreaSize)
	}
}
