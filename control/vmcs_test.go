package control

import "testing"

func TestVMCSInterceptRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []Intercept{
		InterceptHLT, InterceptIO, InterceptMSR, InterceptNMI,
		InterceptPreemptionTimer, InterceptInterruptWindow,
	}

	for _, i := range tests {
		v := NewVMCS(0x1000)

		if v.HasIntercept(i) {
			t.Fatalf("fresh VMCS already has intercept %d set", i)
		}

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

func TestVMCSInterceptIsIdempotent(t *testing.T) {
	t.Parallel()

	v := NewVMCS(0)
	v.SetIntercept(InterceptIO, true)
	v.SetIntercept(InterceptIO, true)

	if !v.HasIntercept(InterceptIO) {
		t.Fatal("double SetIntercept(true) unset the intercept")
	}
}

func TestVMCSExitInfoRoundTrip(t *testing.T) {
	t.Parallel()

	v := NewVMCS(0)
	v.SetExitInfo(18, 0xdead, 0xbeef, true)

	code, info1, info2, failed := v.ExitInfo()
	if code != 18 || info1 != 0xdead || info2 != 0xbeef || !failed {
		t.Fatalf("ExitInfo() = (%d, %#x, %#x, %v), want (18, 0xdead, 0xbeef, true)", code, info1, info2, failed)
	}
}

func TestVMCSInstallIOBitmapSplitsTwoPages(t *testing.T) {
	t.Parallel()

	v := NewVMCS(0)
	v.InstallIOBitmap(0x4000)

	if v.ioBitmapA != 0x4000 {
		t.Errorf("ioBitmapA = %#x, want 0x4000", v.ioBitmapA)
	}

	if v.ioBitmapB != 0x5000 {
		t.Errorf("ioBitmapB = %#x, want 0x5000 (A + one 4 KiB page)", v.ioBitmapB)
	}
}

func TestVMCSGuestCR0ShadowRoundTrip(t *testing.T) {
	t.Parallel()

	v := NewVMCS(0)
	v.SetGuestCR0Shadow(0x80000011)

	if got := v.GuestCR0Shadow(); got != 0x80000011 {
		t.Errorf("GuestCR0Shadow() = %#x, want 0x80000011", got)
	}
}

func TestVMCSPreemptionTimerValueRoundTrip(t *testing.T) {
	t.Parallel()

	v := NewVMCS(0)
	v.SetPreemptionTimerValue(1_000_000)

	if got := v.PreemptionTimerValue(); got != 1_000_000 {
		t.Errorf("PreemptionTimerValue() = %d, want 1000000", got)
	}
}

func TestSetControlSurfacesCapMSRReadError(t *testing.T) {
	t.Parallel()

	// Without a live vcpuFd, readCapPair fails first; SetControl must
	// surface that error rather than panic.
	if _, err := SetControl(^uintptr(0), 0x48d, 0x485, 0, 0); err == nil {
		t.Fatal("SetControl with an invalid fd: got nil error")
	}
}
