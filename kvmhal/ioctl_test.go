package kvmhal

import "testing"

func TestIoctlNumberEncoding(t *testing.T) {
	t.Parallel()

	// KVM_RUN is documented as _IO(KVMIO, 0x80) = 0xAE80.
	if got := IIO(nrRun); got != 0xAE80 {
		t.Errorf("IIO(nrRun) = %#x, want 0xAE80", got)
	}

	// KVM_GET_API_VERSION is _IO(KVMIO, 0x00) = 0xAE00.
	if got := IIO(nrGetAPIVersion); got != 0xAE00 {
		t.Errorf("IIO(nrGetAPIVersion) = %#x, want 0xAE00", got)
	}
}

func TestIoctlDirectionBitsAreDistinct(t *testing.T) {
	t.Parallel()

	none := IIO(1)
	read := IIOR(1, 8)
	write := IIOW(1, 8)
	both := IIOWR(1, 8)

	seen := map[uintptr]string{}
	for name, v := range map[string]uintptr{"none": none, "read": read, "write": write, "both": both} {
		if other, ok := seen[v]; ok {
			t.Fatalf("%s and %s collide at ioctl number %#x", name, other, v)
		}

		seen[v] = name
	}
}

func TestExitTypeString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		et   ExitType
		want string
	}{
		{EXITHLT, "EXITHLT"},
		{EXITIO, "EXITIO"},
		{EXITSHUTDOWN, "EXITSHUTDOWN"},
		{ExitType(9999), "ExitType(unknown)"},
	}

	for _, tt := range tests {
		if got := tt.et.String(); got != tt.want {
			t.Errorf("ExitType(%d).String() = %q, want %q", tt.et, got, tt.want)
		}
	}
}
