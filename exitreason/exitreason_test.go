package exitreason

import (
	"strings"
	"testing"

	"github.com/shvisor/vcore/hal"
)

func TestConstructorsSetKind(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		got  Reason
		want Kind
	}{
		{"Hypercall", Hypercall(1, [6]uint64{1, 2, 3, 4, 5, 6}), KindHypercall},
		{"IoRead", IoRead(0x3f8, Width8), KindIoRead},
		{"IoWrite", IoWrite(0x3f8, Width8, 'x'), KindIoWrite},
		{"SystemDown", SystemDown(), KindSystemDown},
		{"NestedPageFault", NestedPageFault(hal.GuestPhysAddr(0x1000), hal.FlagPresent), KindNestedPageFault},
		{"FailEntry", FailEntry(7), KindFailEntry},
		{"Halt", Halt(), KindHalt},
		{"Nothing", Nothing(), KindNothing},
	}

	for _, tt := range tests {
		if tt.got.Kind != tt.want {
			t.Errorf("%s: Kind = %v, want %v", tt.name, tt.got.Kind, tt.want)
		}
	}
}

func TestHypercallRoundTripsArgs(t *testing.T) {
	t.Parallel()

	args := [6]uint64{10, 20, 30, 40, 50, 60}
	r := Hypercall(0x42, args)

	if r.Nr != 0x42 {
		t.Fatalf("Nr = %#x, want 0x42", r.Nr)
	}

	if r.Args != args {
		t.Fatalf("Args = %v, want %v", r.Args, args)
	}
}

func TestStringIncludesKeyFields(t *testing.T) {
	t.Parallel()

	tests := []struct {
		reason Reason
		substr string
	}{
		{IoWrite(0x604, Width32, 0x2000), "port=0x604"},
		{NestedPageFault(hal.GuestPhysAddr(0xb8000), hal.FlagWrite), "addr=0xb8000"},
		{FailEntry(0xdead), "reason=0xdead"},
		{Halt(), "Halt"},
	}

	for _, tt := range tests {
		if s := tt.reason.String(); !strings.Contains(s, tt.substr) {
			t.Errorf("String() = %q, want substring %q", s, tt.substr)
		}
	}
}

func TestKindStringUnknown(t *testing.T) {
	t.Parallel()

	if got := Kind(999).String(); got != "Kind(unknown)" {
		t.Errorf("Kind(999).String() = %q, want %q", got, "Kind(unknown)")
	}
}
