package segment

import "testing"

func TestFlatSegmentsCoverFullLimit(t *testing.T) {
	t.Parallel()

	for _, e := range []Entry{CodeSegment(0), DataSegment(0), TSSSegment(0), LDTSegment(0)} {
		if e.Base != 0 {
			t.Errorf("Base = %#x, want 0", e.Base)
		}

		if e.Limit != 0xFFFF {
			t.Errorf("Limit = %#x, want 0xFFFF", e.Limit)
		}

		if e.Present != 1 {
			t.Errorf("Present = %d, want 1", e.Present)
		}
	}
}

func TestCodeSegmentSelector(t *testing.T) {
	t.Parallel()

	e := CodeSegment(0x08)

	if e.Selector != 0x08 {
		t.Errorf("Selector = %#x, want 0x08", e.Selector)
	}

	if e.S != 1 {
		t.Errorf("S = %d, want 1 (code/data, not system)", e.S)
	}

	if e.Typ != 0xB {
		t.Errorf("Typ = %#x, want 0xB (execute/read, accessed)", e.Typ)
	}
}

func TestSystemSegmentsHaveSClear(t *testing.T) {
	t.Parallel()

	for _, e := range []Entry{TSSSegment(0x18), LDTSegment(0x20)} {
		if e.S != 0 {
			t.Errorf("S = %d, want 0 for a system-segment descriptor", e.S)
		}
	}
}

func TestDataSegmentWritable(t *testing.T) {
	t.Parallel()

	e := DataSegment(0x10)
	if e.Typ != 0x3 {
		t.Errorf("Typ = %#x, want 0x3 (read/write, accessed)", e.Typ)
	}
}
