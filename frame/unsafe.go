package frame

import (
	"unsafe"

	"github.com/shvisor/vcore/hal"
)

func unsafeSlice(v hal.HostVirtAddr, n int) []byte {
	if v == 0 {
		return nil
	}

	return unsafe.Slice((*byte)(unsafe.Pointer(uintptr(v))), n)
}
