// Package exitreason is the architecture-neutral event stream the
// core's run loop surfaces upward once it decides not to handle an
// exit internally.
package exitreason

import (
	"fmt"

	"github.com/shvisor/vcore/hal"
)

// Kind discriminates the payload carried by a Reason, Go's
// approximation of the Rust original's enum-with-payloads.
type Kind int

const (
	KindHypercall Kind = iota
	KindIoRead
	KindIoWrite
	KindSystemDown
	KindNestedPageFault
	KindFailEntry
	KindHalt
	KindNothing
)

func (k Kind) String() string {
	switch k {
	case KindHypercall:
		return "Hypercall"
	case KindIoRead:
		return "IoRead"
	case KindIoWrite:
		return "IoWrite"
	case KindSystemDown:
		return "SystemDown"
	case KindNestedPageFault:
		return "NestedPageFault"
	case KindFailEntry:
		return "FailEntry"
	case KindHalt:
		return "Halt"
	case KindNothing:
		return "Nothing"
	default:
		return "Kind(unknown)"
	}
}

// Width is an I/O operand width in bytes.
type Width int

const (
	Width8  Width = 1
	Width16 Width = 2
	Width32 Width = 4
)

// Reason is the tagged union surfaced by vCpu.Run.
type Reason struct {
	Kind Kind

	// Hypercall
	Nr   uint64
	Args [6]uint64

	// IoRead / IoWrite
	Port  uint16
	Width Width
	Data  uint32

	// NestedPageFault
	Addr  hal.GuestPhysAddr
	Flags hal.MappingFlags

	// FailEntry
	FailureReason uint32
}

func Hypercall(nr uint64, args [6]uint64) Reason {
	return Reason{Kind: KindHypercall, Nr: nr, Args: args}
}

func IoRead(port uint16, width Width) Reason {
	return Reason{Kind: KindIoRead, Port: port, Width: width}
}

func IoWrite(port uint16, width Width, data uint32) Reason {
	return Reason{Kind: KindIoWrite, Port: port, Width: width, Data: data}
}

func SystemDown() Reason { return Reason{Kind: KindSystemDown} }

func NestedPageFault(addr hal.GuestPhysAddr, flags hal.MappingFlags) Reason {
	return Reason{Kind: KindNestedPageFault, Addr: addr, Flags: flags}
}

func FailEntry(reason uint32) Reason {
	return Reason{Kind: KindFailEntry, FailureReason: reason}
}

func Halt() Reason { return Reason{Kind: KindHalt} }

func Nothing() Reason { return Reason{Kind: KindNothing} }

func (r Reason) String() string {
	switch r.Kind {
	case KindHypercall:
		return fmt.Sprintf("Hypercall{nr=%#x args=%v}", r.Nr, r.Args)
	case KindIoRead:
		return fmt.Sprintf("IoRead{port=%#x width=%d}", r.Port, r.Width)
	case KindIoWrite:
		return fmt.Sprintf("IoWrite{port=%#x width=%d data=%#x}", r.Port, r.Width, r.Data)
	case KindNestedPageFault:
		return fmt.Sprintf("NestedPageFault{addr=%#x flags=%#x}", r.Addr, r.Flags)
	case KindFailEntry:
		return fmt.Sprintf("FailEntry{reason=%#x}", r.FailureReason)
	default:
		return r.Kind.String()
	}
}
