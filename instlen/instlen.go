// Package instlen is a lightweight x86-64 instruction-length
// calculator, used when hardware does not report an exit's
// instruction length directly. Decodes a guest instruction with
// golang.org/x/arch/x86/x86asm, using only its Len field.
package instlen

import "golang.org/x/arch/x86/x86asm"

// Decode returns the length, in bytes, of the single x86-64
// instruction at the head of b. b should contain at least the 15
// bytes (the architectural maximum) starting at the faulting RIP when
// available; a shorter slice still decodes correctly for most
// encodings.
func Decode(b []byte) (int, error) {
	inst, err := x86asm.Decode(b, 64)
	if err != nil {
		return 0, err
	}

	return inst.Len, nil
}

// DecodeAt is a convenience wrapper that also returns the decoded
// instruction for callers that need a GNU-syntax disassembly (mirrors
// machine/debug_amd64.go's Inst/Asm pairing).
func DecodeAt(b []byte) (x86asm.Inst, string, error) {
	inst, err := x86asm.Decode(b, 64)
	if err != nil {
		return x86asm.Inst{}, "", err
	}

	return inst, x86asm.GNUSyntax(inst, 0, nil), nil
}
