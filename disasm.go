package ovlpatch

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/arch/arm/armasm"
)

// Disassemble returns a listing of n ARM instructions starting at address.
// Words that don't decode are shown as "?".
func Disassemble(o *Overlay, address uint32, n int) (string, error) {
	if n < 0 {
		return "", fmt.Errorf("invalid instruction count %d", n)
	}
	if err := o.CheckRange(address, n*4); err != nil {
		return "", err
	}

	start := address - o.BaseAddress
	return disassemble(o.data[start:start+uint32(n*4)], address), nil
}

func disassemble(code []byte, baseAddr uint32) string {
	var buf bytes.Buffer

	for i := 0; i < len(code)&^3; i += 4 {
		pc := baseAddr + uint32(i)
		word := binary.LittleEndian.Uint32(code[i:])

		var asm string
		instruction, err := armasm.Decode(code[i:i+4], armasm.ModeARM)
		if err == nil {
			asm = instruction.String()
		} else {
			asm = "?"
		}
		if isBL(word) {
			asm = fmt.Sprintf("%s\t; 0x%08X", asm, BranchTarget(pc, word))
		}

		fmt.Fprintf(&buf, "0x%08X\t%-8s\t%s\n", pc, hex.EncodeToString(code[i:i+4]), asm)
	}

	return buf.String()
}

// Disassembly returns the instruction at address as a single line, for
// logging.
func Disassembly(o *Overlay, address uint32) string {
	listing, err := Disassemble(o, address, 1)
	if err != nil {
		return "?"
	}
	fields := strings.SplitN(strings.TrimSpace(listing), "\t", 3)
	return fields[len(fields)-1]
}
