package ovlpatch

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// ErrMalformedHook is returned for an "ahook_" symbol whose name doesn't end
// in an 8 digit hex address.
var ErrMalformedHook = errors.New("malformed hook symbol")

const hookPrefix = "ahook_"

var (
	// <address> <flags> .text <size> <name>
	symbolLine = regexp.MustCompile(`^([0-9a-f]{8}) \S+\s+\.text\s+\d{8} (.+)$`)

	hookAddress = regexp.MustCompile(`^[0-9a-fA-F]{8}$`)
)

// A Symbol is a .text symbol from the toolchain's symbol listing.
type Symbol struct {
	Address uint32
	Name    string
}

// ParseSymbols reads a symbol listing and returns its .text symbols in the
// order they appear. Lines that aren't .text symbols are skipped.
func ParseSymbols(r io.Reader) ([]Symbol, error) {
	var syms []Symbol

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		m := symbolLine.FindStringSubmatch(strings.TrimRight(scanner.Text(), "\r"))
		if m == nil {
			continue
		}

		addr, err := strconv.ParseUint(m[1], 16, 32)
		if err != nil {
			continue
		}
		syms = append(syms, Symbol{Address: uint32(addr), Name: m[2]})
	}

	return syms, scanner.Err()
}

// ReadSymbolFile parses the symbol listing at path.
func ReadSymbolFile(path string) ([]Symbol, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return ParseSymbols(f)
}

// WriteSymbolExports writes a linker script fragment defining every symbol at
// its address, so later builds can call into the new code.
func WriteSymbolExports(w io.Writer, syms []Symbol) error {
	bw := bufio.NewWriter(w)
	for _, sym := range syms {
		fmt.Fprintf(bw, "%s = 0x%08X;\n", sym.Name, sym.Address)
	}
	return bw.Flush()
}

// WriteSymbolExportFile is WriteSymbolExports to a new file at path.
func WriteSymbolExportFile(path string, syms []Symbol) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := WriteSymbolExports(f, syms); err != nil {
		return err
	}
	return f.Close()
}

// Hooks returns a HookPatch for every symbol named "ahook_XXXXXXXX". The hex
// digits in the name are the site to patch and the symbol's address is the
// branch target.
func Hooks(syms []Symbol) ([]HookPatch, error) {
	var hooks []HookPatch
	for _, sym := range syms {
		if !strings.HasPrefix(sym.Name, hookPrefix) {
			continue
		}

		digits := strings.TrimPrefix(sym.Name, hookPrefix)
		if !hookAddress.MatchString(digits) {
			return nil, fmt.Errorf("%w: %q", ErrMalformedHook, sym.Name)
		}
		site, err := strconv.ParseUint(digits, 16, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %w", ErrMalformedHook, sym.Name, err)
		}

		hooks = append(hooks, HookPatch{Site: uint32(site), Target: sym.Address})
	}
	return hooks, nil
}
