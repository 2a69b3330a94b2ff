package ovlpatch

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pboyd/ovlpatch/internal/log"
)

// A ReplacementUnit is a source directory that is built on its own and
// written over the overlay at Address. Name is the directory name, which is
// Address in hex.
type ReplacementUnit struct {
	Address uint32
	Name    string
}

// NewReplacementUnit returns a unit whose directory name is address as 8
// upper-case hex digits.
func NewReplacementUnit(address uint32) ReplacementUnit {
	return ReplacementUnit{Address: address, Name: unitName(address)}
}

// A ReplacementBlock is a built replacement unit.
type ReplacementBlock struct {
	Address uint32
	Data    []byte
}

// Apply writes the block over o.
func (b ReplacementBlock) Apply(o *Overlay) error {
	return o.Patch(b.Address, b.Data)
}

// DiscoverReplacements lists the replacement units of the overlay in layout.
// Every subdirectory of the replacement root named with a hex address is a
// unit. A missing replacement root means there are no units.
//
// Units are returned in directory order. The order has no other meaning:
// units are expected to target disjoint address ranges, which isn't checked.
func DiscoverReplacements(root string, layout Layout) ([]ReplacementUnit, error) {
	entries, err := os.ReadDir(filepath.Join(root, layout.ReplacementRoot()))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var units []ReplacementUnit
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		addr, err := strconv.ParseUint(entry.Name(), 16, 32)
		if err != nil {
			log.Warnf("Skipping %s: not a hex address", filepath.Join(layout.ReplacementRoot(), entry.Name()))
			continue
		}
		units = append(units, ReplacementUnit{Address: uint32(addr), Name: entry.Name()})
	}
	return units, nil
}

// CompileReplacements builds each unit in turn. It stops at the first unit
// that fails.
func CompileReplacements(tc Toolchain, layout Layout, units []ReplacementUnit) error {
	for _, u := range units {
		log.Debugf("Building replacement %s at 0x%08X", u.Name, u.Address)
		if err := tc.Build(layout.ReplacementParams(u)); err != nil {
			return fmt.Errorf("replacement %s: %w", u.Name, err)
		}
	}
	return nil
}

// ReadReplacements loads the built code of every unit.
func ReadReplacements(root string, layout Layout, units []ReplacementUnit) ([]ReplacementBlock, error) {
	blocks := make([]ReplacementBlock, 0, len(units))
	for _, u := range units {
		data, err := os.ReadFile(filepath.Join(root, layout.ReplacementTarget(u)+".bin"))
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, ReplacementBlock{Address: u.Address, Data: data})
	}
	return blocks, nil
}
