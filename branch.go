package ovlpatch

import "encoding/binary"

const (
	// ------------------------------------------------
	// | 1110 (AL) | 1011 (B, L=1) | 24 bit offset |
	// ------------------------------------------------
	_BL = uint32(0xEB << 24)

	blOffsetMask = uint32(1<<24 - 1)
)

// EncodeBL returns the ARM "BL target" instruction for an instruction at site.
//
// The offset is counted in words from site+8, since PC reads two instructions
// ahead. It is not range checked: a target more than 32MiB away wraps.
func EncodeBL(site, target uint32) uint32 {
	offset := target/4 - site/4 - 2
	return _BL | (offset & blOffsetMask)
}

// EncodeBLBytes returns EncodeBL as it is stored in memory.
func EncodeBLBytes(site, target uint32) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, EncodeBL(site, target))
	return buf
}

// BranchTarget returns the address a B or BL instruction word at site jumps
// to.
func BranchTarget(site, word uint32) uint32 {
	offset := int32(word<<8) >> 8
	return uint32(int64(site) + 8 + int64(offset)*4)
}

// isBL reports whether word is an unconditional BL.
func isBL(word uint32) bool {
	return word&^blOffsetMask == _BL
}

// A HookPatch redirects the BL at Site to Target.
type HookPatch struct {
	Site   uint32
	Target uint32
}

// Bytes returns the instruction written at Site.
func (h HookPatch) Bytes() []byte {
	return EncodeBLBytes(h.Site, h.Target)
}

// Apply writes the branch into o.
func (h HookPatch) Apply(o *Overlay) error {
	return o.Patch(h.Site, h.Bytes())
}
