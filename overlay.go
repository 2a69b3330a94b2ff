package ovlpatch

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// The loader expects four zero bytes past the end of the overlay data.
const overlayPadding = 4

var (
	// ErrOutOfRange is returned when a patch does not fit inside the overlay.
	ErrOutOfRange = errors.New("patch out of range")

	// ErrBadOverlayName is returned when an overlay ID cannot be decoded from a
	// file name.
	ErrBadOverlayName = errors.New("overlay name does not end in 4 hex digits")
)

// An Overlay is the in-memory image of one overlay binary.
//
// The length of the buffer is the overlay's size. BaseAddress never changes
// once the overlay is loaded.
type Overlay struct {
	ID          int
	BaseAddress uint32

	data []byte
	md   Metadata
}

// ParseOverlayID decodes the overlay ID from the last four hex digits of a
// file name. The directory and extension are ignored, so
// "data/overlay_0012.bin" is overlay 0x12.
func ParseOverlayID(name string) (int, error) {
	base := filepath.Base(name)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if len(base) < 4 {
		return 0, fmt.Errorf("%w: %q", ErrBadOverlayName, name)
	}

	id, err := strconv.ParseUint(base[len(base)-4:], 16, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrBadOverlayName, name)
	}
	return int(id), nil
}

// LoadOverlay reads the overlay at path and resolves its base address from md.
func LoadOverlay(path string, md Metadata) (*Overlay, error) {
	id, err := ParseOverlayID(path)
	if err != nil {
		return nil, err
	}

	entry, err := md.Lookup(id)
	if err != nil {
		return nil, err
	}

	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	o := &Overlay{
		ID:          id,
		BaseAddress: entry.RAMAddress,
		data:        append(buf, make([]byte, overlayPadding)...),
		md:          md,
	}
	return o, nil
}

// NewOverlay creates an overlay from data already in memory. data is copied
// and padded the same way LoadOverlay pads a file.
func NewOverlay(id int, base uint32, data []byte, md Metadata) *Overlay {
	buf := make([]byte, len(data), len(data)+overlayPadding)
	copy(buf, data)

	return &Overlay{
		ID:          id,
		BaseAddress: base,
		data:        append(buf, make([]byte, overlayPadding)...),
		md:          md,
	}
}

// Len returns the current size of the overlay, padding included.
func (o *Overlay) Len() int {
	return len(o.data)
}

// End returns the address immediately past the last byte of the overlay.
// Appended code is placed here.
func (o *Overlay) End() uint32 {
	return o.BaseAddress + uint32(len(o.data))
}

// Bytes returns a copy of the overlay data.
func (o *Overlay) Bytes() []byte {
	return bytes.Clone(o.data)
}

// CheckRange returns an error if n bytes at address do not lie entirely
// inside the overlay.
func (o *Overlay) CheckRange(address uint32, n int) error {
	offset := int64(address) - int64(o.BaseAddress)
	if offset < 0 || offset+int64(n) > int64(len(o.data)) {
		return fmt.Errorf("%w: %d bytes at 0x%08X, overlay %04X covers 0x%08X-0x%08X",
			ErrOutOfRange, n, address, o.ID, o.BaseAddress, o.End())
	}
	return nil
}

// Patch overwrites len(data) bytes at address. The overlay's size does not
// change. If the patch doesn't fit nothing is written.
func (o *Overlay) Patch(address uint32, data []byte) error {
	if err := o.CheckRange(address, len(data)); err != nil {
		return err
	}

	copy(o.data[address-o.BaseAddress:], data)
	return nil
}

// Append adds data to the end of the overlay and records the new size in the
// metadata store.
func (o *Overlay) Append(data []byte) error {
	if o.md == nil {
		return fmt.Errorf("overlay %04X: %w", o.ID, ErrNoMetadata)
	}

	o.data = append(o.data, data...)
	return o.md.SetRAMSize(o.ID, uint32(len(o.data)))
}

// WriteTo writes the overlay data to w.
func (o *Overlay) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(o.data)
	return int64(n), err
}

// Save writes the overlay data to path.
func (o *Overlay) Save(path string) error {
	return os.WriteFile(path, o.data, 0o644)
}
