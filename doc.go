// Patch compiled code overlays for a fixed-address ARM image
//
// An overlay is a flat binary loaded by the target's loader at a known RAM
// address. This package takes code built by an external toolchain (a make
// driven assembler/compiler/linker), redirects existing BL instructions to
// the new code through "ahook_" symbols, overwrites fixed address ranges with
// independently built replacement units, and appends the new code to the end
// of the overlay. The loader record for the overlay (RAM address and size) is
// kept in a Metadata store and updated as the overlay grows.
//
// Limitations:
//   - Only point overwrites and appends. Nothing is relocated.
//   - BL targets further than 32MiB away wrap silently.
//   - Build artifacts are left on disk when Insert fails.
package ovlpatch
