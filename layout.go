package ovlpatch

import (
	"fmt"
	"path/filepath"
)

const (
	DefaultBuildDir = "build"

	mainTarget      = "newcode"
	mainSources     = "source"
	replacementDir  = "replSource"
	replacementBase = "repl_"
)

// Extensions of the files a build leaves next to its target.
var artifactExts = []string{".bin", ".elf", ".sym"}

// Layout names the files of an overlay's project directory. All paths are
// relative to the project root, which is also the toolchain's working
// directory.
//
//	<Overlay>/source/               main hook and append code
//	<Overlay>/newcode.{bin,elf,sym} main build output
//	<Overlay>/newcode.x             main symbols as a linker script
//	<Overlay>/replSource/<A>/       replacement unit built at address A
//	<Overlay>/repl_<A>.{bin,elf,sym}
//	<Build>/                        scratch directory
type Layout struct {
	Overlay string
	Build   string
}

// NewLayout returns the layout for the overlay with the given directory name,
// using the default scratch directory.
func NewLayout(overlay string) Layout {
	return Layout{Overlay: overlay, Build: DefaultBuildDir}
}

func (l Layout) buildDir() string {
	if l.Build == "" {
		return DefaultBuildDir
	}
	return l.Build
}

// MainParams returns the toolchain parameters for the main build at codeAddr.
func (l Layout) MainParams(codeAddr uint32) BuildParams {
	return BuildParams{
		Target:   l.MainTarget(),
		Sources:  filepath.Join(l.Overlay, mainSources),
		Build:    l.buildDir(),
		CodeAddr: codeAddr,
	}
}

// ReplacementParams returns the toolchain parameters for one replacement unit.
func (l Layout) ReplacementParams(u ReplacementUnit) BuildParams {
	return BuildParams{
		Target:   l.ReplacementTarget(u),
		Sources:  filepath.Join(l.ReplacementRoot(), u.Name),
		Build:    l.buildDir(),
		NewSym:   l.SymbolExports(),
		CodeAddr: u.Address,
	}
}

// MainTarget is the main build's target path, without extension.
func (l Layout) MainTarget() string {
	return filepath.Join(l.Overlay, mainTarget)
}

// SymbolExports is the linker script generated from the main build's symbols.
func (l Layout) SymbolExports() string {
	return l.MainTarget() + ".x"
}

// ReplacementRoot is the directory holding one subdirectory per replacement
// unit.
func (l Layout) ReplacementRoot() string {
	return filepath.Join(l.Overlay, replacementDir)
}

// ReplacementTarget is a unit's target path, without extension.
func (l Layout) ReplacementTarget(u ReplacementUnit) string {
	return filepath.Join(l.Overlay, replacementBase+u.Name)
}

// Artifacts lists every file the main build and the given units produce,
// including the generated symbol exports.
func (l Layout) Artifacts(units []ReplacementUnit) []string {
	var paths []string
	for _, ext := range artifactExts {
		paths = append(paths, l.MainTarget()+ext)
	}
	paths = append(paths, l.SymbolExports())

	for _, u := range units {
		for _, ext := range artifactExts {
			paths = append(paths, l.ReplacementTarget(u)+ext)
		}
	}
	return paths
}

// unitName is the directory name used for a unit that was not discovered on
// disk.
func unitName(address uint32) string {
	return fmt.Sprintf("%08X", address)
}
