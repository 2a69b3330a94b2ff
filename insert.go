package ovlpatch

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pboyd/ovlpatch/internal/log"
)

// ErrMissingArtifact is returned when the toolchain reports success but an
// expected output file doesn't exist.
var ErrMissingArtifact = errors.New("missing build artifact")

// A Stage is one step of Insert.
type Stage int

const (
	StageCompileMain Stage = iota + 1
	StageEmitSymbolExports
	StageCompileReplacements
	StageVerifyArtifacts
	StageApplyHooks
	StageApplyReplacements
	StageAppendNewCode
	StageCleanup
)

var stageNames = map[Stage]string{
	StageCompileMain:         "compile main",
	StageEmitSymbolExports:   "emit symbol exports",
	StageCompileReplacements: "compile replacements",
	StageVerifyArtifacts:     "verify artifacts",
	StageApplyHooks:          "apply hooks",
	StageApplyReplacements:   "apply replacements",
	StageAppendNewCode:       "append new code",
	StageCleanup:             "cleanup",
}

func (s Stage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return fmt.Sprintf("stage %d", int(s))
}

// StageError is returned by Insert and names the stage that failed.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// InsertOptions says where Insert finds the overlay's sources.
type InsertOptions struct {
	// Project root. The toolchain runs here and Layout paths are relative
	// to it.
	Root   string
	Layout Layout
}

// Insert builds the overlay's new code and patches it into o:
//
//  1. build the main code at the current end of the overlay
//  2. write the main build's symbols as a linker script for the replacements
//  3. build every replacement unit, one at a time
//  4. check that every expected binary exists
//  5. redirect each "ahook_" site to its hook with a BL
//  6. write each replacement unit over its address
//  7. append the main code to the overlay and update the metadata size
//  8. delete the build artifacts and the scratch directory
//
// If any step fails Insert stops and returns a *StageError. All patches are
// checked against the overlay before the first one is written, so on failure
// o is unchanged unless updating the metadata store itself failed.
//
// Build artifacts are only deleted when Insert succeeds. After a failure they
// stay on disk, including those from steps that completed, and accumulate
// over repeated attempts.
func Insert(o *Overlay, tc Toolchain, opts InsertOptions) error {
	root, layout := opts.Root, opts.Layout
	path := func(rel string) string {
		return filepath.Join(root, rel)
	}

	codeAddr := o.End()
	log.Debugf("Building %s at 0x%08X", layout.MainTarget(), codeAddr)
	if err := tc.Build(layout.MainParams(codeAddr)); err != nil {
		return &StageError{Stage: StageCompileMain, Err: err}
	}

	syms, err := ReadSymbolFile(path(layout.MainTarget() + ".sym"))
	if err != nil {
		return &StageError{Stage: StageEmitSymbolExports, Err: err}
	}
	if err := WriteSymbolExportFile(path(layout.SymbolExports()), syms); err != nil {
		return &StageError{Stage: StageEmitSymbolExports, Err: err}
	}
	log.Debugf("Exported %d symbols to %s", len(syms), layout.SymbolExports())

	units, err := DiscoverReplacements(root, layout)
	if err != nil {
		return &StageError{Stage: StageCompileReplacements, Err: err}
	}
	if err := CompileReplacements(tc, layout, units); err != nil {
		return &StageError{Stage: StageCompileReplacements, Err: err}
	}

	if err := verifyArtifacts(root, layout, units); err != nil {
		return &StageError{Stage: StageVerifyArtifacts, Err: err}
	}

	// Nothing below may leave o half patched, so read and range check
	// everything first.
	hooks, err := Hooks(syms)
	if err != nil {
		return &StageError{Stage: StageApplyHooks, Err: err}
	}
	for _, h := range hooks {
		if err := o.CheckRange(h.Site, 4); err != nil {
			return &StageError{Stage: StageApplyHooks, Err: fmt.Errorf("hook 0x%08X: %w", h.Site, err)}
		}
	}

	blocks, err := ReadReplacements(root, layout, units)
	if err != nil {
		return &StageError{Stage: StageApplyReplacements, Err: err}
	}
	for _, b := range blocks {
		if err := o.CheckRange(b.Address, len(b.Data)); err != nil {
			return &StageError{Stage: StageApplyReplacements, Err: fmt.Errorf("replacement 0x%08X: %w", b.Address, err)}
		}
	}

	newCode, err := os.ReadFile(path(layout.MainTarget() + ".bin"))
	if err != nil {
		return &StageError{Stage: StageAppendNewCode, Err: err}
	}

	for _, h := range hooks {
		before := Disassembly(o, h.Site)
		if err := h.Apply(o); err != nil {
			return &StageError{Stage: StageApplyHooks, Err: err}
		}
		log.Debugf("Hook 0x%08X -> 0x%08X: %s => %s", h.Site, h.Target, before, Disassembly(o, h.Site))
	}

	for _, b := range blocks {
		if err := b.Apply(o); err != nil {
			return &StageError{Stage: StageApplyReplacements, Err: err}
		}
		log.Debugf("Replaced %d bytes at 0x%08X", len(b.Data), b.Address)
	}

	if err := o.Append(newCode); err != nil {
		return &StageError{Stage: StageAppendNewCode, Err: err}
	}

	cleanup(root, layout, units)

	log.Infof("Overlay %04X: %d hooks, %d replacements, %d bytes appended at 0x%08X, size now 0x%X",
		o.ID, len(hooks), len(blocks), len(newCode), codeAddr, o.Len())
	return nil
}

func verifyArtifacts(root string, layout Layout, units []ReplacementUnit) error {
	expected := []string{layout.MainTarget() + ".bin"}
	for _, u := range units {
		expected = append(expected, layout.ReplacementTarget(u)+".bin")
	}

	errs := []error{}
	for _, rel := range expected {
		if _, err := os.Stat(filepath.Join(root, rel)); err != nil {
			errs = append(errs, fmt.Errorf("%w: %s", ErrMissingArtifact, rel))
		}
	}
	return errors.Join(errs...)
}

// cleanup removes the build outputs. Failures are logged and otherwise
// ignored: the overlay has already been patched.
func cleanup(root string, layout Layout, units []ReplacementUnit) {
	for _, rel := range layout.Artifacts(units) {
		err := os.Remove(filepath.Join(root, rel))
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			log.Warnf("Unable to remove %s: %v", rel, err)
		}
	}

	if err := os.RemoveAll(filepath.Join(root, layout.buildDir())); err != nil {
		log.Warnf("Unable to remove %s: %v", layout.buildDir(), err)
	}
}
