package ovlpatch

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/fatih/color"
)

// ErrBuildFailed is wrapped by every error from a failed toolchain run.
var ErrBuildFailed = errors.New("build failed")

// BuildParams are the variables passed to the toolchain. Paths are relative
// to the toolchain's working directory.
type BuildParams struct {
	Target   string // output path without extension
	Sources  string // source directory
	Build    string // scratch directory
	NewSym   string // optional linker script with the main build's symbols
	CodeAddr uint32 // load address of the output
}

// Vars returns p as make variable assignments.
func (p BuildParams) Vars() []string {
	vars := []string{
		"TARGET=" + p.Target,
		"SOURCES=" + p.Sources,
		"BUILD=" + p.Build,
	}
	if p.NewSym != "" {
		vars = append(vars, "NEWSYM="+p.NewSym)
	}
	return append(vars, fmt.Sprintf("CODEADDR=0x%07X", p.CodeAddr))
}

// A Toolchain builds a source directory into a flat binary and symbol listing
// at a fixed load address. Build blocks until the build is finished.
type Toolchain interface {
	Build(p BuildParams) error
}

// BuildError reports a toolchain run that did not succeed.
type BuildError struct {
	Target string
	Err    error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Target, ErrBuildFailed, e.Err)
}

func (e *BuildError) Unwrap() []error {
	return []error{ErrBuildFailed, e.Err}
}

// A LineSink receives the toolchain's output one line at a time.
type LineSink func(line string)

// DefaultStdout prints the line to stdout.
func DefaultStdout(line string) {
	fmt.Fprintln(os.Stdout, line)
}

var stderrColor = color.New(color.FgRed)

// DefaultStderr prints the line to stderr, in red when stderr is a terminal.
func DefaultStderr(line string) {
	stderrColor.Fprintln(color.Error, line)
}

// MakeToolchain runs make (or another command accepting the same variables)
// in Dir.
type MakeToolchain struct {
	// Command and leading arguments. Defaults to "make".
	Command []string
	Dir     string

	// Output sinks. Nil means DefaultStdout and DefaultStderr.
	Stdout LineSink
	Stderr LineSink
}

func (m *MakeToolchain) Build(p BuildParams) error {
	command := m.Command
	if len(command) == 0 {
		command = []string{"make"}
	}

	args := append(append([]string{}, command[1:]...), p.Vars()...)
	cmd := exec.Command(command[0], args...)
	cmd.Dir = m.Dir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &BuildError{Target: p.Target, Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return &BuildError{Target: p.Target, Err: err}
	}

	if err := cmd.Start(); err != nil {
		return &BuildError{Target: p.Target, Err: err}
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go drainLines(&wg, stdout, sinkOr(m.Stdout, DefaultStdout))
	go drainLines(&wg, stderr, sinkOr(m.Stderr, DefaultStderr))

	// Wait closes the pipes, so the readers have to finish first.
	wg.Wait()
	if err := cmd.Wait(); err != nil {
		return &BuildError{Target: p.Target, Err: err}
	}
	return nil
}

func sinkOr(sink, def LineSink) LineSink {
	if sink == nil {
		return def
	}
	return sink
}

func drainLines(wg *sync.WaitGroup, r io.Reader, sink LineSink) {
	defer wg.Done()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		sink(scanner.Text())
	}

	// Keep reading after an overlong line so the process can't block on a
	// full pipe.
	io.Copy(io.Discard, r)
}
