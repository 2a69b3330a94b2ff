package ovlpatch

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildParamsVars(t *testing.T) {
	p := BuildParams{
		Target:   "main_0001/newcode",
		Sources:  "main_0001/source",
		Build:    "build",
		CodeAddr: 0x02077A20 + 0x1234,
	}
	assert.Equal(t, []string{
		"TARGET=main_0001/newcode",
		"SOURCES=main_0001/source",
		"BUILD=build",
		"CODEADDR=0x2078C54",
	}, p.Vars())

	p.NewSym = "main_0001/newcode.x"
	assert.Contains(t, p.Vars(), "NEWSYM=main_0001/newcode.x")
	assert.Equal(t, "CODEADDR=0x2078C54", p.Vars()[len(p.Vars())-1])
}

func shToolchain(t *testing.T, script string) (*MakeToolchain, *[]string, *[]string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not found")
	}

	var stdout, stderr []string
	tc := &MakeToolchain{
		Command: []string{"sh", "-c", script, "sh"},
		Dir:     t.TempDir(),
		Stdout:  func(line string) { stdout = append(stdout, line) },
		Stderr:  func(line string) { stderr = append(stderr, line) },
	}
	return tc, &stdout, &stderr
}

func TestMakeToolchain(t *testing.T) {
	script := `for a in "$@"; do echo "$a"; done; echo warning >&2; echo built > out.txt`
	tc, stdout, stderr := shToolchain(t, script)

	err := tc.Build(BuildParams{
		Target:   "ov/repl_02000000",
		Sources:  "ov/replSource/02000000",
		Build:    "build",
		NewSym:   "ov/newcode.x",
		CodeAddr: 0x02000000,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"TARGET=ov/repl_02000000",
		"SOURCES=ov/replSource/02000000",
		"BUILD=build",
		"NEWSYM=ov/newcode.x",
		"CODEADDR=0x2000000",
	}, *stdout)
	assert.Equal(t, []string{"warning"}, *stderr)

	buf, err := os.ReadFile(filepath.Join(tc.Dir, "out.txt"))
	require.NoError(t, err)
	assert.Equal(t, "built\n", string(buf))
}

func TestMakeToolchainFailure(t *testing.T) {
	tc, _, stderr := shToolchain(t, `echo "no rule to make target" >&2; exit 2`)

	err := tc.Build(BuildParams{Target: "ov/newcode"})
	assert.ErrorIs(t, err, ErrBuildFailed)

	var buildErr *BuildError
	if assert.ErrorAs(t, err, &buildErr) {
		assert.Equal(t, "ov/newcode", buildErr.Target)
	}

	var exitErr *exec.ExitError
	if assert.ErrorAs(t, err, &exitErr) {
		assert.Equal(t, 2, exitErr.ExitCode())
	}
	assert.Equal(t, []string{"no rule to make target"}, *stderr)
}

func TestMakeToolchainMissingCommand(t *testing.T) {
	tc := &MakeToolchain{
		Command: []string{filepath.Join(t.TempDir(), "no-such-make")},
		Stdout:  func(string) {},
		Stderr:  func(string) {},
	}
	assert.ErrorIs(t, tc.Build(BuildParams{Target: "x"}), ErrBuildFailed)
}
