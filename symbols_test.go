package ovlpatch

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testListing = `
newcode.elf:     file format elf32-littlearm

SYMBOL TABLE:
02012000 l    d  .text	00000000 .text
02012345 T .text 00000010 ahook_02010000
02012360 g       .text	00000024 NewDrawText
02012384 l       .text	00000008 helper
00000000 l    df *ABS*	00000000 hooks.c
02012400 g       .data	00000004 some_data
garbage line
`

func TestParseSymbols(t *testing.T) {
	t.Run("single line", func(t *testing.T) {
		syms, err := ParseSymbols(strings.NewReader("02012345 T .text 00000010 ahook_02010000"))
		require.NoError(t, err)
		assert.Equal(t, []Symbol{{Address: 0x02012345, Name: "ahook_02010000"}}, syms)
	})

	t.Run("garbage", func(t *testing.T) {
		syms, err := ParseSymbols(strings.NewReader("garbage line"))
		assert.NoError(t, err)
		assert.Empty(t, syms)
	})

	t.Run("listing", func(t *testing.T) {
		syms, err := ParseSymbols(strings.NewReader(testListing))
		require.NoError(t, err)
		assert.Equal(t, []Symbol{
			{Address: 0x02012345, Name: "ahook_02010000"},
			{Address: 0x02012360, Name: "NewDrawText"},
			{Address: 0x02012384, Name: "helper"},
		}, syms)
	})

	t.Run("CRLF", func(t *testing.T) {
		syms, err := ParseSymbols(strings.NewReader("02012360 g       .text\t00000024 NewDrawText\r\n"))
		require.NoError(t, err)
		assert.Equal(t, []Symbol{{Address: 0x02012360, Name: "NewDrawText"}}, syms)
	})

	t.Run("rejects upper case addresses", func(t *testing.T) {
		syms, err := ParseSymbols(strings.NewReader("0201ABCD T .text 00000010 foo"))
		assert.NoError(t, err)
		assert.Empty(t, syms)
	})
}

func TestWriteSymbolExports(t *testing.T) {
	var buf bytes.Buffer
	err := WriteSymbolExports(&buf, []Symbol{
		{Address: 0x02012345, Name: "ahook_02010000"},
		{Address: 0x0201abcd, Name: "NewDrawText"},
	})
	require.NoError(t, err)
	assert.Equal(t, "ahook_02010000 = 0x02012345;\nNewDrawText = 0x0201ABCD;\n", buf.String())
}

func TestWriteSymbolExportFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "newcode.x")
	require.NoError(t, WriteSymbolExportFile(path, []Symbol{{Address: 0x02000000, Name: "a"}}))

	buf, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "a = 0x02000000;\n", string(buf))
}

func TestHooks(t *testing.T) {
	syms, err := ParseSymbols(strings.NewReader(testListing))
	require.NoError(t, err)

	hooks, err := Hooks(syms)
	require.NoError(t, err)
	assert.Equal(t, []HookPatch{{Site: 0x02010000, Target: 0x02012345}}, hooks)

	t.Run("malformed", func(t *testing.T) {
		for _, name := range []string{"ahook_", "ahook_0201000", "ahook_02010000_x", "ahook_zzzzzzzz"} {
			_, err := Hooks([]Symbol{{Address: 0x02012345, Name: name}})
			assert.ErrorIs(t, err, ErrMalformedHook, name)
		}
	})

	t.Run("upper case site", func(t *testing.T) {
		hooks, err := Hooks([]Symbol{{Address: 0x02012345, Name: "ahook_020C5A1C"}})
		require.NoError(t, err)
		assert.Equal(t, []HookPatch{{Site: 0x020C5A1C, Target: 0x02012345}}, hooks)
	})

	t.Run("no hooks", func(t *testing.T) {
		hooks, err := Hooks([]Symbol{{Address: 0x02012345, Name: "hook_02010000"}})
		assert.NoError(t, err)
		assert.Empty(t, hooks)
	})
}
