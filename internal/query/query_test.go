package query

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cxrefd/cxrefd/internal/config"
	"github.com/cxrefd/cxrefd/internal/project"
	"github.com/cxrefd/cxrefd/internal/store"
	"github.com/cxrefd/cxrefd/internal/types"
)

func openTestProject(t *testing.T) *project.Project {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "p.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	p, err := project.Open(t.TempDir(), &config.Project{}, s)
	require.NoError(t, err)
	return p
}

func TestFollowTarget_ResolvesBestRankedTarget(t *testing.T) {
	proj := openTestProject(t)
	path := filepath.Join(proj.Root, "a.cpp")
	f, err := proj.Files.InsertFile(path)
	require.NoError(t, err)

	refLoc := types.EncodeLocation(f, 10)
	defLoc := types.EncodeLocation(f, 20)

	data := types.NewIndexData(types.SourceInformation{SourceFile: path})
	ref := types.NewCursorInfo(refLoc, types.KindReference)
	ref.SymbolName, ref.SymbolLength = "foo", 3
	ref.AddTarget(defLoc)
	data.Cursors[refLoc] = ref

	def := types.NewCursorInfo(defLoc, types.KindFunction)
	def.SymbolName, def.SymbolLength = "foo", 3
	def.IsDefinition = true
	data.Cursors[defLoc] = def
	proj.Commit(data)

	e := New(proj)
	target, ok := e.FollowTarget(refLoc, false)
	require.True(t, ok)
	assert.Equal(t, defLoc, target)
}

func TestCursorAt_FallsBackToUSRRangeLookup(t *testing.T) {
	proj := openTestProject(t)
	path := filepath.Join(proj.Root, "a.cpp")
	f, err := proj.Files.InsertFile(path)
	require.NoError(t, err)

	loc := types.EncodeLocation(f, 10)
	data := types.NewIndexData(types.SourceInformation{SourceFile: path})
	c := types.NewCursorInfo(loc, types.KindVariable)
	c.SymbolName, c.SymbolLength, c.USR = "longname", 8, "c:@V@longname"
	data.Cursors[loc] = c
	data.USRIndex[loc] = types.USREntry{USR: c.USR, SymbolLength: c.SymbolLength}
	proj.Commit(data)

	e := New(proj)
	mid := types.EncodeLocation(f, 14)
	got, ok := e.cursorAt(mid)
	require.True(t, ok)
	assert.Equal(t, "longname", got.SymbolName)
}

func TestReferences_WidensAcrossOverrides(t *testing.T) {
	proj := openTestProject(t)
	path := filepath.Join(proj.Root, "a.cpp")
	f, err := proj.Files.InsertFile(path)
	require.NoError(t, err)

	base := types.EncodeLocation(f, 1)
	override := types.EncodeLocation(f, 2)
	callSite := types.EncodeLocation(f, 3)

	data := types.NewIndexData(types.SourceInformation{SourceFile: path})
	baseC := types.NewCursorInfo(base, types.KindMethod)
	baseC.SymbolName, baseC.SymbolLength = "render", 6
	baseC.Subs = map[types.Location]struct{}{override: {}}
	data.Cursors[base] = baseC

	overrideC := types.NewCursorInfo(override, types.KindMethod)
	overrideC.SymbolName, overrideC.SymbolLength = "render", 6
	overrideC.Super = base
	overrideC.AddReference(callSite)
	data.Cursors[override] = overrideC
	proj.Commit(data)

	e := New(proj)
	refs := e.References(base)
	assert.Contains(t, refs, callSite)
}

func TestListSymbols_PrefixAndSignatureFilter(t *testing.T) {
	proj := openTestProject(t)
	path := filepath.Join(proj.Root, "a.cpp")
	f, err := proj.Files.InsertFile(path)
	require.NoError(t, err)

	data := types.NewIndexData(types.SourceInformation{SourceFile: path})
	for i, name := range []string{"foo", "foo(int)", "foobar"} {
		loc := types.EncodeLocation(f, uint32(i+1))
		c := types.NewCursorInfo(loc, types.KindFunction)
		c.SymbolName, c.SymbolLength = name, uint32(len(name))
		data.Cursors[loc] = c
		data.AddSymbolName(name, loc)
	}
	proj.Commit(data)

	e := New(proj)
	names := e.ListSymbols("foo", true)
	assert.Contains(t, names, "foo")
	assert.Contains(t, names, "foobar")
	assert.NotContains(t, names, "foo(int)")
}

func TestFindFile_SubstringAndRegex(t *testing.T) {
	proj := openTestProject(t)
	path := filepath.Join(proj.Root, "widget.cpp")
	f, err := proj.Files.InsertFile(path)
	require.NoError(t, err)
	proj.RegisterDirectory(path, f)

	e := New(proj)
	found, err := e.FindFile("widget", false)
	require.NoError(t, err)
	assert.Contains(t, found, path)

	found, err = e.FindFile(`widget\.cpp$`, true)
	require.NoError(t, err)
	assert.Contains(t, found, path)
}

func TestStatusAndFixItsAndDiagnostics(t *testing.T) {
	proj := openTestProject(t)
	path := filepath.Join(proj.Root, "a.cpp")
	f, err := proj.Files.InsertFile(path)
	require.NoError(t, err)

	loc := types.EncodeLocation(f, 1)
	data := types.NewIndexData(types.SourceInformation{SourceFile: path})
	c := types.NewCursorInfo(loc, types.KindVariable)
	c.SymbolName, c.SymbolLength = "x", 1
	data.Cursors[loc] = c
	data.AddSymbolName("x", loc)
	data.FixIts[loc] = types.FixIt{Length: 1, Replacement: "y"}
	data.Diagnostics[f] = []string{"warning: unused variable"}
	proj.Commit(data)

	e := New(proj)
	stats := e.Status()
	assert.Equal(t, 1, stats.Symbols)

	fixits := e.FixIts(f)
	require.Len(t, fixits, 1)
	assert.Equal(t, "y", fixits[0].FixIt.Replacement)

	diags := e.Diagnostics(f)
	assert.Equal(t, []string{"warning: unused variable"}, diags)
}
