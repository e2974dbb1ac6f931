package watchsvc

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cxrefd/cxrefd/internal/config"
)

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
}

func TestScan_CollectsSourceFilesByDirectory(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "widget.cpp"), "")
	writeFile(t, filepath.Join(root, "widget.h"), "")
	writeFile(t, filepath.Join(root, "README.md"), "")
	writeFile(t, filepath.Join(root, "sub", "helper.cc"), "")

	s := NewScanner(&config.Config{Project: config.Project{Root: root}})
	idx, err := s.Scan(root)
	require.NoError(t, err)

	assert.True(t, idx.Dirs[root]["widget.cpp"])
	assert.True(t, idx.Dirs[root]["widget.h"])
	assert.False(t, idx.Dirs[root]["README.md"])
	assert.True(t, idx.Dirs[filepath.Join(root, "sub")]["helper.cc"])
}

func TestScan_PrunesGitDirectory(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, ".git", "HEAD.cpp"), "")
	writeFile(t, filepath.Join(root, "main.cpp"), "")

	s := NewScanner(&config.Config{Project: config.Project{Root: root}})
	idx, err := s.Scan(root)
	require.NoError(t, err)

	_, sawGit := idx.Dirs[filepath.Join(root, ".git")]
	assert.False(t, sawGit)
	assert.True(t, idx.Dirs[root]["main.cpp"])
}

func TestScan_HonorsCxrefsIgnoreFile(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "keep.cpp"), "")
	writeFile(t, filepath.Join(root, "generated.cpp"), "")
	writeFile(t, filepath.Join(root, IgnoreFileName), "generated.cpp\n")

	s := NewScanner(&config.Config{Project: config.Project{Root: root}})
	idx, err := s.Scan(root)
	require.NoError(t, err)

	assert.True(t, idx.Dirs[root]["keep.cpp"])
	assert.False(t, idx.Dirs[root]["generated.cpp"])
}

func TestScan_HonorsConfiguredExcludeFilters(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "build", "out.cpp"), "")
	writeFile(t, filepath.Join(root, "src", "main.cpp"), "")

	cfg := &config.Config{Project: config.Project{Root: root}}
	s := NewScanner(cfg)
	idx, err := s.Scan(root)
	require.NoError(t, err)

	_, sawBuild := idx.Dirs[filepath.Join(root, "build")]
	assert.False(t, sawBuild)
	assert.True(t, idx.Dirs[filepath.Join(root, "src")]["main.cpp"])
}

func TestIsSourceFile_ClassifiesByExtension(t *testing.T) {
	assert.True(t, IsSourceFile("widget.cpp"))
	assert.True(t, IsSourceFile("widget.H"))
	assert.False(t, IsSourceFile("widget.md"))
	assert.False(t, IsSourceFile("Makefile"))
}
