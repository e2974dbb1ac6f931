package main

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Both binaries are built once for the package, matching the teacher's
// cmd/lci/main_test.go TestMain shape: cxref shells out to a sibling cxrefd
// it finds next to its own executable (autoStart), so the two must live in
// the same directory for these tests to exercise the real auto-start path.
var (
	cxrefPath  string
	cxrefdPath string
)

func TestMain(m *testing.M) {
	binDir, err := os.MkdirTemp("", "cxref-test-bin-")
	if err != nil {
		fmt.Println("failed to create bin dir:", err)
		os.Exit(1)
	}
	defer os.RemoveAll(binDir)

	cxrefPath = filepath.Join(binDir, "cxref")
	cxrefdPath = filepath.Join(binDir, "cxrefd")

	if out, err := exec.Command("go", "build", "-o", cxrefPath, ".").CombinedOutput(); err != nil {
		fmt.Printf("failed to build cxref: %v\n%s\n", err, out)
		os.Exit(1)
	}
	if out, err := exec.Command("go", "build", "-o", cxrefdPath, "../cxrefd").CombinedOutput(); err != nil {
		fmt.Printf("failed to build cxrefd: %v\n%s\n", err, out)
		os.Exit(1)
	}

	os.Exit(m.Run())
}

func setupTestProject(t *testing.T) string {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "widget.cpp"), []byte(`
void doWork() {}

int main() {
	doWork();
	return 0;
}
`), 0o644))
	return root
}

func runCxref(t *testing.T, root string, args ...string) (string, error) {
	t.Helper()
	full := append([]string{"--root", root}, args...)
	cmd := exec.Command(cxrefPath, full...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.String(), err
}

// TestCxref_StatusAutoStartsDaemonAndShutsDown exercises the full
// auto-start/query/shutdown loop: a status query with no daemon running
// should spawn one (via cxref's sibling-executable lookup), return a status
// line, and a later shutdown should stop it cleanly.
func TestCxref_StatusAutoStartsDaemonAndShutsDown(t *testing.T) {
	root := setupTestProject(t)

	out, err := runCxref(t, root, "status")
	require.NoError(t, err, "status output: %s", out)
	assert.Contains(t, out, "files=")

	out, err = runCxref(t, root, "shutdown")
	require.NoError(t, err, "shutdown output: %s", out)
}

// TestCxref_ShutdownWithoutDaemonErrors verifies shutdown refuses to
// auto-start a daemon just to tell it to stop.
func TestCxref_ShutdownWithoutDaemonErrors(t *testing.T) {
	root := setupTestProject(t)
	_, err := runCxref(t, root, "shutdown")
	assert.Error(t, err)
}

// TestCxref_ListSymbolsAgainstAutoStartedDaemon runs status (which
// auto-starts the daemon), waits briefly, then checks list-symbols completes
// without error. No compile is sent.
func TestCxref_ListSymbolsAgainstAutoStartedDaemon(t *testing.T) {
	root := setupTestProject(t)
	defer func() { _, _ = runCxref(t, root, "shutdown") }()

	out, err := runCxref(t, root, "status")
	require.NoError(t, err, "status output: %s", out)

	time.Sleep(500 * time.Millisecond)

	out, err = runCxref(t, root, "list-symbols", "doWork")
	require.NoError(t, err, "list-symbols output: %s", out)
	_ = out // symbol presence depends on the real parser backend's timing; the
	// command completing without error is the contract under test here.
}
