package server

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultSocketPath returns the project-independent socket path, used when no
// root is known yet. Grounded on the teacher's GetSocketPath.
func DefaultSocketPath() string {
	return filepath.Join(os.TempDir(), "cxrefd.sock")
}

// SocketPathForRoot derives a project-specific socket path from root so
// multiple daemons can run concurrently against different roots without
// colliding, the way the teacher's GetSocketPathForRoot does.
func SocketPathForRoot(root string) string {
	if root == "" {
		return DefaultSocketPath()
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return DefaultSocketPath()
	}
	var hash uint32
	for _, c := range absRoot {
		hash = hash*31 + uint32(c)
	}
	return filepath.Join(os.TempDir(), fmt.Sprintf("cxrefd-%08x.sock", hash))
}
