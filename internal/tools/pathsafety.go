package tools

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// resolveInWorkspace resolves path against workspace and guarantees the
// canonical result stays inside workspace. Adapted from the teacher's
// internal/tools/filesystem.go resolvePath, trimmed of the sandbox and
// virtual-filesystem routing this core does not have: absolute paths are
// rejected outright (read_file.py's ACCESS_DENIED), and symlinks are
// resolved before the containment check so a symlink cannot be used to
// escape the workspace.
func resolveInWorkspace(path, workspace string) (string, error) {
	if filepath.IsAbs(path) {
		return "", fmt.Errorf("access denied: absolute paths are not allowed")
	}

	absWorkspace, err := filepath.Abs(workspace)
	if err != nil {
		return "", fmt.Errorf("access denied: cannot resolve workspace")
	}
	wsReal, err := filepath.EvalSymlinks(absWorkspace)
	if err != nil {
		wsReal = absWorkspace
	}

	candidate := filepath.Clean(filepath.Join(absWorkspace, path))
	real, err := filepath.EvalSymlinks(candidate)
	if err != nil {
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("access denied: cannot resolve path")
		}
		parentReal, parentErr := filepath.EvalSymlinks(filepath.Dir(candidate))
		if parentErr != nil {
			return "", fmt.Errorf("access denied: cannot resolve path")
		}
		real = filepath.Join(parentReal, filepath.Base(candidate))
	}

	if !isPathInside(real, wsReal) {
		return "", fmt.Errorf("access denied: path outside workspace")
	}
	return real, nil
}

func isPathInside(child, parent string) bool {
	if child == parent {
		return true
	}
	return strings.HasPrefix(child, parent+string(filepath.Separator))
}
