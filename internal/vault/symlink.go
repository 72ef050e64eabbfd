package vault

import (
	"fmt"
	"os"
	"path/filepath"
)

// resolveWriteTarget refuses to write through a symlink at path unless the
// PASSMAN_ALLOW_SYMLINK_VAULT escape hatch is set, mirroring the same
// traversal concern readFileScoped guards on the read path.
func resolveWriteTarget(path string) (string, error) {
	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return path, nil
		}
		return "", err
	}
	if info.Mode()&os.ModeSymlink == 0 {
		return path, nil
	}
	if !isTruthyEnv("PASSMAN_ALLOW_SYMLINK_VAULT") {
		return "", fmt.Errorf("refusing to write vault file through symlink: %s (set PASSMAN_ALLOW_SYMLINK_VAULT=1 to override)", filepath.Clean(path))
	}
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return "", fmt.Errorf("resolve vault symlink %s: %w", filepath.Clean(path), err)
	}
	resolved = filepath.Clean(resolved)
	targetInfo, err := os.Stat(resolved)
	if err != nil {
		return "", err
	}
	if targetInfo.IsDir() {
		return "", fmt.Errorf("vault symlink resolves to directory: %s", resolved)
	}
	return resolved, nil
}
