package manager

import (
	"fmt"
	"os"
	"path/filepath"
)

// instanceDir is the browser profile directory owned by one instance.
func instanceDir(root string, id int64) string {
	return filepath.Join(root, fmt.Sprintf("instance_%d", id))
}

func ensureInstanceDir(root string, id int64) (string, error) {
	dir := instanceDir(root, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

func removeInstanceDir(root string, id int64) error {
	dir := instanceDir(root, id)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove %s: %w", dir, err)
	}
	return nil
}
