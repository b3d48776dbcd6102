package intake

import (
	"fmt"
	"os"
	"path/filepath"
)

func DefaultSocketPath() string {
	runtimeDir := os.Getenv("XDG_RUNTIME_DIR")
	if runtimeDir != "" {
		return filepath.Join(runtimeDir, "fallacy-patrol", "intake.sock")
	}
	return filepath.Join(os.TempDir(), fmt.Sprintf("fallacy-patrol-%d", os.Getuid()), "intake.sock")
}
