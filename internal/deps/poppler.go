package deps

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// ResolvePopplerTool picks the binary for a poppler tool. An explicit command
// wins. Otherwise a sibling of the configured pdftotext is preferred, since
// poppler installs its tools side by side and a pinned pdftotext usually
// means a pinned toolchain; the bare name resolved from PATH is the fallback.
func ResolvePopplerTool(pdfToText, explicit, name string) string {
	if cmd := strings.TrimSpace(explicit); cmd != "" {
		return cmd
	}
	if primary := strings.TrimSpace(pdfToText); primary != "" {
		if resolved, err := exec.LookPath(primary); err == nil {
			candidate := siblingCandidate(resolved, name)
			if info, statErr := os.Stat(candidate); statErr == nil && isExecutable(info) {
				return candidate
			}
		}
	}
	return name
}

func siblingCandidate(primary, name string) string {
	if runtime.GOOS == "windows" {
		name += ".exe"
	}
	return filepath.Join(filepath.Dir(primary), name)
}

func isExecutable(info os.FileInfo) bool {
	if info == nil || info.IsDir() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return info.Mode().Perm()&0o111 != 0
}
