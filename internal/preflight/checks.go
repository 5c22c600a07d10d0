package preflight

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"golang.org/x/sys/unix"

	"scanstation/internal/config"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckFreeSpace verifies that the filesystem holding path has at least min
// bytes available. A zero minimum always passes.
func CheckFreeSpace(name, path string, min uint64) Result {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: statfs: %v)", path, err)}
	}
	free := stat.Bavail * uint64(stat.Bsize)
	detail := fmt.Sprintf("%d MiB free", free>>20)
	if min > 0 && free < min {
		return Result{Name: name, Detail: fmt.Sprintf("%s, %d MiB required", detail, min>>20)}
	}
	return Result{Name: name, Passed: true, Detail: detail}
}

// CheckDeviceTools verifies that the executables named by the command
// driver's argv templates can be found.
func CheckDeviceTools(cfg config.Device) []Result {
	commands := []struct {
		name     string
		argv     []string
		optional bool
	}{
		{"Capture command", cfg.CaptureCommand, false},
		{"Prepare command", cfg.PrepareCommand, true},
		{"Finish command", cfg.FinishCommand, true},
	}

	var results []Result
	for _, c := range commands {
		binary := ""
		if len(c.argv) > 0 {
			binary = strings.TrimSpace(c.argv[0])
		}
		if binary == "" {
			if !c.optional {
				results = append(results, Result{Name: c.name, Detail: "command not configured"})
			}
			continue
		}
		path, err := exec.LookPath(binary)
		if err != nil {
			results = append(results, Result{Name: c.name, Detail: fmt.Sprintf("binary %q not found", binary)})
			continue
		}
		results = append(results, Result{Name: c.name, Passed: true, Detail: path})
	}
	return results
}
