package preflight

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/bft-labs/faceshell/internal/cliconfig"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	// Optional results are warnings when they fail; startup continues.
	Optional bool
	Detail   string
}

// RunAll executes every preflight check for cfg.
func RunAll(cfg cliconfig.Config) []Result {
	results := []Result{CheckDirectoryAccess("Data directory", cfg.DataDir)}
	if cfg.ModelFile != "" {
		results = append(results, CheckModelFile("Detection model", cfg.ModelFile))
	}
	return results
}

// FirstFailure returns the first failed non-optional result, if any.
func FirstFailure(results []Result) (Result, bool) {
	for _, r := range results {
		if !r.Passed && !r.Optional {
			return r, true
		}
	}
	return Result{}, false
}

// CheckDirectoryAccess verifies path is an existing directory the process
// can read and write.
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

// CheckModelFile verifies the detection model is a readable regular file.
// A missing model degrades recognition but does not prevent startup.
func CheckModelFile(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		return Result{Name: name, Optional: true, Detail: fmt.Sprintf("%s (warning: %v)", path, err)}
	}
	if !info.Mode().IsRegular() {
		return Result{Name: name, Optional: true, Detail: fmt.Sprintf("%s (warning: not a regular file)", path)}
	}
	return Result{Name: name, Passed: true, Optional: true, Detail: fmt.Sprintf("%s (found)", path)}
}
