// SPDX-License-Identifier: ice License 1.0

package cfg

import (
	"log"
	"os"
	"path"
	"path/filepath"
	"runtime"

	"github.com/cockroachdb/errors"
)

// DiscoverFiles lists application.yaml candidates: explicit paths first, then the working directory,
// the executable's parent directory and the module root.
func DiscoverFiles(explicit ...string) []string {
	var files []string
	for _, p := range explicit {
		if p != "" {
			files = append(files, p)
		}
	}
	var hints []string
	if p, err := os.Getwd(); err == nil {
		hints = append(hints, p)
	}
	if p, err := os.Executable(); err == nil {
		hints = append(hints, path.Dir(filepath.Join(p, "..")))
	}
	for _, dir := range hints {
		files = append(files, glob(filepath.Join(dir, ".testdata", "application.yaml"))...)
		files = append(files, glob(filepath.Join(dir, "application.yaml"))...)
	}

	return append(files, relativeFiles()...)
}

func relativeFiles() []string {
	//nolint:dogsled // Because those 3 blank identifiers are useless
	_, callerFile, _, _ := runtime.Caller(0)

	return glob(filepath.Join(filepath.Dir(callerFile), "..", "application.yaml"))
}

func glob(pattern string) []string {
	f, err := filepath.Glob(pattern)
	if err != nil {
		log.Println(errors.Wrapf(err, "glob failed for [%v]", pattern))

		return nil
	}

	return f
}
