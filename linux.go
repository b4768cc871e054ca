package appbundle

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"git.sr.ht/~jackmordaunt/appbundle/internal/util"
)

// copyLibraries copies each resolved library into libDir under its logical
// name. Failures are recorded and the remaining libraries still copied.
func copyLibraries(libDir string, libs []ResolvedLibrary, report *Report, p *Progress) {
	if err := os.MkdirAll(libDir, 0755); err != nil {
		p.Warnf("preparing %s: %v", libDir, err)
	}
	copier := util.Copier{}
	for _, lib := range libs {
		dst := filepath.Join(libDir, lib.Name)
		if err := copier.Copy(lib.Path, dst); err != nil {
			p.Warnf("%s: %v", lib.Name, err)
			report.fail(lib, err)
			continue
		}
		p.Infof("%s <- %s", lib.Name, lib.Path)
		report.add(LibraryResult{
			Name:   lib.Name,
			Source: lib.Path,
			Dest:   dst,
			Status: StatusFound,
		})
	}
}

// normalizePermissions sets the execute bits on the entry point, the primary
// binary and every shared object in libDir. Some loaders refuse to map
// objects without them.
func normalizePermissions(libDir string, files ...string) error {
	var errs util.MultiError
	for _, f := range files {
		errs.Add(addExec(f))
	}
	entries, err := os.ReadDir(libDir)
	if err != nil && !os.IsNotExist(err) {
		errs.Add(fmt.Errorf("reading %s: %w", libDir, err))
	}
	for _, entry := range entries {
		if entry.Type().IsRegular() && strings.Contains(entry.Name(), ".so") {
			errs.Add(addExec(filepath.Join(libDir, entry.Name())))
		}
	}
	return errs.Err()
}

// copySidecars copies each helper program found on PATH into its directory in
// the bundle. Programs that are not installed are reported and skipped.
func copySidecars(root string, sidecars []SidecarConfig, report *Report, p *Progress) {
	copier := util.Copier{Mode: 0755}
	for _, sc := range sidecars {
		src, err := exec.LookPath(sc.Name)
		if err != nil {
			p.Warnf("%s not found on PATH, features that need it may fail", sc.Name)
			report.Sidecars = append(report.Sidecars, LibraryResult{Name: sc.Name, Status: StatusSkipped})
			continue
		}
		dst := filepath.Join(root, sc.Dir, sc.Name)
		res := LibraryResult{Name: sc.Name, Source: src, Dest: dst, Status: StatusFound}
		if err := copier.Copy(src, dst); err != nil {
			p.Warnf("%s: %v", sc.Name, err)
			res.Dest, res.Status, res.Error = "", StatusFailed, err.Error()
		} else {
			p.Infof("%s <- %s", filepath.Join(sc.Dir, sc.Name), src)
		}
		report.Sidecars = append(report.Sidecars, res)
	}
}

// removeConflicts deletes files in the bundle matching patterns. Directories
// are left alone.
func removeConflicts(root string, patterns []string, report *Report, p *Progress) {
	for _, pattern := range patterns {
		matches, err := filepath.Glob(filepath.Join(root, pattern))
		if err != nil {
			p.Warnf("conflict pattern %q: %v", pattern, err)
			continue
		}
		for _, path := range matches {
			info, err := os.Lstat(path)
			if err != nil || info.IsDir() {
				continue
			}
			if err := os.Remove(path); err != nil {
				p.Warnf("removing conflict %s: %v", filepath.Base(path), err)
				continue
			}
			p.Infof("removed conflict %s", filepath.Base(path))
			report.Removed = append(report.Removed, path)
		}
	}
}
