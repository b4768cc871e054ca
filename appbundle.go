// Package appbundle turns a compiled application tree into a relocatable
// Linux bundle: it pulls in host shared libraries, writes a launcher that
// points the dynamic loader at them, adds desktop metadata and hands the
// result to a packaging tool.
package appbundle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"git.sr.ht/~jackmordaunt/appbundle/internal/launcher"
	"git.sr.ht/~jackmordaunt/appbundle/internal/util"
	yaml "gopkg.in/yaml.v2"
)

// ErrMissingBinary is returned when the bundle root lacks the primary
// executable. Nothing is written in that case.
var ErrMissingBinary = errors.New("primary executable missing")

// LibraryStatus is the outcome for one configured library.
type LibraryStatus string

const (
	StatusFound   LibraryStatus = "found"
	StatusSkipped LibraryStatus = "skipped"
	StatusFailed  LibraryStatus = "failed"
)

// LibraryResult records what happened to one configured library.
type LibraryResult struct {
	Name   string        `yaml:"name"`
	Source string        `yaml:"source,omitempty"`
	Dest   string        `yaml:"dest,omitempty"`
	Status LibraryStatus `yaml:"status"`
	Error  string        `yaml:"error,omitempty"`
}

// Report summarises a bundling run. Paths are absolute.
type Report struct {
	Root      string          `yaml:"root"`
	Libraries []LibraryResult `yaml:"libraries"`
	Sidecars  []LibraryResult `yaml:"sidecars,omitempty"`
	Removed   []string        `yaml:"removed,omitempty"`
	Launcher  string          `yaml:"launcher,omitempty"`
	Desktop   string          `yaml:"desktop,omitempty"`
	Icon      string          `yaml:"icon,omitempty"`
	Package   string          `yaml:"package,omitempty"`

	copyErrs util.MultiError
}

func (r *Report) add(res LibraryResult) {
	r.Libraries = append(r.Libraries, res)
}

func (r *Report) fail(lib ResolvedLibrary, err error) {
	r.copyErrs.Add(fmt.Errorf("%s: %w", lib.Name, err))
	r.add(LibraryResult{
		Name:   lib.Name,
		Source: lib.Path,
		Status: StatusFailed,
		Error:  err.Error(),
	})
}

// Count the libraries with status s.
func (r *Report) Count(s LibraryStatus) int {
	n := 0
	for _, lib := range r.Libraries {
		if lib.Status == s {
			n++
		}
	}
	return n
}

// CopyErrors returns the failed library copies, or nil.
func (r *Report) CopyErrors() error {
	return r.copyErrs.Err()
}

// WriteYAML saves the report to path.
func (r *Report) WriteYAML(path string) error {
	by, err := yaml.Marshal(r)
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	if err := os.WriteFile(path, by, 0644); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	return nil
}

// Option configures a bundling run.
type Option func(*options)

type options struct {
	progress  *Progress
	packager  Packager
	converter IconConverter
}

// WithProgress reports progress to p.
func WithProgress(p *Progress) Option {
	return func(o *options) {
		o.progress = p
	}
}

// WithPackager overrides the packager chosen by the config.
func WithPackager(p Packager) Option {
	return func(o *options) {
		o.packager = p
	}
}

// WithIconConverter overrides the icon converter chosen by the config.
func WithIconConverter(c IconConverter) Option {
	return func(o *options) {
		o.converter = c
	}
}

const stages = 5

// Bundle the application rooted at root according to cfg.
//
// Stages run strictly in order. Missing libraries, copy failures, launcher,
// desktop entry and icon problems only degrade the bundle; a missing primary
// executable or a packaging failure is returned as an error. The report is
// returned in either case once the precondition passed.
func Bundle(ctx context.Context, root string, cfg *Config, opts ...Option) (*Report, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	p := o.progress
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving bundle root: %w", err)
	}
	binary := filepath.Join(root, cfg.App.Binary)
	if !exists(binary) {
		return nil, fmt.Errorf("%w: %s", ErrMissingBinary, binary)
	}
	report := &Report{Root: root}
	p.start(stages)

	p.Stage("Resolving libraries")
	found, skipped := Resolver{Root: cfg.Libraries.SearchRoot}.ResolveAll(cfg.Libraries.Names)
	for _, name := range skipped {
		p.Warnf("%s not found under %s", name, cfg.Libraries.SearchRoot)
		report.add(LibraryResult{Name: name, Status: StatusSkipped})
	}
	p.Infof("%d of %d libraries resolved", len(found), len(cfg.Libraries.Names))

	p.Stage("Copying libraries")
	libDir := filepath.Join(root, cfg.Libraries.Dir)
	copyLibraries(libDir, found, report, p)
	copySidecars(root, cfg.Sidecars, report, p)
	removeConflicts(root, cfg.Libraries.Conflicts, report, p)

	p.Stage("Writing launcher")
	execs := []string{binary}
	launcherPath := filepath.Join(root, cfg.Launcher.Name)
	if err := writeLauncher(launcherPath, cfg); err != nil {
		p.Warnf("writing launcher: %v", err)
	} else {
		report.Launcher = launcherPath
		execs = append(execs, launcherPath)
	}
	if err := normalizePermissions(libDir, execs...); err != nil {
		p.Warnf("setting permissions: %v", err)
	}

	p.Stage("Generating metadata")
	if report.Desktop, err = writeDesktopEntry(root, desktopEntry(cfg)); err != nil {
		p.Warnf("%v", err)
	}
	conv := o.converter
	if conv == nil {
		conv = newConverter(cfg.Icon.Converter, p)
	}
	report.Icon = selectIcon(ctx, root, filepath.Join(root, cfg.Icon.Source), cfg.App.ID, conv, p)

	p.Stage("Packaging")
	packager := o.packager
	if packager == nil {
		packager = newPackager(cfg, p)
	}
	output, err := filepath.Abs(cfg.PackagePath())
	if err != nil {
		return report, fmt.Errorf("resolving output path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
		return report, fmt.Errorf("preparing output directory: %w", err)
	}
	// A package left over from an earlier run must not pass for this one.
	_ = os.Remove(output)
	if err := packager.Package(ctx, root, output); err != nil {
		return report, fmt.Errorf("packaging: %w", err)
	}
	report.Package = output
	return report, nil
}

// writeLauncher installs the entry point: the native launcher with its
// config when one is configured, the shell script otherwise.
func writeLauncher(path string, cfg *Config) error {
	lc := cfg.LauncherConfig()
	if cfg.Launcher.Native == "" {
		return launcher.Write(path, lc)
	}
	if err := (util.Copier{Mode: 0755}).Copy(cfg.Launcher.Native, path); err != nil {
		return err
	}
	return launcher.WriteConfig(filepath.Join(filepath.Dir(path), launcher.ConfigFile), lc)
}
