package main

import (
	"fmt"
	"image/png"
	"os"

	"git.sr.ht/~jackmordaunt/appbundle"
	"git.sr.ht/~jackmordaunt/appbundle/ico"
	"github.com/spf13/cobra"
)

type flags struct {
	config     string
	searchRoot string
	format     string
	arch       string
	dist       string
	output     string
	report     string
	quiet      bool
}

func newRootCmd() *cobra.Command {
	var f flags
	cmd := &cobra.Command{
		Use:   "appbundle [bundle-root]",
		Short: "Bundle an application directory into a relocatable package",
		Long: `Bundle an application directory into a relocatable package.

The bundle root must already contain the primary executable. Host shared
libraries listed in the config are copied into the bundle, an AppRun launcher
and desktop entry are generated, the icon is derived from the icon source and
the result is packaged (appimagetool by default).

Configuration is read from appbundle.toml in the working directory, or from
--config. ARCH, APPBUNDLE_SEARCH_ROOT and APPBUNDLE_TOOL override it; flags
override both.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBundle(cmd, args[0], f)
		},
	}
	cmd.Flags().StringVarP(&f.config, "config", "c", "", "config file (default appbundle.toml if present)")
	cmd.Flags().StringVar(&f.searchRoot, "search-root", "", "directory searched for shared libraries")
	cmd.Flags().StringVar(&f.format, "format", "", "package format: appimage, iso, tar.gz, tar.xz")
	cmd.Flags().StringVar(&f.arch, "arch", "", "target architecture passed to the packaging tool")
	cmd.Flags().StringVar(&f.dist, "dist", "", "output directory for the package")
	cmd.Flags().StringVarP(&f.output, "output", "o", "", "output package path (overrides --dist)")
	cmd.Flags().StringVar(&f.report, "report", "", "write a YAML report of the run to this path")
	cmd.Flags().BoolVarP(&f.quiet, "quiet", "q", false, "only print the final result")
	cmd.AddCommand(newIcoCmd())
	return cmd
}

func runBundle(cmd *cobra.Command, root string, f flags) error {
	progress := appbundle.NewProgress(cmd.OutOrStdout(), f.quiet)
	cfg, err := appbundle.LoadConfig(f.config)
	if err != nil {
		progress.Failure(err)
		return err
	}
	f.apply(cfg)
	report, err := appbundle.Bundle(cmd.Context(), root, cfg, appbundle.WithProgress(progress))
	if report != nil && f.report != "" {
		if rerr := report.WriteYAML(f.report); rerr != nil {
			progress.Warnf("%v", rerr)
		}
	}
	if err != nil {
		progress.Failure(err)
		return err
	}
	progress.Success(report)
	return nil
}

// apply the flags that were set on top of cfg.
func (f flags) apply(cfg *appbundle.Config) {
	if f.searchRoot != "" {
		cfg.Libraries.SearchRoot = f.searchRoot
	}
	if f.format != "" {
		cfg.Archive.Format = f.format
	}
	if f.arch != "" {
		cfg.SetArch(f.arch)
	}
	if f.dist != "" {
		cfg.Archive.Dist = f.dist
	}
	if f.output != "" {
		cfg.Archive.Output = f.output
	}
}

func newIcoCmd() *cobra.Command {
	var sizes []int
	cmd := &cobra.Command{
		Use:   "ico <source.png> <output.ico>",
		Short: "Create a multi-resolution icon source from a png",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("opening source file: %w", err)
			}
			defer src.Close()
			img, err := png.Decode(src)
			if err != nil {
				return fmt.Errorf("decoding source png: %w", err)
			}
			dst, err := os.Create(args[1])
			if err != nil {
				return fmt.Errorf("creating destination file: %w", err)
			}
			defer dst.Close()
			if err := ico.Encode(dst, img, sizes...); err != nil {
				return fmt.Errorf("encoding ico: %w", err)
			}
			return dst.Close()
		},
	}
	cmd.Flags().IntSliceVar(&sizes, "sizes", nil, "sizes to embed (default 256,128,64,48,32,16)")
	return cmd
}
