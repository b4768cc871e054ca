// apprun is a native AppRun: it locates its bundle, prepares the environment
// described by .launcher.toml next to it and runs the wrapped binary,
// forwarding arguments and exit code.
package main

import (
	"fmt"
	"os"

	"git.sr.ht/~jackmordaunt/appbundle/internal/launcher"
)

func main() {
	os.Exit(run())
}

func run() int {
	exe, err := os.Executable()
	if err != nil {
		fmt.Fprintf(os.Stderr, "apprun: locating executable: %v\n", err)
		return 1
	}
	here, err := launcher.Here(exe)
	if err != nil {
		fmt.Fprintf(os.Stderr, "apprun: %v\n", err)
		return 1
	}
	cfg, err := launcher.Load(here)
	if err != nil {
		fmt.Fprintf(os.Stderr, "apprun: %v\n", err)
		return 1
	}
	code, err := launcher.Run(here, cfg, os.Args[1:], launcher.Stdio{
		In:  os.Stdin,
		Out: os.Stdout,
		Err: os.Stderr,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "apprun: %v\n", err)
	}
	return code
}
