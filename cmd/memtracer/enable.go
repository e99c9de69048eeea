package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/mod/modfile"

	"github.com/kolkov/memtracer/trace"
)

// tracerModule is the module path added to a target project's go.mod.
const tracerModule = "github.com/kolkov/memtracer"

func enableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enable [dir]",
		Short: "add the tracer dependency to a project's go.mod",
		Long: `Enable adds the tracer module to the go.mod of the project in dir
(default "."), so the project can import the trace package. The
existing require is left untouched if the dependency is already
present.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			return enableIn(dir)
		},
	}
}

func enableIn(dir string) error {
	path := filepath.Join(dir, "go.mod")
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	mf, err := modfile.Parse(path, data, nil)
	if err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	for _, req := range mf.Require {
		if req.Mod.Path == tracerModule {
			fmt.Printf("%s already requires %s %s\n", path, tracerModule, req.Mod.Version)
			return nil
		}
	}

	if err := mf.AddRequire(tracerModule, "v"+trace.Version); err != nil {
		return fmt.Errorf("add require: %w", err)
	}
	mf.Cleanup()
	out, err := mf.Format()
	if err != nil {
		return fmt.Errorf("format %s: %w", path, err)
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Printf("added %s v%s to %s\n", tracerModule, trace.Version, path)
	return nil
}
