// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// validate is a CLI tool to validate ovcomp YAML configuration and scenario files.
//
// Usage:
//
//	validate -f ovcomp.yaml
//	validate --file ovcomp.yaml --scenario replay.yaml
//
// Exit codes:
//   - 0: Every file is valid
//   - 1: A file is invalid (parse or validation error)
//   - 2: Usage error (no file given)
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/ManuGH/ovcomp/internal/config"
	"github.com/ManuGH/ovcomp/internal/scenario"
	"github.com/ManuGH/ovcomp/internal/version"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	var file, scenarioFile string
	var showVersion bool

	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&file, "file", "", "path to YAML configuration file")
	fs.StringVar(&file, "f", "", "path to YAML configuration file (shorthand)")
	fs.StringVar(&scenarioFile, "scenario", "", "path to YAML scenario file")
	fs.BoolVar(&showVersion, "version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if showVersion {
		fmt.Fprintln(stdout, version.String())
		return 0
	}

	if file == "" && scenarioFile == "" {
		fmt.Fprintln(stderr, "Error: --file or --scenario is required")
		fmt.Fprintln(stderr, "")
		fmt.Fprintln(stderr, "Usage:")
		fmt.Fprintln(stderr, "  validate -f ovcomp.yaml")
		fmt.Fprintln(stderr, "  validate --scenario replay.yaml")
		return 2
	}

	code := 0
	if file != "" {
		// Load runs the strict parse and the business validation.
		if _, err := config.NewLoader(file, version.Version).Load(); err != nil {
			fmt.Fprintf(stderr, "Configuration error in %s:\n", file)
			fmt.Fprintf(stderr, "  %v\n", err)
			code = 1
		} else {
			fmt.Fprintf(stdout, "✓ %s is valid\n", file)
		}
	}
	if scenarioFile != "" {
		sc, err := scenario.Load(scenarioFile)
		if err != nil {
			fmt.Fprintf(stderr, "Scenario error in %s:\n", scenarioFile)
			fmt.Fprintf(stderr, "  %v\n", err)
			code = 1
		} else {
			frames := 0
			for i := range sc.Steps {
				frames += sc.Steps[i].FrameCount()
			}
			fmt.Fprintf(stdout, "✓ %s is valid (%d steps, %d frames)\n", scenarioFile, len(sc.Steps), frames)
		}
	}
	return code
}
