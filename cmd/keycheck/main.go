// Command keycheck enforces the context key discipline of rule code.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"rpgkernel/internal/validation"
)

const defaultDirs = "pkg,plugins,internal"

var (
	exitFunc     = os.Exit
	getwd        = os.Getwd
	validateFunc = validation.ValidateContextKeys
)

func main() {
	exitFunc(run(os.Args, os.Stderr, validateFunc))
}

func run(args []string, stderr io.Writer, validate func(string, []string) ([]validation.Error, error)) int {
	if len(args) == 0 {
		return 1
	}
	flags := flag.NewFlagSet(args[0], flag.ContinueOnError)
	flags.SetOutput(stderr)
	root := flags.String("root", "", "module root (defaults to the working directory)")
	dirsFlag := flags.String("dirs", defaultDirs, "comma-separated directories to scan, relative to root")
	if err := flags.Parse(args[1:]); err != nil {
		return 1
	}

	dirs := splitDirs(*dirsFlag)
	if len(dirs) == 0 {
		_, _ = fmt.Fprintln(stderr, "no directories provided for context key validation")
		return 1
	}
	base := *root
	if base == "" {
		wd, err := getwd()
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "resolve working directory: %v\n", err)
			return 1
		}
		base = wd
	}

	violations, err := validate(base, dirs)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "context key check failed: %v\n", err)
		return 1
	}
	if len(violations) == 0 {
		return 0
	}
	_, _ = fmt.Fprintf(stderr, "Found %d context key violations:\n\n", len(violations))
	for _, violation := range violations {
		if _, err := fmt.Fprintf(stderr, "%s:%d\n  %s\n", violation.File, violation.Line, violation.Message); err != nil {
			return 1
		}
		if violation.Code != "" {
			if _, err := fmt.Fprintf(stderr, "  Code: %s\n", violation.Code); err != nil {
				return 1
			}
		}
		if _, err := fmt.Fprintln(stderr); err != nil {
			return 1
		}
	}
	return 1
}

func splitDirs(value string) []string {
	var out []string
	for _, entry := range strings.Split(value, ",") {
		if entry = strings.TrimSpace(entry); entry != "" {
			out = append(out, entry)
		}
	}
	return out
}
