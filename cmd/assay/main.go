// Command assay is the process entrypoint: a proxy subcommand that
// interposes on a wrapped MCP tool server's stdio, and a replay
// subcommand that re-evaluates a recorded trace and emits gate output
// (C10). Grounded on the teacher's (deleted) cmd/helm dispatch shape —
// one flag.NewFlagSet per subcommand, no cobra.
package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var code int
	var err error
	switch os.Args[1] {
	case "proxy":
		err = runProxy(os.Args[2:])
		if err != nil {
			code = 1
		}
	case "replay":
		code, err = runReplay(os.Args[2:])
	case "-h", "-help", "--help", "help":
		usage()
		return
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "assay:", err)
	}
	os.Exit(code)
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: assay <command> [flags]

commands:
  proxy   wrap an MCP tool server's stdio and enforce policy on tools/call
  replay  re-evaluate a recorded trace and write gate output`)
}
