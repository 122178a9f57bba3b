// Command agim compiles and runs an Agim script.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/agimlang/agim"
	"github.com/agimlang/agim/internal/logio"
)

// exitUsageErr is returned for a malformed command line; compile and
// runtime errors instead flow through logio.Logger's own ExitCode (1 and 2
// respectively), set by Errorf and ErrorIf.
const exitUsageErr = 64

func main() {
	var (
		strict  bool
		timeout time.Duration
	)
	flag.BoolVar(&strict, "strict", false, "enable strict type checking")
	flag.DurationVar(&timeout, "timeout", 0, "abort the run after the given duration")
	flag.Parse()

	args := flag.Args()
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: agim [-strict] [-timeout d] <script.agim>")
		os.Exit(exitUsageErr)
	}
	path := args[0]

	log := logio.Logger{}
	log.SetOutput(os.Stderr)
	defer os.Exit(log.ExitCode())

	agim.SetStrictTypes(strict)

	prog, err := agim.CompileFile(path)
	if err != nil {
		log.Errorf("%+v", err)
		return
	}

	ctx := context.Background()
	if timeout != 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if _, err := agim.RunCompiledContext(ctx, prog); err != nil {
		log.ErrorIf(err)
	}
}
