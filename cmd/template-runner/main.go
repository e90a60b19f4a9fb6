// Package main implements the template-runner binary, the isolated worker
// process that compiles and executes one template per invocation.
//
// Usage: template-runner <templateFile> <inputSourceFile> <outputFile> [libraryRef ...]
//
// Exit code 0 means success, 1 a compile failure with framed diagnostics on
// stderr, 2 any other failure with free text on stderr.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/openfroyo/texttransform/pkg/worker"
)

func main() {
	os.Exit(run())
}

func run() int {
	logger, err := worker.NewLogger(os.LookupEnv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open worker log: %v", err)
		return worker.ExitInfrastructureFailure
	}

	cfg, err := worker.ConfigFromEnv(os.LookupEnv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid worker configuration: %v", err)
		return worker.ExitInfrastructureFailure
	}

	ctx := logger.WithContext(context.Background())
	logger.WithField("args", len(os.Args)-1).Debug("Template runner started")

	code := worker.Main(ctx, os.Args[1:], cfg, os.Stderr)

	logger.WithField("exit_code", code).Debug("Template runner finished")
	return code
}
