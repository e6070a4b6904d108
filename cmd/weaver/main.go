// Command weaver runs workflow graphs: once from a canvas file, behind an
// HTTP API server, or as a worker draining the NATS run queue.
//
//	weaver serve
//	weaver worker
//	weaver run -f canvas.json [-delay 0s] [-branching]
package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const usage = `usage:
  weaver serve                       start the API server (configured by WEAVER_* variables)
  weaver worker                      execute queued runs from NATS (requires WEAVER_NATS_URL)
  weaver run -f canvas.json [flags]  execute a canvas file once
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "serve":
		err = serve()
	case "worker":
		err = worker()
	case "run":
		var failed bool
		failed, err = run(os.Args[2:], os.Stdout)
		if err == nil && failed {
			os.Exit(1)
		}
	case "help", "-h", "--help":
		fmt.Fprint(os.Stdout, usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "weaver:", err)
		os.Exit(1)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}
