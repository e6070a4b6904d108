package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/tidwall/gjson"

	"github.com/wehubfusion/Weaver/pkg/executor"
	"github.com/wehubfusion/Weaver/pkg/workflow"
)

// run executes one canvas file, printing each trace entry as a JSON line as
// soon as its node completes. failed reports a run that aborted on a node
// error; err is reserved for problems running the command itself.
func run(args []string, out io.Writer) (failed bool, err error) {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	file := fs.String("f", "", "path to a canvas or workflow JSON document")
	delay := fs.Duration("delay", executor.DefaultNodeDelay, "pause before each node")
	branching := fs.Bool("branching", false, "follow only the matching true/false branch of condition nodes")
	workflowID := fs.String("workflow-id", "local", "workflow id recorded on the run")
	logLevel := fs.String("log-level", "warn", "log level")
	if err := fs.Parse(args); err != nil {
		return false, err
	}
	if *file == "" {
		return false, errors.New("-f is required")
	}

	data, err := os.ReadFile(*file)
	if err != nil {
		return false, err
	}
	canvas, err := loadCanvas(data)
	if err != nil {
		return false, fmt.Errorf("%s: %w", *file, err)
	}

	logger, err := newLogger(*logLevel)
	if err != nil {
		return false, err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	enc := json.NewEncoder(out)
	opts := []executor.Option{
		executor.WithNodeDelay(*delay),
		executor.WithLogger(logger),
		executor.WithObserver(executor.Observer{
			NodeCompleted: func(result workflow.NodeExecutionResult) {
				_ = enc.Encode(result)
			},
		}),
	}
	if *branching {
		opts = append(opts, executor.WithConditionalBranching())
	}

	record, runErr := executor.Run(ctx, *workflowID, canvas, opts...)
	if record == nil {
		return false, runErr
	}
	if runErr != nil {
		fmt.Fprintf(os.Stderr, "run %s failed at node %q: %s\n",
			record.ID, record.ExecutionData.CurrentNodeID, record.ErrorMessage)
		return true, nil
	}
	fmt.Fprintf(os.Stderr, "run %s completed: %d node(s)\n", record.ID, len(record.ExecutionData.Results))
	return false, nil
}

// loadCanvas accepts a bare canvas or a workflow document carrying one under
// canvas_data.
func loadCanvas(data []byte) (workflow.CanvasData, error) {
	var canvas workflow.CanvasData
	if !gjson.ValidBytes(data) {
		return canvas, errors.New("invalid JSON")
	}
	if doc := gjson.GetBytes(data, "canvas_data"); doc.IsObject() {
		data = []byte(doc.Raw)
	}
	if err := json.Unmarshal(data, &canvas); err != nil {
		return canvas, err
	}
	return canvas, nil
}
