// Package script evaluates user-authored JavaScript for condition and code
// nodes.
//
// Every evaluation runs on a fresh goja runtime with the sandbox applied, so
// scripts cannot observe each other. The bindings input and variables are
// deep copies decoded inside the runtime, and results leave the runtime only
// as JSON, which keeps functions and runtime handles from escaping.
package script

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/dop251/goja"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	weavererrors "github.com/wehubfusion/Weaver/pkg/errors"
)

// Evaluator runs condition expressions and code bodies.
type Evaluator struct {
	config  Config
	sandbox *Sandbox
	logger  *zap.Logger
}

// NewEvaluator creates an evaluator. Zero config fields take their defaults.
func NewEvaluator(config Config, logger *zap.Logger) (*Evaluator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid script config: %w", err)
	}
	return &Evaluator{
		config:  config,
		sandbox: NewSandbox(config, logger),
		logger:  logger,
	}, nil
}

// Config returns the effective configuration.
func (e *Evaluator) Config() Config {
	return e.config
}

// EvaluateCondition evaluates expr as a JavaScript expression and returns its
// truthiness.
func (e *Evaluator) EvaluateCondition(ctx context.Context, expr string, input interface{}, variables map[string]interface{}) (bool, error) {
	source := "(function(input, variables) { return " + strings.TrimSpace(expr) + "\n})"
	var result bool
	err := e.call(ctx, source, input, variables, func(vm *goja.Runtime, v goja.Value) error {
		result = v.ToBoolean()
		return nil
	})
	return result, err
}

// RunCode executes code as the body of a function and returns the value it
// produced, normalised to JSON-compatible Go values. A body that returns
// nothing yields nil.
func (e *Evaluator) RunCode(ctx context.Context, code string, input interface{}, variables map[string]interface{}) (interface{}, error) {
	source := "(function(input, variables) { " + code + "\n})"
	var result interface{}
	err := e.call(ctx, source, input, variables, func(vm *goja.Runtime, v goja.Value) error {
		var err error
		result, err = normalise(vm, v)
		return err
	})
	return result, err
}

func (e *Evaluator) call(ctx context.Context, source string, input interface{}, variables map[string]interface{}, collect func(*goja.Runtime, goja.Value) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during evaluation: %v", r)
		}
	}()

	vm := goja.New()
	if err := e.sandbox.Apply(vm); err != nil {
		return err
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case <-timeoutCtx.Done():
			vm.Interrupt("execution timeout")
		case <-done:
		}
	}()
	defer func() {
		close(done)
		wg.Wait()
	}()

	fnValue, err := vm.RunString(source)
	if err != nil {
		return e.translate(timeoutCtx, ctx, err)
	}
	fn, ok := goja.AssertFunction(fnValue)
	if !ok {
		return errors.New("script did not compile to a function")
	}

	inputValue, err := decodeBinding(vm, input)
	if err != nil {
		return fmt.Errorf("invalid input binding: %w", err)
	}
	variablesValue, err := decodeBinding(vm, variables)
	if err != nil {
		return fmt.Errorf("invalid variables binding: %w", err)
	}

	value, err := fn(goja.Undefined(), inputValue, variablesValue)
	if err != nil {
		return e.translate(timeoutCtx, ctx, err)
	}
	if err := collect(vm, value); err != nil {
		return e.translate(timeoutCtx, ctx, err)
	}
	return nil
}

// translate maps runtime failures to errors whose text is the script-level
// message.
func (e *Evaluator) translate(timeoutCtx, parent context.Context, err error) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		if parent.Err() != nil {
			return parent.Err()
		}
		if errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w after %s", weavererrors.ErrTimeout, e.config.Timeout)
		}
	}
	var exc *goja.Exception
	if errors.As(err, &exc) {
		return errors.New(exceptionMessage(exc))
	}
	return err
}

func exceptionMessage(exc *goja.Exception) string {
	val := exc.Value()
	if val == nil {
		return exc.Error()
	}
	if obj, ok := val.(*goja.Object); ok {
		if msg := obj.Get("message"); msg != nil && !goja.IsUndefined(msg) {
			return msg.String()
		}
	}
	return val.String()
}

// decodeBinding copies v into the runtime by round-tripping through JSON.
func decodeBinding(vm *goja.Runtime, v interface{}) (goja.Value, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	parse, ok := goja.AssertFunction(vm.Get("JSON").ToObject(vm).Get("parse"))
	if !ok {
		return nil, errors.New("JSON.parse unavailable")
	}
	return parse(goja.Undefined(), vm.ToValue(string(raw)))
}

// normalise converts a script value to plain Go values via JSON.stringify.
// Values JSON cannot represent (undefined, functions) become nil.
func normalise(vm *goja.Runtime, v goja.Value) (interface{}, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, nil
	}
	stringify, ok := goja.AssertFunction(vm.Get("JSON").ToObject(vm).Get("stringify"))
	if !ok {
		return nil, errors.New("JSON.stringify unavailable")
	}
	encoded, err := stringify(goja.Undefined(), v)
	if err != nil {
		return nil, err
	}
	if goja.IsUndefined(encoded) {
		return nil, nil
	}
	return gjson.Parse(encoded.String()).Value(), nil
}
