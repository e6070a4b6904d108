package script

import (
	"encoding/base64"
	"fmt"

	"github.com/dop251/goja"
	"go.uber.org/zap"
)

// Sandbox manages security restrictions for script evaluation
type Sandbox struct {
	securityLevel    string
	maxCallStackSize int
	logger           *zap.Logger
}

// NewSandbox creates a new sandbox with the given configuration
func NewSandbox(config Config, logger *zap.Logger) *Sandbox {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sandbox{
		securityLevel:    config.SecurityLevel,
		maxCallStackSize: config.MaxCallStackSize,
		logger:           logger,
	}
}

// Apply applies sandbox restrictions to a VM runtime
func (s *Sandbox) Apply(vm *goja.Runtime) error {
	vm.SetMaxCallStackSize(s.maxCallStackSize)

	if err := s.removeDangerousGlobals(vm); err != nil {
		return fmt.Errorf("failed to remove dangerous globals: %w", err)
	}

	if err := s.registerUtilities(vm); err != nil {
		return fmt.Errorf("failed to register utilities: %w", err)
	}

	if err := s.freezeBuiltins(vm); err != nil {
		return fmt.Errorf("failed to freeze built-ins: %w", err)
	}

	return nil
}

func (s *Sandbox) removeDangerousGlobals(vm *goja.Runtime) error {
	dangerousGlobals := []string{
		"require",
		"module",
		"exports",
		"process",
		"global",
		"globalThis",
		"__dirname",
		"__filename",
		"Buffer",
		"setImmediate",
		"clearImmediate",
	}

	for _, name := range dangerousGlobals {
		if err := vm.Set(name, goja.Undefined()); err != nil {
			return fmt.Errorf("failed to remove %s: %w", name, err)
		}
	}

	if s.securityLevel == SecurityLevelStrict {
		restricted := func(goja.FunctionCall) goja.Value {
			panic(vm.NewTypeError("eval is not allowed in strict security mode"))
		}
		if err := vm.Set("eval", restricted); err != nil {
			return fmt.Errorf("failed to restrict eval: %w", err)
		}
	}

	return nil
}

// registerUtilities installs console (routed to the logger) and, outside
// strict mode, btoa/atob.
func (s *Sandbox) registerUtilities(vm *goja.Runtime) error {
	console := vm.NewObject()
	logFn := func(level func(string, ...zap.Field)) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			args := make([]interface{}, len(call.Arguments))
			for i, arg := range call.Arguments {
				args[i] = arg.Export()
			}
			level("script console", zap.String("message", fmt.Sprint(args...)))
			return goja.Undefined()
		}
	}
	for name, fn := range map[string]func(string, ...zap.Field){
		"log":   s.logger.Info,
		"info":  s.logger.Info,
		"debug": s.logger.Debug,
		"warn":  s.logger.Warn,
		"error": s.logger.Error,
	} {
		if err := console.Set(name, logFn(fn)); err != nil {
			return err
		}
	}
	if err := vm.Set("console", console); err != nil {
		return err
	}

	if s.securityLevel == SecurityLevelStrict {
		return nil
	}

	if err := vm.Set("btoa", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(base64.StdEncoding.EncodeToString([]byte(call.Argument(0).String())))
	}); err != nil {
		return err
	}
	return vm.Set("atob", func(call goja.FunctionCall) goja.Value {
		decoded, err := base64.StdEncoding.DecodeString(call.Argument(0).String())
		if err != nil {
			panic(vm.NewTypeError("atob: " + err.Error()))
		}
		return vm.ToValue(string(decoded))
	})
}

func (s *Sandbox) freezeBuiltins(vm *goja.Runtime) error {
	if s.securityLevel == SecurityLevelPermissive {
		return nil
	}

	builtins := []string{
		"Object",
		"Array",
		"Function",
		"String",
		"Number",
		"Boolean",
		"Date",
		"RegExp",
		"Error",
		"Math",
		"JSON",
	}

	val, err := vm.RunString(`
		(function() {
			return function(obj) {
				if (obj && (typeof obj === 'object' || typeof obj === 'function')) {
					Object.freeze(obj);
					if (obj.prototype) {
						Object.freeze(obj.prototype);
					}
				}
			};
		})()
	`)
	if err != nil {
		return fmt.Errorf("failed to create freeze function: %w", err)
	}

	freezeFn, ok := goja.AssertFunction(val)
	if !ok {
		return fmt.Errorf("freeze function is not a function")
	}

	for _, name := range builtins {
		obj := vm.Get(name)
		if obj == nil || goja.IsUndefined(obj) {
			continue
		}
		if _, err := freezeFn(goja.Undefined(), obj); err != nil {
			s.logger.Debug("failed to freeze builtin", zap.String("name", name), zap.Error(err))
		}
	}

	return nil
}
