// Package script executes user-authored transformation scripts against a
// parsed configuration. Scripts run on a fresh ECMAScript runtime per call
// with no filesystem, network, or process capability; the only host object is
// a console shim that records lines into the run's diagnostics. Execution is
// hard-capped by a wall-clock budget.
package script

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	pkgerrors "github.com/XppaiCyberr/clash-verge-xpp/pkg/errors"
)

// DefaultBudget is the wall-clock execution budget per script run.
const DefaultBudget = 5 * time.Second

// Sandbox runs transformation scripts under restricted capabilities.
type Sandbox struct {
	budget time.Duration
	logger *zap.Logger
}

// New creates a sandbox. A non-positive budget falls back to DefaultBudget.
func New(budget time.Duration, logger *zap.Logger) *Sandbox {
	if budget <= 0 {
		budget = DefaultBudget
	}
	return &Sandbox{budget: budget, logger: logger.Named("script")}
}

// Run executes script against input and returns the transformed document.
// The script must define `function main(config)` and return an object. Any
// failure raised by the script is captured and converted to a ScriptError;
// exceeding the time budget yields a TimeoutError. Failures never propagate
// as a fault that could crash the host process.
func (s *Sandbox) Run(ctx context.Context, name, script string, input map[string]interface{}) (out map[string]interface{}, err error) {
	console := &consoleShim{}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("script runtime panic", zap.String("profile", name), zap.Any("panic", r))
			out = nil
			err = &pkgerrors.ScriptError{
				Profile: name,
				Detail:  fmt.Sprintf("runtime fault: %v", r),
				Console: console.lines,
			}
		}
	}()

	vm := goja.New()
	if err := console.install(vm); err != nil {
		return nil, &pkgerrors.ScriptError{Profile: name, Detail: err.Error()}
	}

	// Hard cap: interrupt the runtime when the budget elapses or the caller
	// cancels. Scripts cannot opt out of this.
	interrupted := make(chan struct{})
	timer := time.AfterFunc(s.budget, func() { vm.Interrupt(errBudgetExceeded) })
	defer timer.Stop()
	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt(ctx.Err())
		case <-interrupted:
		}
	}()
	defer close(interrupted)

	if _, err := vm.RunString(script); err != nil {
		return nil, s.convertError(name, err, console)
	}

	mainFn, ok := goja.AssertFunction(vm.Get("main"))
	if !ok {
		return nil, &pkgerrors.ScriptError{
			Profile: name,
			Detail:  "script does not define main(config)",
			Console: console.lines,
		}
	}

	// The script receives its own copy; the caller's accumulator is never
	// exposed for mutation.
	result, err := mainFn(goja.Undefined(), vm.ToValue(deepCopy(input)))
	if err != nil {
		return nil, s.convertError(name, err, console)
	}

	doc, ok := result.Export().(map[string]interface{})
	if !ok {
		return nil, &pkgerrors.ScriptError{
			Profile: name,
			Detail:  fmt.Sprintf("main returned %s; expected a configuration object", result.ExportType()),
			Console: console.lines,
		}
	}

	for _, line := range console.lines {
		s.logger.Debug("script console", zap.String("profile", name), zap.String("line", line))
	}
	return doc, nil
}

var errBudgetExceeded = errors.New("execution budget exceeded")

func (s *Sandbox) convertError(name string, err error, console *consoleShim) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		if v, ok := interrupted.Value().(error); ok && errors.Is(v, errBudgetExceeded) {
			return &pkgerrors.TimeoutError{Profile: name, Budget: s.budget.String()}
		}
		return &pkgerrors.ScriptError{
			Profile: name,
			Detail:  fmt.Sprintf("interrupted: %v", interrupted.Value()),
			Console: console.lines,
		}
	}

	var exc *goja.Exception
	if errors.As(err, &exc) {
		return &pkgerrors.ScriptError{
			Profile: name,
			Detail:  exc.Value().String(),
			Console: console.lines,
		}
	}

	return &pkgerrors.ScriptError{Profile: name, Detail: err.Error(), Console: console.lines}
}

// consoleShim captures console output instead of writing anywhere.
type consoleShim struct {
	lines []string
}

func (c *consoleShim) install(vm *goja.Runtime) error {
	console := vm.NewObject()
	log := func(call goja.FunctionCall) goja.Value {
		line := ""
		for i, arg := range call.Arguments {
			if i > 0 {
				line += " "
			}
			line += arg.String()
		}
		c.lines = append(c.lines, line)
		return goja.Undefined()
	}
	for _, level := range []string{"log", "info", "warn", "error"} {
		if err := console.Set(level, log); err != nil {
			return err
		}
	}
	return vm.Set("console", console)
}

func deepCopy(v map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(v))
	for k, val := range v {
		out[k] = deepCopyValue(val)
	}
	return out
}

func deepCopyValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return deepCopy(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, elem := range t {
			out[i] = deepCopyValue(elem)
		}
		return out
	default:
		return v
	}
}
