package scripting

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dop251/goja"

	"github.com/coachpo/quanta/internal/observability"
)

// errMethodMissing marks a handler without the requested method.
var errMethodMissing = errors.New("script method missing")

// vm is one goja runtime executing one module. It is not safe for concurrent
// use; the owning actor only calls it from the runner loop.
type vm struct {
	module  *Module
	rt      *goja.Runtime
	exports *goja.Object
	handler *goja.Object
	timeout time.Duration
}

func newVM(module *Module, timeout time.Duration, logger observability.Logger) (*vm, error) {
	rt := goja.New()
	exports, err := runModule(rt, module.Program, logger)
	if err != nil {
		return nil, fmt.Errorf("script %s: %w", module.Name, err)
	}
	return &vm{module: module, rt: rt, exports: exports, timeout: timeout}, nil
}

// create calls the module's create export and keeps the returned handler.
func (v *vm) create(ctx any) error {
	fn, ok := goja.AssertFunction(v.exports.Get("create"))
	if !ok {
		return fmt.Errorf("script %s: create export must be a function", v.module.Name)
	}
	var out goja.Value
	err := v.guard(func() error {
		var callErr error
		out, callErr = fn(goja.Undefined(), v.rt.ToValue(ctx))
		return callErr
	})
	if err != nil {
		return fmt.Errorf("script %s: create: %w", v.module.Name, err)
	}
	if out == nil || goja.IsUndefined(out) || goja.IsNull(out) {
		return fmt.Errorf("script %s: create returned no handler", v.module.Name)
	}
	v.handler = out.ToObject(v.rt)
	return nil
}

// call invokes a handler method. A missing method returns errMethodMissing.
func (v *vm) call(method string, args ...any) (goja.Value, error) {
	if v.handler == nil {
		return nil, errMethodMissing
	}
	fn, ok := goja.AssertFunction(v.handler.Get(method))
	if !ok {
		return nil, errMethodMissing
	}
	params := make([]goja.Value, len(args))
	for i, arg := range args {
		params[i] = v.rt.ToValue(arg)
	}
	var out goja.Value
	err := v.guard(func() error {
		var callErr error
		out, callErr = fn(v.handler, params...)
		return callErr
	})
	return out, err
}

// guard bounds a call by the vm timeout and turns Go panics raised by
// helpers into errors.
func (v *vm) guard(fn func() error) (err error) {
	if v.timeout > 0 {
		timer := time.AfterFunc(v.timeout, func() { v.rt.Interrupt("script timeout") })
		defer func() {
			timer.Stop()
			v.rt.ClearInterrupt()
		}()
	}
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return fn()
}

func runModule(rt *goja.Runtime, prog *goja.Program, logger observability.Logger) (*goja.Object, error) {
	rt.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	module := rt.NewObject()
	exports := rt.NewObject()
	if err := module.Set("exports", exports); err != nil {
		return nil, fmt.Errorf("module init: %w", err)
	}
	if err := rt.Set("exports", exports); err != nil {
		return nil, fmt.Errorf("module init: %w", err)
	}
	if err := rt.Set("module", module); err != nil {
		return nil, fmt.Errorf("module init: %w", err)
	}
	if err := rt.Set("console", buildConsole(rt, logger)); err != nil {
		return nil, fmt.Errorf("module init: %w", err)
	}
	if _, err := rt.RunProgram(prog); err != nil {
		return nil, fmt.Errorf("module run: %w", err)
	}
	object := module.Get("exports").ToObject(rt)
	if object == nil {
		return nil, errors.New("module exports must be an object")
	}
	return object, nil
}

func buildConsole(rt *goja.Runtime, logger observability.Logger) *goja.Object {
	if logger == nil {
		logger = observability.Log()
	}
	console := rt.NewObject()
	emit := func(level func(string, ...observability.Field)) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			level(joinArgs(call.Arguments))
			return goja.Undefined()
		}
	}
	_ = console.Set("log", emit(logger.Info))
	_ = console.Set("info", emit(logger.Info))
	_ = console.Set("warn", emit(logger.Warn))
	_ = console.Set("error", emit(logger.Error))
	return console
}

func joinArgs(args []goja.Value) string {
	var b strings.Builder
	for i, arg := range args {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(arg.String())
	}
	return b.String()
}
