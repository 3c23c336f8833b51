package jsengine

import (
	"context"
	"errors"
	"fmt"

	"github.com/dop251/goja"

	"github.com/wudi/pdfpreflight/engine"
)

var errCleanupRequested = errors.New("jsengine: cleanup requested")

// Page wraps a script-defined page object. The object must carry a
// getOperatorList function; getViewport and cleanup are optional. Page
// implements engine.PageHandle and engine.Cleaner.
type Page struct {
	vm  *VM
	obj *goja.Object
}

// Page evaluates a script whose completion value is a page object. The
// script shares the VM's global scope with anything executed before it, so
// an operator table loaded first stays visible to the page script.
func (v *VM) Page(ctx context.Context, script string) (*Page, error) {
	var obj *goja.Object
	_, err := v.run(ctx, func() (goja.Value, error) {
		val, err := v.rt.RunString(script)
		if err != nil {
			return nil, err
		}
		o, ok := val.(*goja.Object)
		if !ok {
			return nil, fmt.Errorf("page script: completion value is not an object")
		}
		if _, ok := goja.AssertFunction(o.Get("getOperatorList")); !ok {
			return nil, fmt.Errorf("page script: getOperatorList is not a function")
		}
		obj = o
		return val, nil
	})
	if err != nil {
		return nil, err
	}
	return &Page{vm: v, obj: obj}, nil
}

func (p *Page) GetOperatorList(ctx context.Context) (*engine.OperatorList, error) {
	val, err := p.vm.run(ctx, func() (goja.Value, error) {
		return p.invoke("getOperatorList")
	})
	if err != nil {
		return nil, err
	}
	return engine.AdaptOperatorList(val.Export())
}

func (p *Page) GetViewport(scale float64) (engine.Viewport, error) {
	val, err := p.vm.run(nil, func() (goja.Value, error) {
		return p.invoke("getViewport", p.vm.rt.ToValue(scale))
	})
	if err != nil {
		return engine.Viewport{}, err
	}
	return engine.AdaptViewport(val.Export())
}

// Cleanup interrupts any script still running against this page, then calls
// the page's cleanup function when it has one. Safe to call from a goroutine
// other than the one stuck in the script.
func (p *Page) Cleanup() error {
	p.vm.rt.Interrupt(errCleanupRequested)
	p.vm.mu.Lock()
	defer p.vm.mu.Unlock()
	p.vm.rt.ClearInterrupt()

	fn, ok := goja.AssertFunction(p.obj.Get("cleanup"))
	if !ok {
		return nil
	}
	if _, err := fn(p.obj); err != nil {
		return fmt.Errorf("page cleanup: %w", err)
	}
	return nil
}

// invoke looks up and calls a method on the page object. It must run on the
// runtime's execution path, inside VM.run.
func (p *Page) invoke(name string, args ...goja.Value) (goja.Value, error) {
	fn, ok := goja.AssertFunction(p.obj.Get(name))
	if !ok {
		return nil, fmt.Errorf("page script: %s is not a function", name)
	}
	return fn(p.obj, args...)
}
