// Package jsengine runs pdf.js-flavored scripts in an embedded JavaScript
// interpreter and adapts what they return to the engine contracts consumed
// by preflight analysis. A VM is safe for concurrent use; script execution
// is serialized because the underlying runtime is single threaded.
package jsengine

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/dop251/goja"

	"github.com/wudi/pdfpreflight/engine"
)

type VM struct {
	mu sync.Mutex
	rt *goja.Runtime
}

func New() *VM {
	return &VM{rt: goja.New()}
}

// Execute runs a script and exports its completion value. Cancelling ctx
// interrupts the interpreter mid-script.
func (v *VM) Execute(ctx context.Context, script string) (interface{}, error) {
	val, err := v.run(ctx, func() (goja.Value, error) {
		return v.rt.RunString(script)
	})
	if err != nil {
		return nil, err
	}
	return val.Export(), nil
}

// OperatorTable evaluates a script whose completion value is an object
// mapping operator names to numeric ids, the shape of pdf.js's OPS constant.
func (v *VM) OperatorTable(ctx context.Context, script string) (engine.OperatorTable, error) {
	out, err := v.Execute(ctx, script)
	if err != nil {
		return nil, err
	}
	raw, ok := out.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("operator table script: completion value is not an object")
	}
	table := make(engine.OperatorTable, len(raw))
	for name, id := range raw {
		f, ok := engine.Number(id)
		if !ok || math.IsInf(f, 0) || f != math.Trunc(f) {
			return nil, fmt.Errorf("operator table script: %q is not an integer id", name)
		}
		table[name] = int(f)
	}
	return table, nil
}

// run serializes access to the runtime and wires ctx cancellation to the
// interpreter's interrupt flag. fn must be the only code touching the
// runtime while it executes.
func (v *VM) run(ctx context.Context, fn func() (goja.Value, error)) (goja.Value, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	done := make(chan struct{})
	defer close(done)
	defer v.rt.ClearInterrupt()

	go func() {
		select {
		case <-ctx.Done():
			v.rt.Interrupt(ctx.Err())
		case <-done:
		}
	}()

	val, err := fn()
	if err != nil {
		if interruptedErr, ok := err.(*goja.InterruptedError); ok {
			if cause := interruptedErr.Unwrap(); cause != nil {
				return nil, cause
			}
			return nil, context.Canceled
		}
		return nil, err
	}
	return val, nil
}
