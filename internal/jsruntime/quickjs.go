//go:build use_quickjs

package jsruntime

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/buke/quickjs-go"
)

func init() {
	defaultRuntimeType = RuntimeQuickJS
}

// newRuntime creates the default runtime for this build
func newRuntime(bundlePath string, bridge BridgeFunc) (Runtime, error) {
	return NewQuickJSRuntime(bundlePath, bridge)
}

// QuickJSRuntime binds one QuickJS context to one SSR bundle. The watchdog
// uses the engine interrupt handler instead of V8's TerminateExecution; the
// handler trips when the deadline flag is set.
type QuickJSRuntime struct {
	runtime   *quickjs.Runtime
	context   *quickjs.Context
	bridge    BridgeFunc
	terminate atomic.Bool
	mu        sync.Mutex
}

// NewQuickJSRuntime loads the bundle into a fresh QuickJS context.
func NewQuickJSRuntime(bundlePath string, bridge BridgeFunc) (*QuickJSRuntime, error) {
	source, err := os.ReadFile(bundlePath)
	if err != nil {
		return nil, fmt.Errorf("unable to open SSR bundle %s: %w", bundlePath, err)
	}

	rt := quickjs.NewRuntime()
	ctx := rt.NewContext()
	runtime := &QuickJSRuntime{runtime: rt, context: ctx, bridge: bridge}

	rt.SetInterruptHandler(func() int {
		if runtime.terminate.Load() {
			return 1
		}
		return 0
	})

	fetch := ctx.Function(func(c *quickjs.Context, this quickjs.Value, args []quickjs.Value) quickjs.Value {
		requestJSON := "{}"
		if len(args) > 0 {
			requestJSON = args[0].String()
		}
		return c.String(dispatchBridge(runtime.bridge, requestJSON))
	})
	ctx.Globals().Set("__hydraFetch", fetch)

	if err := runtime.eval(bootstrapScript); err != nil {
		runtime.Close()
		return nil, fmt.Errorf("failed to run QuickJS bootstrap script: %w", err)
	}
	if err := runtime.eval(string(source)); err != nil {
		runtime.Close()
		return nil, fmt.Errorf("failed to run SSR bundle: %w", err)
	}

	return runtime, nil
}

func (q *QuickJSRuntime) eval(code string) error {
	res := q.context.Eval(code)
	defer res.Free()
	if res.IsException() {
		return res.Error()
	}
	return nil
}

// Render calls the bundle's global render function. Arguments cross into JS
// through reserved globals so no JSON ever needs escaping into source text.
func (q *QuickJSRuntime) Render(url, propsJSON, requestContextJSON string, timeoutMs uint64) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	globals := q.context.Globals()
	renderValue := globals.Get("render")
	defer renderValue.Free()
	if !renderValue.IsFunction() {
		return "", fmt.Errorf("SSR bundle missing globalThis.render(url, propsJson, requestContextJson)")
	}

	globals.Set("__hydra_url", q.context.String(url))
	globals.Set("__hydra_props", q.context.String(propsJSON))
	globals.Set("__hydra_ctx", q.context.String(requestContextJSON))

	q.terminate.Store(false)
	var timer *time.Timer
	if timeoutMs > 0 {
		timer = time.AfterFunc(time.Duration(timeoutMs)*time.Millisecond, func() {
			q.terminate.Store(true)
		})
	}

	res := q.context.Eval(`render(__hydra_url, __hydra_props, __hydra_ctx)`)
	defer res.Free()
	if timer != nil {
		timer.Stop()
	}

	if q.terminate.Load() {
		return "", fmt.Errorf("%s of %dms", RenderTimeoutSentinel, timeoutMs)
	}
	if res.IsException() {
		return "", fmt.Errorf("SSR render threw exception: %s", res.Error())
	}
	return res.String(), nil
}

// Close permanently destroys the runtime.
func (q *QuickJSRuntime) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.context != nil {
		q.context.Close()
		q.context = nil
	}
	if q.runtime != nil {
		q.runtime.Close()
		q.runtime = nil
	}
}
