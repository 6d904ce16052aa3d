//go:build !use_quickjs

package jsruntime

import (
	"fmt"
	"os"
	"sync"
	"time"

	v8 "rogchap.com/v8go"
)

func init() {
	defaultRuntimeType = RuntimeV8
}

// newRuntime creates the default runtime for this build
func newRuntime(bundlePath string, bridge BridgeFunc) (Runtime, error) {
	return NewV8Runtime(bundlePath, bridge)
}

// V8Runtime binds one V8 isolate to one SSR bundle. The bundle and the
// bootstrap run once at construction; renders reuse the persisted global
// scope.
type V8Runtime struct {
	isolate *v8.Isolate
	context *v8.Context
	bridge  BridgeFunc
	mu      sync.Mutex
}

// NewV8Runtime loads the bundle into a fresh isolate. Any failure disposes
// the isolate before returning.
func NewV8Runtime(bundlePath string, bridge BridgeFunc) (*V8Runtime, error) {
	source, err := os.ReadFile(bundlePath)
	if err != nil {
		return nil, fmt.Errorf("unable to open SSR bundle %s: %w", bundlePath, err)
	}

	isolate := v8.NewIsolate()
	runtime := &V8Runtime{isolate: isolate, bridge: bridge}

	fetchTemplate := v8.NewFunctionTemplate(isolate, func(info *v8.FunctionCallbackInfo) *v8.Value {
		requestJSON := "{}"
		if args := info.Args(); len(args) > 0 {
			requestJSON = args[0].String()
		}
		responseJSON := dispatchBridge(runtime.bridge, requestJSON)
		value, err := v8.NewValue(isolate, responseJSON)
		if err != nil {
			value, _ = v8.NewValue(isolate, `{"status":500,"body":"Hydra runtime unavailable"}`)
		}
		return value
	})

	global := v8.NewObjectTemplate(isolate)
	if err := global.Set("__hydraFetch", fetchTemplate); err != nil {
		isolate.Dispose()
		return nil, fmt.Errorf("failed to install Hydra API bridge function: %w", err)
	}

	context := v8.NewContext(isolate, global)
	runtime.context = context

	if _, err := context.RunScript(bootstrapScript, "hydra-bootstrap.js"); err != nil {
		context.Close()
		isolate.Dispose()
		return nil, fmt.Errorf("failed to run V8 bootstrap script: %s", formatJSError(err))
	}
	if _, err := context.RunScript(string(source), bundlePath); err != nil {
		context.Close()
		isolate.Dispose()
		return nil, fmt.Errorf("failed to run SSR bundle: %s", formatJSError(err))
	}

	return runtime, nil
}

// Render calls the bundle's global render function under a terminating
// watchdog. After the watchdog fires the isolate's state is undefined, so
// the caller must recycle this runtime.
func (r *V8Runtime) Render(url, propsJSON, requestContextJSON string, timeoutMs uint64) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	renderValue, err := r.context.Global().Get("render")
	if err != nil || renderValue == nil || !renderValue.IsFunction() {
		return "", fmt.Errorf("SSR bundle missing globalThis.render(url, propsJson, requestContextJson)")
	}
	renderFunc, err := renderValue.AsFunction()
	if err != nil {
		return "", fmt.Errorf("SSR bundle missing globalThis.render(url, propsJson, requestContextJson)")
	}

	args := make([]v8.Valuer, 0, 3)
	for _, raw := range []string{url, propsJSON, requestContextJSON} {
		value, err := v8.NewValue(r.isolate, raw)
		if err != nil {
			return "", fmt.Errorf("unable to allocate V8 string: %w", err)
		}
		args = append(args, value)
	}

	watchdog := armWatchdog(r.isolate, timeoutMs)
	result, err := renderFunc.Call(v8.Undefined(r.isolate), args...)
	fired := watchdog.stop()

	if fired {
		return "", fmt.Errorf("%s of %dms", RenderTimeoutSentinel, timeoutMs)
	}
	if err != nil {
		return "", fmt.Errorf("SSR render threw exception: %s", formatJSError(err))
	}
	if result == nil {
		return "", fmt.Errorf("SSR render did not return a string")
	}
	return result.String(), nil
}

// Close permanently destroys the runtime.
func (r *V8Runtime) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.context != nil {
		r.context.Close()
		r.context = nil
	}
	if r.isolate != nil {
		r.isolate.Dispose()
		r.isolate = nil
	}
}

// watchdog terminates isolate execution when the deadline elapses before
// the render signals completion.
type watchdog struct {
	done   chan struct{}
	exited chan struct{}
	fired  bool
}

func armWatchdog(isolate *v8.Isolate, timeoutMs uint64) *watchdog {
	w := &watchdog{done: make(chan struct{}), exited: make(chan struct{})}
	if timeoutMs == 0 {
		close(w.exited)
		return w
	}

	timer := time.NewTimer(time.Duration(timeoutMs) * time.Millisecond)
	go func() {
		defer close(w.exited)
		defer timer.Stop()
		select {
		case <-w.done:
		case <-timer.C:
			w.fired = true
			isolate.TerminateExecution()
		}
	}()
	return w
}

// stop signals completion and waits for the watchdog to exit, then reports
// whether it terminated execution.
func (w *watchdog) stop() bool {
	close(w.done)
	<-w.exited
	return w.fired
}

func formatJSError(err error) string {
	jsErr, ok := err.(*v8.JSError)
	if !ok {
		return err.Error()
	}
	if jsErr.Location != "" {
		return fmt.Sprintf("%s (%s)", jsErr.Message, jsErr.Location)
	}
	return jsErr.Message
}
