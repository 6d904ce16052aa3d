package jsruntime

import "errors"

// RuntimeType represents the type of JavaScript runtime
type RuntimeType string

const (
	RuntimeQuickJS RuntimeType = "quickjs"
	RuntimeV8      RuntimeType = "v8"
)

// defaultRuntimeType is set by init() in the build-specific files
var defaultRuntimeType RuntimeType

// Runtime is a single JS interpreter with the SSR bundle preloaded.
// At most one render may execute on a Runtime at a time; the Pool's lease
// enforces that.
type Runtime interface {
	// Render invokes the bundle's global render(url, propsJson,
	// requestContextJson) under a terminating watchdog. timeoutMs of 0
	// disables the watchdog.
	Render(url, propsJSON, requestContextJSON string, timeoutMs uint64) (string, error)
	// Close permanently destroys the runtime.
	Close()
}

// Factory constructs a fresh Runtime with the bundle preloaded. The pool
// uses it both at construction and on the recycle path.
type Factory func() (Runtime, error)

// BridgeRequest is the JSON payload a bundle passes to hydra.fetch.
type BridgeRequest struct {
	Method  string            `json:"method"`
	Path    string            `json:"path"`
	Query   string            `json:"query"`
	Body    string            `json:"body"`
	Headers map[string]string `json:"headers"`
}

// BridgeResponse is the JSON payload returned to the bundle.
type BridgeResponse struct {
	Status  int               `json:"status"`
	Body    string            `json:"body"`
	Headers map[string]string `json:"headers"`
}

// BridgeFunc handles a synchronous server-side fetch issued by the bundle.
type BridgeFunc func(BridgeRequest) BridgeResponse

// ErrAcquireTimeout is returned when the pool stays saturated for the whole
// bounded wait. The message doubles as the sentinel the pipeline counts.
var ErrAcquireTimeout = errors.New("Timed out waiting for available SSR runtime")

// RenderTimeoutSentinel appears in every watchdog-termination error.
const RenderTimeoutSentinel = "SSR render exceeded timeout"

// DefaultRuntimeType returns the runtime type for this build
func DefaultRuntimeType() RuntimeType {
	return defaultRuntimeType
}
