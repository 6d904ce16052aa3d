package jsruntime

// NewFactory returns a Factory producing runtimes of this build's backend,
// each preloading the bundle at bundlePath and dispatching hydra.fetch to
// bridge. bridge may be nil; the bundle then receives 501 responses.
func NewFactory(bundlePath string, bridge BridgeFunc) Factory {
	return func() (Runtime, error) {
		return newRuntime(bundlePath, bridge)
	}
}
