//go:build !use_quickjs

package jsruntime

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeBundle(t *testing.T, source string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ssr-bundle.js")
	require.NoError(t, os.WriteFile(path, []byte(source), 0o644))
	return path
}

func TestV8RuntimeRendersString(t *testing.T) {
	bundle := writeBundle(t, `globalThis.render = function (url, propsJson, requestContextJson) {
		return "<p>" + url + "</p>";
	};`)
	runtime, err := NewV8Runtime(bundle, nil)
	require.NoError(t, err)
	defer runtime.Close()

	html, err := runtime.Render("/home", "{}", "{}", 1000)
	require.NoError(t, err)
	assert.Equal(t, "<p>/home</p>", html)
}

func TestV8RuntimeReceivesPropsAndContext(t *testing.T) {
	bundle := writeBundle(t, `globalThis.render = function (url, propsJson, requestContextJson) {
		var props = JSON.parse(propsJson);
		var ctx = JSON.parse(requestContextJson);
		return props.title + "|" + ctx.locale;
	};`)
	runtime, err := NewV8Runtime(bundle, nil)
	require.NoError(t, err)
	defer runtime.Close()

	out, err := runtime.Render("/", `{"title":"Hi"}`, `{"locale":"en"}`, 1000)
	require.NoError(t, err)
	assert.Equal(t, "Hi|en", out)
}

func TestV8RuntimeMissingRenderEntry(t *testing.T) {
	bundle := writeBundle(t, `globalThis.somethingElse = 1;`)
	runtime, err := NewV8Runtime(bundle, nil)
	require.NoError(t, err)
	defer runtime.Close()

	_, err = runtime.Render("/", "{}", "{}", 1000)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing globalThis.render")
}

func TestV8RuntimeJSExceptionIsReported(t *testing.T) {
	bundle := writeBundle(t, `globalThis.render = function () { throw new Error("kaboom"); };`)
	runtime, err := NewV8Runtime(bundle, nil)
	require.NoError(t, err)
	defer runtime.Close()

	_, err = runtime.Render("/", "{}", "{}", 1000)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SSR render threw exception")
	assert.Contains(t, err.Error(), "kaboom")
}

func TestV8RuntimeWatchdogTerminatesInfiniteLoop(t *testing.T) {
	bundle := writeBundle(t, `globalThis.render = function () { while (true) {} };`)
	runtime, err := NewV8Runtime(bundle, nil)
	require.NoError(t, err)
	defer runtime.Close()

	start := time.Now()
	_, err = runtime.Render("/", "{}", "{}", 25)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "SSR render exceeded timeout of 25ms")
	assert.Less(t, elapsed, 2*time.Second)
}

func TestV8RuntimeBrokenBundleFailsConstruction(t *testing.T) {
	bundle := writeBundle(t, `this is not javascript {{{`)
	_, err := NewV8Runtime(bundle, nil)
	require.Error(t, err)
}

func TestV8RuntimeMissingBundleFailsConstruction(t *testing.T) {
	_, err := NewV8Runtime(filepath.Join(t.TempDir(), "missing.js"), nil)
	require.Error(t, err)
}

func TestV8RuntimeBridgeRoundTrip(t *testing.T) {
	bundle := writeBundle(t, `globalThis.render = function () {
		var res = globalThis.hydra.fetch({ method: "GET", path: "/hydra/internal/health" });
		return String(res.status) + ":" + res.body;
	};`)
	bridge := func(request BridgeRequest) BridgeResponse {
		if request.Path == "/hydra/internal/health" {
			return BridgeResponse{Status: 200, Body: "ok"}
		}
		return BridgeResponse{Status: 404}
	}
	runtime, err := NewV8Runtime(bundle, bridge)
	require.NoError(t, err)
	defer runtime.Close()

	out, err := runtime.Render("/", "{}", "{}", 1000)
	require.NoError(t, err)
	assert.Equal(t, "200:ok", out)
}

func TestV8RuntimeBridgeUnconfigured(t *testing.T) {
	bundle := writeBundle(t, `globalThis.render = function () {
		var res = globalThis.hydra.fetch({ method: "GET", path: "/x" });
		return String(res.status);
	};`)
	runtime, err := NewV8Runtime(bundle, nil)
	require.NoError(t, err)
	defer runtime.Close()

	out, err := runtime.Render("/", "{}", "{}", 1000)
	require.NoError(t, err)
	assert.Equal(t, "501", out)
}

func TestV8RuntimeBootstrapPolyfills(t *testing.T) {
	bundle := writeBundle(t, `globalThis.render = function () {
		return [
			typeof global !== "undefined",
			typeof self !== "undefined",
			process.env.NODE_ENV,
			typeof TextEncoder,
			typeof queueMicrotask,
			typeof setTimeout,
		].join(",");
	};`)
	runtime, err := NewV8Runtime(bundle, nil)
	require.NoError(t, err)
	defer runtime.Close()

	out, err := runtime.Render("/", "{}", "{}", 1000)
	require.NoError(t, err)
	assert.Equal(t, "true,true,production,function,function,function", out)
}
