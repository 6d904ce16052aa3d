package htmlshell

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapBasicDocument(t *testing.T) {
	html := Wrap("<p>Hi</p>", `{"a":1}`, Assets{
		CSSPath:      "/a.css",
		ClientJSPath: "/c.js",
		ScriptNonce:  "NONCE123",
	})

	assert.True(t, strings.HasPrefix(html, "<!doctype html>"))
	assert.Contains(t, html, `<html lang="en">`)
	assert.Contains(t, html, `<meta name="viewport"`)
	assert.Contains(t, html, `<link rel="stylesheet" href="/a.css" />`)
	assert.Contains(t, html, `<div id="root"><p>Hi</p></div>`)
	assert.Contains(t, html, `<script id="__HYDRA_PROPS__" type="application/json" nonce="NONCE123">{"a":1}</script>`)
	assert.Contains(t, html, `<script src="/c.js" defer nonce="NONCE123"></script>`)
}

func TestWrapWithoutNonceOmitsAttribute(t *testing.T) {
	html := Wrap("<p>Hi</p>", "{}", Assets{ClientJSPath: "/c.js"})
	assert.NotContains(t, html, "nonce=")
	assert.Contains(t, html, `<script src="/c.js" defer></script>`)
}

func TestWrapModuleClientScript(t *testing.T) {
	html := Wrap("<p>Hi</p>", "{}", Assets{ClientJSPath: "/src/entry-client.tsx", ClientJSModule: true})
	assert.Contains(t, html, `<script type="module" src="/src/entry-client.tsx"></script>`)
	assert.NotContains(t, html, "defer")
}

func TestWrapOmitsEmptyAssets(t *testing.T) {
	html := Wrap("<p>Hi</p>", "{}", Assets{})
	assert.NotContains(t, html, "stylesheet")
	assert.NotContains(t, html, "<script src=")
}

func TestWrapInjectsViteHMRAndReactRefresh(t *testing.T) {
	html := Wrap("<p>Hi</p>", "{}", Assets{
		ClientJSPath:   "/src/entry-client.tsx",
		ClientJSModule: true,
		HMRClientPath:  "/@vite/client",
	})

	assert.Contains(t, html, `import RefreshRuntime from "/@react-refresh";`)
	assert.Contains(t, html, "window.__vite_plugin_react_preamble_installed__ = true;")
	assert.Contains(t, html, `<script type="module" src="/@vite/client"></script>`)
	// The refresh preamble must come before the HMR client tag.
	assert.Less(t,
		strings.Index(html, "RefreshRuntime"),
		strings.Index(html, `src="/@vite/client"`))
}

func TestWrapNonViteHMRClientSkipsRefreshPreamble(t *testing.T) {
	html := Wrap("<p>Hi</p>", "{}", Assets{HMRClientPath: "/custom/hmr.js"})
	assert.NotContains(t, html, "RefreshRuntime")
	assert.Contains(t, html, `<script type="module" src="/custom/hmr.js"></script>`)
}

func TestWrapReloadPoller(t *testing.T) {
	html := Wrap("<p>Hi</p>", "{}", Assets{
		DevReloadProbePath:  "/hydra/internal/dev-reload",
		DevReloadIntervalMs: 1500,
	})

	assert.Contains(t, html, `var probe = "/hydra/internal/dev-reload";`)
	assert.Contains(t, html, "var interval = 1500;")
	assert.Contains(t, html, "process_started_ms")
	assert.Contains(t, html, "window.location.reload()")
}

func TestWrapReloadPollerRequiresBothSettings(t *testing.T) {
	html := Wrap("<p>Hi</p>", "{}", Assets{DevReloadProbePath: "/probe"})
	assert.NotContains(t, html, "window.location.reload()")
}

func TestEscapeForScriptTag(t *testing.T) {
	assert.Equal(t, `\u003cscript\u003e`, EscapeForScriptTag("<script>"))
	assert.Equal(t, `a \u0026 b`, EscapeForScriptTag("a & b"))
	assert.Equal(t, "plain", EscapeForScriptTag("plain"))
}

func TestPropsAreEscapedInsideScriptBody(t *testing.T) {
	html := Wrap("<p>x</p>", `{"v":"</script><script>alert(1)"}`, Assets{})
	assert.NotContains(t, html, `"v":"</script>`)
	assert.Contains(t, html, `\u003c/script\u003e\u003cscript\u003ealert(1)`)
}

func TestErrorPage(t *testing.T) {
	html := ErrorPage("boom <tag>")
	assert.True(t, strings.HasPrefix(html, "<!doctype html>"))
	assert.Contains(t, html, "HydraStack SSR Error")
	assert.Contains(t, html, `boom \u003ctag\u003e`)
	assert.NotContains(t, html, "<tag>")
}
