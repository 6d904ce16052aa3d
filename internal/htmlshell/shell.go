// Package htmlshell wraps SSR fragments in the canonical HTML5 document
// and renders the engine's error page.
package htmlshell

import (
	"fmt"
	"strings"
)

// Assets carries everything the shell needs to emit stylesheet, client
// script, HMR and auto-reload tags.
type Assets struct {
	CSSPath             string
	ClientJSPath        string
	HMRClientPath       string
	ScriptNonce         string
	ClientJSModule      bool
	DevReloadProbePath  string
	DevReloadIntervalMs uint64
}

// Wrap produces the full document around the rendered fragment. Props are
// embedded as escaped JSON for client hydration.
func Wrap(appHTML, propsJSON string, assets Assets) string {
	nonceAttr := ""
	if assets.ScriptNonce != "" {
		nonceAttr = fmt.Sprintf(" nonce=%q", assets.ScriptNonce)
	}

	var html strings.Builder
	html.Grow(len(appHTML) + len(propsJSON) + 1024)
	html.WriteString("<!doctype html>\n")
	html.WriteString("<html lang=\"en\">\n")
	html.WriteString("  <head>\n")
	html.WriteString("    <meta charset=\"utf-8\" />\n")
	html.WriteString("    <meta name=\"viewport\" content=\"width=device-width, initial-scale=1\" />\n")
	html.WriteString("    <title>HydraStack</title>\n")
	if assets.CSSPath != "" {
		fmt.Fprintf(&html, "    <link rel=\"stylesheet\" href=%q />\n", assets.CSSPath)
	}
	html.WriteString("  </head>\n")
	html.WriteString("  <body>\n")
	html.WriteString("    <div id=\"root\">")
	html.WriteString(appHTML)
	html.WriteString("</div>\n")
	fmt.Fprintf(&html, "    <script id=\"__HYDRA_PROPS__\" type=\"application/json\"%s>", nonceAttr)
	html.WriteString(EscapeForScriptTag(propsJSON))
	html.WriteString("</script>\n")

	// Vite's React plugin refuses to run unless the refresh runtime is
	// registered before any module executes.
	if refreshPath, ok := reactRefreshPath(assets.HMRClientPath); ok {
		fmt.Fprintf(&html, "    <script type=\"module\"%s>\n", nonceAttr)
		fmt.Fprintf(&html, "      import RefreshRuntime from %q;\n", refreshPath)
		html.WriteString("      RefreshRuntime.injectIntoGlobalHook(window);\n")
		html.WriteString("      window.$RefreshReg$ = () => {};\n")
		html.WriteString("      window.$RefreshSig$ = () => (type) => type;\n")
		html.WriteString("      window.__vite_plugin_react_preamble_installed__ = true;\n")
		html.WriteString("    </script>\n")
	}
	if assets.HMRClientPath != "" {
		fmt.Fprintf(&html, "    <script type=\"module\" src=%q%s></script>\n", assets.HMRClientPath, nonceAttr)
	}
	if assets.ClientJSPath != "" {
		if assets.ClientJSModule {
			fmt.Fprintf(&html, "    <script type=\"module\" src=%q%s></script>\n", assets.ClientJSPath, nonceAttr)
		} else {
			fmt.Fprintf(&html, "    <script src=%q defer%s></script>\n", assets.ClientJSPath, nonceAttr)
		}
	}
	if assets.DevReloadProbePath != "" && assets.DevReloadIntervalMs > 0 {
		writeReloadPoller(&html, assets.DevReloadProbePath, assets.DevReloadIntervalMs, nonceAttr)
	}

	html.WriteString("  </body>\n")
	html.WriteString("</html>\n")
	return html.String()
}

// writeReloadPoller emits the inline dev script that polls the reload probe
// and reloads the page when the server's start stamp changes.
func writeReloadPoller(html *strings.Builder, probePath string, intervalMs uint64, nonceAttr string) {
	fmt.Fprintf(html, "    <script%s>\n", nonceAttr)
	html.WriteString("      (function () {\n")
	fmt.Fprintf(html, "        var probe = %q;\n", probePath)
	fmt.Fprintf(html, "        var interval = %d;\n", intervalMs)
	html.WriteString("        var stamp = null;\n")
	html.WriteString("        function poll() {\n")
	html.WriteString("          fetch(probe, { cache: \"no-store\" })\n")
	html.WriteString("            .then(function (res) { return res.json(); })\n")
	html.WriteString("            .then(function (body) {\n")
	html.WriteString("              if (stamp === null) { stamp = body.process_started_ms; return; }\n")
	html.WriteString("              if (body.process_started_ms !== stamp) { window.location.reload(); }\n")
	html.WriteString("            })\n")
	html.WriteString("            .catch(function () {});\n")
	html.WriteString("        }\n")
	html.WriteString("        setInterval(poll, interval);\n")
	html.WriteString("      })();\n")
	html.WriteString("    </script>\n")
}

// ErrorPage renders the failure document returned with 500 responses.
func ErrorPage(message string) string {
	var html strings.Builder
	html.WriteString("<!doctype html>\n")
	html.WriteString("<html lang=\"en\">\n")
	html.WriteString("  <head><meta charset=\"utf-8\" /><title>HydraStack Error</title></head>\n")
	html.WriteString("  <body>\n")
	html.WriteString("    <h1>HydraStack SSR Error</h1>\n")
	html.WriteString("    <pre>")
	html.WriteString(EscapeForScriptTag(message))
	html.WriteString("</pre>\n")
	html.WriteString("  </body>\n")
	html.WriteString("</html>\n")
	return html.String()
}

// EscapeForScriptTag makes arbitrary text safe inside <script> bodies by
// escaping <, > and & as JSON unicode escapes.
func EscapeForScriptTag(value string) string {
	var escaped strings.Builder
	escaped.Grow(len(value))
	for _, ch := range []byte(value) {
		switch ch {
		case '<':
			escaped.WriteString("\\u003c")
		case '>':
			escaped.WriteString("\\u003e")
		case '&':
			escaped.WriteString("\\u0026")
		default:
			escaped.WriteByte(ch)
		}
	}
	return escaped.String()
}

// reactRefreshPath derives /@react-refresh from a Vite HMR client path.
func reactRefreshPath(hmrClientPath string) (string, bool) {
	const viteClient = "/@vite/client"
	if !strings.HasSuffix(hmrClientPath, viteClient) {
		return "", false
	}
	return strings.TrimSuffix(hmrClientPath, viteClient) + "/@react-refresh", true
}
