package assets

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "manifest.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestResolveExplicitEntryWithCSS(t *testing.T) {
	path := writeManifest(t, `{
		"src/entry-client.tsx": {"file":"assets/client-abc.js","css":["assets/app-def.css"],"isEntry":true}
	}`)

	resolved, err := ResolveFromManifest(path, "/assets", "src/entry-client.tsx")
	require.NoError(t, err)
	assert.Equal(t, "/assets/client-abc.js", resolved.ClientJSPath)
	assert.Equal(t, "/assets/app-def.css", resolved.CSSPath)
}

func TestResolveFallsBackToEntryClientKey(t *testing.T) {
	path := writeManifest(t, `{
		"src/other/entry-client.ts": {"file":"assets/web-client.js","isEntry":true}
	}`)

	resolved, err := ResolveFromManifest(path, "/assets", "src/entry-client.tsx")
	require.NoError(t, err)
	assert.Equal(t, "/assets/web-client.js", resolved.ClientJSPath)
}

func TestResolveFallsBackToFirstJSEntry(t *testing.T) {
	path := writeManifest(t, `{
		"src/main.tsx": {"file":"assets/main-xyz.js","isEntry":true},
		"src/lib.ts": {"file":"assets/lib.js"}
	}`)

	resolved, err := ResolveFromManifest(path, "/assets", "src/entry-client.tsx")
	require.NoError(t, err)
	assert.Equal(t, "/assets/main-xyz.js", resolved.ClientJSPath)
}

func TestResolveCSSFromImports(t *testing.T) {
	path := writeManifest(t, `{
		"src/entry-client.tsx": {"file":"assets/client.js","isEntry":true,"imports":["_shared.js"]},
		"_shared.js": {"file":"assets/shared.js","css":["assets/shared.css"]}
	}`)

	resolved, err := ResolveFromManifest(path, "/assets", "src/entry-client.tsx")
	require.NoError(t, err)
	assert.Equal(t, "/assets/shared.css", resolved.CSSPath)
}

func TestResolveCSSFromStyleCSSEntry(t *testing.T) {
	path := writeManifest(t, `{
		"src/entry-client.tsx": {"file":"assets/client.js","isEntry":true},
		"style.css": {"file":"assets/style-123.css"}
	}`)

	resolved, err := ResolveFromManifest(path, "/assets", "src/entry-client.tsx")
	require.NoError(t, err)
	assert.Equal(t, "/assets/style-123.css", resolved.CSSPath)
}

func TestResolveCSSFromAnyCSSFile(t *testing.T) {
	path := writeManifest(t, `{
		"src/entry-client.tsx": {"file":"assets/client.js","isEntry":true},
		"src/a.css": {"file":"assets/a-1.css"}
	}`)

	resolved, err := ResolveFromManifest(path, "/assets", "src/entry-client.tsx")
	require.NoError(t, err)
	assert.Equal(t, "/assets/a-1.css", resolved.CSSPath)
}

func TestResolveMissingManifestIsSoftError(t *testing.T) {
	_, err := ResolveFromManifest(filepath.Join(t.TempDir(), "nope.json"), "/assets", "src/entry-client.tsx")
	require.Error(t, err)
}

func TestResolveNoClientEntry(t *testing.T) {
	path := writeManifest(t, `{"style.css": {"file":"assets/style.css"}}`)
	_, err := ResolveFromManifest(path, "/assets", "src/entry-client.tsx")
	require.Error(t, err)
}

func TestPublicAssetPathNormalization(t *testing.T) {
	assert.Equal(t, "/abs/file.js", toPublicAssetPath("/abs/file.js", "/assets"))
	assert.Equal(t, "/assets/file.js", toPublicAssetPath("assets/file.js", "/assets"))
	assert.Equal(t, "/assets/file.js", toPublicAssetPath("./file.js", "/assets"))
	assert.Equal(t, "/static/file.js", toPublicAssetPath("file.js", "static"))
	assert.Equal(t, "", toPublicAssetPath("", "/assets"))
}

func TestNormalizePublicPrefix(t *testing.T) {
	assert.Equal(t, "/assets", NormalizePublicPrefix(""))
	assert.Equal(t, "/static", NormalizePublicPrefix("static/"))
	assert.Equal(t, "/a/b", NormalizePublicPrefix("/a/b//"))
}

func TestBrowserPathHelpers(t *testing.T) {
	assert.Equal(t, "/src/main.tsx", NormalizeBrowserPath("src/main.tsx"))
	assert.Equal(t, "/already", NormalizeBrowserPath("/already"))
	assert.Equal(t, "http://x/y", NormalizeBrowserPath("http://x/y"))
	assert.Equal(t, "http://localhost:5173/src/app.css", JoinOriginAndPath("http://localhost:5173/", "src/app.css"))
	assert.Equal(t, "/src/app.css", JoinOriginAndPath("", "src/app.css"))
}
