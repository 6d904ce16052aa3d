package hydra

import (
	"errors"
	"fmt"
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

func prodConfigJSON(t *testing.T, extra string) []byte {
	manifest := writeManifest(t, `{"src/entry-client.tsx":{"file":"assets/client-abc.js","isEntry":true}}`)
	if extra != "" {
		extra = "," + extra
	}
	return []byte(fmt.Sprintf(`{"asset_manifest_path":%q%s}`, manifest, extra))
}

func TestParseConfigDefaults(t *testing.T) {
	cfg, err := ParseConfig(prodConfigJSON(t, ""))
	require.NoError(t, err)

	assert.Equal(t, "./public/assets/ssr-bundle.js", cfg.SSRBundlePath)
	assert.Equal(t, "/assets", cfg.AssetPublicPrefix)
	assert.Equal(t, "src/entry-client.tsx", cfg.ClientManifestEntry)
	assert.Equal(t, uint64(0), cfg.AcquireTimeoutMs)
	assert.Equal(t, uint64(50), cfg.RenderTimeoutMs)
	assert.Equal(t, 0, cfg.PoolSize)
	assert.True(t, cfg.WrapFragment)
	assert.False(t, cfg.DevModeEnabled)
	assert.False(t, cfg.APIBridgeEnabled, "bridge mirrors dev mode by default")
	assert.Equal(t, map[string]bool{"GET": true, "POST": true}, cfg.APIBridgeAllowedMethods)
	assert.Equal(t, []string{"/hydra/internal/"}, cfg.APIBridgeAllowedPathPrefixes)
	assert.Equal(t, 64*1024, cfg.APIBridgeMaxBodyBytes)
	assert.Equal(t, "en", cfg.I18nDefaultLocale)
	assert.Equal(t, "lang", cfg.I18nQueryParam)
	assert.Equal(t, "hydra_lang", cfg.I18nCookieName)
	assert.Equal(t, []string{"en"}, cfg.I18nSupportedLocales)
	assert.Equal(t, "ocean", cfg.ThemeDefault)
	assert.Equal(t, "theme", cfg.ThemeQueryParam)
	assert.Equal(t, "hydra_theme", cfg.ThemeCookieName)
	assert.True(t, cfg.LogRenderMetrics)
	assert.False(t, cfg.LogRequestRoutes, "route logs mirror dev mode")
	assert.Equal(t, AssetModeProd, cfg.ResolvedAssetMode())
}

func TestParseConfigRejectsUnknownDevModeKey(t *testing.T) {
	_, err := ParseConfig([]byte(`{"dev_mode":{"enabled":true,"vite_orign":"http://localhost:5173"}}`))
	require.Error(t, err)

	var configErr *ConfigError
	require.True(t, errors.As(err, &configErr))
	assert.Equal(t, "dev_mode.vite_orign", configErr.Key)
}

func TestParseConfigRenderTimeoutRange(t *testing.T) {
	_, err := ParseConfig(prodConfigJSON(t, `"render_timeout_ms":0`))
	require.Error(t, err)

	_, err = ParseConfig(prodConfigJSON(t, `"render_timeout_ms":120001`))
	require.Error(t, err)

	cfg, err := ParseConfig(prodConfigJSON(t, `"render_timeout_ms":120000`))
	require.NoError(t, err)
	assert.Equal(t, uint64(120000), cfg.RenderTimeoutMs)
}

func TestParseConfigAcquireTimeoutRange(t *testing.T) {
	_, err := ParseConfig(prodConfigJSON(t, `"acquire_timeout_ms":300001`))
	require.Error(t, err)

	cfg, err := ParseConfig(prodConfigJSON(t, `"acquire_timeout_ms":300000`))
	require.NoError(t, err)
	assert.Equal(t, uint64(300000), cfg.AcquireTimeoutMs)
}

func TestParseConfigAssetModeValues(t *testing.T) {
	_, err := ParseConfig(prodConfigJSON(t, `"asset_mode":"banana"`))
	require.Error(t, err)

	cfg, err := ParseConfig([]byte(`{"asset_mode":"dev"}`))
	require.NoError(t, err)
	assert.True(t, cfg.DevModeEnabled)
	assert.True(t, cfg.APIBridgeEnabled)
	assert.True(t, cfg.LogRequestRoutes)

	cfg, err = ParseConfig(prodConfigJSON(t, `"asset_mode":"prod","dev_mode":{"enabled":true}`))
	require.NoError(t, err)
	assert.False(t, cfg.DevModeEnabled, "explicit prod wins over dev_mode.enabled")
}

func TestParseConfigProdRequiresManifest(t *testing.T) {
	_, err := ParseConfig([]byte(`{"asset_manifest_path":"/does/not/exist.json"}`))
	require.Error(t, err)

	var configErr *ConfigError
	require.True(t, errors.As(err, &configErr))
	assert.Equal(t, "asset_manifest_path", configErr.Key)
}

func TestParseConfigProdRejectsUnparseableManifest(t *testing.T) {
	manifest := writeManifest(t, `[1,2,3]`)
	_, err := ParseConfig([]byte(fmt.Sprintf(`{"asset_manifest_path":%q}`, manifest)))
	require.Error(t, err)
}

func TestParseConfigDevModeValidation(t *testing.T) {
	_, err := ParseConfig([]byte(`{"dev_mode":{"enabled":true,"vite_origin":"ftp://x"}}`))
	require.Error(t, err)

	_, err = ParseConfig([]byte(`{"dev_mode":{"enabled":true,"proxy_timeout_sec":0}}`))
	require.Error(t, err)

	_, err = ParseConfig([]byte(`{"dev_mode":{"enabled":true,"proxy_timeout_sec":301}}`))
	require.Error(t, err)

	_, err = ParseConfig([]byte(`{"dev_mode":{"enabled":true,"reload_interval_ms":0}}`))
	require.Error(t, err)

	cfg, err := ParseConfig([]byte(`{"dev_mode":{"enabled":true,"vite_origin":"https://localhost:5173"}}`))
	require.NoError(t, err)
	assert.True(t, cfg.DevModeEnabled)
	assert.Equal(t, "https://localhost:5173", cfg.DevViteOrigin)
	// Dev mode skips the manifest existence check.
}

func TestParseConfigBridgeBodyLimit(t *testing.T) {
	_, err := ParseConfig(prodConfigJSON(t, `"api_bridge":{"max_body_bytes":0}`))
	require.Error(t, err)

	_, err = ParseConfig(prodConfigJSON(t, `"api_bridge":{"max_body_bytes":16777217}`))
	require.Error(t, err)

	cfg, err := ParseConfig(prodConfigJSON(t, `"api_bridge":{"max_body_bytes":1024,"allowed_methods":["get","put"],"allowed_path_prefixes":["/api/"]}`))
	require.NoError(t, err)
	assert.Equal(t, 1024, cfg.APIBridgeMaxBodyBytes)
	assert.Equal(t, map[string]bool{"GET": true, "PUT": true}, cfg.APIBridgeAllowedMethods)
	assert.Equal(t, []string{"/api/"}, cfg.APIBridgeAllowedPathPrefixes)
}

func TestParseConfigNestedI18nAndTheme(t *testing.T) {
	cfg, err := ParseConfig(prodConfigJSON(t, `
		"i18n":{"defaultLocale":"fr_FR","supportedLocales":["en","fr-CA"],"queryParam":"locale"},
		"theme":{"defaultTheme":"Dark!","supportedThemes":["ocean","dark"]}`))
	require.NoError(t, err)

	assert.Equal(t, "fr-fr", cfg.I18nDefaultLocale)
	assert.Equal(t, "locale", cfg.I18nQueryParam)
	// Default locale is appended to the supported set when missing.
	assert.Equal(t, []string{"en", "fr-ca", "fr-fr"}, cfg.I18nSupportedLocales)
	assert.Equal(t, "dark", cfg.ThemeDefault)
	assert.Equal(t, []string{"ocean", "dark"}, cfg.ThemeSupportedThemes)
}

func TestParseConfigLegacyFlatKeys(t *testing.T) {
	cfg, err := ParseConfig(prodConfigJSON(t, `
		"i18n_default_locale":"de",
		"theme_default":"forest",
		"request_context_include_cookies":true,
		"api_bridge_allowed_methods":["HEAD"]`))
	require.NoError(t, err)

	assert.Equal(t, "de", cfg.I18nDefaultLocale)
	assert.Equal(t, "forest", cfg.ThemeDefault)
	assert.True(t, cfg.IncludeCookies)
	assert.True(t, cfg.IncludeCookieMap, "cookie map mirrors include_cookies by default")
	assert.Equal(t, map[string]bool{"HEAD": true}, cfg.APIBridgeAllowedMethods)
}

func TestParseConfigRenderCache(t *testing.T) {
	cfg, err := ParseConfig(prodConfigJSON(t, `"render_cache":{"enabled":true,"type":"local","ttl_ms":5000}`))
	require.NoError(t, err)
	assert.True(t, cfg.RenderCacheEnabled)
	assert.Equal(t, "local", cfg.RenderCacheType)
	assert.Equal(t, uint64(5000), cfg.RenderCacheTTLMs)

	_, err = ParseConfig(prodConfigJSON(t, `"render_cache":{"enabled":true,"type":"memcached"}`))
	require.Error(t, err)
}

func TestParseConfigRejectsNonObject(t *testing.T) {
	_, err := ParseConfig([]byte(`[1,2,3]`))
	require.Error(t, err)
}

func TestConfigSummaryMentionsKeyFacts(t *testing.T) {
	cfg, err := ParseConfig(prodConfigJSON(t, `"render_timeout_ms":75`))
	require.NoError(t, err)

	summary := cfg.Summary()
	assert.Contains(t, summary, "render=75")
	assert.Contains(t, summary, "mode=prod")
	assert.Contains(t, summary, "dev{enabled=off")
}
