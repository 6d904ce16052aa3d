package hydra

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// AssetMode selects where browser assets come from.
type AssetMode string

const (
	AssetModeAuto AssetMode = "auto"
	AssetModeDev  AssetMode = "dev"
	AssetModeProd AssetMode = "prod"
)

const (
	maxAcquireTimeoutMs  = 300000
	maxRenderTimeoutMs   = 120000
	maxReloadIntervalMs  = 600000
	maxProxyTimeoutSec   = 300.0
	maxBridgeBodyBytes   = 16 * 1024 * 1024
	defaultBridgeBodyCap = 64 * 1024
)

// ConfigError reports which configuration key failed validation. Engine
// construction refuses to proceed on any ConfigError.
type ConfigError struct {
	Key    string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("hydra config '%s' %s", e.Key, e.Reason)
}

// Config is the normalized plugin configuration.
type Config struct {
	SSRBundlePath       string
	CSSPath             string
	ClientJSPath        string
	AssetManifestPath   string
	AssetPublicPrefix   string
	ClientManifestEntry string

	AcquireTimeoutMs uint64
	RenderTimeoutMs  uint64
	PoolSize         int
	WrapFragment     bool

	APIBridgeEnabled             bool
	APIBridgeAllowedMethods      map[string]bool
	APIBridgeAllowedPathPrefixes []string
	APIBridgeMaxBodyBytes        int

	I18nDefaultLocale       string
	I18nQueryParam          string
	I18nCookieName          string
	I18nSupportedLocales    []string
	IncludeLocaleCandidates bool

	ThemeDefault           string
	ThemeQueryParam        string
	ThemeCookieName        string
	ThemeSupportedThemes   []string
	IncludeThemeCandidates bool

	IncludeCookies   bool
	IncludeCookieMap bool
	AllowedCookies   map[string]bool
	HeaderAllowlist  map[string]bool
	HeaderBlocklist  map[string]bool

	ConfiguredAssetMode AssetMode
	DevModeEnabled      bool
	DevProxyAssets      bool
	DevInjectHMRClient  bool
	DevViteOrigin       string
	DevClientEntryPath  string
	DevHMRClientPath    string
	DevCSSPath          string
	DevProxyTimeoutSec  float64
	DevAutoReload       bool
	DevReloadProbePath  string
	DevReloadIntervalMs uint64
	DevAnsiColorLogs    bool
	DevSSRSourceEntry   string

	RenderCacheEnabled       bool
	RenderCacheType          string
	RenderCacheTTLMs         uint64
	RenderCacheRedisAddr     string
	RenderCacheRedisPassword string
	RenderCacheRedisDB       int
	RenderCacheRedisTLS      bool

	LogRenderMetrics bool
	LogRequestRoutes bool
}

// rawConfig wraps the decoded JSON object with type-coercing getters so
// nested blocks and their legacy flat spellings read the same way.
type rawConfig map[string]any

func (r rawConfig) object(key string) rawConfig {
	if value, ok := r[key].(map[string]any); ok {
		return rawConfig(value)
	}
	return nil
}

func (r rawConfig) str(key, fallback string) string {
	switch value := r[key].(type) {
	case string:
		return value
	default:
		return fallback
	}
}

func (r rawConfig) boolean(key string, fallback bool) bool {
	switch value := r[key].(type) {
	case bool:
		return value
	default:
		return fallback
	}
}

func (r rawConfig) number(key string, fallback float64) float64 {
	switch value := r[key].(type) {
	case float64:
		return value
	default:
		return fallback
	}
}

func (r rawConfig) strings(key string) []string {
	raw, ok := r[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func (r rawConfig) has(key string) bool {
	_, ok := r[key]
	return ok
}

// nestedStr and the nested* helpers below read sub[nestedKey] when present,
// else root[flatKey].
func nestedStr(sub rawConfig, root rawConfig, nestedKey, flatKey, fallback string) string {
	if sub != nil && sub.has(nestedKey) {
		return sub.str(nestedKey, fallback)
	}
	return root.str(flatKey, fallback)
}

func nestedBool(sub rawConfig, root rawConfig, nestedKey, flatKey string, fallback bool) bool {
	if sub != nil && sub.has(nestedKey) {
		return sub.boolean(nestedKey, fallback)
	}
	return root.boolean(flatKey, fallback)
}

func nestedNumber(sub rawConfig, root rawConfig, nestedKey, flatKey string, fallback float64) float64 {
	if sub != nil && sub.has(nestedKey) {
		return sub.number(nestedKey, fallback)
	}
	return root.number(flatKey, fallback)
}

func nestedStrings(sub rawConfig, root rawConfig, nestedKey, flatKey string) []string {
	if sub != nil && sub.has(nestedKey) {
		return sub.strings(nestedKey)
	}
	return root.strings(flatKey)
}

// knownDevKeys guards against dev_mode typos; an unknown key there rejects
// the whole config.
var knownDevKeys = map[string]bool{
	"enabled":            true,
	"proxy_assets":       true,
	"inject_hmr_client":  true,
	"vite_origin":        true,
	"client_entry_path":  true,
	"hmr_client_path":    true,
	"css_path":           true,
	"proxy_timeout_sec":  true,
	"auto_reload":        true,
	"reload_probe_path":  true,
	"reload_interval_ms": true,
	"asset_mode":         true,
	"log_request_routes": true,
	"ansi_color_logs":    true,
	"ssr_source_entry":   true,
}

// ParseConfig normalizes and validates a JSON configuration object. No
// runtime is constructed until the whole config is known good.
func ParseConfig(configJSON []byte) (*Config, error) {
	raw := rawConfig{}
	if len(configJSON) > 0 {
		decoded := map[string]any{}
		if err := json.Unmarshal(configJSON, &decoded); err != nil {
			return nil, &ConfigError{Key: "<root>", Reason: "must be a JSON object: " + err.Error()}
		}
		raw = rawConfig(decoded)
	}

	cfg := &Config{}

	cfg.SSRBundlePath = raw.str("ssr_bundle_path", "./public/assets/ssr-bundle.js")
	cfg.CSSPath = raw.str("css_path", "")
	cfg.ClientJSPath = raw.str("client_js_path", "")
	cfg.AssetManifestPath = raw.str("asset_manifest_path", "")
	if cfg.AssetManifestPath == "" {
		cfg.AssetManifestPath = raw.str("manifest_path", "./public/assets/manifest.json")
	}
	cfg.AssetPublicPrefix = raw.str("asset_public_prefix", "/assets")
	cfg.ClientManifestEntry = raw.str("client_manifest_entry", "")
	if cfg.ClientManifestEntry == "" {
		cfg.ClientManifestEntry = raw.str("client_entry_key", "src/entry-client.tsx")
	}

	cfg.AcquireTimeoutMs = uint64(raw.number("acquire_timeout_ms", 0))
	cfg.RenderTimeoutMs = uint64(raw.number("render_timeout_ms", 50))
	cfg.PoolSize = int(raw.number("pool_size", raw.number("isolate_pool_size", 0)))
	cfg.WrapFragment = raw.boolean("wrap_fragment", true)
	cfg.LogRenderMetrics = raw.boolean("log_render_metrics", true)

	devMode := raw.object("dev_mode")
	if devMode != nil {
		for key := range devMode {
			if !knownDevKeys[key] {
				return nil, &ConfigError{Key: "dev_mode." + key, Reason: "is not supported"}
			}
		}
	}

	assetModeRaw := strings.TrimSpace(strings.ToLower(raw.str("asset_mode", "")))
	if assetModeRaw == "" && devMode != nil {
		assetModeRaw = strings.TrimSpace(strings.ToLower(devMode.str("asset_mode", "")))
	}
	switch assetModeRaw {
	case "", "auto":
		cfg.ConfiguredAssetMode = AssetModeAuto
	case "dev":
		cfg.ConfiguredAssetMode = AssetModeDev
	case "prod":
		cfg.ConfiguredAssetMode = AssetModeProd
	default:
		return nil, &ConfigError{Key: "asset_mode", Reason: "must be one of: auto|dev|prod"}
	}

	legacyDevEnabled := nestedBool(devMode, raw, "enabled", "dev_mode_enabled", false)
	switch cfg.ConfiguredAssetMode {
	case AssetModeAuto:
		cfg.DevModeEnabled = legacyDevEnabled
	case AssetModeDev:
		cfg.DevModeEnabled = true
	case AssetModeProd:
		cfg.DevModeEnabled = false
	}

	if raw.has("api_bridge_enabled") {
		cfg.APIBridgeEnabled = raw.boolean("api_bridge_enabled", false)
	} else {
		cfg.APIBridgeEnabled = cfg.DevModeEnabled
	}

	hasLogRequestRoutes := (devMode != nil && devMode.has("log_request_routes")) ||
		raw.has("log_request_routes") || raw.has("log_requests")
	if hasLogRequestRoutes {
		if devMode != nil && devMode.has("log_request_routes") {
			cfg.LogRequestRoutes = devMode.boolean("log_request_routes", false)
		} else if raw.has("log_request_routes") {
			cfg.LogRequestRoutes = raw.boolean("log_request_routes", false)
		} else {
			cfg.LogRequestRoutes = raw.boolean("log_requests", false)
		}
	} else {
		cfg.LogRequestRoutes = cfg.DevModeEnabled
	}

	cfg.DevProxyAssets = nestedBool(devMode, raw, "proxy_assets", "dev_proxy_assets", cfg.DevModeEnabled)
	cfg.DevInjectHMRClient = nestedBool(devMode, raw, "inject_hmr_client", "dev_inject_hmr_client", cfg.DevModeEnabled)
	cfg.DevViteOrigin = nestedStr(devMode, raw, "vite_origin", "dev_proxy_origin", "http://127.0.0.1:5173")
	cfg.DevClientEntryPath = nestedStr(devMode, raw, "client_entry_path", "dev_client_entry_path", "/src/entry-client.tsx")
	cfg.DevHMRClientPath = nestedStr(devMode, raw, "hmr_client_path", "dev_hmr_client_path", "/@vite/client")
	cfg.DevCSSPath = nestedStr(devMode, raw, "css_path", "dev_css_path", "/src/styles/app.css")
	cfg.DevProxyTimeoutSec = nestedNumber(devMode, raw, "proxy_timeout_sec", "dev_proxy_timeout_sec", 10)
	cfg.DevAutoReload = nestedBool(devMode, raw, "auto_reload", "dev_auto_reload", cfg.DevModeEnabled)
	cfg.DevReloadProbePath = nestedStr(devMode, raw, "reload_probe_path", "dev_reload_probe_path", "/hydra/internal/dev-reload")
	cfg.DevReloadIntervalMs = uint64(nestedNumber(devMode, raw, "reload_interval_ms", "dev_reload_interval_ms", 1000))
	cfg.DevAnsiColorLogs = nestedBool(devMode, raw, "ansi_color_logs", "dev_ansi_color_logs", false)
	if devMode != nil {
		cfg.DevSSRSourceEntry = devMode.str("ssr_source_entry", "")
	}

	bridge := raw.object("api_bridge")
	cfg.APIBridgeAllowedMethods = map[string]bool{}
	for _, method := range nestedStrings(bridge, raw, "allowed_methods", "api_bridge_allowed_methods") {
		method = strings.ToUpper(strings.TrimSpace(method))
		if method != "" {
			cfg.APIBridgeAllowedMethods[method] = true
		}
	}
	if len(cfg.APIBridgeAllowedMethods) == 0 {
		cfg.APIBridgeAllowedMethods = map[string]bool{"GET": true, "POST": true}
	}
	for _, prefix := range nestedStrings(bridge, raw, "allowed_path_prefixes", "api_bridge_allowed_path_prefixes") {
		prefix = strings.TrimSpace(prefix)
		if prefix != "" {
			cfg.APIBridgeAllowedPathPrefixes = append(cfg.APIBridgeAllowedPathPrefixes, prefix)
		}
	}
	if len(cfg.APIBridgeAllowedPathPrefixes) == 0 {
		cfg.APIBridgeAllowedPathPrefixes = []string{"/hydra/internal/"}
	}
	maxBody := nestedNumber(bridge, raw, "max_body_bytes", "api_bridge_max_body_bytes", defaultBridgeBodyCap)
	if maxBody <= 0 || maxBody > maxBridgeBodyBytes {
		return nil, &ConfigError{Key: "api_bridge.max_body_bytes", Reason: "must be in range 1..16777216"}
	}
	cfg.APIBridgeMaxBodyBytes = int(maxBody)

	i18n := raw.object("i18n")
	cfg.I18nDefaultLocale = normalizeLocale(nestedStr(i18n, raw, "defaultLocale", "i18n_default_locale", "en"))
	if cfg.I18nDefaultLocale == "" {
		cfg.I18nDefaultLocale = "en"
	}
	cfg.I18nQueryParam = strings.TrimSpace(nestedStr(i18n, raw, "queryParam", "i18n_query_param", "lang"))
	if cfg.I18nQueryParam == "" {
		cfg.I18nQueryParam = "lang"
	}
	cfg.I18nCookieName = strings.TrimSpace(nestedStr(i18n, raw, "cookieName", "i18n_cookie_name", "hydra_lang"))
	if cfg.I18nCookieName == "" {
		cfg.I18nCookieName = "hydra_lang"
	}
	cfg.IncludeLocaleCandidates = nestedBool(i18n, raw, "includeLocaleCandidates", "i18n_include_locale_candidates", false)
	cfg.IncludeLocaleCandidates = nestedBool(i18n, raw, "include_locale_candidates", "i18n_includeLocaleCandidates", cfg.IncludeLocaleCandidates)
	supportedLocales := nestedStrings(i18n, raw, "supportedLocales", "i18n_supported_locales")
	if len(supportedLocales) == 0 {
		supportedLocales = nestedStrings(i18n, raw, "supported_locales", "i18n_supportedLocales")
	}
	cfg.I18nSupportedLocales = normalizeUnique(supportedLocales, normalizeLocale)
	if !containsString(cfg.I18nSupportedLocales, cfg.I18nDefaultLocale) {
		cfg.I18nSupportedLocales = append(cfg.I18nSupportedLocales, cfg.I18nDefaultLocale)
	}

	theme := raw.object("theme")
	cfg.ThemeDefault = normalizeTheme(nestedStr(theme, raw, "defaultTheme", "theme_default", "ocean"))
	if cfg.ThemeDefault == "" {
		cfg.ThemeDefault = "ocean"
	}
	cfg.ThemeQueryParam = strings.TrimSpace(nestedStr(theme, raw, "queryParam", "theme_query_param", "theme"))
	if cfg.ThemeQueryParam == "" {
		cfg.ThemeQueryParam = "theme"
	}
	cfg.ThemeCookieName = strings.TrimSpace(nestedStr(theme, raw, "cookieName", "theme_cookie_name", "hydra_theme"))
	if cfg.ThemeCookieName == "" {
		cfg.ThemeCookieName = "hydra_theme"
	}
	cfg.IncludeThemeCandidates = nestedBool(theme, raw, "includeThemeCandidates", "theme_include_theme_candidates", false)
	cfg.IncludeThemeCandidates = nestedBool(theme, raw, "include_theme_candidates", "theme_includeThemeCandidates", cfg.IncludeThemeCandidates)
	supportedThemes := nestedStrings(theme, raw, "supportedThemes", "theme_supported_themes")
	if len(supportedThemes) == 0 {
		supportedThemes = nestedStrings(theme, raw, "supported_themes", "theme_supportedThemes")
	}
	cfg.ThemeSupportedThemes = normalizeUnique(supportedThemes, normalizeTheme)
	if !containsString(cfg.ThemeSupportedThemes, cfg.ThemeDefault) {
		cfg.ThemeSupportedThemes = append(cfg.ThemeSupportedThemes, cfg.ThemeDefault)
	}

	requestContext := raw.object("request_context")
	cfg.IncludeCookies = nestedBool(requestContext, raw, "include_cookies", "request_context_include_cookies", false)
	cfg.IncludeCookieMap = nestedBool(requestContext, raw, "includeCookieMap", "request_context_includeCookieMap", cfg.IncludeCookies)
	cfg.IncludeCookieMap = nestedBool(requestContext, raw, "include_cookie_map", "request_context_include_cookie_map", cfg.IncludeCookieMap)
	cfg.AllowedCookies = lowerSet(nestedStrings(requestContext, raw, "allowed_cookies", "request_context_allowed_cookies"))
	cfg.HeaderAllowlist = lowerSet(nestedStrings(requestContext, raw, "include_headers", "request_context_include_headers"))
	cfg.HeaderBlocklist = lowerSet(nestedStrings(requestContext, raw, "exclude_headers", "request_context_exclude_headers"))

	renderCache := raw.object("render_cache")
	if renderCache != nil {
		cfg.RenderCacheEnabled = renderCache.boolean("enabled", false)
		cfg.RenderCacheType = strings.ToLower(strings.TrimSpace(renderCache.str("type", "local")))
		cfg.RenderCacheTTLMs = uint64(renderCache.number("ttl_ms", 0))
		cfg.RenderCacheRedisAddr = renderCache.str("redis_addr", "")
		cfg.RenderCacheRedisPassword = renderCache.str("redis_password", "")
		cfg.RenderCacheRedisDB = int(renderCache.number("redis_db", 0))
		cfg.RenderCacheRedisTLS = renderCache.boolean("redis_tls", false)
		if cfg.RenderCacheEnabled && cfg.RenderCacheType != "local" && cfg.RenderCacheType != "redis" {
			return nil, &ConfigError{Key: "render_cache.type", Reason: "must be one of: local|redis"}
		}
	}

	if cfg.AcquireTimeoutMs > maxAcquireTimeoutMs {
		return nil, &ConfigError{Key: "acquire_timeout_ms", Reason: "is too large (max 300000)"}
	}
	if cfg.RenderTimeoutMs == 0 || cfg.RenderTimeoutMs > maxRenderTimeoutMs {
		return nil, &ConfigError{Key: "render_timeout_ms", Reason: "must be in range 1..120000"}
	}

	if cfg.DevModeEnabled {
		origin := strings.TrimSpace(cfg.DevViteOrigin)
		if !strings.HasPrefix(origin, "http://") && !strings.HasPrefix(origin, "https://") {
			return nil, &ConfigError{Key: "dev_mode.vite_origin", Reason: "must start with http:// or https://"}
		}
		if strings.TrimSpace(cfg.DevClientEntryPath) == "" {
			return nil, &ConfigError{Key: "dev_mode.client_entry_path", Reason: "must be set"}
		}
		if strings.TrimSpace(cfg.DevCSSPath) == "" {
			return nil, &ConfigError{Key: "dev_mode.css_path", Reason: "must be set"}
		}
		if cfg.DevInjectHMRClient && strings.TrimSpace(cfg.DevHMRClientPath) == "" {
			return nil, &ConfigError{Key: "dev_mode.hmr_client_path", Reason: "must be set"}
		}
		if cfg.DevProxyTimeoutSec <= 0 || cfg.DevProxyTimeoutSec > maxProxyTimeoutSec {
			return nil, &ConfigError{Key: "dev_mode.proxy_timeout_sec", Reason: "must be in range (0,300]"}
		}
		if cfg.DevReloadIntervalMs == 0 || cfg.DevReloadIntervalMs > maxReloadIntervalMs {
			return nil, &ConfigError{Key: "dev_mode.reload_interval_ms", Reason: "must be in range 1..600000"}
		}
	} else {
		if err := validateManifestPath(cfg.AssetManifestPath); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

func validateManifestPath(manifestPath string) error {
	if strings.TrimSpace(manifestPath) == "" {
		return &ConfigError{Key: "asset_manifest_path", Reason: "must be set"}
	}
	raw, err := os.ReadFile(manifestPath)
	if err != nil {
		return &ConfigError{Key: "asset_manifest_path", Reason: "manifest not found: " + manifestPath}
	}
	manifest := map[string]any{}
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return &ConfigError{Key: "asset_manifest_path", Reason: fmt.Sprintf("manifest parse failed (%s): %v", manifestPath, err)}
	}
	return nil
}

// ResolvedAssetMode reports the effective mode after auto resolution.
func (c *Config) ResolvedAssetMode() AssetMode {
	if c.DevModeEnabled {
		return AssetModeDev
	}
	return AssetModeProd
}

// Summary is the one-line human-readable config digest logged at init.
func (c *Config) Summary() string {
	css := c.CSSPath
	if css == "" {
		css = "<manifest/dev>"
	}
	client := c.ClientJSPath
	if client == "" {
		client = "<manifest/dev>"
	}
	return fmt.Sprintf(
		"runtime{bundle=%s, timeout_ms{acquire=%d, render=%d}} | assets{mode=%s, configured=%s, manifest=%s, css=%s, client=%s} | dev{enabled=%s, origin=%s, proxy_assets=%s, ansi_color_logs=%s}",
		c.SSRBundlePath, c.AcquireTimeoutMs, c.RenderTimeoutMs,
		c.ResolvedAssetMode(), c.ConfiguredAssetMode, c.AssetManifestPath, css, client,
		onOff(c.DevModeEnabled), c.DevViteOrigin, onOff(c.DevProxyAssets), onOff(c.DevAnsiColorLogs))
}

func onOff(value bool) string {
	if value {
		return "on"
	}
	return "off"
}

func containsString(values []string, value string) bool {
	for _, existing := range values {
		if existing == value {
			return true
		}
	}
	return false
}

func normalizeUnique(values []string, normalize func(string) string) []string {
	var out []string
	for _, value := range values {
		normalized := normalize(value)
		if normalized == "" || containsString(out, normalized) {
			continue
		}
		out = append(out, normalized)
	}
	return out
}

func lowerSet(values []string) map[string]bool {
	out := map[string]bool{}
	for _, value := range values {
		value = strings.ToLower(strings.TrimSpace(value))
		if value != "" {
			out[value] = true
		}
	}
	return out
}

// normalizeLocale mirrors the request-time locale normalization so the
// supported set and candidates compare equal.
func normalizeLocale(locale string) string {
	locale = strings.ToLower(strings.ReplaceAll(strings.TrimSpace(locale), "_", "-"))
	var normalized strings.Builder
	previousDash := false
	for _, ch := range locale {
		switch {
		case ch >= 'a' && ch <= 'z', ch >= '0' && ch <= '9':
			normalized.WriteRune(ch)
			previousDash = false
		case ch == '-' && !previousDash && normalized.Len() > 0:
			normalized.WriteRune(ch)
			previousDash = true
		}
	}
	return strings.TrimRight(normalized.String(), "-")
}

func normalizeTheme(theme string) string {
	theme = strings.ToLower(strings.TrimSpace(theme))
	var normalized strings.Builder
	for _, ch := range theme {
		switch {
		case ch >= 'a' && ch <= 'z', ch >= '0' && ch <= '9', ch == '-', ch == '_':
			normalized.WriteRune(ch)
		}
	}
	return normalized.String()
}
