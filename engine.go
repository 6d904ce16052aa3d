// Package hydra embeds a server-side rendering engine into a long-running
// HTTP application: a warm pool of JavaScript interpreters preloaded with
// an SSR bundle, a render pipeline that turns request + props into a full
// HTTP response, and the dev/prod asset plumbing around it.
package hydra

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/hydrastack/go-hydra/hostadapter"
	"github.com/hydrastack/go-hydra/internal/assets"
	"github.com/hydrastack/go-hydra/internal/bundler"
	"github.com/hydrastack/go-hydra/internal/cache"
	"github.com/hydrastack/go-hydra/internal/hotreload"
	"github.com/hydrastack/go-hydra/internal/jsruntime"
	"github.com/hydrastack/go-hydra/internal/metrics"
	"github.com/hydrastack/go-hydra/internal/requestctx"
	"github.com/hydrastack/go-hydra/internal/typeconverter"
)

// APIBridgeRequest is a server-side fetch issued by the bundle through
// globalThis.hydra.fetch, after policy checks passed.
type APIBridgeRequest struct {
	Method  string
	Path    string
	Query   string
	Body    string
	Headers map[string]string
}

// APIBridgeResponse is what the host handler returns to the bundle.
type APIBridgeResponse struct {
	Status  int
	Body    string
	Headers map[string]string
}

// APIBridgeHandler serves bridge requests. It runs on the render thread,
// outside any engine lock.
type APIBridgeHandler func(APIBridgeRequest) APIBridgeResponse

// MetricsSnapshot re-exports the engine counter snapshot.
type MetricsSnapshot = metrics.Snapshot

// MetricsContentType is the content type for the Prometheus endpoint.
const MetricsContentType = metrics.ContentType

// Engine is the SSR engine instance. Construct with New, embed in the host
// application, and call Shutdown at teardown.
type Engine struct {
	logger  *zap.Logger
	config  *Config
	pool    *jsruntime.Pool
	builder *requestctx.Builder
	metrics *metrics.Metrics
	export  *metrics.Exporter

	renderCache cache.Cache
	hub         *hotreload.Hub

	cssPath        string
	clientJSPath   string
	hmrClientPath  string
	clientJSModule bool

	bridgeMu      sync.Mutex
	bridgeHandler APIBridgeHandler

	warnedUnwrappedFragment atomic.Bool
	propsTypes              []any
}

// Option customizes engine construction.
type Option func(*options)

type options struct {
	logger     *zap.Logger
	host       hostadapter.Host
	propsTypes []any
	typesPath  string
}

// WithLogger injects the host application's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithHost lets the engine register dev-mode routes (asset proxy, reload
// probe, reload websocket) on the embedding application.
func WithHost(host hostadapter.Host) Option {
	return func(o *options) { o.host = host }
}

// WithPropsTypes registers Go props structs for dev-mode TypeScript type
// generation at typesPath.
func WithPropsTypes(typesPath string, models ...any) Option {
	return func(o *options) {
		o.typesPath = typesPath
		o.propsTypes = append(o.propsTypes, models...)
	}
}

// New validates the configuration, resolves assets, warms the runtime pool
// and wires dev tooling. It is the Go form of the plugin's initAndStart.
func New(configJSON []byte, opts ...Option) (*Engine, error) {
	cfg, err := ParseConfig(configJSON)
	if err != nil {
		return nil, err
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger
	if logger == nil {
		if cfg.DevModeEnabled && cfg.DevAnsiColorLogs {
			devConfig := zap.NewDevelopmentConfig()
			devConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
			logger, err = devConfig.Build()
		} else {
			logger, err = zap.NewProduction()
		}
		if err != nil {
			return nil, err
		}
	}

	engine := newEngine(cfg, logger)
	engine.propsTypes = o.propsTypes
	engine.resolveAssets()

	if cfg.RenderCacheEnabled {
		renderCache, err := cache.New(cache.Config{
			Type:          cache.CacheType(cfg.RenderCacheType),
			TTL:           time.Duration(cfg.RenderCacheTTLMs) * time.Millisecond,
			RedisAddr:     cfg.RenderCacheRedisAddr,
			RedisPassword: cfg.RenderCacheRedisPassword,
			RedisDB:       cfg.RenderCacheRedisDB,
			RedisTLS:      cfg.RenderCacheRedisTLS,
		})
		if err != nil {
			logger.Warn("render cache unavailable, continuing without it", zap.Error(err))
		} else {
			engine.renderCache = renderCache
		}
	}

	bundlePath := cfg.SSRBundlePath
	if cfg.DevModeEnabled && cfg.DevSSRSourceEntry != "" {
		deps, err := bundler.BuildServerToFile(cfg.DevSSRSourceEntry, bundlePath)
		if err != nil {
			return nil, err
		}
		engine.hub = hotreload.NewHub()
		watchSet := append([]string{bundlePath}, deps...)
		if err := engine.hub.Watch(watchSet, engine.onBundleChange); err != nil {
			logger.Warn("bundle watch unavailable", zap.Error(err))
		}
	} else if cfg.DevModeEnabled {
		engine.hub = hotreload.NewHub()
		if err := engine.hub.Watch([]string{bundlePath}, engine.onBundleChange); err != nil {
			logger.Warn("bundle watch unavailable", zap.Error(err))
		}
	}

	pool, err := jsruntime.NewPool(cfg.PoolSize, jsruntime.NewFactory(bundlePath, engine.dispatchAPIBridge))
	if err != nil {
		if engine.hub != nil {
			engine.hub.Close()
		}
		return nil, err
	}
	engine.pool = pool

	if o.host != nil && cfg.DevModeEnabled {
		engine.registerDevRoutes(o.host)
	}
	if cfg.DevModeEnabled && o.typesPath != "" && len(o.propsTypes) > 0 {
		if err := typeconverter.Convert(o.typesPath, o.propsTypes...); err != nil {
			logger.Warn("props type generation failed", zap.Error(err))
		}
	}

	logger.Info("HydraInit",
		zap.String("config", cfg.Summary()),
		zap.Int("pool", pool.Size()),
		zap.String("runtime", string(jsruntime.DefaultRuntimeType())),
		zap.Bool("dev", cfg.DevModeEnabled),
		zap.Bool("api_bridge", cfg.APIBridgeEnabled),
		zap.Bool("request_routes", cfg.LogRequestRoutes),
		zap.String("default_locale", cfg.I18nDefaultLocale),
		zap.String("default_theme", cfg.ThemeDefault))

	return engine, nil
}

// newEngine wires everything except the pool and dev tooling. Split out so
// tests can drop in a pool built on a stub runtime factory.
func newEngine(cfg *Config, logger *zap.Logger) *Engine {
	engine := &Engine{
		logger:  logger,
		config:  cfg,
		metrics: metrics.New(),
	}
	engine.export = metrics.NewExporter(engine.metrics, func() (int, int) {
		if engine.pool == nil {
			return 0, 0
		}
		return engine.pool.InUse(), engine.pool.Size()
	})
	engine.builder = requestctx.NewBuilder(requestctx.Options{
		DefaultLocale:           cfg.I18nDefaultLocale,
		LocaleQueryParam:        cfg.I18nQueryParam,
		LocaleCookieName:        cfg.I18nCookieName,
		SupportedLocales:        cfg.I18nSupportedLocales,
		IncludeLocaleCandidates: cfg.IncludeLocaleCandidates,
		DefaultTheme:            cfg.ThemeDefault,
		ThemeQueryParam:         cfg.ThemeQueryParam,
		ThemeCookieName:         cfg.ThemeCookieName,
		SupportedThemes:         cfg.ThemeSupportedThemes,
		IncludeThemeCandidates:  cfg.IncludeThemeCandidates,
		IncludeCookies:          cfg.IncludeCookies,
		IncludeCookieMap:        cfg.IncludeCookieMap,
		AllowedCookies:          cfg.AllowedCookies,
		HeaderAllowlist:         cfg.HeaderAllowlist,
		HeaderBlocklist:         cfg.HeaderBlocklist,
	})
	engine.bridgeHandler = defaultBridgeHandler
	return engine
}

// resolveAssets picks the css/client paths the shell will reference. Prod
// reads the build manifest; dev points at the Vite server (proxied or
// direct).
func (e *Engine) resolveAssets() {
	cfg := e.config
	e.cssPath = cfg.CSSPath
	e.clientJSPath = cfg.ClientJSPath

	if resolved, err := assets.ResolveFromManifest(
		cfg.AssetManifestPath, cfg.AssetPublicPrefix, cfg.ClientManifestEntry); err == nil {
		if e.cssPath == "" {
			e.cssPath = resolved.CSSPath
		}
		if e.clientJSPath == "" {
			e.clientJSPath = resolved.ClientJSPath
		}
	} else if !cfg.DevModeEnabled {
		e.logger.Warn("asset manifest resolution failed", zap.Error(err))
	}

	if cfg.DevModeEnabled {
		e.clientJSModule = true
		if cfg.DevProxyAssets {
			e.cssPath = assets.NormalizeBrowserPath(cfg.DevCSSPath)
			e.clientJSPath = assets.NormalizeBrowserPath(cfg.DevClientEntryPath)
			if cfg.DevInjectHMRClient {
				e.hmrClientPath = assets.NormalizeBrowserPath(cfg.DevHMRClientPath)
			}
		} else {
			e.cssPath = assets.JoinOriginAndPath(cfg.DevViteOrigin, cfg.DevCSSPath)
			e.clientJSPath = assets.JoinOriginAndPath(cfg.DevViteOrigin, cfg.DevClientEntryPath)
			if cfg.DevInjectHMRClient {
				e.hmrClientPath = assets.JoinOriginAndPath(cfg.DevViteOrigin, cfg.DevHMRClientPath)
			}
		}
		return
	}

	if e.cssPath == "" {
		e.cssPath = "/assets/app.css"
		e.logger.Warn("falling back to default css path", zap.String("css", e.cssPath))
	}
	if e.clientJSPath == "" {
		e.clientJSPath = "/assets/client.js"
		e.logger.Warn("falling back to default client path", zap.String("client", e.clientJSPath))
	}
}

// devProxyPrefixes is the Vite surface the browser needs reachable through
// the app origin when proxy_assets is on.
var devProxyPrefixes = []string{
	"/@vite/client",
	"/@react-refresh",
	"/assets/",
	"/@vite/",
	"/%40vite/",
	"/@id/",
	"/@fs/",
	"/%40id/",
	"/%40fs/",
	"/src/",
	"/node_modules/",
}

func (e *Engine) registerDevRoutes(host hostadapter.Host) {
	cfg := e.config

	if cfg.DevProxyAssets {
		timeout := time.Duration(cfg.DevProxyTimeoutSec * float64(time.Second))
		for _, prefix := range devProxyPrefixes {
			host.RegisterProxyPrefix(prefix, cfg.DevViteOrigin, timeout)
		}
	}

	if cfg.DevAutoReload && e.hub != nil {
		probePath := assets.NormalizeBrowserPath(cfg.DevReloadProbePath)
		host.RegisterRoute(probePath, func(hostadapter.Request) (int, string, []byte) {
			return 200, "application/json", e.hub.ProbePayload()
		})
		host.RegisterWebsocket(probePath+"/ws", e.hub.Attach)
	}
}

// onBundleChange rebuilds (when a source entry is configured) and reloads
// the pool, then pushes a reload to connected browsers.
func (e *Engine) onBundleChange() {
	cfg := e.config
	bundlePath := cfg.SSRBundlePath

	if cfg.DevSSRSourceEntry != "" {
		if _, err := bundler.BuildServerToFile(cfg.DevSSRSourceEntry, bundlePath); err != nil {
			e.logger.Warn("SSR bundle rebuild failed", zap.Error(err))
			return
		}
	}

	if e.pool != nil {
		e.pool.Reload(jsruntime.NewFactory(bundlePath, e.dispatchAPIBridge))
	}
	if e.renderCache != nil {
		e.renderCache.Clear()
	}
	if e.hub != nil {
		e.hub.Broadcast()
	}
	e.logger.Info("SSR bundle reloaded", zap.String("bundle", bundlePath))
}

// SetAPIBridgeHandler installs the host's bridge handler. Safe to call at
// any time; each bridge call uses the handler installed when it is
// dispatched.
func (e *Engine) SetAPIBridgeHandler(handler APIBridgeHandler) {
	e.bridgeMu.Lock()
	e.bridgeHandler = handler
	e.bridgeMu.Unlock()
}

// dispatchAPIBridge enforces bridge policy, then runs the user handler
// outside the lock.
func (e *Engine) dispatchAPIBridge(request jsruntime.BridgeRequest) jsruntime.BridgeResponse {
	if !e.config.APIBridgeEnabled {
		return jsruntime.BridgeResponse{Status: 503, Body: "Hydra API bridge disabled"}
	}

	e.bridgeMu.Lock()
	handler := e.bridgeHandler
	e.bridgeMu.Unlock()
	if handler == nil {
		return jsruntime.BridgeResponse{Status: 404, Body: "No Hydra API bridge handler registered"}
	}

	method := strings.ToUpper(strings.TrimSpace(request.Method))
	if method == "" {
		method = "GET"
	}
	if !e.config.APIBridgeAllowedMethods[method] {
		return jsruntime.BridgeResponse{Status: 405, Body: "Hydra API bridge method is not allowed: " + method}
	}

	pathAllowed := false
	for _, prefix := range e.config.APIBridgeAllowedPathPrefixes {
		if prefix != "" && strings.HasPrefix(request.Path, prefix) {
			pathAllowed = true
			break
		}
	}
	if !pathAllowed {
		return jsruntime.BridgeResponse{Status: 403, Body: "Hydra API bridge path is not allowed: " + request.Path}
	}

	if len(request.Body) > e.config.APIBridgeMaxBodyBytes {
		return jsruntime.BridgeResponse{Status: 413, Body: "Hydra API bridge body exceeds max_body_bytes"}
	}

	response := callBridgeHandler(handler, APIBridgeRequest{
		Method:  method,
		Path:    request.Path,
		Query:   request.Query,
		Body:    request.Body,
		Headers: request.Headers,
	})
	return jsruntime.BridgeResponse{
		Status:  response.Status,
		Body:    response.Body,
		Headers: response.Headers,
	}
}

func callBridgeHandler(handler APIBridgeHandler, request APIBridgeRequest) (response APIBridgeResponse) {
	defer func() {
		if r := recover(); r != nil {
			response = APIBridgeResponse{Status: 500, Body: fmt.Sprint(r)}
		}
	}()
	response = handler(request)
	if response.Status == 0 {
		response.Status = 200
	}
	return response
}

// defaultBridgeHandler answers the built-in internal endpoints until the
// host installs its own handler.
func defaultBridgeHandler(request APIBridgeRequest) APIBridgeResponse {
	switch request.Path {
	case "/hydra/internal/health":
		return APIBridgeResponse{Status: 200, Body: "ok"}
	case "/hydra/internal/echo":
		return APIBridgeResponse{Status: 200, Body: request.Body}
	}
	return APIBridgeResponse{Status: 404, Body: "No internal handler for " + request.Path}
}

// MetricsSnapshot is a lock-free read of the engine counters. Values are
// only eventually consistent with each other.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	return e.metrics.Snapshot()
}

// MetricsPrometheus renders the Prometheus text exposition. Serve it with
// MetricsContentType.
func (e *Engine) MetricsPrometheus() string {
	return e.export.Text()
}

// Shutdown disposes the pool and dev tooling. The context is not used;
// runtime teardown and the log flush are synchronous.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.logger.Info("shutting down hydra SSR engine")
	if e.hub != nil {
		e.hub.Close()
	}
	if e.pool != nil {
		e.pool.Close()
	}
	if e.renderCache != nil {
		e.renderCache.Close()
	}
	_ = e.logger.Sync()
	return nil
}
