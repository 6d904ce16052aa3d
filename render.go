package hydra

import (
	"crypto/rand"
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hydrastack/go-hydra/hostadapter"
	"github.com/hydrastack/go-hydra/internal/cache"
	"github.com/hydrastack/go-hydra/internal/htmlshell"
	"github.com/hydrastack/go-hydra/internal/jsruntime"
)

// SsrRenderResult is the engine's response: final HTML, HTTP status, and
// response headers.
type SsrRenderResult struct {
	HTML    string
	Status  int
	Headers map[string]string
}

// RenderOptions tweaks a single render call.
type RenderOptions struct {
	// URLOverride bypasses path+query composition when non-empty.
	URLOverride string
}

// requestContextKey is the reserved props key carrying the request context.
const requestContextKey = "__hydra_request"

// Render returns only the HTML of RenderResult.
func (e *Engine) Render(req hostadapter.Request, props any, options RenderOptions) string {
	return e.RenderResult(req, props, options).HTML
}

// RenderString is Render for callers that already hold props as JSON.
func (e *Engine) RenderString(req hostadapter.Request, propsJSON string, options RenderOptions) string {
	return e.RenderResultJSON(req, propsJSON, options).HTML
}

// RenderResult marshals props to compact JSON and renders.
func (e *Engine) RenderResult(req hostadapter.Request, props any, options RenderOptions) SsrRenderResult {
	propsJSON, err := json.Marshal(props)
	if err != nil {
		return e.failureResult(req, "props are not serializable: "+err.Error())
	}
	return e.RenderResultJSON(req, string(propsJSON), options)
}

// RenderResultJSON runs the full render pipeline for one request.
func (e *Engine) RenderResultJSON(req hostadapter.Request, propsJSON string, options RenderOptions) SsrRenderResult {
	if e.pool == nil {
		return e.failureResult(req, "hydra SSR engine is not initialized")
	}

	routeURL := e.buildRouteURL(req, options)
	requestID := e.builder.ResolveRequestID(req)
	requestContext := e.builder.Build(req, routeURL, requestID)
	requestContextJSON, err := json.Marshal(requestContext)
	if err != nil {
		return e.failureResult(req, "request context is not serializable: "+err.Error())
	}

	effectivePropsJSON := propsJSON
	pageID := ""
	var propsObject map[string]any
	if json.Unmarshal([]byte(propsJSON), &propsObject) == nil && propsObject != nil {
		pageID = extractPageID(propsObject)
		propsObject[requestContextKey] = requestContext
		if merged, err := json.Marshal(propsObject); err == nil {
			effectivePropsJSON = string(merged)
		}
	}

	scriptNonce := ""
	if !e.config.DevModeEnabled {
		scriptNonce = generateScriptNonce()
	}

	requestMethod := "GET"
	if req != nil {
		requestMethod = req.Method()
	}

	state := &renderState{
		routeURL:      routeURL,
		requestID:     requestID,
		requestMethod: requestMethod,
		pageID:        pageID,
		scriptNonce:   scriptNonce,
		startedAt:     time.Now(),
	}

	cacheKey := ""
	if e.renderCache != nil && requestMethod == "GET" {
		locale, _ := requestContext["locale"].(string)
		theme, _ := requestContext["theme"].(string)
		cacheKey = routeURL + "|" + locale + "|" + theme
		if entry, ok := e.renderCache.Get(cacheKey); ok {
			e.metrics.ObserveAcquireWait(0)
			result := SsrRenderResult{HTML: entry.HTML, Status: entry.Status, Headers: cloneHeaders(entry.Headers)}
			return e.finishRender(state, result, effectivePropsJSON, 0, 0)
		}
	}

	lease, err := e.pool.Acquire(e.config.AcquireTimeoutMs)
	acquireWaitUs := uint64(time.Since(state.startedAt).Microseconds())
	state.acquireWaitUs = acquireWaitUs
	e.metrics.ObserveAcquireWait(float64(acquireWaitUs) / 1000.0)
	if err != nil {
		return e.failRender(state, err.Error())
	}
	defer lease.Release()

	renderStartedAt := time.Now()
	rawOutput, err := lease.Runtime().Render(
		routeURL, effectivePropsJSON, string(requestContextJSON), e.config.RenderTimeoutMs)
	renderUs := uint64(time.Since(renderStartedAt).Microseconds())
	if err != nil {
		lease.MarkForRecycle()
		e.metrics.IncRuntimeRecycles()
		return e.failRender(state, err.Error())
	}
	e.metrics.ObserveRenderLatency(float64(renderUs) / 1000.0)

	result, isEnvelope := tryParseSsrEnvelope(rawOutput)
	if !isEnvelope {
		result = SsrRenderResult{HTML: rawOutput, Status: 200, Headers: map[string]string{}}
	}

	if cacheKey != "" && result.Status == 200 && !isRedirect(result) {
		e.renderCache.Set(cacheKey, cache.RenderEntry{
			HTML:    result.HTML,
			Status:  result.Status,
			Headers: cloneHeaders(result.Headers),
		})
	}

	return e.finishRender(state, result, effectivePropsJSON, renderUs, acquireWaitUs)
}

// renderState carries the per-request bookkeeping across pipeline stages.
type renderState struct {
	routeURL      string
	requestID     string
	requestMethod string
	pageID        string
	scriptNonce   string
	startedAt     time.Time
	acquireWaitUs uint64
}

// finishRender wraps fragments, applies headers, records metrics and logs.
func (e *Engine) finishRender(state *renderState, result SsrRenderResult, effectivePropsJSON string, renderUs, acquireWaitUs uint64) SsrRenderResult {
	if result.Headers == nil {
		result.Headers = map[string]string{}
	}

	redirect := isRedirect(result)
	wrappedWithShell := false
	var wrapUs uint64

	isFragment := result.HTML != "" && !isLikelyFullDocument(result.HTML)
	if !redirect && e.config.WrapFragment && isFragment {
		shellAssets := htmlshell.Assets{
			CSSPath:        e.cssPath,
			ClientJSPath:   e.clientJSPath,
			HMRClientPath:  e.hmrClientPath,
			ScriptNonce:    state.scriptNonce,
			ClientJSModule: e.clientJSModule,
		}
		if e.config.DevModeEnabled && e.config.DevAutoReload {
			shellAssets.DevReloadProbePath = normalizedProbePath(e.config.DevReloadProbePath)
			shellAssets.DevReloadIntervalMs = e.config.DevReloadIntervalMs
		}
		wrapStartedAt := time.Now()
		result.HTML = htmlshell.Wrap(result.HTML, effectivePropsJSON, shellAssets)
		wrapUs = uint64(time.Since(wrapStartedAt).Microseconds())
		wrappedWithShell = true
	} else if !redirect && !e.config.WrapFragment && isFragment {
		if e.warnedUnwrappedFragment.CompareAndSwap(false, true) {
			e.logger.Warn("wrap_fragment=false while SSR returned an HTML fragment; CSS/JS injection will not happen")
		}
	}

	totalUs := uint64(time.Since(state.startedAt).Microseconds())
	e.metrics.IncRequestsOk()
	e.metrics.ObserveRequestCode(result.Status)
	e.metrics.ObserveRequestLatency(float64(totalUs) / 1000.0)
	e.metrics.AddRequestUs(totalUs)
	e.metrics.AddAcquireWaitUs(acquireWaitUs)
	e.metrics.AddRenderUs(renderUs)
	e.metrics.AddWrapUs(wrapUs)

	if _, ok := result.Headers["X-Request-Id"]; !ok {
		result.Headers["X-Request-Id"] = state.requestID
	}
	e.applySecurityHeaders(&result, wrappedWithShell, state.scriptNonce)

	if e.config.LogRenderMetrics {
		e.logger.Info("HydraMetrics",
			zap.String("status", "ok"),
			zap.String("route", state.routeURL),
			zap.String("request_id", state.requestID),
			zap.Int("http_status", result.Status),
			zap.Float64("acquire_ms", float64(acquireWaitUs)/1000.0),
			zap.Float64("render_ms", float64(renderUs)/1000.0),
			zap.Float64("wrap_ms", float64(wrapUs)/1000.0),
			zap.Uint64("pool_timeouts", e.metrics.PoolTimeouts()),
			zap.Uint64("render_timeouts", e.metrics.RenderTimeouts()),
			zap.Uint64("runtime_recycles", e.metrics.RuntimeRecycles()))
	}
	if e.config.LogRequestRoutes {
		page := state.pageID
		if page == "" {
			page = "-"
		}
		e.logger.Info("HydraRequest",
			zap.String("status", "ok"),
			zap.String("method", state.requestMethod),
			zap.String("route", state.routeURL),
			zap.String("request_id", state.requestID),
			zap.Int("http_status", result.Status),
			zap.String("page", page),
			zap.Float64("total_ms", float64(totalUs)/1000.0))
	}

	return result
}

// failRender is the shared failure tail: counters, logs, error page.
func (e *Engine) failRender(state *renderState, message string) SsrRenderResult {
	if strings.Contains(message, jsruntime.ErrAcquireTimeout.Error()) {
		e.metrics.IncPoolTimeouts()
	}
	if strings.Contains(message, jsruntime.RenderTimeoutSentinel) {
		e.metrics.IncRenderTimeouts()
	}

	totalUs := uint64(time.Since(state.startedAt).Microseconds())
	e.metrics.IncRequestsFail()
	e.metrics.IncRenderErrors()
	e.metrics.ObserveRequestCode(500)
	e.metrics.ObserveRequestLatency(float64(totalUs) / 1000.0)
	e.metrics.AddRequestUs(totalUs)
	e.metrics.AddAcquireWaitUs(state.acquireWaitUs)

	if e.config.LogRenderMetrics {
		e.logger.Warn("HydraMetrics",
			zap.String("status", "fail"),
			zap.String("route", state.routeURL),
			zap.String("request_id", state.requestID),
			zap.Int("http_status", 500),
			zap.Float64("acquire_ms", float64(state.acquireWaitUs)/1000.0),
			zap.Uint64("pool_timeouts", e.metrics.PoolTimeouts()),
			zap.Uint64("render_timeouts", e.metrics.RenderTimeouts()),
			zap.Uint64("runtime_recycles", e.metrics.RuntimeRecycles()),
			zap.String("error", message))
	}
	if e.config.LogRequestRoutes {
		e.logger.Warn("HydraRequest",
			zap.String("status", "fail"),
			zap.String("method", state.requestMethod),
			zap.String("route", state.routeURL),
			zap.String("request_id", state.requestID),
			zap.Int("http_status", 500),
			zap.Float64("total_ms", float64(totalUs)/1000.0),
			zap.String("error", message))
	}
	e.logger.Error("SSR render failed",
		zap.String("route", state.routeURL),
		zap.String("request_id", state.requestID),
		zap.String("error", message))

	result := SsrRenderResult{
		HTML:    htmlshell.ErrorPage(message),
		Status:  500,
		Headers: map[string]string{"X-Request-Id": state.requestID},
	}
	e.applySecurityHeaders(&result, false, state.scriptNonce)
	return result
}

// failureResult covers failures before the pipeline's metrics window opens
// (uninitialized engine, unserializable props).
func (e *Engine) failureResult(req hostadapter.Request, message string) SsrRenderResult {
	result := SsrRenderResult{
		HTML:   htmlshell.ErrorPage(message),
		Status: 500,
		Headers: map[string]string{
			"X-Request-Id": e.builder.ResolveRequestID(req),
		},
	}
	e.applySecurityHeaders(&result, false, "")
	return result
}

func (e *Engine) buildRouteURL(req hostadapter.Request, options RenderOptions) string {
	if options.URLOverride != "" {
		return options.URLOverride
	}
	if req == nil {
		return "/"
	}
	routeURL := req.Path()
	if routeURL == "" {
		routeURL = "/"
	}
	if query := req.Query(); query != "" {
		routeURL += "?" + query
	}
	return routeURL
}

// applySecurityHeaders adds the baseline headers and, in prod, a CSP unless
// the bundle already supplied one.
func (e *Engine) applySecurityHeaders(result *SsrRenderResult, wrappedWithShell bool, scriptNonce string) {
	setIfAbsent(result.Headers, "X-Content-Type-Options", "nosniff")
	setIfAbsent(result.Headers, "Referrer-Policy", "strict-origin-when-cross-origin")
	setIfAbsent(result.Headers, "X-Frame-Options", "DENY")

	if e.config.DevModeEnabled {
		return
	}
	if _, ok := result.Headers["Content-Security-Policy"]; ok {
		return
	}

	if wrappedWithShell && scriptNonce != "" {
		result.Headers["Content-Security-Policy"] =
			"default-src 'self'; script-src 'self' 'nonce-" + scriptNonce +
				"'; style-src 'self' 'unsafe-inline'; connect-src 'self'; img-src 'self' data:; " +
				"object-src 'none'; base-uri 'self'; frame-ancestors 'none'"
	} else {
		result.Headers["Content-Security-Policy"] =
			"default-src 'self'; object-src 'none'; base-uri 'self'; frame-ancestors 'none'"
	}
}

// tryParseSsrEnvelope probes for the {html, status?, headers?, redirect?}
// return shape. Anything that fails the probe, including malformed JSON
// that merely starts with '{', is raw HTML.
func tryParseSsrEnvelope(renderOutput string) (SsrRenderResult, bool) {
	trimmed := strings.TrimLeftFunc(renderOutput, func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\f' || r == '\v'
	})
	if !strings.HasPrefix(trimmed, "{") {
		return SsrRenderResult{}, false
	}

	var payload map[string]json.RawMessage
	if err := json.Unmarshal([]byte(renderOutput), &payload); err != nil {
		return SsrRenderResult{}, false
	}
	htmlRaw, hasHTML := payload["html"]
	_, hasRedirect := payload["redirect"]
	if !hasHTML && !hasRedirect {
		return SsrRenderResult{}, false
	}

	result := SsrRenderResult{Status: 200, Headers: map[string]string{}}
	if hasHTML {
		_ = json.Unmarshal(htmlRaw, &result.HTML)
	}

	if statusRaw, ok := payload["status"]; ok {
		var status int
		if json.Unmarshal(statusRaw, &status) == nil && status >= 100 && status <= 599 {
			result.Status = status
		}
	}

	if headersRaw, ok := payload["headers"]; ok {
		var headers map[string]json.RawMessage
		if json.Unmarshal(headersRaw, &headers) == nil {
			for name, valueRaw := range headers {
				if value, ok := coerceHeaderValue(valueRaw); ok {
					result.Headers[name] = value
				}
			}
		}
	}

	if redirectRaw, ok := payload["redirect"]; ok {
		var redirect string
		if json.Unmarshal(redirectRaw, &redirect) == nil {
			redirect = strings.TrimSpace(redirect)
			if redirect != "" {
				result.Headers["Location"] = redirect
				if result.Status < 300 || result.Status > 399 {
					result.Status = 302
				}
			}
		}
	}
	if _, ok := result.Headers["Location"]; ok && (result.Status < 300 || result.Status > 399) {
		result.Status = 302
	}

	return result, true
}

// coerceHeaderValue accepts string, bool and number header values; other
// JSON types are dropped.
func coerceHeaderValue(raw json.RawMessage) (string, bool) {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s, true
	}
	var b bool
	if json.Unmarshal(raw, &b) == nil {
		if b {
			return "true", true
		}
		return "false", true
	}
	var n json.Number
	if json.Unmarshal(raw, &n) == nil {
		return n.String(), true
	}
	return "", false
}

func isRedirect(result SsrRenderResult) bool {
	if result.Status < 300 || result.Status > 399 {
		return false
	}
	_, ok := result.Headers["Location"]
	return ok
}

func isLikelyFullDocument(html string) bool {
	return strings.Contains(html, "<html") ||
		strings.Contains(html, "<!doctype") ||
		strings.Contains(html, "<!DOCTYPE")
}

func extractPageID(props map[string]any) string {
	if route, ok := props["__hydra_route"].(map[string]any); ok {
		if pageID, ok := route["pageId"].(string); ok {
			return pageID
		}
	}
	if page, ok := props["page"].(string); ok {
		return page
	}
	return ""
}

const nonceChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"

// generateScriptNonce returns 24 chars of CSP nonce material.
func generateScriptNonce() string {
	var raw [24]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return ""
	}
	nonce := make([]byte, len(raw))
	for i, b := range raw {
		nonce[i] = nonceChars[int(b)%len(nonceChars)]
	}
	return string(nonce)
}

func setIfAbsent(headers map[string]string, name, value string) {
	if _, ok := headers[name]; !ok {
		headers[name] = value
	}
}

func cloneHeaders(headers map[string]string) map[string]string {
	out := make(map[string]string, len(headers))
	for name, value := range headers {
		out[name] = value
	}
	return out
}

func normalizedProbePath(path string) string {
	if path == "" || strings.HasPrefix(path, "/") {
		return path
	}
	return "/" + path
}
