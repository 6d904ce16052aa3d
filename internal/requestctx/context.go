// Package requestctx composes the per-request JSON object the engine
// injects into props under __hydra_request: route info, negotiated locale
// and theme, and a sanitized view of headers and cookies.
package requestctx

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/hydrastack/go-hydra/hostadapter"
)

// Options is the normalized negotiation and filtering configuration.
// Supported* slices are in configured order; the matching sets are derived
// internally. All sets are lowercased by the config layer.
type Options struct {
	DefaultLocale           string
	LocaleQueryParam        string
	LocaleCookieName        string
	SupportedLocales        []string
	IncludeLocaleCandidates bool

	DefaultTheme           string
	ThemeQueryParam        string
	ThemeCookieName        string
	SupportedThemes        []string
	IncludeThemeCandidates bool

	IncludeCookies   bool
	IncludeCookieMap bool
	AllowedCookies   map[string]bool

	HeaderAllowlist map[string]bool
	HeaderBlocklist map[string]bool
}

// Builder builds request contexts and generates fallback request ids.
type Builder struct {
	opts             Options
	supportedLocales map[string]bool
	supportedThemes  map[string]bool
	requestIDCounter atomic.Uint64
}

// NewBuilder derives the lookup sets once so per-request work stays
// allocation-light.
func NewBuilder(opts Options) *Builder {
	b := &Builder{
		opts:             opts,
		supportedLocales: make(map[string]bool, len(opts.SupportedLocales)),
		supportedThemes:  make(map[string]bool, len(opts.SupportedThemes)),
	}
	for _, locale := range opts.SupportedLocales {
		b.supportedLocales[locale] = true
	}
	for _, theme := range opts.SupportedThemes {
		b.supportedThemes[theme] = true
	}
	return b
}

// ResolveRequestID returns the sanitized first token of X-Request-Id, or a
// generated hydra-<n> id when the header is absent or unusable.
func (b *Builder) ResolveRequestID(req hostadapter.Request) string {
	if req != nil {
		if id := sanitizeRequestID(firstHeaderToken(req.Header("x-request-id"))); id != "" {
			return id
		}
	}
	return "hydra-" + strconv.FormatUint(b.requestIDCounter.Add(1), 10)
}

// Build returns the request context as a JSON-ready map. Marshal with
// encoding/json for the compact wire form.
func (b *Builder) Build(req hostadapter.Request, routeURL, requestID string) map[string]any {
	context := map[string]any{
		"routeUrl":        routeURL,
		"requestId":       requestID,
		"locale":          b.opts.DefaultLocale,
		"theme":           b.opts.DefaultTheme,
		"themeCookieName": b.opts.ThemeCookieName,
		"themeQueryParam": b.opts.ThemeQueryParam,
	}
	supportedThemes := b.opts.SupportedThemes
	if len(supportedThemes) == 0 {
		supportedThemes = []string{b.opts.DefaultTheme}
	}
	context["themeSupportedThemes"] = supportedThemes

	if req == nil {
		context["routePath"] = routeURL
		context["pathWithQuery"] = routeURL
		context["url"] = routeURL
		if b.opts.IncludeLocaleCandidates {
			context["localeCandidates"] = []string{b.opts.DefaultLocale}
		}
		if b.opts.IncludeThemeCandidates {
			context["themeCandidates"] = []string{b.opts.DefaultTheme}
		}
		return context
	}

	routePath := req.Path()
	if routePath == "" {
		routePath = "/"
	}
	query := req.Query()
	pathWithQuery := routePath
	if query != "" {
		pathWithQuery += "?" + query
	}
	context["routePath"] = routePath
	context["pathWithQuery"] = pathWithQuery

	host := firstHeaderToken(req.Header("x-forwarded-host"))
	if host == "" {
		host = firstHeaderToken(req.Header("host"))
	}
	proto := strings.ToLower(firstHeaderToken(req.Header("x-forwarded-proto")))
	if proto != "http" && proto != "https" {
		proto = "http"
	}
	if host != "" {
		context["url"] = proto + "://" + host + pathWithQuery
	} else {
		context["url"] = pathWithQuery
	}
	context["path"] = routePath
	context["query"] = query
	context["method"] = req.Method()

	locale, localeCandidates := b.resolveLocale(req)
	context["locale"] = locale
	if b.opts.IncludeLocaleCandidates {
		context["localeCandidates"] = localeCandidates
	}

	theme, themeCandidates := b.resolveTheme(req)
	context["theme"] = theme
	if b.opts.IncludeThemeCandidates {
		context["themeCandidates"] = themeCandidates
	}

	context["headers"] = b.filterHeaders(req.Headers())

	cookieHeader, cookieMap := b.collectCookies(req)
	if b.opts.IncludeCookies {
		context["cookies"] = cookieHeader
	} else {
		context["cookies"] = ""
	}
	if b.opts.IncludeCookieMap {
		context["cookieMap"] = cookieMap
	}

	return context
}

// BuildJSON is Build serialized to compact JSON.
func (b *Builder) BuildJSON(req hostadapter.Request, routeURL, requestID string) (string, error) {
	encoded, err := json.Marshal(b.Build(req, routeURL, requestID))
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

func (b *Builder) resolveLocale(req hostadapter.Request) (string, []string) {
	var raw []string
	if b.opts.LocaleCookieName != "" {
		if cookie := req.Cookie(b.opts.LocaleCookieName); cookie != "" {
			raw = append(raw, cookie)
		}
	}
	if b.opts.LocaleQueryParam != "" {
		if param := req.Parameter(b.opts.LocaleQueryParam); param != "" {
			raw = append(raw, param)
		}
	}
	raw = append(raw, parseAcceptLanguageCandidates(req.Header("accept-language"))...)
	raw = append(raw, b.opts.DefaultLocale)

	candidates := make([]string, 0, len(raw))
	for _, candidate := range raw {
		normalized := normalizeLocaleTag(candidate)
		if normalized == "" {
			continue
		}
		for _, fallback := range localeFallbackChain(normalized) {
			candidates = appendUnique(candidates, fallback)
		}
	}

	resolved := b.opts.DefaultLocale
	if resolved == "" {
		resolved = "en"
	}
	for _, candidate := range candidates {
		if len(b.supportedLocales) == 0 || b.supportedLocales[candidate] {
			resolved = candidate
			break
		}
	}
	if len(b.supportedLocales) > 0 && !b.supportedLocales[resolved] && len(b.opts.SupportedLocales) > 0 {
		resolved = b.opts.SupportedLocales[0]
	}
	return resolved, candidates
}

func (b *Builder) resolveTheme(req hostadapter.Request) (string, []string) {
	var raw []string
	if b.opts.ThemeCookieName != "" {
		if cookie := req.Cookie(b.opts.ThemeCookieName); cookie != "" {
			raw = append(raw, cookie)
		}
	}
	if b.opts.ThemeQueryParam != "" {
		if param := req.Parameter(b.opts.ThemeQueryParam); param != "" {
			raw = append(raw, param)
		}
	}
	raw = append(raw, b.opts.DefaultTheme)

	candidates := make([]string, 0, len(raw))
	for _, candidate := range raw {
		candidates = appendUnique(candidates, normalizeThemeTag(candidate))
	}

	resolved := b.opts.DefaultTheme
	if resolved == "" {
		resolved = "ocean"
	}
	for _, candidate := range candidates {
		if len(b.supportedThemes) == 0 || b.supportedThemes[candidate] {
			resolved = candidate
			break
		}
	}
	if len(b.supportedThemes) > 0 && !b.supportedThemes[resolved] && len(b.opts.SupportedThemes) > 0 {
		resolved = b.opts.SupportedThemes[0]
	}
	return resolved, candidates
}

func (b *Builder) filterHeaders(headers map[string]string) map[string]string {
	filtered := make(map[string]string, len(headers))
	for name, value := range headers {
		normalized := strings.ToLower(name)
		if strings.HasPrefix(normalized, "x-forwarded-") {
			continue
		}
		switch normalized {
		case "authorization", "proxy-authorization", "cookie", "set-cookie", "x-api-key":
			continue
		}
		if len(b.opts.HeaderAllowlist) > 0 && !b.opts.HeaderAllowlist[normalized] {
			continue
		}
		if b.opts.HeaderBlocklist[normalized] {
			continue
		}
		filtered[name] = value
	}
	return filtered
}

func (b *Builder) collectCookies(req hostadapter.Request) (string, map[string]string) {
	cookieMap := map[string]string{}
	if !b.opts.IncludeCookies && !b.opts.IncludeCookieMap {
		return "", cookieMap
	}

	cookies := req.Cookies()
	names := make([]string, 0, len(cookies))
	for name := range cookies {
		if len(b.opts.AllowedCookies) > 0 && !b.opts.AllowedCookies[strings.ToLower(name)] {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	var header strings.Builder
	for i, name := range names {
		if b.opts.IncludeCookieMap {
			cookieMap[name] = cookies[name]
		}
		if b.opts.IncludeCookies {
			if i > 0 {
				header.WriteString("; ")
			}
			header.WriteString(name)
			header.WriteByte('=')
			header.WriteString(cookies[name])
		}
	}

	cookieHeader := header.String()
	if b.opts.IncludeCookies && cookieHeader == "" && len(b.opts.AllowedCookies) == 0 {
		cookieHeader = req.Header("cookie")
	}
	return cookieHeader, cookieMap
}
