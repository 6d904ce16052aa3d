package requestctx

import (
	"sort"
	"strconv"
	"strings"
)

// firstHeaderToken returns the first comma-separated token of a header
// value, trimmed. Proxies append to x-forwarded-* style headers; the first
// token is the original client value.
func firstHeaderToken(value string) string {
	if value == "" {
		return ""
	}
	if comma := strings.IndexByte(value, ','); comma >= 0 {
		value = value[:comma]
	}
	return strings.TrimSpace(value)
}

const maxRequestIDLen = 64

// sanitizeRequestID keeps [A-Za-z0-9._-] and caps the length so a hostile
// X-Request-Id cannot smuggle log noise or unbounded bytes.
func sanitizeRequestID(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}

	var sanitized strings.Builder
	sanitized.Grow(len(value))
	for _, ch := range value {
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9',
			ch == '-', ch == '_', ch == '.':
			sanitized.WriteRune(ch)
		}
	}

	out := sanitized.String()
	if len(out) > maxRequestIDLen {
		out = out[:maxRequestIDLen]
	}
	return out
}

// normalizeLocaleTag lowercases, maps underscores to dashes, strips
// anything that is not alphanumeric or a dash, and collapses repeated or
// leading/trailing dashes: "fr_CA" -> "fr-ca".
func normalizeLocaleTag(locale string) string {
	locale = strings.TrimSpace(locale)
	if locale == "" {
		return ""
	}

	locale = strings.ToLower(strings.ReplaceAll(locale, "_", "-"))

	var normalized strings.Builder
	normalized.Grow(len(locale))
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

// normalizeThemeTag lowercases and strips anything that is not
// alphanumeric, '-' or '_'.
func normalizeThemeTag(theme string) string {
	theme = strings.ToLower(strings.TrimSpace(theme))
	if theme == "" {
		return ""
	}

	var normalized strings.Builder
	normalized.Grow(len(theme))
	for _, ch := range theme {
		switch {
		case ch >= 'a' && ch <= 'z', ch >= '0' && ch <= '9', ch == '-', ch == '_':
			normalized.WriteRune(ch)
		}
	}
	return normalized.String()
}

// localeFallbackChain expands "fr-ca-quebec" into
// ["fr-ca-quebec", "fr-ca", "fr"].
func localeFallbackChain(normalizedLocale string) []string {
	var chain []string
	current := normalizedLocale
	for current != "" {
		chain = append(chain, current)
		separator := strings.LastIndexByte(current, '-')
		if separator < 0 {
			break
		}
		current = current[:separator]
	}
	return chain
}

type acceptLanguageItem struct {
	locale  string
	quality float64
	order   int
}

// parseAcceptLanguageCandidates returns the header's language tags ordered
// by quality (stable on ties). Wildcards and q<=0 entries are dropped;
// unparseable q values count as 0.
func parseAcceptLanguageCandidates(headerValue string) []string {
	var parsed []acceptLanguageItem
	order := 0

	for _, chunk := range strings.Split(headerValue, ",") {
		token := strings.TrimSpace(chunk)
		if token == "" {
			continue
		}

		language := token
		quality := 1.0
		if semicolon := strings.IndexByte(token, ';'); semicolon >= 0 {
			language = strings.TrimSpace(token[:semicolon])
			for _, param := range strings.Split(token[semicolon+1:], ";") {
				param = strings.TrimSpace(param)
				equals := strings.IndexByte(param, '=')
				if equals < 0 {
					continue
				}
				key := strings.ToLower(strings.TrimSpace(param[:equals]))
				value := strings.TrimSpace(param[equals+1:])
				if key == "q" {
					q, err := strconv.ParseFloat(value, 64)
					if err != nil {
						q = 0
					}
					quality = q
				}
			}
		}

		if language == "" || language == "*" || quality <= 0 {
			continue
		}
		parsed = append(parsed, acceptLanguageItem{locale: language, quality: quality, order: order})
		order++
	}

	sort.SliceStable(parsed, func(i, j int) bool {
		if parsed[i].quality == parsed[j].quality {
			return parsed[i].order < parsed[j].order
		}
		return parsed[i].quality > parsed[j].quality
	})

	ordered := make([]string, 0, len(parsed))
	for _, item := range parsed {
		ordered = append(ordered, item.locale)
	}
	return ordered
}

func appendUnique(values []string, value string) []string {
	if value == "" {
		return values
	}
	for _, existing := range values {
		if existing == value {
			return values
		}
	}
	return append(values, value)
}
