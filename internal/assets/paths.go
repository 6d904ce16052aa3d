package assets

import "strings"

func hasHTTPScheme(value string) bool {
	return strings.HasPrefix(value, "http://") || strings.HasPrefix(value, "https://")
}

// NormalizeBrowserPath makes a relative path browser-addressable by
// prefixing a slash; absolute paths and full URLs pass through.
func NormalizeBrowserPath(path string) string {
	if path == "" || hasHTTPScheme(path) || strings.HasPrefix(path, "/") {
		return path
	}
	return "/" + path
}

// JoinOriginAndPath glues a dev-server origin onto a browser path.
func JoinOriginAndPath(origin, path string) string {
	path = NormalizeBrowserPath(path)
	if origin == "" {
		return path
	}
	origin = strings.TrimRight(origin, "/")
	if path == "" {
		return origin
	}
	return origin + path
}
