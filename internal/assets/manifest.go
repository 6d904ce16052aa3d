// Package assets resolves browser asset URLs from a Vite-style build
// manifest.
package assets

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
)

// Assets are the resolved browser-facing paths for the HTML shell.
type Assets struct {
	CSSPath      string
	ClientJSPath string
}

type manifestEntry struct {
	File    string   `json:"file"`
	CSS     []string `json:"css"`
	Imports []string `json:"imports"`
	IsEntry bool     `json:"isEntry"`
}

// ResolveFromManifest reads the manifest and picks the client JS entry and
// a stylesheet. The error is soft: callers fall back to default asset
// paths when resolution fails.
func ResolveFromManifest(manifestPath, publicPrefix, clientEntryKey string) (Assets, error) {
	raw, err := os.ReadFile(manifestPath)
	if err != nil {
		return Assets{}, fmt.Errorf("manifest not found: %s", manifestPath)
	}

	var manifest map[string]manifestEntry
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return Assets{}, fmt.Errorf("manifest parse failed (%s): %w", manifestPath, err)
	}

	entry, ok := findClientEntry(manifest, clientEntryKey)
	if !ok {
		return Assets{}, fmt.Errorf("manifest has no client entry: %s", clientEntryKey)
	}

	assets := Assets{
		ClientJSPath: toPublicAssetPath(entry.File, publicPrefix),
	}
	if len(entry.CSS) > 0 {
		assets.CSSPath = toPublicAssetPath(entry.CSS[0], publicPrefix)
	}

	if assets.CSSPath == "" {
		for _, importKey := range entry.Imports {
			imported, ok := manifest[importKey]
			if !ok || len(imported.CSS) == 0 {
				continue
			}
			assets.CSSPath = toPublicAssetPath(imported.CSS[0], publicPrefix)
			break
		}
	}
	if assets.CSSPath == "" {
		if style, ok := manifest["style.css"]; ok && style.File != "" {
			assets.CSSPath = toPublicAssetPath(style.File, publicPrefix)
		}
	}
	if assets.CSSPath == "" {
		for _, key := range sortedKeys(manifest) {
			if strings.HasSuffix(manifest[key].File, ".css") {
				assets.CSSPath = toPublicAssetPath(manifest[key].File, publicPrefix)
				break
			}
		}
	}

	if assets.ClientJSPath == "" {
		return Assets{}, fmt.Errorf("manifest missing JS file for client entry")
	}
	return assets, nil
}

// findClientEntry prefers the explicit key, then any entry that smells like
// the client bundle, then the first JS entrypoint.
func findClientEntry(manifest map[string]manifestEntry, clientEntryKey string) (manifestEntry, bool) {
	if entry, ok := manifest[clientEntryKey]; ok {
		return entry, true
	}

	var fallback manifestEntry
	var haveFallback bool
	for _, key := range sortedKeys(manifest) {
		entry := manifest[key]
		if !entry.IsEntry || entry.File == "" {
			continue
		}
		if strings.Contains(key, "entry-client") || strings.Contains(entry.File, "client") {
			return entry, true
		}
		if !haveFallback && strings.HasSuffix(entry.File, ".js") {
			fallback = entry
			haveFallback = true
		}
	}
	return fallback, haveFallback
}

// NormalizePublicPrefix guarantees a leading slash and no trailing slash,
// defaulting to /assets.
func NormalizePublicPrefix(publicPrefix string) string {
	publicPrefix = strings.ReplaceAll(publicPrefix, "\\", "/")
	if publicPrefix == "" {
		return "/assets"
	}
	if !strings.HasPrefix(publicPrefix, "/") {
		publicPrefix = "/" + publicPrefix
	}
	for len(publicPrefix) > 1 && strings.HasSuffix(publicPrefix, "/") {
		publicPrefix = publicPrefix[:len(publicPrefix)-1]
	}
	return publicPrefix
}

func toPublicAssetPath(filePath, publicPrefix string) string {
	filePath = strings.ReplaceAll(filePath, "\\", "/")
	for strings.HasPrefix(filePath, "./") {
		filePath = filePath[2:]
	}

	switch {
	case filePath == "":
		return ""
	case strings.HasPrefix(filePath, "/"):
		return filePath
	case strings.HasPrefix(filePath, "assets/"):
		return "/" + filePath
	}
	return NormalizePublicPrefix(publicPrefix) + "/" + filePath
}

func sortedKeys(manifest map[string]manifestEntry) []string {
	keys := make([]string, 0, len(manifest))
	for key := range manifest {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
