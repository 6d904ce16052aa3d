// Package bundler rebuilds the SSR bundle from a source entry in dev mode
// so bundle edits reach the runtime pool without an external build step.
package bundler

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	esbuildApi "github.com/evanw/esbuild/pkg/api"
)

var loaders = map[string]esbuildApi.Loader{
	".png":   esbuildApi.LoaderFile,
	".svg":   esbuildApi.LoaderFile,
	".jpg":   esbuildApi.LoaderFile,
	".jpeg":  esbuildApi.LoaderFile,
	".gif":   esbuildApi.LoaderFile,
	".woff2": esbuildApi.LoaderFile,
	".woff":  esbuildApi.LoaderFile,
	".ttf":   esbuildApi.LoaderFile,
	".eot":   esbuildApi.LoaderFile,
}

// The runtime's own bootstrap covers globals; the banner only has to keep
// esbuild's CommonJS interop happy before the bootstrap runs.
var globalThisPolyfill = `var globalThis=typeof globalThis!=="undefined"?globalThis:this;`
var processPolyfill = `var process = {env: {NODE_ENV: "production"}};`

// Result is one finished server build.
type Result struct {
	JS           string
	Dependencies []string
}

// BuildServer bundles the SSR entry for the embedded interpreter.
func BuildServer(entryPath string) (Result, error) {
	result := esbuildApi.Build(esbuildApi.BuildOptions{
		EntryPoints:       []string{entryPath},
		Platform:          esbuildApi.PlatformNode,
		Bundle:            true,
		Write:             false,
		Outdir:            "/",
		Metafile:          true,
		MinifyWhitespace:  true,
		MinifyIdentifiers: true,
		MinifySyntax:      true,
		Loader:            loaders,
		LegalComments:     esbuildApi.LegalCommentsNone,
		Banner: map[string]string{
			"js": globalThisPolyfill + processPolyfill,
		},
	})
	if len(result.Errors) > 0 {
		first := result.Errors[0]
		location := "unknown"
		if first.Location != nil {
			location = fmt.Sprintf("%s:%d", first.Location.File, first.Location.Line)
		}
		return Result{}, fmt.Errorf("SSR bundle build failed: %s (%s)", first.Text, location)
	}

	var out Result
	for _, file := range result.OutputFiles {
		if strings.HasSuffix(file.Path, ".js") {
			out.JS = string(file.Contents)
			break
		}
	}
	out.Dependencies = dependencyPathsFromMetafile(result.Metafile)
	return out, nil
}

// BuildServerToFile bundles the entry and writes the result over outPath so
// the pool's factory can reload it. Returns the watched dependency set.
func BuildServerToFile(entryPath, outPath string) ([]string, error) {
	result, err := BuildServer(entryPath)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(outPath, []byte(result.JS), 0o644); err != nil {
		return nil, err
	}
	return result.Dependencies, nil
}

// metafileSchema represents the structure of esbuild metafile
type metafileSchema struct {
	Inputs map[string]any `json:"inputs"`
}

// dependencyPathsFromMetafile lists the source files feeding the build,
// skipping node_modules, so the watcher knows what to follow.
func dependencyPathsFromMetafile(metafile string) []string {
	var meta metafileSchema
	if err := json.Unmarshal([]byte(metafile), &meta); err != nil {
		return nil
	}

	var dependencyPaths []string
	for key := range meta.Inputs {
		if strings.Contains(key, "/node_modules/") {
			continue
		}
		if abs, err := filepath.Abs(key); err == nil {
			dependencyPaths = append(dependencyPaths, abs)
		}
	}
	return dependencyPaths
}
