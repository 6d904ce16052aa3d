// Package typeconverter generates TypeScript interfaces for registered
// props structs so the bundle's props stay typed against the Go side.
package typeconverter

import (
	"os"
	"path/filepath"

	"github.com/tkrajina/typescriptify-golang-structs/typescriptify"
)

// Convert writes TypeScript interfaces for the given struct values to
// outPath. Used in dev mode only.
func Convert(outPath string, models ...any) error {
	if len(models) == 0 {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return err
	}

	converter := typescriptify.New()
	converter.CreateInterface = true
	converter.BackupDir = ""
	for _, model := range models {
		converter.Add(model)
	}
	return converter.ConvertToFile(outPath)
}
