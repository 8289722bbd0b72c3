// Package discovery scans source directories for archivable units.
package discovery

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dreamworks2050/dvd-archiver/internal/naming"
)

// File is one image file inside a unit, numbered from 1 in discovery order.
type File struct {
	Index int
	Path  string
}

// Unit is one discovered source folder carrying an identifier and at least
// one image file.
type Unit struct {
	Identifier string
	Title      string
	// Source is the configured source directory the unit was found under.
	Source string
	// Dir is the unit's own folder.
	Dir   string
	Files []File
}

var imageExtensions = map[string]struct{}{
	".iso": {},
	".img": {},
	".cdr": {},
}

// Scan walks each source directory and returns every folder whose name yields
// an identifier and which contains at least one image file. Folders without
// identifiers or without image files are skipped, not errors. Files within a
// unit keep directory order and are numbered sequentially starting at 1.
func Scan(sourceDirs []string) ([]Unit, error) {
	var units []Unit
	for _, source := range sourceDirs {
		source = strings.TrimSpace(source)
		if source == "" {
			continue
		}
		entries, err := os.ReadDir(source)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("read source %s: %w", source, err)
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			parsed, err := naming.Extract(entry.Name())
			if err != nil {
				continue
			}
			dir := filepath.Join(source, entry.Name())
			files, err := listImageFiles(dir)
			if err != nil {
				return nil, err
			}
			if len(files) == 0 {
				continue
			}
			units = append(units, Unit{
				Identifier: parsed.Identifier,
				Title:      parsed.Title,
				Source:     source,
				Dir:        dir,
				Files:      files,
			})
		}
	}
	return units, nil
}

// Identifiers returns the identifier of every unit, preserving order.
func Identifiers(units []Unit) []string {
	ids := make([]string, 0, len(units))
	for _, unit := range units {
		ids = append(ids, unit.Identifier)
	}
	return ids
}

// Find returns the unit with the given identifier, or false when absent.
func Find(units []Unit, identifier string) (Unit, bool) {
	for _, unit := range units {
		if unit.Identifier == identifier {
			return unit, true
		}
	}
	return Unit{}, false
}

func listImageFiles(dir string) ([]File, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read unit folder %s: %w", dir, err)
	}
	var files []File
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if _, ok := imageExtensions[ext]; !ok {
			continue
		}
		files = append(files, File{
			Index: len(files) + 1,
			Path:  filepath.Join(dir, entry.Name()),
		})
	}
	return files, nil
}
