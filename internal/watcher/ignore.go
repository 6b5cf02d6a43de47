package watcher

import (
	"path/filepath"
	"strings"
)

// Directory names that are never descended into. The usual suspects:
// dependency trees, VCS metadata, build outputs and tool caches.
var ignoredDirs = map[string]bool{
	"node_modules": true,
	".git":         true,
	".svn":         true,
	".hg":          true,
	"vendor":       true,
	"dist":         true,
	"build":        true,
	"out":          true,
	"target":       true,
	"coverage":     true,
	"__pycache__":  true,
	".next":        true,
	".nuxt":        true,
	".cache":       true,
	".idea":        true,
	".vscode":      true,
}

// File names never reported: per-ecosystem package metadata and lockfiles.
var ignoredFiles = map[string]bool{
	"package-lock.json": true,
	"yarn.lock":         true,
	"pnpm-lock.yaml":    true,
	"go.sum":            true,
	"Cargo.lock":        true,
	"poetry.lock":       true,
	"Gemfile.lock":      true,
	"composer.lock":     true,
	".DS_Store":         true,
}

// Extensions treated as binary: sized, never diffed.
var binaryExts = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".bmp": true,
	".ico": true, ".webp": true, ".svgz": true, ".tiff": true,
	".mp3": true, ".wav": true, ".flac": true, ".ogg": true, ".m4a": true,
	".mp4": true, ".avi": true, ".mov": true, ".mkv": true, ".webm": true,
	".zip": true, ".tar": true, ".gz": true, ".bz2": true, ".xz": true,
	".7z": true, ".rar": true,
	".pdf": true, ".doc": true, ".docx": true, ".xls": true, ".xlsx": true,
	".ppt": true, ".pptx": true,
	".ttf": true, ".otf": true, ".woff": true, ".woff2": true, ".eot": true,
	".exe": true, ".dll": true, ".so": true, ".dylib": true, ".bin": true,
	".wasm": true, ".class": true, ".o": true, ".a": true,
	".sqlite": true, ".sqlite3": true, ".db": true,
}

// ignorer decides which paths the watcher reports. extra holds per-project
// patterns from .codehive.yaml, matched against the relative path.
type ignorer struct {
	root  string
	extra []string
}

// ignoreDir reports whether a directory should not be watched or descended.
func (ig *ignorer) ignoreDir(name string) bool {
	if ignoredDirs[name] {
		return true
	}
	return strings.HasPrefix(name, ".") && name != "." && name != ".."
}

// ignorePath reports whether a file event should be dropped.
func (ig *ignorer) ignorePath(path string) bool {
	rel, err := filepath.Rel(ig.root, path)
	if err != nil {
		return true
	}
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if part == "" {
			continue
		}
		if ignoredDirs[part] {
			return true
		}
		if strings.HasPrefix(part, ".") {
			return true
		}
	}
	base := filepath.Base(path)
	if ignoredFiles[base] {
		return true
	}
	for _, pattern := range ig.extra {
		if ok, _ := filepath.Match(pattern, filepath.ToSlash(rel)); ok {
			return true
		}
		if ok, _ := filepath.Match(pattern, base); ok {
			return true
		}
	}
	return false
}

// isBinaryPath classifies by extension only; reading the file to sniff
// content would defeat the cheap-path goal.
func isBinaryPath(path string) bool {
	return binaryExts[strings.ToLower(filepath.Ext(path))]
}
