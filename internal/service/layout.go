// Package service implements the artifact registries, the latest pointer
// manager, and the release catalog over the on-disk artifact store.
package service

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Product categories served from the store root.
const (
	CategoryIde        = "ide"
	CategoryExtensions = "extensions"
	CategoryTools      = "tools"
)

// Categories lists every known category in display order.
var Categories = []string{CategoryIde, CategoryExtensions, CategoryTools}

// LatestName is the reserved directory name holding the stable alias tree.
const LatestName = "latest"

// reservedVersionNames are directory names that never denote a version.
var reservedVersionNames = map[string]struct{}{
	LatestName:          {},
	"latest-prerelease": {},
}

// excludedAssetNames are filenames never listed as downloadable assets.
var excludedAssetNames = map[string]struct{}{
	"readme.md":  {},
	"release.md": {},
}

// SafeSegment reports whether s can be used as a single path segment.
func SafeSegment(s string) bool {
	if s == "" || s == "." || s == ".." {
		return false
	}
	return !strings.ContainsAny(s, "\x00/\\")
}

// IsSafeRelPath reports whether p is a relative path with no traversal.
func IsSafeRelPath(p string) bool {
	if p == "" || strings.ContainsRune(p, '\x00') {
		return false
	}
	if strings.HasPrefix(p, "/") || strings.HasPrefix(p, "\\") {
		return false
	}
	if filepath.IsAbs(p) {
		return false
	}
	for _, part := range strings.Split(filepath.ToSlash(p), "/") {
		if part == ".." {
			return false
		}
	}
	return true
}

// HumanSize renders a byte count the way the portal displays it.
func HumanSize(n int64) string {
	const (
		kb = 1024
		mb = 1024 * kb
		gb = 1024 * mb
	)
	switch {
	case n < kb:
		return fmt.Sprintf("%d B", n)
	case n < mb:
		return fmt.Sprintf("%.1f KB", float64(n)/kb)
	case n < gb:
		return fmt.Sprintf("%.1f MB", float64(n)/mb)
	default:
		return fmt.Sprintf("%.1f GB", float64(n)/gb)
	}
}

// listDirs returns the names of subdirectories of p, sorted.
func listDirs(p string) []string {
	entries, err := os.ReadDir(p)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out
}

// listAssetFiles returns the regular files of p that count as assets,
// sorted, excluding the reserved non-asset names.
func listAssetFiles(p string) []string {
	entries, err := os.ReadDir(p)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, excluded := excludedAssetNames[strings.ToLower(e.Name())]; excluded {
			continue
		}
		out = append(out, e.Name())
	}
	sort.Strings(out)
	return out
}

// isReservedVersionName reports whether name is one of the alias directories.
func isReservedVersionName(name string) bool {
	_, ok := reservedVersionNames[strings.ToLower(name)]
	return ok
}

// dirMtime returns the directory's modification epoch, or 0.
func dirMtime(p string) int64 {
	st, err := os.Stat(p)
	if err != nil {
		return 0
	}
	return st.ModTime().Unix()
}

// fileMtime returns the file's modification epoch, or the fallback.
func fileMtime(p string, fallback int64) int64 {
	st, err := os.Stat(p)
	if err != nil {
		return fallback
	}
	return st.ModTime().Unix()
}
