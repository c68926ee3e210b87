// Package vsix reads extension package archives: member access, directory
// listing synthesis, and manifest extraction.
package vsix

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
)

// PackageJSONCandidates are the member names tried, in order, when locating
// the package manifest inside an archive.
var PackageJSONCandidates = []string{
	"extension/package.json",
	"package.json",
	"extension/extension/package.json",
	"Extension/package.json",
	"extension/Package.json",
	"Package.json",
}

// IsArchive reports whether data starts with a zip local-file signature.
func IsArchive(data []byte) bool {
	return len(data) >= 4 && data[0] == 'P' && data[1] == 'K'
}

// PackageMeta is the subset of the package manifest the gallery serves.
// Fields are optional in the source document; absent or mistyped values are
// left at their zero value.
type PackageMeta struct {
	Publisher   string
	Name        string
	Version     string
	DisplayName string
	Description string
	Icon        string
	Keywords    []string
	Categories  []string
}

// metaFromDocument applies the defaulting rules to a parsed generic manifest.
func metaFromDocument(doc map[string]any) PackageMeta {
	return PackageMeta{
		Publisher:   docString(doc, "publisher"),
		Name:        docString(doc, "name"),
		Version:     docString(doc, "version"),
		DisplayName: docString(doc, "displayName"),
		Description: docString(doc, "description"),
		Icon:        docString(doc, "icon"),
		Keywords:    docStrings(doc, "keywords"),
		Categories:  docStrings(doc, "categories"),
	}
}

func docString(doc map[string]any, key string) string {
	if v, ok := doc[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func docStrings(doc map[string]any, key string) []string {
	raw, ok := doc[key].([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, x := range raw {
		if s, ok := x.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, strings.TrimSpace(s))
		}
	}
	return out
}

// ReadMember returns the named member's contents, or false if absent.
func ReadMember(zr *zip.Reader, name string) ([]byte, bool) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, false
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, false
		}
		return data, true
	}
	return nil, false
}

// ReadFirst returns the contents and name of the first candidate member that
// exists in the archive.
func ReadFirst(zr *zip.Reader, candidates []string) ([]byte, string, bool) {
	for _, c := range candidates {
		if data, ok := ReadMember(zr, c); ok {
			return data, c, true
		}
	}
	return nil, "", false
}

// HasMember reports whether the archive contains the named member.
func HasMember(zr *zip.Reader, name string) bool {
	for _, f := range zr.File {
		if f.Name == name {
			return true
		}
	}
	return false
}

// Open opens the archive at path.
func Open(path string) (*zip.ReadCloser, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	return zr, nil
}

// ReadPackageMeta extracts the package manifest from the archive at path.
// Any failure yields an empty PackageMeta; the gallery falls back to
// directory-derived names in that case.
func ReadPackageMeta(path string) PackageMeta {
	zr, err := Open(path)
	if err != nil {
		return PackageMeta{}
	}
	defer zr.Close()
	return packageMetaFromReader(&zr.Reader)
}

// ReadPackageMetaBytes extracts the package manifest from an in-memory
// archive, used when validating uploads before anything touches disk.
func ReadPackageMetaBytes(data []byte) PackageMeta {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return PackageMeta{}
	}
	return packageMetaFromReader(zr)
}

func packageMetaFromReader(zr *zip.Reader) PackageMeta {
	raw, _, ok := ReadFirst(zr, PackageJSONCandidates)
	if !ok {
		return PackageMeta{}
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return PackageMeta{}
	}
	return metaFromDocument(doc)
}

// Children lists the immediate entries under prefix inside the archive,
// split into subdirectories and files, both sorted. An empty prefix lists
// the archive root.
func Children(zr *zip.Reader, prefix string) (dirs, files []string) {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	dirSet := map[string]struct{}{}
	fileSet := map[string]struct{}{}
	for _, f := range zr.File {
		name := f.Name
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		rest := name[len(prefix):]
		if rest == "" || rest == "/" {
			continue
		}
		part, _, found := strings.Cut(rest, "/")
		if found {
			dirSet[part] = struct{}{}
		} else {
			fileSet[part] = struct{}{}
		}
	}
	for d := range dirSet {
		dirs = append(dirs, d)
	}
	for f := range fileSet {
		files = append(files, f)
	}
	sort.Strings(dirs)
	sort.Strings(files)
	return dirs, files
}
