package service

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// SetLatest atomically repoints the stable alias tree of a product directory
// at the given version. The tree is built complete in a temporary sibling
// directory and swapped in with remove-then-rename, so a concurrent reader
// sees either the old tree or the new one, never a partial mix.
func SetLatest(productDir, version string) error {
	verDir := filepath.Join(productDir, version)
	if st, err := os.Stat(verDir); err != nil || !st.IsDir() {
		return fmt.Errorf("unknown version: %s", version)
	}

	tmp := filepath.Join(productDir, "."+LatestName+"_tmp_"+uuid.NewString())
	if err := os.MkdirAll(tmp, 0755); err != nil {
		return fmt.Errorf("failed to create temp alias dir: %w", err)
	}
	cleanup := true
	defer func() {
		if cleanup {
			os.RemoveAll(tmp)
		}
	}()

	for _, name := range listAssetFiles(verDir) {
		if err := relSymlink(filepath.Join(verDir, name), filepath.Join(tmp, name)); err != nil {
			return err
		}
	}
	for _, plat := range listDirs(verDir) {
		platTmp := filepath.Join(tmp, plat)
		if err := os.MkdirAll(platTmp, 0755); err != nil {
			return fmt.Errorf("failed to create platform alias dir: %w", err)
		}
		for _, name := range listAssetFiles(filepath.Join(verDir, plat)) {
			if err := relSymlink(filepath.Join(verDir, plat, name), filepath.Join(platTmp, name)); err != nil {
				return err
			}
		}
	}

	latestRoot := filepath.Join(productDir, LatestName)
	if _, err := os.Lstat(latestRoot); err == nil {
		if err := os.RemoveAll(latestRoot); err != nil {
			return fmt.Errorf("failed to remove old alias tree: %w", err)
		}
	}
	if err := os.Rename(tmp, latestRoot); err != nil {
		return fmt.Errorf("failed to swap alias tree: %w", err)
	}
	cleanup = false
	return nil
}

// relSymlink creates link pointing at target through a relative path, so the
// alias tree stays valid if the store root is moved or bind-mounted.
func relSymlink(target, link string) error {
	rel, err := filepath.Rel(filepath.Dir(link), target)
	if err != nil {
		return fmt.Errorf("failed to relativize link target: %w", err)
	}
	if err := os.Symlink(rel, link); err != nil {
		return fmt.Errorf("failed to create alias: %w", err)
	}
	return nil
}

// LatestVersion resolves the stable version a product's alias tree points
// at. It inspects any one alias and extracts the version segment from its
// target. Returns "" when no pointer exists.
func LatestVersion(productDir string) string {
	latestRoot := filepath.Join(productDir, LatestName)
	if st, err := os.Stat(latestRoot); err != nil || !st.IsDir() {
		return ""
	}

	var found string
	filepath.WalkDir(latestRoot, func(p string, d fs.DirEntry, err error) error {
		if err != nil || found != "" {
			return filepath.SkipAll
		}
		if d.Type()&fs.ModeSymlink == 0 {
			return nil
		}
		if v := versionFromLinkTarget(productDir, p); v != "" {
			found = v
			return filepath.SkipAll
		}
		return nil
	})
	return found
}

// versionFromLinkTarget extracts a version directory name from an alias
// target path.
func versionFromLinkTarget(productDir, link string) string {
	target, err := os.Readlink(link)
	if err != nil {
		return ""
	}
	for _, part := range strings.Split(filepath.ToSlash(target), "/") {
		if part == "" || part == "." || part == ".." || isReservedVersionName(part) {
			continue
		}
		if st, err := os.Stat(filepath.Join(productDir, part)); err == nil && st.IsDir() {
			return part
		}
	}
	return ""
}

// EnsureLatest guarantees a stable pointer exists for ide/tools products,
// auto-promoting the highest-ranked version when it is missing. Extensions
// are never auto-promoted: their stable version is an operator decision, not
// an upload side effect. Returns the resolved stable version, or "".
func EnsureLatest(productDir, category string) (string, error) {
	versions := VersionsOf(productDir, category)
	if len(versions) == 0 {
		return "", nil
	}

	current := LatestVersion(productDir)
	if current != "" {
		if st, err := os.Stat(filepath.Join(productDir, current)); err == nil && st.IsDir() {
			return current, nil
		}
	}

	if category == CategoryExtensions {
		return "", nil
	}

	if err := SetLatest(productDir, versions[0]); err != nil {
		return "", err
	}
	return versions[0], nil
}
