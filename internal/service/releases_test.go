package service_test

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osgate/releasehub/internal/service"
)

func TestCompareReleaseVersionsSemver(t *testing.T) {
	assert.Negative(t, service.CompareReleaseVersions("1.0.0-alpha", "1.0.0"))
	assert.Negative(t, service.CompareReleaseVersions("1.0.0-alpha", "1.0.0-beta"))
	assert.Positive(t, service.CompareReleaseVersions("2.0.0", "1.9.9"))
	assert.Zero(t, service.CompareReleaseVersions("1.2.3", "1.2.3"))
	// Partial versions are coerced and cross-compare with full semver.
	assert.Positive(t, service.CompareReleaseVersions("2.0", "1.0.0"))
	assert.Positive(t, service.CompareReleaseVersions("v2.0.0", "1.0.0"))
}

func TestCompareReleaseVersionsFallback(t *testing.T) {
	// Four-part versions are not semver and use the textual key.
	assert.Negative(t, service.CompareReleaseVersions("1.2.3.4", "1.2.3.5"))
	// Prerelease tags sort below finals in the fallback too.
	assert.Negative(t, service.CompareReleaseVersions("1.2.3.4-rc1", "1.2.3.4"))
	// Plain text sorts below anything numbered.
	assert.Negative(t, service.CompareReleaseVersions("build-42", "1.2.3.4"))
	// Non-version strings sort below semver versions.
	assert.Negative(t, service.CompareReleaseVersions("nightly", "0.0.1"))
}

func TestCompareReleaseVersionsOrdering(t *testing.T) {
	versions := []string{"1.0.0", "2.0.0-rc1", "2.0.0", "1.1.0", "0.5.0"}
	sort.Slice(versions, func(i, j int) bool {
		return service.CompareReleaseVersions(versions[i], versions[j]) > 0
	})
	assert.Equal(t, []string{"2.0.0", "2.0.0-rc1", "1.1.0", "1.0.0", "0.5.0"}, versions)
}

func TestVersionsOf(t *testing.T) {
	pd := t.TempDir()
	for _, v := range []string{"1.0.0", "2.0.0", "1.10.0", "latest"} {
		require.NoError(t, os.MkdirAll(filepath.Join(pd, v), 0755))
	}

	got := service.VersionsOf(pd, service.CategoryIde)
	assert.Equal(t, []string{"2.0.0", "1.10.0", "1.0.0"}, got)
}

func TestVersionsOfToolsByMtime(t *testing.T) {
	pd := t.TempDir()
	old := filepath.Join(pd, "build-1")
	recent := filepath.Join(pd, "build-2")
	require.NoError(t, os.MkdirAll(old, 0755))
	require.NoError(t, os.MkdirAll(recent, 0755))

	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(old, past, past))

	got := service.VersionsOf(pd, service.CategoryTools)
	assert.Equal(t, []string{"build-2", "build-1"}, got)
}

func TestReadReleaseNotes(t *testing.T) {
	vdir := t.TempDir()
	_, ok := service.ReadReleaseNotes(vdir)
	assert.False(t, ok)

	require.NoError(t, os.WriteFile(filepath.Join(vdir, "NOTES.md"), []byte("notes body"), 0644))
	notes, ok := service.ReadReleaseNotes(vdir)
	require.True(t, ok)
	assert.Equal(t, "NOTES.md", notes.Name)
	assert.Equal(t, "notes body", notes.Text)
	assert.Equal(t, "text", notes.Format)

	// RELEASE.md wins over NOTES.md, and .html switches the format.
	require.NoError(t, os.WriteFile(filepath.Join(vdir, "RELEASE.html"), []byte("<p>hi</p>"), 0644))
	notes, ok = service.ReadReleaseNotes(vdir)
	require.True(t, ok)
	assert.Equal(t, "RELEASE.html", notes.Name)
	assert.Equal(t, "html", notes.Format)
}

func TestCatalogReleases(t *testing.T) {
	root := t.TempDir()
	pd := filepath.Join(root, service.CategoryIde, "myide")
	require.NoError(t, os.MkdirAll(filepath.Join(pd, "1.0.0", "linux-x64"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(pd, "2.0.0"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(pd, "1.0.0", "linux-x64", "app.tar.gz"), []byte("bin"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(pd, "2.0.0", "universal.zip"), []byte("zip"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(pd, "2.0.0", "release.md"), []byte("# v2"), 0644))

	c := service.NewCatalog(root)
	releases := c.ReleasesFor(service.CategoryIde, "myide")
	require.Len(t, releases, 2)

	assert.Equal(t, "2.0.0", releases[0].Tag)
	// release.md is notes, not an asset
	require.Len(t, releases[0].Assets, 1)
	assert.Equal(t, "universal.zip", releases[0].Assets[0].Name)
	assert.Equal(t, "ide/myide/2.0.0/universal.zip", releases[0].Assets[0].Href)
	assert.Equal(t, "release.md", releases[0].NotesName)
	assert.Equal(t, "# v2", releases[0].Notes)
	assert.Equal(t, "# v2", releases[0].NotesHTML)
	assert.Equal(t, "text", releases[0].NotesFormat)

	assert.Equal(t, "1.0.0", releases[1].Tag)
	require.Len(t, releases[1].Assets, 1)
	assert.Equal(t, "linux-x64", releases[1].Assets[0].Platform)
	assert.Equal(t, "ide/myide/1.0.0/linux-x64/app.tar.gz", releases[1].Assets[0].Href)

	// EnsureLatest auto-promoted 2.0.0 for an ide project.
	assert.True(t, releases[0].IsLatest)
	assert.False(t, releases[1].IsLatest)
}

func TestCatalogProjectsTree(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, service.CategoryIde, "myide", "1.0.0"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, service.CategoryExtensions, "acme", "tool", "1.0.0", "universal"), 0755))

	c := service.NewCatalog(root)
	tree := c.ProjectsTree()
	require.Len(t, tree, 2)

	assert.Equal(t, service.CategoryExtensions, tree[1].ID)
	require.Len(t, tree[1].Projects, 1)
	assert.Equal(t, "acme/tool", tree[1].Projects[0].ID)
	assert.Equal(t, "acme.tool", tree[1].Projects[0].Name)
	assert.Equal(t, 1, tree[1].Projects[0].ReleasesCount)

	assert.Equal(t, service.CategoryIde, tree[0].ID)
	require.Len(t, tree[0].Projects, 1)
	assert.Equal(t, "myide", tree[0].Projects[0].ID)
}
