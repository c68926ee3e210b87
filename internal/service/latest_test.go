package service_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osgate/releasehub/internal/service"
)

// makeVersion creates a version dir with a root asset and one platform asset.
func makeVersion(t *testing.T, pd, ver string) {
	t.Helper()
	vdir := filepath.Join(pd, ver)
	require.NoError(t, os.MkdirAll(filepath.Join(vdir, "linux-x64"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(vdir, "notes.txt"), []byte(ver), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(vdir, "linux-x64", "app.bin"), []byte(ver), 0644))
}

func TestSetLatestAndResolve(t *testing.T) {
	pd := t.TempDir()
	makeVersion(t, pd, "1.0.0")
	makeVersion(t, pd, "2.0.0")

	require.NoError(t, service.SetLatest(pd, "1.0.0"))
	assert.Equal(t, "1.0.0", service.LatestVersion(pd))

	// The alias tree mirrors the version layout through symlinks.
	link := filepath.Join(pd, "latest", "linux-x64", "app.bin")
	st, err := os.Lstat(link)
	require.NoError(t, err)
	assert.NotZero(t, st.Mode()&os.ModeSymlink)

	data, err := os.ReadFile(link)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", string(data))

	// Repointing replaces the whole tree.
	require.NoError(t, service.SetLatest(pd, "2.0.0"))
	assert.Equal(t, "2.0.0", service.LatestVersion(pd))
	data, err = os.ReadFile(link)
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", string(data))
}

func TestSetLatestConcurrentResolve(t *testing.T) {
	pd := t.TempDir()
	makeVersion(t, pd, "2.0.0")
	makeVersion(t, pd, "2.1.0")
	require.NoError(t, service.SetLatest(pd, "2.0.0"))

	complete := map[string]bool{"2.0.0": true, "2.1.0": true}

	done := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				// The swap window may expose a missing pointer, but never a
				// half-built tree or a mix of versions.
				if v := service.LatestVersion(pd); v != "" && !complete[v] {
					t.Errorf("resolved unexpected version %q", v)
				}
				if data, err := os.ReadFile(filepath.Join(pd, "latest", "notes.txt")); err == nil && !complete[string(data)] {
					t.Errorf("root alias served partial content %q", data)
				}
				if data, err := os.ReadFile(filepath.Join(pd, "latest", "linux-x64", "app.bin")); err == nil && !complete[string(data)] {
					t.Errorf("platform alias served partial content %q", data)
				}
			}
		}()
	}

	versions := []string{"2.1.0", "2.0.0"}
	for i := 0; i < 40; i++ {
		require.NoError(t, service.SetLatest(pd, versions[i%2]))
	}
	close(done)
	wg.Wait()

	assert.Equal(t, "2.0.0", service.LatestVersion(pd))
}

func TestSetLatestUnknownVersion(t *testing.T) {
	pd := t.TempDir()
	makeVersion(t, pd, "1.0.0")
	assert.Error(t, service.SetLatest(pd, "9.9.9"))
}

func TestLatestVersionWithoutPointer(t *testing.T) {
	pd := t.TempDir()
	makeVersion(t, pd, "1.0.0")
	assert.Empty(t, service.LatestVersion(pd))
}

func TestEnsureLatestPromotes(t *testing.T) {
	pd := t.TempDir()
	makeVersion(t, pd, "1.0.0")
	makeVersion(t, pd, "2.0.0")

	ver, err := service.EnsureLatest(pd, service.CategoryIde)
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", ver)
	assert.Equal(t, "2.0.0", service.LatestVersion(pd))
}

func TestEnsureLatestKeepsCurrentPointer(t *testing.T) {
	pd := t.TempDir()
	makeVersion(t, pd, "1.0.0")
	makeVersion(t, pd, "2.0.0")
	require.NoError(t, service.SetLatest(pd, "1.0.0"))

	ver, err := service.EnsureLatest(pd, service.CategoryIde)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", ver)
}

func TestEnsureLatestNeverPromotesExtensions(t *testing.T) {
	pd := t.TempDir()
	makeVersion(t, pd, "1.0.0")

	ver, err := service.EnsureLatest(pd, service.CategoryExtensions)
	require.NoError(t, err)
	assert.Empty(t, ver)
	assert.Empty(t, service.LatestVersion(pd))
}

func TestEnsureLatestToolsByMtime(t *testing.T) {
	pd := t.TempDir()
	makeVersion(t, pd, "build-old")
	makeVersion(t, pd, "build-new")

	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(pd, "build-old"), past, past))

	ver, err := service.EnsureLatest(pd, service.CategoryTools)
	require.NoError(t, err)
	assert.Equal(t, "build-new", ver)
}
