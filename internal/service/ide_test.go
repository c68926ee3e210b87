package service_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/osgate/releasehub/internal/model"
	"github.com/osgate/releasehub/internal/service"
	"github.com/osgate/releasehub/internal/store"
)

func newIdeRegistry(t *testing.T) (*service.IdeRegistry, string) {
	t.Helper()
	root := t.TempDir()
	st, err := store.NewIdeStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return service.NewIdeRegistry(root, st, zap.NewNop()), root
}

// placeIdeBuild writes a binary and its metadata sidecar. A nil meta writes
// the binary alone.
func placeIdeBuild(t *testing.T, root, project, ver, plat, binName string, meta map[string]string) string {
	t.Helper()
	dir := filepath.Join(root, "ide", project, ver, plat)
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, binName), []byte("installer"), 0644))
	if meta != nil {
		raw, err := json.Marshal(meta)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dir, binName+".json"), raw, 0644))
	}
	return dir
}

func goodMeta(project, ver, osType, arch string) map[string]string {
	return map[string]string{
		"sub_product_name": project,
		"version":          ver,
		"os_type":          osType,
		"arch":             arch,
	}
}

func TestIdeRegistryValidArtifact(t *testing.T) {
	reg, root := newIdeRegistry(t)
	placeIdeBuild(t, root, "myide", "1.0.0", "linux-x64", "myide-1.0.0.tar.gz",
		goodMeta("myide", "1.0.0", "linux", "x64"))
	require.NoError(t, reg.Rebuild())

	vers, err := reg.ListVersions("myide")
	require.NoError(t, err)
	require.Len(t, vers, 1)
	assert.Equal(t, "1.0.0", vers[0].Version)
	assert.False(t, vers[0].IsLatest)

	invalid, err := reg.ListInvalid("myide")
	require.NoError(t, err)
	assert.Empty(t, invalid)
}

func TestIdeRegistryReasonCodes(t *testing.T) {
	reg, root := newIdeRegistry(t)
	project := "myide"

	// no sidecar at all
	placeIdeBuild(t, root, project, "1.0.0", "linux-x64", "a.tar.gz", nil)
	// two sidecars
	dir := placeIdeBuild(t, root, project, "1.1.0", "linux-x64", "a.tar.gz",
		goodMeta(project, "1.1.0", "linux", "x64"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.tar.gz.json"), []byte("{}"), 0644))
	// sidecar without its binary
	dir = filepath.Join(root, "ide", project, "1.2.0", "linux-x64")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.tar.gz.json"), []byte("{}"), 0644))
	// sidecar that is not a JSON object
	dir = placeIdeBuild(t, root, project, "1.3.0", "linux-x64", "a.tar.gz", nil)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.tar.gz.json"), []byte("[1,2]"), 0644))
	// required field blank
	placeIdeBuild(t, root, project, "1.4.0", "linux-x64", "a.tar.gz",
		map[string]string{"sub_product_name": project, "version": "1.4.0", "os_type": "linux", "arch": "  "})
	// wrong project name
	placeIdeBuild(t, root, project, "1.5.0", "linux-x64", "a.tar.gz",
		goodMeta("otheride", "1.5.0", "linux", "x64"))
	// wrong version
	placeIdeBuild(t, root, project, "1.6.0", "linux-x64", "a.tar.gz",
		goodMeta(project, "1.0.0", "linux", "x64"))
	// meta platform differs from the directory
	placeIdeBuild(t, root, project, "1.7.0", "linux-x64", "a.tar.gz",
		goodMeta(project, "1.7.0", "windows", "x64"))

	require.NoError(t, reg.Rebuild())

	vers, err := reg.ListVersions(project)
	require.NoError(t, err)
	assert.Empty(t, vers)

	invalid, err := reg.ListInvalid(project)
	require.NoError(t, err)
	byVersion := map[string]model.IdeArtifact{}
	for _, a := range invalid {
		byVersion[a.Version] = a
	}
	assert.Equal(t, model.ReasonNoMetaJSON, byVersion["1.0.0"].InvalidReason)
	assert.Equal(t, model.ReasonMultipleMetaJSON, byVersion["1.1.0"].InvalidReason)
	assert.Equal(t, model.ReasonBinaryMissing, byVersion["1.2.0"].InvalidReason)
	assert.Equal(t, model.ReasonMetaUnparseable, byVersion["1.3.0"].InvalidReason)
	assert.Equal(t, model.ReasonMetaMissingFields, byVersion["1.4.0"].InvalidReason)
	assert.Equal(t, model.ReasonMetaProjectMismatch, byVersion["1.5.0"].InvalidReason)
	assert.Equal(t, model.ReasonMetaVersionMismatch, byVersion["1.6.0"].InvalidReason)
	assert.Equal(t, model.ReasonPlatformDirMismatch, byVersion["1.7.0"].InvalidReason)

	// Without a sidecar only the directory itself can be named.
	assert.Equal(t, "ide/myide/1.0.0/linux-x64/", byVersion["1.0.0"].MetaRelPath)
	// With a sidecar the rel paths point at the actual files.
	assert.Equal(t, "ide/myide/1.6.0/linux-x64/a.tar.gz", byVersion["1.6.0"].BinaryRelPath)
	assert.Equal(t, "ide/myide/1.6.0/linux-x64/a.tar.gz.json", byVersion["1.6.0"].MetaRelPath)
}

func TestIdeRegistryLatestAsset(t *testing.T) {
	reg, root := newIdeRegistry(t)
	placeIdeBuild(t, root, "myide", "1.0.0", "linux-x64", "myide-1.0.0.tar.gz",
		goodMeta("myide", "1.0.0", "linux", "x64"))
	placeIdeBuild(t, root, "myide", "2.0.0", "linux-x64", "myide-2.0.0.tar.gz",
		goodMeta("myide", "2.0.0", "linux", "x64"))
	placeIdeBuild(t, root, "myide", "2.0.0", "win32-x64", "myide-2.0.0.msi",
		goodMeta("myide", "2.0.0", "windows", "amd64"))

	require.NoError(t, service.SetLatest(filepath.Join(root, "ide", "myide"), "2.0.0"))
	require.NoError(t, reg.Rebuild())

	assert.Equal(t, "2.0.0", reg.StableLatest("myide"))

	vers, err := reg.ListVersions("myide")
	require.NoError(t, err)
	require.Len(t, vers, 2)
	assert.Equal(t, "2.0.0", vers[0].Version)
	assert.True(t, vers[0].IsLatest)
	assert.False(t, vers[1].IsLatest)

	rel, name, err := reg.PickLatestAsset("myide", "linux-x64")
	require.NoError(t, err)
	assert.Equal(t, "ide/myide/2.0.0/linux-x64/myide-2.0.0.tar.gz", rel)
	assert.Equal(t, "myide-2.0.0.tar.gz", name)

	// Meta aliases normalize to the directory token.
	rel, _, err = reg.PickLatestAsset("myide", "win32-x64")
	require.NoError(t, err)
	assert.Equal(t, "ide/myide/2.0.0/win32-x64/myide-2.0.0.msi", rel)

	// A platform without a latest build is a plain miss, never a fallback.
	rel, _, err = reg.PickLatestAsset("myide", "darwin-arm64")
	require.NoError(t, err)
	assert.Empty(t, rel)
}

func TestIdeRegistryUnsafeNames(t *testing.T) {
	reg, root := newIdeRegistry(t)
	// Backslash is a legal filename byte on Linux but never a safe segment.
	placeIdeBuild(t, root, `my\ide`, "1.0.0", "linux-x64", "a.tar.gz",
		goodMeta(`my\ide`, "1.0.0", "linux", "x64"))
	require.NoError(t, reg.Rebuild())

	vers, err := reg.ListVersions(`my\ide`)
	require.NoError(t, err)
	assert.Empty(t, vers)

	rel, _, err := reg.PickLatestAsset("../etc", "linux-x64")
	require.NoError(t, err)
	assert.Empty(t, rel)
}
