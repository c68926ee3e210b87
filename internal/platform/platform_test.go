package platform_test

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/osgate/releasehub/internal/platform"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		os   string
		arch string
		want string
	}{
		{"windows", "x86-64", "win32-x64"},
		{"Windows", "amd64", "win32-x64"},
		{"win", "x64", "win32-x64"},
		{"win32", "aarch64", "win32-arm64"},
		{"linux", "x86_64", "linux-x64"},
		{"linux", "armv7l", "linux-armhf"},
		{"alpine", "arm64", "alpine-arm64"},
		{"mac", "arm64", "darwin-arm64"},
		{"osx", "x64", "darwin-x64"},
		{"darwin", "x86-64", "darwin-x64"},
		// unmapped pairs fall back to "<os>-<arch>"
		{"freebsd", "x64", "freebsd-x86-64"},
		{"linux", "riscv64", "linux-riscv64"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, platform.Normalize(tt.os, tt.arch), "Normalize(%q, %q)", tt.os, tt.arch)
	}
}

func TestNormalizeTarget(t *testing.T) {
	assert.Equal(t, "win32-x64", platform.NormalizeTarget("win32-x64"))
	assert.Equal(t, "win32-x64", platform.NormalizeTarget(" WIN32-X64 "))
	assert.Equal(t, "web", platform.NormalizeTarget("web"))
	assert.Equal(t, platform.Universal, platform.NormalizeTarget(""))
	assert.Equal(t, platform.Universal, platform.NormalizeTarget("universal"))
	assert.Equal(t, platform.Universal, platform.NormalizeTarget("sparc-v9"))
}

func TestIsAllowedTarget(t *testing.T) {
	assert.True(t, platform.IsAllowedTarget("linux-arm64"))
	assert.True(t, platform.IsAllowedTarget("universal"))
	assert.False(t, platform.IsAllowedTarget("windows-x86-64"))
	assert.False(t, platform.IsAllowedTarget(""))
}

func TestCompareVersionsNumeric(t *testing.T) {
	assert.Positive(t, platform.CompareVersions("1.2.10", "1.2.9"))
	assert.Positive(t, platform.CompareVersions("1.10", "1.9"))
	assert.Negative(t, platform.CompareVersions("0.9.1", "1.0.0"))
	assert.Zero(t, platform.CompareVersions("1.2.3", "1.2.3"))
}

func TestCompareVersionsTokenizing(t *testing.T) {
	// A trailing letter run outranks the bare version: this ordering is not
	// semver and prereleases do not sort below releases here.
	assert.Positive(t, platform.CompareVersions("1.0.0-alpha", "1.0.0"))
	// At the same position a digit run outranks a letter run.
	assert.Positive(t, platform.CompareVersions("1.2", "1.beta"))
	// Letter runs compare per character, case insensitive.
	assert.Negative(t, platform.CompareVersions("1.0-alpha", "1.0-beta"))
	assert.Zero(t, platform.CompareVersions("1.0-RC", "1.0-rc"))
}

func TestCompareVersionsSortOrder(t *testing.T) {
	versions := []string{"1.0.0", "0.9.0", "2.0.0", "1.10.0", "1.2.0"}
	sort.Slice(versions, func(i, j int) bool {
		return platform.CompareVersions(versions[i], versions[j]) > 0
	})
	assert.Equal(t, []string{"2.0.0", "1.10.0", "1.2.0", "1.0.0", "0.9.0"}, versions)
}
