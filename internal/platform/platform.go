// Package platform maps raw OS/arch strings to the canonical platform tokens
// used throughout the artifact store, and provides the version ordering used
// by the extensions registry.
package platform

import (
	"math"
	"strconv"
	"strings"
)

// Universal marks platform-independent artifacts.
const Universal = "universal"

// allowedTargets is the closed set of target platform tokens accepted for
// extension artifacts. Anything else normalizes to Universal.
var allowedTargets = map[string]struct{}{
	"win32-x64":    {},
	"win32-ia32":   {},
	"win32-arm64":  {},
	"linux-x64":    {},
	"linux-arm64":  {},
	"linux-armhf":  {},
	"alpine-x64":   {},
	"alpine-arm64": {},
	"darwin-x64":   {},
	"darwin-arm64": {},
	"web":          {},
	Universal:      {},
}

// canonical maps normalized (os, arch) pairs to platform tokens.
var canonical = map[[2]string]string{
	{"windows", "x86-64"}: "win32-x64",
	{"windows", "arm64"}:  "win32-arm64",
	{"linux", "x86-64"}:   "linux-x64",
	{"linux", "arm64"}:    "linux-arm64",
	{"linux", "armhf"}:    "linux-armhf",
	{"alpine", "x86-64"}:  "alpine-x64",
	{"alpine", "arm64"}:   "alpine-arm64",
	{"darwin", "x86-64"}:  "darwin-x64",
	{"darwin", "arm64"}:   "darwin-arm64",
}

// NormalizeOS folds known OS aliases to a canonical name.
func NormalizeOS(raw string) string {
	x := strings.ToLower(strings.TrimSpace(raw))
	switch x {
	case "win", "windows", "win32":
		return "windows"
	case "mac", "macos", "osx", "darwin":
		return "darwin"
	case "linux":
		return "linux"
	case "alpine":
		return "alpine"
	}
	return x
}

// NormalizeArch folds known architecture aliases to a canonical name.
func NormalizeArch(raw string) string {
	x := strings.ToLower(strings.TrimSpace(raw))
	switch x {
	case "x64", "x86_64", "x86-64", "amd64":
		return "x86-64"
	case "arm64", "aarch64":
		return "arm64"
	case "armhf", "armv7", "armv7l":
		return "armhf"
	}
	return x
}

// Normalize converts an OS and arch pair to a canonical platform token.
// Unmapped pairs fall back to "<os>-<arch>".
func Normalize(osRaw, archRaw string) string {
	osKey := NormalizeOS(osRaw)
	archKey := NormalizeArch(archRaw)
	if p, ok := canonical[[2]string{osKey, archKey}]; ok {
		return p
	}
	return osKey + "-" + archKey
}

// IsAllowedTarget reports whether tp is in the closed target platform set.
func IsAllowedTarget(tp string) bool {
	_, ok := allowedTargets[strings.ToLower(strings.TrimSpace(tp))]
	return ok
}

// NormalizeTarget maps a requested target platform to the closed set,
// falling back to Universal for empty or unknown values.
func NormalizeTarget(tp string) string {
	v := strings.ToLower(strings.TrimSpace(tp))
	if v == "" || v == Universal {
		return Universal
	}
	if _, ok := allowedTargets[v]; !ok {
		return Universal
	}
	return v
}

// Weights separating numeric tokens from alphabetic tokens in VersionKey.
// A digit run always outranks a letter run at the same position.
const (
	numericWeight = 10000000
	letterWeight  = 1
)

// VersionKey turns a version string into a comparable integer sequence.
// The string is tokenized into alternating digit runs and letter runs; digit
// runs contribute (numericWeight, value), letter runs contribute
// (letterWeight, ordinal...) per lowercased character. This ordering is the
// extensions registry contract and is intentionally not semver: prerelease
// tags do not sort below releases here. The releases listing uses a separate
// semver-aware comparator.
func VersionKey(v string) []int {
	out := make([]int, 0, len(v)*2)
	i := 0
	for i < len(v) {
		c := v[i]
		switch {
		case c >= '0' && c <= '9':
			j := i
			for j < len(v) && v[j] >= '0' && v[j] <= '9' {
				j++
			}
			n, err := strconv.ParseInt(v[i:j], 10, 64)
			if err != nil {
				n = math.MaxInt64
			}
			out = append(out, numericWeight, int(n))
			i = j
		case isLetter(c):
			j := i
			for j < len(v) && isLetter(v[j]) {
				j++
			}
			out = append(out, letterWeight)
			for _, r := range strings.ToLower(v[i:j]) {
				out = append(out, int(r))
			}
			i = j
		default:
			i++
		}
	}
	return append(out, 0)
}

// CompareVersions orders two version strings by VersionKey.
// Returns <0 if a sorts before b, 0 if equal, >0 otherwise.
func CompareVersions(a, b string) int {
	ka, kb := VersionKey(a), VersionKey(b)
	for i := 0; i < len(ka) && i < len(kb); i++ {
		if ka[i] != kb[i] {
			if ka[i] < kb[i] {
				return -1
			}
			return 1
		}
	}
	return len(ka) - len(kb)
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
