// Package seed creates demo projects and releases in an empty artifact
// store, for local development and portal demos.
package seed

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/osgate/releasehub/internal/model"
	"github.com/osgate/releasehub/internal/service"
)

// DemoProject describes one seeded project. The "universal" platform puts
// files directly in the version root.
type DemoProject struct {
	ID        string
	Versions  []string
	Platforms []string
}

// demoCategories is the seeded demo layout. Extensions are intentionally
// not seeded: they only enter the store through publishing.
var demoCategories = map[string][]DemoProject{
	service.CategoryIde: {
		{
			ID:        "myide",
			Versions:  []string{"1.0.0", "1.1.0", "2.0.0-rc1", "2.0.0"},
			Platforms: []string{"universal", "linux-x64", "win32-x64"},
		},
		{
			ID:        "anotheride",
			Versions:  []string{"0.5.0"},
			Platforms: []string{"win32-x64"},
		},
	},
}

// noteVariants rotate across seeded versions to exercise the portal's
// case-insensitive notes discovery.
var noteVariants = []string{"release.md", "Release.MD", "readme.md"}

// Run seeds the demo layout under root. A non-empty root is refused unless
// force is set, in which case its contents are wiped first.
func Run(root string, force bool, logger *zap.Logger) error {
	if err := ensureCleanRoot(root, force); err != nil {
		return err
	}

	for cat, projects := range demoCategories {
		logger.Info("seeding category", zap.String("category", cat))
		for _, p := range projects {
			logger.Info("seeding project", zap.String("project", p.ID))
			for idx, ver := range p.Versions {
				if err := createRelease(filepath.Join(root, cat), p.ID, ver, p.Platforms, idx); err != nil {
					return fmt.Errorf("failed to seed %s/%s/%s: %w", cat, p.ID, ver, err)
				}
			}
		}
	}
	return nil
}

func ensureCleanRoot(root string, force bool) error {
	entries, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return os.MkdirAll(root, 0755)
	}
	if err != nil {
		return fmt.Errorf("failed to read store root: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}
	if !force {
		return fmt.Errorf("%s already exists and is not empty, use --force to wipe it before seeding", root)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(root, e.Name())); err != nil {
			return fmt.Errorf("failed to wipe store root: %w", err)
		}
	}
	return nil
}

// createRelease writes one version directory: a RELEASED_AT stamp, dummy
// artifacts with checksum sidecars, installer metadata, and rotating notes.
func createRelease(catRoot, project, version string, platforms []string, versionIndex int) error {
	vdir := filepath.Join(catRoot, project, version)
	if err := os.MkdirAll(vdir, 0755); err != nil {
		return err
	}

	// Older timestamps per version so ordering looks realistic.
	releasedAt := time.Now().Unix() - int64(versionIndex)*86400
	if err := os.WriteFile(filepath.Join(vdir, "RELEASED_AT"), []byte(fmt.Sprintf("%d", releasedAt)), 0644); err != nil {
		return err
	}

	for _, plat := range platforms {
		if plat == "universal" {
			name := fmt.Sprintf("%s-%s.zip", project, version)
			if err := writeDummyFile(filepath.Join(vdir, name), 2<<20); err != nil {
				return err
			}
			if err := os.WriteFile(filepath.Join(vdir, name+".sha256"), []byte("dummy-checksum-universal\n"), 0644); err != nil {
				return err
			}
			continue
		}

		platDir := filepath.Join(vdir, plat)
		if err := os.MkdirAll(platDir, 0755); err != nil {
			return err
		}

		artifact := fmt.Sprintf("%s-%s-%s%s", project, version, plat, artifactExt(plat))
		if err := writeDummyFile(filepath.Join(platDir, artifact), dummySize(versionIndex)); err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(platDir, artifact+".sha256"), []byte("dummy-checksum-platform\n"), 0644); err != nil {
			return err
		}
		if err := writeMeta(platDir, artifact, project, version, plat); err != nil {
			return err
		}
	}

	return writeDemoNotes(vdir, project, version, versionIndex)
}

// writeMeta writes the metadata sidecar that makes the seeded build pass
// index validation.
func writeMeta(platDir, artifact, project, version, plat string) error {
	osPart, archPart, ok := strings.Cut(plat, "-")
	if !ok {
		return fmt.Errorf("malformed platform token: %s", plat)
	}
	meta := model.IdeMeta{
		SubProductName: project,
		Version:        version,
		OSType:         osPart,
		Arch:           archPart,
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(platDir, artifact+model.MetaSuffix), append(data, '\n'), 0644)
}

// artifactExt picks a realistic artifact extension per platform.
func artifactExt(plat string) string {
	switch {
	case strings.HasPrefix(plat, "win32"):
		return ".msi"
	case strings.HasPrefix(plat, "darwin"):
		return ".dmg"
	default:
		return ".tar.gz"
	}
}

// dummySize varies artifact sizes across versions so size rendering shows
// different magnitudes.
func dummySize(versionIndex int) int64 {
	sizes := []int64{5 << 20, 15 << 20, 40 << 20}
	return sizes[versionIndex%len(sizes)]
}

// writeDummyFile creates a zero-filled file of the given size.
func writeDummyFile(path string, size int64) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	block := make([]byte, 1024)
	for i := range block {
		block[i] = '0'
	}
	for size > 0 {
		chunk := block
		if size < int64(len(block)) {
			chunk = block[:size]
		}
		if _, err := f.Write(chunk); err != nil {
			return err
		}
		size -= int64(len(chunk))
	}
	return nil
}

func writeDemoNotes(vdir, project, version string, versionIndex int) error {
	name := noteVariants[versionIndex%len(noteVariants)]
	text := fmt.Sprintf(`# Release notes for %s %s

- Demo seeded at epoch: %d
- This is a demo release notes file used by the release portal UI.
- You can replace this file with your real release.md.

## Changes
- Feature #%d: demo change description.
- Various internal improvements and bug fixes.
`, project, version, time.Now().Unix(), versionIndex+1)
	return os.WriteFile(filepath.Join(vdir, name), []byte(text), 0644)
}
