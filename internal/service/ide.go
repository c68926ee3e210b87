package service

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/osgate/releasehub/internal/model"
	"github.com/osgate/releasehub/internal/platform"
	"github.com/osgate/releasehub/internal/store"
)

// IdeRegistry indexes installer artifacts under ide/<project>/<version>/<platform>/.
// Each platform directory must hold exactly one binary plus its metadata
// sidecar (binary name + ".json"); anything else is indexed as invalid with a
// reason code so operators can see what went wrong without shelling in.
type IdeRegistry struct {
	root      string
	store     *store.IdeStore
	logger    *zap.Logger
	rebuildMu sync.Mutex
}

// NewIdeRegistry creates a registry over the store root.
func NewIdeRegistry(root string, st *store.IdeStore, logger *zap.Logger) *IdeRegistry {
	return &IdeRegistry{
		root:   root,
		store:  st,
		logger: logger,
	}
}

// IdeRoot returns the ide directory of the artifact store.
func (r *IdeRegistry) IdeRoot() string {
	return filepath.Join(r.root, CategoryIde)
}

// Rebuild rescans the artifact store and replaces the index row set.
func (r *IdeRegistry) Rebuild() error {
	r.rebuildMu.Lock()
	defer r.rebuildMu.Unlock()

	start := time.Now()
	rows := r.scan()
	if err := r.store.ReplaceAll(rows); err != nil {
		return fmt.Errorf("failed to rebuild ide index: %w", err)
	}
	valid := 0
	for _, row := range rows {
		if row.IsValid {
			valid++
		}
	}
	r.logger.Info("ide index rebuilt",
		zap.Int("rows", len(rows)),
		zap.Int("valid", valid),
		zap.Duration("took", time.Since(start)),
	)
	return nil
}

func (r *IdeRegistry) scan() []model.IdeArtifact {
	now := time.Now().Unix()
	var out []model.IdeArtifact

	root := r.IdeRoot()
	for _, project := range listDirs(root) {
		project = strings.TrimSpace(project)
		if !SafeSegment(project) {
			continue
		}
		projectDir := filepath.Join(root, project)
		stableLatest := strings.TrimSpace(LatestVersion(projectDir))

		for _, ver := range listDirs(projectDir) {
			ver = strings.TrimSpace(ver)
			if !SafeSegment(ver) || strings.EqualFold(ver, LatestName) {
				continue
			}
			// Files directly under the version dir carry no metadata and
			// are ignored for installers.
			for _, plat := range listDirs(filepath.Join(projectDir, ver)) {
				plat = strings.TrimSpace(plat)
				if !SafeSegment(plat) || strings.EqualFold(plat, LatestName) {
					continue
				}
				row := r.inspectArtifact(project, ver, plat, now)
				row.IsLatest = stableLatest != "" && ver == stableLatest
				out = append(out, row)
			}
		}
	}
	return out
}

// inspectArtifact classifies one platform directory, producing either a valid
// row or one tagged with the first failing reason code. Rel paths are stored
// even for invalid rows so the admin surface can name the offending files.
func (r *IdeRegistry) inspectArtifact(project, ver, plat string, now int64) model.IdeArtifact {
	dir := filepath.Join(r.IdeRoot(), project, ver, plat)
	relDir := path.Join(CategoryIde, project, ver, plat)

	row := model.IdeArtifact{
		Project:       project,
		Version:       ver,
		Platform:      plat,
		MetaRelPath:   relDir + "/",
		BinaryRelPath: relDir + "/",
		PublishedAt:   now,
	}

	var metaNames []string
	for _, name := range listAssetFiles(dir) {
		if strings.HasSuffix(name, model.MetaSuffix) {
			metaNames = append(metaNames, name)
		}
	}
	switch {
	case len(metaNames) == 0:
		row.InvalidReason = model.ReasonNoMetaJSON
		return row
	case len(metaNames) > 1:
		row.InvalidReason = model.ReasonMultipleMetaJSON
		return row
	}

	metaName := metaNames[0]
	binaryName := strings.TrimSuffix(metaName, model.MetaSuffix)
	row.MetaRelPath = path.Join(relDir, metaName)
	row.BinaryRelPath = path.Join(relDir, binaryName)

	metaPath := filepath.Join(dir, metaName)
	binaryPath := filepath.Join(dir, binaryName)

	mt := fileMtime(metaPath, now)
	bt := mt
	binSt, binErr := os.Stat(binaryPath)
	if binErr == nil && !binSt.IsDir() {
		bt = fileMtime(binaryPath, mt)
	}
	row.PublishedAt = mt
	if bt > mt {
		row.PublishedAt = bt
	}

	if binErr != nil || binSt.IsDir() {
		row.InvalidReason = model.ReasonBinaryMissing
		return row
	}

	meta, ok := readIdeMeta(metaPath)
	if !ok {
		row.InvalidReason = model.ReasonMetaUnparseable
		return row
	}
	if meta.SubProductName == "" || meta.Version == "" || meta.OSType == "" || meta.Arch == "" {
		row.InvalidReason = model.ReasonMetaMissingFields
		return row
	}
	if meta.SubProductName != project {
		row.InvalidReason = model.ReasonMetaProjectMismatch
		return row
	}
	if meta.Version != ver {
		row.InvalidReason = model.ReasonMetaVersionMismatch
		return row
	}
	normPlat := platform.Normalize(meta.OSType, meta.Arch)
	if normPlat == "" {
		row.InvalidReason = model.ReasonPlatformNormalize
		return row
	}
	if normPlat != plat {
		row.InvalidReason = model.ReasonPlatformDirMismatch
		return row
	}

	row.IsValid = true
	return row
}

// readIdeMeta parses a metadata sidecar, trimming string fields. Returns
// false when the file is missing, is not valid JSON, or is not an object.
func readIdeMeta(p string) (model.IdeMeta, bool) {
	raw, err := os.ReadFile(p)
	if err != nil {
		return model.IdeMeta{}, false
	}
	var probe any
	if err := json.Unmarshal(raw, &probe); err != nil {
		return model.IdeMeta{}, false
	}
	if _, ok := probe.(map[string]any); !ok {
		return model.IdeMeta{}, false
	}
	var meta model.IdeMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return model.IdeMeta{}, false
	}
	meta.SubProductName = strings.TrimSpace(meta.SubProductName)
	meta.Version = strings.TrimSpace(meta.Version)
	meta.OSType = strings.TrimSpace(meta.OSType)
	meta.Arch = strings.TrimSpace(meta.Arch)
	return meta, true
}

// StableLatest resolves the operator-set latest version of a project live
// from the alias tree, or "".
func (r *IdeRegistry) StableLatest(project string) string {
	project = strings.TrimSpace(project)
	if !SafeSegment(project) {
		return ""
	}
	return strings.TrimSpace(LatestVersion(filepath.Join(r.IdeRoot(), project)))
}

// ListVersions returns versions with at least one valid platform artifact,
// newest published first within the index ordering.
func (r *IdeRegistry) ListVersions(project string) ([]model.IdeVersion, error) {
	project = strings.TrimSpace(project)
	if !SafeSegment(project) {
		return nil, nil
	}
	return r.store.ListVersions(project)
}

// PickLatestAsset resolves the binary of the stable latest version for an
// exact platform. There is no universal fallback for installers: a platform
// without its own build gets nothing.
func (r *IdeRegistry) PickLatestAsset(project, plat string) (relPath, filename string, err error) {
	project = strings.TrimSpace(project)
	plat = strings.TrimSpace(plat)
	if !SafeSegment(project) || !SafeSegment(plat) {
		return "", "", nil
	}
	return r.store.PickLatestAsset(project, plat)
}

// ListInvalid returns the invalid rows of a project for the admin surface.
func (r *IdeRegistry) ListInvalid(project string) ([]model.IdeArtifact, error) {
	project = strings.TrimSpace(project)
	if !SafeSegment(project) {
		return nil, nil
	}
	return r.store.ListInvalid(project)
}
