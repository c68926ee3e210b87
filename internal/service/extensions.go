package service

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/osgate/releasehub/internal/model"
	"github.com/osgate/releasehub/internal/platform"
	"github.com/osgate/releasehub/internal/store"
)

// ExtRegistry resolves extension artifacts against the SQLite index and the
// stable pointer on disk. The index is derived state: Rebuild regenerates it
// from the artifact store at any time.
type ExtRegistry struct {
	root      string
	store     *store.ExtStore
	logger    *zap.Logger
	rebuildMu sync.Mutex
}

// NewExtRegistry creates a registry over the store root.
func NewExtRegistry(root string, st *store.ExtStore, logger *zap.Logger) *ExtRegistry {
	return &ExtRegistry{
		root:   root,
		store:  st,
		logger: logger,
	}
}

// ExtRoot returns the extensions directory of the artifact store.
func (r *ExtRegistry) ExtRoot() string {
	return filepath.Join(r.root, CategoryExtensions)
}

// Dir returns the artifact directory for one (ns, name, version, platform).
func (r *ExtRegistry) Dir(ns, name, version, tp string) string {
	return filepath.Join(r.ExtRoot(), ns, name, version, tp)
}

// Rebuild rescans the artifact store and replaces the index row set.
// Serialized: one rebuild at a time per registry.
func (r *ExtRegistry) Rebuild() error {
	r.rebuildMu.Lock()
	defer r.rebuildMu.Unlock()

	start := time.Now()
	rows := r.scan()
	if err := r.store.ReplaceAll(rows); err != nil {
		return fmt.Errorf("failed to rebuild extensions index: %w", err)
	}
	r.logger.Info("extensions index rebuilt",
		zap.Int("rows", len(rows)),
		zap.Duration("took", time.Since(start)),
	)
	return nil
}

// scan walks extensions/<ns>/<name>/<version>/<platform>/ collecting every
// directory that holds the primary package file. Platform directories
// outside the allowed set are skipped entirely.
func (r *ExtRegistry) scan() []model.ExtensionRecord {
	now := time.Now().Unix()
	var out []model.ExtensionRecord

	root := r.ExtRoot()
	for _, nsName := range listDirs(root) {
		ns := strings.ToLower(strings.TrimSpace(nsName))
		if ns == "" {
			continue
		}
		for _, extName := range listDirs(filepath.Join(root, nsName)) {
			name := strings.ToLower(strings.TrimSpace(extName))
			if name == "" {
				continue
			}
			for _, ver := range listDirs(filepath.Join(root, nsName, extName)) {
				ver = strings.TrimSpace(ver)
				if ver == "" || isReservedVersionName(ver) {
					continue
				}
				for _, tpName := range listDirs(filepath.Join(root, nsName, extName, ver)) {
					if !platform.IsAllowedTarget(tpName) {
						continue
					}
					dir := filepath.Join(root, nsName, extName, ver, tpName)
					vsixPath := filepath.Join(dir, model.VsixFileName)
					st, err := os.Stat(vsixPath)
					if err != nil || st.IsDir() {
						continue
					}
					out = append(out, model.ExtensionRecord{
						Namespace:      ns,
						Name:           name,
						Version:        ver,
						TargetPlatform: platform.NormalizeTarget(tpName),
						DirPath:        dir,
						PublishedAt:    fileMtime(vsixPath, now),
					})
				}
			}
		}
	}
	return out
}

// ListPairs returns distinct (namespace, name) pairs, optionally filtered by
// a case-insensitive substring of "namespace.name".
func (r *ExtRegistry) ListPairs(searchText string) ([][2]string, error) {
	return r.store.ListPairs(strings.ToLower(strings.TrimSpace(searchText)))
}

// ListRecords returns every row of an extension sorted by the tokenizing
// version key, newest first. Platform rows of the same version are not
// deduplicated.
func (r *ExtRegistry) ListRecords(namespace, name string) ([]model.ExtensionRecord, error) {
	recs, err := r.store.ListRecords(
		strings.ToLower(strings.TrimSpace(namespace)),
		strings.ToLower(strings.TrimSpace(name)),
	)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(recs, func(i, j int) bool {
		return platform.CompareVersions(recs[i].Version, recs[j].Version) > 0
	})
	return recs, nil
}

// PickRecord picks one row for an exact version honoring the platform
// preference: exact platform first, then universal, then the first remaining
// row. With no preference, universal wins over the first row. Returns nil
// when the version has no rows at all.
func (r *ExtRegistry) PickRecord(namespace, name, version, tpReq string) (*model.ExtensionRecord, error) {
	recs, err := r.ListRecords(namespace, name)
	if err != nil {
		return nil, err
	}

	version = strings.TrimSpace(version)
	var candidates []model.ExtensionRecord
	for _, rec := range recs {
		if rec.Version == version {
			candidates = append(candidates, rec)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	wantTp := platform.NormalizeTarget(tpReq)
	if tpReq != "" && wantTp != platform.Universal {
		for i := range candidates {
			if candidates[i].TargetPlatform == wantTp {
				return &candidates[i], nil
			}
		}
	}
	for i := range candidates {
		if candidates[i].TargetPlatform == platform.Universal {
			return &candidates[i], nil
		}
	}
	return &candidates[0], nil
}

// StableVersion resolves the operator-set stable version of an extension
// live from the alias tree, or "".
func (r *ExtRegistry) StableVersion(namespace, name string) string {
	return LatestVersion(filepath.Join(r.ExtRoot(), strings.ToLower(namespace), strings.ToLower(name)))
}

// PickLatest returns the rows to serve as "latest" for a platform
// preference. The stable pointer version wins when it has at least one
// platform-compatible row; otherwise the highest compatible version is
// chosen. All rows of the chosen version are returned, exposing every
// platform build of it.
func (r *ExtRegistry) PickLatest(namespace, name, tpEff string) ([]model.ExtensionRecord, error) {
	recs, err := r.ListRecords(namespace, name)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}

	compatible := func(rec model.ExtensionRecord) bool {
		return tpEff == platform.Universal ||
			rec.TargetPlatform == tpEff ||
			rec.TargetPlatform == platform.Universal
	}

	if stable := r.StableVersion(namespace, name); stable != "" {
		var rows []model.ExtensionRecord
		for _, rec := range recs {
			if rec.Version == stable && compatible(rec) {
				rows = append(rows, rec)
			}
		}
		if len(rows) > 0 {
			return rows, nil
		}
	}

	var filtered []model.ExtensionRecord
	for _, rec := range recs {
		if compatible(rec) {
			filtered = append(filtered, rec)
		}
	}
	if len(filtered) == 0 {
		return nil, nil
	}

	topVer := filtered[0].Version
	var rows []model.ExtensionRecord
	for _, rec := range filtered {
		if rec.Version == topVer {
			rows = append(rows, rec)
		}
	}
	return rows, nil
}
