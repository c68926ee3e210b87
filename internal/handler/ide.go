package handler

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/osgate/releasehub/internal/model"
	"github.com/osgate/releasehub/internal/platform"
	"github.com/osgate/releasehub/internal/service"
)

const changelogName = "changelog.md"

// ideReleases lists the versions of an installer project that have at least
// one valid platform build.
func (a *API) ideReleases(w http.ResponseWriter, r *http.Request) {
	project := strings.TrimSpace(r.URL.Query().Get("project"))
	if project == "" {
		apiError(w, http.StatusBadRequest, "invalid_parameters", "Missing required parameter: project")
		return
	}

	if !dirExists(filepath.Join(a.ideReg.IdeRoot(), project)) {
		apiError(w, http.StatusFailedDependency, "file_not_found", "Unknown project")
		return
	}

	versions, err := a.ideReg.ListVersions(project)
	if err != nil {
		a.logger.Error("ide releases lookup failed", zap.String("project", project), zap.Error(err))
		apiError(w, http.StatusInternalServerError, "internal_error", "Failed to list releases")
		return
	}
	stableLatest := a.ideReg.StableLatest(project)

	releases := make([]map[string]any, 0, len(versions))
	for _, v := range versions {
		var published any
		if v.PublishedAt > 0 {
			published = strconv.FormatInt(v.PublishedAt, 10)
		}
		releases = append(releases, map[string]any{
			"tag":          v.Version,
			"published_at": published,
			"is_latest":    stableLatest != "" && v.Version == stableLatest,
		})
	}

	apiSuccess(w, http.StatusOK, map[string]any{
		"category": service.CategoryIde,
		"project":  project,
		"releases": releases,
	})
}

// ideLatest resolves the download URL of the stable latest build for an
// exact platform. os_type and arch are mandatory: installers have no
// universal build to fall back to.
func (a *API) ideLatest(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	project := strings.TrimSpace(q.Get("sub_product_name"))
	osRaw := strings.TrimSpace(q.Get("os_type"))
	archRaw := strings.TrimSpace(q.Get("arch"))
	currentVersion := strings.TrimSpace(q.Get("current_version"))

	if project == "" {
		apiError(w, http.StatusBadRequest, "invalid_parameters", "Missing required parameter: sub_product_name")
		return
	}
	if !dirExists(filepath.Join(a.ideReg.IdeRoot(), project)) {
		apiError(w, http.StatusFailedDependency, "file_not_found", "Unknown sub_product_name")
		return
	}
	if osRaw == "" || archRaw == "" {
		apiError(w, http.StatusBadRequest, "invalid_parameters", "Missing required parameters: os_type and arch")
		return
	}

	latestVer := a.ideReg.StableLatest(project)
	if latestVer == "" {
		apiError(w, http.StatusFailedDependency, "file_not_found", "No stable latest set")
		return
	}

	plat := platform.Normalize(osRaw, archRaw)
	rel, _, err := a.ideReg.PickLatestAsset(project, plat)
	if err != nil {
		a.logger.Error("ide latest lookup failed", zap.String("project", project), zap.Error(err))
		apiError(w, http.StatusInternalServerError, "internal_error", "Failed to pick latest asset")
		return
	}
	if rel == "" {
		apiError(w, http.StatusFailedDependency, "file_not_found", "No latest artifact for platform="+plat)
		return
	}

	data := map[string]any{
		"url":                       a.baseURL(r) + "/api/releases/file/" + rel,
		"sub_product_name":          project,
		"available":                 true,
		"version":                   latestVer,
		"requested_current_version": nil,
		"platform":                  plat,
	}
	if currentVersion != "" {
		data["requested_current_version"] = currentVersion
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"state":  true,
		"status": "success",
		"data":   data,
		"result": data,
	})
}

// ideChangelog serves the per-version changelog as UTF-8 text. Exactly one
// of version or latest=1 must be given.
func (a *API) ideChangelog(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	project := strings.TrimSpace(q.Get("project"))
	version := strings.TrimSpace(q.Get("version"))
	latest := strings.TrimSpace(q.Get("latest"))

	if project == "" {
		apiError(w, http.StatusBadRequest, "invalid_parameters", "Missing required parameter: project")
		return
	}

	wantLatest := latest == "1" || latest == "true" || latest == "yes"
	if (version != "") == wantLatest {
		apiError(w, http.StatusBadRequest, "invalid_parameters", "Provide exactly one of: version, latest=1")
		return
	}

	if !dirExists(filepath.Join(a.ideReg.IdeRoot(), project)) {
		apiError(w, http.StatusFailedDependency, "file_not_found", "Unknown project")
		return
	}

	if wantLatest {
		version = a.ideReg.StableLatest(project)
		if version == "" {
			apiError(w, http.StatusFailedDependency, "file_not_found", "No stable latest set")
			return
		}
	}

	p := filepath.Join(a.ideReg.IdeRoot(), project, version, changelogName)
	text, err := os.ReadFile(p)
	if err != nil {
		http.Error(w, "changelog.md not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write(text)
}

// ideUploadRequest are the parsed parts of an installer upload.
type ideUploadRequest struct {
	binaryName   string
	binaryFile   io.Reader
	metaText     []byte
	meta         model.IdeMeta
	changelog    []byte
	hasChangelog bool
}

// parseIdeUpload validates the multipart form shared by the public upload
// endpoint and the admin one.
func parseIdeUpload(r *http.Request) (*ideUploadRequest, string) {
	binary, binaryHdr, err := r.FormFile("binary")
	if err != nil {
		return nil, "Missing required files: binary and meta"
	}
	meta, metaHdr, err := r.FormFile("meta")
	if err != nil {
		binary.Close()
		return nil, "Missing required files: binary and meta"
	}
	defer meta.Close()

	if binaryHdr.Filename == "" || metaHdr.Filename == "" {
		binary.Close()
		return nil, "Missing binary/meta filenames"
	}
	if metaHdr.Filename != binaryHdr.Filename+model.MetaSuffix {
		binary.Close()
		return nil, "meta filename must equal binary filename + '.json'"
	}

	metaText, err := io.ReadAll(meta)
	if err != nil {
		binary.Close()
		return nil, "Failed to read meta"
	}

	var probe any
	if err := json.Unmarshal(metaText, &probe); err != nil {
		binary.Close()
		return nil, "meta is not valid JSON"
	}
	if _, ok := probe.(map[string]any); !ok {
		binary.Close()
		return nil, "meta must be a JSON object"
	}

	var m model.IdeMeta
	json.Unmarshal(metaText, &m)
	m.SubProductName = strings.TrimSpace(m.SubProductName)
	m.Version = strings.TrimSpace(m.Version)
	m.OSType = strings.TrimSpace(m.OSType)
	m.Arch = strings.TrimSpace(m.Arch)
	for _, kv := range [][2]string{
		{"sub_product_name", m.SubProductName},
		{"version", m.Version},
		{"os_type", m.OSType},
		{"arch", m.Arch},
	} {
		if kv[1] == "" {
			binary.Close()
			return nil, "Missing required meta field: " + kv[0]
		}
	}

	req := &ideUploadRequest{
		binaryName: binaryHdr.Filename,
		binaryFile: binary,
		metaText:   metaText,
		meta:       m,
	}

	if cl, clHdr, err := r.FormFile("changelog"); err == nil && clHdr.Filename != "" {
		data, err := io.ReadAll(cl)
		cl.Close()
		if err != nil {
			binary.Close()
			return nil, "Failed to read changelog"
		}
		req.changelog = data
		req.hasChangelog = true
	}

	return req, ""
}

// ideUpload ingests one installer build: binary plus metadata sidecar,
// optionally a changelog. Existing binaries are never overwritten; the
// changelog is.
func (a *API) ideUpload(w http.ResponseWriter, r *http.Request) {
	req, errMsg := parseIdeUpload(r)
	if req == nil {
		apiError(w, http.StatusBadRequest, "invalid_parameters", errMsg)
		return
	}
	if closer, ok := req.binaryFile.(io.Closer); ok {
		defer closer.Close()
	}

	project := req.meta.SubProductName
	version := req.meta.Version
	if !service.SafeSegment(project) || !service.SafeSegment(version) {
		apiError(w, http.StatusBadRequest, "invalid_parameters", "Invalid project/version")
		return
	}

	plat := platform.Normalize(req.meta.OSType, req.meta.Arch)
	if !service.SafeSegment(plat) {
		apiError(w, http.StatusBadRequest, "invalid_parameters", "Invalid platform")
		return
	}

	destDir := filepath.Join(a.ideReg.IdeRoot(), project, version, plat)
	destBin := filepath.Join(destDir, req.binaryName)
	destMeta := filepath.Join(destDir, req.binaryName+model.MetaSuffix)

	if fileExists(destBin) || fileExists(destMeta) {
		apiError(w, http.StatusConflict, "conflict", "Artifact already exists")
		return
	}

	if err := a.stageIdeUpload(req, project, version, plat, destDir); err != nil {
		a.logger.Error("ide upload failed",
			zap.String("project", project),
			zap.String("version", version),
			zap.String("platform", plat),
			zap.Error(err),
		)
		apiError(w, http.StatusInternalServerError, "internal_error", "Failed to write files")
		return
	}

	a.rebuildAfterMutation(service.CategoryIde)

	relDir := path.Join(service.CategoryIde, project, version, plat)
	apiSuccess(w, http.StatusOK, map[string]any{
		"project":           project,
		"version":           version,
		"platform":          plat,
		"binary_rel_path":   path.Join(relDir, req.binaryName),
		"meta_rel_path":     path.Join(relDir, req.binaryName+model.MetaSuffix),
		"changelog_written": req.hasChangelog,
	})
}

// stageIdeUpload writes the upload into a temp directory under _tmp and
// renames the files into place, so a crash mid-write leaves nothing visible
// in the artifact tree.
func (a *API) stageIdeUpload(req *ideUploadRequest, project, version, plat, destDir string) error {
	tmpRoot := filepath.Join(a.cfg.Storage.Path, "_tmp")
	if err := os.MkdirAll(tmpRoot, 0755); err != nil {
		return err
	}
	tmpDir := filepath.Join(tmpRoot, fmt.Sprintf("ide_upload_%d_%s", time.Now().Unix(), uuid.NewString()))
	if err := os.MkdirAll(tmpDir, 0755); err != nil {
		return err
	}
	defer os.RemoveAll(tmpDir)

	tmpBin := filepath.Join(tmpDir, req.binaryName)
	f, err := os.Create(tmpBin)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, req.binaryFile); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	tmpMeta := filepath.Join(tmpDir, req.binaryName+model.MetaSuffix)
	if err := os.WriteFile(tmpMeta, req.metaText, 0644); err != nil {
		return err
	}

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return err
	}
	if err := os.Rename(tmpBin, filepath.Join(destDir, req.binaryName)); err != nil {
		return err
	}
	if err := os.Rename(tmpMeta, filepath.Join(destDir, req.binaryName+model.MetaSuffix)); err != nil {
		return err
	}

	if req.hasChangelog {
		tmpCl := filepath.Join(tmpDir, changelogName)
		if err := os.WriteFile(tmpCl, req.changelog, 0644); err != nil {
			return err
		}
		verDir := filepath.Join(a.ideReg.IdeRoot(), project, version)
		if err := os.MkdirAll(verDir, 0755); err != nil {
			return err
		}
		if err := os.Rename(tmpCl, filepath.Join(verDir, changelogName)); err != nil {
			return err
		}
	}
	return nil
}
