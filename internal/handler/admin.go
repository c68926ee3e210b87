package handler

import (
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/osgate/releasehub/internal/service"
)

// adminForm pulls the common category/project form fields.
func adminForm(r *http.Request) (category, project, version string) {
	return strings.TrimSpace(r.FormValue("category")),
		strings.TrimSpace(r.FormValue("project")),
		strings.TrimSpace(r.FormValue("version"))
}

// adminMakeLatest repoints the stable alias tree of a project at a version.
func (a *API) adminMakeLatest(w http.ResponseWriter, r *http.Request) {
	category, project, version := adminForm(r)
	if category == "" || project == "" || version == "" {
		apiError(w, http.StatusBadRequest, "invalid_parameters", "Missing category/project/version")
		return
	}

	pd := a.catalog.ProjectDir(category, project)
	if pd == "" || !dirExists(pd) {
		apiError(w, http.StatusBadRequest, "invalid_parameters", "Unknown project")
		return
	}
	if strings.EqualFold(version, service.LatestName) || !dirExists(filepath.Join(pd, version)) {
		apiError(w, http.StatusBadRequest, "invalid_parameters", "Unknown version")
		return
	}

	if err := service.SetLatest(pd, version); err != nil {
		a.logger.Error("make-latest failed",
			zap.String("category", category),
			zap.String("project", project),
			zap.String("version", version),
			zap.Error(err),
		)
		apiError(w, http.StatusInternalServerError, "internal_error", "Failed to set latest")
		return
	}

	a.rebuildAfterMutation(category)
	apiSuccess(w, http.StatusOK, map[string]any{
		"category": category,
		"project":  project,
		"latest":   version,
	})
}

// adminDeleteProject removes a project and everything under it.
func (a *API) adminDeleteProject(w http.ResponseWriter, r *http.Request) {
	category, project, _ := adminForm(r)
	if category == "" || project == "" {
		apiError(w, http.StatusBadRequest, "invalid_parameters", "Missing category/project")
		return
	}

	pd := a.catalog.ProjectDir(category, project)
	if pd == "" || !dirExists(pd) {
		apiError(w, http.StatusBadRequest, "invalid_parameters", "Unknown project")
		return
	}

	if err := os.RemoveAll(pd); err != nil {
		a.logger.Error("delete-project failed", zap.String("dir", pd), zap.Error(err))
		apiError(w, http.StatusInternalServerError, "internal_error", "Failed to delete project")
		return
	}

	a.rebuildAfterMutation(category)
	apiSuccess(w, http.StatusOK, map[string]any{
		"category": category,
		"project":  project,
		"deleted":  true,
	})
}

// adminDeleteRelease removes one version. Deleting the current stable
// version re-promotes the next ranked one, or clears the pointer when none
// remain.
func (a *API) adminDeleteRelease(w http.ResponseWriter, r *http.Request) {
	category, project, version := adminForm(r)
	if category == "" || project == "" || version == "" {
		apiError(w, http.StatusBadRequest, "invalid_parameters", "Missing category/project/version")
		return
	}
	if strings.EqualFold(version, service.LatestName) {
		apiError(w, http.StatusBadRequest, "invalid_parameters", "Cannot delete latest")
		return
	}

	pd := a.catalog.ProjectDir(category, project)
	if pd == "" || !dirExists(pd) {
		apiError(w, http.StatusBadRequest, "invalid_parameters", "Unknown project")
		return
	}
	vdir := filepath.Join(pd, version)
	if !dirExists(vdir) {
		apiError(w, http.StatusBadRequest, "invalid_parameters", "Unknown version")
		return
	}

	currentLatest := service.LatestVersion(pd)

	if err := os.RemoveAll(vdir); err != nil {
		a.logger.Error("delete-release failed", zap.String("dir", vdir), zap.Error(err))
		apiError(w, http.StatusInternalServerError, "internal_error", "Failed to delete release")
		return
	}

	promoted := ""
	if currentLatest == version {
		if remaining := service.VersionsOf(pd, category); len(remaining) > 0 {
			if err := service.SetLatest(pd, remaining[0]); err == nil {
				promoted = remaining[0]
			} else {
				a.logger.Error("re-promotion after delete failed",
					zap.String("project", project),
					zap.String("version", remaining[0]),
					zap.Error(err),
				)
			}
		} else {
			os.RemoveAll(filepath.Join(pd, service.LatestName))
		}
	}

	a.rebuildAfterMutation(category)
	apiSuccess(w, http.StatusOK, map[string]any{
		"category": category,
		"project":  project,
		"deleted":  version,
		"promoted": promoted,
	})
}

// adminDeleteAsset removes one file of a release. When the release is the
// current stable version the alias tree is rebuilt so no alias dangles.
func (a *API) adminDeleteAsset(w http.ResponseWriter, r *http.Request) {
	category, project, version := adminForm(r)
	plat := strings.TrimSpace(r.FormValue("platform"))
	name := strings.TrimSpace(r.FormValue("name"))
	if category == "" || project == "" || version == "" || name == "" {
		apiError(w, http.StatusBadRequest, "invalid_parameters", "Missing category/project/version/name")
		return
	}
	if strings.EqualFold(version, service.LatestName) {
		apiError(w, http.StatusBadRequest, "invalid_parameters", "Cannot delete asset for latest")
		return
	}
	if !service.SafeSegment(name) || (plat != "" && !service.SafeSegment(plat)) {
		apiError(w, http.StatusBadRequest, "invalid_parameters", "Invalid platform/name")
		return
	}

	pd := a.catalog.ProjectDir(category, project)
	if pd == "" || !dirExists(pd) {
		apiError(w, http.StatusBadRequest, "invalid_parameters", "Unknown project")
		return
	}
	vdir := filepath.Join(pd, version)
	if !dirExists(vdir) {
		apiError(w, http.StatusBadRequest, "invalid_parameters", "Unknown version")
		return
	}

	targetDir := vdir
	if plat != "" {
		targetDir = filepath.Join(vdir, plat)
	}
	target := filepath.Join(targetDir, name)
	if !fileExists(target) {
		apiError(w, http.StatusBadRequest, "invalid_parameters", "Asset not found")
		return
	}

	if err := os.Remove(target); err != nil {
		a.logger.Error("delete-asset failed", zap.String("path", target), zap.Error(err))
		apiError(w, http.StatusInternalServerError, "internal_error", "Failed to delete asset")
		return
	}

	if service.LatestVersion(pd) == version {
		if err := service.SetLatest(pd, version); err != nil {
			a.logger.Error("alias refresh after asset delete failed",
				zap.String("project", project),
				zap.String("version", version),
				zap.Error(err),
			)
		}
	}

	a.rebuildAfterMutation(category)
	apiSuccess(w, http.StatusOK, map[string]any{
		"category": category,
		"project":  project,
		"version":  version,
		"deleted":  name,
	})
}

// adminUploadNotes stores release notes as release.md in the version
// directory, overwriting any previous notes.
func (a *API) adminUploadNotes(w http.ResponseWriter, r *http.Request) {
	category, project, version := adminForm(r)
	if category == "" || project == "" || version == "" {
		apiError(w, http.StatusBadRequest, "invalid_parameters", "Missing category/project/version")
		return
	}
	if strings.EqualFold(version, service.LatestName) {
		apiError(w, http.StatusBadRequest, "invalid_parameters", "Cannot upload notes for latest")
		return
	}

	pd := a.catalog.ProjectDir(category, project)
	if pd == "" || !dirExists(pd) {
		apiError(w, http.StatusBadRequest, "invalid_parameters", "Unknown project")
		return
	}
	vdir := filepath.Join(pd, version)
	if !dirExists(vdir) {
		apiError(w, http.StatusBadRequest, "invalid_parameters", "Unknown version")
		return
	}

	notes, hdr, err := r.FormFile("notes")
	if err != nil || hdr.Filename == "" {
		apiError(w, http.StatusBadRequest, "invalid_parameters", "Missing notes file")
		return
	}
	defer notes.Close()

	data, err := io.ReadAll(notes)
	if err != nil {
		apiError(w, http.StatusInternalServerError, "internal_error", "Failed to upload notes")
		return
	}
	if err := os.WriteFile(filepath.Join(vdir, "release.md"), data, 0644); err != nil {
		a.logger.Error("upload-notes failed", zap.String("dir", vdir), zap.Error(err))
		apiError(w, http.StatusInternalServerError, "internal_error", "Failed to upload notes")
		return
	}

	// Notes do not affect the indexes.
	apiSuccess(w, http.StatusOK, map[string]any{
		"category": category,
		"project":  project,
		"version":  version,
		"notes":    "release.md",
	})
}

// adminRebuildIndex forces an index rebuild, either for one category or for
// both.
func (a *API) adminRebuildIndex(w http.ResponseWriter, r *http.Request) {
	category := strings.ToLower(strings.TrimSpace(r.FormValue("category")))

	rebuilt := []string{}
	if category == "" || category == service.CategoryExtensions {
		if err := a.extReg.Rebuild(); err != nil {
			apiError(w, http.StatusInternalServerError, "internal_error", "Failed to rebuild extensions index")
			return
		}
		rebuilt = append(rebuilt, service.CategoryExtensions)
	}
	if category == "" || category == service.CategoryIde {
		if err := a.ideReg.Rebuild(); err != nil {
			apiError(w, http.StatusInternalServerError, "internal_error", "Failed to rebuild ide index")
			return
		}
		rebuilt = append(rebuilt, service.CategoryIde)
	}
	if len(rebuilt) == 0 {
		apiError(w, http.StatusBadRequest, "invalid_parameters", "Unknown category")
		return
	}

	apiSuccess(w, http.StatusOK, map[string]any{"rebuilt": rebuilt})
}

// adminIdeCreateProject creates an empty installer project directory.
func (a *API) adminIdeCreateProject(w http.ResponseWriter, r *http.Request) {
	project := strings.TrimSpace(r.FormValue("project"))
	if project == "" {
		apiError(w, http.StatusBadRequest, "invalid_parameters", "Missing project")
		return
	}
	if !service.SafeSegment(project) {
		apiError(w, http.StatusBadRequest, "invalid_parameters", "Invalid project name")
		return
	}

	pd := filepath.Join(a.ideReg.IdeRoot(), project)
	if _, err := os.Stat(pd); err == nil {
		apiError(w, http.StatusConflict, "conflict", "Project already exists")
		return
	}
	if err := os.MkdirAll(pd, 0755); err != nil {
		a.logger.Error("create-project failed", zap.String("dir", pd), zap.Error(err))
		apiError(w, http.StatusInternalServerError, "internal_error", "Failed to create project")
		return
	}

	a.rebuildAfterMutation(service.CategoryIde)
	apiSuccess(w, http.StatusOK, map[string]any{
		"category": service.CategoryIde,
		"project":  project,
		"created":  true,
	})
}

// adminIdeUpload shares the upload path with the public endpoint.
func (a *API) adminIdeUpload(w http.ResponseWriter, r *http.Request) {
	a.ideUpload(w, r)
}

// adminIdeInvalid lists the artifacts of a project that failed validation,
// with their reason codes.
func (a *API) adminIdeInvalid(w http.ResponseWriter, r *http.Request) {
	project := strings.TrimSpace(r.URL.Query().Get("project"))
	if project == "" {
		apiError(w, http.StatusBadRequest, "invalid_parameters", "Missing required parameter: project")
		return
	}

	rows, err := a.ideReg.ListInvalid(project)
	if err != nil {
		apiError(w, http.StatusInternalServerError, "internal_error", "Failed to list invalid artifacts")
		return
	}

	out := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		out = append(out, map[string]any{
			"version":         row.Version,
			"platform":        row.Platform,
			"meta_rel_path":   row.MetaRelPath,
			"binary_rel_path": row.BinaryRelPath,
			"invalid_reason":  row.InvalidReason,
		})
	}
	apiSuccess(w, http.StatusOK, map[string]any{
		"project": project,
		"invalid": out,
	})
}
