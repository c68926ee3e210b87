package handler

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/osgate/releasehub/internal/service"
)

// apiProjects returns the full category/project tree.
func (a *API) apiProjects(w http.ResponseWriter, r *http.Request) {
	apiSuccess(w, http.StatusOK, a.catalog.ProjectsTree())
}

// apiReleases returns the release listing for one category/project.
func (a *API) apiReleases(w http.ResponseWriter, r *http.Request) {
	category := strings.TrimSpace(r.URL.Query().Get("category"))
	project := strings.TrimSpace(r.URL.Query().Get("project"))
	if category == "" || project == "" {
		apiError(w, http.StatusBadRequest, "invalid_parameters", "Missing required parameters: category and project")
		return
	}

	pd := a.catalog.ProjectDir(category, project)
	if pd == "" || !dirExists(pd) {
		apiError(w, http.StatusFailedDependency, "file_not_found", "Unknown category/project")
		return
	}

	releases := a.catalog.ReleasesFor(category, project)
	if releases == nil {
		releases = []service.Release{}
	}
	apiSuccess(w, http.StatusOK, map[string]any{
		"category": category,
		"project":  project,
		"releases": releases,
	})
}

// apiReleaseFile serves one file of the artifact store by its relative path,
// as an attachment. Symlinks inside the store (the latest alias tree) are
// followed.
func (a *API) apiReleaseFile(w http.ResponseWriter, r *http.Request) {
	rel := strings.TrimLeft(chi.URLParam(r, "*"), "/")
	if rel == "" || !service.IsSafeRelPath(rel) {
		http.Error(w, "Invalid path", http.StatusBadRequest)
		return
	}

	p := filepath.Join(a.cfg.Storage.Path, filepath.FromSlash(rel))
	st, err := os.Stat(p)
	if err != nil || st.IsDir() {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}

	// SecureDownloads already set a bare attachment disposition; name the file.
	w.Header().Set("Content-Disposition", `attachment; filename="`+filepath.Base(p)+`"`)
	http.ServeFile(w, r, p)
}
