package handler

import (
	"encoding/json"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/osgate/releasehub/internal/config"
	"github.com/osgate/releasehub/internal/service"
	"github.com/osgate/releasehub/internal/store"
)

// API handles HTTP requests
type API struct {
	cfg         *config.Config
	logger      *zap.Logger
	extStore    *store.ExtStore
	ideStore    *store.IdeStore
	extReg      *service.ExtRegistry
	ideReg      *service.IdeRegistry
	catalog     *service.Catalog
	rateLimiter *RateLimiter
}

// NewAPI creates a new API instance. Both indexes are rebuilt from the
// artifact store on startup so a deleted or stale index file never matters.
func NewAPI(cfg *config.Config, logger *zap.Logger) (*API, error) {
	indexDir := filepath.Join(cfg.Storage.Path, "_indexes")

	extStore, err := store.NewExtStore(indexDir, logger)
	if err != nil {
		return nil, err
	}
	ideStore, err := store.NewIdeStore(indexDir, logger)
	if err != nil {
		extStore.Close()
		return nil, err
	}

	api := &API{
		cfg:         cfg,
		logger:      logger,
		extStore:    extStore,
		ideStore:    ideStore,
		extReg:      service.NewExtRegistry(cfg.Storage.Path, extStore, logger),
		ideReg:      service.NewIdeRegistry(cfg.Storage.Path, ideStore, logger),
		catalog:     service.NewCatalog(cfg.Storage.Path),
		rateLimiter: NewRateLimiter(float64(cfg.RateLimit.RPS), cfg.RateLimit.Burst),
	}

	if err := api.extReg.Rebuild(); err != nil {
		logger.Error("initial extensions index rebuild failed", zap.Error(err))
	}
	if err := api.ideReg.Rebuild(); err != nil {
		logger.Error("initial ide index rebuild failed", zap.Error(err))
	}

	return api, nil
}

// Close closes the API and its resources
func (a *API) Close() error {
	a.rateLimiter.Close()
	a.ideStore.Close()
	return a.extStore.Close()
}

// RegisterRoutes registers the API routes
func (a *API) RegisterRoutes(r chi.Router) {
	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	// Gallery protocol
	r.Route("/vscode", func(r chi.Router) {
		r.Use(a.rateLimiter.RateLimit)
		r.Use(GalleryCORS)

		r.Post("/gallery/extensionquery", a.extensionQuery)
		r.Get("/gallery/{namespaceName}/{extensionName}/latest", a.galleryLatest)
		r.Get("/gallery/asset/{namespaceName}/{extensionName}/{version}/{osName}/{archName}/{assetType}", a.galleryAssetByPlatform)
		r.Get("/gallery/asset/{namespaceName}/{extensionName}/{version}/{osName}/{archName}/{assetType}/*", a.galleryAssetByPlatform)
		r.Get("/asset/{namespaceName}/{extensionName}/{version}/{assetType}", a.galleryAsset)
		r.Get("/asset/{namespaceName}/{extensionName}/{version}/{assetType}/*", a.galleryAsset)
		r.Get("/unpkg/{namespaceName}/{extensionName}/{version}", a.unpkg)
		r.Get("/unpkg/{namespaceName}/{extensionName}/{version}/*", a.unpkg)
	})

	// Release catalog and installer registry
	r.Route("/api", func(r chi.Router) {
		r.Use(a.rateLimiter.RateLimit)

		r.Get("/projects", a.apiProjects)
		r.Get("/releases", a.apiReleases)
		r.With(SecureDownloads).Get("/releases/file/*", a.apiReleaseFile)

		r.Get("/ide/releases", a.ideReleases)
		r.Get("/ide/latest", a.ideLatest)
		r.Get("/ide/changelog", a.ideChangelog)
		r.Post("/ide/upload", a.ideUpload)

		r.With(GalleryCORS).Post("/user/publish", a.publishExtension)
	})

	// Admin routes (localhost only)
	r.Route("/admin", func(r chi.Router) {
		r.Use(LocalOnly)

		r.Post("/make-latest", a.adminMakeLatest)
		r.Post("/delete-project", a.adminDeleteProject)
		r.Post("/delete-release", a.adminDeleteRelease)
		r.Post("/delete-asset", a.adminDeleteAsset)
		r.Post("/upload-notes", a.adminUploadNotes)
		r.Post("/rebuild-index", a.adminRebuildIndex)
		r.Post("/ide/create-project", a.adminIdeCreateProject)
		r.Post("/ide/upload", a.adminIdeUpload)
		r.Get("/ide/invalid", a.adminIdeInvalid)
	})
}

// writeJSON writes v as a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// apiError writes the standard error envelope.
func apiError(w http.ResponseWriter, status int, errorType, message string) {
	writeJSON(w, status, map[string]any{
		"state":        false,
		"status":       "error",
		"errorType":    errorType,
		"errorMessage": message,
	})
}

// apiSuccess writes the standard success envelope.
func apiSuccess(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, map[string]any{
		"state":  true,
		"status": "success",
		"data":   data,
	})
}

// baseURL derives the externally visible URL prefix for links in responses.
// The configured download base wins; otherwise the request host is used.
func (a *API) baseURL(r *http.Request) string {
	if base := strings.TrimRight(a.cfg.Download.BaseURL, "/"); base != "" {
		return base
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if fwd := r.Header.Get("X-Forwarded-Proto"); fwd != "" {
		scheme = fwd
	}
	return scheme + "://" + r.Host
}

// rebuildAfterMutation refreshes the index of the mutated category.
// Best effort: admin and upload flows succeed even when the rebuild fails.
func (a *API) rebuildAfterMutation(category string) {
	var err error
	switch strings.ToLower(strings.TrimSpace(category)) {
	case service.CategoryIde:
		err = a.ideReg.Rebuild()
	case service.CategoryExtensions:
		err = a.extReg.Rebuild()
	default:
		return
	}
	if err != nil {
		a.logger.Error("index rebuild after mutation failed",
			zap.String("category", category),
			zap.Error(err),
		)
	}
}
