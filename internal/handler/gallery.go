package handler

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/osgate/releasehub/internal/model"
	"github.com/osgate/releasehub/internal/platform"
	"github.com/osgate/releasehub/internal/service"
	"github.com/osgate/releasehub/pkg/vsix"
)

// Gallery asset type identifiers, as requested by editor clients.
const (
	AssetIcon         = "Microsoft.VisualStudio.Services.Icons.Default"
	AssetDetails      = "Microsoft.VisualStudio.Services.Content.Details"
	AssetChangelog    = "Microsoft.VisualStudio.Services.Content.Changelog"
	AssetManifest     = "Microsoft.VisualStudio.Code.Manifest"
	AssetVSIX         = "Microsoft.VisualStudio.Services.VSIXPackage"
	AssetLicense      = "Microsoft.VisualStudio.Services.Content.License"
	AssetWebResources = "Microsoft.VisualStudio.Code.WebResources"
	AssetVsixManifest = "Microsoft.VisualStudio.Services.VsixManifest"
)

// Flags of the extensionquery protocol.
const (
	FlagIncludeVersions          = 0x1
	FlagIncludeFiles             = 0x2
	FlagIncludeCategoryAndTags   = 0x4
	FlagIncludeVersionProperties = 0x10
	FlagIncludeAssetURI          = 0x80
	FlagIncludeStatistics        = 0x100
	FlagIncludeLatestVersionOnly = 0x200
)

// Filter types of the extensionquery protocol.
const (
	FilterTag           = 1
	FilterExtensionID   = 4
	FilterExtensionName = 7
	FilterTarget        = 8
	FilterSearchText    = 10
)

var gallerySegRe = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// galleryNorm validates and lowercases a namespace or extension name segment.
func galleryNorm(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" || s == "." || s == ".." || !gallerySegRe.MatchString(s) {
		return "", false
	}
	return strings.ToLower(s), true
}

// tpFromHeaders derives a target platform from explicit os/arch values,
// falling back to the client hint headers. Both parts are required; anything
// incomplete or unmapped is universal.
func tpFromHeaders(r *http.Request, osName, archName string) string {
	osv := strings.ToLower(strings.TrimSpace(osName))
	archv := strings.ToLower(strings.TrimSpace(archName))
	if osv == "" {
		osv = strings.ToLower(strings.TrimSpace(r.Header.Get("X-Market-Os")))
	}
	if archv == "" {
		archv = strings.ToLower(strings.TrimSpace(r.Header.Get("X-Market-Arch")))
	}
	if osv != "" && archv != "" {
		return platform.NormalizeTarget(osv + "-" + archv)
	}
	return platform.Universal
}

// chooseTp resolves the effective target platform for a request: an explicit
// non-universal request parameter wins, then the os/arch hints.
func chooseTp(r *http.Request, tpRequested, osName, archName string) string {
	if tpRequested != "" {
		if tp := platform.NormalizeTarget(tpRequested); tp != platform.Universal {
			return tp
		}
	}
	return tpFromHeaders(r, osName, archName)
}

// guessMimeType resolves a content type from the filename, forcing UTF-8 on
// textual types.
func guessMimeType(name string) string {
	mt := mime.TypeByExtension(strings.ToLower(filepath.Ext(name)))
	if mt == "" {
		return "application/octet-stream"
	}
	base, _, err := mime.ParseMediaType(mt)
	if err != nil {
		return mt
	}
	switch {
	case strings.HasPrefix(base, "text/"),
		base == "application/json",
		base == "application/javascript",
		base == "application/xml",
		base == "image/svg+xml":
		return base + "; charset=utf-8"
	}
	return mt
}

type queryCriterion struct {
	FilterType int    `json:"filterType"`
	Value      string `json:"value"`
}

type queryFilter struct {
	PageNumber int              `json:"pageNumber"`
	PageSize   int              `json:"pageSize"`
	Criteria   []queryCriterion `json:"criteria"`
}

type queryRequest struct {
	Filters []queryFilter `json:"filters"`
	Flags   int           `json:"flags"`
}

// extensionQuery implements the gallery search protocol. A query naming a
// specific extension forces the version/file/asset-uri flags and clears
// latest-only, so clients always get a full version listing for it.
func (a *API) extensionQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	decodeJSONBody(r, &req)
	flags := req.Flags

	pageNumber := 1
	pageSize := 20
	tpReq := platform.Universal
	var extID, searchText string

	if len(req.Filters) > 0 {
		f0 := req.Filters[0]
		if f0.PageNumber > 0 {
			pageNumber = f0.PageNumber
		}
		if f0.PageSize > 0 {
			pageSize = f0.PageSize
		}
		for _, c := range f0.Criteria {
			val := strings.TrimSpace(c.Value)
			if val == "" {
				continue
			}
			switch c.FilterType {
			case FilterExtensionName, FilterExtensionID:
				extID = val
			case FilterSearchText, FilterTag:
				if searchText == "" {
					searchText = val
				}
			case FilterTarget:
				tpReq = val
			}
		}
	}

	isSpecific := extID != ""
	if isSpecific {
		flags &^= FlagIncludeLatestVersionOnly
		flags |= FlagIncludeVersions | FlagIncludeFiles | FlagIncludeAssetURI | FlagIncludeVersionProperties
	}

	tpEff := chooseTp(r, tpReq, "", "")
	offset := (max(1, pageNumber) - 1) * max(1, pageSize)

	a.logger.Info("extensionquery",
		zap.Bool("specific", isSpecific),
		zap.String("ext_id", extID),
		zap.String("search", searchText),
		zap.String("tp_req", tpReq),
		zap.String("tp_eff", tpEff),
		zap.Int("flags_in", req.Flags),
		zap.Int("flags_eff", flags),
		zap.Int("page", pageNumber),
		zap.Int("size", pageSize),
	)

	var extensions []map[string]any
	total := 0

	if isSpecific {
		nsRaw, nameRaw := "", extID
		if i := strings.Index(extID, "."); i >= 0 {
			nsRaw, nameRaw = extID[:i], extID[i+1:]
		}
		ns, okNs := galleryNorm(nsRaw)
		ext, okExt := galleryNorm(nameRaw)
		if okNs && okExt {
			rows, err := a.extReg.ListRecords(ns, ext)
			if err != nil {
				a.logger.Error("extensionquery record lookup failed", zap.Error(err))
			}
			rows = filterCompatible(rows, tpEff)
			if len(rows) > 0 {
				total = 1
				extensions = append(extensions, a.extensionJSON(r, ns, ext, rows, flags, tpEff))
			}
		}
	} else {
		pairs, err := a.extReg.ListPairs(searchText)
		if err != nil {
			a.logger.Error("extensionquery pair lookup failed", zap.Error(err))
		}
		total = len(pairs)
		end := min(offset+pageSize, len(pairs))
		if offset < end {
			for _, pair := range pairs[offset:end] {
				rows, err := a.extReg.ListRecords(pair[0], pair[1])
				if err != nil {
					continue
				}
				rows = filterCompatible(rows, tpEff)
				if len(rows) > 0 {
					extensions = append(extensions, a.extensionJSON(r, pair[0], pair[1], rows, flags, tpEff))
				}
			}
		}
	}

	if extensions == nil {
		extensions = []map[string]any{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"results": []map[string]any{{
			"extensions": extensions,
			"resultMetadata": []map[string]any{{
				"metadataType": "ResultCount",
				"metadataItems": []map[string]any{
					{"name": "TotalCount", "count": total},
				},
			}},
		}},
	})
}

// decodeJSONBody parses the request body into v, tolerating empty and
// malformed bodies the way the query endpoint requires.
func decodeJSONBody(r *http.Request, v any) {
	data, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil || len(data) == 0 {
		return
	}
	// A malformed body behaves like an empty query.
	_ = json.Unmarshal(data, v)
}

// filterCompatible drops rows incompatible with the effective platform.
// Universal rows are compatible with everything.
func filterCompatible(rows []model.ExtensionRecord, tpEff string) []model.ExtensionRecord {
	if tpEff == platform.Universal {
		return rows
	}
	var out []model.ExtensionRecord
	for _, rec := range rows {
		if rec.TargetPlatform == tpEff || rec.TargetPlatform == platform.Universal {
			out = append(out, rec)
		}
	}
	return out
}

// extensionJSON renders one extension document. rows must be the record set
// to expose, sorted newest first.
func (a *API) extensionJSON(r *http.Request, ns, ext string, rows []model.ExtensionRecord, flags int, tpEff string) map[string]any {
	if len(rows) == 0 {
		return map[string]any{}
	}

	var meta vsix.PackageMeta
	if p := rows[0].VsixPath(); fileExists(p) {
		meta = vsix.ReadPackageMeta(p)
	}
	display := meta.DisplayName
	if display == "" {
		display = ext
	}

	includeVersions := flags&(FlagIncludeVersions|FlagIncludeVersionProperties) != 0
	onlyLatest := flags&FlagIncludeLatestVersionOnly != 0

	var chosen []model.ExtensionRecord
	if includeVersions {
		chosen = rows
		if onlyLatest {
			chosen = rows[:1]
		}
	}

	stableVer := a.extReg.StableVersion(ns, ext)
	base := a.baseURL(r)

	var versionsJSON []map[string]any
	for _, rec := range chosen {
		var assetURI any
		if flags&FlagIncludeAssetURI != 0 {
			assetURI = fmt.Sprintf("%s/vscode/asset/%s/%s/%s", base, ns, ext, rec.Version)
		}

		var filesJSON any
		if flags&FlagIncludeFiles != 0 {
			verTp := tpEff
			if verTp == platform.Universal {
				verTp = tpFromHeaders(r, "", "")
			}
			mk := func(assetType string) map[string]any {
				return map[string]any{
					"assetType": assetType,
					"source":    fmt.Sprintf("%s/vscode/asset/%s/%s/%s/%s?targetPlatform=%s", base, ns, ext, rec.Version, assetType, verTp),
				}
			}
			filesJSON = []map[string]any{mk(AssetVSIX), mk(AssetManifest), mk(AssetVsixManifest)}
		}

		versionsJSON = append(versionsJSON, map[string]any{
			"version":             rec.Version,
			"assetUri":            assetURI,
			"fallbackAssetUri":    assetURI,
			"files":               filesJSON,
			"properties":          nil,
			"targetPlatform":      rec.TargetPlatform,
			"isPreReleaseVersion": stableVer != "" && rec.Version != stableVer,
		})
	}

	doc := map[string]any{
		"extensionId":      ns + "." + ext,
		"extensionName":    ext,
		"displayName":      display,
		"shortDescription": meta.Description,
		"publisher": map[string]any{
			"displayName":      ns,
			"publisherId":      nil,
			"publisherName":    ns,
			"domain":           nil,
			"isDomainVerified": nil,
		},
		"versions":   nil,
		"statistics": nil,
		"tags":       nil,
		"categories": nil,
		"flags":      "",
	}
	if includeVersions {
		doc["versions"] = versionsJSON
	}
	if flags&FlagIncludeStatistics != 0 {
		doc["statistics"] = []any{}
	}
	if flags&FlagIncludeCategoryAndTags != 0 {
		doc["tags"] = stringsOrEmpty(meta.Keywords)
		doc["categories"] = stringsOrEmpty(meta.Categories)
	}
	return doc
}

func stringsOrEmpty(xs []string) []string {
	if xs == nil {
		return []string{}
	}
	return xs
}

// galleryLatest serves the single-extension "latest" document: the stable
// pointer version when platform-compatible, otherwise the newest compatible
// version.
func (a *API) galleryLatest(w http.ResponseWriter, r *http.Request) {
	ns, okNs := galleryNorm(chi.URLParam(r, "namespaceName"))
	ext, okExt := galleryNorm(chi.URLParam(r, "extensionName"))
	if !okNs || !okExt {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	tpEff := chooseTp(r, r.URL.Query().Get("targetPlatform"), "", "")
	flags := FlagIncludeVersions | FlagIncludeAssetURI | FlagIncludeVersionProperties |
		FlagIncludeFiles | FlagIncludeStatistics

	allRows, err := a.extReg.ListRecords(ns, ext)
	if err != nil || len(allRows) == 0 {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	picked, err := a.extReg.PickLatest(ns, ext, tpEff)
	if err != nil || len(picked) == 0 {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	ver := picked[0].Version
	var rowsForVer []model.ExtensionRecord
	for _, rec := range allRows {
		if rec.Version == ver {
			rowsForVer = append(rowsForVer, rec)
		}
	}
	rowsForVer = filterCompatible(rowsForVer, tpEff)
	if len(rowsForVer) == 0 {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, a.extensionJSON(r, ns, ext, rowsForVer, flags, tpEff))
}

// galleryAsset serves assets addressed without an os/arch path.
func (a *API) galleryAsset(w http.ResponseWriter, r *http.Request) {
	a.serveAssetRequest(w, r, "", "")
}

// galleryAssetByPlatform serves assets addressed with os/arch path segments.
func (a *API) galleryAssetByPlatform(w http.ResponseWriter, r *http.Request) {
	a.serveAssetRequest(w, r, chi.URLParam(r, "osName"), chi.URLParam(r, "archName"))
}

func (a *API) serveAssetRequest(w http.ResponseWriter, r *http.Request, osName, archName string) {
	ns, okNs := galleryNorm(chi.URLParam(r, "namespaceName"))
	ext, okExt := galleryNorm(chi.URLParam(r, "extensionName"))
	ver := strings.TrimSpace(chi.URLParam(r, "version"))
	if !okNs || !okExt || ver == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	assetType := chi.URLParam(r, "assetType")
	rest := chi.URLParam(r, "*")
	tpEff := chooseTp(r, r.URL.Query().Get("targetPlatform"), osName, archName)
	a.serveAsset(w, r, ns, ext, ver, assetType, tpEff, rest)
}

// serveAsset resolves the record (falling back to the universal build) and
// streams the requested asset out of its package archive.
func (a *API) serveAsset(w http.ResponseWriter, r *http.Request, ns, ext, ver, assetType, tpEff, rest string) {
	rec, err := a.extReg.PickRecord(ns, ext, ver, tpEff)
	if err == nil && rec == nil && tpEff != platform.Universal {
		rec, err = a.extReg.PickRecord(ns, ext, ver, platform.Universal)
	}
	if err != nil || rec == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	vsixPath := rec.VsixPath()
	if !fileExists(vsixPath) {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	if assetType == AssetVSIX {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Disposition",
			fmt.Sprintf(`inline; filename="%s.%s-%s.vsix"`, ns, ext, ver))
		http.ServeFile(w, r, vsixPath)
		return
	}

	if assetType == AssetWebResources {
		rel := strings.TrimLeft(rest, "/")
		if rel == "" || !service.IsSafeRelPath(rel) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		want := rel
		if !strings.HasPrefix(want, "extension/") {
			want = "extension/" + want
		}
		a.serveArchiveMember(w, vsixPath, []string{want})
		return
	}

	candidates := assetCandidates(assetType, vsixPath)
	if candidates == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	a.serveArchiveMember(w, vsixPath, candidates)
}

// assetCandidates maps an asset type to the archive members tried in order.
func assetCandidates(assetType, vsixPath string) []string {
	switch assetType {
	case AssetDetails:
		return []string{"extension/README.md", "README.md", "extension/readme.md"}
	case AssetChangelog:
		return []string{"extension/CHANGELOG.md", "CHANGELOG.md", "extension/changelog.md"}
	case AssetLicense:
		return []string{
			"extension/LICENSE", "LICENSE",
			"extension/LICENSE.md", "LICENSE.md",
			"extension/LICENSE.txt", "LICENSE.txt",
		}
	case AssetVsixManifest:
		return []string{
			"extension.vsixmanifest", "extension/extension.vsixmanifest",
			"Extension.vsixmanifest", "extension/Extension.vsixmanifest",
		}
	case AssetManifest:
		return vsix.PackageJSONCandidates
	case AssetIcon:
		var out []string
		if icon := strings.TrimLeft(strings.TrimSpace(vsix.ReadPackageMeta(vsixPath).Icon), "/"); icon != "" {
			if !strings.HasPrefix(icon, "extension/") {
				out = append(out, "extension/"+icon)
			}
			out = append(out, icon)
		}
		return append(out,
			"extension/icon.png", "icon.png",
			"extension/icon.svg", "icon.svg",
			"extension/icon.jpg", "icon.jpg",
		)
	}
	return nil
}

// serveArchiveMember streams the first existing candidate member.
func (a *API) serveArchiveMember(w http.ResponseWriter, vsixPath string, candidates []string) {
	zr, err := vsix.Open(vsixPath)
	if err != nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	defer zr.Close()

	data, name, ok := vsix.ReadFirst(&zr.Reader, candidates)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", guessMimeType(path.Base(name)))
	w.Write(data)
}

// unpkg exposes the package contents as a browsable tree. A real unpacked
// directory on disk wins; otherwise directory listings are synthesized from
// the archive.
func (a *API) unpkg(w http.ResponseWriter, r *http.Request) {
	ns, okNs := galleryNorm(chi.URLParam(r, "namespaceName"))
	ext, okExt := galleryNorm(chi.URLParam(r, "extensionName"))
	ver := strings.TrimSpace(chi.URLParam(r, "version"))
	if !okNs || !okExt || ver == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	tpEff := chooseTp(r, r.URL.Query().Get("targetPlatform"), "", "")
	rec, err := a.extReg.PickRecord(ns, ext, ver, tpEff)
	if err == nil && rec == nil && tpEff != platform.Universal {
		rec, err = a.extReg.PickRecord(ns, ext, ver, platform.Universal)
	}
	if err != nil || rec == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	rel := strings.TrimLeft(chi.URLParam(r, "*"), "/")
	if rel != "" && !service.IsSafeRelPath(rel) {
		http.Error(w, "Invalid path", http.StatusBadRequest)
		return
	}

	base := fmt.Sprintf("%s/vscode/unpkg/%s/%s/%s/", a.baseURL(r), ns, ext, ver)

	if unpacked := rec.UnpackedDir(); dirExists(unpacked) {
		target := filepath.Join(unpacked, filepath.FromSlash(rel))
		if st, err := os.Stat(target); err == nil && st.IsDir() {
			entries, err := os.ReadDir(target)
			if err != nil {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
			items := []string{}
			for _, e := range entries {
				childRel := e.Name()
				if rel != "" {
					childRel = rel + "/" + e.Name()
				}
				url := base + childRel
				if e.IsDir() {
					url += "/"
				}
				items = append(items, url)
			}
			writeJSON(w, http.StatusOK, items)
			return
		} else if err == nil {
			w.Header().Set("Content-Type", guessMimeType(st.Name()))
			http.ServeFile(w, r, target)
			return
		}
		w.WriteHeader(http.StatusNotFound)
		return
	}

	vsixPath := rec.VsixPath()
	if !fileExists(vsixPath) {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	zr, err := vsix.Open(vsixPath)
	if err != nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	defer zr.Close()

	if rel != "" && !strings.HasSuffix(rel, "/") {
		if data, ok := vsix.ReadMember(&zr.Reader, rel); ok {
			w.Header().Set("Content-Type", guessMimeType(path.Base(rel)))
			w.Write(data)
			return
		}
	}

	prefix := rel
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	dirs, files := vsix.Children(&zr.Reader, prefix)
	if len(dirs) == 0 && len(files) == 0 && rel != "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	items := []string{}
	for _, d := range dirs {
		items = append(items, base+prefix+d+"/")
	}
	for _, f := range files {
		items = append(items, base+prefix+f)
	}
	writeJSON(w, http.StatusOK, items)
}

// publishExtension ingests an uploaded package: metadata is read from the
// archive itself, the file lands atomically under its derived coordinates,
// and the index is rebuilt before the response.
func (a *API) publishExtension(w http.ResponseWriter, r *http.Request) {
	file, _, err := r.FormFile("file")
	if err != nil {
		writePublishError(w, http.StatusBadRequest, "Missing file")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil || !vsix.IsArchive(data) {
		writePublishError(w, http.StatusBadRequest, "Invalid VSIX")
		return
	}

	tp := platform.NormalizeTarget(r.FormValue("targetPlatform"))
	meta := vsix.ReadPackageMetaBytes(data)
	ns, okNs := galleryNorm(meta.Publisher)
	name, okName := galleryNorm(meta.Name)
	ver := strings.TrimSpace(meta.Version)
	if !okNs || !okName || ver == "" {
		writePublishError(w, http.StatusBadRequest, "Invalid VSIX metadata")
		return
	}

	dst := filepath.Join(a.extReg.Dir(ns, name, ver, tp), model.VsixFileName)
	if err := atomicWriteFile(dst, data); err != nil {
		a.logger.Error("publish write failed", zap.String("path", dst), zap.Error(err))
		writePublishError(w, http.StatusInternalServerError, "Write failed")
		return
	}

	if err := a.extReg.Rebuild(); err != nil {
		writePublishError(w, http.StatusInternalServerError, "index_rebuild_failed")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"state":  true,
		"status": "success",
		"data": map[string]any{
			"namespace":      ns,
			"name":           name,
			"version":        ver,
			"targetPlatform": tp,
			"path":           dst,
			"publishedAt":    time.Now().UTC().Truncate(time.Second).Format(time.RFC3339),
		},
	})
}

// writePublishError matches the error shape of the publish endpoint, which
// predates the common envelope and uses a bare "error" key.
func writePublishError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"state":  false,
		"status": "error",
		"error":  msg,
	})
}

// atomicWriteFile writes data to a same-directory temp file and renames it
// over dst.
func atomicWriteFile(dst string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	tmp := fmt.Sprintf("%s.tmp.%d", dst, time.Now().UnixMilli())
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

func fileExists(p string) bool {
	st, err := os.Stat(p)
	return err == nil && !st.IsDir()
}

func dirExists(p string) bool {
	st, err := os.Stat(p)
	return err == nil && st.IsDir()
}
