package service

import (
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// semverish matches version strings close enough to semver for the textual
// fallback key: optional v prefix, dotted numbers, optional prerelease and
// build metadata.
var semverish = regexp.MustCompile(`^v?(\d+(?:\.\d+)*)(?:-([0-9A-Za-z.-]+))?(?:\+[0-9A-Za-z.-]+)?$`)

// releaseKey is the ordering key for the release catalog. This comparator is
// a separate contract from platform.VersionKey: catalog clients expect
// prerelease-tagged versions to sort below final releases, extension gallery
// clients expect the tokenizing order. The two are deliberately not unified.
type releaseKey struct {
	class   int // 2 strict semver, 1 semver-ish, 0 plain text
	sv      *semver.Version
	nums    []int
	isFinal int
	pre     []string
	lower   string
}

func parseReleaseKey(v string) releaseKey {
	s := strings.TrimSpace(v)
	if sv, err := semver.NewVersion(s); err == nil {
		return releaseKey{class: 2, sv: sv}
	}

	m := semverish.FindStringSubmatch(s)
	if m == nil {
		return releaseKey{class: 1, lower: strings.ToLower(s)}
	}

	k := releaseKey{class: 1, isFinal: 1, pre: []string{""}}
	for _, part := range strings.Split(m[1], ".") {
		n, _ := strconv.Atoi(part)
		k.nums = append(k.nums, n)
	}
	if m[2] != "" {
		k.isFinal = 0
		k.pre = strings.Split(strings.ToLower(m[2]), ".")
	}
	return k
}

// CompareReleaseVersions orders catalog version strings: strict semver when
// both sides parse, the textual fallback key otherwise. Returns <0 when a
// sorts before b.
func CompareReleaseVersions(a, b string) int {
	ka, kb := parseReleaseKey(a), parseReleaseKey(b)
	if ka.class != kb.class {
		return ka.class - kb.class
	}
	switch ka.class {
	case 2:
		return ka.sv.Compare(kb.sv)
	default:
		if ka.nums == nil && kb.nums == nil {
			return strings.Compare(ka.lower, kb.lower)
		}
		if ka.nums == nil {
			return -1
		}
		if kb.nums == nil {
			return 1
		}
		if c := compareInts(ka.nums, kb.nums); c != 0 {
			return c
		}
		if ka.isFinal != kb.isFinal {
			return ka.isFinal - kb.isFinal
		}
		return compareStrings(ka.pre, kb.pre)
	}
}

func compareInts(a, b []int) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] - b[i]
		}
	}
	return len(a) - len(b)
}

func compareStrings(a, b []string) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if c := strings.Compare(a[i], b[i]); c != 0 {
			return c
		}
	}
	return len(a) - len(b)
}

// VersionsOf lists the version directories of a product, newest first.
// Tools releases are ordered by publish time; everything else by the
// release comparator.
func VersionsOf(productDir, category string) []string {
	var versions []string
	for _, name := range listDirs(productDir) {
		if !isReservedVersionName(name) {
			versions = append(versions, name)
		}
	}
	if category == CategoryTools {
		sort.SliceStable(versions, func(i, j int) bool {
			return dirMtime(filepath.Join(productDir, versions[i])) > dirMtime(filepath.Join(productDir, versions[j]))
		})
		return versions
	}
	sort.SliceStable(versions, func(i, j int) bool {
		return CompareReleaseVersions(versions[i], versions[j]) > 0
	})
	return versions
}

// ReleaseNotes is a release-notes file found in a version directory.
type ReleaseNotes struct {
	Name   string
	Text   string
	Format string // "html" or "text"
}

// noteCandidates are tried in order inside a version directory.
var noteCandidates = []string{
	"RELEASE.md", "RELEASE.txt", "RELEASE.html",
	"release.md", "release.txt", "release.html",
	"NOTES.md", "NOTES.txt",
}

// ReadReleaseNotes returns the first notes file present in versionDir.
// HTML files are passed through as-is; everything else is served as text.
func ReadReleaseNotes(versionDir string) (*ReleaseNotes, bool) {
	for _, name := range noteCandidates {
		p := filepath.Join(versionDir, name)
		st, err := os.Stat(p)
		if err != nil || st.IsDir() {
			continue
		}
		raw, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		format := "text"
		if strings.EqualFold(filepath.Ext(name), ".html") {
			format = "html"
		}
		return &ReleaseNotes{Name: name, Text: string(raw), Format: format}, true
	}
	return nil, false
}

// Catalog builds the portal's category/project/release views straight from
// the artifact store; it does not consult the indexes.
type Catalog struct {
	root string
}

// NewCatalog creates a catalog over the given store root.
func NewCatalog(root string) *Catalog {
	return &Catalog{root: root}
}

// ProjectInfo is one project entry in the portal tree.
type ProjectInfo struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	ReleasesCount int    `json:"releases_count"`
}

// CategoryInfo is one category entry in the portal tree.
type CategoryInfo struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Projects []ProjectInfo `json:"projects"`
}

// Asset is one downloadable file of a release.
type Asset struct {
	Name     string `json:"name"`
	Size     string `json:"size"`
	Href     string `json:"href"`
	Platform string `json:"platform,omitempty"`
}

// Release is one version of a project with its assets and notes.
type Release struct {
	Tag         string  `json:"tag"`
	PublishedAt string  `json:"published_at,omitempty"`
	IsLatest    bool    `json:"is_latest"`
	Assets      []Asset `json:"assets"`
	NotesName   string  `json:"notes_name,omitempty"`
	Notes       string  `json:"notes,omitempty"`
	NotesHTML   string  `json:"notes_html,omitempty"`
	NotesFormat string  `json:"notes_format,omitempty"`
}

// CategoriesOnDisk lists the known categories present under the root.
func (c *Catalog) CategoriesOnDisk() []string {
	var out []string
	for _, cat := range Categories {
		if st, err := os.Stat(filepath.Join(c.root, cat)); err == nil && st.IsDir() {
			out = append(out, cat)
		}
	}
	return out
}

// Projects lists project names under a non-extensions category.
func (c *Catalog) Projects(category string) []string {
	var out []string
	for _, name := range listDirs(filepath.Join(c.root, category)) {
		if !strings.EqualFold(name, LatestName) {
			out = append(out, name)
		}
	}
	return out
}

// ProjectsTree builds the full portal tree. Extension projects are keyed
// "namespace/name" and displayed "namespace.name"; other categories use the
// project directory name for both.
func (c *Catalog) ProjectsTree() []CategoryInfo {
	var out []CategoryInfo
	for _, cat := range c.CategoriesOnDisk() {
		var projects []ProjectInfo

		if cat == CategoryExtensions {
			catDir := filepath.Join(c.root, cat)
			for _, ns := range listDirs(catDir) {
				if strings.EqualFold(ns, LatestName) {
					continue
				}
				for _, ext := range listDirs(filepath.Join(catDir, ns)) {
					if strings.EqualFold(ext, LatestName) {
						continue
					}
					versions := VersionsOf(filepath.Join(catDir, ns, ext), cat)
					projects = append(projects, ProjectInfo{
						ID:            ns + "/" + ext,
						Name:          ns + "." + ext,
						ReleasesCount: len(versions),
					})
				}
			}
		} else {
			for _, proj := range c.Projects(cat) {
				pd := filepath.Join(c.root, cat, proj)
				versions := VersionsOf(pd, cat)
				EnsureLatest(pd, cat)
				projects = append(projects, ProjectInfo{
					ID:            proj,
					Name:          proj,
					ReleasesCount: len(versions),
				})
			}
		}

		sort.Slice(projects, func(i, j int) bool {
			if projects[i].Name != projects[j].Name {
				return projects[i].Name < projects[j].Name
			}
			return projects[i].ID < projects[j].ID
		})
		out = append(out, CategoryInfo{ID: cat, Name: capitalize(cat), Projects: projects})
	}
	return out
}

// ProjectDir resolves a portal project id to its directory, or "" when the
// id is malformed.
func (c *Catalog) ProjectDir(category, project string) string {
	if category == CategoryExtensions {
		parts := strings.Split(project, "/")
		if len(parts) != 2 || !SafeSegment(parts[0]) || !SafeSegment(parts[1]) {
			return ""
		}
		if strings.EqualFold(parts[0], LatestName) || strings.EqualFold(parts[1], LatestName) {
			return ""
		}
		return filepath.Join(c.root, category, parts[0], parts[1])
	}
	if !SafeSegment(project) {
		return ""
	}
	return filepath.Join(c.root, category, project)
}

// ReleasesFor builds the release documents for one project, newest first.
func (c *Catalog) ReleasesFor(category, project string) []Release {
	pd := c.ProjectDir(category, project)
	if pd == "" {
		return nil
	}
	if st, err := os.Stat(pd); err != nil || !st.IsDir() {
		return nil
	}

	rel, err := filepath.Rel(c.root, pd)
	if err != nil {
		return nil
	}
	relBase := filepath.ToSlash(rel)

	versions := VersionsOf(pd, category)
	latestVer, _ := EnsureLatest(pd, category)

	releases := make([]Release, 0, len(versions))
	for _, ver := range versions {
		vdir := filepath.Join(pd, ver)
		var assets []Asset

		for _, name := range listAssetFiles(vdir) {
			assets = append(assets, Asset{
				Name: name,
				Size: sizeOf(filepath.Join(vdir, name)),
				Href: path.Join(relBase, ver, name),
			})
		}
		for _, plat := range listDirs(vdir) {
			if isReservedVersionName(plat) {
				continue
			}
			for _, name := range listAssetFiles(filepath.Join(vdir, plat)) {
				assets = append(assets, Asset{
					Name:     name,
					Size:     sizeOf(filepath.Join(vdir, plat, name)),
					Href:     path.Join(relBase, ver, plat, name),
					Platform: plat,
				})
			}
		}

		r := Release{
			Tag:      ver,
			IsLatest: latestVer != "" && ver == latestVer,
			Assets:   assets,
		}
		if ts := dirMtime(vdir); ts > 0 {
			r.PublishedAt = strconv.FormatInt(ts, 10)
		}
		if notes, ok := ReadReleaseNotes(vdir); ok {
			r.NotesName = notes.Name
			r.Notes = notes.Text
			// Notes are passed through verbatim for HTML display as well;
			// markdown stays unrendered and the portal decides how to show it.
			r.NotesHTML = notes.Text
			r.NotesFormat = notes.Format
		}
		releases = append(releases, r)
	}
	return releases
}

func sizeOf(p string) string {
	st, err := os.Stat(p)
	if err != nil {
		return HumanSize(0)
	}
	return HumanSize(st.Size())
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
