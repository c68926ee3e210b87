package model

// Invalid reason codes recorded by the IDE index scan. Rows carrying one of
// these are kept for observability but excluded from all serving paths.
const (
	ReasonNoMetaJSON          = "no_meta_json"
	ReasonMultipleMetaJSON    = "multiple_meta_json"
	ReasonBinaryMissing       = "binary_missing"
	ReasonMetaUnparseable     = "meta_json_unparseable"
	ReasonMetaMissingFields   = "meta_missing_required_fields"
	ReasonMetaProjectMismatch = "meta_project_mismatch"
	ReasonMetaVersionMismatch = "meta_version_mismatch"
	ReasonPlatformNormalize   = "platform_normalize_failed"
	ReasonPlatformDirMismatch = "platform_dir_mismatch"
)

// MetaSuffix is appended to the binary filename to form its descriptor name.
const MetaSuffix = ".json"

// IdeArtifact is one indexed IDE build for a single platform.
// Unique key: (project, version, platform).
type IdeArtifact struct {
	Project       string `db:"project"`
	Version       string `db:"version"`
	Platform      string `db:"platform"`
	MetaRelPath   string `db:"meta_rel_path"`
	BinaryRelPath string `db:"binary_rel_path"`
	PublishedAt   int64  `db:"published_ts"`
	IsLatest      bool   `db:"is_latest"`
	IsValid       bool   `db:"is_valid"`
	InvalidReason string `db:"invalid_reason"`
}

// IdeVersion is the per-version aggregate served by the releases listing.
type IdeVersion struct {
	Version     string
	PublishedAt int64
	IsLatest    bool
}

// IdeMeta is the JSON descriptor uploaded next to each IDE binary.
type IdeMeta struct {
	SubProductName string `json:"sub_product_name"`
	Version        string `json:"version"`
	OSType         string `json:"os_type"`
	Arch           string `json:"arch"`
}

// IdeSchema contains the SQL schema for the IDE index.
const IdeSchema = `
CREATE TABLE IF NOT EXISTS ide_platforms (
    project TEXT NOT NULL,
    version TEXT NOT NULL,
    platform TEXT NOT NULL,
    meta_rel_path TEXT NOT NULL,
    binary_rel_path TEXT NOT NULL,
    published_ts INTEGER NOT NULL,
    is_latest INTEGER NOT NULL,
    is_valid INTEGER NOT NULL,
    invalid_reason TEXT NULL,
    PRIMARY KEY (project, version, platform)
);
`

// IdeIndexes are rebuilt after every reinsert.
const IdeIndexes = `
CREATE INDEX IF NOT EXISTS idx_ide_project_ver ON ide_platforms(project, version);
CREATE INDEX IF NOT EXISTS idx_ide_project_latest_platform ON ide_platforms(project, is_latest, platform);
CREATE INDEX IF NOT EXISTS idx_ide_project_published ON ide_platforms(project, published_ts DESC);
CREATE INDEX IF NOT EXISTS idx_ide_project_platform ON ide_platforms(project, platform);
`
