package model

import "path/filepath"

// VsixFileName is the primary package file inside a target platform directory.
const VsixFileName = "extension.vsix"

// UnpackedDirName holds an optional unpacked copy of the package next to it.
const UnpackedDirName = "unpacked"

// ExtensionRecord is one indexed extension artifact.
// Unique key: (namespace, name, version, target_platform).
type ExtensionRecord struct {
	Namespace      string `db:"namespace"`
	Name           string `db:"name"`
	Version        string `db:"version"`
	TargetPlatform string `db:"target_platform"`
	DirPath        string `db:"dir_path"`
	PublishedAt    int64  `db:"published_ts"`
}

// VsixPath returns the package archive path for this record.
func (r ExtensionRecord) VsixPath() string {
	return filepath.Join(r.DirPath, VsixFileName)
}

// UnpackedDir returns the unpacked directory path for this record.
func (r ExtensionRecord) UnpackedDir() string {
	return filepath.Join(r.DirPath, UnpackedDirName)
}

// ExtSchema contains the SQL schema for the extensions index.
const ExtSchema = `
CREATE TABLE IF NOT EXISTS extensions (
    namespace TEXT NOT NULL,
    name TEXT NOT NULL,
    version TEXT NOT NULL,
    target_platform TEXT NOT NULL,
    dir_path TEXT NOT NULL,
    published_ts INTEGER NOT NULL,
    PRIMARY KEY (namespace, name, version, target_platform)
);
`

// ExtIndexes are rebuilt after every reinsert.
const ExtIndexes = `
CREATE INDEX IF NOT EXISTS idx_ext_ns_name ON extensions(namespace, name);
CREATE INDEX IF NOT EXISTS idx_ext_ns_name_tp ON extensions(namespace, name, target_platform);
CREATE INDEX IF NOT EXISTS idx_ext_ns_name_ver ON extensions(namespace, name, version);
`
