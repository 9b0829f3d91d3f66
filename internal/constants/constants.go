// Package constants defines shared configuration constants.
package constants

var (
	ConfigFile = "config.yaml"

	DefaultDir = ".ptrscan"

	// ConfigEnvVar overrides the directory holding ConfigFile.
	ConfigEnvVar = "PTRSCAN_CONFIG"

	// IndexFileExt and PayloadFileExt name the two halves of a persisted pointer map.
	IndexFileExt   = ".idx"
	PayloadFileExt = ".dat"

	// SnapshotManifest is the manifest file inside a snapshot directory.
	SnapshotManifest = "snapshot.yaml"
)
