// Package constants defines shared configuration constants and defaults.
package constants

// Pointer map build defaults.
const (
	// DefaultChunkSize is the number of bytes read from the target per port call.
	DefaultChunkSize = 1 << 20

	// DefaultPointerWidth is the pointer size in bytes of a 64-bit target.
	DefaultPointerWidth = 8

	// DefaultBuildWorkers bounds the number of regions scanned concurrently.
	DefaultBuildWorkers = 4
)

// Chain scan defaults.
const (
	// DefaultMaxDepth is the maximum number of dereferences in a chain.
	DefaultMaxDepth = 5

	// DefaultScanWorkers bounds the number of targets scanned concurrently.
	DefaultScanWorkers = 4
)

// Chain descriptor defaults.
const (
	// DefaultModuleSeparator separates the module label from the base offset.
	DefaultModuleSeparator = "+"

	// DefaultLevelSeparator separates successive offsets.
	DefaultLevelSeparator = "."
)

// Filter defaults.
const (
	// DefaultFilterWorkers bounds concurrent chain resolution in filters.
	DefaultFilterWorkers = 8

	// DefaultReadCacheEntries is the capacity of the per-filter pointer read cache.
	DefaultReadCacheEntries = 1 << 16
)
