// Package memport defines the memory access port consumed by the pointer-chain
// engine, and the value types that describe a target address space.
//
// A Port exposes three capabilities: enumerating the loaded modules that act as
// stable chain bases, enumerating the mapped regions, and reading bytes at an
// address. Two implementations ship with the repository: the live Linux port in
// internal/sys/proc and the in-memory Snapshot in this package, which can also be
// persisted to disk and reloaded for offline scanning.
//
// Supporting types:
//   - Codec interprets raw bytes as pointers of a given width and byte order.
//   - RegionSet answers "is this address mapped" with a binary search.
//   - ModuleTable resolves module labels to base addresses and back.
package memport
