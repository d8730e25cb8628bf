// Package vm implements an adaptive specializing bytecode interpreter.
//
// This package contains:
//   - NaN-boxed value representation
//   - Object shapes and the versioned global table
//   - The instruction family registry and dispatch table
//   - Inline caches with exponential backoff counters
//   - The counting, specialization and deoptimization protocol
//   - Specialization statistics
package vm
