//go:build invariants

package invariants

// Enabled is true in instrumented builds. Index corruption detected in such a
// build panics instead of being returned to the caller.
const Enabled = true
