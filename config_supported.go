// Boxing elimination's entry-side Dup assumes a 64-bit operand stack slot
// can carry either a tagged pointer or an unboxed scalar interchangeably
// (spec.md §9 Open Question #1); we've only validated that assumption on
// 64-bit architectures, so it's gated the same way the teacher gates its
// amd64/arm64-only compiler engine in config_supported.go/
// config_unsupported.go.
//go:build amd64 || arm64

package optree

// BoxingEliminationSupported reports whether SetBoxingElimination has an
// effect in this build. False on every architecture other than amd64 and
// arm64, where
// Builder.SetBoxingElimination is accepted but silently ignored.
const BoxingEliminationSupported = true
