//go:build !amd64 && !arm64

package optree

// BoxingEliminationSupported reports whether SetBoxingElimination has an
// effect in this build. False on every architecture other than amd64 and
// arm64, where
// Builder.SetBoxingElimination is accepted but silently ignored.
const BoxingEliminationSupported = false
