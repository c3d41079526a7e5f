package optree

import "github.com/optree-lang/optree/internal/interpreter"

// BuilderConfig controls how a Builder is constructed, following the
// immutable-clone-builder pattern of wazero's RuntimeConfig: each With…
// method returns a modified copy, leaving the receiver untouched.
type BuilderConfig struct {
	tracing           bool
	boxingElimination bool
}

// NewBuilderConfig returns the default BuilderConfig: no basic-block
// tracing, no boxing elimination.
func NewBuilderConfig() *BuilderConfig {
	return &BuilderConfig{}
}

func (c *BuilderConfig) clone() *BuilderConfig {
	cp := *c
	return &cp
}

// WithTracing enables basic-block boundary tracking in the builder's
// bytecode buffer (spec.md §4.1 "if tracing is enabled"). Neither the
// interpreter tiers nor the CLI's -trace flag read the boundary map.
func (c *BuilderConfig) WithTracing(enabled bool) *BuilderConfig {
	ret := c.clone()
	ret.tracing = enabled
	return ret
}

// WithBoxingElimination enables Conditional's optional entry-side Dup
// (spec.md §9 Open Question #1). Has no effect if BoxingEliminationSupported
// is false for this build's architecture.
func (c *BuilderConfig) WithBoxingElimination(enabled bool) *BuilderConfig {
	ret := c.clone()
	ret.boxingElimination = enabled
	return ret
}

// NewBuilder creates a Builder for a root named name, dispatching against
// table, configured per c.
func (c *BuilderConfig) NewBuilder(name string, table Table) *Builder {
	bd := NewBuilder(name, table, c.tracing)
	bd.SetBoxingElimination(c.boxingElimination)
	return bd
}

// InterpreterConfig controls how a built RootProgram executes: its tiering
// cadence and its OSR back-edge collaborator (spec.md §4.7-§4.8),
// following the same immutable-clone-builder pattern as BuilderConfig.
type InterpreterConfig struct {
	uncachedThreshold     uint64
	instrumentedThreshold uint64
	osrBackEdgeHook       func(bci int, iterations int) (entry bool)
	natives               []NativeFunc
	families              map[uint16]*QuickeningFamily
	instrumentProbe       func(kind Kind, tag string, bci int)
}

// NewInterpreterConfig returns the default InterpreterConfig: the
// interpreter's built-in PromoteAfter cadence and no OSR back-edge hook.
func NewInterpreterConfig() *InterpreterConfig {
	return &InterpreterConfig{
		uncachedThreshold:     interpreter.PromoteAfter,
		instrumentedThreshold: 2 * interpreter.PromoteAfter,
	}
}

func (c *InterpreterConfig) clone() *InterpreterConfig {
	cp := *c
	return &cp
}

// WithUncachedInterpreterThreshold overrides the invocation count after
// which Execute promotes a root from TierUncached to TierCached.
func (c *InterpreterConfig) WithUncachedInterpreterThreshold(n uint64) *InterpreterConfig {
	ret := c.clone()
	ret.uncachedThreshold = n
	return ret
}

// WithInstrumentedInterpreterThreshold overrides the invocation count after
// which Execute promotes a root from TierCached to TierInstrumented.
func (c *InterpreterConfig) WithInstrumentedInterpreterThreshold(n uint64) *InterpreterConfig {
	ret := c.clone()
	ret.instrumentedThreshold = n
	return ret
}

// WithOSRBackEdgeHook registers the on-stack-replacement polling callback
// invoked on every backward branch taken (spec.md §4.7 item 3). A nil hook
// (the default) disables polling entirely.
func (c *InterpreterConfig) WithOSRBackEdgeHook(hook func(bci int, iterations int) (entry bool)) *InterpreterConfig {
	ret := c.clone()
	ret.osrBackEdgeHook = hook
	return ret
}

// WithNatives registers the functions a root's Custom/CustomShortCircuit
// instructions dispatch to, indexed by each Descriptor's NativeIndex.
// Required whenever the Table passed to Build/Load/DeserializeRootProgram
// defines any Custom instruction.
func (c *InterpreterConfig) WithNatives(natives []NativeFunc) *InterpreterConfig {
	ret := c.clone()
	ret.natives = natives
	return ret
}

// WithQuickeningFamilies registers the Quickening Rewriter's families
// (spec.md §4.6, C8), keyed by each family's base opcode. A Custom or
// CustomShortCircuit instruction whose base id has no registered family is
// simply never quickened.
func (c *InterpreterConfig) WithQuickeningFamilies(families []QuickeningFamily) *InterpreterConfig {
	ret := c.clone()
	byBase := make(map[uint16]*QuickeningFamily, len(families))
	for i := range families {
		byBase[families[i].Base] = &families[i]
	}
	ret.families = byBase
	return ret
}

// WithInstrumentationProbe registers the callback invoked for
// InstrumentTag's instructions while a root runs at TierInstrumented
// (spec.md §4.7). A nil probe (the default) makes InstrumentTag a no-op.
func (c *InterpreterConfig) WithInstrumentationProbe(probe func(kind Kind, tag string, bci int)) *InterpreterConfig {
	ret := c.clone()
	ret.instrumentProbe = probe
	return ret
}
