package vm

import (
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// Executors and specialization functions
// ---------------------------------------------------------------------------

// Executor runs the semantics of one instruction kind at a call site.
// Base executors implement the family's generic, always-correct
// semantics; variant executors run a guard phase against the inline cache
// and either take the fast path or deoptimize.
type Executor func(in *Interp, c *Code, site *Instruction) error

// SpecializeFunc is the per-family deep specialization analysis: it
// inspects the operands live at this execution and either picks exactly
// one applicable variant or declines.
//
// On success it must have written every non-counter cache entry the
// returned variant's guards will read, and only those; the caller
// publishes the kind swap. It must not touch user-visible state.
type SpecializeFunc func(in *Interp, c *Code, site *Instruction) (Opcode, bool)

// DeoptPolicy selects what a family does with the call site after a guard
// failure. The policy is fixed per family to keep its cost model
// analyzable.
type DeoptPolicy uint8

const (
	// DeoptRevert swaps the site back to the base kind immediately, so
	// future executions re-enter the counting regime (with backoff).
	DeoptRevert DeoptPolicy = iota

	// DeoptStay leaves the specialized kind installed, betting the miss
	// was transient. A family using DeoptStay repurposes the counter
	// entry as a miss budget: when it runs out the site reverts anyway.
	DeoptStay
)

// ---------------------------------------------------------------------------
// Family configuration
// ---------------------------------------------------------------------------

// KindSpec declares one member kind of a family: the opcode, its
// executor, and the cache footprint the kind expects. Registration
// rejects a family whose members disagree on footprint, since a uniform
// footprint is the contract that lets a site switch kinds in place.
type KindSpec struct {
	Op        Opcode
	Exec      Executor
	CacheSize int
}

// FamilyConfig describes one adaptive instruction family.
type FamilyConfig struct {
	Name       string
	Base       KindSpec   // generic semantics, without the counting policy
	Variants   []KindSpec // ordered; most specific first
	Specialize SpecializeFunc
	Deopt      DeoptPolicy

	// Warmup is the number of base executions before the first
	// specialization attempt. Zero means the registry default.
	Warmup uint16

	// MissBudget is the number of guard failures a DeoptStay family
	// tolerates before reverting anyway. Zero means the registry default.
	MissBudget uint16
}

// family is the installed, read-only descriptor for a family.
type family struct {
	name       string
	base       Opcode
	variants   []Opcode
	cacheSize  int
	specialize SpecializeFunc
	baseExec   Executor
	deopt      DeoptPolicy
	warmup     uint16
	missBudget uint16
}

// ---------------------------------------------------------------------------
// Registry
// ---------------------------------------------------------------------------

// Default tuning, adjustable per family before finalization.
const (
	DefaultWarmup     uint16 = 8
	DefaultMissBudget uint16 = 16
)

var (
	// ErrFinalized is returned by mutations attempted after Finalize.
	ErrFinalized = errors.New("vm: registry already finalized")

	// ErrNotFinalized is returned when execution is attempted before
	// Finalize.
	ErrNotFinalized = errors.New("vm: registry not finalized")
)

// Registry holds the instruction family table and the dispatch jump
// table. It is constructed once at initialization, finalized, and
// read-only afterwards; the per-kind jump table is a flat array because
// the set of kinds is closed and small.
type Registry struct {
	exec     [256]Executor
	families [256]*family
	byName   map[string]*family

	stats     *Recorder
	finalized bool
}

// NewRegistry creates an empty registry with a fresh statistics recorder.
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]*family),
		stats:  NewRecorder(),
	}
}

// Stats returns the registry's statistics recorder.
func (r *Registry) Stats() *Recorder {
	return r.stats
}

// Finalized reports whether the registry has been finalized.
func (r *Registry) Finalized() bool {
	return r.finalized
}

// InstallOp registers a plain, non-adaptive opcode executor.
func (r *Registry) InstallOp(op Opcode, exec Executor) error {
	if r.finalized {
		return ErrFinalized
	}
	if exec == nil {
		return fmt.Errorf("vm: nil executor for %s", op)
	}
	if r.exec[op] != nil {
		return fmt.Errorf("vm: duplicate executor for %s", op)
	}
	r.exec[op] = exec
	return nil
}

// InstallFamily registers an adaptive instruction family. It validates
// the family contract: a specialization function, at least one variant,
// an identical cache footprint for every member (with at least the
// counter entry), and no kind claimed twice.
func (r *Registry) InstallFamily(cfg FamilyConfig) error {
	if r.finalized {
		return ErrFinalized
	}
	if cfg.Name == "" {
		return fmt.Errorf("vm: family without a name")
	}
	if _, ok := r.byName[cfg.Name]; ok {
		return fmt.Errorf("vm: duplicate family %q", cfg.Name)
	}
	if cfg.Specialize == nil {
		return fmt.Errorf("vm: family %q has no specialize function", cfg.Name)
	}
	if cfg.Base.Exec == nil {
		return fmt.Errorf("vm: family %q has no base executor", cfg.Name)
	}
	if len(cfg.Variants) == 0 {
		return fmt.Errorf("vm: family %q has no variants", cfg.Name)
	}
	if cfg.Base.CacheSize < 1 {
		return fmt.Errorf("vm: family %q cache size %d lacks a counter entry",
			cfg.Name, cfg.Base.CacheSize)
	}
	for _, v := range cfg.Variants {
		if v.Exec == nil {
			return fmt.Errorf("vm: family %q variant %s has no executor", cfg.Name, v.Op)
		}
		if v.CacheSize != cfg.Base.CacheSize {
			return fmt.Errorf("vm: family %q variant %s cache size %d != base %d",
				cfg.Name, v.Op, v.CacheSize, cfg.Base.CacheSize)
		}
	}

	fam := &family{
		name:       cfg.Name,
		base:       cfg.Base.Op,
		cacheSize:  cfg.Base.CacheSize,
		specialize: cfg.Specialize,
		baseExec:   cfg.Base.Exec,
		deopt:      cfg.Deopt,
		warmup:     cfg.Warmup,
		missBudget: cfg.MissBudget,
	}
	if fam.warmup == 0 {
		fam.warmup = DefaultWarmup
	}
	if fam.missBudget == 0 {
		fam.missBudget = DefaultMissBudget
	}

	// Claim the base kind: dispatched through the adaptive executor.
	if err := r.claim(cfg.Base.Op, fam, adaptiveExecutor(fam)); err != nil {
		return fmt.Errorf("vm: family %q: %w", cfg.Name, err)
	}
	for _, v := range cfg.Variants {
		if err := r.claim(v.Op, fam, v.Exec); err != nil {
			return fmt.Errorf("vm: family %q: %w", cfg.Name, err)
		}
		fam.variants = append(fam.variants, v.Op)
	}
	r.byName[cfg.Name] = fam
	return nil
}

func (r *Registry) claim(op Opcode, fam *family, exec Executor) error {
	if r.exec[op] != nil || r.families[op] != nil {
		return fmt.Errorf("kind %s already registered", op)
	}
	r.exec[op] = exec
	r.families[op] = fam
	return nil
}

// Tune overrides a family's warmup and miss budget before finalization.
// Zero values leave the corresponding parameter unchanged.
func (r *Registry) Tune(name string, warmup, missBudget uint16) error {
	if r.finalized {
		return ErrFinalized
	}
	fam, ok := r.byName[name]
	if !ok {
		return fmt.Errorf("vm: unknown family %q", name)
	}
	if warmup != 0 {
		fam.warmup = warmup
	}
	if missBudget != 0 {
		fam.missBudget = missBudget
	}
	return nil
}

// Finalize freezes the registry. No further registration is accepted.
func (r *Registry) Finalize() {
	r.finalized = true
}

// FamilyNames returns the names of all installed families.
func (r *Registry) FamilyNames() []string {
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	return names
}

// FamilyOf returns the family name owning a kind, or "" if the kind is
// not a member of any adaptive family.
func (r *Registry) FamilyOf(op Opcode) string {
	if fam := r.families[op]; fam != nil {
		return fam.name
	}
	return ""
}

// BaseOf maps any member kind of a family to the family's base kind.
// Kinds outside every family map to themselves.
func (r *Registry) BaseOf(op Opcode) Opcode {
	if fam := r.families[op]; fam != nil {
		return fam.base
	}
	return op
}

// familyOf returns the installed family descriptor for a kind.
func (r *Registry) familyOf(op Opcode) *family {
	return r.families[op]
}
