package vm

// The adaptive counting and deoptimization protocol shared by every
// instruction family.
//
// A call site progresses: base (counting down) -> specialization attempt
// -> specialized variant (guarding) -> deopt -> base again, with
// exponential backoff after declines and reverts. Every path through this
// file runs the family's generic semantics for the current execution, so
// the program-visible result is always identical to a base-only run.

// adaptiveExecutor wraps a family's generic executor with the counting
// policy. It is what the registry installs at the family's base kind.
func adaptiveExecutor(fam *family) Executor {
	return func(in *Interp, c *Code, site *Instruction) error {
		cache := site.cache
		if !in.specEnabled || cache == nil {
			return fam.baseExec(in, c, site)
		}

		counter := loadCounter(cache).Decrement()
		storeCounter(cache, counter)
		if !counter.Triggers() {
			return fam.baseExec(in, c, site)
		}

		// Threshold crossing: consult the family's analysis while the
		// operands are still live on the stack, then run the base
		// operation regardless of the outcome. The analysis only writes
		// dispatch metadata, so running it first is invisible.
		in.stats.inc(fam.base, EventAttempt)
		if variant, ok := fam.specialize(in, c, site); ok {
			assertf(in.reg.familyOf(variant) == fam,
				"specialize for %s installed foreign kind %s", fam.name, variant)
			if fam.deopt == DeoptStay {
				// DeoptStay contract: while specialized, the counter
				// entry is the variant's miss budget.
				storeCounter(cache, MakeBackoffCounter(fam.missBudget, counter.Exponent()))
			}
			// Cache payload is fully written by the specialize function;
			// the kind swap publishes it.
			site.setKind(variant)
		} else {
			in.stats.inc(fam.base, EventDeferred)
			storeCounter(cache, counter.Restart(fam.warmup))
		}
		return fam.baseExec(in, c, site)
	}
}

// deopt is the guard-failure path for every specialized executor: record
// the miss, apply the family's site policy, and run the generic semantics
// for the current operands so the observable result is unaffected.
//
// A miss is an expected, statistically common event, not an error.
func (in *Interp) deopt(c *Code, site *Instruction) error {
	op := site.Kind()
	fam := in.reg.familyOf(op)
	assertf(fam != nil, "deopt from kind %s outside any family", op)
	in.stats.inc(op, EventMiss)

	switch fam.deopt {
	case DeoptRevert:
		// Publish the base kind first; the counter write after it is
		// advisory and harmless if another task sees it late.
		site.setKind(fam.base)
		storeCounter(site.cache, loadCounter(site.cache).Restart(fam.warmup))

	case DeoptStay:
		// Spend one unit of the miss budget; revert when it runs out.
		budget := loadCounter(site.cache).Decrement()
		storeCounter(site.cache, budget)
		if budget.Triggers() {
			site.setKind(fam.base)
			storeCounter(site.cache, budget.Restart(fam.warmup))
		}
	}
	return fam.baseExec(in, c, site)
}
