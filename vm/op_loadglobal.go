package vm

import "fmt"

// LoadGlobal family.
//
// The base kind resolves a name through the global table's index map. The
// specialized kind caches the table's version stamp and the resolved slot:
// as long as no global has been defined or stored since, the slot is
// still the right one and the load is a single array read. Any write to
// the global table bumps the version and fails the guard, so the deopt
// policy is revert — one mutation invalidates every cached slot and the
// site should go back to counting rather than missing repeatedly.
//
// Cache layout: [counter, versionLo, versionHi, slot]

const (
	lgCacheVersion = 1 // 32-bit version stamp across two entries
	lgCacheSlot    = 3
	lgCacheSize    = 4
)

func execLoadGlobal(in *Interp, c *Code, site *Instruction) error {
	if int(site.Arg) >= len(c.Names) {
		return fmt.Errorf("vm: name index %d out of range", site.Arg)
	}
	name := c.Names[site.Arg]
	v, _, ok := in.Globals.Lookup(name)
	if !ok {
		return fmt.Errorf("vm: undefined global %q", name)
	}
	in.push(v)
	return nil
}

// specializeLoadGlobal caches (version, slot) when the name resolves and
// the slot index fits a cache entry. An unresolvable name declines:
// the base executor will surface the error either way.
func specializeLoadGlobal(in *Interp, c *Code, site *Instruction) (Opcode, bool) {
	if int(site.Arg) >= len(c.Names) {
		return 0, false
	}
	_, slot, ok := in.Globals.Lookup(c.Names[site.Arg])
	if !ok || slot > 0xFFFF {
		return 0, false
	}
	packUint32(site.cache, lgCacheVersion, in.Globals.Version())
	site.cache[lgCacheSlot] = CacheEntry(slot)
	return OpLoadGlobalCached, true
}

func execLoadGlobalCached(in *Interp, c *Code, site *Instruction) error {
	cache := site.cache

	// Guard: the global table is unchanged since specialization.
	if unpackUint32(cache, lgCacheVersion) != in.Globals.Version() {
		return in.deopt(c, site)
	}

	in.stats.inc(OpLoadGlobalCached, EventHit)
	in.push(in.Globals.SlotAt(int(cache[lgCacheSlot])))
	return nil
}

func loadGlobalFamily() FamilyConfig {
	return FamilyConfig{
		Name: "load_global",
		Base: KindSpec{Op: OpLoadGlobal, Exec: execLoadGlobal, CacheSize: lgCacheSize},
		Variants: []KindSpec{
			{Op: OpLoadGlobalCached, Exec: execLoadGlobalCached, CacheSize: lgCacheSize},
		},
		Specialize: specializeLoadGlobal,
		Deopt:      DeoptRevert,
	}
}
