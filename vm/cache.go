package vm

// Inline caches for adaptive specialization.
//
// Every call site of an adaptive family carries a fixed-size region of
// 16-bit cache entries next to its instruction. Entry 0 is always the
// adaptive counter; the remaining entries are family-specific payload
// (a version stamp, a shape identity, a slot index). The region's size is
// fixed per family so a kind rewrite at the call site never resizes or
// relocates anything.

// CacheEntry is a single 16-bit inline cache slot.
type CacheEntry uint16

// cacheCounter is the index of the counter entry in every family's cache.
const cacheCounter = 0

// ---------------------------------------------------------------------------
// Backoff counter
// ---------------------------------------------------------------------------

// BackoffCounter packs a countdown value and a backoff exponent into one
// cache entry: the low 4 bits hold the exponent, the high 12 bits the
// remaining count. While a site holds its base kind the counter drives
// when specialization is attempted; after a decline or a deopt-to-base the
// counter restarts with a doubled wait, so a site that keeps failing to
// specialize re-attempts geometrically less often.
type BackoffCounter CacheEntry

const (
	backoffBits     = 4
	backoffMask     = (1 << backoffBits) - 1
	counterMaxValue = (1 << (16 - backoffBits)) - 1 // 4095
	backoffMaxExp   = 10
)

// MakeBackoffCounter builds a counter with an explicit value and exponent.
func MakeBackoffCounter(value uint16, exponent uint8) BackoffCounter {
	if value > counterMaxValue {
		value = counterMaxValue
	}
	if exponent > backoffMask {
		exponent = backoffMask
	}
	return BackoffCounter(value<<backoffBits | uint16(exponent))
}

// Value returns the remaining countdown.
func (c BackoffCounter) Value() uint16 {
	return uint16(c) >> backoffBits
}

// Exponent returns the backoff exponent.
func (c BackoffCounter) Exponent() uint8 {
	return uint8(c) & backoffMask
}

// Decrement counts down by one execution. Saturates at zero.
func (c BackoffCounter) Decrement() BackoffCounter {
	if c.Value() == 0 {
		return c
	}
	return c - (1 << backoffBits)
}

// Triggers reports whether the countdown has reached its threshold.
func (c BackoffCounter) Triggers() bool {
	return c.Value() == 0
}

// Restart returns a counter waiting base<<exponent executions with the
// exponent advanced by one, capped so the wait stays bounded.
func (c BackoffCounter) Restart(base uint16) BackoffCounter {
	exp := c.Exponent()
	if exp < backoffMaxExp {
		exp++
	}
	wait := uint32(base) << exp
	if wait > counterMaxValue {
		wait = counterMaxValue
	}
	return MakeBackoffCounter(uint16(wait), exp)
}

// initialCounter returns the warmup counter installed at quickening time:
// after warmup executions of the base kind the site attempts to
// specialize for the first time.
func initialCounter(warmup uint16) BackoffCounter {
	return MakeBackoffCounter(warmup, 0)
}

// ---------------------------------------------------------------------------
// Cache entry helpers
// ---------------------------------------------------------------------------

// loadCounter reads the counter entry of a call site's cache.
func loadCounter(cache []CacheEntry) BackoffCounter {
	return BackoffCounter(cache[cacheCounter])
}

// storeCounter writes the counter entry of a call site's cache.
func storeCounter(cache []CacheEntry, c BackoffCounter) {
	cache[cacheCounter] = CacheEntry(c)
}

// packUint32 splits a 32-bit datum across two adjacent cache entries.
func packUint32(cache []CacheEntry, index int, v uint32) {
	cache[index] = CacheEntry(v)
	cache[index+1] = CacheEntry(v >> 16)
}

// unpackUint32 reads a 32-bit datum split across two adjacent entries.
func unpackUint32(cache []CacheEntry, index int) uint32 {
	return uint32(cache[index]) | uint32(cache[index+1])<<16
}
