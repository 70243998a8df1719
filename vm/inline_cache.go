package vm

// Inline caching for global loads and method dispatch.
//
// Both cache kinds live in the owning CodeObject, one slot per use site,
// addressed by the slot index the compiler embedded into the instruction.
// Invalidation is a single integer comparison against a version counter:
// the globals namespace version for value caches, the receiver class
// version for method caches.

// DefaultTrustThreshold is the number of consecutive validated hits after
// which a value cache site is trusted without a full lookup. Below it, the
// site keeps re-resolving and counting.
const DefaultTrustThreshold = 8

// ---------------------------------------------------------------------------
// InlineCache: per-site cache for global/attribute-style lookups
// ---------------------------------------------------------------------------

// InlineCache memoizes a single resolved value per use site. The counter
// gates specialization: a site becomes trusted only after enough
// consecutive lookups resolved the same version with a matching type tag.
type InlineCache struct {
	Counter int
	Version uint64
	Value   RcValue // zero handle when nothing is cached
	TypeTag string  // empty when no guard has been recorded
}

// Valid reports whether the cached value may be consulted at all under the
// given version. Trust is a separate, stricter condition.
func (ic *InlineCache) Valid(version uint64) bool {
	return !ic.Value.IsNil() && ic.Version == version
}

// Trusted reports whether the site is hot enough to use the cached value
// without re-resolving, under the engine's configured threshold.
func (ic *InlineCache) Trusted(version uint64, threshold int) bool {
	return ic.Valid(version) && ic.Counter >= threshold
}

// Record notes the outcome of a full lookup. A result matching the cached
// version and type tag bumps the counter; anything else restarts the site
// at a count of one.
func (ic *InlineCache) Record(v RcValue, version uint64) {
	tag := v.Value().TypeName()
	if ic.Valid(version) && ic.TypeTag == tag {
		ic.Counter++
		return
	}
	if !ic.Value.IsNil() {
		ic.Value.Release()
	}
	ic.Value = v.Clone()
	ic.Version = version
	ic.TypeTag = tag
	ic.Counter = 1
}

// Invalidate clears the site back to cold.
func (ic *InlineCache) Invalidate() {
	if !ic.Value.IsNil() {
		ic.Value.Release()
	}
	*ic = InlineCache{}
}

// Equals compares two caches by counter, version, and type tag. The cached
// value is excluded: values need not support cheap equality.
func (ic *InlineCache) Equals(other *InlineCache) bool {
	return ic.Counter == other.Counter &&
		ic.Version == other.Version &&
		ic.TypeTag == other.TypeTag
}

// ---------------------------------------------------------------------------
// InlineMethodCache: monomorphic per-call-site method cache
// ---------------------------------------------------------------------------

// InlineMethodCache remembers exactly one (class, method) pairing per call
// site. Under polymorphism it degrades to a miss-then-overwrite cache,
// trading megamorphic performance for a branch-free common case.
type InlineMethodCache struct {
	CachedClassName string
	CachedMethod    Method // nil when nothing is cached
	CacheVersion    uint64
	HitCount        uint64
	MissCount       uint64
}

// IsValid reports whether the cached method may be used for a receiver of
// the given class under the given version.
func (mc *InlineMethodCache) IsValid(className string, currentVersion uint64) bool {
	return mc.CacheVersion == currentVersion &&
		mc.CachedClassName == className &&
		mc.CachedMethod != nil
}

// Update overwrites the cache after a miss. Updates only ever happen on a
// miss, so the miss counter bumps here.
func (mc *InlineMethodCache) Update(className string, method Method, currentVersion uint64) {
	mc.CachedClassName = className
	mc.CachedMethod = method
	mc.CacheVersion = currentVersion
	mc.MissCount++
}

// Get returns the cached method, counting a hit. Callers must have checked
// IsValid first; Get does not revalidate.
func (mc *InlineMethodCache) Get() Method {
	mc.HitCount++
	return mc.CachedMethod
}

// HitRate returns the hit percentage for this site.
func (mc *InlineMethodCache) HitRate() float64 {
	total := mc.HitCount + mc.MissCount
	if total == 0 {
		return 0
	}
	return float64(mc.HitCount) * 100 / float64(total)
}
