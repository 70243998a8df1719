package vm

// ---------------------------------------------------------------------------
// MethodCache: per-frame secondary dispatch cache
// ---------------------------------------------------------------------------

// MethodCacheEntry is one memoized lookup outcome inside a single
// activation. Method may be nil: a negative entry records that the class
// has no such method, which spares repeating the failed resolution.
type MethodCacheEntry struct {
	ClassName  string
	MethodName string
	Method     Method // nil for a negative entry
	Version    uint64
}

// methodCacheKey keys the per-frame cache by (class, method) pair.
type methodCacheKey struct {
	className  string
	methodName string
}

// LookupMethodCache returns the cached entry for the pair if present,
// regardless of staleness. Callers decide freshness by comparing the
// entry's Version against the frame's CacheVersion.
func (f *Frame) LookupMethodCache(className, methodName string) (*MethodCacheEntry, bool) {
	if f.methodCache == nil {
		return nil, false
	}
	entry, ok := f.methodCache[methodCacheKey{className, methodName}]
	return entry, ok
}

// UpdateMethodCache inserts or overwrites the entry for the pair, stamped
// with the frame's current CacheVersion. A nil method caches a negative
// lookup.
func (f *Frame) UpdateMethodCache(className, methodName string, method Method) {
	if f.methodCache == nil {
		f.methodCache = make(map[methodCacheKey]*MethodCacheEntry)
	}
	f.methodCache[methodCacheKey{className, methodName}] = &MethodCacheEntry{
		ClassName:  className,
		MethodName: methodName,
		Method:     method,
		Version:    f.CacheVersion,
	}
}

// MethodCacheLen returns the number of cached entries. Diagnostic use only.
func (f *Frame) MethodCacheLen() int {
	return len(f.methodCache)
}
