package vm

import (
	"fmt"
	"sort"
	"strings"
)

// ---------------------------------------------------------------------------
// Cache statistics: per-code-object aggregation for diagnostics
// ---------------------------------------------------------------------------

// SiteStats describes one method-dispatch call site.
type SiteStats struct {
	Slot            int
	CachedClassName string
	Hits            uint64
	Misses          uint64
	HitRate         float64
}

// CacheStats aggregates cache behavior for one code object.
type CacheStats struct {
	CodeName string
	Filename string

	// Value-cache sites for global loads.
	ValueSites   int
	TrustedSites int

	// Method-cache sites.
	MethodSites  int
	MethodHits   uint64
	MethodMisses uint64
	Sites        []SiteStats
}

// HitRate returns the aggregate method-dispatch hit percentage.
func (cs *CacheStats) HitRate() float64 {
	total := cs.MethodHits + cs.MethodMisses
	if total == 0 {
		return 0
	}
	return float64(cs.MethodHits) * 100 / float64(total)
}

// CollectCacheStats walks a code object and its nested code constants,
// producing one CacheStats per code object encountered. Nested functions
// appear after their container in definition order.
func CollectCacheStats(code *CodeObject, threshold int) []CacheStats {
	var out []CacheStats
	collectCacheStats(code, threshold, &out)
	return out
}

func collectCacheStats(code *CodeObject, threshold int, out *[]CacheStats) {
	cs := CacheStats{
		CodeName:    code.Name,
		Filename:    code.Filename,
		ValueSites:  len(code.InlineCaches),
		MethodSites: len(code.InlineMethodCaches),
	}
	for i := range code.InlineCaches {
		ic := &code.InlineCaches[i]
		if !ic.Value.IsNil() && ic.Counter >= threshold {
			cs.TrustedSites++
		}
	}
	for i := range code.InlineMethodCaches {
		mc := &code.InlineMethodCaches[i]
		cs.MethodHits += mc.HitCount
		cs.MethodMisses += mc.MissCount
		cs.Sites = append(cs.Sites, SiteStats{
			Slot:            i,
			CachedClassName: mc.CachedClassName,
			Hits:            mc.HitCount,
			Misses:          mc.MissCount,
			HitRate:         mc.HitRate(),
		})
	}
	*out = append(*out, cs)

	for _, c := range code.Constants {
		if c.Kind() == KindCode {
			collectCacheStats(c.Value().Code, threshold, out)
		}
	}
}

// FormatCacheStats renders collected stats as a human-readable report,
// hottest dispatch sites first within each code object.
func FormatCacheStats(stats []CacheStats) string {
	var b strings.Builder
	for _, cs := range stats {
		fmt.Fprintf(&b, "%s (%s): %d value sites (%d trusted), %d method sites, %.1f%% hit rate\n",
			cs.CodeName, cs.Filename, cs.ValueSites, cs.TrustedSites, cs.MethodSites, cs.HitRate())
		sites := append([]SiteStats(nil), cs.Sites...)
		sort.Slice(sites, func(i, j int) bool {
			return sites[i].Hits+sites[i].Misses > sites[j].Hits+sites[j].Misses
		})
		for _, s := range sites {
			if s.Hits+s.Misses == 0 {
				continue
			}
			fmt.Fprintf(&b, "  site %d: class=%s hits=%d misses=%d (%.1f%%)\n",
				s.Slot, s.CachedClassName, s.Hits, s.Misses, s.HitRate)
		}
	}
	return b.String()
}
