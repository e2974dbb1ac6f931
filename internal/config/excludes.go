package config

import "github.com/bmatcuk/doublestar/v4"

// DefaultExcludeFilters are globs suppressed from the file index and watcher
// even when a project's .cxrefd.kdl doesn't list any, trimmed from the
// teacher's much larger multi-language default list (SPEC_FULL.md §3 table)
// down to what's relevant for a C/C++-only indexer.
var DefaultExcludeFilters = []string{
	"**/.git/**",
	"**/.*/**",
	"**/build/**",
	"**/cmake-build-*/**",
	"**/out/**",
	"**/bin/**",
	"**/obj/**",
	"**/*.o",
	"**/*.obj",
	"**/*.a",
	"**/*.so",
	"**/*.dylib",
	"**/*.dll",
	"**/*.pch",
	"**/*.gch",
}

// EffectiveExcludeFilters returns the configured filters plus the built-in
// defaults, deduplicated.
func (c *Config) EffectiveExcludeFilters() []string {
	seen := make(map[string]struct{}, len(c.Index.ExcludeFilters)+len(DefaultExcludeFilters))
	var out []string
	for _, p := range append(append([]string{}, DefaultExcludeFilters...), c.Index.ExcludeFilters...) {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

// IsExcluded reports whether relPath matches any configured exclude glob.
func (c *Config) IsExcluded(relPath string) bool {
	for _, pattern := range c.EffectiveExcludeFilters() {
		if ok, _ := doublestar.Match(pattern, relPath); ok {
			return true
		}
	}
	return false
}
