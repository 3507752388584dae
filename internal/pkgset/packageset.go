// Package pkgset provides the opkg package-set algebra used by the
// resolver: sets of package names to include and exclude, with an Append
// that merges two sets the way the defaults set and a user's request are
// merged. It is adapted from the RPM PackageSet type used for distro
// package sets, with RPM semantics replaced by opkg ones (there is no
// equivalent of RPM "weak deps" or arch-qualified names here).
package pkgset

import "sort"

// Set is an unordered collection of opkg package names to include and
// names to exclude, with Exclude taking precedence over Include whenever
// both name the same package.
type Set struct {
	Include []string
	Exclude []string
}

// Append returns the result of merging other into s: includes are unioned,
// excludes are unioned, and s is left unmodified.
func (s Set) Append(other Set) Set {
	return Set{
		Include: union(s.Include, other.Include),
		Exclude: union(s.Exclude, other.Exclude),
	}
}

// Resolve flattens the set into a single sorted, deduplicated slice of
// names with every excluded name removed, regardless of which side of the
// set it was included on.
func (s Set) Resolve() []string {
	excluded := make(map[string]struct{}, len(s.Exclude))
	for _, name := range s.Exclude {
		excluded[name] = struct{}{}
	}

	seen := make(map[string]struct{}, len(s.Include))
	out := make([]string, 0, len(s.Include))
	for _, name := range s.Include {
		if _, skip := excluded[name]; skip {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Contains reports whether name is present in Include and not cancelled
// out by Exclude.
func (s Set) Contains(name string) bool {
	for _, excluded := range s.Exclude {
		if excluded == name {
			return false
		}
	}
	for _, included := range s.Include {
		if included == name {
			return true
		}
	}
	return false
}

func union(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, v := range list {
			if _, dup := seen[v]; dup {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}

// FromNames builds a Set whose Include is names, with any entry prefixed
// by '-' treated as an Exclude of the remainder instead — the convention
// the request format uses for diff_packages removals.
func FromNames(names []string) Set {
	s := Set{}
	for _, n := range names {
		if len(n) > 0 && n[0] == '-' {
			s.Exclude = append(s.Exclude, n[1:])
			continue
		}
		s.Include = append(s.Include, n)
	}
	return s
}
