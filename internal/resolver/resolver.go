package resolver

import (
	"sort"

	"github.com/openwrt-firmware/imagebuilder-core/internal/pkgset"
)

// Error reports a resolver error. The only case Resolve reports is a
// resolution that would produce an empty final set; a rule that names a
// package absent from the defaults is applied as usual, not rejected.
type Error struct {
	Reason string
}

func (e *Error) Error() string { return "resolve: " + e.Reason }

// Input is everything Resolve needs: the request's own fields plus the
// default-package set the ImageBuilder reported for this
// (version, target, subtarget, profile) combination.
type Input struct {
	Version      string
	Target       string
	Subtarget    string
	Profile      string
	Packages     []string
	PackageVersions map[string]string
	DiffPackages bool
	Defaults     []string

	// priorPins carries forward the pins a previous Resolve call actually
	// applied, so a re-resolve of that call's own output with the same
	// PackageVersions doesn't re-emit a Change for a pin that is already
	// in effect. Only idempotenceInput sets this; ordinary callers leave
	// it nil.
	priorPins map[string]string
}

// Result is the resolver's pure output: the final package set plus an
// ordered audit log. Resolve never touches the filesystem or network.
type Result struct {
	Packages []string
	Changes  []Change

	// AppliedPins is the final package->version map of every pin applied
	// while producing Packages, win or lose tie-breaks included. Feed it
	// back via priorPins to re-resolve this Result's own output without
	// re-emitting already-satisfied pins.
	AppliedPins map[string]string
}

// Resolve applies default reconciliation, then migrations, then hardware
// additions, then pins — in that tie-break order — and
// returns the final package list plus the change log.
//
// diff_packages combined with explicit "-name" removals is underspecified
// upstream; this implementation adopts
// "union of defaults and delta, minus removals" in both diff_packages
// modes — not only when DiffPackages is true — since treating "-name" as
// an explicit removal regardless of mode is the least surprising reading
// for a caller who types it.
func Resolve(in Input) (Result, error) {
	return resolveWithRules(in, defaultRules)
}

func resolveWithRules(in Input, rules ruleTable) (Result, error) {
	var changes []Change

	base := pkgset.FromNames(in.Packages)
	defaults := pkgset.Set{Include: in.Defaults}

	var working pkgset.Set
	if in.DiffPackages {
		// packages is a delta over the device's current (= default) set.
		working = defaults.Append(base)
	} else {
		// packages is the complete user-chosen set; defaults are still
		// merged in so base-system packages required by the profile are
		// never silently dropped.
		working = base.Append(defaults)
	}

	current := toSet(working.Resolve())

	// 1. migrations: renames, removals, language-pack collapses.
	for _, rule := range rules.migrations {
		if !atLeast(in.Version, rule.SinceVersion) {
			continue
		}
		for name := range current {
			if !rule.matches(name) {
				continue
			}
			if rule.To == "" {
				delete(current, name)
				changes = append(changes, Change{
					Kind:      ChangeRemove,
					Package:   name,
					Reason:    rule.Reason,
					Automatic: true,
				})
				continue
			}
			if name == rule.To {
				// already in its collapsed/renamed form; nothing to do.
				continue
			}
			delete(current, name)
			if _, already := current[rule.To]; already {
				changes = append(changes, Change{
					Kind:      ChangeReplace,
					From:      name,
					To:        rule.To,
					Reason:    "duplicate collapsed",
					Automatic: true,
				})
				continue
			}
			current[rule.To] = struct{}{}
			changes = append(changes, Change{
				Kind:      ChangeReplace,
				From:      name,
				To:        rule.To,
				Reason:    rule.Reason,
				Automatic: true,
			})
		}
	}

	// 2. hardware-specific additions.
	for _, rule := range rules.hardware {
		if !rule.appliesTo(in.Target, in.Subtarget, in.Profile) {
			continue
		}
		for _, pkg := range rule.Add {
			if _, present := current[pkg]; present {
				continue
			}
			current[pkg] = struct{}{}
			changes = append(changes, Change{
				Kind:      ChangeAdd,
				Package:   pkg,
				Reason:    rule.Reason,
				Automatic: true,
			})
		}
	}

	// 3. pins: applied last so an explicit user pin always wins. A pin is
	// only a Change when it actually alters something: either the
	// package wasn't already in the set, or its previously applied
	// version differs from the one requested now.
	appliedPins := make(map[string]string, len(in.PackageVersions))
	for _, name := range sortedKeys(in.PackageVersions) {
		version := in.PackageVersions[name]
		_, present := current[name]
		if !present {
			current[name] = struct{}{}
		}
		if !present || in.priorPins[name] != version {
			changes = append(changes, Change{
				Kind:      ChangePin,
				Package:   name,
				Version:   version,
				Reason:    "explicit user pin",
				Automatic: false,
			})
		}
		appliedPins[name] = version
	}

	final := make([]string, 0, len(current))
	for name := range current {
		final = append(final, name)
	}
	sort.Strings(final)

	if len(final) == 0 {
		return Result{}, &Error{Reason: "resolution produced an empty package set"}
	}

	return Result{Packages: final, Changes: changes, AppliedPins: appliedPins}, nil
}

func toSet(names []string) map[string]struct{} {
	out := make(map[string]struct{}, len(names))
	for _, n := range names {
		out[n] = struct{}{}
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// idempotenceInput rebuilds an Input from a prior Result so callers (and
// tests) can check the resolver's idempotence property directly.
func idempotenceInput(in Input, prior Result) Input {
	next := in
	next.Packages = append([]string(nil), prior.Packages...)
	next.DiffPackages = false
	next.priorPins = prior.AppliedPins
	return next
}
