package resolver

import (
	"github.com/coreos/go-semver/semver"
	"github.com/gobwas/glob"
)

// migrationRule describes a rename, removal, or language-pack collapse
// that takes effect starting at a given release.
type migrationRule struct {
	// SinceVersion is the first release the rule applies to ("" means
	// every release, including SNAPSHOT).
	SinceVersion string
	// Match is the package name or glob this rule reacts to. Renames and
	// removals use a literal name; language-pack collapses use a glob
	// like "luci-i18n-*-en" to match every per-language variant.
	Match string
	// To is the replacement package name; empty for a removal.
	To     string
	Reason string
}

// hardwareRule adds kernel modules or firmware a specific device needs
// but that are not present in the ImageBuilder's own default set.
type hardwareRule struct {
	Target, Subtarget, Profile string
	Add                        []string
	Reason                     string
}

// ruleTable is the static, version/target-keyed set of migrations and
// hardware additions. It is deliberately small and hand-maintained, the
// way a distroMap/imageType registry is: a literal table,
// not a generated one.
type ruleTable struct {
	migrations []migrationRule
	hardware   []hardwareRule
}

// defaultRules is the production rule table.
var defaultRules = ruleTable{
	migrations: []migrationRule{
		{
			SinceVersion: "24.10.0",
			Match:        "auc",
			To:           "owut",
			Reason:       "auc renamed to owut in 24.10",
		},
		{
			SinceVersion: "21.02.0",
			Match:        "luci-ssl",
			To:           "luci-ssl-nginx",
			Reason:       "luci-ssl deprecated in favor of luci-ssl-nginx",
		},
		{
			SinceVersion: "19.07.0",
			Match:        "luci-i18n-*-*",
			To:           "luci-i18n-base",
			Reason:       "per-language luci variants collapsed into a single umbrella package",
		},
	},
	hardware: []hardwareRule{
		{
			Target:    "mvebu",
			Subtarget: "cortexa9",
			Profile:   "linksys_wrt1900ac-v2",
			Add:       []string{"kmod-dsa-mv88e6xxx", "kmod-dsa"},
			Reason:    "required by profile: DSA switch driver not present in ImageBuilder defaults",
		},
		{
			Target:    "ipq40xx",
			Subtarget: "generic",
			Profile:   "linksys_ea8300",
			Add:       []string{"kmod-ath10k", "ath10k-firmware-qca4019"},
			Reason:    "required by profile: radio firmware not present in ImageBuilder defaults",
		},
	},
}

// atLeast reports whether version is >= min. The SNAPSHOT pseudo-version
// is treated as newer than every numbered release, matching the
// ImageBuilder convention that trunk always carries the latest package
// set and migrations.
func atLeast(version, min string) bool {
	if min == "" {
		return true
	}
	if version == "SNAPSHOT" {
		return true
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		// an unparseable version already failed validation upstream;
		// treat conservatively as not matching rather than panicking.
		return false
	}
	m, err := semver.NewVersion(min)
	if err != nil {
		return false
	}
	return !v.LessThan(*m)
}

// matches reports whether a migration rule's Match pattern names pkg,
// using glob syntax so a single rule can collapse many per-language
// variants (e.g. "luci-i18n-base-*") into one umbrella package.
func (r migrationRule) matches(pkg string) bool {
	g, err := glob.Compile(r.Match)
	if err != nil {
		return r.Match == pkg
	}
	return g.Match(pkg)
}

func (h hardwareRule) appliesTo(target, subtarget, profile string) bool {
	return h.Target == target && h.Subtarget == subtarget && h.Profile == profile
}
