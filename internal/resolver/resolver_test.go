package resolver

import (
	"reflect"
	"testing"
)

func TestResolveMigrationRename(t *testing.T) {
	in := Input{
		Version:  "24.10.0",
		Target:   "ath79",
		Subtarget: "generic",
		Profile:  "tplink_archer-c7-v5",
		Packages: []string{"luci", "auc"},
		Defaults: []string{"base-files", "luci"},
	}
	res, err := Resolve(in)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !contains(res.Packages, "owut") || contains(res.Packages, "auc") {
		t.Fatalf("expected auc renamed to owut, got %v", res.Packages)
	}
	found := false
	for _, c := range res.Changes {
		if c.Kind == ChangeReplace && c.From == "auc" && c.To == "owut" && c.Automatic {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a replace change for auc->owut, got %v", res.Changes)
	}
}

func TestResolveHardwareAddition(t *testing.T) {
	in := Input{
		Version:  "25.12.0",
		Target:   "mvebu",
		Subtarget: "cortexa9",
		Profile:  "linksys_wrt1900ac-v2",
		Packages: []string{"luci"},
		Defaults: []string{"base-files"},
	}
	res, err := Resolve(in)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !contains(res.Packages, "kmod-dsa-mv88e6xxx") {
		t.Fatalf("expected DSA kmod added, got %v", res.Packages)
	}
}

func TestResolveDiffPackagesUnion(t *testing.T) {
	in := Input{
		Version:      "23.05.0",
		Target:       "ath79",
		Subtarget:    "generic",
		Profile:      "tplink_archer-c7-v5",
		Packages:     []string{"curl", "-ppp"},
		DiffPackages: true,
		Defaults:     []string{"base-files", "ppp", "ppp-mod-pppoe"},
	}
	res, err := Resolve(in)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if contains(res.Packages, "ppp") {
		t.Fatalf("expected ppp removed via explicit -ppp, got %v", res.Packages)
	}
	if !contains(res.Packages, "curl") || !contains(res.Packages, "base-files") {
		t.Fatalf("expected curl and base-files present, got %v", res.Packages)
	}
}

func TestResolveConflictCollapsesDuplicate(t *testing.T) {
	in := Input{
		Version:  "24.10.0",
		Target:   "ath79",
		Subtarget: "generic",
		Profile:  "tplink_archer-c7-v5",
		Packages: []string{"auc", "owut"},
		Defaults: []string{"base-files"},
	}
	res, err := Resolve(in)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	count := 0
	for _, p := range res.Packages {
		if p == "owut" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected owut exactly once, got %v", res.Packages)
	}
	found := false
	for _, c := range res.Changes {
		if c.Reason == "duplicate collapsed" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a 'duplicate collapsed' change, got %v", res.Changes)
	}
}

func TestResolvePinsWinAndApplyLast(t *testing.T) {
	in := Input{
		Version:  "23.05.0",
		Target:   "ath79",
		Subtarget: "generic",
		Profile:  "tplink_archer-c7-v5",
		Packages: []string{"curl"},
		PackageVersions: map[string]string{"curl": "8.5.0-1"},
		Defaults: []string{"base-files"},
	}
	res, err := Resolve(in)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	last := res.Changes[len(res.Changes)-1]
	if last.Kind != ChangePin || last.Package != "curl" || last.Version != "8.5.0-1" {
		t.Fatalf("expected pin to be the last applied change, got %+v", last)
	}
}

func TestResolveIdempotent(t *testing.T) {
	in := Input{
		Version:  "24.10.0",
		Target:   "ath79",
		Subtarget: "generic",
		Profile:  "tplink_archer-c7-v5",
		Packages: []string{"luci", "auc", "curl"},
		PackageVersions: map[string]string{"curl": "8.5.0-1"},
		Defaults: []string{"base-files", "luci"},
	}
	first, err := Resolve(in)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(first.Changes) == 0 {
		t.Fatalf("expected the first resolve to produce changes (migration + pin)")
	}
	second, err := resolveWithRules(idempotenceInput(in, first), defaultRules)
	if err != nil {
		t.Fatalf("resolve again: %v", err)
	}
	if len(second.Changes) != 0 {
		t.Fatalf("expected zero changes on re-resolve of the resolver's own output, got %+v", second.Changes)
	}
	if !reflect.DeepEqual(first.Packages, second.Packages) {
		t.Fatalf("expected stable package set, got %v vs %v", first.Packages, second.Packages)
	}
}

func TestResolveEmptySetErrors(t *testing.T) {
	in := Input{
		Version:  "23.05.0",
		Target:   "ath79",
		Subtarget: "generic",
		Profile:  "tplink_archer-c7-v5",
		Packages: []string{"-onlypkg"},
		Defaults: []string{"onlypkg"},
	}
	_, err := Resolve(in)
	if err == nil {
		t.Fatalf("expected resolver error for empty result set")
	}
}

func contains(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}
