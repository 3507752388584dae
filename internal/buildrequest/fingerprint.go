package buildrequest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Canonicalize normalizes req in place and
// stamps req.RequestHash. It is idempotent: Canonicalize(Canonicalize(r))
// produces the same RequestHash as a single call.
func Canonicalize(req *Request, limits Limits) error {
	if err := Validate(req, limits); err != nil {
		return err
	}

	req.Packages = sortedUnique(req.Packages)

	if req.PackagesVersions != nil {
		// map iteration order is already randomized; the sorted rendering
		// happens in Fingerprint. Nothing to mutate here beyond leaving
		// the map as-is, since Go maps have no stable order to "sort in
		// place" — callers that need a stable JSON rendering should use
		// SortedPackageVersions.
	}

	req.Defaults = strings.TrimRight(req.Defaults, " \t\r\n")

	req.RequestHash = Fingerprint(req)
	return nil
}

// SortedPackageVersions returns the packages_versions pins ordered by key,
// for stable JSON rendering and for the fingerprint computation.
func SortedPackageVersions(pv map[string]string) []string {
	names := make([]string, 0, len(pv))
	for name := range pv {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func sortedUnique(in []string) []string {
	set := make(map[string]struct{}, len(in))
	for _, v := range in {
		set[v] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Fingerprint computes the hex-encoded SHA-256 fingerprint of req using an
// append-only rendering chosen to keep the fingerprint stable across code
// changes. The field order is: distribution, version, target/subtarget, profile, comma-joined
// sorted packages, diff_packages, rootfs size, then (only if present) a
// ":name=version" segment per sorted pin, then a ":URL" segment per
// repository in order, then (only if non-empty) ":<defaults>".
//
// This rendering never changes for requests that do not use the newer
// optional fields, which keeps old fingerprints stable as the schema
// grows.
func Fingerprint(req *Request) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s:%s:%s:%s", req.Distribution, req.Version, req.TargetSubtarget(), req.Profile)
	b.WriteByte(':')
	b.WriteString(strings.Join(sortedUnique(req.Packages), ","))
	fmt.Fprintf(&b, ":%s", strconv.FormatBool(req.DiffPackages))
	fmt.Fprintf(&b, ":%d", req.RootFSSizeMB)

	for _, name := range SortedPackageVersions(req.PackagesVersions) {
		fmt.Fprintf(&b, ":%s=%s", name, req.PackagesVersions[name])
	}

	for _, url := range req.Repositories {
		fmt.Fprintf(&b, ":%s", url)
	}

	if req.Defaults != "" {
		fmt.Fprintf(&b, ":%s", req.Defaults)
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
