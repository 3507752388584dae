package buildrequest

import (
	"fmt"
	"regexp"
)

// safeTokenPattern matches the conservative token grammar shared by
// profile names and package names: alphanumerics plus _, -, ., +.
var safeTokenPattern = regexp.MustCompile(`^[A-Za-z0-9_.+-]+$`)

// versionPattern matches a versioned release (e.g. "23.05.0", "24.10.0-rc1")
// or the SNAPSHOT form used for trunk builds.
var versionPattern = regexp.MustCompile(`^(SNAPSHOT|[0-9]+\.[0-9]+\.[0-9]+(-[A-Za-z0-9.]+)?)$`)

var targetPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidationError reports that a request violates one of the invariants
// It names the offending field so the API boundary can
// surface a precise 400 response.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Limits bounds the validation-time checks that depend on operator
// configuration (max_defaults_length, max_custom_rootfs_size_mb).
type Limits struct {
	MaxDefaultsLength   int
	MaxCustomRootFSMB   int
	AllowDefaults       bool
}

// Validate checks every request invariant. It does not mutate req.
func Validate(req *Request, limits Limits) error {
	if req.Distribution == "" {
		return &ValidationError{Field: "distribution", Reason: "must not be empty"}
	}
	if !versionPattern.MatchString(req.Version) {
		return &ValidationError{Field: "version", Reason: "must be a versioned release or SNAPSHOT"}
	}
	if !targetPattern.MatchString(req.Target) {
		return &ValidationError{Field: "target", Reason: "must be a safe token"}
	}
	if !targetPattern.MatchString(req.Subtarget) {
		return &ValidationError{Field: "subtarget", Reason: "must be a safe token"}
	}
	if !safeTokenPattern.MatchString(req.Profile) {
		return &ValidationError{Field: "profile", Reason: "must match the safe-token pattern"}
	}
	for _, pkg := range req.Packages {
		name := pkg
		// a leading '-' signals a diff_packages removal; the remainder
		// must still be a safe token.
		if len(name) > 0 && name[0] == '-' {
			name = name[1:]
		}
		if !safeTokenPattern.MatchString(name) {
			return &ValidationError{Field: "packages", Reason: fmt.Sprintf("invalid package name %q", pkg)}
		}
	}
	for name, version := range req.PackagesVersions {
		if !safeTokenPattern.MatchString(name) {
			return &ValidationError{Field: "packages_versions", Reason: fmt.Sprintf("invalid package name %q", name)}
		}
		if !safeTokenPattern.MatchString(version) {
			return &ValidationError{Field: "packages_versions", Reason: fmt.Sprintf("invalid version %q for %q", version, name)}
		}
	}
	if len(req.RepositoryKeys) != len(req.Repositories) {
		return &ValidationError{Field: "repository_keys", Reason: "length must match repositories"}
	}
	if req.RootFSSizeMB < 0 {
		return &ValidationError{Field: "rootfs_size_mb", Reason: "must not be negative"}
	}
	if limits.MaxCustomRootFSMB > 0 && req.RootFSSizeMB > limits.MaxCustomRootFSMB {
		return &ValidationError{Field: "rootfs_size_mb", Reason: fmt.Sprintf("exceeds maximum of %d", limits.MaxCustomRootFSMB)}
	}
	if req.Defaults != "" {
		if !limits.AllowDefaults {
			return &ValidationError{Field: "defaults", Reason: "first-boot scripts are not permitted by this server"}
		}
		if limits.MaxDefaultsLength > 0 && len(req.Defaults) > limits.MaxDefaultsLength {
			return &ValidationError{Field: "defaults", Reason: fmt.Sprintf("exceeds maximum length of %d bytes", limits.MaxDefaultsLength)}
		}
	}
	return nil
}
