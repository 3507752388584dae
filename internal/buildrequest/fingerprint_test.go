package buildrequest

import "testing"

func baseRequest() *Request {
	return &Request{
		Distribution: "openwrt",
		Version:      "23.05.0",
		Target:       "ath79",
		Subtarget:    "generic",
		Profile:      "tplink_archer-c7-v5",
		Packages:     []string{"luci", "curl"},
	}
}

func TestFingerprintRoundTrip(t *testing.T) {
	r1 := baseRequest()
	r1.Packages = []string{"curl", "luci"} // different order, same set

	r2 := baseRequest()
	r2.Packages = []string{"luci", "curl", "luci"} // duplicate

	limits := Limits{AllowDefaults: true}
	if err := Canonicalize(r1, limits); err != nil {
		t.Fatalf("canonicalize r1: %v", err)
	}
	if err := Canonicalize(r2, limits); err != nil {
		t.Fatalf("canonicalize r2: %v", err)
	}

	if r1.RequestHash != r2.RequestHash {
		t.Fatalf("expected equal fingerprints, got %s vs %s", r1.RequestHash, r2.RequestHash)
	}
}

func TestFingerprintIdempotent(t *testing.T) {
	r := baseRequest()
	limits := Limits{AllowDefaults: true}
	if err := Canonicalize(r, limits); err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	want := r.RequestHash
	if got := Fingerprint(r); got != want {
		t.Fatalf("fingerprint not idempotent: %s != %s", got, want)
	}
}

func TestFingerprintDistinguishesSubtarget(t *testing.T) {
	r1 := baseRequest()
	r2 := baseRequest()
	r2.Subtarget = "nand"

	limits := Limits{AllowDefaults: true}
	_ = Canonicalize(r1, limits)
	_ = Canonicalize(r2, limits)

	if r1.RequestHash == r2.RequestHash {
		t.Fatalf("requests with different subtargets must not collide")
	}
}

func TestValidateRejectsBadVersion(t *testing.T) {
	r := baseRequest()
	r.Version = "not-a-version"
	if err := Validate(r, Limits{}); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestValidateRejectsDefaultsWhenDisallowed(t *testing.T) {
	r := baseRequest()
	r.Defaults = "#!/bin/sh\necho hi\n"
	if err := Validate(r, Limits{AllowDefaults: false}); err == nil {
		t.Fatalf("expected validation error for disallowed defaults")
	}
}

func TestValidateRejectsMismatchedRepositoryKeys(t *testing.T) {
	r := baseRequest()
	r.Repositories = []string{"https://example.com/repo"}
	if err := Validate(r, Limits{}); err == nil {
		t.Fatalf("expected validation error for mismatched repository_keys")
	}
}
