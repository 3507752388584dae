package container

import "testing"

func TestImageTag(t *testing.T) {
	got := ImageTag("ghcr.io/openwrt/imagebuilder", "23.05.0", "ath79", "generic")
	want := "ghcr.io/openwrt/imagebuilder:23.05.0-ath79-generic"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestValidateDigestRejectsMalformed(t *testing.T) {
	if _, err := ValidateDigest("not-a-digest"); err == nil {
		t.Fatalf("expected error for malformed digest")
	}
}

func TestValidateDigestAcceptsWellFormed(t *testing.T) {
	d := "sha256:e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if _, err := ValidateDigest(d); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
